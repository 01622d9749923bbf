package models

import (
	"strings"
)

// Field names a RequestItem attribute that must be known before sourcing.
type Field string

const (
	FieldPart  Field = "part"
	FieldMake  Field = "make"
	FieldModel Field = "model"
	FieldYear  Field = "year"
)

// RequiredFields lists the fields in prompt priority order.
var RequiredFields = []Field{FieldPart, FieldMake, FieldModel, FieldYear}

// RequestItem is one requested part plus its vehicle descriptor.
// Empty strings mean unknown.
type RequestItem struct {
	Part       string `json:"part,omitempty"`
	Make       string `json:"make,omitempty"`
	Model      string `json:"model,omitempty"`
	Year       string `json:"year,omitempty"`
	PartNumber string `json:"part_number,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Get returns the value of a required field.
func (r RequestItem) Get(f Field) string {
	switch f {
	case FieldPart:
		return r.Part
	case FieldMake:
		return r.Make
	case FieldModel:
		return r.Model
	case FieldYear:
		return r.Year
	}
	return ""
}

// Set assigns a required field. Unknown fields are ignored.
func (r *RequestItem) Set(f Field, v string) {
	v = strings.TrimSpace(v)
	switch f {
	case FieldPart:
		r.Part = v
	case FieldMake:
		r.Make = v
	case FieldModel:
		r.Model = v
	case FieldYear:
		r.Year = v
	}
}

// IsComplete reports whether part, make, model and year are all known.
func (r RequestItem) IsComplete() bool {
	return len(r.Missing()) == 0
}

// IsEmpty reports whether no required field is known.
func (r RequestItem) IsEmpty() bool {
	return len(r.Missing()) == len(RequiredFields)
}

// Missing returns the unknown required fields in priority order.
func (r RequestItem) Missing() []Field {
	var missing []Field
	for _, f := range RequiredFields {
		if strings.TrimSpace(r.Get(f)) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Known returns the known required fields and their values.
func (r RequestItem) Known() map[Field]string {
	known := make(map[Field]string)
	for _, f := range RequiredFields {
		if v := r.Get(f); v != "" {
			known[f] = v
		}
	}
	return known
}

// Merge returns r updated with every non-empty field of update.
// A known field is never cleared by an empty one.
func (r RequestItem) Merge(update RequestItem) RequestItem {
	merged := r
	for _, f := range RequiredFields {
		if v := strings.TrimSpace(update.Get(f)); v != "" {
			merged.Set(f, v)
		}
	}
	if update.PartNumber != "" {
		merged.PartNumber = update.PartNumber
	}
	if update.Notes != "" {
		merged.Notes = update.Notes
	}
	return merged
}

// Vehicle renders make, model and year, skipping unknown parts.
func (r RequestItem) Vehicle() string {
	return strings.Join(nonEmpty(r.Make, r.Model, r.Year), " ")
}

// String renders the item as "part — make model year".
func (r RequestItem) String() string {
	if v := r.Vehicle(); v != "" {
		return r.Part + " — " + v
	}
	return r.Part
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
