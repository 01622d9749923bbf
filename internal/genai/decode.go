package genai

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	apperrors "github.com/zeli-parts/partsbot/internal/errors"
)

// stripFences removes a ```json ... ``` wrapper the model sometimes adds.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimPrefix(raw, "json")
	if i := strings.LastIndex(raw, "```"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

// decodeJSON parses a model reply into out. A literal null or empty reply
// yields false with no error.
func decodeJSON(op, raw string, out any) (bool, error) {
	raw = stripFences(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, apperrors.Collab(op, apperrors.KindMalformed, err)
	}
	return true, nil
}

// text accepts a JSON string, number or null. Models return years as
// numbers as often as strings.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
	default:
		*t = text(string(b))
	}
	if strings.EqualFold(string(*t), "null") {
		*t = ""
	}
	return nil
}

// number accepts a JSON number, a numeric string ("$95", "95.50") or null.
type number struct {
	v     float64
	valid bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = number{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			*n = number{}
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*n = number{}
			return nil
		}
		*n = number{v: f, valid: true}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = number{v: f, valid: true}
	return nil
}

func (n number) ptr() *float64 {
	if !n.valid {
		return nil
	}
	v := n.v
	return &v
}
