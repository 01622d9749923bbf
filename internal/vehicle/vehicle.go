// Package vehicle infers a vehicle make from its model name using a fixed
// catalog of the models most common in the Panamanian market.
package vehicle

import (
	"strings"

	"github.com/zeli-parts/partsbot/internal/util"
)

// ---- Catalog ----

// models maps a normalized model name to its make.
var models = map[string]string{
	// Toyota
	"hilux":        "Toyota",
	"corolla":      "Toyota",
	"yaris":        "Toyota",
	"rav4":         "Toyota",
	"prado":        "Toyota",
	"land cruiser": "Toyota",
	"fortuner":     "Toyota",
	"tacoma":       "Toyota",
	"camry":        "Toyota",
	"rush":         "Toyota",
	"hiace":        "Toyota",
	"4runner":      "Toyota",
	"avanza":       "Toyota",
	"coaster":      "Toyota",
	// Hyundai
	"accent":    "Hyundai",
	"elantra":   "Hyundai",
	"tucson":    "Hyundai",
	"santa fe":  "Hyundai",
	"h1":        "Hyundai",
	"i10":       "Hyundai",
	"creta":     "Hyundai",
	"grand i10": "Hyundai",
	// Nissan
	"frontier":   "Nissan",
	"navara":     "Nissan",
	"sentra":     "Nissan",
	"versa":      "Nissan",
	"x-trail":    "Nissan",
	"xtrail":     "Nissan",
	"pathfinder": "Nissan",
	"march":      "Nissan",
	"urvan":      "Nissan",
	"kicks":      "Nissan",
	"tiida":      "Nissan",
	// Honda
	"civic":  "Honda",
	"cr-v":   "Honda",
	"crv":    "Honda",
	"fit":    "Honda",
	"accord": "Honda",
	"hr-v":   "Honda",
	"hrv":    "Honda",
	"pilot":  "Honda",
	// Kia
	"rio":      "Kia",
	"picanto":  "Kia",
	"sportage": "Kia",
	"sorento":  "Kia",
	"cerato":   "Kia",
	"k2700":    "Kia",
	// Mitsubishi
	"l200":      "Mitsubishi",
	"montero":   "Mitsubishi",
	"lancer":    "Mitsubishi",
	"outlander": "Mitsubishi",
	"mirage":    "Mitsubishi",
	// Isuzu
	"d-max": "Isuzu",
	"dmax":  "Isuzu",
	// Suzuki
	"swift":        "Suzuki",
	"vitara":       "Suzuki",
	"grand vitara": "Suzuki",
	"jimny":        "Suzuki",
	// Mazda
	"bt-50":  "Mazda",
	"bt50":   "Mazda",
	"mazda3": "Mazda",
	"cx-5":   "Mazda",
	"cx5":    "Mazda",
	// Ford
	"ranger":   "Ford",
	"explorer": "Ford",
	"escape":   "Ford",
	// Chevrolet
	"aveo":     "Chevrolet",
	"spark":    "Chevrolet",
	"colorado": "Chevrolet",
	"tracker":  "Chevrolet",
}

// makes maps normalized spellings and nicknames to the canonical make.
var makes = map[string]string{
	"toyota":     "Toyota",
	"hyundai":    "Hyundai",
	"hiundai":    "Hyundai",
	"nissan":     "Nissan",
	"nisan":      "Nissan",
	"honda":      "Honda",
	"kia":        "Kia",
	"mitsubishi": "Mitsubishi",
	"mitsu":      "Mitsubishi",
	"isuzu":      "Isuzu",
	"suzuki":     "Suzuki",
	"mazda":      "Mazda",
	"ford":       "Ford",
	"chevrolet":  "Chevrolet",
	"chevy":      "Chevrolet",
}

// ---- Public API ----

// MakeForModel returns the make of model, or "" when the model is unknown.
// Model names match case- and accent-insensitively, and a model given with
// a trim suffix ("Hilux SR5") still matches its base name.
func MakeForModel(model string) string {
	key := util.Normalize(model)
	if key == "" {
		return ""
	}
	if mk, ok := models[key]; ok {
		return mk
	}
	// Longest known model that prefixes the input wins.
	best := ""
	for name := range models {
		if strings.HasPrefix(key, name+" ") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ""
	}
	return models[best]
}

// CanonicalMake returns the canonical spelling of a make, or the input
// trimmed when it is not in the catalog.
func CanonicalMake(name string) string {
	if mk, ok := makes[util.Normalize(name)]; ok {
		return mk
	}
	return strings.TrimSpace(name)
}

// Fill returns make unchanged when set, otherwise the make inferred from model.
func Fill(mk, model string) string {
	if strings.TrimSpace(mk) != "" {
		return CanonicalMake(mk)
	}
	return MakeForModel(model)
}
