// Package pricing turns raw supplier results into at most three labelled,
// marked-up options for the owner to approve.
package pricing

import (
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/samber/lo"

	"github.com/zeli-parts/partsbot/internal/models"
)

// Option labels, in presentation order.
const (
	LabelCheapest    = "💰 Más económica"
	LabelFastest     = "⚡ Más rápida"
	LabelAlternative = "🔄 Alternativa"
)

// UnknownLeadDays ranks results whose lead time has no number last.
const UnknownLeadDays = 99

var firstNumber = regexp.MustCompile(`\d+`)

// ParseLeadDays returns the first integer in a lead-time text ("2-3 días" -> 2).
func ParseLeadDays(lead string) int {
	m := firstNumber.FindString(lead)
	if m == "" {
		return UnknownLeadDays
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return UnknownLeadDays
	}
	return n
}

// Round2 rounds to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SuggestedPrice applies markup to cost.
func SuggestedPrice(cost, markup float64) float64 {
	return Round2(cost * (1 + markup))
}

// NewOption prices one result.
func NewOption(label string, r models.SupplierResult, markup float64) models.Option {
	cost := r.CostOrZero()
	price := SuggestedPrice(cost, markup)
	return models.Option{
		Label:          label,
		SupplierName:   r.SupplierName,
		Cost:           cost,
		SuggestedPrice: price,
		Margin:         Round2(price - cost),
		LeadTime:       r.LeadTime,
		Source:         r.Source,
		Notes:          r.Notes,
	}
}

// BuildOptions picks the cheapest, the fastest and the next cheapest
// alternative, each from a distinct supplier. The first result of a
// supplier wins when it appears more than once.
func BuildOptions(results []models.SupplierResult, markup float64) []models.Option {
	unique := lo.UniqBy(results, func(r models.SupplierResult) string { return r.SupplierName })
	if len(unique) == 0 {
		return nil
	}

	byCost := append([]models.SupplierResult(nil), unique...)
	sort.SliceStable(byCost, func(i, j int) bool { return byCost[i].SortCost() < byCost[j].SortCost() })
	bySpeed := append([]models.SupplierResult(nil), unique...)
	sort.SliceStable(bySpeed, func(i, j int) bool {
		return ParseLeadDays(bySpeed[i].LeadTime) < ParseLeadDays(bySpeed[j].LeadTime)
	})

	used := make(map[string]bool, models.MaxOptions)
	options := make([]models.Option, 0, models.MaxOptions)
	add := func(label string, r models.SupplierResult) {
		options = append(options, NewOption(label, r, markup))
		used[r.SupplierName] = true
	}

	add(LabelCheapest, byCost[0])
	if fastest := bySpeed[0]; !used[fastest.SupplierName] {
		add(LabelFastest, fastest)
	}
	if alt, ok := lo.Find(byCost, func(r models.SupplierResult) bool { return !used[r.SupplierName] }); ok {
		add(LabelAlternative, alt)
	}
	return options
}

// SortResults orders results by cost, unpriced last.
func SortResults(results []models.SupplierResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].SortCost() < results[j].SortCost() })
}
