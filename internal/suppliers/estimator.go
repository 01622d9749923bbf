package suppliers

import (
	"context"
	"strings"

	"github.com/zeli-parts/partsbot/internal/genai"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/pricing"
)

const (
	// EstimatorSupplierName labels estimator results.
	EstimatorSupplierName = "USA (via Miami forwarder)"
	// EstimatorLeadTime is the forwarder's usual delivery window.
	EstimatorLeadTime = "5-7 días"
	// SourceUSA tags estimator results.
	SourceUSA = "usa_supplier"
	// DefaultShippingCost is added to every estimate.
	DefaultShippingCost = 25.0
)

// PriceEstimator is the language-model call behind the Estimator.
type PriceEstimator interface {
	EstimatePrice(ctx context.Context, item models.RequestItem) (genai.Estimate, error)
}

// Estimator prices a part from typical US-market prices plus forwarding.
type Estimator struct {
	ai       PriceEstimator
	shipping float64
}

// NewEstimator creates an Estimator adding shipping to every price.
func NewEstimator(ai PriceEstimator, shipping float64) *Estimator {
	return &Estimator{ai: ai, shipping: shipping}
}

// Estimate returns nil without error when the model cannot price the part.
func (e *Estimator) Estimate(ctx context.Context, item models.RequestItem) (*models.SupplierResult, error) {
	est, err := e.ai.EstimatePrice(ctx, item)
	if err != nil {
		return nil, err
	}
	if !est.Found || est.PriceUSD == nil {
		return nil, nil
	}
	notes := strings.TrimSpace(strings.Join(nonEmpty(est.Brand, est.PartName, est.Notes), " · "))
	return &models.SupplierResult{
		SupplierName: EstimatorSupplierName,
		Cost:         models.Price(pricing.Round2(*est.PriceUSD + e.shipping)),
		LeadTime:     EstimatorLeadTime,
		Source:       SourceUSA,
		Notes:        notes,
		PartNumber:   est.PartNumber,
	}, nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
