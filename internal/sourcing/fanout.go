// Package sourcing finds supplier offers for confirmed requests. FanOut
// queries every supplier channel for one item; Orchestrator runs a whole
// request queue and hands the results to the owner for approval.
package sourcing

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"

	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/pricing"
)

// Default fan-out limits.
const (
	DefaultSupplierWorkers = 10
	DefaultSupplierTimeout = 30 * time.Second
)

// Estimator prices a part without a concrete supplier.
type Estimator interface {
	Estimate(ctx context.Context, item models.RequestItem) (*models.SupplierResult, error)
}

// Lookup searches one supplier's inventory.
type Lookup interface {
	Name() string
	Lookup(ctx context.Context, item models.RequestItem) (*models.SupplierResult, error)
}

// Relay asks suppliers who answer asynchronously.
type Relay interface {
	Dispatch(ctx context.Context, customer string, item models.RequestItem) []string
}

// FanOutOption configures a FanOut.
type FanOutOption func(*FanOut)

// WithSupplierWorkers bounds concurrent supplier calls per item.
func WithSupplierWorkers(n int) FanOutOption {
	return func(f *FanOut) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithSupplierTimeout bounds each supplier call.
func WithSupplierTimeout(d time.Duration) FanOutOption {
	return func(f *FanOut) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithRelay adds the asynchronous relay channel.
func WithRelay(r Relay) FanOutOption {
	return func(f *FanOut) { f.relay = r }
}

// FanOut queries the estimator and every inventory lookup concurrently.
type FanOut struct {
	estimator Estimator
	lookups   func() []Lookup
	relay     Relay
	workers   int
	timeout   time.Duration
}

// NewFanOut creates a FanOut. lookups is called per item so directory
// reloads take effect; it may be nil.
func NewFanOut(estimator Estimator, lookups func() []Lookup, opts ...FanOutOption) *FanOut {
	f := &FanOut{
		estimator: estimator,
		lookups:   lookups,
		workers:   DefaultSupplierWorkers,
		timeout:   DefaultSupplierTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type sourceCall struct {
	name string
	fn   func(ctx context.Context, item models.RequestItem) (*models.SupplierResult, error)
}

func (f *FanOut) calls() []sourceCall {
	var calls []sourceCall
	if f.estimator != nil {
		calls = append(calls, sourceCall{name: "estimator", fn: f.estimator.Estimate})
	}
	if f.lookups != nil {
		for _, l := range f.lookups() {
			calls = append(calls, sourceCall{name: l.Name(), fn: l.Lookup})
		}
	}
	return calls
}

// SourceParts returns every offer found for item sorted by cost, unpriced
// last. Failing or slow sources are logged and left out. Relay suppliers
// are queried without waiting; their answers arrive later.
func (f *FanOut) SourceParts(ctx context.Context, customer string, item models.RequestItem) []models.SupplierResult {
	if f.relay != nil {
		f.relay.Dispatch(ctx, customer, item)
	}

	p := pool.NewWithResults[*models.SupplierResult]().WithMaxGoroutines(f.workers)
	for _, call := range f.calls() {
		p.Go(func() *models.SupplierResult {
			callCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			res, err := call.fn(callCtx, item)
			if err != nil {
				slog.Warn("FanOut.SourceParts: source failed", "source", call.name, "part", item.Part, "error", err)
				return nil
			}
			return res
		})
	}

	results := lo.Map(lo.Compact(p.Wait()), func(r *models.SupplierResult, _ int) models.SupplierResult { return *r })
	pricing.SortResults(results)
	slog.Debug("FanOut.SourceParts: done", "part", item.Part, "results", len(results))
	return results
}
