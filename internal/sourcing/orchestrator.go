package sourcing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/monitor"
	"github.com/zeli-parts/partsbot/internal/pricing"
	"github.com/zeli-parts/partsbot/internal/reply"
	"github.com/zeli-parts/partsbot/internal/store"
)

// Default queue limits.
const (
	DefaultItemWorkers = 4
	DefaultItemTimeout = 35 * time.Second
)

// PartSourcer finds offers for one item.
type PartSourcer interface {
	SourceParts(ctx context.Context, customer string, item models.RequestItem) []models.SupplierResult
}

// Approvals receives sourced options for the owner to price.
type Approvals interface {
	Submit(ctx context.Context, approval models.PendingApproval) error
}

// Reminders arms and disarms the customer follow-up.
type Reminders interface {
	ScheduleReminder(ctx context.Context, customer string) error
	CancelReminder(ctx context.Context, customer string)
}

// Conversations resets a customer whose queue produced nothing.
type Conversations interface {
	Release(ctx context.Context, customer string)
}

// Alerts are the owner notifications raised while sourcing.
type Alerts interface {
	SourcingTimeout(ctx context.Context, item models.RequestItem, customer string)
	PartNotFound(ctx context.Context, customer string, item models.RequestItem)
	AuditFailed(ctx context.Context, err error, summary string)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithItemWorkers bounds how many items of one queue are sourced at once.
func WithItemWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.itemWorkers = n
		}
	}
}

// WithItemTimeout bounds sourcing of a single item.
func WithItemTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.itemTimeout = d
		}
	}
}

// WithMarkup sets the markup applied to supplier costs.
func WithMarkup(m float64) Option {
	return func(o *Orchestrator) { o.markup = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sourcer       PartSourcer
	Out           messaging.Messenger
	Render        *reply.Renderer
	Audit         store.AuditLog
	Reminders     Reminders
	Approvals     Approvals
	Conversations Conversations
	Alerts        Alerts
}

// Orchestrator sources a confirmed queue end to end.
type Orchestrator struct {
	Deps
	itemWorkers int
	itemTimeout time.Duration
	markup      float64
	now         func() time.Time
	wg          sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Deps:        deps,
		itemWorkers: DefaultItemWorkers,
		itemTimeout: DefaultItemTimeout,
		markup:      models.DefaultMarkup,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type itemOutcome struct {
	item    models.RequestItem
	results []models.SupplierResult
}

// Start runs SourceQueue in the background and returns immediately.
func (o *Orchestrator) Start(ctx context.Context, customer, raw string, queue []models.RequestItem) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.SourceQueue(context.WithoutCancel(ctx), customer, raw, queue)
	}()
}

// Wait blocks until every background run finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// SourceQueue sources every item of queue, reports what was not found and
// submits the rest for approval.
func (o *Orchestrator) SourceQueue(ctx context.Context, customer, raw string, queue []models.RequestItem) {
	if len(queue) == 0 {
		return
	}
	start := o.now()
	slog.Info("Orchestrator.SourceQueue: started", "customer", customer, "items", len(queue))

	o.Out.Send(ctx, customer, o.Render.Render(reply.SourcingStarted{Count: len(queue)}), nil)
	if err := o.Reminders.ScheduleReminder(ctx, customer); err != nil {
		slog.Warn("Orchestrator.SourceQueue: reminder not scheduled", "customer", customer, "error", err)
	}

	for _, item := range queue {
		o.audit(ctx, models.AuditEntry{Customer: customer, Raw: raw, Item: item, Status: models.AuditReceived})
	}

	outcomes := o.sourceAll(ctx, customer, queue)

	var found, notFound []itemOutcome
	for _, oc := range outcomes {
		if len(oc.results) > 0 {
			found = append(found, oc)
		} else {
			notFound = append(notFound, oc)
		}
	}

	o.Reminders.CancelReminder(ctx, customer)

	if len(notFound) > 0 {
		o.Out.Send(ctx, customer, o.Render.Render(reply.SourcingOutcome{
			Found:    items(found),
			NotFound: items(notFound),
		}), nil)
		for _, oc := range notFound {
			o.audit(ctx, models.AuditEntry{Customer: customer, Raw: raw, Item: oc.item, Status: models.AuditNotFound})
			o.Alerts.PartNotFound(ctx, customer, oc.item)
		}
	}

	for _, oc := range found {
		approval := models.PendingApproval{
			ID:            uuid.NewString(),
			Customer:      customer,
			Raw:           raw,
			Item:          oc.item,
			Options:       pricing.BuildOptions(oc.results, o.markup),
			Status:        models.ApprovalStatusAwaiting,
			SourcingStart: start,
			CreatedAt:     o.now(),
		}
		if err := o.Approvals.Submit(ctx, approval); err != nil {
			slog.Error("Orchestrator.SourceQueue: approval submit failed", "customer", customer, "part", oc.item.Part, "error", err)
		}
	}

	if len(found) == 0 {
		o.Conversations.Release(ctx, customer)
	}
	slog.Info("Orchestrator.SourceQueue: finished", "customer", customer,
		"found", len(found), "not_found", len(notFound), "elapsed", o.now().Sub(start))
}

// sourceAll keeps queue order in its result.
func (o *Orchestrator) sourceAll(ctx context.Context, customer string, queue []models.RequestItem) []itemOutcome {
	outcomes := make([]itemOutcome, len(queue))
	p := pool.New().WithMaxGoroutines(min(len(queue), o.itemWorkers))
	for i, item := range queue {
		p.Go(func() {
			began := time.Now()
			results, ok := o.sourceOne(ctx, customer, item)
			if !ok {
				o.Alerts.SourcingTimeout(ctx, item, customer)
			}
			monitor.ObserveSourcing(time.Since(began), len(results) > 0)
			outcomes[i] = itemOutcome{item: item, results: results}
		})
	}
	p.Wait()
	return outcomes
}

// sourceOne enforces the per-item deadline; ok is false on timeout.
func (o *Orchestrator) sourceOne(ctx context.Context, customer string, item models.RequestItem) ([]models.SupplierResult, bool) {
	itemCtx, cancel := context.WithTimeout(ctx, o.itemTimeout)
	defer cancel()

	done := make(chan []models.SupplierResult, 1)
	go func() { done <- o.Sourcer.SourceParts(itemCtx, customer, item) }()

	select {
	case results := <-done:
		return results, true
	case <-itemCtx.Done():
		slog.Warn("Orchestrator.sourceOne: item timed out", "customer", customer, "part", item.Part, "timeout", o.itemTimeout)
		return nil, false
	}
}

func (o *Orchestrator) audit(ctx context.Context, entry models.AuditEntry) {
	if o.Audit == nil {
		return
	}
	entry.Timestamp = o.now()
	if err := o.Audit.Append(ctx, entry); err != nil {
		slog.Error("Orchestrator.audit: append failed", "customer", entry.Customer, "status", entry.Status, "error", err)
		o.Alerts.AuditFailed(ctx, err, entry.Item.String())
	}
}

func items(outcomes []itemOutcome) []models.RequestItem {
	out := make([]models.RequestItem, len(outcomes))
	for i, oc := range outcomes {
		out[i] = oc.item
	}
	return out
}
