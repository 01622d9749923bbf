// Package followup schedules the two deferred nudges of a sourcing round:
// the customer reminder while suppliers are queried and the owner alert when
// an approval has been waiting too long.
package followup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeli-parts/partsbot/internal/messaging"
	"github.com/zeli-parts/partsbot/internal/models"
	"github.com/zeli-parts/partsbot/internal/reply"
	"github.com/zeli-parts/partsbot/internal/scheduler"
)

// Task kinds registered with the scheduler.
const (
	KindReminder = "followup.reminder"
	KindLongWait = "followup.long_wait"
)

// Default delays.
const (
	DefaultReminderDelay = 5 * time.Minute
	DefaultLongWaitDelay = 10 * time.Minute
)

// ReminderKey is the scheduler key of a customer's reminder.
func ReminderKey(customer string) string { return "followup:" + customer }

// LongWaitKey is the scheduler key of an approval's long-wait alert.
func LongWaitKey(approvalID string) string { return "longwait:" + approvalID }

// WaitAlerter raises the owner alert for a customer kept waiting.
type WaitAlerter interface {
	CustomerWaiting(ctx context.Context, customer string, item models.RequestItem, waited time.Duration)
}

type reminderPayload struct {
	Customer string `json:"customer"`
}

type longWaitPayload struct {
	ApprovalID string             `json:"approval_id"`
	Customer   string             `json:"customer"`
	Item       models.RequestItem `json:"item"`
	Since      time.Time          `json:"since"`
}

// Option configures Timers.
type Option func(*Timers)

// WithReminderDelay sets the delay before the customer reminder.
func WithReminderDelay(d time.Duration) Option {
	return func(t *Timers) { t.reminderDelay = d }
}

// WithLongWaitDelay sets the delay before the owner long-wait alert.
func WithLongWaitDelay(d time.Duration) Option {
	return func(t *Timers) { t.longWaitDelay = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Timers) { t.now = now }
}

// WithApprovalCheck skips long-wait alerts for approvals that are no longer
// pending. Durable backends may fire tasks whose cancellation was lost.
func WithApprovalCheck(pending func(approvalID string) bool) Option {
	return func(t *Timers) { t.approvalPending = pending }
}

// Timers schedules and cancels the follow-up tasks.
type Timers struct {
	sched  scheduler.Scheduler
	out    messaging.Messenger
	render *reply.Renderer
	alerts WaitAlerter

	reminderDelay   time.Duration
	longWaitDelay   time.Duration
	now             func() time.Time
	approvalPending func(string) bool
}

// New creates Timers and registers their handlers with sched. Call before
// sched.Start.
func New(sched scheduler.Scheduler, out messaging.Messenger, render *reply.Renderer, alerts WaitAlerter, opts ...Option) *Timers {
	t := &Timers{
		sched:         sched,
		out:           out,
		render:        render,
		alerts:        alerts,
		reminderDelay: DefaultReminderDelay,
		longWaitDelay: DefaultLongWaitDelay,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	sched.Register(KindReminder, t.fireReminder)
	sched.Register(KindLongWait, t.fireLongWait)
	return t
}

// ScheduleReminder arms the customer's "still searching" reminder.
func (t *Timers) ScheduleReminder(ctx context.Context, customer string) error {
	payload, err := json.Marshal(reminderPayload{Customer: customer})
	if err != nil {
		return fmt.Errorf("encode reminder: %w", err)
	}
	task := scheduler.Task{Kind: KindReminder, Key: ReminderKey(customer), Payload: payload}
	return t.sched.ScheduleAfter(ctx, task, t.reminderDelay)
}

// CancelReminder drops the customer's reminder. Cancelling twice is fine.
func (t *Timers) CancelReminder(ctx context.Context, customer string) {
	if err := t.sched.Cancel(ctx, ReminderKey(customer)); err != nil {
		slog.Warn("Timers.CancelReminder: cancel failed", "customer", customer, "error", err)
	}
}

// ScheduleLongWait arms the owner alert for an approval registered at since.
func (t *Timers) ScheduleLongWait(ctx context.Context, approval models.PendingApproval, since time.Time) error {
	payload, err := json.Marshal(longWaitPayload{
		ApprovalID: approval.ID,
		Customer:   approval.Customer,
		Item:       approval.Item,
		Since:      since,
	})
	if err != nil {
		return fmt.Errorf("encode long wait: %w", err)
	}
	task := scheduler.Task{Kind: KindLongWait, Key: LongWaitKey(approval.ID), Payload: payload}
	return t.sched.ScheduleAfter(ctx, task, t.longWaitDelay)
}

// CancelLongWait drops the approval's long-wait alert.
func (t *Timers) CancelLongWait(ctx context.Context, approvalID string) {
	if err := t.sched.Cancel(ctx, LongWaitKey(approvalID)); err != nil {
		slog.Warn("Timers.CancelLongWait: cancel failed", "approval_id", approvalID, "error", err)
	}
}

func (t *Timers) fireReminder(ctx context.Context, raw []byte) error {
	var p reminderPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode reminder: %w", err)
	}
	slog.Info("Timers.fireReminder: sending follow-up", "customer", p.Customer)
	t.out.Send(ctx, p.Customer, t.render.Render(reply.FollowUp{}), nil)
	return nil
}

func (t *Timers) fireLongWait(ctx context.Context, raw []byte) error {
	var p longWaitPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode long wait: %w", err)
	}
	if t.approvalPending != nil && !t.approvalPending(p.ApprovalID) {
		slog.Debug("Timers.fireLongWait: approval already resolved", "approval_id", p.ApprovalID)
		return nil
	}
	t.alerts.CustomerWaiting(ctx, p.Customer, p.Item, t.now().Sub(p.Since))
	return nil
}
