// Package scheduler runs keyed delayed tasks (follow-up reminders, long-wait
// alerts) and cron jobs (the daily summary).
//
// A task is identified by its key: scheduling a key that is already pending
// replaces the earlier task, and cancelling a key that is unknown, already
// fired or already cancelled is a no-op.
package scheduler

import (
	"context"
	"time"
)

// Task is a unit of deferred work.
type Task struct {
	Kind    string // selects the registered Handler
	Key     string // unique per logical timer, e.g. "followup:50761234567"
	Payload []byte // handler input, usually JSON
}

// Handler executes a task payload when its delay elapses.
type Handler func(ctx context.Context, payload []byte) error

// Scheduler schedules keyed tasks with cancellation.
type Scheduler interface {
	// Register binds a handler to a task kind. Call before Start.
	Register(kind string, h Handler)
	// ScheduleAfter runs task after delay, replacing any pending task with the same key.
	ScheduleAfter(ctx context.Context, task Task, delay time.Duration) error
	// Cancel drops the pending task with key, if any.
	Cancel(ctx context.Context, key string) error
	// Start begins dispatching due tasks.
	Start(ctx context.Context) error
	// Stop halts dispatching. Pending tasks of durable backends survive.
	Stop()
}
