package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job runner defaults.
const (
	DefaultJobPollInterval = 2 * time.Second
	staleJobAfter          = 5 * time.Minute
	jobsPerPoll            = 20
	maxJobBackoff          = 30 * time.Minute
)

// JobHandler executes a job's payload JSON.
type JobHandler func(ctx context.Context, payload string) error

// JobRunner claims due jobs from the job table and hands each to the
// handler registered for its kind. The SQL scheduler backend drives it.
type JobRunner struct {
	repo         JobRepo
	pollInterval time.Duration

	mu       sync.RWMutex
	handlers map[string]JobHandler
}

// NewJobRunner creates a JobRunner polling repo every pollInterval.
func NewJobRunner(repo JobRepo, pollInterval time.Duration) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = DefaultJobPollInterval
	}
	return &JobRunner{
		repo:         repo,
		pollInterval: pollInterval,
		handlers:     make(map[string]JobHandler),
	}
}

// RegisterHandler binds handler to kind, replacing any previous one.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	r.handlers[kind] = handler
	r.mu.Unlock()
}

func (r *JobRunner) handler(kind string) (JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// RecoverStaleJobs puts jobs left running by a crashed process back in the
// queue. Call once before Run.
func (r *JobRunner) RecoverStaleJobs() error {
	n, err := r.repo.RequeueStaleRunningJobs(time.Now().Add(-staleJobAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: jobs requeued", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: polling", "interval", r.pollInterval)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.PollOnce(ctx, now)
		}
	}
}

// PollOnce runs the jobs due at now and returns how many succeeded.
func (r *JobRunner) PollOnce(ctx context.Context, now time.Time) int {
	jobs, err := r.repo.ClaimDueJobs(now, jobsPerPoll)
	if err != nil {
		slog.Error("JobRunner.PollOnce: claim failed", "error", err)
		return 0
	}
	ok := 0
	for _, job := range jobs {
		if r.execute(ctx, job, now) {
			ok++
		}
	}
	return ok
}

func (r *JobRunner) execute(ctx context.Context, job Job, now time.Time) bool {
	h, found := r.handler(job.Kind)
	if !found {
		r.fail(job, "no handler for kind "+job.Kind, now.Add(time.Minute))
		return false
	}
	if err := h(ctx, job.PayloadJSON); err != nil {
		slog.Warn("JobRunner.execute: job failed", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", err)
		r.fail(job, err.Error(), now.Add(retryBackoff(job.Attempt)))
		return false
	}
	if err := r.repo.CompleteJob(job.ID); err != nil {
		slog.Error("JobRunner.execute: complete failed", "id", job.ID, "error", err)
		return false
	}
	slog.Debug("JobRunner.execute: job done", "id", job.ID, "kind", job.Kind)
	return true
}

func (r *JobRunner) fail(job Job, reason string, retryAt time.Time) {
	if err := r.repo.FailJob(job.ID, reason, retryAt); err != nil {
		slog.Error("JobRunner.fail: could not record failure", "id", job.ID, "error", err)
	}
}

// retryBackoff doubles from 30s per attempt, capped at maxJobBackoff.
func retryBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		return maxJobBackoff
	}
	d := 30 * time.Second << attempt
	if d > maxJobBackoff {
		return maxJobBackoff
	}
	return d
}
