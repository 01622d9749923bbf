package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeli-parts/partsbot/internal/store"
)

// SQLScheduler persists tasks in the store's job table so reminders survive
// a restart. The task key is the job's dedupe key.
type SQLScheduler struct {
	repo   store.JobRepo
	runner *store.JobRunner

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSQLScheduler creates a scheduler polling repo every pollInterval.
func NewSQLScheduler(repo store.JobRepo, pollInterval time.Duration) *SQLScheduler {
	return &SQLScheduler{
		repo:   repo,
		runner: store.NewJobRunner(repo, pollInterval),
	}
}

func (s *SQLScheduler) Register(kind string, h Handler) {
	s.runner.RegisterHandler(kind, func(ctx context.Context, payload string) error {
		return h(ctx, []byte(payload))
	})
}

func (s *SQLScheduler) ScheduleAfter(_ context.Context, task Task, delay time.Duration) error {
	if _, err := s.repo.CancelJobsByDedupeKey(task.Key); err != nil {
		return fmt.Errorf("replace task %s: %w", task.Key, err)
	}
	id, err := s.repo.EnqueueJob(task.Kind, time.Now().Add(delay), string(task.Payload), task.Key)
	if err != nil {
		return fmt.Errorf("schedule task %s: %w", task.Key, err)
	}
	slog.Debug("SQLScheduler.ScheduleAfter", "key", task.Key, "kind", task.Kind, "jobID", id, "delay", delay)
	return nil
}

func (s *SQLScheduler) Cancel(_ context.Context, key string) error {
	n, err := s.repo.CancelJobsByDedupeKey(key)
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", key, err)
	}
	slog.Debug("SQLScheduler.Cancel", "key", key, "cancelled", n)
	return nil
}

// Start recovers jobs orphaned by a crash and launches the polling loop.
func (s *SQLScheduler) Start(ctx context.Context) error {
	if err := s.runner.RecoverStaleJobs(); err != nil {
		slog.Error("SQLScheduler.Start: stale job recovery failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.runner.Run(runCtx)
	}()
	return nil
}

func (s *SQLScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Poll runs one dispatch cycle synchronously.
func (s *SQLScheduler) Poll(ctx context.Context) int {
	return s.runner.PollOnce(ctx, time.Now())
}
