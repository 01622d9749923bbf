package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type timerEntry struct {
	timer *time.Timer
	kind  string
}

// MemoryScheduler implements Scheduler with time.AfterFunc timers. Pending
// tasks are lost on restart.
type MemoryScheduler struct {
	timers   map[string]*timerEntry
	handlers map[string]Handler
	mu       sync.RWMutex
	baseCtx  context.Context
}

// NewMemoryScheduler creates a new MemoryScheduler.
func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{
		timers:   make(map[string]*timerEntry),
		handlers: make(map[string]Handler),
		baseCtx:  context.Background(),
	}
}

func (s *MemoryScheduler) Register(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
	slog.Debug("MemoryScheduler.Register", "kind", kind)
}

// ScheduleAfter schedules task to fire after delay.
func (s *MemoryScheduler) ScheduleAfter(_ context.Context, task Task, delay time.Duration) error {
	entry := &timerEntry{kind: task.Kind}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, exists := s.timers[task.Key]; exists {
		prev.timer.Stop()
		slog.Debug("MemoryScheduler.ScheduleAfter: replacing pending timer", "key", task.Key)
	}

	payload := append([]byte(nil), task.Payload...)
	entry.timer = time.AfterFunc(delay, func() { s.fire(task.Key, entry, payload) })
	s.timers[task.Key] = entry

	slog.Debug("MemoryScheduler.ScheduleAfter", "key", task.Key, "kind", task.Kind, "delay", delay)
	return nil
}

func (s *MemoryScheduler) fire(key string, entry *timerEntry, payload []byte) {
	s.mu.Lock()
	current, exists := s.timers[key]
	if !exists || current != entry {
		// Replaced or cancelled after the timer already started firing.
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	handler, ok := s.handlers[entry.kind]
	ctx := s.baseCtx
	s.mu.Unlock()

	if !ok {
		slog.Warn("MemoryScheduler.fire: no handler for task kind", "kind", entry.kind, "key", key)
		return
	}

	slog.Debug("MemoryScheduler.fire: executing task", "key", key, "kind", entry.kind)
	if err := handler(ctx, payload); err != nil {
		slog.Error("MemoryScheduler.fire: task failed", "key", key, "kind", entry.kind, "error", err)
	}
}

// Cancel cancels a scheduled task by key.
func (s *MemoryScheduler) Cancel(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.timers[key]; exists {
		entry.timer.Stop()
		delete(s.timers, key)
		slog.Debug("MemoryScheduler.Cancel succeeded", "key", key)
		return nil
	}

	slog.Debug("MemoryScheduler.Cancel: timer not found", "key", key)
	return nil
}

func (s *MemoryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	return nil
}

// Stop cancels all scheduled timers.
func (s *MemoryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.timers {
		entry.timer.Stop()
	}
	slog.Info("MemoryScheduler stopped all timers", "count", len(s.timers))
	s.timers = make(map[string]*timerEntry)
}

func (s *MemoryScheduler) pending(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.timers[key]
	return ok
}
