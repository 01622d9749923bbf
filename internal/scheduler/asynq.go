package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// DefaultQueue is the asynq queue used for bot timers.
const DefaultQueue = "partsbot"

// AsynqScheduler delegates timers to asynq on Redis. The task key is the
// asynq task ID, so a pending key can be deleted through the inspector.
type AsynqScheduler struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	server    *asynq.Server
	mux       *asynq.ServeMux
	queue     string
}

// NewAsynqScheduler connects a client, inspector and worker server to redisOpt.
func NewAsynqScheduler(redisOpt asynq.RedisClientOpt, concurrency int) *AsynqScheduler {
	if concurrency <= 0 {
		concurrency = 4
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{DefaultQueue: 1},
		Logger:      asynqLogger{},
	})
	return &AsynqScheduler{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		server:    srv,
		mux:       asynq.NewServeMux(),
		queue:     DefaultQueue,
	}
}

func (s *AsynqScheduler) Register(kind string, h Handler) {
	s.mux.HandleFunc(kind, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, t.Payload())
	})
}

func (s *AsynqScheduler) ScheduleAfter(ctx context.Context, task Task, delay time.Duration) error {
	if err := s.Cancel(ctx, task.Key); err != nil {
		// An active task cannot be deleted; the enqueue below then reports the ID conflict.
		slog.Warn("AsynqScheduler.ScheduleAfter: could not drop previous task", "key", task.Key, "error", err)
	}
	info, err := s.client.EnqueueContext(ctx,
		asynq.NewTask(task.Kind, task.Payload),
		asynq.TaskID(task.Key),
		asynq.Queue(s.queue),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return fmt.Errorf("schedule task %s: %w", task.Key, err)
	}
	slog.Debug("AsynqScheduler.ScheduleAfter", "key", task.Key, "kind", task.Kind, "state", info.State.String(), "delay", delay)
	return nil
}

func (s *AsynqScheduler) Cancel(_ context.Context, key string) error {
	err := s.inspector.DeleteTask(s.queue, key)
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return fmt.Errorf("cancel task %s: %w", key, err)
}

func (s *AsynqScheduler) Start(_ context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	slog.Info("AsynqScheduler.Start: worker started", "queue", s.queue)
	return nil
}

func (s *AsynqScheduler) Stop() {
	s.server.Shutdown()
	if err := s.client.Close(); err != nil {
		slog.Warn("AsynqScheduler.Stop: client close failed", "error", err)
	}
	if err := s.inspector.Close(); err != nil {
		slog.Warn("AsynqScheduler.Stop: inspector close failed", "error", err)
	}
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Fatal(args ...interface{}) { slog.Error(fmt.Sprint(args...), "component", "asynq", "fatal", true) }
