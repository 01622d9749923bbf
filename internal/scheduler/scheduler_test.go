package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeli-parts/partsbot/internal/store"
)

func TestMemorySchedulerFires(t *testing.T) {
	s := NewMemoryScheduler()
	fired := make(chan string, 1)
	s.Register("followup", func(ctx context.Context, payload []byte) error {
		fired <- string(payload)
		return nil
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.ScheduleAfter(context.Background(), Task{Kind: "followup", Key: "followup:507", Payload: []byte("507")}, 10*time.Millisecond))
	assert.True(t, s.pending("followup:507"))

	select {
	case got := <-fired:
		assert.Equal(t, "507", got)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return !s.pending("followup:507") }, time.Second, 5*time.Millisecond)
}

func TestMemorySchedulerReplaceKeepsOnlyLatest(t *testing.T) {
	s := NewMemoryScheduler()
	var calls atomic.Int32
	var last atomic.Value
	s.Register("followup", func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		last.Store(string(payload))
		return nil
	})

	ctx := context.Background()
	require.NoError(t, s.ScheduleAfter(ctx, Task{Kind: "followup", Key: "k", Payload: []byte("first")}, 20*time.Millisecond))
	require.NoError(t, s.ScheduleAfter(ctx, Task{Kind: "followup", Key: "k", Payload: []byte("second")}, 20*time.Millisecond))
	assert.True(t, s.pending("k"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "second", last.Load())
}

func TestMemorySchedulerCancelIsIdempotent(t *testing.T) {
	s := NewMemoryScheduler()
	var calls atomic.Int32
	s.Register("longwait", func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, s.ScheduleAfter(ctx, Task{Kind: "longwait", Key: "longwait:a1"}, 20*time.Millisecond))
	require.NoError(t, s.Cancel(ctx, "longwait:a1"))
	require.NoError(t, s.Cancel(ctx, "longwait:a1"))
	require.NoError(t, s.Cancel(ctx, "never-scheduled"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.False(t, s.pending("longwait:a1"))
}

func newTestSQLScheduler(t *testing.T) (*SQLScheduler, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "jobs.db")))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewSQLScheduler(st, 10*time.Millisecond), st
}

func TestSQLSchedulerReplaceAndCancel(t *testing.T) {
	s, _ := newTestSQLScheduler(t)
	var got []string
	s.Register("followup", func(ctx context.Context, payload []byte) error {
		got = append(got, string(payload))
		return nil
	})

	ctx := context.Background()
	require.NoError(t, s.ScheduleAfter(ctx, Task{Kind: "followup", Key: "followup:507", Payload: []byte(`{"v":1}`)}, 0))
	require.NoError(t, s.ScheduleAfter(ctx, Task{Kind: "followup", Key: "followup:507", Payload: []byte(`{"v":2}`)}, 0))
	require.NoError(t, s.ScheduleAfter(ctx, Task{Kind: "followup", Key: "followup:999", Payload: []byte(`{"v":3}`)}, 0))
	require.NoError(t, s.Cancel(ctx, "followup:999"))
	require.NoError(t, s.Cancel(ctx, "followup:999"))

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, s.Poll(ctx))
	assert.Equal(t, []string{`{"v":2}`}, got)
	assert.Equal(t, 0, s.Poll(ctx))
}

func TestSQLSchedulerStartStop(t *testing.T) {
	s, _ := newTestSQLScheduler(t)
	fired := make(chan struct{}, 1)
	s.Register("longwait", func(ctx context.Context, payload []byte) error {
		fired <- struct{}{}
		return nil
	})

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.ScheduleAfter(ctx, Task{Kind: "longwait", Key: "longwait:a1"}, 0))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job runner did not execute the task")
	}
	s.Stop()
	s.Stop()
}

func TestAsynqSchedulerScheduleAndCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	s := NewAsynqScheduler(opt, 1)
	defer s.Stop()

	ctx := context.Background()
	// Cancelling before anything was queued is a no-op.
	require.NoError(t, s.Cancel(ctx, "followup:507"))

	require.NoError(t, s.ScheduleAfter(ctx, Task{Kind: "followup", Key: "followup:507", Payload: []byte("507")}, time.Hour))

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()
	info, err := inspector.GetTaskInfo(DefaultQueue, "followup:507")
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)
	assert.Equal(t, []byte("507"), info.Payload)

	// Rescheduling the same key replaces the task instead of conflicting.
	require.NoError(t, s.ScheduleAfter(ctx, Task{Kind: "followup", Key: "followup:507", Payload: []byte("again")}, time.Hour))

	require.NoError(t, s.Cancel(ctx, "followup:507"))
	require.NoError(t, s.Cancel(ctx, "followup:507"))
	_, err = inspector.GetTaskInfo(DefaultQueue, "followup:507")
	assert.ErrorIs(t, err, asynq.ErrTaskNotFound)
}

func TestCronAddJob(t *testing.T) {
	c := NewCron(time.FixedZone("EST", -5*60*60))
	defer c.Stop()

	assert.NoError(t, c.AddJob("daily_summary", "0 8 * * *", func() {}))
	assert.Error(t, c.AddJob("bad", "not a cron", func() {}))
}
