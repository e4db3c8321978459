package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/cron"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is a RunFunc that records every integration it is called with
type recorder struct {
	mu    sync.Mutex
	calls []int64
	fn    func(id int64) error
}

func (r *recorder) run(_ context.Context, id int64) error {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(id)
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestScheduler(t *testing.T, run RunFunc, clock *testutil.Clock, opts ...Option) *Scheduler {
	t.Helper()
	cfg := config.Default().Scheduler
	cfg.TickInterval = 5 * time.Millisecond
	opts = append([]Option{
		WithConfig(cfg),
		WithClock(clock.Now),
		WithLogger(zaptest.NewLogger(t)),
	}, opts...)
	s := New(run, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Shutdown(ctx))
	})
	return s
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestScheduleIntegrationReplaces(t *testing.T) {
	s := newTestScheduler(t, (&recorder{}).run, testutil.NewClock(time.Now()))

	id := s.ScheduleIntegration(1, "Daily @ 2am")
	assert.Equal(t, "integration_1", id)

	task := s.GetTaskInfo(id)
	require.NotNil(t, task)
	assert.Equal(t, "0 2 * * *", task.CronExpression)
	assert.Equal(t, "Daily @ 2am", task.ScheduleExpression)
	assert.Nil(t, task.LastRun)

	s.ScheduleIntegration(1, "Hourly")
	tasks := s.GetScheduledTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "0 * * * *", tasks["integration_1"].CronExpression)
}

func TestScheduleIntegrationFallsBackToDefault(t *testing.T) {
	s := newTestScheduler(t, (&recorder{}).run, testutil.NewClock(time.Now()))

	s.ScheduleIntegration(2, "Custom: 61 * * * *")
	assert.Equal(t, cron.DefaultExpression, s.GetTaskInfo(TaskID(2)).CronExpression)

	s.ScheduleIntegration(3, "Custom: 5 4 * * 1")
	assert.Equal(t, "5 4 * * 1", s.GetTaskInfo(TaskID(3)).CronExpression)
}

func TestScheduleCronIsStrict(t *testing.T) {
	s := newTestScheduler(t, (&recorder{}).run, testutil.NewClock(time.Now()))

	_, err := s.ScheduleCron(1, "* * *")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCronValidation))
	assert.Empty(t, s.GetScheduledTasks())

	id, err := s.ScheduleCron(1, "*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, "Custom: */5 * * * *", s.GetTaskInfo(id).ScheduleExpression)
}

func TestUnscheduleIntegration(t *testing.T) {
	s := newTestScheduler(t, (&recorder{}).run, testutil.NewClock(time.Now()))
	s.ScheduleIntegration(1, "Hourly")

	assert.True(t, s.UnscheduleIntegration(1))
	assert.False(t, s.UnscheduleIntegration(1))
	assert.Nil(t, s.GetTaskInfo(TaskID(1)))
}

func TestGetTaskInfoNextRun(t *testing.T) {
	clock := testutil.NewClock(mustTime("2024-01-01T01:00:00Z"))
	s := newTestScheduler(t, (&recorder{}).run, clock)
	id := s.ScheduleIntegration(1, "Daily @ 2am")

	task := s.GetTaskInfo(id)
	require.NotNil(t, task.NextRun)
	assert.Equal(t, mustTime("2024-01-01T02:00:00Z"), *task.NextRun)
}

func TestShouldRunNowDebounce(t *testing.T) {
	s := newTestScheduler(t, (&recorder{}).run, testutil.NewClock(time.Now()))
	now := mustTime("2023-01-01T12:30:00Z")
	task := &ScheduledTask{CronExpression: "* * * * *"}

	assert.True(t, s.ShouldRunNow(task, now))

	last := now.Add(-30 * time.Second)
	task.LastRun = &last
	assert.False(t, s.ShouldRunNow(task, now))

	last = now.Add(-60 * time.Second)
	assert.False(t, s.ShouldRunNow(task, now))

	last = now.Add(-61 * time.Second)
	assert.True(t, s.ShouldRunNow(task, now))

	task = &ScheduledTask{CronExpression: "30 12 * * *"}
	assert.False(t, s.ShouldRunNow(task, now.Add(time.Minute)))
}

func TestTickStampsBeforeDispatch(t *testing.T) {
	release := make(chan struct{})
	rec := &recorder{fn: func(int64) error { <-release; return nil }}
	clock := testutil.NewClock(mustTime("2023-01-01T12:30:00Z"))
	s := newTestScheduler(t, rec.run, clock)
	s.ScheduleIntegration(1, "Custom: 30 12 * * *")
	s.ScheduleIntegration(2, "Custom: 31 12 * * *")

	s.tick(clock.Now())
	// still running; a second tick in the same minute must not re-fire
	clock.Advance(10 * time.Second)
	s.tick(clock.Now())
	close(release)

	testutil.AssertEventually(t, func() bool { return rec.count() == 1 }, time.Second, "one dispatch")
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, []int64{1}, rec.calls)

	task := s.GetTaskInfo(TaskID(1))
	require.NotNil(t, task.LastRun)
	assert.Equal(t, mustTime("2023-01-01T12:30:00Z"), *task.LastRun)
	assert.Nil(t, s.GetTaskInfo(TaskID(2)).LastRun)
}

func TestFailingRunDoesNotStopOthers(t *testing.T) {
	rec := &recorder{fn: func(id int64) error {
		switch id {
		case 1:
			return fmt.Errorf("run %d failed", id)
		case 2:
			panic("adapter exploded")
		}
		return nil
	}}
	clock := testutil.NewClock(mustTime("2023-01-01T00:00:00Z"))
	s := newTestScheduler(t, rec.run, clock)
	for id := int64(1); id <= 3; id++ {
		s.ScheduleIntegration(id, "Hourly")
	}

	s.tick(clock.Now())
	require.NoError(t, s.Shutdown(context.Background()))
	assert.ElementsMatch(t, []int64{1, 2, 3}, rec.calls)

	// an hour later every task fires again
	clock.Advance(time.Hour)
	s.tick(clock.Now())
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 6, rec.count())
}

func TestStartLoopDispatches(t *testing.T) {
	var calls atomic.Int32
	clock := testutil.NewClock(mustTime("2023-01-01T00:00:00Z"))
	s := newTestScheduler(t, func(context.Context, int64) error {
		calls.Add(1)
		return nil
	}, clock)
	s.ScheduleIntegration(7, "Every 15 minutes")

	s.Start()
	s.Start()
	assert.True(t, s.Running())

	testutil.AssertEventually(t, func() bool { return calls.Load() == 1 }, time.Second, "loop dispatch")

	// the clock is frozen, so later ticks stay inside the debounce window
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	s.Stop()
	assert.False(t, s.Running())
}

func TestConcurrencyLimitSkipsWithoutStamping(t *testing.T) {
	release := make(chan struct{})
	rec := &recorder{fn: func(int64) error { <-release; return nil }}
	clock := testutil.NewClock(mustTime("2023-01-01T00:00:00Z"))

	cfg := config.Default().Scheduler
	cfg.MaxConcurrentRuns = 1
	s := newTestScheduler(t, rec.run, clock, WithConfig(cfg))
	s.ScheduleIntegration(1, "Hourly")
	s.ScheduleIntegration(2, "Hourly")

	s.tick(clock.Now())
	close(release)
	require.NoError(t, s.Shutdown(context.Background()))

	assert.Equal(t, 1, rec.count())
	stamped := 0
	for _, task := range s.GetScheduledTasks() {
		if task.LastRun != nil {
			stamped++
		}
	}
	assert.Equal(t, 1, stamped)
}

func TestShutdownTimesOut(t *testing.T) {
	clock := testutil.NewClock(mustTime("2023-01-01T00:00:00Z"))
	s := newTestScheduler(t, func(ctx context.Context, _ int64) error {
		<-ctx.Done()
		return ctx.Err()
	}, clock)
	s.ScheduleIntegration(1, "Hourly")
	s.tick(clock.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
}

func TestDeletionNotificationUnschedules(t *testing.T) {
	n := integration.NewNotifier()
	s := newTestScheduler(t, (&recorder{}).run, testutil.NewClock(time.Now()), WithNotifier(n))
	s.ScheduleIntegration(4, "Hourly")

	n.PublishDeleted(4)
	assert.Empty(t, s.GetScheduledTasks())
}
