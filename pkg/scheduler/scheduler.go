// Package scheduler triggers integration runs on cron schedules.
//
// A single background loop polls every task once per tick. A task is due
// when its cron expression matches the current minute and it has not been
// dispatched within the debounce window. Due runs are dispatched
// concurrently so a slow integration never delays the others.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/cron"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/metrics"
)

// RunFunc runs one integration
type RunFunc func(ctx context.Context, integrationID int64) error

// ScheduledTask is one entry of the schedule table
type ScheduledTask struct {
	TaskID             string     `json:"task_id"`
	IntegrationID      int64      `json:"integration_id"`
	ScheduleExpression string     `json:"schedule_expression"`
	CronExpression     string     `json:"cron_expression"`
	LastRun            *time.Time `json:"last_run,omitempty"`
	NextRun            *time.Time `json:"next_run,omitempty"`

	expr *cron.Expression
}

// TaskID derives the task id of an integration
func TaskID(integrationID int64) string {
	return fmt.Sprintf("integration_%d", integrationID)
}

// Scheduler owns the schedule table and the polling loop
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*ScheduledTask
	running bool

	run      RunFunc
	cfg      config.SchedulerConfig
	now      func() time.Time
	logger   *zap.Logger
	slots    chan struct{}
	notifier *integration.Notifier

	stopLoop    context.CancelFunc
	loopDone    chan struct{}
	runCtx      context.Context
	cancelRuns  context.CancelFunc
	inflight    sync.WaitGroup
	unsubscribe func()
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithConfig sets the tick interval, debounce window and concurrency limit
func WithConfig(cfg config.SchedulerConfig) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithNotifier unschedules integrations when n reports them deleted
func WithNotifier(n *integration.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// New creates a stopped scheduler that dispatches runs to run
func New(run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:  make(map[string]*ScheduledTask),
		run:    run,
		cfg:    config.Default().Scheduler,
		now:    time.Now,
		logger: logger.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxConcurrentRuns > 0 {
		s.slots = make(chan struct{}, s.cfg.MaxConcurrentRuns)
	}
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
	if s.notifier != nil {
		s.unsubscribe = s.notifier.Subscribe(func(id int64) {
			if s.UnscheduleIntegration(id) {
				s.logger.Info("unscheduled deleted integration", zap.Int64("integration_id", id))
			}
		})
	}
	return s
}

// Start launches the polling loop. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.stopLoop = cancel
	s.loopDone = make(chan struct{})
	go s.loop(ctx, s.loopDone)

	s.logger.Info("scheduler started",
		zap.Duration("tick", s.cfg.TickInterval),
		zap.Int("tasks", len(s.tasks)))
}

// Stop clears the running flag; the loop exits after its current
// iteration. In-flight runs are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.stopLoop()
	s.logger.Info("scheduler stopped")
}

// Shutdown stops the loop and waits for it and every in-flight run to
// finish. When ctx expires first, in-flight runs are cancelled and ctx's
// error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	loopDone := s.loopDone
	s.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		if loopDone != nil {
			<-loopDone
		}
		return nil
	})
	g.Go(func() error {
		s.inflight.Wait()
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.cancelRuns()
		<-done
		err = ctx.Err()
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	return err
}

// Running reports whether the loop is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ScheduleIntegration converts schedule to a cron expression and installs
// a task for the integration, replacing any existing one. Unrecognized or
// invalid schedules fall back to the daily default.
func (s *Scheduler) ScheduleIntegration(integrationID int64, schedule string) string {
	expr := cron.MustParse(cron.FromSchedule(schedule))
	return s.install(integrationID, schedule, expr)
}

// ScheduleCron installs a task for a raw cron expression, rejecting
// invalid expressions.
func (s *Scheduler) ScheduleCron(integrationID int64, expression string) (string, error) {
	expr, err := cron.Parse(expression)
	if err != nil {
		return "", err
	}
	return s.install(integrationID, cron.CustomPrefix+" "+expr.String(), expr), nil
}

func (s *Scheduler) install(integrationID int64, schedule string, expr *cron.Expression) string {
	task := &ScheduledTask{
		TaskID:             TaskID(integrationID),
		IntegrationID:      integrationID,
		ScheduleExpression: schedule,
		CronExpression:     expr.String(),
		expr:               expr,
	}

	s.mu.Lock()
	_, replaced := s.tasks[task.TaskID]
	s.tasks[task.TaskID] = task
	count := len(s.tasks)
	s.mu.Unlock()

	metrics.ScheduledTasks.Set(float64(count))
	s.logger.Info("integration scheduled",
		zap.Int64("integration_id", integrationID),
		zap.String("schedule", schedule),
		zap.String("cron", task.CronExpression),
		zap.Bool("replaced", replaced))
	return task.TaskID
}

// UnscheduleIntegration removes the integration's task and reports whether
// it existed
func (s *Scheduler) UnscheduleIntegration(integrationID int64) bool {
	id := TaskID(integrationID)

	s.mu.Lock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	count := len(s.tasks)
	s.mu.Unlock()

	metrics.ScheduledTasks.Set(float64(count))
	return ok
}

// GetScheduledTasks returns a copy of the schedule table
func (s *Scheduler) GetScheduledTasks() map[string]ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ScheduledTask, len(s.tasks))
	for id, task := range s.tasks {
		out[id] = task.snapshot()
	}
	return out
}

// GetTaskInfo returns a copy of one task with its next run time, or nil
func (s *Scheduler) GetTaskInfo(taskID string) *ScheduledTask {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	var info ScheduledTask
	if ok {
		info = task.snapshot()
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if next := task.expr.Next(s.now()); !next.IsZero() {
		info.NextRun = &next
	}
	return &info
}

// ShouldRunNow reports whether task is due at now: its cron expression
// matches and it was not dispatched within the debounce window.
func (s *Scheduler) ShouldRunNow(task *ScheduledTask, now time.Time) bool {
	if task.expr == nil {
		expr, err := cron.Parse(task.CronExpression)
		if err != nil {
			return false
		}
		task.expr = expr
	}
	if !task.expr.Matches(now) {
		return false
	}
	return task.LastRun == nil || now.Sub(*task.LastRun) > s.cfg.Debounce
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Running() {
				return
			}
			s.tick(s.now())
		}
	}
}

// tick stamps and dispatches every due task
func (s *Scheduler) tick(now time.Time) {
	var due []int64

	s.mu.Lock()
	for _, task := range s.tasks {
		if !s.ShouldRunNow(task, now) {
			continue
		}
		if !s.acquire() {
			metrics.SchedulerDispatches.WithLabelValues("skipped").Inc()
			s.logger.Warn("concurrency limit reached, skipping run",
				zap.Int64("integration_id", task.IntegrationID),
				zap.Int("limit", s.cfg.MaxConcurrentRuns))
			continue
		}
		stamp := now
		task.LastRun = &stamp
		due = append(due, task.IntegrationID)
	}
	s.mu.Unlock()

	for _, id := range due {
		s.dispatch(id)
	}
}

func (s *Scheduler) acquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) release() {
	if s.slots != nil {
		<-s.slots
	}
}

func (s *Scheduler) dispatch(integrationID int64) {
	metrics.SchedulerDispatches.WithLabelValues("dispatched").Inc()
	s.inflight.Add(1)

	go func() {
		defer s.inflight.Done()
		defer s.release()

		ctx := logger.WithIntegration(s.runCtx, integrationID)
		log := logger.WithContext(ctx, s.logger)

		defer func() {
			if p := recover(); p != nil {
				metrics.SchedulerDispatches.WithLabelValues("failed").Inc()
				log.Error("scheduled run panicked", zap.Any("panic", p))
			}
		}()

		log.Debug("dispatching scheduled run")
		if err := s.run(ctx, integrationID); err != nil {
			metrics.SchedulerDispatches.WithLabelValues("failed").Inc()
			log.Error("scheduled run failed",
				zap.Error(err),
				zap.String("error_type", string(errors.TypeOf(err))))
		}
	}()
}

func (t *ScheduledTask) snapshot() ScheduledTask {
	c := *t
	if t.LastRun != nil {
		last := *t.LastRun
		c.LastRun = &last
	}
	return c
}
