package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/model"
)

// Scheduler keeps one cron entry per running task. Each fire is a tick:
// check, append the result to the log, alert on failure.
type Scheduler struct {
	logger *zap.Logger
	deps   Deps
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
	guards  map[string]*guard
	closed  bool

	// inflight counts running evaluations and alert deliveries
	inflight sync.WaitGroup

	checksTotal  atomic.Uint64
	checksFailed atomic.Uint64
	ticksSkipped atomic.Uint64
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// NewScheduler creates a scheduler. Timers do not fire until Start is called.
func NewScheduler(deps Deps, logger *zap.Logger) *Scheduler {
	logger = logger.Named("scheduler")
	cronLogger := &cronLogger{logger: logger.Named("cron")}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		deps:   deps,
		cron: cron.New(
			cron.WithLocation(time.Local),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
		guards:  make(map[string]*guard),
	}
}

// Start starts firing timers
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// StartTask creates the timer for task, replacing an existing one. The first
// check happens one interval from now.
func (s *Scheduler) StartTask(task *model.Task) error {
	if task == nil {
		return ErrNilTask
	}
	if task.ID == "" {
		return ErrMissingTaskID
	}
	if err := task.Validate(); err != nil {
		return err
	}
	every, err := task.Interval.Duration()
	if err != nil {
		return err
	}

	// the job owns its copy so later edits by the caller don't leak in
	snapshot := *task
	snapshot.RunState = model.RunStateRunning

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	if old, ok := s.entries[task.ID]; ok {
		s.cron.Remove(old)
	}
	s.entries[task.ID] = s.cron.Schedule(cron.Every(every), &tickJob{scheduler: s, task: &snapshot})

	s.logger.Info("Started task",
		zap.String("task_id", task.ID),
		zap.String("task", task.String()),
		zap.Stringer("interval", task.Interval))
	return nil
}

// StartTaskByID loads a task and starts it
func (s *Scheduler) StartTaskByID(ctx context.Context, id string) error {
	task, err := s.deps.Tasks.LoadTask(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return s.StartTask(task)
}

// StopTask removes the timer of a task. A check already in flight runs to
// completion. Stopping an unknown or stopped task is a no-op.
func (s *Scheduler) StopTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return
	}
	s.cron.Remove(entry)
	delete(s.entries, id)
	s.logger.Info("Stopped task", zap.String("task_id", id))
}

// IsScheduled reports whether a timer exists for the task
func (s *Scheduler) IsScheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// ActiveTasks returns the number of live timers
func (s *Scheduler) ActiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextRun returns when the task fires next
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(entry).Next, true
}

// Counters returns the check counters
func (s *Scheduler) Counters() Counters {
	return Counters{
		ChecksTotal:  s.checksTotal.Load(),
		ChecksFailed: s.checksFailed.Load(),
		TicksSkipped: s.ticksSkipped.Load(),
	}
}

// RunOnce checks task synchronously, outside its schedule. It waits for an
// in-flight tick of the same task, then records and alerts like a tick.
// ctx bounds only the wait; once started, the check is canceled by Shutdown
// and not by the caller going away.
func (s *Scheduler) RunOnce(ctx context.Context, task *model.Task) (model.CheckResult, error) {
	if task == nil {
		return model.CheckResult{}, ErrNilTask
	}
	if err := task.Validate(); err != nil {
		return model.CheckResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.CheckResult{}, err
	}
	if !s.begin() {
		return model.CheckResult{}, ErrSchedulerClosed
	}
	defer s.inflight.Done()

	g := s.acquireGuard(task.ID)
	defer s.releaseGuard(task.ID, g)
	if err := g.acquire(ctx); err != nil {
		return model.CheckResult{}, fmt.Errorf("waiting for running check of %s: %w", task.ID, err)
	}
	defer g.release()

	checkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.evaluate(checkCtx, task)
}

// Restore starts a timer for every task persisted as running. Tasks that
// fail to start are logged and skipped.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	tasks, err := s.deps.Tasks.ListRunningTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running tasks: %w", err)
	}

	restored := 0
	for _, task := range tasks {
		if err := s.StartTask(task); err != nil {
			s.logger.Error("Failed to restore task",
				zap.String("task_id", task.ID),
				zap.String("task", task.Name),
				zap.Error(err))
			continue
		}
		restored++
	}

	s.logger.Info("Restored running tasks", zap.Int("restored", restored), zap.Int("total", len(tasks)))
	return restored, nil
}

// Shutdown removes every timer and waits for in-flight checks and alert
// deliveries until ctx is done. Work still running after that is canceled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	defer s.cancel()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler shutdown timed out, canceling in-flight checks")
		return ctx.Err()
	}
}

// begin registers an evaluation unless the scheduler is closed
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// acquireGuard returns the task's guard and pins it in the map until the
// matching releaseGuard
func (s *Scheduler) acquireGuard(id string) *guard {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[id]
	if !ok {
		g = newGuard()
		s.guards[id] = g
	}
	g.refs++
	return g
}

func (s *Scheduler) releaseGuard(id string, g *guard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.refs--
	if g.refs == 0 {
		delete(s.guards, id)
	}
}

func (s *Scheduler) tick(task *model.Task) {
	if !s.begin() {
		return
	}
	defer s.inflight.Done()

	g := s.acquireGuard(task.ID)
	defer s.releaseGuard(task.ID, g)
	if !g.tryAcquire() {
		s.ticksSkipped.Add(1)
		s.logger.Warn("Skipping tick, previous check still running",
			zap.String("task_id", task.ID),
			zap.String("task", task.Name))
		return
	}
	defer g.release()

	_, _ = s.evaluate(s.ctx, task)
}

// evaluate must be called with the task's guard held and an inflight slot.
// A check cut short by ctx says nothing about the target, so it is neither
// recorded nor alerted.
func (s *Scheduler) evaluate(ctx context.Context, task *model.Task) (model.CheckResult, error) {
	result := s.deps.Checker.Check(ctx, task)
	if err := ctx.Err(); err != nil {
		s.logger.Warn("Discarding interrupted check",
			zap.String("task_id", task.ID),
			zap.Error(err))
		return result, err
	}

	s.checksTotal.Add(1)
	if result.Failed() {
		s.checksFailed.Add(1)
	}

	if err := s.deps.Log.AppendLog(ctx, result); err != nil {
		s.logger.Error("Failed to append check log",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}

	s.logger.Info("Check completed",
		zap.String("task_id", task.ID),
		zap.String("task", task.String()),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempts", result.Attempts),
		zap.String("error", result.ErrorDetail))

	if result.Failed() && s.deps.Alerts != nil {
		// the caller's inflight slot keeps the counter above zero here
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.deps.Alerts.NotifyFailure(s.ctx, task, result)
		}()
	}
	return result, nil
}

// tickJob implements cron.Job
type tickJob struct {
	scheduler *Scheduler
	task      *model.Task
}

// Run implements cron.Job
func (j *tickJob) Run() {
	j.scheduler.tick(j.task)
}

// guard serializes evaluations of one task. It outlives the task's timer so
// a restarted task still waits for a check started under the old timer, and
// is dropped once no tick or RunOnce references it.
type guard struct {
	sem chan struct{}
	// refs is guarded by Scheduler.mu
	refs int
}

func newGuard() *guard {
	return &guard{sem: make(chan struct{}, 1)}
}

func (g *guard) tryAcquire() bool {
	select {
	case g.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *guard) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *guard) release() {
	<-g.sem
}
