package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/metrics"
	"github.com/smukkama/welfare-notifier/internal/timer"
)

// ErrUnknownTask is returned for operations on a name that was never registered
var ErrUnknownTask = errors.New("unknown task")

// Action is the work a task performs when it fires
type Action func(ctx context.Context) error

type task struct {
	name    string
	trigger Trigger
	action  Action

	generation int // bumped on stop so stale timer callbacks are ignored
	active     bool
	running    bool
	nextRun    time.Time
	lastRun    time.Time
	skipped    int
	failures   int
}

// TaskStatus is a snapshot of one task
type TaskStatus struct {
	Name     string    `json:"name"`
	Trigger  string    `json:"trigger"`
	Active   bool      `json:"active"`
	Running  bool      `json:"running"`
	NextRun  time.Time `json:"next_run,omitempty"`
	LastRun  time.Time `json:"last_run,omitempty"`
	Skipped  int       `json:"skipped"`
	Failures int       `json:"failures"`
}

// Status is a snapshot of the runner
type Status struct {
	Running bool         `json:"running"`
	Tasks   []TaskStatus `json:"tasks"`
}

// Runner fires named tasks on their triggers. A tick that arrives while the
// previous run of the same task is still in flight is skipped.
type Runner struct {
	mu     sync.Mutex
	tasks  map[string]*task
	timer  *timer.Timer
	now    func() time.Time
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner and starts its timer
func NewRunner(logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		tasks:  make(map[string]*task),
		timer:  timer.New(),
		now:    time.Now,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	r.timer.Start()
	return r
}

// Register adds a task in the stopped state. A task already registered under
// name is stopped and replaced.
func (r *Runner) Register(name string, trigger Trigger, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	generation := 0
	if old, ok := r.tasks[name]; ok {
		r.stopLocked(old)
		generation = old.generation
	}

	r.tasks[name] = &task{
		name:       name,
		trigger:    trigger,
		action:     action,
		generation: generation,
	}
	r.logger.Debug("Task registered", zap.String("task", name), zap.String("trigger", trigger.String()))
}

// Unregister stops and forgets a task
func (r *Runner) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	r.stopLocked(t)
	delete(r.tasks, name)
	return nil
}

// Start activates a registered task
func (r *Runner) Start(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return r.startLocked(t)
}

// Stop deactivates a task. A run already in flight finishes.
func (r *Runner) Stop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	r.stopLocked(t)
	return nil
}

// StopAll deactivates every task
func (r *Runner) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tasks {
		r.stopLocked(t)
	}
	r.logger.Info("All scheduled tasks stopped", zap.Int("tasks", len(r.tasks)))
}

// StartAll activates every registered task
func (r *Runner) StartAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, t := range r.tasks {
		if err := r.startLocked(t); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("All scheduled tasks started", zap.Int("tasks", len(r.tasks)))
	return errors.Join(errs...)
}

// Restart stops and restarts every task, recomputing fire times
func (r *Runner) Restart() error {
	r.StopAll()
	return r.StartAll()
}

// RunNow fires a task immediately, outside its schedule. The non-overlap
// guard still applies. Reports whether the run was started.
func (r *Runner) RunNow(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return r.launchLocked(t), nil
}

// Status returns a snapshot of all tasks sorted by name
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{Tasks: make([]TaskStatus, 0, len(r.tasks))}
	for _, t := range r.tasks {
		if t.active {
			s.Running = true
		}
		s.Tasks = append(s.Tasks, TaskStatus{
			Name:     t.name,
			Trigger:  t.trigger.String(),
			Active:   t.active,
			Running:  t.running,
			NextRun:  t.nextRun,
			LastRun:  t.lastRun,
			Skipped:  t.skipped,
			Failures: t.failures,
		})
	}
	sort.Slice(s.Tasks, func(i, j int) bool { return s.Tasks[i].Name < s.Tasks[j].Name })
	return s
}

// Close stops every task and waits for in-flight runs until ctx is done.
// Running actions see their context cancelled.
func (r *Runner) Close(ctx context.Context) error {
	r.StopAll()
	r.timer.Stop()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) startLocked(t *task) error {
	if t.active {
		return nil
	}
	t.active = true
	if err := r.scheduleLocked(t, r.now()); err != nil {
		t.active = false
		return fmt.Errorf("failed to start task %s: %w", t.name, err)
	}
	r.logger.Info("Task started",
		zap.String("task", t.name),
		zap.String("trigger", t.trigger.String()),
		zap.Time("next_run", t.nextRun),
	)
	return nil
}

func (r *Runner) stopLocked(t *task) {
	if !t.active {
		return
	}
	t.active = false
	t.generation++
	t.nextRun = time.Time{}
	r.timer.Cancel(t.name)
}

func (r *Runner) scheduleLocked(t *task, after time.Time) error {
	next := t.trigger.Next(after)
	if !next.After(after) {
		return fmt.Errorf("trigger %s does not advance", t.trigger)
	}
	t.nextRun = next

	generation := t.generation
	return r.timer.Schedule(t.name, next, func() { r.fire(t, generation) })
}

// fire is the timer callback. The next deadline is booked before the action
// runs so a slow action never shifts the schedule.
func (r *Runner) fire(t *task, generation int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !t.active || t.generation != generation || r.tasks[t.name] != t {
		return
	}

	after := r.now()
	if t.nextRun.After(after) {
		after = t.nextRun
	}
	if err := r.scheduleLocked(t, after); err != nil {
		r.logger.Error("Failed to reschedule task", zap.String("task", t.name), zap.Error(err))
		t.active = false
	}

	r.launchLocked(t)
}

func (r *Runner) launchLocked(t *task) bool {
	if t.running {
		t.skipped++
		metrics.SkippedTicks.WithLabelValues(t.name).Inc()
		r.logger.Warn("Skipping tick, previous run still in flight",
			zap.String("task", t.name),
			zap.Int("skipped", t.skipped),
		)
		return false
	}

	t.running = true
	t.lastRun = r.now()
	r.wg.Add(1)
	go r.run(t)
	return true
}

func (r *Runner) run(t *task) {
	defer r.wg.Done()

	start := r.now()
	err := r.invoke(t)

	r.mu.Lock()
	t.running = false
	if err != nil {
		t.failures++
	}
	r.mu.Unlock()

	if err != nil {
		metrics.TaskFailures.WithLabelValues(t.name).Inc()
		r.logger.Error("Scheduled task failed",
			zap.String("task", t.name),
			zap.Duration("duration", r.now().Sub(start)),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("Scheduled task completed",
		zap.String("task", t.name),
		zap.Duration("duration", r.now().Sub(start)),
	)
}

// invoke converts a panicking action into an error
func (r *Runner) invoke(t *task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.action(r.ctx)
}
