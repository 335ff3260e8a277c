// Package scheduler runs the store's background maintenance (currently the
// lineage audit) on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emergent-company/emergent.graph/pkg/logger"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
)

// taskTimeout bounds a single run of any task.
const taskTimeout = 30 * time.Minute

// TaskFunc is one unit of scheduled work. ctx is cancelled on Stop.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	schedule string
	entry    cron.EntryID
	fn       TaskFunc

	// guarded by Scheduler.mu
	runs, failures int
	lastErr        string
	lastDuration   time.Duration
}

// Scheduler wraps a seconds-precision cron. A task never overlaps itself:
// a tick that arrives while the previous run is active is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger

	mu      sync.RWMutex
	tasks   map[string]*task
	running bool
	// ctx is the parent of every scheduled run; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(log *slog.Logger) *Scheduler {
	log = log.With(logger.Scope("scheduler"))
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:   log,
		tasks: make(map[string]*task),
	}
}

// Start begins firing schedules. Starting twice is a no-op.
func (s *Scheduler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop cancels in-flight runs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with tasks still running")
	}
	return nil
}

// AddCronTask schedules task with a six-field expression
// ("second minute hour day-of-month month day-of-week") or a descriptor
// such as "@every 1h". Adding an existing name replaces it, but only once the
// new schedule parses.
func (s *Scheduler) AddCronTask(name, schedule string, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &task{name: name, schedule: schedule, fn: fn}
	id, err := s.cron.AddFunc(schedule, func() { _ = s.run(s.runContext(), t) })
	if err != nil {
		return fmt.Errorf("schedule %q for task %s: %w", schedule, name, err)
	}
	t.entry = id

	if old, ok := s.tasks[name]; ok {
		s.cron.Remove(old.entry)
	}
	s.tasks[name] = t
	s.log.Info("scheduled task", slog.String("name", name), slog.String("schedule", schedule))
	return nil
}

// AddIntervalTask schedules task every interval, counted from Start.
func (s *Scheduler) AddIntervalTask(name string, interval time.Duration, fn TaskFunc) error {
	return s.AddCronTask(name, "@every "+interval.String(), fn)
}

// RemoveTask unschedules a task. Unknown names are ignored.
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		s.cron.Remove(t.entry)
		delete(s.tasks, name)
		s.log.Info("removed task", slog.String("name", name))
	}
}

// RunNow runs a scheduled task immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	return s.run(ctx, t)
}

func (s *Scheduler) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) run(parent context.Context, t *task) error {
	ctx, cancel := context.WithTimeout(parent, taskTimeout)
	defer cancel()

	start := time.Now()
	err := t.fn(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	t.runs++
	t.lastDuration = elapsed
	t.lastErr = ""
	if err != nil {
		t.failures++
		t.lastErr = err.Error()
	}
	s.mu.Unlock()

	metrics.TaskDuration.WithLabelValues(t.name).Observe(elapsed.Seconds())
	if err != nil {
		metrics.TaskRuns.WithLabelValues(t.name, "error").Inc()
		s.log.Error("scheduled task failed",
			slog.String("name", t.name),
			slog.Duration("duration", elapsed),
			logger.Error(err))
		return err
	}
	metrics.TaskRuns.WithLabelValues(t.name, "ok").Inc()
	s.log.Debug("scheduled task completed",
		slog.String("name", t.name),
		slog.Duration("duration", elapsed))
	return nil
}

// ListTasks returns the sorted task names.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskInfo describes a scheduled task and its run history.
type TaskInfo struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	NextRun      time.Time     `json:"next_run"`
	PrevRun      time.Time     `json:"prev_run,omitempty"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	LastError    string        `json:"last_error,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns"`
}

// GetTaskInfo returns every task sorted by name.
func (s *Scheduler) GetTaskInfo() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		entry := s.cron.Entry(t.entry)
		info = append(info, TaskInfo{
			Name:         t.name,
			Schedule:     t.schedule,
			NextRun:      entry.Next,
			PrevRun:      entry.Prev,
			Runs:         t.runs,
			Failures:     t.failures,
			LastError:    t.lastErr,
			LastDuration: t.lastDuration,
		})
	}
	sort.Slice(info, func(i, j int) bool { return info[i].Name < info[j].Name })
	return info
}

// IsRunning reports whether schedules are firing.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// cronLogger routes robfig/cron's logging into slog. Skipped overlapping
// ticks surface as warnings, the rest stays at debug.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		l.log.Warn("task still running, tick skipped", keysAndValues...)
		return
	}
	l.log.Debug("cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron "+msg, append(keysAndValues, logger.Error(err))...)
}
