package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
)

// Job is the unit of work a scheduled task runs.
type Job interface {
	Run(ctx context.Context) error
}

type JobFunc func(ctx context.Context) error

func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Scheduler fires registered jobs on their cron schedules. Runs are leased
// in the store, so a task never runs twice at once even across RunNow and
// the tick loop.
type Scheduler struct {
	store *Store

	mu      sync.RWMutex
	jobs    map[string]Job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	closed  bool
	loop    chan struct{}
	runs    sync.WaitGroup

	tickInterval    time.Duration
	shutdownTimeout time.Duration
	leaseDuration   time.Duration
	now             func() time.Time
}

func NewScheduler(store *Store, cfg config.SchedulerConfig) (*Scheduler, error) {
	s := &Scheduler{store: store, jobs: make(map[string]Job), now: time.Now}

	durations := []struct {
		name   string
		value  string
		def    string
		target *time.Duration
	}{
		{"tick interval", cfg.TickInterval, config.DefaultSchedulerTickInterval, &s.tickInterval},
		{"shutdown timeout", cfg.ShutdownTimeout, config.DefaultSchedulerShutdownTimeout, &s.shutdownTimeout},
		{"lease duration", cfg.LeaseDuration, config.DefaultSchedulerLeaseDuration, &s.leaseDuration},
	}
	for _, d := range durations {
		v, err := config.DurationOrDefault(d.value, d.def)
		if err != nil {
			return nil, fmt.Errorf("parse scheduler %s: %w", d.name, err)
		}
		*d.target = v
	}
	return s, nil
}

// Register binds a job to a task id and persists its schedule.
func (s *Scheduler) Register(id, schedule, description string, job Job) error {
	if job == nil {
		return tallyErrors.InvalidInput("scheduler job is nil")
	}
	if _, err := s.store.EnsureTask(id, schedule, description); err != nil {
		return fmt.Errorf("register task %s: %w", id, err)
	}

	s.mu.Lock()
	s.jobs[id] = job
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Init(ctx context.Context) error {
	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	slog.Info("Scheduler initialized")
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if s.ctx == nil {
		s.mu.Unlock()
		return tallyErrors.Internal("scheduler not initialized")
	}
	s.running = true
	loop := make(chan struct{})
	s.loop = loop
	runCtx := s.ctx
	s.mu.Unlock()

	s.recoverExpiredLeases()
	if missed := s.missedTasks(); len(missed) > 0 {
		slog.Warn("Missed scheduled runs, catching up on next tick", "tasks", missed)
	}

	go s.run(runCtx, loop)

	slog.Info("Scheduler started", "tick", s.tickInterval)
	return nil
}

// Stop ends the tick loop, refuses new runs and waits for in-flight ones
// up to the shutdown timeout.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.closed = true
	loop := s.loop
	s.mu.Unlock()

	s.cancel()

	drained := make(chan struct{})
	go func() {
		<-loop
		s.runs.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, abandoning in-flight runs")
		return tallyErrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Health(ctx context.Context) error {
	s.mu.RLock()
	initialized, running := s.ctx != nil, s.running
	s.mu.RUnlock()

	switch {
	case !initialized:
		return tallyErrors.Internal("scheduler not initialized")
	case !running:
		return tallyErrors.Internal("scheduler not running")
	}
	if _, err := s.store.LoadTasks(); err != nil {
		return fmt.Errorf("load tasks: %w", tallyErrors.ErrTransient)
	}
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Tasks lists persisted tasks with their next run and last outcome.
func (s *Scheduler) Tasks() ([]Task, error) {
	return s.store.LoadTasks()
}

// RunNow executes a registered task immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.ID == taskID {
			return s.executeTask(ctx, task, s.now())
		}
	}
	return tallyErrors.NotFound(fmt.Sprintf("task %s", taskID))
}

func (s *Scheduler) run(ctx context.Context, done chan<- struct{}) {
	ticker := time.NewTicker(s.tickInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case <-ticker.C:
			s.onTick(ctx)
		case <-ctx.Done():
			slog.Info("Scheduler run loop stopped")
			return
		}
	}
}

func (s *Scheduler) onTick(ctx context.Context) {
	for _, due := range s.dueTasks() {
		if err := s.executeTask(ctx, due.task, due.at); err != nil {
			slog.Error("Scheduled task failed", "task", due.task.ID, "error", err)
		}
	}
}

type dueTask struct {
	task Task
	at   time.Time
}

// dueTasks lists tasks with a registered job whose slot has come.
func (s *Scheduler) dueTasks() []dueTask {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		slog.Error("Failed to load cron tasks", "error", err)
		return nil
	}

	var due []dueTask
	for _, task := range tasks {
		if s.job(task.ID) == nil {
			continue
		}
		fire, at, err := s.store.ShouldFire(task.ID)
		if err != nil {
			slog.Error("Failed to check if task should fire", "task", task.ID, "error", err)
			continue
		}
		if fire {
			due = append(due, dueTask{task: task, at: at})
		}
	}
	return due
}

func (s *Scheduler) job(id string) Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// begin counts a run in flight. It fails once Stop has begun so Stop's
// wait never races a new run.
func (s *Scheduler) begin(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, tallyErrors.Internal("scheduler stopped")
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, tallyErrors.NotFound(fmt.Sprintf("no job registered for task %s", id))
	}
	s.runs.Add(1)
	return job, nil
}

func (s *Scheduler) executeTask(ctx context.Context, task Task, fireTime time.Time) error {
	job, err := s.begin(task.ID)
	if err != nil {
		return err
	}
	defer s.runs.Done()

	runID := generateRunID()
	if err := s.store.AcquireLease(task.ID, runID, s.now().Add(s.leaseDuration)); err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}

	runCtx := logger.WithTraceID(ctx, runID)
	log := logger.From(runCtx).With("task", task.ID, "fire_time", fireTime.Format(time.RFC3339))
	log.Info("Running scheduled task")

	started := s.now()
	runErr := job.Run(runCtx)
	if runErr != nil {
		log.Error("Scheduled task returned error", "error", runErr)
	} else {
		log.Info("Scheduled task finished", "took", s.now().Sub(started).Round(time.Millisecond))
	}

	if err := s.store.MarkTaskDone(task.ID, runID, runErr); err != nil {
		log.Error("Failed to mark task done", "error", err)
	}
	return runErr
}

func (s *Scheduler) recoverExpiredLeases() {
	released, err := s.store.ReleaseExpiredLeases()
	if err != nil {
		slog.Error("Failed to recover expired leases", "error", err)
		return
	}
	if released > 0 {
		slog.Info("Recovered expired leases", "count", released)
	}
}

// missedTasks lists tasks whose slot passed while the daemon was down.
// They fire once on the next tick, not once per missed slot.
func (s *Scheduler) missedTasks() []string {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		slog.Error("Failed to load tasks for catch-up", "error", err)
		return nil
	}

	now := s.now()
	var missed []string
	for _, task := range tasks {
		if !task.NextRun.IsZero() && task.NextRun.Before(now) {
			missed = append(missed, task.ID)
		}
	}
	sort.Strings(missed)
	return missed
}
