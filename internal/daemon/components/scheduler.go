package components

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/daemon"
	"github.com/harunnryd/tally/internal/logger"
	"github.com/harunnryd/tally/internal/scheduler"
)

const SweepTaskID = "detection-sweep"

type SchedulerComponent struct {
	cfg           *config.Config
	engineComp    *EngineComponent
	workspaceComp *WorkspaceComponent
	sched         *scheduler.Scheduler
	mu            sync.RWMutex
}

func NewSchedulerComponent(cfg *config.Config, engineComp *EngineComponent, workspaceComp *WorkspaceComponent) *SchedulerComponent {
	return &SchedulerComponent{
		cfg:           cfg,
		engineComp:    engineComp,
		workspaceComp: workspaceComp,
	}
}

func (s *SchedulerComponent) Name() string {
	return "scheduler"
}

func (s *SchedulerComponent) Dependencies() []string {
	return []string{"workspace", "engine"}
}

func (s *SchedulerComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Scheduler.Enabled {
		slog.Info("Scheduler disabled", "component", s.Name())
		return nil
	}

	eng := s.engineComp.Engagement()
	if eng == nil {
		return fmt.Errorf("engine not initialized")
	}

	statePath := strings.TrimSpace(s.cfg.Scheduler.StatePath)
	if statePath == "" {
		statePath = filepath.Join(s.workspaceComp.Path(), "scheduler.json")
	}
	st, err := scheduler.NewStore(statePath)
	if err != nil {
		return fmt.Errorf("failed to create scheduler store: %w", err)
	}
	sched, err := scheduler.NewScheduler(st, s.cfg.Scheduler)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	sweep := scheduler.JobFunc(func(ctx context.Context) error {
		res, err := eng.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.From(ctx).Info("Scheduled sweep finished",
			"anomalies", res.Anomalies,
			"notified", res.CasesNotified,
			"send_failures", res.SendFailures,
		)
		return nil
	})
	if err := sched.Register(SweepTaskID, s.cfg.Scheduler.SweepSchedule, "Detect timesheet anomalies and notify employees", sweep); err != nil {
		return err
	}

	s.sched = sched
	slog.Info("Scheduler initialized", "component", s.Name(), "schedule", s.cfg.Scheduler.SweepSchedule)
	return nil
}

func (s *SchedulerComponent) Start(ctx context.Context) error {
	sched := s.Scheduler()
	if sched == nil {
		return nil
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

func (s *SchedulerComponent) Stop(ctx context.Context) error {
	sched := s.Scheduler()
	if sched == nil {
		return nil
	}
	if err := sched.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

func (s *SchedulerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	sched := s.Scheduler()
	if sched == nil {
		return withDetail(healthOf(s.Name(), nil), "disabled"), nil
	}
	if err := sched.Health(ctx); err != nil {
		return healthOf(s.Name(), err), nil
	}
	tasks, err := sched.Tasks()
	if err != nil {
		return healthOf(s.Name(), err), nil
	}
	return withDetail(healthOf(s.Name(), nil), "%d tasks", len(tasks)), nil
}

// Scheduler is nil while scheduling is disabled.
func (s *SchedulerComponent) Scheduler() *scheduler.Scheduler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sched
}
