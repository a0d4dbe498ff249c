package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/store"
)

type Daemon struct {
	cfg           *config.Config
	workspacePath string
	components    []Component
	// order is the resolved start order; initialized is its prefix whose Init succeeded.
	order       []Component
	initialized int
	health      HealthStatus
	started     time.Time
	mu          sync.RWMutex
	monitorDone chan struct{}
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return &Daemon{
		cfg:         cfg,
		health:      StatusStarting,
		started:     time.Now(),
		monitorDone: make(chan struct{}),
	}, nil
}

func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	slog.Debug("Component registered", "component", comp.Name(), "total_components", len(d.components))
}

// Start runs the daemon until ctx is cancelled or SIGINT/SIGTERM arrives.
// A cancelled run returns nil; a run ended by a deadline returns it.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.prepareWorkspace(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := d.initComponents(ctx); err != nil {
		d.stopInitialized(context.Background())
		return fmt.Errorf("component initialization failed: %w", err)
	}

	if err := d.startComponents(ctx); err != nil {
		timeout, terr := config.DurationOrDefault(d.cfg.Daemon.StartupShutdownTimeout, config.DefaultDaemonStartupShutdownTimeout)
		if terr != nil {
			return fmt.Errorf("parse daemon startup shutdown timeout: %w", terr)
		}
		_ = d.shutdown(timeout)
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.setHealth(StatusRunning)
	slog.Info("Tally daemon is running", "workspace", d.WorkspacePath(), "components", names(d.order))

	go d.monitorHealth(ctx)

	<-ctx.Done()
	slog.Info("Shutting down", "reason", context.Cause(ctx))

	d.setHealth(StatusStopping)
	close(d.monitorDone)

	timeout, err := config.DurationOrDefault(d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse daemon shutdown timeout: %w", err)
	}
	if err := d.shutdown(timeout); err != nil {
		return err
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return nil
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.started)
}

// WorkspacePath is the resolved state directory, set once Start validates config.
func (d *Daemon) WorkspacePath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.workspacePath
}

func (d *Daemon) Component(name string) Component {
	for _, c := range d.snapshot() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = status
}

// prepareWorkspace checks the listen port and creates the state directory
// that holds the lock file, case snapshot and scheduler state.
func (d *Daemon) prepareWorkspace() error {
	if d.cfg.Server.Port < 1 || d.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", d.cfg.Server.Port)
	}

	path, err := store.ResolveWorkspacePath(d.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	d.mu.Lock()
	d.workspacePath = path
	d.mu.Unlock()
	return nil
}

func (d *Daemon) initComponents(ctx context.Context) error {
	order, err := startOrder(d.snapshot())
	if err != nil {
		return err
	}
	d.order = order
	d.initialized = 0

	for _, comp := range order {
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", comp.Name(), "error", err)
			return fmt.Errorf("component %s init failed: %w", comp.Name(), err)
		}
		d.initialized++
		slog.Debug("Component initialized", "component", comp.Name())
	}
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	for _, comp := range d.order {
		if err := comp.Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", comp.Name(), "error", err)
			return fmt.Errorf("component %s startup failed: %w", comp.Name(), err)
		}
		slog.Info("Component started", "component", comp.Name())
	}
	return nil
}

// shutdown stops components in reverse order within timeout. Components
// that miss the deadline are abandoned; their Stop keeps the expired context.
func (d *Daemon) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.stopInitialized(ctx)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		slog.Error("Shutdown timeout exceeded", "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// stopInitialized stops, in reverse order, only the components whose Init
// succeeded. Stop errors are logged and do not halt the sequence.
func (d *Daemon) stopInitialized(ctx context.Context) {
	for i := d.initialized - 1; i >= 0; i-- {
		comp := d.order[i]
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", comp.Name(), "error", err)
			continue
		}
		slog.Debug("Component stopped", "component", comp.Name())
	}
	d.setHealth(StatusStopped)
}
