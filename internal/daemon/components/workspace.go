package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/daemon"
	"github.com/harunnryd/tally/internal/store"
)

// WorkspaceComponent holds the workspace file lock so only one daemon
// works a given state directory at a time.
type WorkspaceComponent struct {
	cfg  *config.Config
	path string
	lock *store.FileLock
	mu   sync.RWMutex
}

func NewWorkspaceComponent(cfg *config.Config) *WorkspaceComponent {
	return &WorkspaceComponent{cfg: cfg}
}

func (w *WorkspaceComponent) Name() string {
	return "workspace"
}

func (w *WorkspaceComponent) Dependencies() []string {
	return nil
}

func (w *WorkspaceComponent) Init(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := store.ResolveWorkspacePath(w.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	lockCfg, err := store.FileLockConfigFrom(w.cfg.Store)
	if err != nil {
		return err
	}
	lock, err := store.AcquireFileLock(ctx, path, lockCfg)
	if err != nil {
		return fmt.Errorf("lock workspace %s: %w", path, err)
	}

	w.path = path
	w.lock = lock
	slog.Info("Workspace locked", "component", w.Name(), "path", path)
	return nil
}

func (w *WorkspaceComponent) Start(ctx context.Context) error {
	return nil
}

func (w *WorkspaceComponent) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.lock != nil {
		w.lock.Unlock()
		w.lock = nil
	}
	return nil
}

func (w *WorkspaceComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.lock == nil || !w.lock.IsLocked() {
		return healthOf(w.Name(), fmt.Errorf("workspace lock not held")), nil
	}
	return withDetail(healthOf(w.Name(), nil), "%s", w.path), nil
}

// Path is the resolved workspace directory.
func (w *WorkspaceComponent) Path() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.path
}
