package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
)

const lockFileName = "tally.lock"

// FileLock keeps one writer per workspace: the daemon, or a one-shot
// command such as `detect --notify`. The lock file carries the holder's
// pid and start time so a refused caller can say who holds it.
type FileLock struct {
	flock      *flock.Flock
	path       string
	acquiredAt time.Time
	mu         sync.Mutex
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

// FileLockConfigFrom converts the store section of the config, keeping defaults for blanks.
func FileLockConfigFrom(cfg config.StoreConfig) (*FileLockConfig, error) {
	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse lock timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return nil, fmt.Errorf("parse lock retry: %w", err)
	}
	maxRetry := cfg.LockMaxRetry
	if maxRetry <= 0 {
		maxRetry = config.DefaultStoreLockMaxRetry
	}
	return &FileLockConfig{LockTimeout: lockTimeout, LockRetry: lockRetry, LockMaxRetry: maxRetry}, nil
}

// budget is how long acquisition may wait: the timeout, or fewer retries'
// worth of time when the retry cap is the tighter bound.
func (c *FileLockConfig) budget() time.Duration {
	capped := c.LockRetry * time.Duration(c.LockMaxRetry)
	if capped > 0 && capped < c.LockTimeout {
		return capped
	}
	return c.LockTimeout
}

// AcquireFileLock takes the lock file inside dir. A nil cfg uses the store
// defaults. Contention past the wait budget is reported as ErrConflict.
func AcquireFileLock(ctx context.Context, dir string, cfg *FileLockConfig) (*FileLock, error) {
	if cfg == nil {
		var err error
		if cfg, err = FileLockConfigFrom(config.StoreConfig{}); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	path := filepath.Join(dir, lockFileName)
	fl := &FileLock{flock: flock.New(path), path: path}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.budget())
	defer cancel()

	locked, err := fl.flock.TryLockContext(waitCtx, cfg.LockRetry)
	switch {
	case locked:
	case ctx.Err() != nil:
		return nil, fmt.Errorf("lock acquisition cancelled: %w", ctx.Err())
	case err != nil && !errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("attempt lock %s: %w", path, err)
	default:
		return nil, tallyErrors.Conflict(fmt.Sprintf("workspace is locked by %s", describeHolder(path)))
	}

	fl.acquiredAt = time.Now()
	if err := writeHolder(path, fl.acquiredAt); err != nil {
		slog.Warn("Failed to record lock holder", "path", path, "error", err)
	}
	slog.Info("File lock acquired", "path", path)
	return fl, nil
}

// Unlock releases the lock; a second call is a no-op.
func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.flock == nil {
		return
	}
	if err := os.Truncate(fl.path, 0); err != nil {
		slog.Debug("Failed to clear lock holder", "path", fl.path, "error", err)
	}
	if err := fl.flock.Unlock(); err != nil {
		slog.Error("Failed to release file lock", "path", fl.path, "error", err)
	} else {
		slog.Info("File lock released", "path", fl.path, "held_ms", time.Since(fl.acquiredAt).Milliseconds())
	}
	fl.flock = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.flock != nil
}

func (fl *FileLock) Path() string {
	return fl.path
}

func writeHolder(path string, at time.Time) error {
	record := fmt.Sprintf("%d %s\n", os.Getpid(), at.UTC().Format(time.RFC3339))
	return os.WriteFile(path, []byte(record), 0o644)
}

// describeHolder renders the holder record, or "another process" when it
// is missing or unreadable.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "another process"
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return "another process"
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return "another process"
	}
	return fmt.Sprintf("pid %d since %s", pid, fields[1])
}
