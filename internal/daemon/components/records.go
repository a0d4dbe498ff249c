package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/daemon"
	"github.com/harunnryd/tally/internal/records"
	"github.com/harunnryd/tally/internal/timesheet"
)

type RecordsComponent struct {
	cfg   config.RecordsConfig
	store records.Store
	mu    sync.RWMutex
}

func NewRecordsComponent(cfg config.RecordsConfig) *RecordsComponent {
	return &RecordsComponent{cfg: cfg}
}

func (r *RecordsComponent) Name() string {
	return "records"
}

func (r *RecordsComponent) Dependencies() []string {
	return []string{"workspace"}
}

func (r *RecordsComponent) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := records.Open(r.cfg)
	if err != nil {
		return fmt.Errorf("open records store: %w", err)
	}
	r.store = st
	slog.Info("Records store opened", "component", r.Name(), "driver", r.cfg.Driver)
	return nil
}

func (r *RecordsComponent) Start(ctx context.Context) error {
	return nil
}

func (r *RecordsComponent) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

func (r *RecordsComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	r.mu.RLock()
	st := r.store
	r.mu.RUnlock()

	if st == nil {
		return healthOf(r.Name(), errNotInitialized), nil
	}
	pending, err := st.List(ctx, records.Filter{Status: timesheet.StatusPending})
	if err != nil {
		return healthOf(r.Name(), err), nil
	}
	return withDetail(healthOf(r.Name(), nil), "%d pending records", len(pending)), nil
}

func (r *RecordsComponent) Store() records.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store
}
