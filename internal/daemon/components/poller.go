package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/daemon"
	"github.com/harunnryd/tally/internal/mailbox"
	"github.com/harunnryd/tally/internal/poller"
)

// PollerComponent owns the mailbox poller. With the mailbox disabled it
// stays idle and reports healthy.
type PollerComponent struct {
	cfg        *config.Config
	engineComp *EngineComponent
	source     mailbox.Source
	poller     *poller.Poller
	mu         sync.RWMutex
}

func NewPollerComponent(cfg *config.Config, engineComp *EngineComponent) *PollerComponent {
	return &PollerComponent{cfg: cfg, engineComp: engineComp}
}

// WithSource overrides the IMAP source, mainly for tests.
func (p *PollerComponent) WithSource(src mailbox.Source) *PollerComponent {
	p.source = src
	return p
}

func (p *PollerComponent) Name() string {
	return "poller"
}

func (p *PollerComponent) Dependencies() []string {
	return []string{"engine"}
}

func (p *PollerComponent) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cfg.Mailbox.Enabled && p.source == nil {
		slog.Info("Mailbox disabled, poller idle", "component", p.Name())
		return nil
	}

	eng := p.engineComp.Engagement()
	if eng == nil {
		return fmt.Errorf("engine not initialized")
	}

	src := p.source
	if src == nil {
		imap, err := mailbox.NewIMAP(p.cfg.Mailbox)
		if err != nil {
			return fmt.Errorf("configure mailbox: %w", err)
		}
		src = imap
	}

	opts, err := poller.OptionsFrom(p.cfg.Poller, p.cfg.Mailbox)
	if err != nil {
		return err
	}
	p.poller = poller.New(src, eng, opts)
	slog.Info("Poller initialized", "component", p.Name(), "source", src.Name(), "interval", opts.Interval)
	return nil
}

func (p *PollerComponent) Start(ctx context.Context) error {
	pl := p.Poller()
	if pl == nil || !p.cfg.Poller.AutoStart {
		return nil
	}
	pl.Start(ctx)
	return nil
}

func (p *PollerComponent) Stop(ctx context.Context) error {
	pl := p.Poller()
	if pl == nil {
		return nil
	}
	pl.Stop()

	done := make(chan error, 1)
	go func() { done <- pl.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			slog.Warn("Poller exited with error", "component", p.Name(), "error", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop poller: %w", ctx.Err())
	}
}

func (p *PollerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	pl := p.Poller()
	if pl == nil {
		return withDetail(healthOf(p.Name(), nil), "mailbox disabled"), nil
	}
	st := pl.Status()
	if st.Halted {
		return healthOf(p.Name(), fmt.Errorf("poller halted: %s", st.LastError)), nil
	}
	if !st.Running {
		return withDetail(healthOf(p.Name(), nil), "stopped"), nil
	}
	return withDetail(healthOf(p.Name(), nil), "%d cycles, %d replies forwarded", st.Cycles, st.Forwarded), nil
}

// Poller is nil while the mailbox is disabled.
func (p *PollerComponent) Poller() *poller.Poller {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.poller
}
