package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/tally/internal/api"
	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/daemon"
)

type HTTPServerComponent struct {
	daemon        *daemon.Daemon
	cfg           *config.ServerConfig
	engineComp    *EngineComponent
	pollerComp    *PollerComponent
	schedulerComp *SchedulerComponent
	server        *http.Server
	shutdownTTL   time.Duration
	initialized   bool
	started       bool
	serveErr      error
	addr          string
	mu            sync.RWMutex
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.ServerConfig, engineComp *EngineComponent, pollerComp *PollerComponent, schedulerComp *SchedulerComponent) *HTTPServerComponent {
	return &HTTPServerComponent{
		daemon:        d,
		cfg:           cfg,
		engineComp:    engineComp,
		pollerComp:    pollerComp,
		schedulerComp: schedulerComp,
	}
}

func (h *HTTPServerComponent) Name() string {
	return "http"
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{"engine", "poller", "scheduler"}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	eng := h.engineComp.Engagement()
	if eng == nil {
		return fmt.Errorf("engine not initialized")
	}

	timeouts, err := parseServerTimeouts(h.cfg)
	if err != nil {
		return err
	}

	opts := api.Options{
		Engagement:  eng,
		BaseContext: ctx,
		CORSOrigins: h.cfg.CORSOrigins,
	}
	if h.daemon != nil {
		opts.Health = h.daemon
	}
	if h.pollerComp != nil {
		if p := h.pollerComp.Poller(); p != nil {
			opts.Poller = p
		}
	}
	if h.schedulerComp != nil {
		if s := h.schedulerComp.Scheduler(); s != nil {
			opts.Scheduler = s
		}
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Port),
		Handler:      api.New(opts),
		ReadTimeout:  timeouts.read,
		WriteTimeout: timeouts.write,
		IdleTimeout:  timeouts.idle,
	}
	h.shutdownTTL = timeouts.shutdown

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Port)
	return nil
}

type serverTimeouts struct {
	read, write, idle, shutdown time.Duration
}

func parseServerTimeouts(cfg *config.ServerConfig) (serverTimeouts, error) {
	var t serverTimeouts
	for _, f := range []struct {
		name, value, def string
		target           *time.Duration
	}{
		{"read", cfg.ReadTimeout, config.DefaultServerReadTimeout, &t.read},
		{"write", cfg.WriteTimeout, config.DefaultServerWriteTimeout, &t.write},
		{"idle", cfg.IdleTimeout, config.DefaultServerIdleTimeout, &t.idle},
		{"shutdown", cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout, &t.shutdown},
	} {
		d, err := config.DurationOrDefault(f.value, f.def)
		if err != nil {
			return t, fmt.Errorf("parse server %s timeout: %w", f.name, err)
		}
		*f.target = d
	}
	return t, nil
}

// Start binds the listener synchronously so a taken port fails startup.
func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
			h.mu.Lock()
			h.serveErr = err
			h.mu.Unlock()
		}
	}()

	h.addr = ln.Addr().String()
	h.started = true
	return nil
}

// Addr is the bound listener address once started.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.addr
}

// Stop releases the component lock before shutting down so in-flight
// /health requests can still read component state.
func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	server := h.server
	h.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case !h.initialized:
		return healthOf(h.Name(), errNotInitialized), nil
	case h.serveErr != nil:
		return healthOf(h.Name(), h.serveErr), nil
	case !h.started:
		return healthOf(h.Name(), fmt.Errorf("not started")), nil
	}
	return withDetail(healthOf(h.Name(), nil), "listening on %s", h.addr), nil
}
