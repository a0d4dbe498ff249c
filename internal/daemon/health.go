package daemon

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/harunnryd/tally/internal/config"
)

// probe asks every component for its health. A probe error or a nil result
// counts as unhealthy.
func probe(ctx context.Context, components []Component) []ComponentHealth {
	out := make([]ComponentHealth, 0, len(components))
	for _, comp := range components {
		h, err := comp.Health(ctx)
		entry := ComponentHealth{Name: comp.Name()}
		if h != nil {
			entry = *h
			entry.Name = comp.Name()
		}
		if err != nil {
			entry.Healthy = false
			entry.Error = err
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Daemon) snapshot() []Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Component(nil), d.components...)
}

// ComponentHealth probes every registered component, keyed by name.
func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	result := make(map[string]*ComponentHealth)
	for _, h := range probe(context.Background(), d.snapshot()) {
		result[h.Name] = &h
	}
	return result
}

// Report probes every component and adds the daemon's own state.
func (d *Daemon) Report(ctx context.Context) Report {
	return Report{
		Status:     d.Health(),
		Uptime:     d.Uptime().Round(time.Second),
		Workspace:  d.WorkspacePath(),
		Components: probe(ctx, d.snapshot()),
	}
}

// monitorHealth logs health transitions until ctx ends or the daemon stops.
// Steady state is logged at debug only.
func (d *Daemon) monitorHealth(ctx context.Context) {
	interval, err := config.DurationOrDefault(d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval)
	if err != nil {
		slog.Error("Failed to parse daemon health check interval", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.monitorDone:
			return
		case <-ticker.C:
			d.logTransitions(ctx, last)
		}
	}
}

func (d *Daemon) logTransitions(ctx context.Context, last map[string]bool) {
	report := d.Report(ctx)
	if ctx.Err() != nil {
		return
	}

	for _, h := range report.Components {
		was, seen := last[h.Name]
		last[h.Name] = h.Healthy
		switch {
		case !h.Healthy && (!seen || was):
			slog.Warn("Component unhealthy", "component", h.Name, "error", h.Error, "detail", h.Detail)
		case h.Healthy && seen && !was:
			slog.Info("Component recovered", "component", h.Name, "detail", h.Detail)
		}
	}
	if !report.Degraded() {
		slog.Debug("All components healthy", "count", len(report.Components))
	}
}
