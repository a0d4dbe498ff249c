// Package daemon runs tally's long-lived parts (records, engine, poller,
// scheduler, http) as components with a shared lifecycle.
package daemon

import (
	"context"
	"time"
)

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is a component's self-report. Detail is a short operator
// hint such as "3 pending records" and is shown even when healthy.
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   error  `json:"-"`
	Detail  string `json:"detail,omitempty"`
}

// Component is one unit of the daemon. Init runs in dependency order and
// must not block; Start may spawn goroutines; Stop runs in reverse order.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}

// Report is the daemon-wide view served on /health.
type Report struct {
	Status     HealthStatus      `json:"status"`
	Uptime     time.Duration     `json:"uptime"`
	Workspace  string            `json:"workspace,omitempty"`
	Components []ComponentHealth `json:"components"`
}

// Degraded reports whether any component is unhealthy.
func (r Report) Degraded() bool {
	for _, c := range r.Components {
		if !c.Healthy {
			return true
		}
	}
	return false
}
