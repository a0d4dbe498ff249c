package components

import (
	"fmt"

	"github.com/harunnryd/tally/internal/daemon"
)

var errNotInitialized = fmt.Errorf("not initialized")

func healthOf(name string, err error) *daemon.ComponentHealth {
	return &daemon.ComponentHealth{
		Name:    name,
		Healthy: err == nil,
		Error:   err,
	}
}

func withDetail(h *daemon.ComponentHealth, format string, args ...any) *daemon.ComponentHealth {
	h.Detail = fmt.Sprintf(format, args...)
	return h
}
