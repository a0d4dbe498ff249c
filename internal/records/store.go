// Package records persists time records. The core only reads them and
// updates their review status.
package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/timesheet"
)

// Filter narrows List. Zero fields match everything; From and To are inclusive.
type Filter struct {
	EmployeeID string
	Status     timesheet.Status
	From       time.Time
	To         time.Time
}

func (f Filter) match(r timesheet.TimeRecord) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && r.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Date.After(f.To) {
		return false
	}
	return true
}

type Store interface {
	List(ctx context.Context, filter Filter) ([]timesheet.TimeRecord, error)
	// UpdateStatus reports false when no record exists for (employeeID, date).
	UpdateStatus(ctx context.Context, employeeID string, date time.Time, status timesheet.Status) (bool, error)
	// Put inserts or replaces records keyed by (employee id, date).
	Put(ctx context.Context, records ...timesheet.TimeRecord) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(cfg config.RecordsConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "csv":
		return NewCSV(cfg.CSVPath)
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	default:
		return nil, tallyErrors.InvalidInput(fmt.Sprintf("unknown records driver %q", cfg.Driver))
	}
}

func recordKey(employeeID string, date time.Time) string {
	return employeeID + "|" + date.Format(time.DateOnly)
}
