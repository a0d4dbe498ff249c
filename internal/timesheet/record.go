// Package timesheet holds the time record model and the anomaly detector.
package timesheet

import (
	"fmt"
	"strings"
	"time"

	tallyErrors "github.com/harunnryd/tally/internal/errors"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	case "":
		return StatusPending, nil
	default:
		return "", tallyErrors.InvalidInput(fmt.Sprintf("unknown record status %q", s))
	}
}

var maxDailyHours = decimal.NewFromInt(24)

// TimeRecord is one employee's logged hours for one calendar day.
type TimeRecord struct {
	EmployeeID      string          `json:"employee_id"`
	EmployeeName    string          `json:"employee_name"`
	EmployeeContact string          `json:"employee_contact"`
	Date            time.Time       `json:"date"`
	HoursWorked     decimal.Decimal `json:"hours_worked"`
	Project         string          `json:"project,omitempty"`
	Status          Status          `json:"status"`
	Notes           string          `json:"notes,omitempty"`
}

// DateKey renders the record date as YYYY-MM-DD.
func (r TimeRecord) DateKey() string {
	return r.Date.Format(time.DateOnly)
}

func (r TimeRecord) Validate() error {
	if strings.TrimSpace(r.EmployeeID) == "" {
		return tallyErrors.InvalidInput("employee id is required")
	}
	if strings.TrimSpace(r.EmployeeContact) == "" {
		return tallyErrors.InvalidInput(fmt.Sprintf("employee %s has no contact", r.EmployeeID))
	}
	if r.Date.IsZero() {
		return tallyErrors.InvalidInput(fmt.Sprintf("employee %s record has no date", r.EmployeeID))
	}
	if r.HoursWorked.IsNegative() || r.HoursWorked.GreaterThan(maxDailyHours) {
		return tallyErrors.InvalidInput(fmt.Sprintf("hours %s out of range [0, 24]", r.HoursWorked))
	}
	return nil
}

// ParseDate accepts YYYY-MM-DD with an optional time suffix.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, time.DateTime, "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, tallyErrors.InvalidInput(fmt.Sprintf("unparseable date %q", s))
}
