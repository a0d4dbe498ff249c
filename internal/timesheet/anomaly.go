package timesheet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindMissingHours   Kind = "missing_hours"
	KindExcessiveHours Kind = "excessive_hours"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var two = decimal.NewFromInt(2)

// Anomaly is a derived finding about one record; it is never persisted.
type Anomaly struct {
	EmployeeID      string          `json:"employee_id"`
	EmployeeName    string          `json:"employee_name"`
	EmployeeContact string          `json:"employee_contact"`
	Date            time.Time       `json:"date"`
	ExpectedHours   decimal.Decimal `json:"expected_hours"`
	ActualHours     decimal.Decimal `json:"actual_hours"`
	Kind            Kind            `json:"kind"`
	Severity        Severity        `json:"severity"`
	Description     string          `json:"description"`
}

func (a Anomaly) DateKey() string {
	return a.Date.Format(time.DateOnly)
}

// Detect returns one anomaly per record whose hours fall strictly outside
// [minHours, maxHours], in input order. Records exactly on a bound are normal.
func Detect(records []TimeRecord, minHours, maxHours decimal.Decimal) []Anomaly {
	var out []Anomaly
	half := minHours.Div(two)

	for _, r := range records {
		switch {
		case r.HoursWorked.LessThan(minHours):
			sev := SeverityMedium
			if r.HoursWorked.LessThan(half) {
				sev = SeverityHigh
			}
			out = append(out, newAnomaly(r, minHours, KindMissingHours, sev,
				fmt.Sprintf("Only %s hours logged, expected at least %s hours", r.HoursWorked, minHours)))
		case r.HoursWorked.GreaterThan(maxHours):
			out = append(out, newAnomaly(r, maxHours, KindExcessiveHours, SeverityMedium,
				fmt.Sprintf("%s hours logged, which exceeds the %s hour maximum", r.HoursWorked, maxHours)))
		}
	}
	return out
}

func newAnomaly(r TimeRecord, expected decimal.Decimal, kind Kind, sev Severity, desc string) Anomaly {
	return Anomaly{
		EmployeeID:      r.EmployeeID,
		EmployeeName:    r.EmployeeName,
		EmployeeContact: r.EmployeeContact,
		Date:            r.Date,
		ExpectedHours:   expected,
		ActualHours:     r.HoursWorked,
		Kind:            kind,
		Severity:        sev,
		Description:     desc,
	}
}

// Group is the anomalies of one employee contact.
type Group struct {
	Contact   string
	Name      string
	Anomalies []Anomaly
}

// GroupByContact buckets anomalies per employee contact, keeping first-seen
// order for both groups and members.
func GroupByContact(anomalies []Anomaly) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, a := range anomalies {
		i, ok := index[a.EmployeeContact]
		if !ok {
			i = len(groups)
			index[a.EmployeeContact] = i
			groups = append(groups, Group{Contact: a.EmployeeContact, Name: a.EmployeeName})
		}
		groups[i].Anomalies = append(groups[i].Anomalies, a)
	}
	return groups
}
