package timesheet

import (
	"time"

	"github.com/shopspring/decimal"
)

// EmployeeSummary aggregates one employee's records over a period.
type EmployeeSummary struct {
	EmployeeID      string          `json:"employee_id"`
	EmployeeName    string          `json:"employee_name"`
	EmployeeContact string          `json:"employee_contact"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	TotalHours      decimal.Decimal `json:"total_hours"`
	TotalDays       int             `json:"total_days"`
	AverageHours    decimal.Decimal `json:"average_hours_per_day"`
	Anomalies       []Anomaly       `json:"anomalies"`
}

// Summarize builds the summary for employeeID from records dated within
// [from, to]. It returns false when the employee has no records in range.
func Summarize(records []TimeRecord, employeeID string, from, to time.Time, minHours, maxHours decimal.Decimal) (EmployeeSummary, bool) {
	var inRange []TimeRecord
	days := make(map[string]struct{})
	total := decimal.Zero

	for _, r := range records {
		if r.EmployeeID != employeeID || r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		inRange = append(inRange, r)
		days[r.DateKey()] = struct{}{}
		total = total.Add(r.HoursWorked)
	}
	if len(inRange) == 0 {
		return EmployeeSummary{}, false
	}

	avg := decimal.Zero
	if len(days) > 0 {
		avg = total.Div(decimal.NewFromInt(int64(len(days)))).Round(2)
	}

	first := inRange[0]
	return EmployeeSummary{
		EmployeeID:      first.EmployeeID,
		EmployeeName:    first.EmployeeName,
		EmployeeContact: first.EmployeeContact,
		PeriodStart:     from,
		PeriodEnd:       to,
		TotalHours:      total,
		TotalDays:       len(days),
		AverageHours:    avg,
		Anomalies:       Detect(inRange, minHours, maxHours),
	}, true
}
