package formatter

import (
	"fmt"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/harunnryd/tally/internal/policy"
	"github.com/harunnryd/tally/internal/timesheet"
	"github.com/harunnryd/tally/internal/tracker"
)

type TableFormatter struct {
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
	severity     map[timesheet.Severity]lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
		severity: map[timesheet.Severity]lipgloss.Style{
			timesheet.SeverityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("#ff0000")).Bold(true).Padding(0, 1),
			timesheet.SeverityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff9900")).Padding(0, 1),
			timesheet.SeverityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("#ffcc00")).Padding(0, 1),
		},
	}
}

func (f *TableFormatter) rows(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers(headers...)
}

func (f *TableFormatter) FormatCases(cases []tracker.Case) (string, error) {
	if len(cases) == 0 {
		return "No cases found", nil
	}

	t := f.rows("Contact", "Date", "Employee", "State", "Replies", "Follow-ups", "Updated")
	for _, c := range cases {
		t.Row(
			truncateString(c.Key.Contact, 30),
			c.Key.Date,
			truncateString(c.EmployeeName, 20),
			string(c.State),
			fmt.Sprint(c.ReplyCount),
			fmt.Sprint(c.FollowupCount),
			formatTime(c.UpdatedAt),
		)
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatCase(c tracker.Case) (string, error) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.headerStyle
			}
			return f.cellStyle
		})

	t.Row("Contact", c.Key.Contact)
	t.Row("Date", c.Key.Date)
	t.Row("Employee", c.EmployeeName)
	t.Row("State", string(c.State))
	t.Row("Replies", fmt.Sprint(c.ReplyCount))
	t.Row("Follow-ups", fmt.Sprint(c.FollowupCount))
	if c.LastVerdict != nil {
		t.Row("Category", c.LastVerdict.CategoryID)
		t.Row("Verdict", truncateString(c.LastVerdict.Explanation, 60))
	}
	if c.RequiresApproval {
		t.Row("Approval", "required")
	}

	history := make([]string, 0, len(c.History))
	for _, tr := range c.History {
		history = append(history, string(tr.To))
	}
	t.Row("History", strings.Join(history, " > "))

	return t.String(), nil
}

func (f *TableFormatter) FormatAnomalies(anomalies []timesheet.Anomaly) (string, error) {
	if len(anomalies) == 0 {
		return "No anomalies detected", nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return f.headerStyle
			}
			if col == 4 && row >= 0 && row < len(anomalies) {
				if s, ok := f.severity[anomalies[row].Severity]; ok {
					return s
				}
			}
			return f.cellStyle
		}).
		Headers("Employee", "Contact", "Date", "Hours", "Severity", "Description")

	for _, a := range anomalies {
		t.Row(
			truncateString(a.EmployeeName, 20),
			truncateString(a.EmployeeContact, 30),
			a.DateKey(),
			a.ActualHours.String(),
			string(a.Severity),
			truncateString(a.Description, 50),
		)
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatCategories(cats []policy.Category) (string, error) {
	if len(cats) == 0 {
		return "No categories found", nil
	}

	t := f.rows("ID", "Active", "Approval", "Keywords")
	for _, c := range cats {
		t.Row(
			c.ID,
			yesNo(c.Active),
			yesNo(c.RequiresApproval),
			truncateString(strings.Join(c.Keywords, ", "), 40),
		)
	}
	return t.String(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
