package delivery

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"github.com/harunnryd/tally/internal/timesheet"
)

const (
	NotificationSubject = "Action Required: Timesheet Anomalies Detected"
	followupSubjectFmt  = "Follow-up: Timesheet Issue - %s"
	reportSubjectFmt    = "Timesheet Anomaly Report - %s"
)

var severityColors = map[timesheet.Severity]string{
	timesheet.SeverityHigh:   "#ff0000",
	timesheet.SeverityMedium: "#ff9900",
	timesheet.SeverityLow:    "#ffcc00",
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.Format(time.DateOnly) },
}

var notificationText = template.Must(template.New("notification").Funcs(funcs).Parse(`Dear {{.Name}},

We have detected the following issues with your timesheet submissions:

{{range .Anomalies}}- {{date .Date}}: {{.Description}} (severity: {{.Severity}})
{{end}}
Please review and update your timesheet entries or reply to this email with an explanation for each date.

Best regards,
{{.Signature}}
`))

var notificationHTML = htmltemplate.Must(htmltemplate.New("notification").Funcs(htmltemplate.FuncMap{
	"date":  funcs["date"],
	"color": func(s timesheet.Severity) string { return colorFor(s) },
}).Parse(`<html>
  <body style="font-family: Arial, sans-serif;">
    <h2>Timesheet Anomalies Detected</h2>
    <p>Dear {{.Name}},</p>
    <p>We have detected the following issues with your timesheet submissions:</p>
    <ul>
{{- range .Anomalies}}
      <li><strong>{{date .Date}}</strong>: {{.Description}} <span style="color: {{color .Severity}};">(Severity: {{.Severity}})</span></li>
{{- end}}
    </ul>
    <p>Please review and update your timesheet entries or reply to this email with an explanation for each date.</p>
    <p>Best regards,<br>{{.Signature}}</p>
  </body>
</html>
`))

var followupText = template.Must(template.New("followup").Parse(`Dear {{.Name}},

We received your response regarding the timesheet issue for {{.Date}}, but we need a more specific reason for the missing hours.

Please provide a valid reason such as:
- Sick leave (with details if possible)
- Personal emergency
- Work from home arrangement
- Approved leave
- Other valid business reason

Please reply with a clear explanation so we can process your timesheet correctly.
{{if .Explanation}}
Reviewer note: {{.Explanation}}
{{end}}
Best regards,
{{.Signature}}
`))

var reportText = template.Must(template.New("report").Funcs(funcs).Parse(`Timesheet Anomaly Report
Generated: {{.Generated}}

Summary:
- Total Employees Reviewed: {{len .Summaries}}
- Total Anomalies Found: {{.Total}}

Details by Employee:
{{range .Summaries}}{{if .Anomalies}}
{{.EmployeeName}} ({{.EmployeeContact}}):
  Period: {{date .PeriodStart}} to {{date .PeriodEnd}}
  Total Hours: {{.TotalHours.StringFixed 1}}
  Average Hours/Day: {{.AverageHours.StringFixed 1}}
  Anomalies: {{len .Anomalies}}
{{end}}{{end}}`))

func colorFor(s timesheet.Severity) string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return "#000000"
}

// Notification renders the first-contact email listing every anomaly for one employee.
func Notification(to, name, signature string, anomalies []timesheet.Anomaly) (Message, error) {
	data := struct {
		Name      string
		Signature string
		Anomalies []timesheet.Anomaly
	}{name, signature, anomalies}

	var text, html bytes.Buffer
	if err := notificationText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render notification text: %w", err)
	}
	if err := notificationHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render notification html: %w", err)
	}
	return Message{To: to, ToName: name, Subject: NotificationSubject, Text: text.String(), HTML: html.String()}, nil
}

// Followup renders the request for a more specific reason.
func Followup(to, name, signature, date, explanation string) (Message, error) {
	data := struct {
		Name, Signature, Date, Explanation string
	}{name, signature, date, explanation}

	var text bytes.Buffer
	if err := followupText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render followup: %w", err)
	}
	return Message{To: to, ToName: name, Subject: fmt.Sprintf(followupSubjectFmt, date), Text: text.String()}, nil
}

// Report renders the reviewer summary of a sweep.
func Report(to string, now time.Time, summaries []timesheet.EmployeeSummary) (Message, error) {
	total := 0
	for _, s := range summaries {
		total += len(s.Anomalies)
	}
	data := struct {
		Generated string
		Total     int
		Summaries []timesheet.EmployeeSummary
	}{now.Format("2006-01-02 15:04"), total, summaries}

	var text bytes.Buffer
	if err := reportText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render report: %w", err)
	}
	return Message{To: to, Subject: fmt.Sprintf(reportSubjectFmt, now.Format(time.DateOnly)), Text: text.String()}, nil
}
