// Package workflow drives engagement cases end to end: detection sweeps,
// employee notification, reply handling and escalation.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harunnryd/tally/internal/classifier"
	"github.com/harunnryd/tally/internal/delivery"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
	"github.com/harunnryd/tally/internal/mailbox"
	"github.com/harunnryd/tally/internal/notify"
	"github.com/harunnryd/tally/internal/policy"
	"github.com/harunnryd/tally/internal/records"
	"github.com/harunnryd/tally/internal/timesheet"
	"github.com/harunnryd/tally/internal/tracker"
)

type Options struct {
	AutoEscalate bool
	// Signature closes every outbound email.
	Signature string
	// ReportTo receives a summary after each sweep when set.
	ReportTo string
	Now      func() time.Time
}

type Engagement struct {
	records    records.Store
	cases      *tracker.Tracker
	policy     *policy.Store
	classifier classifier.Classifier
	sender     delivery.Sender
	notifier   notify.Notifier
	opts       Options

	// sweepMu keeps sweeps from overlapping, so one report goes out per run.
	sweepMu sync.Mutex
}

func New(
	store records.Store,
	cases *tracker.Tracker,
	pol *policy.Store,
	cls classifier.Classifier,
	sender delivery.Sender,
	notifier notify.Notifier,
	opts Options,
) *Engagement {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Signature == "" {
		opts.Signature = "Payroll Team"
	}
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Engagement{
		records:    store,
		cases:      cases,
		policy:     pol,
		classifier: cls,
		sender:     sender,
		notifier:   notifier,
		opts:       opts,
	}
}

// Tracker exposes the case table for read-side callers.
func (e *Engagement) Tracker() *tracker.Tracker {
	return e.cases
}

func (e *Engagement) Policy() *policy.Store {
	return e.policy
}

// Detect runs the detector over pending records without touching any case.
// A bound that is not set falls back to the policy threshold; zero is a
// valid bound.
func (e *Engagement) Detect(ctx context.Context, minHours, maxHours decimal.NullDecimal) ([]timesheet.Anomaly, error) {
	t := e.policy.Thresholds()
	if minHours.Valid {
		t.MinHours = minHours.Decimal
	}
	if maxHours.Valid {
		t.MaxHours = maxHours.Decimal
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	recs, err := e.records.List(ctx, records.Filter{Status: timesheet.StatusPending})
	if err != nil {
		return nil, tallyErrors.Wrap(err, "list pending records")
	}
	return timesheet.Detect(recs, t.MinHours, t.MaxHours), nil
}

type SweepResult struct {
	RunID         string `json:"run_id"`
	Records       int    `json:"records"`
	Anomalies     int    `json:"anomalies"`
	Employees     int    `json:"employees"`
	CasesOpened   int    `json:"cases_opened"`
	CasesNotified int    `json:"cases_notified"`
	SendFailures  int    `json:"send_failures"`
	ReportSent    bool   `json:"report_sent"`
}

// Sweep detects anomalies in pending records, opens a case per anomaly and
// sends one notification per employee covering their still-flagged cases.
// Cases only advance to notified when the send succeeds.
func (e *Engagement) Sweep(ctx context.Context) (SweepResult, error) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	ctx, runID := logger.WithNewTraceID(ctx)
	log := logger.From(ctx)
	res := SweepResult{RunID: runID}

	recs, err := e.records.List(ctx, records.Filter{Status: timesheet.StatusPending})
	if err != nil {
		return res, tallyErrors.Wrap(err, "list pending records")
	}
	res.Records = len(recs)

	t := e.policy.Thresholds()
	anomalies := timesheet.Detect(recs, t.MinHours, t.MaxHours)
	res.Anomalies = len(anomalies)

	groups := timesheet.GroupByContact(anomalies)
	res.Employees = len(groups)

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		byKey := make(map[tracker.Key]timesheet.Anomaly)
		var keys []tracker.Key
		for _, a := range g.Anomalies {
			c, created, err := e.cases.OpenOrGet(g.Contact, a.DateKey(), g.Name)
			if err != nil {
				log.Warn("Skipping anomaly with unusable key", "contact", g.Contact, "date", a.DateKey(), "error", err)
				continue
			}
			if created {
				res.CasesOpened++
			}
			if _, dup := byKey[c.Key]; !dup {
				byKey[c.Key] = a
				keys = append(keys, c.Key)
			}
		}
		if len(keys) == 0 {
			continue
		}

		var renderErr error
		d, err := e.cases.Deliver(keys, tracker.StateFlagged, func(claimed []tracker.Case) bool {
			flagged := make([]timesheet.Anomaly, 0, len(claimed))
			for _, c := range claimed {
				flagged = append(flagged, byKey[c.Key])
			}
			msg, err := delivery.Notification(g.Contact, g.Name, e.opts.Signature, flagged)
			if err != nil {
				renderErr = err
				return false
			}
			return e.sender.Send(ctx, msg)
		})
		switch {
		case renderErr != nil:
			return res, tallyErrors.Wrap(renderErr, "render notification")
		case err != nil:
			log.Warn("Failed to record notification", "contact", g.Contact, "error", err)
		case len(d.Claimed) > 0 && !d.Sent:
			res.SendFailures++
			log.Warn("Notification not sent, cases stay flagged", "contact", g.Contact, "cases", len(d.Claimed))
		}
		res.CasesNotified += len(d.Notified)
	}

	if e.opts.ReportTo != "" {
		res.ReportSent = e.sendReport(ctx, recs, groups)
	}

	log.Info("Sweep complete",
		"records", res.Records,
		"anomalies", res.Anomalies,
		"opened", res.CasesOpened,
		"notified", res.CasesNotified,
		"send_failures", res.SendFailures,
	)
	return res, nil
}

func (e *Engagement) sendReport(ctx context.Context, recs []timesheet.TimeRecord, groups []timesheet.Group) bool {
	if len(recs) == 0 {
		return false
	}
	from, to := recs[0].Date, recs[0].Date
	for _, r := range recs {
		if r.Date.Before(from) {
			from = r.Date
		}
		if r.Date.After(to) {
			to = r.Date
		}
	}

	t := e.policy.Thresholds()
	seen := make(map[string]bool)
	var summaries []timesheet.EmployeeSummary
	for _, g := range groups {
		for _, a := range g.Anomalies {
			if seen[a.EmployeeID] {
				continue
			}
			seen[a.EmployeeID] = true
			if s, ok := timesheet.Summarize(recs, a.EmployeeID, from, to, t.MinHours, t.MaxHours); ok {
				summaries = append(summaries, s)
			}
		}
	}

	msg, err := delivery.Report(e.opts.ReportTo, e.opts.Now(), summaries)
	if err != nil {
		logger.From(ctx).Warn("Failed to render report", "error", err)
		return false
	}
	return e.sender.Send(ctx, msg)
}

// HandleReply records an employee reply against its case, classifies it and
// carries out the follow-up action for the resulting state.
func (e *Engagement) HandleReply(ctx context.Context, reply mailbox.Reply) error {
	key, err := e.resolveKey(reply)
	if err != nil {
		return err
	}
	ctx = logger.WithCaseKey(ctx, key.String())
	log := logger.From(ctx)

	if _, err := e.cases.RecordReply(key, reply); err != nil {
		return err
	}

	verdict, err := e.classifier.Classify(ctx, reply.Content, e.policy.Active())
	if err != nil {
		verdict, _ = classifier.Fallback{}.Classify(ctx, reply.Content, nil)
		log.Warn("Classifier failed, using fallback verdict", "error", err)
	}

	c, err := e.cases.ApplyClassification(key, verdict)
	if err != nil {
		return err
	}
	log.Info("Reply classified",
		"message_id", reply.MessageID,
		"valid", verdict.Valid,
		"category", verdict.CategoryID,
		"confidence", verdict.Confidence,
		"source", verdict.Source,
		"state", c.State,
	)

	switch c.State {
	case tracker.StateNeedsFollowup:
		if _, err := e.SendFollowup(ctx, key); err != nil {
			// the case stays in needs_followup for an operator or the next sweep
			log.Warn("Follow-up not sent", "error", err)
		}
	case tracker.StateEscalatedUnresolved:
		e.alert(ctx, notify.AlertUnresolved, c, fmt.Sprintf("No valid reason after %d follow-ups", c.FollowupCount))
	case tracker.StateValidated:
		if e.opts.AutoEscalate {
			if _, err := e.Escalate(ctx, key); err != nil {
				log.Warn("Auto-escalation failed", "error", err)
			}
		}
	}
	return nil
}

// resolveKey maps a reply to its case key. A reply without a recognisable
// date belongs to the contact's only notified case, if there is exactly one.
func (e *Engagement) resolveKey(reply mailbox.Reply) (tracker.Key, error) {
	date := reply.ReferencedDate
	if date == "" {
		date = tracker.UnknownDate
	}
	key, err := tracker.NewKey(reply.FromContact, date)
	if err != nil {
		return tracker.Key{}, err
	}
	if key.Date != tracker.UnknownDate {
		return key, nil
	}

	open := e.cases.FindByContact(key.Contact, tracker.StateNotified)
	switch len(open) {
	case 1:
		return open[0].Key, nil
	case 0:
		return tracker.Key{}, tallyErrors.NotFound(fmt.Sprintf("no notified case for %s", key.Contact))
	default:
		return tracker.Key{}, tallyErrors.InvalidInput(fmt.Sprintf("reply from %s names no date and %d cases are open", key.Contact, len(open)))
	}
}

// SendFollowup emails the employee again for a case in needs_followup and
// records the notification once the message is out.
func (e *Engagement) SendFollowup(ctx context.Context, key tracker.Key) (tracker.Case, error) {
	var renderErr error
	d, err := e.cases.Deliver([]tracker.Key{key}, tracker.StateNeedsFollowup, func(claimed []tracker.Case) bool {
		c := claimed[0]
		explanation := ""
		if c.LastVerdict != nil {
			explanation = c.LastVerdict.Explanation
		}
		msg, err := delivery.Followup(key.Contact, c.EmployeeName, e.opts.Signature, key.Date, explanation)
		if err != nil {
			renderErr = err
			return false
		}
		return e.sender.Send(ctx, msg)
	})
	switch {
	case renderErr != nil:
		return tracker.Case{}, tallyErrors.Wrap(renderErr, "render follow-up")
	case err != nil:
		return tracker.Case{}, err
	case len(d.Claimed) == 0:
		c, err := e.cases.Get(key)
		if err != nil {
			return tracker.Case{}, err
		}
		return tracker.Case{}, &tracker.InvalidTransitionError{Key: key, From: c.State, Event: tracker.EventNotify}
	case !d.Sent:
		return tracker.Case{}, tallyErrors.Transient(fmt.Sprintf("follow-up delivery to %s failed", key.Contact))
	}
	return d.Notified[0], nil
}

// Escalate hands a validated case to compliance and alerts reviewers.
func (e *Engagement) Escalate(ctx context.Context, key tracker.Key) (tracker.Case, error) {
	c, err := e.cases.Escalate(key)
	if err != nil {
		return tracker.Case{}, err
	}
	detail := ""
	if c.RequiresApproval {
		detail = "Category requires manager approval"
	}
	e.alert(ctx, notify.AlertEscalated, c, detail)
	return c, nil
}

func (e *Engagement) alert(ctx context.Context, kind notify.AlertKind, c tracker.Case, detail string) {
	a := notify.Alert{
		Kind:         kind,
		CaseKey:      c.Key.String(),
		EmployeeName: c.EmployeeName,
		Contact:      c.Key.Contact,
		Date:         c.Key.Date,
		Detail:       detail,
	}
	if c.LastVerdict != nil {
		a.Category = c.LastVerdict.CategoryID
	}
	if err := e.notifier.Notify(ctx, a); err != nil {
		logger.From(ctx).Warn("Alert delivery failed", "kind", kind, "error", err)
	}
}
