// Package notify pushes case alerts to reviewers over chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/logger"
)

type AlertKind string

const (
	AlertEscalated  AlertKind = "escalated"
	AlertUnresolved AlertKind = "unresolved"
	AlertValidated  AlertKind = "validated"
)

// Alert describes a case that needs a human.
type Alert struct {
	Kind         AlertKind
	CaseKey      string
	EmployeeName string
	Contact      string
	Date         string
	Category     string
	Detail       string
}

// Text renders the alert as a single chat message.
func (a Alert) Text() string {
	var b strings.Builder
	switch a.Kind {
	case AlertEscalated:
		b.WriteString("Escalated to compliance")
	case AlertUnresolved:
		b.WriteString("Unresolved after follow-ups")
	case AlertValidated:
		b.WriteString("Reason validated")
	default:
		b.WriteString(string(a.Kind))
	}
	fmt.Fprintf(&b, ": %s <%s> for %s", a.EmployeeName, a.Contact, a.Date)
	if a.Category != "" {
		fmt.Fprintf(&b, " (category: %s)", a.Category)
	}
	if a.Detail != "" {
		b.WriteString("\n")
		b.WriteString(a.Detail)
	}
	return b.String()
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// Log writes alerts to the structured log. It is always part of the fan-out.
type Log struct{}

func (Log) Name() string { return "log" }

func (Log) Notify(ctx context.Context, alert Alert) error {
	logger.From(ctx).Info("Case alert", "kind", alert.Kind, "case", alert.CaseKey, "employee", alert.EmployeeName, "category", alert.Category)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			logger.From(ctx).Warn("Notifier failed", "notifier", n.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the enabled notifiers. The log notifier is always included.
func FromConfig(cfg config.NotifyConfig) (Multi, error) {
	out := Multi{Log{}}
	if cfg.Slack.Enabled {
		s, err := NewSlack(cfg.Slack.BotToken, cfg.Slack.Channel)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if cfg.Telegram.Enabled {
		t, err := NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
