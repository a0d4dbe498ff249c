// Package delivery sends outbound mail to employees and reviewers.
package delivery

import (
	"context"
	"strings"
	"sync"

	"github.com/harunnryd/tally/internal/logger"
)

// Message is one outbound email. HTML is optional.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message. Failure is reported as false; callers treat
// an unsent message as "nothing happened" and never advance state on it.
type Sender interface {
	Send(ctx context.Context, msg Message) bool
}

// Redirect sends every message to a single address. Empty to disables it.
func Redirect(next Sender, to string) Sender {
	to = strings.TrimSpace(to)
	if to == "" {
		return next
	}
	return &redirectSender{next: next, to: to}
}

type redirectSender struct {
	next Sender
	to   string
}

func (r *redirectSender) Send(ctx context.Context, msg Message) bool {
	msg.To = r.to
	return r.next.Send(ctx, msg)
}

// Memory records messages instead of sending them.
type Memory struct {
	mu   sync.Mutex
	sent []Message
	fail bool
}

func NewMemory() *Memory {
	return &Memory{}
}

// FailAll makes subsequent sends report failure.
func (m *Memory) FailAll(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *Memory) Send(ctx context.Context, msg Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail || ctx.Err() != nil {
		return false
	}
	m.sent = append(m.sent, msg)
	return true
}

func (m *Memory) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// Disabled drops every message and reports failure, so nothing advances
// while outbound mail is switched off.
type Disabled struct{}

func (Disabled) Send(ctx context.Context, msg Message) bool {
	logger.From(ctx).Warn("Delivery disabled, message not sent", "to", msg.To, "subject", msg.Subject)
	return false
}
