package mailbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
)

// Memory is an in-process Source. Messages stay listed until consumed.
type Memory struct {
	mu       sync.Mutex
	messages []RawMessage
	consumed map[string]bool
	fetchErr []error
	fetches  int
	consumes int
}

func NewMemory(messages ...RawMessage) *Memory {
	m := &Memory{consumed: make(map[string]bool)}
	m.Deliver(messages...)
	return m
}

func (m *Memory) Name() string {
	return "memory"
}

// Deliver appends messages to the mailbox.
func (m *Memory) Deliver(messages ...RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		if msg.Ref == "" {
			msg.Ref = fmt.Sprintf("%d", len(m.messages)+1)
		}
		m.messages = append(m.messages, msg)
	}
}

// FailNext queues errors returned by the following fetches, one per call.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = append(m.fetchErr, errs...)
}

func (m *Memory) FetchUnseen(ctx context.Context, filter Filter) ([]RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	if len(m.fetchErr) > 0 {
		err := m.fetchErr[0]
		m.fetchErr = m.fetchErr[1:]
		return nil, err
	}

	var out []RawMessage
	for _, msg := range m.messages {
		if m.consumed[msg.Ref] {
			continue
		}
		if !filter.Since.IsZero() && !msg.Date.IsZero() && msg.Date.Before(filter.Since) {
			continue
		}
		if filter.Subject != "" && !strings.Contains(strings.ToLower(msg.Subject), strings.ToLower(filter.Subject)) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// MarkConsumed marks every known ref; unknown refs are reported together.
func (m *Memory) MarkConsumed(ctx context.Context, refs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumes++

	known := make(map[string]bool, len(m.messages))
	for _, msg := range m.messages {
		known[msg.Ref] = true
	}
	var missing []string
	for _, ref := range refs {
		if !known[ref] {
			missing = append(missing, ref)
			continue
		}
		m.consumed[ref] = true
	}
	if len(missing) > 0 {
		return tallyErrors.NotFound(fmt.Sprintf("messages %s", strings.Join(missing, ", ")))
	}
	return nil
}

// ConsumeCalls counts MarkConsumed calls.
func (m *Memory) ConsumeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumes
}

// Consumed reports whether ref was marked consumed.
func (m *Memory) Consumed(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumed[ref]
}

// Fetches counts FetchUnseen calls.
func (m *Memory) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}
