// Package tracker owns the engagement case table: one case per employee
// contact and referenced date, advanced through a fixed state machine.
package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/tally/internal/classifier"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/mailbox"
)

type State string

const (
	StateFlagged             State = "flagged"
	StateNotified            State = "notified"
	StateReplied             State = "replied"
	StateValidated           State = "validated"
	StateNeedsFollowup       State = "needs_followup"
	StateEscalated           State = "escalated"
	StateEscalatedUnresolved State = "escalated_unresolved"
)

// Terminal reports whether no further event is defined for s.
func (s State) Terminal() bool {
	return s == StateEscalated || s == StateEscalatedUnresolved
}

type Event string

const (
	EventOpen     Event = "open"
	EventNotify   Event = "record_notification"
	EventReply    Event = "record_reply"
	EventClassify Event = "apply_classification"
	EventEscalate Event = "escalate"
)

// UnknownDate keys replies that reference no recognisable date.
const UnknownDate = "unknown"

// Key identifies a case: the employee contact and the referenced date.
type Key struct {
	Contact string `json:"contact"`
	Date    string `json:"date"`
}

// NewKey normalizes contact to lower case and checks date is YYYY-MM-DD or UnknownDate.
func NewKey(contact, date string) (Key, error) {
	contact = strings.ToLower(strings.TrimSpace(contact))
	date = strings.TrimSpace(date)
	if contact == "" {
		return Key{}, tallyErrors.InvalidInput("case contact is required")
	}
	if date != UnknownDate {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return Key{}, tallyErrors.InvalidInput(fmt.Sprintf("case date %q is not YYYY-MM-DD", date))
		}
	}
	return Key{Contact: contact, Date: date}, nil
}

func (k Key) String() string {
	return k.Contact + "/" + k.Date
}

// Transition is one committed state change.
type Transition struct {
	From  State     `json:"from,omitempty"`
	To    State     `json:"to"`
	Event Event     `json:"event"`
	At    time.Time `json:"at"`
}

// Case is the engagement state for one Key.
type Case struct {
	Key                Key                 `json:"key"`
	EmployeeName       string              `json:"employee_name,omitempty"`
	State              State               `json:"state"`
	ReplyCount         int                 `json:"reply_count"`
	FollowupCount      int                 `json:"followup_count"`
	RequiresApproval   bool                `json:"requires_approval"`
	LastNotificationAt *time.Time          `json:"last_notification_at,omitempty"`
	LastReply          *mailbox.Reply      `json:"last_reply,omitempty"`
	LastVerdict        *classifier.Verdict `json:"last_verdict,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	History            []Transition        `json:"history,omitempty"`
}

func (c *Case) clone() Case {
	out := *c
	out.History = append([]Transition(nil), c.History...)
	if c.LastNotificationAt != nil {
		at := *c.LastNotificationAt
		out.LastNotificationAt = &at
	}
	if c.LastReply != nil {
		r := *c.LastReply
		out.LastReply = &r
	}
	if c.LastVerdict != nil {
		v := *c.LastVerdict
		v.SuggestedKeywords = append([]string(nil), c.LastVerdict.SuggestedKeywords...)
		out.LastVerdict = &v
	}
	return out
}

// InvalidTransitionError reports an event that is not defined for the case's state.
type InvalidTransitionError struct {
	Key   Key
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("case %s: %s not allowed from %s", e.Key, e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error {
	return tallyErrors.ErrInvalidTransition
}
