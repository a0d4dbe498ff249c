// Package mailbox reads employee replies from an external mailbox.
package mailbox

import (
	"context"
	"strings"
	"time"
)

// RawMessage is a message as fetched from the source, before normalization.
type RawMessage struct {
	// Ref addresses the message at the source for MarkConsumed.
	Ref       string
	MessageID string
	From      string
	Subject   string
	Body      string
	Date      time.Time
}

// Filter narrows a fetch. Zero fields match everything.
type Filter struct {
	Since   time.Time
	Subject string
}

// Source is an external mailbox. Delivery is at-least-once: a message stays
// unseen until MarkConsumed succeeds. MarkConsumed takes a whole batch so a
// poll cycle settles its messages in one round trip.
type Source interface {
	Name() string
	FetchUnseen(ctx context.Context, filter Filter) ([]RawMessage, error)
	MarkConsumed(ctx context.Context, refs ...string) error
}

// Reply is a normalized employee reply. MessageID is the dedup key.
type Reply struct {
	MessageID      string    `json:"message_id"`
	FromContact    string    `json:"from_contact"`
	FromName       string    `json:"from_name"`
	Subject        string    `json:"subject"`
	Content        string    `json:"content"`
	ReceivedAt     time.Time `json:"received_at"`
	ReferencedDate string    `json:"referenced_date"`
}

// SplitAddress splits `Name <addr>` into its display name and lower-cased
// address. A bare address yields its local part as the name.
func SplitAddress(from string) (name, addr string) {
	from = strings.TrimSpace(from)
	if open := strings.LastIndex(from, "<"); open >= 0 {
		end := strings.Index(from[open:], ">")
		if end > 0 {
			addr = from[open+1 : open+end]
		} else {
			addr = from[open+1:]
		}
		name = strings.Trim(strings.TrimSpace(from[:open]), `"'`)
	} else {
		addr = from
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	if name == "" {
		name, _, _ = strings.Cut(addr, "@")
	}
	return name, addr
}
