package tracker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/tally/internal/classifier"
	"github.com/harunnryd/tally/internal/concurrency"
	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/mailbox"
	"github.com/harunnryd/tally/internal/store"
)

type Options struct {
	// MaxFollowups is how many follow-up rounds an unresolved case gets
	// before it escalates as unresolved.
	MaxFollowups int
	// SnapshotPath, when set, is rewritten after every committed transition
	// and loaded by New.
	SnapshotPath string
	Now          func() time.Time
}

// Tracker is the sole owner of case state. Mutations of one key are
// serialized; different keys proceed in parallel.
type Tracker struct {
	mu    sync.RWMutex
	cases map[Key]*Case
	locks *concurrency.KeyedMutex

	maxFollowups int
	snapshotPath string
	snapshotMu   sync.Mutex
	now          func() time.Time
}

type snapshot struct {
	Version int    `json:"version"`
	SavedAt string `json:"saved_at"`
	Cases   []Case `json:"cases"`
}

func New(opts Options) (*Tracker, error) {
	if opts.MaxFollowups <= 0 {
		opts.MaxFollowups = config.DefaultPolicyMaxFollowups
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Tracker{
		cases:        make(map[Key]*Case),
		locks:        concurrency.NewKeyedMutex(),
		maxFollowups: opts.MaxFollowups,
		snapshotPath: opts.SnapshotPath,
		now:          opts.Now,
	}

	if t.snapshotPath != "" {
		var snap snapshot
		found, err := store.ReadJSON(t.snapshotPath, &snap)
		if err != nil {
			return nil, fmt.Errorf("load case snapshot: %w", err)
		}
		if found {
			for i := range snap.Cases {
				c := snap.Cases[i]
				t.cases[c.Key] = &c
			}
			slog.Info("Case snapshot loaded", "path", t.snapshotPath, "cases", len(t.cases))
		}
	}

	return t, nil
}

func (t *Tracker) MaxFollowups() int {
	return t.maxFollowups
}

// OpenOrGet returns the case for (contact, date), creating it in flagged when absent.
func (t *Tracker) OpenOrGet(contact, date, employeeName string) (Case, bool, error) {
	key, err := NewKey(contact, date)
	if err != nil {
		return Case{}, false, err
	}

	t.locks.Lock(key.String())
	defer t.locks.Unlock(key.String())

	t.mu.RLock()
	existing, ok := t.cases[key]
	t.mu.RUnlock()
	if ok {
		return existing.clone(), false, nil
	}

	now := t.now()
	c := &Case{
		Key:          key,
		EmployeeName: employeeName,
		State:        StateFlagged,
		CreatedAt:    now,
		UpdatedAt:    now,
		History:      []Transition{{To: StateFlagged, Event: EventOpen, At: now}},
	}

	t.mu.Lock()
	t.cases[key] = c
	out := c.clone()
	t.mu.Unlock()

	t.persist()
	return out, true, nil
}

// RecordNotification marks that the employee was contacted. Leaving
// needs_followup counts one follow-up round.
func (t *Tracker) RecordNotification(key Key) (Case, error) {
	return t.transition(key, EventNotify, notifyTransition)
}

// RecordReply attaches an employee reply to a notified case.
func (t *Tracker) RecordReply(key Key, reply mailbox.Reply) (Case, error) {
	return t.transition(key, EventReply, func(c *Case, now time.Time) (State, error) {
		if c.State != StateNotified {
			return "", nil
		}
		c.LastReply = &reply
		c.ReplyCount++
		return StateReplied, nil
	})
}

// ApplyClassification resolves a replied case. An invalid verdict asks for a
// follow-up until the follow-up budget is spent, then escalates as unresolved.
func (t *Tracker) ApplyClassification(key Key, verdict classifier.Verdict) (Case, error) {
	return t.transition(key, EventClassify, func(c *Case, now time.Time) (State, error) {
		if c.State != StateReplied {
			return "", nil
		}
		c.LastVerdict = &verdict
		if verdict.Valid {
			c.RequiresApproval = verdict.RequiresApproval
			return StateValidated, nil
		}
		if c.FollowupCount >= t.maxFollowups {
			return StateEscalatedUnresolved, nil
		}
		return StateNeedsFollowup, nil
	})
}

// Escalate hands a validated case to compliance.
func (t *Tracker) Escalate(key Key) (Case, error) {
	return t.transition(key, EventEscalate, func(c *Case, now time.Time) (State, error) {
		if c.State != StateValidated {
			return "", nil
		}
		return StateEscalated, nil
	})
}

// transition applies fn to a copy of the case under its key lock. fn returns
// the empty state to reject the event; the stored case is then untouched.
func (t *Tracker) transition(key Key, event Event, fn func(c *Case, now time.Time) (State, error)) (Case, error) {
	t.locks.Lock(key.String())
	defer t.locks.Unlock(key.String())
	return t.transitionLocked(key, event, fn)
}

// transitionLocked is transition for callers already holding key's lock.
func (t *Tracker) transitionLocked(key Key, event Event, fn func(c *Case, now time.Time) (State, error)) (Case, error) {
	t.mu.RLock()
	current, ok := t.cases[key]
	t.mu.RUnlock()
	if !ok {
		return Case{}, tallyErrors.NotFound(fmt.Sprintf("case %s", key))
	}

	now := t.now()
	next := current.clone()
	to, err := fn(&next, now)
	if err != nil {
		return Case{}, err
	}
	if to == "" {
		return Case{}, &InvalidTransitionError{Key: key, From: current.State, Event: event}
	}

	next.History = append(next.History, Transition{From: current.State, To: to, Event: event, At: now})
	next.State = to
	next.UpdatedAt = now

	t.mu.Lock()
	t.cases[key] = &next
	out := next.clone()
	t.mu.Unlock()

	slog.Debug("Case transitioned", "case", key.String(), "event", event, "from", current.State, "to", to)
	t.persist()
	return out, nil
}

// Delivery is the outcome of Deliver.
type Delivery struct {
	// Claimed are the cases that were in the wanted state and handed to send.
	Claimed []Case
	Sent    bool
	// Notified are the claimed cases after their notification was recorded.
	Notified []Case
}

// Deliver sends one message covering the cases of keys that are in state
// from. The key locks are held from the state check until the notification
// is recorded, so concurrent callers never send twice for the same case.
// send is not called when nothing is claimed; a false return leaves every
// case untouched.
func (t *Tracker) Deliver(keys []Key, from State, send func(claimed []Case) bool) (Delivery, error) {
	locked := uniqueSorted(keys)
	for _, k := range locked {
		t.locks.Lock(k.String())
	}
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			t.locks.Unlock(locked[i].String())
		}
	}()

	var d Delivery
	t.mu.RLock()
	for _, k := range keys {
		c, ok := t.cases[k]
		if !ok {
			t.mu.RUnlock()
			return Delivery{}, tallyErrors.NotFound(fmt.Sprintf("case %s", k))
		}
		if c.State == from && !containsKey(d.Claimed, k) {
			d.Claimed = append(d.Claimed, c.clone())
		}
	}
	t.mu.RUnlock()

	if len(d.Claimed) == 0 {
		return d, nil
	}
	if d.Sent = send(d.Claimed); !d.Sent {
		return d, nil
	}

	for _, c := range d.Claimed {
		n, err := t.transitionLocked(c.Key, EventNotify, notifyTransition)
		if err != nil {
			return d, err
		}
		d.Notified = append(d.Notified, n)
	}
	return d, nil
}

func notifyTransition(c *Case, now time.Time) (State, error) {
	switch c.State {
	case StateFlagged:
	case StateNeedsFollowup:
		c.FollowupCount++
	default:
		return "", nil
	}
	c.LastNotificationAt = &now
	return StateNotified, nil
}

func uniqueSorted(keys []Key) []Key {
	out := make([]Key, 0, len(keys))
	seen := make(map[Key]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func containsKey(cases []Case, k Key) bool {
	for _, c := range cases {
		if c.Key == k {
			return true
		}
	}
	return false
}

// Get returns a copy of the case for key.
func (t *Tracker) Get(key Key) (Case, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.cases[key]
	if !ok {
		return Case{}, tallyErrors.NotFound(fmt.Sprintf("case %s", key))
	}
	return c.clone(), nil
}

// List returns every case ordered by creation time, then key.
func (t *Tracker) List() []Case {
	t.mu.RLock()
	out := make([]Case, 0, len(t.cases))
	for _, c := range t.cases {
		out = append(out, c.clone())
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// FindByContact returns the contact's cases in the given states, or all of
// them when no state is given.
func (t *Tracker) FindByContact(contact string, states ...State) []Case {
	key, err := NewKey(contact, UnknownDate)
	if err != nil {
		return nil
	}

	var out []Case
	for _, c := range t.List() {
		if c.Key.Contact != key.Contact {
			continue
		}
		if len(states) == 0 || containsState(states, c.State) {
			out = append(out, c)
		}
	}
	return out
}

// CountByState tallies cases per state.
func (t *Tracker) CountByState() map[State]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[State]int)
	for _, c := range t.cases {
		counts[c.State]++
	}
	return counts
}

func containsState(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

// persist writes the snapshot. Failures are logged; the in-memory table stays authoritative.
func (t *Tracker) persist() {
	if t.snapshotPath == "" {
		return
	}

	t.snapshotMu.Lock()
	defer t.snapshotMu.Unlock()

	snap := snapshot{
		Version: 1,
		SavedAt: t.now().UTC().Format(time.RFC3339),
		Cases:   t.List(),
	}
	if err := store.WriteJSON(t.snapshotPath, snap); err != nil {
		slog.Warn("Failed to write case snapshot", "path", t.snapshotPath, "error", err)
	}
}
