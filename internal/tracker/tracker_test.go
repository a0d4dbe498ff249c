package tracker

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/tally/internal/classifier"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/mailbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	validVerdict   = classifier.Verdict{Valid: true, CategoryID: "sick", Confidence: 90}
	invalidVerdict = classifier.Verdict{Valid: false, CategoryID: "other", Confidence: 20}
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(Options{MaxFollowups: 3})
	require.NoError(t, err)
	return tr
}

func openNotified(t *testing.T, tr *Tracker) Key {
	t.Helper()
	c, created, err := tr.OpenOrGet("Dana@Example.com", "2025-01-15", "Dana")
	require.NoError(t, err)
	require.True(t, created)
	_, err = tr.RecordNotification(c.Key)
	require.NoError(t, err)
	return c.Key
}

func reply(id string) mailbox.Reply {
	return mailbox.Reply{MessageID: id, FromContact: "dana@example.com", Content: "I was sick with a fever", ReferencedDate: "2025-01-15"}
}

func TestOpenOrGetIsIdempotent(t *testing.T) {
	tr := newTracker(t)

	first, created, err := tr.OpenOrGet("Dana@Example.com ", "2025-01-15", "Dana")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StateFlagged, first.State)
	assert.Equal(t, Key{Contact: "dana@example.com", Date: "2025-01-15"}, first.Key)

	second, created, err := tr.OpenOrGet("dana@example.com", "2025-01-15", "Dana")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Len(t, tr.List(), 1)
}

func TestOpenOrGetRejectsBadKeys(t *testing.T) {
	tr := newTracker(t)
	_, _, err := tr.OpenOrGet("", "2025-01-15", "")
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidInput)
	_, _, err = tr.OpenOrGet("dana@example.com", "01/15/2025", "")
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidInput)
	_, _, err = tr.OpenOrGet("dana@example.com", UnknownDate, "")
	assert.NoError(t, err)
}

func TestHappyPathToEscalated(t *testing.T) {
	tr := newTracker(t)
	key := openNotified(t, tr)

	c, err := tr.RecordReply(key, reply("m1"))
	require.NoError(t, err)
	assert.Equal(t, StateReplied, c.State)
	assert.Equal(t, 1, c.ReplyCount)
	require.NotNil(t, c.LastReply)
	assert.Equal(t, "m1", c.LastReply.MessageID)

	c, err = tr.ApplyClassification(key, classifier.Verdict{Valid: true, CategoryID: "personal", RequiresApproval: true})
	require.NoError(t, err)
	assert.Equal(t, StateValidated, c.State)
	assert.True(t, c.RequiresApproval)

	c, err = tr.Escalate(key)
	require.NoError(t, err)
	assert.Equal(t, StateEscalated, c.State)
	assert.True(t, c.State.Terminal())

	events := make([]Event, 0, len(c.History))
	for _, h := range c.History {
		events = append(events, h.Event)
	}
	assert.Equal(t, []Event{EventOpen, EventNotify, EventReply, EventClassify, EventEscalate}, events)
}

func TestUnresolvedAfterExactlyMaxFollowups(t *testing.T) {
	tr := newTracker(t)
	key := openNotified(t, tr)

	followups := 0
	for round := 0; ; round++ {
		_, err := tr.RecordReply(key, reply(fmt.Sprintf("m%d", round)))
		require.NoError(t, err)

		c, err := tr.ApplyClassification(key, invalidVerdict)
		require.NoError(t, err)

		if c.State == StateEscalatedUnresolved {
			break
		}
		require.Equal(t, StateNeedsFollowup, c.State)
		followups++

		c, err = tr.RecordNotification(key)
		require.NoError(t, err)
		require.Equal(t, followups, c.FollowupCount)
		require.Less(t, round, 10, "case never escalated")
	}

	assert.Equal(t, 3, followups)

	c, err := tr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, 3, c.FollowupCount)
	assert.Equal(t, 4, c.ReplyCount)

	needs := 0
	for _, h := range c.History {
		if h.To == StateNeedsFollowup {
			needs++
		}
	}
	assert.Equal(t, 3, needs)
}

func TestRejectedTransitionsLeaveCaseUnchanged(t *testing.T) {
	tr := newTracker(t)
	c, _, err := tr.OpenOrGet("dana@example.com", "2025-01-15", "Dana")
	require.NoError(t, err)
	key := c.Key

	before, err := tr.Get(key)
	require.NoError(t, err)

	attempts := []func() (Case, error){
		func() (Case, error) { return tr.RecordReply(key, reply("early")) },
		func() (Case, error) { return tr.ApplyClassification(key, validVerdict) },
		func() (Case, error) { return tr.Escalate(key) },
	}
	for _, attempt := range attempts {
		_, err := attempt()
		require.Error(t, err)
		assert.ErrorIs(t, err, tallyErrors.ErrInvalidTransition)

		var ite *InvalidTransitionError
		require.True(t, errors.As(err, &ite))
		assert.Equal(t, StateFlagged, ite.From)
	}

	after, err := tr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestNotificationOnlyFromFlaggedOrNeedsFollowup(t *testing.T) {
	tr := newTracker(t)
	key := openNotified(t, tr)

	_, err := tr.RecordNotification(key)
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidTransition)

	_, err = tr.RecordReply(key, reply("m1"))
	require.NoError(t, err)
	_, err = tr.RecordReply(key, reply("m2"))
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidTransition)

	c, err := tr.ApplyClassification(key, invalidVerdict)
	require.NoError(t, err)
	require.Equal(t, StateNeedsFollowup, c.State)
	assert.Equal(t, 0, c.FollowupCount)

	c, err = tr.RecordNotification(key)
	require.NoError(t, err)
	assert.Equal(t, StateNotified, c.State)
	assert.Equal(t, 1, c.FollowupCount)
	assert.NotNil(t, c.LastNotificationAt)
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	tr := newTracker(t)
	key := openNotified(t, tr)
	_, err := tr.RecordReply(key, reply("m1"))
	require.NoError(t, err)
	_, err = tr.ApplyClassification(key, validVerdict)
	require.NoError(t, err)
	_, err = tr.Escalate(key)
	require.NoError(t, err)

	_, err = tr.Escalate(key)
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidTransition)
	_, err = tr.RecordNotification(key)
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidTransition)
}

func TestMissingCase(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.RecordReply(Key{Contact: "nobody@example.com", Date: "2025-01-15"}, reply("m1"))
	assert.ErrorIs(t, err, tallyErrors.ErrNotFound)
	_, err = tr.Get(Key{Contact: "nobody@example.com", Date: "2025-01-15"})
	assert.ErrorIs(t, err, tallyErrors.ErrNotFound)
}

func TestReturnedCasesAreCopies(t *testing.T) {
	tr := newTracker(t)
	key := openNotified(t, tr)
	c, err := tr.RecordReply(key, reply("m1"))
	require.NoError(t, err)

	c.LastReply.Content = "tampered"
	c.History[0].Event = "tampered"

	again, err := tr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "I was sick with a fever", again.LastReply.Content)
	assert.Equal(t, EventOpen, again.History[0].Event)
}

func TestConcurrentRepliesOnlyOneWins(t *testing.T) {
	tr := newTracker(t)
	key := openNotified(t, tr)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := tr.RecordReply(key, reply(fmt.Sprintf("m%d", i))); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	c, err := tr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ReplyCount)
}

func TestFindByContactAndCounts(t *testing.T) {
	tr := newTracker(t)
	openNotified(t, tr)
	_, _, err := tr.OpenOrGet("dana@example.com", "2025-01-16", "Dana")
	require.NoError(t, err)
	_, _, err = tr.OpenOrGet("eli@example.com", "2025-01-16", "Eli")
	require.NoError(t, err)

	assert.Len(t, tr.FindByContact("DANA@example.com"), 2)
	notified := tr.FindByContact("dana@example.com", StateNotified)
	require.Len(t, notified, 1)
	assert.Equal(t, "2025-01-15", notified[0].Key.Date)

	counts := tr.CountByState()
	assert.Equal(t, 2, counts[StateFlagged])
	assert.Equal(t, 1, counts[StateNotified])
}

func TestSnapshotPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.json")
	clock := time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)

	tr, err := New(Options{MaxFollowups: 3, SnapshotPath: path, Now: func() time.Time { return clock }})
	require.NoError(t, err)
	key := openNotified(t, tr)
	_, err = tr.RecordReply(key, reply("m1"))
	require.NoError(t, err)

	reloaded, err := New(Options{MaxFollowups: 3, SnapshotPath: path})
	require.NoError(t, err)
	c, err := reloaded.Get(key)
	require.NoError(t, err)
	assert.Equal(t, StateReplied, c.State)
	assert.Equal(t, "m1", c.LastReply.MessageID)
	assert.Len(t, c.History, 3)

	_, err = reloaded.ApplyClassification(key, validVerdict)
	assert.NoError(t, err)
}

func TestDeliverClaimsOnlyWantedState(t *testing.T) {
	tr := newTracker(t)
	notified := openNotified(t, tr)
	flagged, _, err := tr.OpenOrGet("dana@example.com", "2025-01-16", "Dana")
	require.NoError(t, err)

	var handed []Case
	d, err := tr.Deliver([]Key{notified, flagged.Key, flagged.Key}, StateFlagged, func(claimed []Case) bool {
		handed = claimed
		return true
	})
	require.NoError(t, err)
	require.Len(t, handed, 1)
	assert.Equal(t, flagged.Key, handed[0].Key)
	assert.True(t, d.Sent)
	require.Len(t, d.Notified, 1)
	assert.Equal(t, StateNotified, d.Notified[0].State)

	calls := 0
	d, err = tr.Deliver([]Key{flagged.Key}, StateFlagged, func([]Case) bool {
		calls++
		return true
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Empty(t, d.Claimed)
}

func TestDeliverFailedSendLeavesCases(t *testing.T) {
	tr := newTracker(t)
	c, _, err := tr.OpenOrGet("dana@example.com", "2025-01-16", "Dana")
	require.NoError(t, err)

	d, err := tr.Deliver([]Key{c.Key}, StateFlagged, func([]Case) bool { return false })
	require.NoError(t, err)
	assert.False(t, d.Sent)
	assert.Len(t, d.Claimed, 1)
	assert.Empty(t, d.Notified)

	got, err := tr.Get(c.Key)
	require.NoError(t, err)
	assert.Equal(t, StateFlagged, got.State)

	_, err = tr.Deliver([]Key{{Contact: "nobody@example.com", Date: "2025-01-16"}}, StateFlagged, func([]Case) bool { return true })
	assert.ErrorIs(t, err, tallyErrors.ErrNotFound)
}

func TestConcurrentDeliverSendsOnce(t *testing.T) {
	tr := newTracker(t)
	c, _, err := tr.OpenOrGet("dana@example.com", "2025-01-16", "Dana")
	require.NoError(t, err)

	var mu sync.Mutex
	sends := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Deliver([]Key{c.Key}, StateFlagged, func([]Case) bool {
				mu.Lock()
				sends++
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				return true
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sends)
	got, err := tr.Get(c.Key)
	require.NoError(t, err)
	assert.Equal(t, StateNotified, got.State)
}
