package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/mailbox"
	"github.com/harunnryd/tally/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	replies []mailbox.Reply
	errs    map[string]error
}

func (h *recordingHandler) HandleReply(ctx context.Context, reply mailbox.Reply) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.errs[reply.MessageID]; ok {
		delete(h.errs, reply.MessageID)
		return err
	}
	h.replies = append(h.replies, reply)
	return nil
}

func (h *recordingHandler) got() []mailbox.Reply {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]mailbox.Reply(nil), h.replies...)
}

func reply(id, subject string) mailbox.RawMessage {
	return mailbox.RawMessage{
		MessageID: id,
		From:      "Jane Doe <jane@example.com>",
		Subject:   subject,
		Body:      "I was sick with a fever",
		Date:      time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC),
	}
}

func testOptions() Options {
	return Options{Interval: 5 * time.Millisecond, Keywords: []string{"timesheet"}}
}

func TestExtractDate(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"Re: Timesheet Issue - 2025-03-04", "2025-03-04"},
		{"Re: Timesheet 03/04/2025", "2025-03-04"},
		{"Re: Timesheet 3-4-2025", "2025-03-04"},
		{"Timesheet 2025-01-02 and 03/04/2025", "2025-01-02"},
		{"Timesheet 03/04/2025 then 2025-01-02", "2025-01-02"},
		{"Timesheet 2025-13-45", tracker.UnknownDate},
		{"Timesheet", tracker.UnknownDate},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractDate(tt.subject))
		})
	}
}

func TestMessageIDFallback(t *testing.T) {
	raw := mailbox.RawMessage{Ref: "42", Date: time.Unix(1700000000, 0)}
	assert.Equal(t, "imap_42_1700000000", messageID("imap", raw))

	raw.MessageID = "<m1@example.com>"
	assert.Equal(t, "m1@example.com", messageID("imap", raw))
}

func TestCycleForwardsNormalizedReplies(t *testing.T) {
	src := mailbox.NewMemory(
		reply("m1", "Re: Timesheet Issue - 2025-03-04"),
		reply("m2", "Lunch on friday?"),
	)
	h := &recordingHandler{}
	p := New(src, h, testOptions())

	require.NoError(t, p.cycle(context.Background()))

	got := h.got()
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, "jane@example.com", got[0].FromContact)
	assert.Equal(t, "Jane Doe", got[0].FromName)
	assert.Equal(t, "2025-03-04", got[0].ReferencedDate)
	assert.True(t, src.Consumed("1"))
	assert.False(t, src.Consumed("2"), "messages outside the keyword filter stay at the source")
}

func TestCycleDeduplicatesMessageIDs(t *testing.T) {
	src := mailbox.NewMemory(reply("m1", "Timesheet 2025-03-04"), reply("m1", "Timesheet 2025-03-04"))
	h := &recordingHandler{}
	p := New(src, h, testOptions())

	require.NoError(t, p.cycle(context.Background()))
	src.Deliver(reply("m1", "Timesheet 2025-03-04"))
	require.NoError(t, p.cycle(context.Background()))

	assert.Len(t, h.got(), 1)
	assert.Equal(t, 1, p.Status().Seen)
	assert.Equal(t, 1, p.Status().Forwarded)
}

func TestCycleRetryableErrorLeavesMessageUnconsumed(t *testing.T) {
	src := mailbox.NewMemory(reply("m1", "Timesheet 2025-03-04"))
	h := &recordingHandler{errs: map[string]error{"m1": tallyErrors.Transient("snapshot busy")}}
	p := New(src, h, testOptions())

	require.NoError(t, p.cycle(context.Background()))
	assert.False(t, src.Consumed("1"))
	assert.Empty(t, h.got())

	require.NoError(t, p.cycle(context.Background()))
	assert.True(t, src.Consumed("1"))
	assert.Len(t, h.got(), 1)
}

func TestCycleDomainRejectionConsumesMessage(t *testing.T) {
	src := mailbox.NewMemory(reply("m1", "Timesheet 2025-03-04"))
	h := &recordingHandler{errs: map[string]error{"m1": tallyErrors.NotFound("case")}}
	p := New(src, h, testOptions())

	require.NoError(t, p.cycle(context.Background()))
	assert.True(t, src.Consumed("1"))
	assert.Equal(t, 0, p.Status().Forwarded)
}

func TestCyclePrunesSeenSet(t *testing.T) {
	src := mailbox.NewMemory()
	for i := 0; i < 101; i++ {
		src.Deliver(reply(fmt.Sprintf("m%03d", i), "Timesheet 2025-03-04"))
	}
	p := New(src, &recordingHandler{}, testOptions())

	for i := 0; i < 9; i++ {
		require.NoError(t, p.cycle(context.Background()))
	}
	assert.Equal(t, 101, p.seen.Len())

	require.NoError(t, p.cycle(context.Background()))
	assert.Equal(t, 50, p.seen.Len())
	assert.True(t, p.seen.Has("m100"))
	assert.True(t, p.seen.Has("m051"))
	assert.False(t, p.seen.Has("m050"))
}

func TestSeenSetPrune(t *testing.T) {
	s := newSeenSet()
	for i := 0; i < 5; i++ {
		s.Add(fmt.Sprint(i))
	}
	assert.False(t, s.Add("3"))
	assert.Equal(t, 3, s.Prune(2))
	assert.Equal(t, []string{"3", "4"}, s.order)
	s.Remove("3")
	assert.Equal(t, 1, s.Len())
}

func TestStartHaltsWhenFirstFetchFails(t *testing.T) {
	src := mailbox.NewMemory()
	src.FailNext(errors.New("dial tcp: connection refused"))
	p := New(src, &recordingHandler{}, testOptions())

	p.Start(context.Background())
	err := p.Wait()
	require.Error(t, err)

	st := p.Status()
	assert.True(t, st.Halted)
	assert.False(t, st.Running)
	assert.Contains(t, st.LastError, "connection refused")
}

func TestLaterFetchFailuresAreTolerated(t *testing.T) {
	src := mailbox.NewMemory()
	p := New(src, &recordingHandler{}, testOptions())

	st := p.Start(context.Background())
	assert.True(t, st.Running)

	require.Eventually(t, func() bool { return src.Fetches() >= 1 }, time.Second, time.Millisecond)
	src.FailNext(errors.New("read: connection reset"))
	require.Eventually(t, func() bool { return src.Fetches() >= 4 }, time.Second, time.Millisecond)

	st = p.Status()
	assert.True(t, st.Running)
	assert.False(t, st.Halted)

	p.Stop()
	require.NoError(t, p.Wait())
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	src := mailbox.NewMemory()
	p := New(src, &recordingHandler{}, Options{Interval: time.Hour})

	p.Start(context.Background())
	require.Eventually(t, func() bool { return src.Fetches() == 1 }, time.Second, time.Millisecond)

	st := p.Start(context.Background())
	assert.True(t, st.Running)
	assert.Equal(t, 1, src.Fetches())

	p.Stop()
	p.Stop()
	require.NoError(t, p.Wait())
	assert.False(t, p.Status().Running)
}

func TestStartForwardsRepliesInFetchOrder(t *testing.T) {
	src := mailbox.NewMemory(reply("a", "Timesheet 2025-03-01"), reply("b", "Timesheet 2025-03-02"))
	h := &recordingHandler{}
	p := New(src, h, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, func() bool { return len(h.got()) == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, p.Wait())

	got := h.got()
	assert.Equal(t, "a", got[0].MessageID)
	assert.Equal(t, "b", got[1].MessageID)
	assert.False(t, p.Status().Running)
}

func TestCycleConsumesBatchOnce(t *testing.T) {
	src := mailbox.NewMemory(
		reply("m1", "Timesheet 2025-03-04"),
		reply("m2", "Timesheet 2025-03-05"),
		reply("m3", "Timesheet 2025-03-06"),
		reply("m4", "Lunch on friday?"),
	)
	h := &recordingHandler{}
	p := New(src, h, testOptions())

	require.NoError(t, p.cycle(context.Background()))
	assert.Len(t, h.got(), 3)
	assert.Equal(t, 1, src.ConsumeCalls())
	for _, ref := range []string{"1", "2", "3"} {
		assert.True(t, src.Consumed(ref), ref)
	}
	assert.False(t, src.Consumed("4"))

	// nothing new to settle on the next cycle
	require.NoError(t, p.cycle(context.Background()))
	assert.Equal(t, 1, src.ConsumeCalls())
}
