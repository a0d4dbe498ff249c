package poller

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harunnryd/tally/internal/mailbox"
	"github.com/harunnryd/tally/internal/tracker"
)

type datePattern struct {
	re     *regexp.Regexp
	layout string
}

// Tried in order; the first pattern that yields a real calendar date wins.
var datePatterns = []datePattern{
	{regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`), "2006-01-02"},
	{regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`), "1/2/2006"},
	{regexp.MustCompile(`\b(\d{1,2}-\d{1,2}-\d{4})\b`), "1-2-2006"},
}

// ExtractDate finds the timesheet date referenced in s and returns it as
// YYYY-MM-DD, or tracker.UnknownDate.
func ExtractDate(s string) string {
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		t, err := time.Parse(p.layout, m[1])
		if err != nil {
			continue
		}
		return t.Format(time.DateOnly)
	}
	return tracker.UnknownDate
}

// messageID is the dedup key: the Message-ID header, else a key derived
// from the source, its ref and the message date.
func messageID(source string, raw mailbox.RawMessage) string {
	if id := strings.Trim(strings.TrimSpace(raw.MessageID), "<>"); id != "" {
		return id
	}
	if raw.Date.IsZero() {
		return fmt.Sprintf("%s_%s", source, raw.Ref)
	}
	return fmt.Sprintf("%s_%s_%d", source, raw.Ref, raw.Date.Unix())
}

func normalize(id string, raw mailbox.RawMessage, now time.Time) mailbox.Reply {
	name, addr := mailbox.SplitAddress(raw.From)
	received := raw.Date
	if received.IsZero() {
		received = now
	}
	return mailbox.Reply{
		MessageID:      id,
		FromContact:    addr,
		FromName:       name,
		Subject:        strings.TrimSpace(raw.Subject),
		Content:        strings.TrimSpace(raw.Body),
		ReceivedAt:     received.UTC(),
		ReferencedDate: ExtractDate(raw.Subject),
	}
}

func matchesKeywords(raw mailbox.RawMessage, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	hay := strings.ToLower(raw.Subject + "\n" + raw.Body)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(hay, k) {
			return true
		}
	}
	return false
}
