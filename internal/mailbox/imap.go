package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
)

// IMAP is a Source backed by an IMAP mailbox over TLS. Each call opens its
// own session; messages are fetched with BODY.PEEK so they stay unseen
// until MarkConsumed sets \Seen. A poll cycle costs two sessions: one
// fetch and one batched MarkConsumed.
type IMAP struct {
	addr     string
	host     string
	username string
	password string
	folder   string
	timeout  time.Duration

	// serializes sessions so MarkConsumed never races a fetch
	mu sync.Mutex
}

func NewIMAP(cfg config.MailboxConfig) (*IMAP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, tallyErrors.InvalidInput("mailbox host is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, tallyErrors.InvalidInput("mailbox credentials are required")
	}

	timeout, err := config.DurationOrDefault(cfg.DialTimeout, config.DefaultMailboxDialTimeout)
	if err != nil {
		return nil, tallyErrors.InvalidInput(fmt.Sprintf("mailbox dial_timeout: %v", err))
	}
	port := cfg.Port
	if port <= 0 {
		port = config.DefaultMailboxPort
	}
	folder := cfg.Folder
	if folder == "" {
		folder = config.DefaultMailboxFolder
	}

	return &IMAP{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		folder:   folder,
		timeout:  timeout,
	}, nil
}

func (s *IMAP) Name() string {
	return "imap"
}

func (s *IMAP) FetchUnseen(ctx context.Context, filter Filter) ([]RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close(c)

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if !filter.Since.IsZero() {
		criteria.Since = filter.Since
	}
	if filter.Subject != "" {
		criteria.Header.Add("Subject", filter.Subject)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, tallyErrors.Wrap(tallyErrors.MapError(err), "imap search")
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	fetched := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, fetched)
	}()

	out, junk := collect(ctx, fetched, section)
	if err := <-done; err != nil {
		return nil, tallyErrors.Wrap(tallyErrors.MapError(err), "imap fetch")
	}

	// messages that can never become a reply are settled now, or every
	// cycle would fetch them again
	if len(junk) > 0 {
		if err := markSeen(c, junk...); err != nil {
			logger.From(ctx).Warn("Failed to mark unreadable messages seen", "uids", junk, "error", err)
		}
	}
	return out, nil
}

// collect parses fetched messages. UIDs without a usable body come back as junk.
func collect(ctx context.Context, fetched <-chan *imap.Message, section *imap.BodySectionName) ([]RawMessage, []uint32) {
	log := logger.From(ctx)
	var out []RawMessage
	var junk []uint32
	for msg := range fetched {
		body := msg.GetBody(section)
		if body == nil {
			log.Warn("IMAP message without body", "uid", msg.Uid)
			junk = append(junk, msg.Uid)
			continue
		}
		raw, err := parseMessage(body)
		if err != nil {
			log.Warn("Skipping unparseable message", "uid", msg.Uid, "error", err)
			junk = append(junk, msg.Uid)
			continue
		}
		raw.Ref = strconv.FormatUint(uint64(msg.Uid), 10)
		if raw.Date.IsZero() {
			raw.Date = msg.InternalDate
		}
		out = append(out, raw)
	}
	return out, junk
}

// MarkConsumed sets \Seen on every ref in a single session.
func (s *IMAP) MarkConsumed(ctx context.Context, refs ...string) error {
	uids, err := parseRefs(refs)
	if err != nil || len(uids) == 0 {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(c)

	return markSeen(c, uids...)
}

func parseRefs(refs []string) ([]uint32, error) {
	uids := make([]uint32, 0, len(refs))
	for _, ref := range refs {
		uid, err := strconv.ParseUint(ref, 10, 32)
		if err != nil {
			return nil, tallyErrors.InvalidInput(fmt.Sprintf("invalid imap ref %q", ref))
		}
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

func markSeen(c *client.Client, uids ...uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return tallyErrors.Wrap(tallyErrors.MapError(err), "imap mark seen")
	}
	return nil
}

func (s *IMAP) open(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: s.timeout}
	c, err := client.DialWithDialerTLS(dialer, s.addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return nil, tallyErrors.Wrap(tallyErrors.MapError(err), "imap dial")
	}
	c.Timeout = s.timeout

	// go-imap has no context support, so cancellation tears the connection down.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	ok := false
	defer func() {
		stop()
		if !ok {
			_ = c.Terminate()
		}
	}()

	if err := c.Login(s.username, s.password); err != nil {
		return nil, tallyErrors.Wrap(tallyErrors.MapError(err), "imap login")
	}
	if _, err := c.Select(s.folder, false); err != nil {
		return nil, tallyErrors.Wrap(tallyErrors.MapError(err), "imap select")
	}
	ok = true
	return c, nil
}

func (s *IMAP) close(c *client.Client) {
	if err := c.Logout(); err != nil {
		_ = c.Terminate()
	}
}

// parseMessage reads an RFC 5322 message. The first text/plain part wins;
// text/html is used with tags stripped when no plain part exists.
func parseMessage(r io.Reader) (RawMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return RawMessage{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	var out RawMessage
	out.Subject, _ = mr.Header.Subject()
	out.MessageID, _ = mr.Header.MessageID()
	out.Date, _ = mr.Header.Date()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		out.From = from[0].String()
	} else {
		out.From = mr.Header.Get("From")
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if plain != "" || html != "" {
				break
			}
			return RawMessage{}, fmt.Errorf("read part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch {
		case ct == "text/plain" && plain == "":
			plain = string(b)
		case ct == "text/html" && html == "":
			html = string(b)
		case ct == "" && plain == "":
			plain = string(b)
		}
	}

	if plain != "" {
		out.Body = strings.TrimSpace(plain)
	} else {
		out.Body = strings.TrimSpace(stripTags(html))
	}
	return out, nil
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
