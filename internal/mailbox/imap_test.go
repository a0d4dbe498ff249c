package mailbox

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartReply = "From: \"Jane Doe\" <Jane.Doe@example.com>\r\n" +
	"To: timesheets@example.com\r\n" +
	"Subject: Re: Timesheet Issue - 2025-03-04\r\n" +
	"Message-ID: <abc123@mail.example.com>\r\n" +
	"Date: Wed, 05 Mar 2025 09:15:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>I was <b>sick</b> that day</p>\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"I was sick that day and saw a doctor.\r\n" +
	"--b1--\r\n"

const htmlOnlyReply = "From: bob@example.com\r\n" +
	"Subject: Timesheet\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<div>Working from <i>home</i></div>\r\n"

func TestParseMessagePrefersPlainText(t *testing.T) {
	msg, err := parseMessage(strings.NewReader(multipartReply))
	require.NoError(t, err)

	assert.Equal(t, "abc123@mail.example.com", msg.MessageID)
	assert.Equal(t, "Re: Timesheet Issue - 2025-03-04", msg.Subject)
	assert.Equal(t, "I was sick that day and saw a doctor.", msg.Body)
	assert.Equal(t, 2025, msg.Date.Year())

	name, addr := SplitAddress(msg.From)
	assert.Equal(t, "Jane Doe", name)
	assert.Equal(t, "jane.doe@example.com", addr)
}

func TestParseMessageFallsBackToHTML(t *testing.T) {
	msg, err := parseMessage(strings.NewReader(htmlOnlyReply))
	require.NoError(t, err)

	assert.Equal(t, "Working from home", msg.Body)
	assert.Empty(t, msg.MessageID)
}

func TestNewIMAPValidation(t *testing.T) {
	_, err := NewIMAP(config.MailboxConfig{})
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidInput)

	_, err = NewIMAP(config.MailboxConfig{Host: "imap.example.com"})
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidInput)

	src, err := NewIMAP(config.MailboxConfig{Host: "imap.example.com", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com:993", src.addr)
	assert.Equal(t, "INBOX", src.folder)
}

func TestSplitAddress(t *testing.T) {
	name, addr := SplitAddress("ALICE@Example.com")
	assert.Equal(t, "alice", name)
	assert.Equal(t, "alice@example.com", addr)
}

func TestCollectSeparatesUnreadableMessages(t *testing.T) {
	section := &imap.BodySectionName{Peek: true}
	body := func(raw string) map[*imap.BodySectionName]imap.Literal {
		return map[*imap.BodySectionName]imap.Literal{{}: bytes.NewBufferString(raw)}
	}
	received := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)

	fetched := make(chan *imap.Message, 3)
	fetched <- &imap.Message{Uid: 7, InternalDate: received, Body: body(multipartReply)}
	fetched <- &imap.Message{Uid: 8, Body: body("this line is not a header\r\n\r\nbody\r\n")}
	fetched <- &imap.Message{Uid: 9}
	close(fetched)

	out, junk := collect(context.Background(), fetched, section)
	require.Len(t, out, 1)
	assert.Equal(t, "7", out[0].Ref)
	assert.Equal(t, "abc123@mail.example.com", out[0].MessageID)
	assert.Equal(t, []uint32{8, 9}, junk)
}

func TestParseRefs(t *testing.T) {
	uids, err := parseRefs([]string{"7", "42"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 42}, uids)

	_, err = parseRefs([]string{"7", "abc"})
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidInput)
}
