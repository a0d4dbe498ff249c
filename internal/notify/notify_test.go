package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"
)

var sample = Alert{
	Kind:         AlertUnresolved,
	CaseKey:      "jane@example.com/2025-03-04",
	EmployeeName: "Jane",
	Contact:      "jane@example.com",
	Date:         "2025-03-04",
	Category:     "other",
	Detail:       "3 follow-ups without a valid reason",
}

type failing struct{}

func (failing) Name() string                              { return "failing" }
func (failing) Notify(ctx context.Context, a Alert) error { return errors.New("down") }

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recorder) Name() string { return "recorder" }
func (r *recorder) Notify(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func TestAlertText(t *testing.T) {
	text := sample.Text()
	assert.True(t, strings.HasPrefix(text, "Unresolved after follow-ups: Jane <jane@example.com> for 2025-03-04"))
	assert.Contains(t, text, "(category: other)")
	assert.Contains(t, text, "3 follow-ups")
}

func TestMultiKeepsGoingAfterFailure(t *testing.T) {
	rec := &recorder{}
	err := Multi{failing{}, rec}.Notify(context.Background(), sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: down")
	assert.Len(t, rec.alerts, 1)
}

func TestFromConfig(t *testing.T) {
	m, err := FromConfig(config.NotifyConfig{})
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, "log", m[0].Name())

	t.Setenv("SLACK_BOT_TOKEN", "")
	_, err = FromConfig(config.NotifyConfig{Slack: config.SlackConfig{Enabled: true}})
	assert.ErrorIs(t, err, tallyErrors.ErrInvalidInput)

	m, err = FromConfig(config.NotifyConfig{
		Slack:    config.SlackConfig{Enabled: true, BotToken: "xoxb-1", Channel: "C1"},
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "123:abc", ChatID: 42},
	})
	require.NoError(t, err)
	assert.Len(t, m, 3)
}

func TestSlackPostsToChannel(t *testing.T) {
	var gotChannel, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotChannel = r.FormValue("channel")
		gotText = r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	s, err := NewSlack("xoxb-test", "C1", slack.OptionAPIURL(srv.URL+"/"))
	require.NoError(t, err)
	require.NoError(t, s.Notify(context.Background(), sample))

	assert.Equal(t, "C1", gotChannel)
	assert.Contains(t, gotText, "Jane")
}

func TestTelegramSendsToChat(t *testing.T) {
	var gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"tally","username":"tally_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			gotChat = r.FormValue("chat_id")
			gotText = r.FormValue("text")
			w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegram("123:abc", 42)
	require.NoError(t, err)
	tg.endpoint = srv.URL + "/bot%s/%s"

	require.NoError(t, tg.Notify(context.Background(), sample))
	assert.Equal(t, "42", gotChat)
	assert.Contains(t, gotText, "Unresolved")
}
