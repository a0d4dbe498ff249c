package notify

import (
	"context"
	"os"

	"github.com/slack-go/slack"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
)

type Slack struct {
	client  *slack.Client
	channel string
}

func NewSlack(botToken, channel string, opts ...slack.Option) (*Slack, error) {
	if botToken == "" {
		botToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	if botToken == "" {
		return nil, tallyErrors.InvalidInput("slack bot_token is required")
	}
	if channel == "" {
		return nil, tallyErrors.InvalidInput("slack channel is required")
	}
	return &Slack{client: slack.New(botToken, opts...), channel: channel}, nil
}

func (s *Slack) Name() string {
	return "slack"
}

func (s *Slack) Notify(ctx context.Context, alert Alert) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(alert.Text(), false))
	if err != nil {
		return tallyErrors.Wrap(tallyErrors.MapError(err), "failed to send Slack message")
	}
	logger.From(ctx).Debug("Slack alert sent", "channel", s.channel, "case", alert.CaseKey)
	return nil
}
