package notify

import (
	"context"
	"os"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
)

// Telegram sends alerts to one chat. The bot is connected on first use.
type Telegram struct {
	token    string
	chatID   int64
	endpoint string

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if token == "" {
		return nil, tallyErrors.InvalidInput("telegram bot_token is required")
	}
	if chatID == 0 {
		return nil, tallyErrors.InvalidInput("telegram chat_id is required")
	}
	return &Telegram{token: token, chatID: chatID, endpoint: tgbotapi.APIEndpoint}, nil
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Notify(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := t.connect()
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, alert.Text())
	if _, err := bot.Send(msg); err != nil {
		return tallyErrors.Wrap(tallyErrors.MapError(err), "failed to send Telegram message")
	}
	logger.From(ctx).Debug("Telegram alert sent", "chat_id", t.chatID, "case", alert.CaseKey)
	return nil
}

func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.endpoint)
	if err != nil {
		return nil, tallyErrors.Wrap(tallyErrors.MapError(err), "failed to connect Telegram bot")
	}
	t.bot = bot
	return bot, nil
}
