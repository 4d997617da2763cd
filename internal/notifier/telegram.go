package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"sleepwatch/internal/domain"
)

// Telegram sends notifications as messages to a single chat.
type Telegram struct {
	bot    *tgbot.Bot
	chatID string
	log    logrus.FieldLogger
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram creates a Telegram notifier. serverURL overrides the Bot API host when set.
func NewTelegram(token, chatID, serverURL string, timeout time.Duration, logger logrus.FieldLogger) (*Telegram, error) {
	log := logger.WithField("component", "telegram")

	opts := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithHTTPClient(timeout, &http.Client{Timeout: timeout}),
	}
	if serverURL != "" {
		opts = append(opts, tgbot.WithServerURL(serverURL))
	}

	b, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.WithField("chat_id", chatID).Info("Telegram notifier initialized")
	return &Telegram{bot: b, chatID: chatID, log: log}, nil
}

// Notify sends n as a plain-text message. Low priority messages are sent silently.
func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	text := strings.Join([]string{n.Title, n.Message, n.URL}, "\n")

	msg, err := t.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:              t.chatID,
		Text:                text,
		DisableNotification: n.Priority == domain.PriorityLow,
	})
	if err != nil {
		t.log.WithError(err).Warn("Telegram rejected notification")
		return fmt.Errorf("%w: telegram: %v", ErrDeliveryFailed, err)
	}

	t.log.WithField("message_id", msg.ID).Debug("Telegram accepted notification")
	return nil
}
