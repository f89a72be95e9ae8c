package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// templates maps a template key to its message text. Placeholders of the
// form {name} are substituted from the data map.
var templates = map[string]string{
	TemplateUpcomingReminder: "Напоминание: вы записаны на {service} {date} в {time}. Ждём вас!",
	TemplateSessionRecovery:  "Вы не завершили запись. Вернуться и выбрать время можно в любой момент.",
	TemplateRetentionNudge:   "Давно не виделись! Запишитесь на следующий визит — свободные окна уже открыты.",
}

// botAPI is the slice of tgbotapi.BotAPI the notifier needs.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier delivers messages through the Telegram Bot API. The
// recipient is the chat id in decimal form.
type TelegramNotifier struct {
	bot    botAPI
	logger *zerolog.Logger
}

// NewTelegramNotifier creates a notifier backed by an authorized bot.
func NewTelegramNotifier(bot botAPI, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, logger: logger}
}

// Send renders the template and pushes it to the recipient's chat. The
// context deadline is honored before the API call; tgbotapi itself does not
// take a context.
func (n *TelegramNotifier) Send(ctx context.Context, recipient, channel, templateKey string, data map[string]string) error {
	if channel != ChannelTelegram {
		return fmt.Errorf("%w: %s", ErrUnsupportedChannel, channel)
	}

	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("parse recipient chat id %q: %w", recipient, err)
	}

	text, err := renderTemplate(templateKey, data)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return n.wrapAPIError(err, chatID)
	}

	n.logger.Debug().
		Int64("chat_id", chatID).
		Str("template", templateKey).
		Msg("telegram message delivered")
	return nil
}

// wrapAPIError converts a tgbotapi error into a typed APIError so the
// dispatcher can distinguish throttling from hard failures.
func (n *TelegramNotifier) wrapAPIError(err error, chatID int64) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		apiErr := &APIError{Code: tgErr.Code, Message: tgErr.Message}
		if tgErr.ResponseParameters.RetryAfter > 0 {
			apiErr.RetryAfter = tgErr.ResponseParameters.RetryAfter
		}
		n.logger.Warn().
			Int64("chat_id", chatID).
			Int("code", apiErr.Code).
			Int("retry_after", apiErr.RetryAfter).
			Msg("telegram api rejected message")
		return apiErr
	}
	return fmt.Errorf("telegram send to %d: %w", chatID, err)
}

func renderTemplate(key string, data map[string]string) (string, error) {
	tpl, ok := templates[key]
	if !ok {
		return "", fmt.Errorf("unknown template %q", key)
	}
	if len(data) == 0 {
		return tpl, nil
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl), nil
}
