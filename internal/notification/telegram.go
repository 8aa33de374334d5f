package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	BotToken string // Bot API token from @BotFather
	ChatID   string // target chat/group/channel ID
	Endpoint string // API endpoint format; tgbotapi.APIEndpoint when empty
}

// NewTelegramNotifier authenticates the bot and returns a notifier.
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: chat id %q: %w", cfg.ChatID, err)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	log.Printf("[telegram] authorized as %s", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, formatTelegram(alert))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

func formatTelegram(alert Alert) string {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}
	esc := func(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s) }
	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, esc(alert.Title), esc(alert.Message))
	if alert.Symbol != "" {
		text += "\n\n`" + esc(alert.Symbol+":"+alert.Strategy) + "`"
	}
	return text
}
