// Package notify delivers rendered purchase messages to chat destinations.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/monitoring/metrics"
)

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	bot *bot.Bot
	log *slog.Logger
}

// TelegramOption customizes the underlying bot client.
type TelegramOption func(*[]bot.Option)

// WithServerURL points the client at a different Bot API server.
func WithServerURL(url string) TelegramOption {
	return func(opts *[]bot.Option) {
		*opts = append(*opts, bot.WithServerURL(url))
	}
}

// NewTelegram creates a Telegram notifier. It does not contact the API.
func NewTelegram(token string, options ...TelegramOption) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	opts := []bot.Option{bot.WithSkipGetMe()}
	for _, o := range options {
		o(&opts)
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{
		bot: b,
		log: slog.Default().With("component", "telegram"),
	}, nil
}

// ChatID converts a destination id to a Bot API chat id. Numeric ids are sent as
// integers, anything else (e.g. "@channel") verbatim.
func ChatID(dest string) any {
	if id, err := strconv.ParseInt(dest, 10, 64); err == nil {
		return id
	}
	return dest
}

// SendMessage sends an HTML message with link previews disabled.
func (t *Telegram) SendMessage(ctx context.Context, dest string, msg domain.RenderedMessage) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    ChatID(dest),
		Text:      msg.Text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: bot.True(),
		},
	})
	if err != nil {
		metrics.NotifierSends.WithLabelValues("message", "error").Inc()
		return fmt.Errorf("%w: send message to %s: %v", domain.ErrNotifierDeliveryFailed, dest, err)
	}
	metrics.NotifierSends.WithLabelValues("message", "ok").Inc()
	return nil
}

// SendAnimation sends an animation by URL.
func (t *Telegram) SendAnimation(ctx context.Context, dest string, url string) error {
	_, err := t.bot.SendAnimation(ctx, &bot.SendAnimationParams{
		ChatID:    ChatID(dest),
		Animation: &models.InputFileString{Data: url},
	})
	if err != nil {
		metrics.NotifierSends.WithLabelValues("animation", "error").Inc()
		return fmt.Errorf("%w: send animation to %s: %v", domain.ErrNotifierDeliveryFailed, dest, err)
	}
	metrics.NotifierSends.WithLabelValues("animation", "ok").Inc()
	return nil
}

// Reply sends a plain HTML reply to a command.
func (t *Telegram) Reply(ctx context.Context, dest string, text string) error {
	return t.SendMessage(ctx, dest, domain.RenderedMessage{Destination: dest, Text: text})
}
