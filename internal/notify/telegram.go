// Package notify sends a Telegram message for every torrent handed to the
// download daemon.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_transmission/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts notifications to a single chat.
type Telegram struct {
	api    telegramAPI
	chatID int64
}

// NewTelegram creates a notifier for the bot identified by token. Every
// Bot API request, including the getMe check made here, is bounded by timeout.
func NewTelegram(token string, chatID int64, timeout time.Duration) (*Telegram, error) {
	client := &http.Client{Timeout: timeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID}, nil
}

// Notify sends a message describing req. It returns when ctx is done even
// if the send is still in flight.
func (t *Telegram) Notify(ctx context.Context, req model.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatNotification(req))
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := t.api.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send message to chat %d: %w", t.chatID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send message to chat %d: %w", t.chatID, ctx.Err())
	}
}

// FormatNotification formats an accepted request as a Telegram message.
func FormatNotification(req model.Request) string {
	var b strings.Builder
	if req.Feed != "" {
		fmt.Fprintf(&b, "[%s]\n\n", req.Feed)
	}
	b.WriteString("Added: ")
	b.WriteString(req.Title)
	if req.Dir != "" {
		b.WriteString("\nDirectory: ")
		b.WriteString(req.Dir)
	}
	if len(req.Labels) > 0 {
		b.WriteString("\nLabels: ")
		b.WriteString(strings.Join(req.Labels, ", "))
	}
	return b.String()
}
