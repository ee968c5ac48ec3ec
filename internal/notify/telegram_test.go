package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"rss_transmission/internal/model"
)

type sentMsg struct {
	ChatID int64
	Text   string
}

type mockAPI struct {
	mu    sync.Mutex
	sent  []sentMsg
	err   error
	block chan struct{}
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.block != nil {
		<-m.block
	}
	if m.err != nil {
		return tgbotapi.Message{}, m.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func TestFormatNotification(t *testing.T) {
	tests := []struct {
		name string
		req  model.Request
		want string
	}{
		{
			name: "full request",
			req: model.Request{
				Title:  "Show S01E01 1080p",
				Dir:    "/downloads/tv",
				Labels: []string{"tv", "hd"},
				Feed:   "Tracker",
			},
			want: "[Tracker]\n\nAdded: Show S01E01 1080p\nDirectory: /downloads/tv\nLabels: tv, hd",
		},
		{
			name: "title only",
			req:  model.Request{Title: "Movie"},
			want: "Added: Movie",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatNotification(tt.req)); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNotify(t *testing.T) {
	api := &mockAPI{}
	n := &Telegram{api: api, chatID: 42}

	if err := n.Notify(context.Background(), model.Request{Title: "Movie"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	want := []sentMsg{{ChatID: 42, Text: "Added: Movie"}}
	if diff := cmp.Diff(want, api.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestNotifyError(t *testing.T) {
	api := &mockAPI{err: errors.New("forbidden")}
	n := &Telegram{api: api, chatID: 42}

	if err := n.Notify(context.Background(), model.Request{Title: "Movie"}); err == nil {
		t.Fatal("expected send error")
	}
}

func TestNotifyCancelled(t *testing.T) {
	api := &mockAPI{}
	n := &Telegram{api: api, chatID: 42}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Notify(ctx, model.Request{Title: "Movie"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(api.sent) != 0 {
		t.Errorf("expected no message, got %d", len(api.sent))
	}
}

func TestNotifyStalledSend(t *testing.T) {
	api := &mockAPI{block: make(chan struct{})}
	defer close(api.block)
	n := &Telegram{api: api, chatID: 42}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := n.Notify(ctx, model.Request{Title: "Movie"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("notify took %v, want it to return at the deadline", elapsed)
	}
}
