package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"rss_transmission/internal/model"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

// hangingTransport blocks until the request context is done.
type hangingTransport struct{}

func (hangingTransport) Do(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t, "../../testdata/sample.xml")

	tests := []struct {
		name      string
		transport HTTPClient
		wantTitle string
		wantItems int
		wantErr   bool
		timeout   bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: xml, statusCode: 200},
			wantTitle: "Example Tracker",
			wantItems: 6,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "not found", statusCode: 404},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			wantErr:   true,
		},
		{
			name:      "deadline exceeded",
			transport: hangingTransport{},
			wantErr:   true,
			timeout:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			f := New(tt.transport)
			feed, err := f.Fetch(ctx, "https://example.com/rss")

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if got := errors.Is(err, ErrTimeout); got != tt.timeout {
					t.Errorf("errors.Is(err, ErrTimeout) = %v, want %v (err: %v)", got, tt.timeout, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tt.wantTitle, feed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, len(feed.Items)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestItemLink(t *testing.T) {
	tests := []struct {
		name string
		item *gofeed.Item
		want string
	}{
		{
			name: "torrent enclosure preferred over link",
			item: &gofeed.Item{
				Link:       "https://example.com/details/1",
				Enclosures: []*gofeed.Enclosure{{URL: "https://example.com/1.torrent", Type: TorrentMIMEType}},
			},
			want: "https://example.com/1.torrent",
		},
		{
			name: "non-torrent enclosure ignored",
			item: &gofeed.Item{
				Link:       "https://example.com/2.torrent",
				Enclosures: []*gofeed.Enclosure{{URL: "https://example.com/2.mp3", Type: "audio/mpeg"}},
			},
			want: "https://example.com/2.torrent",
		},
		{
			name: "torrent enclosure after others",
			item: &gofeed.Item{
				Enclosures: []*gofeed.Enclosure{
					{URL: "https://example.com/3.jpg", Type: "image/jpeg"},
					{URL: "https://example.com/3.torrent", Type: TorrentMIMEType},
				},
			},
			want: "https://example.com/3.torrent",
		},
		{
			name: "no link at all",
			item: &gofeed.Item{Title: "x"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ItemLink(tt.item)); diff != "" {
				t.Errorf("link mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	xml := loadFixture(t, "../../testdata/sample.xml")
	feed, err := gofeed.NewParser().ParseString(xml)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}

	var got []model.Candidate
	for c := range Extract(feed, discardLogger()) {
		got = append(got, c)
	}

	want := []model.Candidate{
		{Link: "https://tracker.example.com/download/1.torrent", Title: "Show S01E01 1080p"},
		{Link: "https://tracker.example.com/download/2.torrent", Title: "Show S01E02 720p"},
		{Link: "https://tracker.example.com/download/3.torrent", Title: "Movie 2024 2160p"},
		{Link: "https://tracker.example.com/download/6.torrent", Title: "Documentary Nature 1080p"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractStopsEarly(t *testing.T) {
	feed := &gofeed.Feed{Items: []*gofeed.Item{
		{Title: "a", Link: "https://example.com/a"},
		{Title: "b", Link: "https://example.com/b"},
	}}

	var got []string
	for c := range Extract(feed, discardLogger()) {
		got = append(got, c.Title)
		break
	}
	if diff := cmp.Diff([]string{"a"}, got); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractNilFeed(t *testing.T) {
	for range Extract(nil, discardLogger()) {
		t.Fatal("expected no candidates from nil feed")
	}
}
