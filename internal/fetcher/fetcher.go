// Package fetcher handles RSS feed downloading, parsing, and item extraction.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/mmcdole/gofeed"

	"rss_transmission/internal/model"
)

// TorrentMIMEType is the enclosure type that marks a torrent payload.
const TorrentMIMEType = "application/x-bittorrent"

const maxBodySize = 5 * 1024 * 1024

// ErrTimeout is returned by Fetch when the context deadline expires before
// the feed could be downloaded.
var ErrTimeout = errors.New("connection timeout")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client    HTTPClient
	userAgent string
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:    client,
		userAgent: "rss-transmission/1.0",
	}
}

// Fetch downloads and parses an RSS feed from the given URL. The caller
// bounds the whole operation through ctx.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, timeoutOr(ctx, fmt.Errorf("http get: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, timeoutOr(ctx, fmt.Errorf("read body: %w", err))
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// ItemLink returns the link used to download an item: the URL of a torrent
// enclosure when present, the item link otherwise.
func ItemLink(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.Type == TorrentMIMEType && enc.URL != "" {
			return enc.URL
		}
	}
	return item.Link
}

// Extract yields a candidate for every item that has both a link and a
// title. Incomplete items are skipped with a warning.
func Extract(feed *gofeed.Feed, log *slog.Logger) iter.Seq[model.Candidate] {
	return func(yield func(model.Candidate) bool) {
		if feed == nil {
			return
		}
		for _, item := range feed.Items {
			if item == nil {
				continue
			}
			link := ItemLink(item)
			switch {
			case link == "" && item.Title == "":
				log.Warn("skipping item without link or title", "guid", item.GUID)
				continue
			case link == "":
				log.Warn("no link for item", "title", item.Title)
				continue
			case item.Title == "":
				log.Warn("no title for item", "link", link)
				continue
			}
			if !yield(model.Candidate{Link: link, Title: item.Title}) {
				return
			}
		}
	}
}
