// Package tracker provides the submission history and the retry queue as
// two views over a shared storage backend.
//
// Lookups are fail-open: when the backend cannot answer, the link is
// treated as unknown and the error is logged, so a storage fault never
// stops new items from being discovered.
package tracker

import (
	"context"
	"log/slog"

	"rss_transmission/internal/model"
	"rss_transmission/internal/storage"
)

// History is the set of links the downloader has already accepted.
type History struct {
	store storage.Storage
	log   *slog.Logger
}

// NewHistory creates a History backed by store.
func NewHistory(store storage.Storage, log *slog.Logger) *History {
	return &History{store: store, log: log}
}

// Contains reports whether link was submitted successfully before.
func (h *History) Contains(ctx context.Context, link string) bool {
	ok, err := h.store.HasHistory(ctx, link)
	if err != nil {
		h.log.Error("check history", "link", link, "error", err)
		return false
	}
	return ok
}

// Record marks link as handled.
func (h *History) Record(ctx context.Context, link, title string) error {
	return h.store.AddHistory(ctx, link, title)
}

// Retries is the durable queue of requests whose submission failed.
type Retries struct {
	store storage.Storage
	log   *slog.Logger
}

// NewRetries creates a Retries queue backed by store.
func NewRetries(store storage.Storage, log *slog.Logger) *Retries {
	return &Retries{store: store, log: log}
}

// Contains reports whether link is waiting to be retried.
func (r *Retries) Contains(ctx context.Context, link string) bool {
	ok, err := r.store.HasRetry(ctx, link)
	if err != nil {
		r.log.Error("check retry queue", "link", link, "error", err)
		return false
	}
	return ok
}

// Record queues req after a failed attempt. cause may be nil.
func (r *Retries) Record(ctx context.Context, req model.Request, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.store.PutRetry(ctx, req, msg)
}

// Remove drops link from the queue.
func (r *Retries) Remove(ctx context.Context, link string) error {
	return r.store.DeleteRetry(ctx, link)
}

// Snapshot returns every queued entry.
func (r *Retries) Snapshot(ctx context.Context) ([]model.RetryEntry, error) {
	return r.store.ListRetries(ctx)
}

// Horizon is the union of History and Retries: every link the pipeline has
// already dealt with in some way.
type Horizon struct {
	History *History
	Retries *Retries
}

// Seen reports whether link is in either store.
func (h Horizon) Seen(ctx context.Context, link string) bool {
	return h.History.Contains(ctx, link) || h.Retries.Contains(ctx, link)
}
