// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"rss_transmission/internal/model"
)

// Storage is the interface for all persistence operations. It keeps two
// independent namespaces keyed by link: the submission history and the
// retry queue.
type Storage interface {
	HasHistory(ctx context.Context, link string) (bool, error)
	AddHistory(ctx context.Context, link, title string) error
	ListHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error)

	HasRetry(ctx context.Context, link string) (bool, error)
	// PutRetry inserts the entry or, when the link is already queued,
	// replaces its request data and increments its attempt counter.
	PutRetry(ctx context.Context, req model.Request, lastError string) error
	DeleteRetry(ctx context.Context, link string) error
	ListRetries(ctx context.Context) ([]model.RetryEntry, error)
	ClearRetries(ctx context.Context) (int64, error)

	Close() error
}
