// Package testsupport holds helpers shared by package tests.
package testsupport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"rss_transmission/internal/model"
	"rss_transmission/internal/storage"
)

// ErrInjected is returned by FaultyStore operations that were set to fail.
var ErrInjected = errors.New("injected storage failure")

// MustOpenStore opens an in-memory SQLite store and registers cleanup.
func MustOpenStore(t testing.TB) *storage.SQLite {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("storage.NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FaultyStore wraps a Storage and fails selected operations on demand.
type FaultyStore struct {
	storage.Storage

	mu    sync.Mutex
	fails map[string]bool
}

// NewFaultyStore wraps inner.
func NewFaultyStore(inner storage.Storage) *FaultyStore {
	return &FaultyStore{Storage: inner, fails: map[string]bool{}}
}

// Fail makes the named operations (method names such as "HasHistory")
// return ErrInjected until Heal is called.
func (f *FaultyStore) Fail(ops ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range ops {
		f.fails[op] = true
	}
}

// Heal clears all injected failures.
func (f *FaultyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = map[string]bool{}
}

func (f *FaultyStore) failing(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fails[op]
}

func (f *FaultyStore) HasHistory(ctx context.Context, link string) (bool, error) {
	if f.failing("HasHistory") {
		return false, ErrInjected
	}
	return f.Storage.HasHistory(ctx, link)
}

func (f *FaultyStore) AddHistory(ctx context.Context, link, title string) error {
	if f.failing("AddHistory") {
		return ErrInjected
	}
	return f.Storage.AddHistory(ctx, link, title)
}

func (f *FaultyStore) HasRetry(ctx context.Context, link string) (bool, error) {
	if f.failing("HasRetry") {
		return false, ErrInjected
	}
	return f.Storage.HasRetry(ctx, link)
}

func (f *FaultyStore) PutRetry(ctx context.Context, req model.Request, lastError string) error {
	if f.failing("PutRetry") {
		return ErrInjected
	}
	return f.Storage.PutRetry(ctx, req, lastError)
}

func (f *FaultyStore) DeleteRetry(ctx context.Context, link string) error {
	if f.failing("DeleteRetry") {
		return ErrInjected
	}
	return f.Storage.DeleteRetry(ctx, link)
}

func (f *FaultyStore) ListRetries(ctx context.Context) ([]model.RetryEntry, error) {
	if f.failing("ListRetries") {
		return nil, ErrInjected
	}
	return f.Storage.ListRetries(ctx)
}
