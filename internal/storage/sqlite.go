package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"rss_transmission/internal/model"
	"rss_transmission/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared between goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// HasHistory checks whether a link has already been submitted.
func (s *SQLite) HasHistory(ctx context.Context, link string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history WHERE link = ?`, link,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return count > 0, nil
}

// AddHistory records a submitted link. Recording the same link twice is a no-op.
func (s *SQLite) AddHistory(ctx context.Context, link, title string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO history (link, title, submitted_at) VALUES (?, ?, ?)`,
		link, title, now,
	)
	if err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	return nil
}

// ListHistory returns the most recent submissions, newest first. A limit of
// zero or less returns everything.
func (s *SQLite) ListHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT link, title, submitted_at FROM history
		 ORDER BY submitted_at DESC, link LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var submitted string
		if err := rows.Scan(&e.Link, &e.Title, &submitted); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.SubmittedAt, _ = time.Parse(timeLayout, submitted)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasRetry checks whether a link is waiting in the retry queue.
func (s *SQLite) HasRetry(ctx context.Context, link string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retry_queue WHERE link = ?`, link,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check retry: %w", err)
	}
	return count > 0, nil
}

// PutRetry queues a failed request, bumping the attempt counter when the
// link is already queued.
func (s *SQLite) PutRetry(ctx context.Context, req model.Request, lastError string) error {
	labels, err := encodeLabels(req.Labels)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO retry_queue (link, title, download_dir, labels, feed, attempts, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT(link) DO UPDATE SET
		   title = excluded.title,
		   download_dir = excluded.download_dir,
		   labels = excluded.labels,
		   feed = excluded.feed,
		   attempts = retry_queue.attempts + 1,
		   last_error = excluded.last_error,
		   updated_at = excluded.updated_at`,
		req.Link, req.Title, req.Dir, labels, req.Feed, lastError, now, now,
	)
	if err != nil {
		return fmt.Errorf("put retry: %w", err)
	}
	return nil
}

// DeleteRetry removes a link from the retry queue.
func (s *SQLite) DeleteRetry(ctx context.Context, link string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM retry_queue WHERE link = ?`, link)
	if err != nil {
		return fmt.Errorf("delete retry: %w", err)
	}
	return nil
}

// ListRetries returns every queued request, oldest first.
func (s *SQLite) ListRetries(ctx context.Context) ([]model.RetryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT link, title, download_dir, labels, feed, attempts, last_error, created_at, updated_at
		 FROM retry_queue ORDER BY created_at, link`,
	)
	if err != nil {
		return nil, fmt.Errorf("query retries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.RetryEntry
	for rows.Next() {
		e, err := scanRetry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearRetries empties the retry queue and reports how many entries were removed.
func (s *SQLite) ClearRetries(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM retry_queue`)
	if err != nil {
		return 0, fmt.Errorf("clear retries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRetry(row scannable) (model.RetryEntry, error) {
	var e model.RetryEntry
	var labels, created, updated string
	err := row.Scan(&e.Link, &e.Title, &e.Dir, &labels, &e.Feed, &e.Attempts, &e.LastError, &created, &updated)
	if err != nil {
		return e, fmt.Errorf("scan retry: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &e.Labels); err != nil {
		return e, fmt.Errorf("decode labels for %q: %w", e.Link, err)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, created)
	e.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return e, nil
}

func encodeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("encode labels: %w", err)
	}
	return string(b), nil
}

var _ Storage = (*SQLite)(nil)
