// Package submitter hands matched requests to the download daemon and
// records accepted links in the history.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rss_transmission/internal/model"
	"rss_transmission/internal/transmission"
)

// DefaultTimeout bounds a single submission.
const DefaultTimeout = 5 * time.Second

// Kind classifies a failed submission.
type Kind int

// Failure kinds.
const (
	KindConnection Kind = iota + 1
	KindRejected
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindRejected:
		return "rejected"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinels matching each Kind through errors.Is.
var (
	ErrConnection = errors.New("error connecting to Transmission")
	ErrRejected   = errors.New("Transmission rejected the torrent")
	ErrTimeout    = errors.New("connection timed out")
)

// Error describes a failed submission.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.sentinel(), e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
	default:
		return e.sentinel().Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindRejected:
		return ErrRejected
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrConnection
	}
}

// Adder is the downloader RPC used to add torrents.
type Adder interface {
	Add(ctx context.Context, req transmission.AddRequest) (*transmission.AddResult, error)
}

// Recorder records accepted links.
type Recorder interface {
	Record(ctx context.Context, link, title string) error
}

// Notifier is told about every accepted request.
type Notifier interface {
	Notify(ctx context.Context, req model.Request) error
}

// Submitter sends requests to the daemon. It reports outcomes only and has
// no retry policy of its own.
type Submitter struct {
	client        Adder
	history       Recorder
	notifier      Notifier
	log           *slog.Logger
	timeout       time.Duration
	notifyTimeout time.Duration
}

// New creates a Submitter.
func New(client Adder, history Recorder, log *slog.Logger) *Submitter {
	return &Submitter{
		client:        client,
		history:       history,
		log:           log,
		timeout:       DefaultTimeout,
		notifyTimeout: DefaultTimeout,
	}
}

// SetTimeout overrides DefaultTimeout.
func (s *Submitter) SetTimeout(d time.Duration) {
	s.timeout = d
}

// SetNotifier registers n to be told about accepted requests.
func (s *Submitter) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetNotifyTimeout bounds how long Submit waits for the notifier.
func (s *Submitter) SetNotifyTimeout(d time.Duration) {
	s.notifyTimeout = d
}

// Submit adds req to the daemon. On success the link is recorded in the
// history; a failure to record it is logged and does not fail the call.
func (s *Submitter) Submit(ctx context.Context, req model.Request) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.Add(ctx, transmission.AddRequest{
		Filename:    req.Link,
		DownloadDir: req.Dir,
		Labels:      req.Labels,
	})
	if err != nil {
		return classify(ctx, err)
	}

	log := s.log.With("link", req.Link, "title", req.Title)
	if res != nil && res.Duplicate {
		log.Info("torrent already known to Transmission")
	} else {
		log.Info("torrent added", "dir", req.Dir)
	}

	// The daemon has accepted the torrent even if ctx runs out from here on.
	bg := context.WithoutCancel(ctx)
	if err := s.history.Record(bg, req.Link, req.Title); err != nil {
		log.Error("failed to save link into db", "error", err)
	}
	if s.notifier != nil {
		s.notify(bg, log, req)
	}
	return nil
}

// notify gives up waiting after notifyTimeout even when the notifier ignores
// ctx. A stalled call finishes in the background.
func (s *Submitter) notify(ctx context.Context, log *slog.Logger, req model.Request) {
	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.notifier.Notify(ctx, req) }()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("notify", "error", err)
		}
	case <-ctx.Done():
		log.Warn("notify timed out", "timeout", s.notifyTimeout)
	}
}

func classify(ctx context.Context, err error) error {
	var rpcErr *transmission.RPCError
	switch {
	case errors.As(err, &rpcErr):
		return &Error{Kind: KindRejected, Reason: rpcErr.Result, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	default:
		return &Error{Kind: KindConnection, Err: err}
	}
}
