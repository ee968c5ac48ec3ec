// Package pipeline drives a complete acquisition run: fetch every feed,
// submit matching items, then retry previously failed submissions.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rss_transmission/internal/fetcher"
	"rss_transmission/internal/filter"
	"rss_transmission/internal/model"
	"rss_transmission/internal/tracker"
)

// DefaultFetchTimeout bounds the download of a single feed.
const DefaultFetchTimeout = 5 * time.Second

// Phase is a step of a run.
type Phase string

// Run phases, in order.
const (
	PhaseFetching   Phase = "fetching"
	PhaseSubmitting Phase = "submitting"
	PhaseRetrying   Phase = "retrying"
	PhaseDone       Phase = "done"
)

// Submitter sends a single request to the download daemon.
type Submitter interface {
	Submit(ctx context.Context, req model.Request) error
}

// Summary counts what a run did.
type Summary struct {
	Feeds     int
	Requests  int
	Submitted int
	Failed    int
	Retried   int
	Recovered int
}

// Runner executes acquisition runs over a fixed set of feeds.
type Runner struct {
	feeds        []model.Feed
	baseDir      string
	fetcher      *fetcher.Fetcher
	horizon      tracker.Horizon
	submitter    Submitter
	log          *slog.Logger
	fetchTimeout time.Duration
	concurrency  int
}

// New creates a Runner. Download directories of matched rules are resolved
// against baseDir.
func New(feeds []model.Feed, baseDir string, f *fetcher.Fetcher, horizon tracker.Horizon, sub Submitter, log *slog.Logger) *Runner {
	return &Runner{
		feeds:        feeds,
		baseDir:      baseDir,
		fetcher:      f,
		horizon:      horizon,
		submitter:    sub,
		log:          log,
		fetchTimeout: DefaultFetchTimeout,
	}
}

// SetFetchTimeout overrides DefaultFetchTimeout.
func (r *Runner) SetFetchTimeout(d time.Duration) {
	r.fetchTimeout = d
}

// SetConcurrency limits how many feeds or submissions are in flight at
// once. Zero means no limit.
func (r *Runner) SetConcurrency(n int) {
	r.concurrency = n
}

// Run performs one full cycle. Failures of individual feeds or submissions
// are logged and never abort the run.
func (r *Runner) Run(ctx context.Context) Summary {
	log := r.log.With("run_id", uuid.NewString())
	sum := Summary{Feeds: len(r.feeds)}

	log.Info("run started", "phase", PhaseFetching, "feeds", len(r.feeds))
	requests := r.fetchAll(ctx, log)
	sum.Requests = len(requests)

	log.Info("submitting", "phase", PhaseSubmitting, "requests", len(requests))
	sum.Submitted, sum.Failed = r.submitAll(ctx, log, requests)

	if ctx.Err() == nil {
		log.Info("retrying", "phase", PhaseRetrying)
		sum.Retried, sum.Recovered = r.retryAll(ctx, log)
	}

	log.Info("run finished", "phase", PhaseDone,
		"requests", sum.Requests,
		"submitted", sum.Submitted,
		"failed", sum.Failed,
		"retried", sum.Retried,
		"recovered", sum.Recovered,
	)
	return sum
}

// RunEvery runs once immediately and then on every tick of interval until
// ctx is cancelled.
func (r *Runner) RunEvery(ctx context.Context, interval time.Duration) {
	r.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Run(ctx)
		}
	}
}

func (r *Runner) group() *errgroup.Group {
	g := &errgroup.Group{}
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	return g
}

func (r *Runner) fetchAll(ctx context.Context, log *slog.Logger) []model.Request {
	perFeed := make([][]model.Request, len(r.feeds))
	g := r.group()
	for i, feed := range r.feeds {
		g.Go(func() error {
			perFeed[i] = r.checkFeed(ctx, log, feed)
			return nil
		})
	}
	_ = g.Wait()

	// Two feeds may carry the same item; it is submitted once.
	seen := make(map[string]bool)
	var out []model.Request
	for _, reqs := range perFeed {
		for _, req := range reqs {
			if seen[req.Link] {
				continue
			}
			seen[req.Link] = true
			out = append(out, req)
		}
	}
	return out
}

// checkFeed fetches one feed and returns requests for the new items that
// match one of its rules, in feed order.
func (r *Runner) checkFeed(ctx context.Context, log *slog.Logger, feed model.Feed) []model.Request {
	log = log.With("feed", feed.Name)
	log.Debug("processing feed", "url", feed.URL)

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	parsed, err := r.fetcher.Fetch(fetchCtx, feed.URL)
	cancel()
	if err != nil {
		if errors.Is(err, fetcher.ErrTimeout) {
			log.Error("connection timeout", "url", feed.URL)
		} else {
			log.Error("fetch feed", "url", feed.URL, "error", err)
		}
		return nil
	}

	var out []model.Request
	for c := range fetcher.Extract(parsed, log) {
		if r.horizon.Seen(ctx, c.Link) {
			continue
		}
		rule, ok := filter.Match(c.Title, feed.Rules)
		if !ok {
			continue
		}
		log.Info("title matches rule", "title", c.Title, "filter", rule.Filter)
		out = append(out, model.Request{
			Link:   c.Link,
			Title:  c.Title,
			Dir:    filepath.Join(r.baseDir, rule.Dir),
			Labels: rule.Labels,
			Feed:   feed.Name,
		})
	}
	return out
}

func (r *Runner) submitAll(ctx context.Context, log *slog.Logger, requests []model.Request) (ok, failed int) {
	var okN, failedN atomic.Int64
	g := r.group()
	for _, req := range requests {
		g.Go(func() error {
			err := r.submitter.Submit(ctx, req)
			if err == nil {
				okN.Add(1)
				return nil
			}
			failedN.Add(1)
			log.Error("error while adding torrent", "link", req.Link, "title", req.Title, "error", err)
			if err := r.horizon.Retries.Record(ctx, req, err); err != nil {
				log.Error("queue for retry", "link", req.Link, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(okN.Load()), int(failedN.Load())
}

func (r *Runner) retryAll(ctx context.Context, log *slog.Logger) (retried, recovered int) {
	entries, err := r.horizon.Retries.Snapshot(ctx)
	if err != nil {
		log.Error("read retry queue", "error", err)
		return 0, 0
	}

	var recoveredN atomic.Int64
	g := r.group()
	for _, entry := range entries {
		g.Go(func() error {
			elog := log.With("link", entry.Link, "title", entry.Title, "attempts", entry.Attempts)
			err := r.submitter.Submit(ctx, entry.Request)
			if err != nil {
				elog.Warn("retry failed", "error", err)
				if err := r.horizon.Retries.Record(ctx, entry.Request, err); err != nil {
					elog.Error("update retry entry", "error", err)
				}
				return nil
			}
			recoveredN.Add(1)
			if err := r.horizon.Retries.Remove(ctx, entry.Link); err != nil {
				elog.Error("remove retry entry", "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(entries), int(recoveredN.Load())
}
