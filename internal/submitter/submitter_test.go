package submitter

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rss_transmission/internal/model"
	"rss_transmission/internal/testsupport"
	"rss_transmission/internal/tracker"
	"rss_transmission/internal/transmission"
)

type mockNotifier struct {
	mu    sync.Mutex
	links []string
	err   error
}

func (m *mockNotifier) Notify(_ context.Context, req model.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, req.Link)
	return m.err
}

// stallingNotifier blocks for delay without looking at its context, like a
// Telegram send over a hung connection.
type stallingNotifier struct {
	delay    time.Duration
	deadline chan bool
}

func (n *stallingNotifier) Notify(ctx context.Context, _ model.Request) error {
	_, ok := ctx.Deadline()
	n.deadline <- ok
	time.Sleep(n.delay)
	return nil
}

type errAdder struct{ err error }

func (a errAdder) Add(context.Context, transmission.AddRequest) (*transmission.AddResult, error) {
	return nil, a.err
}

func newTestSubmitter(t *testing.T) (*Submitter, *testsupport.FakeTransmission, *testsupport.FaultyStore) {
	t.Helper()
	daemon := testsupport.NewFakeTransmission(t)
	store := testsupport.NewFaultyStore(testsupport.MustOpenStore(t))
	log := testsupport.DiscardLogger()
	s := New(transmission.New(daemon.RPCURL(), "", "", nil), tracker.NewHistory(store, log), log)
	return s, daemon, store
}

var request = model.Request{
	Link:   "https://example.com/1.torrent",
	Title:  "Show S01E01",
	Dir:    "/downloads/tv",
	Labels: []string{"tv"},
}

func TestSubmitSuccess(t *testing.T) {
	ctx := context.Background()
	s, daemon, store := newTestSubmitter(t)
	n := &mockNotifier{}
	s.SetNotifier(n)

	if err := s.Submit(ctx, request); err != nil {
		t.Fatalf("submit: %v", err)
	}

	want := []testsupport.AddCall{{Filename: request.Link, DownloadDir: request.Dir, Labels: request.Labels}}
	if diff := cmp.Diff(want, daemon.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	seen, err := store.HasHistory(ctx, request.Link)
	if err != nil {
		t.Fatalf("has history: %v", err)
	}
	if !seen {
		t.Error("expected accepted link to be recorded in history")
	}
	if diff := cmp.Diff([]string{request.Link}, n.links); diff != "" {
		t.Errorf("notified links mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitHistoryWriteFailureStillSucceeds(t *testing.T) {
	s, _, store := newTestSubmitter(t)
	store.Fail("AddHistory")

	if err := s.Submit(context.Background(), request); err != nil {
		t.Fatalf("history write failure must not fail the submission: %v", err)
	}
}

func TestSubmitNotifyFailureStillSucceeds(t *testing.T) {
	s, _, _ := newTestSubmitter(t)
	s.SetNotifier(&mockNotifier{err: errors.New("telegram down")})

	if err := s.Submit(context.Background(), request); err != nil {
		t.Fatalf("notify failure must not fail the submission: %v", err)
	}
}

func TestSubmitStalledNotifierIsBounded(t *testing.T) {
	ctx := context.Background()
	s, _, store := newTestSubmitter(t)
	n := &stallingNotifier{delay: 2 * time.Second, deadline: make(chan bool, 1)}
	s.SetNotifier(n)
	s.SetTimeout(200 * time.Millisecond)
	s.SetNotifyTimeout(100 * time.Millisecond)

	start := time.Now()
	if err := s.Submit(ctx, request); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("submit took %v, want it bounded by the submit and notify timeouts", elapsed)
	}
	if !<-n.deadline {
		t.Error("expected notifier context to carry a deadline")
	}

	seen, err := store.HasHistory(ctx, request.Link)
	if err != nil {
		t.Fatalf("has history: %v", err)
	}
	if !seen {
		t.Error("expected accepted link to be recorded despite the stalled notifier")
	}
}

func TestSubmitRejected(t *testing.T) {
	ctx := context.Background()
	s, daemon, store := newTestSubmitter(t)
	daemon.Reject(request.Link, "invalid or corrupt torrent file")

	err := s.Submit(ctx, request)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if diff := cmp.Diff("invalid or corrupt torrent file", serr.Reason); diff != "" {
		t.Errorf("reason mismatch (-want +got):\n%s", diff)
	}

	seen, _ := store.HasHistory(ctx, request.Link)
	if seen {
		t.Error("rejected link must not be recorded in history")
	}
}

func TestSubmitTimeout(t *testing.T) {
	s, daemon, store := newTestSubmitter(t)
	daemon.Delay(request.Link, time.Second)
	s.SetTimeout(50 * time.Millisecond)

	err := s.Submit(context.Background(), request)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	seen, _ := store.HasHistory(context.Background(), request.Link)
	if seen {
		t.Error("timed out link must not be recorded in history")
	}
}

func TestSubmitConnectionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "transport error", err: errors.New("dial tcp: connection refused")},
		{name: "http status", err: &transmission.StatusError{Code: http.StatusUnauthorized}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testsupport.MustOpenStore(t)
			log := testsupport.DiscardLogger()
			s := New(errAdder{err: tt.err}, tracker.NewHistory(store, log), log)

			err := s.Submit(context.Background(), request)
			if !errors.Is(err, ErrConnection) {
				t.Fatalf("expected ErrConnection, got %v", err)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("expected cause to be wrapped, got %v", err)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{err: &Error{Kind: KindConnection, Err: errors.New("refused")}, want: "error connecting to Transmission: refused"},
		{err: &Error{Kind: KindRejected, Reason: "duplicate"}, want: "Transmission rejected the torrent: duplicate"},
		{err: &Error{Kind: KindTimeout}, want: "connection timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Kind.String(), func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.err.Error()); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
