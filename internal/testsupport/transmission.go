package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// FakeSessionID is the token the fake daemon hands out.
const FakeSessionID = "test-session"

// AddCall is a torrent-add call received by FakeTransmission.
type AddCall struct {
	Filename    string   `json:"filename"`
	DownloadDir string   `json:"download-dir"`
	Labels      []string `json:"labels"`
}

// FakeTransmission is an httptest server speaking the torrent-add subset of
// the Transmission RPC protocol.
type FakeTransmission struct {
	*httptest.Server

	mu       sync.Mutex
	calls    []AddCall
	results  map[string]string
	delays   map[string]time.Duration
	known    map[string]bool
	fallback string
	status   int
}

// NewFakeTransmission starts a fake daemon and registers cleanup.
func NewFakeTransmission(t testing.TB) *FakeTransmission {
	t.Helper()
	f := &FakeTransmission{
		results:  map[string]string{},
		delays:   map[string]time.Duration{},
		known:    map[string]bool{},
		fallback: "success",
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// RPCURL is the endpoint clients should use.
func (f *FakeTransmission) RPCURL() string {
	return f.URL + "/transmission/rpc"
}

// Reject makes torrent-add for filename answer with result.
func (f *FakeTransmission) Reject(filename, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[filename] = result
}

// RejectAll makes every torrent-add without a specific result answer with result.
func (f *FakeTransmission) RejectAll(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = result
}

// Accept clears every rejection and status override.
func (f *FakeTransmission) Accept() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = map[string]string{}
	f.fallback = "success"
	f.status = 0
}

// Delay holds the response for filename for d.
func (f *FakeTransmission) Delay(filename string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[filename] = d
}

// FailStatus answers every authenticated call with the given HTTP status.
func (f *FakeTransmission) FailStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = code
}

// Calls returns the torrent-add calls received so far, including rejected ones.
func (f *FakeTransmission) Calls() []AddCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]AddCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// Filenames returns the filename of every call received so far.
func (f *FakeTransmission) Filenames() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Filename
	}
	return out
}

func (f *FakeTransmission) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Transmission-Session-Id") != FakeSessionID {
		w.Header().Set("X-Transmission-Session-Id", FakeSessionID)
		w.WriteHeader(http.StatusConflict)
		return
	}

	f.mu.Lock()
	status := f.status
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	var req struct {
		Method    string  `json:"method"`
		Arguments AddCall `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Arguments)
	result, ok := f.results[req.Arguments.Filename]
	if !ok {
		result = f.fallback
	}
	delay := f.delays[req.Arguments.Filename]
	duplicate := f.known[req.Arguments.Filename]
	if result == "success" {
		f.known[req.Arguments.Filename] = true
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	resp := map[string]any{"result": result}
	if result == "success" {
		key := "torrent-added"
		if duplicate {
			key = "torrent-duplicate"
		}
		resp["arguments"] = map[string]any{
			key: map[string]any{"id": 1, "name": req.Arguments.Filename, "hashString": "abc"},
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
