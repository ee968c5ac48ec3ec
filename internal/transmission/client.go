// Package transmission is a minimal client for the Transmission daemon's
// JSON RPC interface.
package transmission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// SessionHeader carries the CSRF token Transmission requires on every call.
const SessionHeader = "X-Transmission-Session-Id"

const maxResponseSize = 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RPCError is returned when the daemon processed the call but reported a
// result other than "success".
type RPCError struct {
	Method string
	Result string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Result)
}

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// AddRequest describes a torrent-add call.
type AddRequest struct {
	// Filename is a URL or magnet link the daemon downloads the torrent from.
	Filename    string   `json:"filename"`
	DownloadDir string   `json:"download-dir,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Paused      bool     `json:"paused,omitempty"`
}

// Torrent is the subset of torrent fields returned by torrent-add.
type Torrent struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	HashString string `json:"hashString"`
}

// AddResult is the outcome of a successful torrent-add.
type AddResult struct {
	Torrent
	// Duplicate is set when the daemon already had the torrent.
	Duplicate bool
}

// Client talks to a Transmission daemon.
type Client struct {
	url      string
	username string
	password string
	http     HTTPClient

	mu        sync.Mutex
	sessionID string
}

// New creates a Client for the RPC endpoint at url. Basic auth is sent when
// username is not empty.
func New(url, username, password string, client HTTPClient) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		url:      url,
		username: username,
		password: password,
		http:     client,
	}
}

// Add asks the daemon to download the torrent at req.Filename.
func (c *Client) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	var args struct {
		Added     *Torrent `json:"torrent-added"`
		Duplicate *Torrent `json:"torrent-duplicate"`
	}
	if err := c.call(ctx, "torrent-add", req, &args); err != nil {
		return nil, err
	}
	switch {
	case args.Added != nil:
		return &AddResult{Torrent: *args.Added}, nil
	case args.Duplicate != nil:
		return &AddResult{Torrent: *args.Duplicate, Duplicate: true}, nil
	default:
		return &AddResult{}, nil
	}
}

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

func (c *Client) call(ctx context.Context, method string, args, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	// The first call of a session is answered with 409 and the token to use.
	if resp.StatusCode == http.StatusConflict {
		id := resp.Header.Get(SessionHeader)
		drain(resp)
		if id == "" {
			return &StatusError{Code: resp.StatusCode}
		}
		c.setSession(id)
		resp, err = c.post(ctx, body)
		if err != nil {
			return err
		}
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	var rr rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&rr); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rr.Result != "success" {
		return &RPCError{Method: method, Result: rr.Result}
	}
	if out != nil && len(rr.Arguments) > 0 {
		if err := json.Unmarshal(rr.Arguments, out); err != nil {
			return fmt.Errorf("decode %s arguments: %w", method, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := c.session(); id != "" {
		req.Header.Set(SessionHeader, id)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	return resp, nil
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
}
