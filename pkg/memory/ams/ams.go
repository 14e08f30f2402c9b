// Package ams implements [memory.WorkingMemory] on top of the Agent Memory
// Server REST API.
//
// The client talks to three endpoints:
//
//	GET    /v1/working-memory/{sessionID}?namespace=…
//	PUT    /v1/working-memory/{sessionID}?context_window_max=…
//	DELETE /v1/working-memory/{sessionID}?namespace=…
//
// A 404 on GET is treated as an empty session. The server summarises the
// history itself once it exceeds the context window sent on PUT.
package ams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/ana/pkg/memory"
)

const (
	// DefaultBaseURL is the default address of a locally running memory server.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultContextWindowMax is the token window sent with every PUT.
	DefaultContextWindowMax = 4000

	clientVersion = "0.12.0"
)

var _ memory.WorkingMemory = (*Client)(nil)

// Client is an HTTP client for the memory server. It is safe for concurrent use.
type Client struct {
	baseURL          string
	contextWindowMax int
	httpClient       *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithContextWindowMax overrides [DefaultContextWindowMax]. Non-positive
// values are ignored.
func WithContextWindowMax(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.contextWindowMax = n
		}
	}
}

// WithTimeout sets a per-request timeout on the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a Client for the server at baseURL. An empty baseURL selects
// [DefaultBaseURL].
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("ams: parse base url: %w", err)
	}
	c := &Client{
		baseURL:          baseURL,
		contextWindowMax: DefaultContextWindowMax,
		httpClient:       &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// workingMemory is the wire shape of the server's working memory document.
type workingMemory struct {
	SessionID string           `json:"session_id"`
	Namespace string           `json:"namespace"`
	Context   string           `json:"context"`
	Messages  []memory.Message `json:"messages"`
}

// Read implements [memory.WorkingMemory].
func (c *Client) Read(ctx context.Context, sessionID, namespace string) (memory.Memory, error) {
	q := url.Values{"namespace": {namespace}}
	resp, err := c.do(ctx, http.MethodGet, sessionID, q, nil)
	if err != nil {
		return memory.Memory{}, fmt.Errorf("ams: read %s/%s: %w", namespace, sessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return memory.Memory{}, nil
	}
	if err := checkStatus(resp); err != nil {
		return memory.Memory{}, fmt.Errorf("ams: read %s/%s: %w", namespace, sessionID, err)
	}

	var wm workingMemory
	if err := json.NewDecoder(resp.Body).Decode(&wm); err != nil {
		return memory.Memory{}, fmt.Errorf("ams: read %s/%s: decode: %w", namespace, sessionID, err)
	}
	return memory.Memory{Context: wm.Context, Messages: wm.Messages}, nil
}

// Replace implements [memory.WorkingMemory].
func (c *Client) Replace(ctx context.Context, sessionID, namespace string, m memory.Memory) error {
	msgs := m.Messages
	if msgs == nil {
		msgs = []memory.Message{}
	}
	body, err := json.Marshal(workingMemory{
		SessionID: sessionID,
		Namespace: namespace,
		Context:   m.Context,
		Messages:  msgs,
	})
	if err != nil {
		return fmt.Errorf("ams: replace %s/%s: encode: %w", namespace, sessionID, err)
	}

	q := url.Values{"context_window_max": {strconv.Itoa(c.contextWindowMax)}}
	resp, err := c.do(ctx, http.MethodPut, sessionID, q, body)
	if err != nil {
		return fmt.Errorf("ams: replace %s/%s: %w", namespace, sessionID, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("ams: replace %s/%s: %w", namespace, sessionID, err)
	}
	return nil
}

// Delete implements [memory.WorkingMemory].
func (c *Client) Delete(ctx context.Context, sessionID, namespace string) error {
	q := url.Values{"namespace": {namespace}}
	resp, err := c.do(ctx, http.MethodDelete, sessionID, q, nil)
	if err != nil {
		return fmt.Errorf("ams: delete %s/%s: %w", namespace, sessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("ams: delete %s/%s: %w", namespace, sessionID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, sessionID string, q url.Values, body []byte) (*http.Response, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id must not be empty")
	}
	u := c.baseURL + "/v1/working-memory/" + url.PathEscape(sessionID) + "?" + q.Encode()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Version", clientVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
