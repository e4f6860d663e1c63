// Package apiclient talks to the NAS OS backend over its /api/v1 REST surface.
//
// Every screen of the console goes through one Client. The client attaches the
// current bearer token when there is one, turns non-2xx answers into
// *HTTPError, and reports 401s on screen requests to a single hook so the
// session can be dropped in one place.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10
)

// RequestIDHeader is sent with every request for correlation with backend logs.
const RequestIDHeader = "X-Request-ID"

// TokenSource yields the bearer token for screen requests. An empty string
// means "not logged in" and the Authorization header is omitted.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// UnauthorizedHook is told which token a screen request was rejected with.
type UnauthorizedHook func(token string)

type Client struct {
	baseURL   string
	http      *http.Client
	log       zerolog.Logger
	metrics   *Metrics
	userAgent string

	mu             sync.RWMutex
	tokens         TokenSource
	onUnauthorized UnauthorizedHook
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

func WithMetrics(m *Metrics) Option { return func(c *Client) { c.metrics = m } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }

func WithUnauthorizedHook(h UnauthorizedHook) Option {
	return func(c *Client) { c.onUnauthorized = h }
}

// New returns a client for the backend rooted at baseURL
// (e.g. http://nas.local:8080).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: defaultTimeout},
		log:       zerolog.Nop(),
		userAgent: "nasctl",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// SetTokenSource replaces the token source. The session manager is usually
// built after the client, so it is attached here.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	c.tokens = ts
	c.mu.Unlock()
}

// OnUnauthorized registers the hook invoked for 401s on screen requests.
func (c *Client) OnUnauthorized(h UnauthorizedHook) {
	c.mu.Lock()
	c.onUnauthorized = h
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return ""
	}
	return ts.Token()
}

func (c *Client) unauthorized(token string) {
	c.mu.RLock()
	h := c.onUnauthorized
	c.mu.RUnlock()
	if h != nil {
		h(token)
	}
}

type authMode int

const (
	// authSession uses the token source and reports 401s to the hook.
	authSession authMode = iota
	// authExplicit uses request.token as is; 401s are the caller's business.
	authExplicit
	// authNone sends no credentials.
	authNone
)

type request struct {
	method      string
	route       string // endpoint template, used for metrics and logs
	path        string // path plus encoded query
	body        io.Reader
	contentType string
	auth        authMode
	token       string
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return bytes.NewReader(b), nil
}

// do sends r and returns the response for 2xx statuses; the caller closes the
// body. Any other status is returned as *HTTPError with the body consumed.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	token := ""
	switch r.auth {
	case authSession:
		token = c.currentToken()
	case authExplicit:
		token = r.token
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	rid := uuid.NewString()
	req.Header.Set(RequestIDHeader, rid)

	start := time.Now()
	res, err := c.http.Do(req)
	dur := time.Since(start)
	if err != nil {
		c.metrics.observe(r.method, r.route, 0, dur)
		c.log.Debug().Str("method", r.method).Str("route", r.route).Str("request_id", rid).Dur("duration", dur).Err(err).Msg("api")
		return nil, fmt.Errorf("%s %s: %w", r.method, r.route, err)
	}
	c.metrics.observe(r.method, r.route, res.StatusCode, dur)
	c.log.Debug().Str("method", r.method).Str("route", r.route).Str("request_id", rid).Int("status", res.StatusCode).Dur("duration", dur).Msg("api")

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	he := newHTTPError(res.StatusCode, b)
	if he.Status == http.StatusUnauthorized && r.auth == authSession && token != "" {
		c.unauthorized(token)
	}
	return nil, he
}

// send performs r and decodes a JSON body into out when out is non-nil.
func (c *Client) send(ctx context.Context, r request, out any) error {
	res, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, r.method, r.route, err)
	}
	return nil
}

// sendRaw performs r and returns the whole 2xx body.
func (c *Client) sendRaw(ctx context.Context, r request) ([]byte, error) {
	res, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.route, err)
	}
	return b, nil
}

func (c *Client) getJSON(ctx context.Context, route, path string, out any) error {
	return c.send(ctx, request{method: http.MethodGet, route: route, path: path}, out)
}

func (c *Client) postJSON(ctx context.Context, route, path string, body, out any) error {
	rd, err := jsonBody(body)
	if err != nil {
		return err
	}
	return c.send(ctx, request{method: http.MethodPost, route: route, path: path, body: rd, contentType: "application/json"}, out)
}

func (c *Client) deleteJSON(ctx context.Context, route, path string, out any) error {
	return c.send(ctx, request{method: http.MethodDelete, route: route, path: path}, out)
}

// Message is the generic acknowledgement most mutating endpoints return.
type Message struct {
	Message string `json:"message"`
}
