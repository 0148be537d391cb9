// Package transport issues one streaming HTTP POST per request id.
//
// Information Hiding:
// - Connection bookkeeping (id -> in-flight transfer) is internal and mutex guarded
// - Response bodies are delivered as raw chunks; no LLM semantics live here
// - Cancellation and the transfer deadline are implemented with contexts

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds the total duration of a single transfer.
const DefaultTimeout = 120 * time.Second

const (
	readBufferSize = 32 * 1024
	maxErrorBody   = 64 * 1024
)

var (
	// ErrInvalidURL is returned synchronously by Send for malformed targets.
	ErrInvalidURL = errors.New("invalid url")
	// ErrEmptyID is returned synchronously by Send when no request id is given.
	ErrEmptyID = errors.New("empty request id")
	// ErrDuplicateID is returned synchronously by Send while the id is still in flight.
	ErrDuplicateID = errors.New("request id already in flight")
	// ErrTimeout wraps transfers that exceeded the client timeout.
	ErrTimeout = errors.New("request timed out")
)

// Handler receives the events of one transfer. Both methods are called from
// the transfer's own goroutine, never concurrently for the same id.
type Handler interface {
	// HandleChunk receives raw response bytes in network order. Returning an
	// error aborts the transfer; the error becomes the terminal error.
	HandleChunk(id string, data []byte) error

	// HandleFinished is called exactly once per transfer unless the transfer
	// was cancelled. err is nil on success.
	HandleFinished(id string, err error)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client performs streaming POST requests keyed by request id.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	logger     *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn
	wg    sync.WaitGroup
}

type conn struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Its own Timeout should be
// zero; the transfer deadline is applied per request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the upper bound on the total duration of a transfer.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		userAgent:  "codeweave/1",
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		conns:      make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send starts a POST of body to target and returns immediately. Only malformed
// input is reported synchronously; every network outcome reaches h.
func (c *Client) Send(id, target string, header http.Header, body []byte, h Handler) error {
	if id == "" {
		return ErrEmptyID
	}
	if h == nil {
		return errors.New("nil handler")
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/event-stream, application/x-ndjson")
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("X-Request-Id", id)

	cn := &conn{cancel: cancel}
	c.mu.Lock()
	if _, exists := c.conns[id]; exists {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	c.conns[id] = cn
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("transport send", "id", id, "host", u.Host, "path", u.Path, "bytes", len(body))
	go c.run(ctx, id, req, cn, h)
	return nil
}

// Cancel aborts the transfer for id. No event that has not already started
// delivery is delivered after Cancel returns. Unknown or finished ids are a
// no-op and return false.
func (c *Client) Cancel(id string) bool {
	c.mu.Lock()
	cn, ok := c.conns[id]
	if ok {
		delete(c.conns, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	cn.cancelled.Store(true)
	cn.cancel()
	c.logger.Debug("transport cancel", "id", id)
	return true
}

// Active returns the ids with a live transfer.
func (c *Client) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.conns))
	for id := range c.conns {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every transfer goroutine has exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) run(ctx context.Context, id string, req *http.Request, cn *conn, h Handler) {
	defer c.wg.Done()
	defer cn.cancel()

	start := time.Now()
	err := c.transfer(ctx, id, req, cn, h)

	if cn.cancelled.Load() {
		c.logger.Debug("transport dropped events for cancelled request", "id", id)
		return
	}
	c.release(id, cn)

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	if err != nil {
		c.logger.Debug("transport failed", "id", id, "err", err, "elapsed", time.Since(start))
	} else {
		c.logger.Debug("transport finished", "id", id, "elapsed", time.Since(start))
	}
	h.HandleFinished(id, err)
}

func (c *Client) transfer(ctx context.Context, id string, req *http.Request, cn *conn, h Handler) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: raw}
	}

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if cn.cancelled.Load() {
				return context.Canceled
			}
			chunk := append([]byte(nil), buf[:n]...)
			if err := h.HandleChunk(id, chunk); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// release removes the table entry if it still belongs to this transfer.
func (c *Client) release(id string, cn *conn) {
	c.mu.Lock()
	if cur, ok := c.conns[id]; ok && cur == cn {
		delete(c.conns, id)
	}
	c.mu.Unlock()
}
