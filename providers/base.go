package providers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/transport"
)

// maxBody bounds a buffered non-streaming response.
const maxBody = 8 << 20

// framing is how a vendor splits a streamed response into frames.
type framing int

const (
	// framingSSE is text/event-stream: one JSON payload per "data:" line.
	framingSSE framing = iota
	// framingNDJSON is newline-delimited JSON: one object per line.
	framingNDJSON
)

// dialect is the vendor-specific part a concrete provider plugs into Base.
type dialect interface {
	header(apiKey string) http.Header
	decodeFrame(payload []byte) (text string, done bool, err error)
	DecodeBody(raw []byte) (string, error)
}

// Option configures a provider.
type Option func(*settings)

type settings struct {
	logger     *slog.Logger
	timeout    time.Duration
	httpClient *http.Client
	userAgent  string
}

// WithLogger sets the provider and transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTimeout bounds each transfer.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithHTTPClient sets the HTTP client used by the provider's transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.httpClient = hc }
}

// WithUserAgent sets the User-Agent sent by the provider's transport.
func WithUserAgent(ua string) Option {
	return func(s *settings) { s.userAgent = ua }
}

// Base carries what every provider shares: identity, its transport, stream
// framing and the per-dispatch response handling.
type Base struct {
	id         llm.ProviderID
	defaultURL string
	endpoints  Endpoints
	framing    framing
	dialect    dialect
	transport  *transport.Client
	logger     *slog.Logger
}

func newBase(id llm.ProviderID, defaultURL string, endpoints Endpoints, f framing, d dialect, opts []Option) Base {
	s := settings{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: transport.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	logger := s.logger.With("provider", id.String())

	topts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithTimeout(s.timeout),
		transport.WithHTTPClient(s.httpClient),
	}
	if s.userAgent != "" {
		topts = append(topts, transport.WithUserAgent(s.userAgent))
	}

	return Base{
		id:         id,
		defaultURL: defaultURL,
		endpoints:  endpoints,
		framing:    f,
		dialect:    d,
		transport:  transport.New(topts...),
		logger:     logger,
	}
}

func (b *Base) ID() llm.ProviderID   { return b.id }
func (b *Base) Name() string         { return b.id.String() }
func (b *Base) DefaultURL() string   { return b.defaultURL }
func (b *Base) Endpoints() Endpoints { return b.endpoints }

// ResolveEndpoint returns path unchanged. Vendors that encode the model or
// streaming mode in the URL override it.
func (b *Base) ResolveEndpoint(path, _ string, _ bool) string {
	return path
}

// Send hands the body to the transport with a fresh response handler.
func (b *Base) Send(d Dispatch, ev Events) error {
	h := &responseHandler{base: b, events: ev, stream: d.Stream}
	return b.transport.Send(d.ID, d.URL, b.dialect.header(d.APIKey), d.Body, h)
}

// Cancel aborts the transfer for id.
func (b *Base) Cancel(id string) bool {
	return b.transport.Cancel(id)
}

// Wait blocks until every transfer of this provider has ended.
func (b *Base) Wait() {
	b.transport.Wait()
}

// DecodeResponse decodes every complete line of pending+chunk.
func (b *Base) DecodeResponse(pending, chunk []byte) (string, []byte, bool, error) {
	buf := make([]byte, 0, len(pending)+len(chunk))
	buf = append(append(buf, pending...), chunk...)

	var out strings.Builder
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(buf[:i], "\r")
		buf = buf[i+1:]

		payload, ok := b.payload(line)
		if !ok {
			continue
		}
		if b.framing == framingSSE && string(payload) == "[DONE]" {
			return out.String(), nil, true, nil
		}
		text, done, err := b.dialect.decodeFrame(payload)
		if err != nil {
			return out.String(), nil, false, err
		}
		out.WriteString(text)
		if done {
			return out.String(), nil, true, nil
		}
	}
	return out.String(), buf, false, nil
}

// payload extracts the JSON payload of one line. ok is false for lines that
// carry none: blanks, SSE comments and non-data fields.
func (b *Base) payload(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	if b.framing == framingNDJSON {
		return line, true
	}
	if line[0] == ':' || !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	data := bytes.TrimSpace(line[len("data:"):])
	return data, len(data) > 0
}

// describe turns a transfer error into a caller-facing reason.
func (b *Base) describe(err error) string {
	var se *transport.StatusError
	if errors.As(err, &se) {
		if msg := errorMessage(se.Body); msg != "" {
			return fmt.Sprintf("%s: http %d: %s", b.Name(), se.StatusCode, msg)
		}
		return fmt.Sprintf("%s: %v", b.Name(), se)
	}
	return fmt.Sprintf("%s: %v", b.Name(), err)
}

// errorMessage pulls the message out of the common vendor error envelopes:
// {"error":{"message":...}}, {"error":"..."} and {"message":"..."}.
func errorMessage(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		s := strings.TrimSpace(string(raw))
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		return s
	}
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if r := gjson.GetBytes(raw, path); r.Exists() && r.Type == gjson.String {
			return r.String()
		}
	}
	return ""
}

// frameError reports an error object embedded in a stream frame.
func frameError(payload []byte) error {
	e := gjson.GetBytes(payload, "error")
	if !e.Exists() {
		return nil
	}
	msg := e.Get("message").String()
	if msg == "" {
		msg = e.String()
	}
	return fmt.Errorf("backend error: %s", msg)
}

// responseHandler is the per-dispatch transport.Handler. It decodes streamed
// frames as they arrive or buffers a non-streaming body until the end.
type responseHandler struct {
	base    *Base
	events  Events
	stream  bool
	pending []byte
	done    bool
	raw     bytes.Buffer
}

func (h *responseHandler) HandleChunk(id string, data []byte) error {
	if !h.stream {
		if h.raw.Len()+len(data) > maxBody {
			return fmt.Errorf("%w: response exceeds %d bytes", ErrDecode, maxBody)
		}
		h.raw.Write(data)
		return nil
	}
	if h.done {
		return nil
	}

	text, rest, done, err := h.base.DecodeResponse(h.pending, data)
	if err != nil {
		return err
	}
	h.pending = rest
	h.done = done
	if text != "" {
		h.events.PartialReceived(id, text)
	}
	return nil
}

func (h *responseHandler) HandleFinished(id string, err error) {
	if err != nil {
		h.events.Failed(id, h.base.describe(err))
		return
	}

	if !h.stream {
		text, derr := h.base.dialect.DecodeBody(h.raw.Bytes())
		if derr != nil {
			h.events.Failed(id, h.base.describe(derr))
			return
		}
		h.events.FullReceived(id, text)
		return
	}

	var tail string
	if !h.done && len(bytes.TrimSpace(h.pending)) > 0 {
		text, _, _, derr := h.base.DecodeResponse(h.pending, []byte("\n"))
		if derr != nil {
			h.events.Failed(id, h.base.describe(derr))
			return
		}
		tail = text
	}
	h.events.FullReceived(id, tail)
}

// validator collects request problems.
type validator struct {
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) body(b *llm.Body) bool {
	if err := b.Err(); err != nil {
		v.addf("malformed request body: %v", err)
		return false
	}
	return true
}

func (v *validator) requireString(b *llm.Body, field string) {
	r := b.Get(field)
	if !r.Exists() {
		v.addf("missing required field %q", field)
		return
	}
	if r.Type != gjson.String {
		v.addf("field %q must be a string", field)
	}
}

func (v *validator) requireNonEmptyString(b *llm.Body, field string) {
	v.requireString(b, field)
	if r := b.Get(field); r.Type == gjson.String && r.String() == "" {
		v.addf("field %q must not be empty", field)
	}
}

func (v *validator) requireArray(b *llm.Body, field string) {
	r := b.Get(field)
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		v.addf("missing required field %q", field)
	case !r.IsArray():
		v.addf("field %q must be an array", field)
	case len(r.Array()) == 0:
		v.addf("field %q must not be empty", field)
	}
}

func (v *validator) allowOnly(b *llm.Body, allowed map[string]bool) {
	for _, k := range b.Keys() {
		if !allowed[k] {
			v.addf("unexpected field %q", k)
		}
	}
}

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
