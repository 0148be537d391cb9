// Package providers implements the vendor backends.
//
// Information Hiding:
// - Each provider hides its vendor envelope, auth headers and response framing
// - Providers own one transport each and hold no per-request state
// - Decode state for a request lives in a per-dispatch handler, never in the provider
// - Network and decode failures leave a provider only as Failed events

package providers

import (
	"errors"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/templates"
)

var (
	// ErrUnknownProvider is returned by the registry for names it cannot resolve.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrDecode wraps malformed or unexpected response frames.
	ErrDecode = errors.New("decode error")
)

// Endpoints are the request paths used for automatic endpoint selection.
type Endpoints struct {
	Completion string
	Chat       string
}

// Options are the vendor-independent generation settings layered onto a body.
type Options struct {
	Model          string
	Stream         bool
	MaxTokens      int
	Temperature    *float64
	ThinkingBudget int
	KeepAlive      string
}

// Dispatch is one ready-to-send request.
type Dispatch struct {
	ID     string
	URL    string
	APIKey string
	Body   []byte
	Stream bool
}

// Events receives the outcome of a dispatch. Calls for one id arrive on a
// single goroutine in order; FullReceived or Failed is always the last call.
type Events interface {
	// PartialReceived delivers decoded text as it streams in.
	PartialReceived(id, text string)

	// FullReceived ends a successful request. tail holds any text that was not
	// delivered as a partial: the whole reply for non-streaming requests, or
	// text flushed from an unterminated final frame.
	FullReceived(id, tail string)

	// Failed ends a request with a human readable reason.
	Failed(id, reason string)
}

// Provider is one backend vendor.
type Provider interface {
	// ID returns the provider identity.
	ID() llm.ProviderID

	// Name returns the display name.
	Name() string

	// DefaultURL returns the base URL used when none is configured.
	DefaultURL() string

	// Endpoints returns the completion and chat paths.
	Endpoints() Endpoints

	// ResolveEndpoint substitutes model and streaming specifics into path.
	ResolveEndpoint(path, model string, stream bool) string

	// PrepareRequest runs the template and layers the vendor's top-level fields
	// onto body.
	PrepareRequest(body *llm.Body, tmpl templates.Template, c llm.Context, kind llm.RequestKind, opts Options)

	// ValidateRequest returns the problems that make body unsafe to send. An
	// empty result means the body may be dispatched.
	ValidateRequest(body *llm.Body, format llm.WireFormat) []string

	// Send dispatches the request. Only malformed input is returned; every
	// other outcome reaches ev.
	Send(d Dispatch, ev Events) error

	// Cancel aborts the transfer for id. No event for id is delivered after
	// Cancel returns true.
	Cancel(id string) bool

	// DecodeResponse decodes the complete frames in pending+chunk. rest holds
	// the unterminated trailing bytes; done reports an end-of-stream frame.
	DecodeResponse(pending, chunk []byte) (text string, rest []byte, done bool, err error)

	// DecodeBody decodes a complete non-streaming response body.
	DecodeBody(raw []byte) (string, error)

	// Wait blocks until all transfers started by this provider have ended.
	Wait()
}
