// Package orchestration manages the lifecycle of LLM requests.
//
// The Orchestrator is the only component callers talk to. It resolves a
// provider, template and endpoint for every submission, builds the body,
// tracks the request in a ledger and reports exactly one outcome per request.
//
// Information Hiding:
// - Ledger bookkeeping and stale-event filtering hidden
// - Provider event subscription hidden
// - Per-request state machine hidden (visible only in debug logs)

package orchestration

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/richinex/codeweave/config"
	"github.com/richinex/codeweave/ledger"
	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/providers"
	"github.com/richinex/codeweave/templates"
)

// Orchestrator dispatches requests and routes their events to a Listener.
// It is safe for concurrent use.
type Orchestrator struct {
	providers *providers.Registry
	templates *templates.Registry
	ledger    *ledger.Ledger
	listener  Listener
	builder   ContextBuilder
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithListener sets the receiver of request outcomes.
func WithListener(l Listener) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.listener = l
		}
	}
}

// WithContextBuilder sets the collaborator that turns caller payloads into a Context.
func WithContextBuilder(b ContextBuilder) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.builder = b
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator over the given registries.
func New(provs *providers.Registry, tmpls *templates.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: provs,
		templates: tmpls,
		ledger:    ledger.New(),
		listener:  nopListener{},
		builder:   PassthroughBuilder{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit dispatches a request and returns once it is in flight.
//
// Configuration problems return a *ConfigError and assembly problems a
// *ValidationError; neither creates a ledger entry or touches the network.
// A duplicate id returns ledger.ErrDuplicate and leaves the first request alone.
func (o *Orchestrator) Submit(id string, kind llm.RequestKind, payload any, profile config.Profile) error {
	rc, err := ResolveConfig(profile, kind, o.providers, o.templates)
	if err != nil {
		o.logger.Debug("request rejected", "id", id, "err", err)
		return err
	}

	c, err := o.builder.Build(kind, payload)
	if err != nil {
		return &ConfigError{Field: "payload", Err: err}
	}

	body := llm.NewBody()
	rc.Provider.PrepareRequest(body, rc.Template, c, kind, rc.options())
	if problems := rc.Provider.ValidateRequest(body, rc.Template.WireFormat()); len(problems) > 0 {
		return &ValidationError{
			Provider: rc.Provider.Name(),
			Template: rc.Template.Name(),
			Problems: problems,
		}
	}

	err = o.ledger.Begin(ledger.ActiveRequest{
		ID:       id,
		Payload:  payload,
		Kind:     kind,
		Provider: rc.Provider,
		Template: rc.Template.Name(),
		Model:    rc.Model,
		URL:      rc.URL,
		Stream:   rc.Stream,
	})
	if err != nil {
		return err
	}
	o.logger.Debug("request submitted", "id", id, "kind", kind, "provider", rc.Provider.Name(), "template", rc.Template.Name())

	dispatch := providers.Dispatch{
		ID:     id,
		URL:    rc.URL,
		APIKey: rc.APIKey,
		Body:   body.Bytes(),
		Stream: rc.Stream,
	}
	if err := rc.Provider.Send(dispatch, &requestEvents{o: o, stream: rc.Stream}); err != nil {
		o.ledger.Finish(id)
		return fmt.Errorf("dispatch %s: %w", id, err)
	}
	o.logger.Debug("request dispatched", "id", id, "url", rc.URL, "stream", rc.Stream)
	return nil
}

// Cancel aborts the request. Once Cancel returns the request is finished
// and no listener call starts for it. A listener may call Cancel from inside
// its own callback. Unknown or finished ids return false.
func (o *Orchestrator) Cancel(id string) bool {
	req, ok := o.ledger.Get(id)
	if !ok {
		return false
	}
	req.Provider.Cancel(id)
	if _, ok := o.ledger.Cancel(id); !ok {
		return false
	}
	o.logger.Debug("request cancelled", "id", id, "provider", req.Provider.Name(), "elapsed", time.Since(req.Started))
	return true
}

// InFlight returns the ids of the requests in flight.
func (o *Orchestrator) InFlight() []string {
	return o.ledger.IDs()
}

// Accumulated returns the text received so far for an in-flight request.
func (o *Orchestrator) Accumulated(id string) (string, bool) {
	return o.ledger.Accumulated(id)
}

// Close cancels every request in flight and waits for their transfers to end.
func (o *Orchestrator) Close() {
	for _, id := range o.ledger.IDs() {
		o.Cancel(id)
	}
	o.providers.Wait()
}

// requestEvents routes one request's provider events into the ledger and
// the listener. Events for ids missing from the ledger are stale and dropped.
type requestEvents struct {
	o      *Orchestrator
	stream bool
}

func (e *requestEvents) PartialReceived(id, text string) {
	delivered := e.o.ledger.Deliver(id, text, func() {
		if e.stream {
			e.o.listener.OnPartial(id, text)
		}
	})
	if delivered {
		e.o.logger.Debug("request streaming", "id", id, "bytes", len(text))
	}
}

func (e *requestEvents) FullReceived(id, tail string) {
	if tail != "" {
		e.o.ledger.AppendChunk(id, tail)
	}
	text, req, ok := e.o.ledger.Finish(id)
	if !ok {
		return
	}
	e.o.logger.Debug("request completed", "id", id, "bytes", len(text), "elapsed", time.Since(req.Started))
	e.o.listener.OnComplete(id, text)
}

func (e *requestEvents) Failed(id, reason string) {
	_, req, ok := e.o.ledger.Finish(id)
	if !ok {
		return
	}
	e.o.logger.Debug("request failed", "id", id, "reason", reason, "elapsed", time.Since(req.Started))
	e.o.listener.OnFailed(id, reason)
}
