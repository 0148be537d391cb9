package orchestration

import (
	"errors"
	"fmt"

	"github.com/richinex/codeweave/llm"
)

// Listener receives the outcome of submitted requests. Calls for one id come
// from a single goroutine in order; calls for different ids may run
// concurrently. Cancelled requests produce no call.
type Listener interface {
	OnPartial(id, text string)
	OnComplete(id, text string)
	OnFailed(id, reason string)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Partial  func(id, text string)
	Complete func(id, text string)
	Failed   func(id, reason string)
}

func (f ListenerFuncs) OnPartial(id, text string) {
	if f.Partial != nil {
		f.Partial(id, text)
	}
}

func (f ListenerFuncs) OnComplete(id, text string) {
	if f.Complete != nil {
		f.Complete(id, text)
	}
}

func (f ListenerFuncs) OnFailed(id, reason string) {
	if f.Failed != nil {
		f.Failed(id, reason)
	}
}

// EventType distinguishes channel events.
type EventType int

const (
	EventPartial EventType = iota
	EventComplete
	EventFailed
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventPartial:
		return "partial"
	case EventComplete:
		return "complete"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one listener call delivered over a channel.
type Event struct {
	Type   EventType
	ID     string
	Text   string
	Reason string
}

// EventChannel is a Listener that publishes events on a buffered channel.
//
// Partial events are dropped when the buffer is full; the completion text
// carries everything anyway. Terminal events block until received, so the
// consumer must keep draining C while requests are in flight.
type EventChannel struct {
	ch chan Event
}

// NewEventChannel creates an EventChannel with the given buffer size.
func NewEventChannel(buffer int) *EventChannel {
	if buffer < 1 {
		buffer = 1
	}
	return &EventChannel{ch: make(chan Event, buffer)}
}

// C returns the receive side of the channel.
func (e *EventChannel) C() <-chan Event {
	return e.ch
}

func (e *EventChannel) OnPartial(id, text string) {
	select {
	case e.ch <- Event{Type: EventPartial, ID: id, Text: text}:
	default:
	}
}

func (e *EventChannel) OnComplete(id, text string) {
	e.ch <- Event{Type: EventComplete, ID: id, Text: text}
}

func (e *EventChannel) OnFailed(id, reason string) {
	e.ch <- Event{Type: EventFailed, ID: id, Reason: reason}
}

type nopListener struct{}

func (nopListener) OnPartial(string, string)  {}
func (nopListener) OnComplete(string, string) {}
func (nopListener) OnFailed(string, string)   {}

// ContextBuilder turns an opaque caller payload into a Context.
type ContextBuilder interface {
	Build(kind llm.RequestKind, payload any) (llm.Context, error)
}

// PassthroughBuilder accepts payloads that already are a Context.
type PassthroughBuilder struct{}

func (PassthroughBuilder) Build(_ llm.RequestKind, payload any) (llm.Context, error) {
	switch p := payload.(type) {
	case llm.Context:
		return p, nil
	case *llm.Context:
		if p == nil {
			return llm.Context{}, errors.New("nil context payload")
		}
		return *p, nil
	default:
		return llm.Context{}, fmt.Errorf("unsupported payload type %T", payload)
	}
}
