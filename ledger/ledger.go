// Package ledger tracks in-flight requests and the text received for them.
//
// Information Hiding:
// - The id -> entry table is private and guarded by a single mutex
// - Entries are copied on read; callers never hold references into the table
// - Finish and Cancel are the only ways out, so each id is terminated at most once
// - Chunk delivery and Cancel are exclusive per entry

package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/providers"
)

// ErrDuplicate is returned by Begin when the id is already active.
var ErrDuplicate = errors.New("request already active")

// ActiveRequest describes one in-flight request. Payload is the caller's
// original payload, kept opaque. Provider is the provider that carries the
// transfer and is used to abort it.
type ActiveRequest struct {
	ID       string
	Payload  any
	Kind     llm.RequestKind
	Provider providers.Provider
	Template string
	Model    string
	URL      string
	Stream   bool
	Started  time.Time
}

type entry struct {
	req  ActiveRequest
	text strings.Builder

	// deliver is held by Deliver for the whole append and callback.
	deliver    sync.Mutex
	inCallback atomic.Bool
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

// Begin registers a new active request with empty accumulated text.
func (l *Ledger) Begin(req ActiveRequest) error {
	if req.ID == "" {
		return errors.New("empty request id")
	}
	if req.Started.IsZero() {
		req.Started = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[req.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, req.ID)
	}
	l.entries[req.ID] = &entry{req: req}
	return nil
}

// AppendChunk appends text to the request's accumulated response. It returns
// false, and changes nothing, when the id is not active.
func (l *Ledger) AppendChunk(id, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return false
	}
	e.text.WriteString(text)
	return true
}

// Deliver appends text and then runs fn, both only while id is active. A
// Cancel from another goroutine waits for fn to return, so once Cancel is
// acknowledged no callback starts for id. fn may itself call Cancel for id.
// It returns false, and does nothing, when the id is not active.
func (l *Ledger) Deliver(id, text string, fn func()) bool {
	l.mu.Lock()
	e, ok := l.entries[id]
	l.mu.Unlock()
	if !ok {
		return false
	}

	e.deliver.Lock()
	defer e.deliver.Unlock()

	// Cancel may have removed the entry while we waited.
	l.mu.Lock()
	if l.entries[id] != e {
		l.mu.Unlock()
		return false
	}
	e.text.WriteString(text)
	l.mu.Unlock()

	if fn != nil {
		e.inCallback.Store(true)
		defer e.inCallback.Store(false)
		fn()
	}
	return true
}

// Cancel removes the request like Finish and then waits for a Deliver in
// progress for id to return. Called from inside that Deliver's callback it
// returns without waiting.
func (l *Ledger) Cancel(id string) (ActiveRequest, bool) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if ok {
		delete(l.entries, id)
	}
	l.mu.Unlock()
	if !ok {
		return ActiveRequest{}, false
	}

	if !e.inCallback.Load() {
		e.deliver.Lock()
		e.deliver.Unlock() //nolint:staticcheck
	}
	return e.req, true
}

// Finish removes the request and returns its accumulated text. ok is false
// when the id was not active; exactly one caller can win per id.
func (l *Ledger) Finish(id string) (text string, req ActiveRequest, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return "", ActiveRequest{}, false
	}
	delete(l.entries, id)
	return e.text.String(), e.req, true
}

// Get returns a copy of the active request.
func (l *Ledger) Get(id string) (ActiveRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return ActiveRequest{}, false
	}
	return e.req, true
}

// Accumulated returns the text received so far for id.
func (l *Ledger) Accumulated(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return "", false
	}
	return e.text.String(), true
}

// Len returns the number of active requests.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// IDs returns the active request ids in sorted order.
func (l *Ledger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
