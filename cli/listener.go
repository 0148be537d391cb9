package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/richinex/codeweave/orchestration"
	"github.com/richinex/codeweave/storage"
)

// JournalListener records request outcomes in a journal before passing them on.
type JournalListener struct {
	journal storage.Journal
	next    orchestration.Listener
	logger  *slog.Logger
}

// NewJournalListener wraps next with journal recording.
func NewJournalListener(journal storage.Journal, next orchestration.Listener, logger *slog.Logger) *JournalListener {
	return &JournalListener{journal: journal, next: next, logger: logger}
}

func (l *JournalListener) OnPartial(id, text string) {
	l.next.OnPartial(id, text)
}

func (l *JournalListener) OnComplete(id, text string) {
	l.finish(id, storage.StatusCompleted, text, "")
	l.next.OnComplete(id, text)
}

func (l *JournalListener) OnFailed(id, reason string) {
	l.finish(id, storage.StatusFailed, "", reason)
	l.next.OnFailed(id, reason)
}

func (l *JournalListener) finish(id string, status storage.Status, text, reason string) {
	if err := l.journal.Finish(context.Background(), id, status, text, reason); err != nil {
		l.logger.Warn("journal update failed", "id", id, "status", status, "err", err)
	}
}

// outcome is the terminal event of one request.
type outcome struct {
	id     string
	text   string
	reason string
	failed bool
}

// terminal prints streamed text as it arrives and hands terminal events to
// the waiting runner.
type terminal struct {
	out     io.Writer
	mu      sync.Mutex
	printed map[string]bool
	done    chan outcome
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{
		out:     out,
		printed: make(map[string]bool),
		done:    make(chan outcome, 8),
	}
}

func (t *terminal) OnPartial(id, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printed[id] = true
	fmt.Fprint(t.out, text)
}

func (t *terminal) OnComplete(id, text string) {
	t.mu.Lock()
	streamed := t.printed[id]
	delete(t.printed, id)
	if !streamed {
		fmt.Fprint(t.out, text)
	}
	fmt.Fprintln(t.out)
	t.mu.Unlock()

	t.deliver(outcome{id: id, text: text})
}

func (t *terminal) OnFailed(id, reason string) {
	t.mu.Lock()
	delete(t.printed, id)
	t.mu.Unlock()

	t.deliver(outcome{id: id, reason: reason, failed: true})
}

// forget drops the state of a request that ended without an outcome.
func (t *terminal) forget(id string) {
	t.mu.Lock()
	delete(t.printed, id)
	t.mu.Unlock()
}

// deliver never blocks the transport goroutine. Only outcomes of requests the
// runner already gave up on can be dropped.
func (t *terminal) deliver(o outcome) {
	select {
	case t.done <- o:
	default:
	}
}
