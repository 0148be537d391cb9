package ledger

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/providers"
)

func TestBeginAppendFinish(t *testing.T) {
	l := New()
	if err := l.Begin(ActiveRequest{ID: "r1", Kind: llm.KindCompletion, Provider: providers.NewOllama()}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	l.AppendChunk("r1", "x")
	l.AppendChunk("r1", "):\n    pass")

	if acc, _ := l.Accumulated("r1"); acc != "x):\n    pass" {
		t.Errorf("unexpected accumulated text %q", acc)
	}

	text, req, ok := l.Finish("r1")
	if !ok {
		t.Fatal("expected Finish to find r1")
	}
	if text != "x):\n    pass" {
		t.Errorf("unexpected finished text %q", text)
	}
	if req.Provider.ID() != llm.ProviderOllama || req.Started.IsZero() {
		t.Errorf("unexpected request metadata %+v", req)
	}
	if l.Len() != 0 {
		t.Errorf("expected empty ledger, got %d", l.Len())
	}
}

func TestBeginDuplicate(t *testing.T) {
	l := New()
	if err := l.Begin(ActiveRequest{ID: "r1"}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := l.Begin(ActiveRequest{ID: "r1"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if err := l.Begin(ActiveRequest{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestUnknownIDIsNoop(t *testing.T) {
	l := New()
	if l.AppendChunk("ghost", "x") {
		t.Error("AppendChunk on unknown id must return false")
	}
	if _, _, ok := l.Finish("ghost"); ok {
		t.Error("Finish on unknown id must return false")
	}
	if _, ok := l.Get("ghost"); ok {
		t.Error("Get on unknown id must return false")
	}
	if l.Len() != 0 {
		t.Error("unknown ids must not create entries")
	}
}

func TestFinishOnce(t *testing.T) {
	l := New()
	if err := l.Begin(ActiveRequest{ID: "r1"}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, ok := l.Finish("r1"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one Finish to win, got %d", wins)
	}
}

func TestConcurrentRequestsAreIsolated(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("r%d", i)
		if err := l.Begin(ActiveRequest{ID: id}); err != nil {
			t.Fatalf("Begin %s failed: %v", id, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.AppendChunk(id, "a")
			}
		}()
	}
	wg.Wait()

	want := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		want = append(want, fmt.Sprintf("r%d", i))
	}
	if diff := cmp.Diff(want, l.IDs()); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	for _, id := range want {
		if acc, _ := l.Accumulated(id); len(acc) != 100 {
			t.Errorf("%s: expected 100 bytes, got %d", id, len(acc))
		}
	}
}

func TestDeliverRunsCallbackWhileActive(t *testing.T) {
	l := New()
	if err := l.Begin(ActiveRequest{ID: "r1"}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	var got []string
	for _, chunk := range []string{"a", "b"} {
		if !l.Deliver("r1", chunk, func() { got = append(got, chunk) }) {
			t.Fatalf("Deliver %q returned false", chunk)
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
	}
	if acc, _ := l.Accumulated("r1"); acc != "ab" {
		t.Errorf("unexpected accumulated text %q", acc)
	}

	if _, ok := l.Cancel("r1"); !ok {
		t.Fatal("expected Cancel to find r1")
	}
	if l.Deliver("r1", "c", func() { t.Error("callback after Cancel") }) {
		t.Error("Deliver after Cancel must return false")
	}
	if _, ok := l.Cancel("r1"); ok {
		t.Error("second Cancel must return false")
	}
}

func TestCancelWaitsForPendingDelivery(t *testing.T) {
	l := New()
	if err := l.Begin(ActiveRequest{ID: "r1"}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	// Hold the entry as Deliver does between the append and the callback.
	e := l.entries["r1"]
	e.deliver.Lock()

	cancelled := make(chan struct{})
	go func() {
		defer close(cancelled)
		l.Cancel("r1")
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while a delivery for the id was pending")
	case <-time.After(50 * time.Millisecond):
	}
	e.deliver.Unlock()
	<-cancelled

	if l.Deliver("r1", "x", func() { t.Error("callback after Cancel") }) {
		t.Error("Deliver after Cancel must return false")
	}
}

func TestCancelFromInsideCallback(t *testing.T) {
	l := New()
	if err := l.Begin(ActiveRequest{ID: "r1"}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	var cancelled bool
	l.Deliver("r1", "x", func() {
		_, cancelled = l.Cancel("r1")
	})
	if !cancelled {
		t.Error("Cancel from inside the callback must succeed")
	}
	if l.Deliver("r1", "y", func() { t.Error("callback after Cancel") }) {
		t.Error("Deliver after Cancel must return false")
	}
}

func TestDeliverRacingCancel(t *testing.T) {
	for i := 0; i < 200; i++ {
		l := New()
		if err := l.Begin(ActiveRequest{ID: "r1"}); err != nil {
			t.Fatalf("Begin failed: %v", err)
		}

		var acked atomic.Bool
		var late atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				after := acked.Load()
				l.Deliver("r1", "a", func() {
					if after {
						late.Add(1)
					}
				})
			}
		}()
		go func() {
			defer wg.Done()
			if _, ok := l.Cancel("r1"); ok {
				acked.Store(true)
			}
		}()
		wg.Wait()

		if n := late.Load(); n != 0 {
			t.Fatalf("iteration %d: %d callbacks ran for deliveries begun after Cancel returned", i, n)
		}
	}
}
