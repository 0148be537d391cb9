package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/richinex/codeweave/config"
	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/storage"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose view worker starts in an init func.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func testSettings(url string) config.Settings {
	return config.Settings{
		Completion: config.Profile{Provider: "Ollama", Template: "Ollama FIM", Model: "codellama", URL: url, Stream: true},
		Chat:       config.Profile{Provider: "Ollama", Template: "Ollama Chat", Model: "llama3", URL: url, Stream: true},
		Timeout:    5 * time.Second,
	}
}

func newTestRunner(t *testing.T, settings config.Settings) (*Runner, *storage.InMemoryStorage, *bytes.Buffer) {
	t.Helper()
	store := storage.NewInMemoryStorage()
	out := &bytes.Buffer{}
	tr := &http.Transport{}
	r, err := NewRunner(settings, store, store, WithOutput(out), WithHTTPClient(&http.Client{Transport: tr}))
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		tr.CloseIdleConnections()
	})
	return r, store, out
}

// ollamaServer answers generate requests with a fixed stream and chat
// requests by echoing the number of messages received.
func ollamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/api/generate":
			io.WriteString(w, `{"response":"x","done":false}`+"\n")          //nolint:errcheck
			io.WriteString(w, `{"response":"):\n    pass","done":false}`+"\n") //nolint:errcheck
			io.WriteString(w, `{"response":"","done":true}`+"\n")            //nolint:errcheck
		case "/api/chat":
			n := len(gjson.GetBytes(raw, "messages").Array())
			reply := strings.Repeat("m", n)
			io.WriteString(w, `{"message":{"role":"assistant","content":"`+reply+`"},"done":true}`+"\n") //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunnerComplete(t *testing.T) {
	srv := ollamaServer(t)
	r, store, out := newTestRunner(t, testSettings(srv.URL))

	text, err := r.Complete(context.Background(), Request{Prefix: "def foo(", Suffix: ")"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "x):\n    pass" {
		t.Errorf("unexpected completion %q", text)
	}
	if out.String() != "x):\n    pass\n" {
		t.Errorf("unexpected output %q", out.String())
	}

	entries, _ := store.Recent(context.Background(), 10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Status != storage.StatusCompleted || e.Text != text || e.Kind != "completion" || e.Template != "Ollama FIM" {
		t.Errorf("unexpected journal entry %+v", e)
	}
}

func TestRunnerSessionHistory(t *testing.T) {
	srv := ollamaServer(t)
	r, store, _ := newTestRunner(t, testSettings(srv.URL))
	ctx := context.Background()

	// system + user
	first, err := r.Ask(ctx, "s1", Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if first != "mm" {
		t.Errorf("expected 2 messages on first turn, got %q", first)
	}

	// system + user + assistant + user
	second, err := r.Ask(ctx, "s1", Request{Prompt: "again"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if second != "mmmm" {
		t.Errorf("expected 4 messages on second turn, got %q", second)
	}

	history, _ := store.Load(ctx, "s1")
	if len(history) != 4 || history[3].Role != llm.RoleAssistant || history[3].Content != "mmmm" {
		t.Errorf("unexpected saved history %+v", history)
	}
}

func TestRunnerFailureJournaled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model not found"}`) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	r, store, _ := newTestRunner(t, testSettings(srv.URL))

	_, err := r.Complete(context.Background(), Request{Prefix: "a"})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected provider error, got %v", err)
	}
	entries, _ := store.Recent(context.Background(), 1)
	if len(entries) != 1 || entries[0].Status != storage.StatusFailed || entries[0].Reason == "" {
		t.Errorf("unexpected journal %+v", entries)
	}
}

func TestRunnerConfigErrorJournaled(t *testing.T) {
	settings := testSettings("http://localhost:1")
	settings.Chat.Template = "Ollama FIM"
	r, store, _ := newTestRunner(t, settings)

	if _, err := r.Ask(context.Background(), "", Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected configuration error")
	}
	entries, _ := store.Recent(context.Background(), 1)
	if len(entries) != 1 || entries[0].Status != storage.StatusFailed {
		t.Errorf("unexpected journal %+v", entries)
	}
}

func TestRunnerMissingAPIKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	settings := testSettings(srv.URL)
	settings.Chat = config.Profile{Provider: "Claude", Template: "Claude", Model: "claude-sonnet-4-20250514", URL: srv.URL}
	r, store, _ := newTestRunner(t, settings)

	_, err := r.Ask(context.Background(), "", Request{Prompt: "hi"})
	if !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("a request without its API key must not reach the network")
	}
	entries, _ := store.Recent(context.Background(), 1)
	if len(entries) != 1 || entries[0].Status != storage.StatusFailed {
		t.Errorf("unexpected journal %+v", entries)
	}
}

func TestRunnerCancel(t *testing.T) {
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body) //nolint:errcheck
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(stop) })
	r, store, out := newTestRunner(t, testSettings(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := r.Complete(ctx, Request{Prefix: "a"}); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	entries, _ := store.Recent(context.Background(), 1)
	if len(entries) != 1 || entries[0].Status != storage.StatusCancelled {
		t.Errorf("unexpected journal %+v", entries)
	}
	if out.Len() != 0 {
		t.Errorf("cancelled request must print nothing, got %q", out.String())
	}
}

func TestRunnerCancelAfterStreamedOutput(t *testing.T) {
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)                             //nolint:errcheck
		io.WriteString(w, `{"response":"x","done":false}`+"\n") //nolint:errcheck
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(stop) })
	r, store, _ := newTestRunner(t, testSettings(srv.URL))

	streaming := func() int {
		r.term.mu.Lock()
		defer r.term.mu.Unlock()
		return len(r.term.printed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		deadline := time.Now().Add(5 * time.Second)
		for streaming() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}()

	if _, err := r.Complete(ctx, Request{Prefix: "a"}); err != context.Canceled {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if n := streaming(); n != 0 {
		t.Errorf("cancelled request left %d output entries behind", n)
	}
	entries, _ := store.Recent(context.Background(), 1)
	if len(entries) != 1 || entries[0].Status != storage.StatusCancelled {
		t.Errorf("unexpected journal %+v", entries)
	}
}

func TestRunnerHistory(t *testing.T) {
	srv := ollamaServer(t)
	r, _, out := newTestRunner(t, testSettings(srv.URL))
	ctx := context.Background()

	if err := r.History(ctx, 10); err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if !strings.Contains(out.String(), "No requests recorded.") {
		t.Errorf("unexpected empty history output %q", out.String())
	}

	if _, err := r.Complete(ctx, Request{Prefix: "a"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	out.Reset()
	if err := r.History(ctx, 10); err != nil {
		t.Fatalf("History failed: %v", err)
	}
	for _, want := range []string{"STATUS", "completion", "Ollama FIM", "completed", "x):     pass"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("history output missing %q:\n%s", want, out.String())
		}
	}
}

func TestLoadSettingsOverlay(t *testing.T) {
	t.Setenv("CODEWEAVE_PROVIDER", "")
	t.Setenv("CODEWEAVE_COMPLETION_TEMPLATE", "")
	t.Setenv("CODEWEAVE_CHAT_TEMPLATE", "")

	settings, err := LoadSettings(Options{
		Provider: "ollama",
		Model:    "qwen2.5-coder",
		URL:      "http://gpu:11434",
		Template: "codellama fim",
		NoStream: true,
		DBPath:   "/tmp/x.db",
		Timeout:  time.Minute,
	})
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if settings.Completion.Template != "CodeLlama FIM" {
		t.Errorf("FIM template should apply to completions, got %q", settings.Completion.Template)
	}
	if settings.Chat.Template == "CodeLlama FIM" {
		t.Error("FIM template must not reach the chat profile")
	}
	for _, p := range []config.Profile{settings.Completion, settings.Chat} {
		if p.Model != "qwen2.5-coder" || p.URL != "http://gpu:11434" || p.Stream {
			t.Errorf("flags not applied: %+v", p.Redacted())
		}
	}
	if settings.Timeout != time.Minute || settings.Database != "/tmp/x.db" {
		t.Errorf("unexpected timeout/db %v %q", settings.Timeout, settings.Database)
	}

	if _, err := LoadSettings(Options{Provider: "ollama", Template: "nope"}); err == nil {
		t.Error("expected unknown template error")
	}
}

func TestListings(t *testing.T) {
	var buf bytes.Buffer
	if err := ListProviders(&buf); err != nil {
		t.Fatalf("ListProviders failed: %v", err)
	}
	for _, name := range config.SupportedProviders() {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("provider listing missing %q", name)
		}
	}

	buf.Reset()
	if err := ListTemplates(&buf, "claude"); err != nil {
		t.Fatalf("ListTemplates failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Claude") || strings.Contains(buf.String(), "Ollama FIM") {
		t.Errorf("unexpected template listing:\n%s", buf.String())
	}

	if err := ListTemplates(&buf, "nobody"); err == nil {
		t.Error("expected unknown provider error")
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("hello world", 8); got != "hello..." {
		t.Errorf("got %q", got)
	}
	if got := truncateString("short", 8); got != "short" {
		t.Errorf("got %q", got)
	}
}
