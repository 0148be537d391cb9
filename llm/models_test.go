package llm

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseProviderIDAliases(t *testing.T) {
	tests := []struct {
		in   string
		want ProviderID
	}{
		{"Ollama", ProviderOllama},
		{"openai", ProviderOpenAI},
		{"anthropic", ProviderClaude},
		{"Claude", ProviderClaude},
		{"Google AI", ProviderGoogleAI},
		{"gemini", ProviderGoogleAI},
		{"Mistral AI", ProviderMistralAI},
		{"llama.cpp", ProviderLlamaCpp},
		{"llamacpp", ProviderLlamaCpp},
		{"OpenRouter", ProviderOpenRouter},
		{"OpenAI Compatible", ProviderOpenAICompatible},
		{"openai-compatible", ProviderOpenAICompatible},
	}
	for _, tt := range tests {
		got, err := ParseProviderID(tt.in)
		if err != nil {
			t.Errorf("ParseProviderID(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProviderID(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestParseProviderIDUnknown(t *testing.T) {
	if _, err := ParseProviderID("UnknownVendor"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestProviderIDRoundTrip(t *testing.T) {
	for _, id := range AllProviders() {
		got, err := ParseProviderID(id.String())
		if err != nil {
			t.Fatalf("ParseProviderID(%q): %v", id.String(), err)
		}
		if got != id {
			t.Errorf("expected %v, got %v", id, got)
		}
	}
}

func TestRequestKindAccepts(t *testing.T) {
	if !KindCompletion.Accepts(FormatFIM) || !KindCompletion.Accepts(FormatChat) {
		t.Error("completion should accept both wire formats")
	}
	if KindChat.Accepts(FormatFIM) {
		t.Error("chat must not accept FIM")
	}
	if KindRefactor.Accepts(FormatFIM) {
		t.Error("refactor must not accept FIM")
	}
	if !KindRefactor.Accepts(FormatChat) {
		t.Error("refactor should accept chat")
	}
}

func TestParseRequestKind(t *testing.T) {
	kind, err := ParseRequestKind("Refactor")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindRefactor {
		t.Errorf("expected refactor, got %v", kind)
	}
	if _, err := ParseRequestKind("summarize"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestMessageIsThinking(t *testing.T) {
	if !ThinkingMessage("hmm", "sig").IsThinking() {
		t.Error("thinking message should report IsThinking")
	}
	if (Message{Role: RoleAssistant, Redacted: true}).IsThinking() != true {
		t.Error("redacted message should report IsThinking")
	}
	if UserMessage("hi").IsThinking() {
		t.Error("user message should not report IsThinking")
	}
}

func TestBodySetAndGet(t *testing.T) {
	b := NewBody()
	b.Set("prompt", "def foo(")
	b.Set("suffix", ")")
	b.Set("options.num_predict", 64)
	b.Set("stop", []string{"<EOT>"})

	if err := b.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.Get("prompt").String(); got != "def foo(" {
		t.Errorf("expected prompt 'def foo(', got %q", got)
	}
	if got := b.Get("options.num_predict").Int(); got != 64 {
		t.Errorf("expected num_predict 64, got %d", got)
	}
	if !b.Get("stop").IsArray() {
		t.Error("expected stop to be an array")
	}

	var decoded map[string]any
	if err := json.Unmarshal(b.Bytes(), &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if diff := cmp.Diff([]string{"prompt", "suffix", "options", "stop"}, b.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestBodyDelete(t *testing.T) {
	b := NewBody()
	b.Set("a", 1)
	b.Set("b", 2)
	b.Delete("a")
	if b.Has("a") {
		t.Error("expected a to be deleted")
	}
	if !b.Has("b") {
		t.Error("expected b to remain")
	}
}

func TestParseBodyRejectsNonObject(t *testing.T) {
	if _, err := ParseBody([]byte(`[1,2]`)); err == nil {
		t.Error("expected error for array body")
	}
	if _, err := ParseBody([]byte(`{"a":`)); err == nil {
		t.Error("expected error for truncated body")
	}
	b, err := ParseBody([]byte(`{"model":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Get("model").String() != "x" {
		t.Error("expected parsed model field")
	}
}
