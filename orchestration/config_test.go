package orchestration

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/richinex/codeweave/config"
	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/providers"
	"github.com/richinex/codeweave/templates"
)

func testRegistries(t *testing.T) (*providers.Registry, *templates.Registry) {
	t.Helper()
	provs, err := providers.WithDefaults()
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	tmpls, err := templates.WithDefaults()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	return provs, tmpls
}

func TestResolveConfigEndpoint(t *testing.T) {
	provs, tmpls := testRegistries(t)

	tests := []struct {
		name    string
		kind    llm.RequestKind
		profile config.Profile
		want    string
	}{
		{
			name:    "auto fim",
			kind:    llm.KindCompletion,
			profile: config.Profile{Provider: "ollama", Template: "Ollama FIM", URL: "http://host:11434/"},
			want:    "http://host:11434/api/generate",
		},
		{
			name:    "auto chat",
			kind:    llm.KindChat,
			profile: config.Profile{Provider: "ollama", Template: "Ollama Chat", URL: "http://host:11434"},
			want:    "http://host:11434/api/chat",
		},
		{
			name:    "default url",
			kind:    llm.KindChat,
			profile: config.Profile{Provider: "openai", Template: "OpenAI"},
			want:    "https://api.openai.com/v1/chat/completions",
		},
		{
			name:    "forced fim path",
			kind:    llm.KindCompletion,
			profile: config.Profile{Provider: "ollama", Template: "ChatML", URL: "http://h", EndpointMode: "fim"},
			want:    "http://h/api/generate",
		},
		{
			name:    "custom relative",
			kind:    llm.KindChat,
			profile: config.Profile{Provider: "compatible", Template: "OpenAI Compatible", URL: "http://h/", EndpointMode: "custom", Endpoint: "v2/chat"},
			want:    "http://h/v2/chat",
		},
		{
			name:    "custom absolute",
			kind:    llm.KindChat,
			profile: config.Profile{Provider: "compatible", Template: "OpenAI Compatible", URL: "http://h", EndpointMode: "custom", Endpoint: "https://proxy/chat"},
			want:    "https://proxy/chat",
		},
		{
			name:    "google streaming",
			kind:    llm.KindChat,
			profile: config.Profile{Provider: "google", Template: "Google AI", Model: "gemini-2.0-flash", Stream: true},
			want:    "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:streamGenerateContent?alt=sse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := ResolveConfig(tt.profile, tt.kind, provs, tmpls)
			if err != nil {
				t.Fatalf("ResolveConfig failed: %v", err)
			}
			if rc.URL != tt.want {
				t.Errorf("expected %q, got %q", tt.want, rc.URL)
			}
		})
	}
}

func TestResolveConfigErrors(t *testing.T) {
	provs, tmpls := testRegistries(t)

	tests := []struct {
		name    string
		kind    llm.RequestKind
		profile config.Profile
		field   string
		want    error
	}{
		{"unknown provider", llm.KindChat, config.Profile{Provider: "UnknownVendor", Template: "OpenAI"}, "provider", providers.ErrUnknownProvider},
		{"unknown template", llm.KindChat, config.Profile{Provider: "openai", Template: "Nope"}, "template", templates.ErrUnknownTemplate},
		{"unsupported", llm.KindChat, config.Profile{Provider: "claude", Template: "OpenAI"}, "template", ErrTemplateUnsupported},
		{"kind mismatch", llm.KindRefactor, config.Profile{Provider: "mistral", Template: "Codestral FIM"}, "template", ErrKindMismatch},
		{"missing endpoint", llm.KindChat, config.Profile{Provider: "openai", Template: "OpenAI", EndpointMode: "custom"}, "endpoint", ErrMissingEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveConfig(tt.profile, tt.kind, provs, tmpls)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, cfgErr.Field)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v in chain, got %v", tt.want, err)
			}
		})
	}

	_, err := ResolveConfig(config.Profile{Provider: "openai", Template: "OpenAI", EndpointMode: "sideways"}, llm.KindChat, provs, tmpls)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "endpoint mode" {
		t.Errorf("expected endpoint mode error, got %v", err)
	}
}

func TestResolveConfigOptions(t *testing.T) {
	provs, tmpls := testRegistries(t)
	temp := 0.3
	rc, err := ResolveConfig(config.Profile{
		Provider:       "claude",
		Template:       "Claude",
		Model:          "claude-sonnet-4",
		APIKey:         "key",
		MaxTokens:      512,
		Temperature:    &temp,
		ThinkingBudget: 1024,
		Stream:         true,
	}, llm.KindChat, provs, tmpls)
	if err != nil {
		t.Fatalf("ResolveConfig failed: %v", err)
	}
	want := providers.Options{
		Model:          "claude-sonnet-4",
		Stream:         true,
		MaxTokens:      512,
		Temperature:    &temp,
		ThinkingBudget: 1024,
	}
	if diff := cmp.Diff(want, rc.options()); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if rc.APIKey != "key" || rc.Provider.ID() != llm.ProviderClaude {
		t.Errorf("unexpected resolution %+v", rc)
	}
}

func TestParseEndpointMode(t *testing.T) {
	for in, want := range map[string]EndpointMode{
		"":           EndpointAuto,
		"AUTO":       EndpointAuto,
		"custom":     EndpointCustom,
		"completion": EndpointFIM,
		" chat ":     EndpointChat,
	} {
		got, err := ParseEndpointMode(in)
		if err != nil || got != want {
			t.Errorf("ParseEndpointMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseEndpointMode("nope"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestEventChannelDropsPartialsWhenFull(t *testing.T) {
	ec := NewEventChannel(1)
	ec.OnPartial("r1", "a")
	ec.OnPartial("r1", "b")

	if ev := <-ec.C(); ev.Text != "a" {
		t.Errorf("expected first partial, got %+v", ev)
	}
	ec.OnComplete("r1", "ab")
	if ev := <-ec.C(); ev.Type != EventComplete || ev.Text != "ab" {
		t.Errorf("expected completion, got %+v", ev)
	}
}

func TestPassthroughBuilder(t *testing.T) {
	c := llm.Context{Prefix: "p"}
	var b PassthroughBuilder

	got, err := b.Build(llm.KindCompletion, c)
	if err != nil || got.Prefix != "p" {
		t.Errorf("value payload: %+v, %v", got, err)
	}
	got, err = b.Build(llm.KindCompletion, &c)
	if err != nil || got.Prefix != "p" {
		t.Errorf("pointer payload: %+v, %v", got, err)
	}
	if _, err := b.Build(llm.KindCompletion, (*llm.Context)(nil)); err == nil {
		t.Error("expected error for nil pointer")
	}
	if _, err := b.Build(llm.KindCompletion, "text"); err == nil {
		t.Error("expected error for foreign payload")
	}
}
