package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/templates"
)

const (
	anthropicVersion = "2023-06-01"
	// defaultClaudeMaxTokens is sent when the caller sets no limit; the API
	// requires max_tokens.
	defaultClaudeMaxTokens = 4096
)

var claudeFields = keySet(
	"model", "messages", "system", "max_tokens", "stream",
	"temperature", "top_p", "top_k", "stop_sequences",
	"thinking", "metadata", "tools", "tool_choice",
)

// Claude talks to the Anthropic Messages API.
type Claude struct {
	Base
}

// NewClaude creates the Claude provider.
func NewClaude(opts ...Option) *Claude {
	p := &Claude{}
	p.Base = newBase(llm.ProviderClaude, "https://api.anthropic.com",
		Endpoints{Completion: "/v1/messages", Chat: "/v1/messages"},
		framingSSE, p, opts)
	return p
}

func (p *Claude) PrepareRequest(body *llm.Body, tmpl templates.Template, c llm.Context, _ llm.RequestKind, opts Options) {
	tmpl.Prepare(body, c)

	body.Set("model", opts.Model)
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	if opts.ThinkingBudget > 0 {
		// Thinking needs headroom above its budget and a fixed temperature.
		if maxTokens <= opts.ThinkingBudget {
			maxTokens = opts.ThinkingBudget + defaultClaudeMaxTokens
		}
		body.Set("thinking", map[string]any{
			"type":          "enabled",
			"budget_tokens": opts.ThinkingBudget,
		})
	} else if opts.Temperature != nil {
		body.Set("temperature", *opts.Temperature)
	}
	body.Set("max_tokens", maxTokens)
	body.Set("stream", opts.Stream)
	if stops := tmpl.StopSequences(); len(stops) > 0 {
		body.Set("stop_sequences", stops)
	}
}

func (p *Claude) ValidateRequest(body *llm.Body, format llm.WireFormat) []string {
	var v validator
	if !v.body(body) {
		return v.problems
	}
	if format == llm.FormatFIM {
		v.addf("%s has no fill-in-middle endpoint", p.Name())
		return v.problems
	}
	v.requireNonEmptyString(body, "model")
	v.requireArray(body, "messages")
	if mt := body.Get("max_tokens"); !mt.Exists() || mt.Int() <= 0 {
		v.addf("field %q must be a positive integer", "max_tokens")
	}
	if r := body.Get("messages.0.role"); r.Exists() && r.String() != "user" {
		v.addf("first message must have role %q, got %q", "user", r.String())
	}
	v.allowOnly(body, claudeFields)
	return v.problems
}

func (p *Claude) header(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("x-api-key", apiKey)
	}
	h.Set("anthropic-version", anthropicVersion)
	return h
}

func (p *Claude) decodeFrame(payload []byte) (string, bool, error) {
	if gjson.GetBytes(payload, "type").String() == "error" {
		return "", false, fmt.Errorf("backend error: %s", gjson.GetBytes(payload, "error.message").String())
	}
	var event anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return delta.Text, false, nil
		}
	case anthropic.MessageStopEvent:
		return "", true, nil
	}
	return "", false, nil
}

func (p *Claude) DecodeBody(raw []byte) (string, error) {
	if gjson.GetBytes(raw, "type").String() == "error" {
		return "", fmt.Errorf("backend error: %s", gjson.GetBytes(raw, "error.message").String())
	}
	var message anthropic.Message
	if err := json.Unmarshal(raw, &message); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var b strings.Builder
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			b.WriteString(variant.Text)
		}
	}
	return b.String(), nil
}
