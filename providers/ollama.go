package providers

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/templates"
)

var ollamaFields = keySet(
	"model", "prompt", "suffix", "system", "raw", "images", "template", "context",
	"messages", "tools", "format", "think",
	"stream", "options", "keep_alive",
)

// Ollama talks to a local Ollama server. Streams are newline-delimited JSON.
type Ollama struct {
	Base
}

// NewOllama creates the Ollama provider.
func NewOllama(opts ...Option) *Ollama {
	p := &Ollama{}
	p.Base = newBase(llm.ProviderOllama, "http://localhost:11434",
		Endpoints{Completion: "/api/generate", Chat: "/api/chat"},
		framingNDJSON, p, opts)
	return p
}

func (p *Ollama) PrepareRequest(body *llm.Body, tmpl templates.Template, c llm.Context, _ llm.RequestKind, opts Options) {
	tmpl.Prepare(body, c)

	body.Set("model", opts.Model)
	body.Set("stream", opts.Stream)
	if opts.MaxTokens > 0 {
		body.Set("options.num_predict", opts.MaxTokens)
	}
	if opts.Temperature != nil {
		body.Set("options.temperature", *opts.Temperature)
	}
	if stops := tmpl.StopSequences(); len(stops) > 0 {
		body.Set("options.stop", stops)
	}
	if opts.KeepAlive != "" {
		body.Set("keep_alive", opts.KeepAlive)
	}
}

func (p *Ollama) ValidateRequest(body *llm.Body, format llm.WireFormat) []string {
	var v validator
	if !v.body(body) {
		return v.problems
	}
	v.requireNonEmptyString(body, "model")
	switch format {
	case llm.FormatFIM:
		v.requireString(body, "prompt")
		if body.Has("messages") {
			v.addf("fill-in-middle request must not carry %q", "messages")
		}
	case llm.FormatChat:
		v.requireArray(body, "messages")
	}
	v.allowOnly(body, ollamaFields)
	return v.problems
}

func (p *Ollama) header(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	h.Set("Accept", "application/x-ndjson")
	return h
}

// decodeFrame handles both /api/generate ("response") and /api/chat
// ("message.content") frames.
func (p *Ollama) decodeFrame(payload []byte) (string, bool, error) {
	if !gjson.ValidBytes(payload) {
		return "", false, fmt.Errorf("%w: invalid ndjson line %q", ErrDecode, truncate(payload))
	}
	if msg := gjson.GetBytes(payload, "error"); msg.Exists() {
		return "", false, fmt.Errorf("backend error: %s", msg.String())
	}
	r := gjson.GetBytes(payload, "message.content")
	if !r.Exists() {
		r = gjson.GetBytes(payload, "response")
	}
	return r.String(), gjson.GetBytes(payload, "done").Bool(), nil
}

func (p *Ollama) DecodeBody(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("%w: invalid response body", ErrDecode)
	}
	if msg := gjson.GetBytes(raw, "error"); msg.Exists() {
		return "", fmt.Errorf("backend error: %s", msg.String())
	}
	if r := gjson.GetBytes(raw, "message.content"); r.Exists() {
		return r.String(), nil
	}
	if r := gjson.GetBytes(raw, "response"); r.Exists() {
		return r.String(), nil
	}
	return "", fmt.Errorf("%w: response has neither message.content nor response", ErrDecode)
}

func truncate(b []byte) string {
	if len(b) > 120 {
		return string(b[:120]) + "..."
	}
	return string(b)
}
