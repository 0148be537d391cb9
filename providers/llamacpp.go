package providers

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/templates"
)

var llamaCppFields = keySet(
	"input_prefix", "input_suffix", "input_extra", "prompt",
	"n_predict", "top_k", "cache_prompt", "samplers",
	"model", "messages", "max_tokens",
	"stream", "temperature", "top_p", "stop",
)

// LlamaCpp talks to a llama.cpp server: /infill for completions and its
// OpenAI compatible chat endpoint.
type LlamaCpp struct {
	Base
}

// NewLlamaCpp creates the llama.cpp provider.
func NewLlamaCpp(opts ...Option) *LlamaCpp {
	p := &LlamaCpp{}
	p.Base = newBase(llm.ProviderLlamaCpp, "http://localhost:8080",
		Endpoints{Completion: "/infill", Chat: "/v1/chat/completions"},
		framingSSE, p, opts)
	return p
}

func (p *LlamaCpp) PrepareRequest(body *llm.Body, tmpl templates.Template, c llm.Context, _ llm.RequestKind, opts Options) {
	tmpl.Prepare(body, c)

	if tmpl.WireFormat() == llm.FormatChat {
		prepareOpenAIEnvelope(body, tmpl, opts)
		return
	}
	body.Set("stream", opts.Stream)
	if opts.MaxTokens > 0 {
		body.Set("n_predict", opts.MaxTokens)
	}
	if opts.Temperature != nil {
		body.Set("temperature", *opts.Temperature)
	}
	if stops := tmpl.StopSequences(); len(stops) > 0 {
		body.Set("stop", stops)
	}
}

func (p *LlamaCpp) ValidateRequest(body *llm.Body, format llm.WireFormat) []string {
	var v validator
	if !v.body(body) {
		return v.problems
	}
	switch format {
	case llm.FormatFIM:
		v.requireString(body, "input_prefix")
		if body.Has("messages") {
			v.addf("fill-in-middle request must not carry %q", "messages")
		}
	case llm.FormatChat:
		v.requireArray(body, "messages")
	}
	v.allowOnly(body, llamaCppFields)
	return v.problems
}

func (p *LlamaCpp) header(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

// decodeFrame accepts infill frames ({"content","stop"}) and OpenAI chat chunks.
func (p *LlamaCpp) decodeFrame(payload []byte) (string, bool, error) {
	if gjson.GetBytes(payload, "choices").Exists() {
		return decodeOpenAIFrame(payload)
	}
	if !gjson.ValidBytes(payload) {
		return "", false, fmt.Errorf("%w: invalid frame %q", ErrDecode, truncate(payload))
	}
	if err := frameError(payload); err != nil {
		return "", false, err
	}
	return gjson.GetBytes(payload, "content").String(), gjson.GetBytes(payload, "stop").Bool(), nil
}

func (p *LlamaCpp) DecodeBody(raw []byte) (string, error) {
	if gjson.GetBytes(raw, "choices").Exists() {
		return decodeOpenAIBody(raw)
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("%w: invalid response body", ErrDecode)
	}
	if err := frameError(raw); err != nil {
		return "", err
	}
	r := gjson.GetBytes(raw, "content")
	if !r.Exists() {
		return "", fmt.Errorf("%w: response has no content", ErrDecode)
	}
	return r.String(), nil
}
