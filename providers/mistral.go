package providers

import (
	"net/http"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/templates"
)

var mistralFields = keySet(
	"model", "messages", "prompt", "suffix", "stream",
	"max_tokens", "min_tokens", "temperature", "top_p", "stop",
	"random_seed", "safe_prompt", "response_format",
)

// Mistral serves chat and the Codestral FIM endpoint. Both stream
// OpenAI-shaped deltas.
type Mistral struct {
	Base
}

// NewMistral creates the Mistral AI provider.
func NewMistral(opts ...Option) *Mistral {
	p := &Mistral{}
	p.Base = newBase(llm.ProviderMistralAI, "https://api.mistral.ai",
		Endpoints{Completion: "/v1/fim/completions", Chat: "/v1/chat/completions"},
		framingSSE, p, opts)
	return p
}

func (p *Mistral) PrepareRequest(body *llm.Body, tmpl templates.Template, c llm.Context, _ llm.RequestKind, opts Options) {
	tmpl.Prepare(body, c)
	prepareOpenAIEnvelope(body, tmpl, opts)
}

func (p *Mistral) ValidateRequest(body *llm.Body, format llm.WireFormat) []string {
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
	v.allowOnly(body, mistralFields)
	return v.problems
}

func (p *Mistral) header(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

func (p *Mistral) decodeFrame(payload []byte) (string, bool, error) {
	return decodeOpenAIFrame(payload)
}

func (p *Mistral) DecodeBody(raw []byte) (string, error) {
	return decodeOpenAIBody(raw)
}
