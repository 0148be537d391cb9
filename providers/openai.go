package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/templates"
)

var openAIFields = keySet(
	"model", "messages", "stream", "stream_options",
	"max_tokens", "max_completion_tokens", "temperature", "top_p", "stop", "n",
	"presence_penalty", "frequency_penalty", "seed", "user",
	"response_format", "tools", "tool_choice", "logprobs", "top_logprobs",
)

var openRouterFields = keySet(
	"provider", "transforms", "models", "route", "reasoning",
)

// OpenAICompatible serves every backend that speaks the OpenAI chat
// completions API: OpenAI itself, OpenRouter and local compatible servers.
type OpenAICompatible struct {
	Base
	requireModel bool
	extraFields  map[string]bool
	headers      http.Header
}

// NewOpenAI creates the OpenAI provider.
func NewOpenAI(opts ...Option) *OpenAICompatible {
	p := &OpenAICompatible{requireModel: true}
	p.Base = newBase(llm.ProviderOpenAI, "https://api.openai.com",
		Endpoints{Completion: "/v1/chat/completions", Chat: "/v1/chat/completions"},
		framingSSE, p, opts)
	return p
}

// NewOpenRouter creates the OpenRouter provider.
func NewOpenRouter(opts ...Option) *OpenAICompatible {
	p := &OpenAICompatible{
		requireModel: true,
		extraFields:  openRouterFields,
		headers: http.Header{
			"X-Title":      []string{"codeweave"},
			"HTTP-Referer": []string{"https://github.com/richinex/codeweave"},
		},
	}
	p.Base = newBase(llm.ProviderOpenRouter, "https://openrouter.ai/api",
		Endpoints{Completion: "/v1/chat/completions", Chat: "/v1/chat/completions"},
		framingSSE, p, opts)
	return p
}

// NewOpenAICompatibleServer creates the provider for local OpenAI compatible
// servers such as LM Studio. The model field is optional there.
func NewOpenAICompatibleServer(opts ...Option) *OpenAICompatible {
	p := &OpenAICompatible{}
	p.Base = newBase(llm.ProviderOpenAICompatible, "http://localhost:1234",
		Endpoints{Completion: "/v1/chat/completions", Chat: "/v1/chat/completions"},
		framingSSE, p, opts)
	return p
}

func (p *OpenAICompatible) PrepareRequest(body *llm.Body, tmpl templates.Template, c llm.Context, _ llm.RequestKind, opts Options) {
	tmpl.Prepare(body, c)
	prepareOpenAIEnvelope(body, tmpl, opts)
}

// prepareOpenAIEnvelope layers the OpenAI chat completion fields.
func prepareOpenAIEnvelope(body *llm.Body, tmpl templates.Template, opts Options) {
	if opts.Model != "" {
		body.Set("model", opts.Model)
	}
	body.Set("stream", opts.Stream)
	if opts.MaxTokens > 0 {
		body.Set("max_tokens", opts.MaxTokens)
	}
	if opts.Temperature != nil {
		body.Set("temperature", *opts.Temperature)
	}
	if stops := tmpl.StopSequences(); len(stops) > 0 {
		body.Set("stop", stops)
	}
}

func (p *OpenAICompatible) ValidateRequest(body *llm.Body, format llm.WireFormat) []string {
	var v validator
	if !v.body(body) {
		return v.problems
	}
	if format == llm.FormatFIM {
		v.addf("%s has no fill-in-middle endpoint", p.Name())
		return v.problems
	}
	if p.requireModel {
		v.requireNonEmptyString(body, "model")
	}
	v.requireArray(body, "messages")

	allowed := openAIFields
	if len(p.extraFields) > 0 {
		allowed = keySet()
		for k := range openAIFields {
			allowed[k] = true
		}
		for k := range p.extraFields {
			allowed[k] = true
		}
	}
	v.allowOnly(body, allowed)
	return v.problems
}

func (p *OpenAICompatible) header(apiKey string) http.Header {
	h := p.headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

func (p *OpenAICompatible) decodeFrame(payload []byte) (string, bool, error) {
	return decodeOpenAIFrame(payload)
}

func (p *OpenAICompatible) DecodeBody(raw []byte) (string, error) {
	return decodeOpenAIBody(raw)
}

// decodeOpenAIFrame decodes one chat.completion.chunk.
func decodeOpenAIFrame(payload []byte) (string, bool, error) {
	if err := frameError(payload); err != nil {
		return "", false, err
	}
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, false, nil
}

// decodeOpenAIBody decodes a complete chat.completion response.
func decodeOpenAIBody(raw []byte) (string, error) {
	if err := frameError(raw); err != nil {
		return "", err
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrDecode)
	}
	var b strings.Builder
	msg := resp.Choices[0].Message
	b.WriteString(msg.Content)
	for _, part := range msg.MultiContent {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
