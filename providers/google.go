package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/richinex/codeweave/llm"
	"github.com/richinex/codeweave/templates"
)

var googleFields = keySet(
	"contents", "system_instruction", "systemInstruction",
	"generationConfig", "safetySettings", "tools", "toolConfig", "cachedContent",
)

// GoogleAI talks to the Gemini API. The model and the streaming mode are part
// of the URL, not the body.
type GoogleAI struct {
	Base
}

// NewGoogleAI creates the Google AI provider.
func NewGoogleAI(opts ...Option) *GoogleAI {
	p := &GoogleAI{}
	p.Base = newBase(llm.ProviderGoogleAI, "https://generativelanguage.googleapis.com/v1beta",
		Endpoints{Completion: "/models/{model}:generateContent", Chat: "/models/{model}:generateContent"},
		framingSSE, p, opts)
	return p
}

// ResolveEndpoint fills in the model and switches to the SSE streaming method.
func (p *GoogleAI) ResolveEndpoint(path, model string, stream bool) string {
	path = strings.ReplaceAll(path, "{model}", model)
	if stream {
		path = strings.Replace(path, ":generateContent", ":streamGenerateContent", 1)
		if !strings.Contains(path, "alt=sse") {
			sep := "?"
			if strings.Contains(path, "?") {
				sep = "&"
			}
			path += sep + "alt=sse"
		}
	}
	return path
}

func (p *GoogleAI) PrepareRequest(body *llm.Body, tmpl templates.Template, c llm.Context, _ llm.RequestKind, opts Options) {
	tmpl.Prepare(body, c)

	if opts.MaxTokens > 0 {
		body.Set("generationConfig.maxOutputTokens", opts.MaxTokens)
	}
	if opts.Temperature != nil {
		body.Set("generationConfig.temperature", *opts.Temperature)
	}
	if stops := tmpl.StopSequences(); len(stops) > 0 {
		body.Set("generationConfig.stopSequences", stops)
	}
	if opts.ThinkingBudget > 0 {
		body.Set("generationConfig.thinkingConfig.thinkingBudget", opts.ThinkingBudget)
	}
}

func (p *GoogleAI) ValidateRequest(body *llm.Body, format llm.WireFormat) []string {
	var v validator
	if !v.body(body) {
		return v.problems
	}
	if format == llm.FormatFIM {
		v.addf("%s has no fill-in-middle endpoint", p.Name())
		return v.problems
	}
	v.requireArray(body, "contents")
	for i, c := range body.Get("contents").Array() {
		if role := c.Get("role").String(); role != "user" && role != "model" {
			v.addf("contents[%d] has unsupported role %q", i, role)
		}
	}
	v.allowOnly(body, googleFields)
	return v.problems
}

func (p *GoogleAI) header(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("x-goog-api-key", apiKey)
	}
	return h
}

func (p *GoogleAI) decodeFrame(payload []byte) (string, bool, error) {
	if !gjson.ValidBytes(payload) {
		return "", false, fmt.Errorf("%w: invalid frame %q", ErrDecode, truncate(payload))
	}
	if err := frameError(payload); err != nil {
		return "", false, err
	}
	return candidateText(payload), false, nil
}

func (p *GoogleAI) DecodeBody(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("%w: invalid response body", ErrDecode)
	}
	if err := frameError(raw); err != nil {
		return "", err
	}
	if !gjson.GetBytes(raw, "candidates").Exists() {
		return "", fmt.Errorf("%w: response has no candidates", ErrDecode)
	}
	return candidateText(raw), nil
}

// candidateText joins the text parts of the first candidate, skipping thoughts.
func candidateText(raw []byte) string {
	var b strings.Builder
	gjson.GetBytes(raw, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if !part.Get("thought").Bool() {
			b.WriteString(part.Get("text").String())
		}
		return true
	})
	return b.String()
}
