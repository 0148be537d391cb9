package templates

import (
	"fmt"

	"github.com/richinex/codeweave/llm"
)

type fimTemplate struct {
	info
	prepare func(body *llm.Body, c llm.Context)
}

func (t fimTemplate) Prepare(body *llm.Body, c llm.Context) {
	t.prepare(body, c)
}

// OllamaFIM sends prefix and suffix as separate fields and lets the model's
// own template build the prompt.
func OllamaFIM() Template {
	return fimTemplate{
		info: info{
			name:        "Ollama FIM",
			description: "Native Ollama fill-in-middle: prompt, suffix and system fields",
			format:      llm.FormatFIM,
			providers:   []llm.ProviderID{llm.ProviderOllama},
		},
		prepare: func(body *llm.Body, c llm.Context) {
			body.Set("prompt", c.Prefix)
			body.Set("suffix", c.Suffix)
			body.Set("system", systemText(c))
		},
	}
}

// CodeLlamaFIM renders the CodeLlama infill tokens into a raw prompt.
func CodeLlamaFIM() Template {
	return fimTemplate{
		info: info{
			name:        "CodeLlama FIM",
			description: "CodeLlama <PRE>/<SUF>/<MID> raw prompt",
			format:      llm.FormatFIM,
			stops:       []string{"<EOT>", "<PRE>", "<SUF>", "<MID>"},
			providers:   []llm.ProviderID{llm.ProviderOllama},
		},
		prepare: func(body *llm.Body, c llm.Context) {
			body.Set("prompt", fmt.Sprintf("<PRE> %s <SUF>%s <MID>", c.Prefix, c.Suffix))
			body.Set("raw", true)
		},
	}
}

// StarCoder2FIM renders the StarCoder2 FIM tokens into a raw prompt.
func StarCoder2FIM() Template {
	return fimTemplate{
		info: info{
			name:        "StarCoder2 FIM",
			description: "StarCoder2 <fim_prefix>/<fim_suffix>/<fim_middle> raw prompt",
			format:      llm.FormatFIM,
			stops:       []string{"<|endoftext|>", "<file_sep>", "<fim_prefix>", "<fim_suffix>", "<fim_middle>"},
			providers:   []llm.ProviderID{llm.ProviderOllama},
		},
		prepare: func(body *llm.Body, c llm.Context) {
			body.Set("prompt", fmt.Sprintf("<fim_prefix>%s<fim_suffix>%s<fim_middle>", c.Prefix, c.Suffix))
			body.Set("raw", true)
		},
	}
}

// CodestralFIM targets Mistral's /v1/fim/completions endpoint.
func CodestralFIM() Template {
	return fimTemplate{
		info: info{
			name:        "Codestral FIM",
			description: "Mistral FIM endpoint: prompt and suffix fields",
			format:      llm.FormatFIM,
			providers:   []llm.ProviderID{llm.ProviderMistralAI},
		},
		prepare: func(body *llm.Body, c llm.Context) {
			body.Set("prompt", c.Prefix)
			body.Set("suffix", c.Suffix)
		},
	}
}

// infillExtra is one entry of llama.cpp's input_extra array.
type infillExtra struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// LlamaCppFIM targets the llama.cpp server /infill endpoint.
func LlamaCppFIM() Template {
	return fimTemplate{
		info: info{
			name:        "llama.cpp FIM",
			description: "llama.cpp /infill: input_prefix, input_suffix and input_extra files",
			format:      llm.FormatFIM,
			providers:   []llm.ProviderID{llm.ProviderLlamaCpp},
		},
		prepare: func(body *llm.Body, c llm.Context) {
			body.Set("input_prefix", c.Prefix)
			body.Set("input_suffix", c.Suffix)
			if len(c.FilesMetadata) > 0 {
				extra := make([]infillExtra, 0, len(c.FilesMetadata))
				for _, f := range c.FilesMetadata {
					extra = append(extra, infillExtra{Filename: f.Path, Text: f.Content})
				}
				body.Set("input_extra", extra)
			}
			body.Set("prompt", systemText(c))
		},
	}
}
