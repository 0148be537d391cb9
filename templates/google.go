package templates

import (
	"encoding/base64"
	"strings"

	"google.golang.org/genai"

	"github.com/richinex/codeweave/llm"
)

type googleChat struct {
	info
}

// GoogleAI is the Gemini generateContent template. Assistant turns use the
// "model" role and inline images become inlineData parts.
func GoogleAI() Template {
	return googleChat{info{
		name:        "Google AI",
		description: "Gemini contents/parts with system_instruction",
		format:      llm.FormatChat,
		providers:   []llm.ProviderID{llm.ProviderGoogleAI},
	}}
}

func (t googleChat) Prepare(body *llm.Body, c llm.Context) {
	system := []string{}
	if sys := systemText(c); sys != "" {
		system = append(system, sys)
	}

	var contents []*genai.Content
	for _, msg := range conversation(c) {
		if msg.IsThinking() {
			continue
		}
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleUser:
			parts := []*genai.Part{genai.NewPartFromText(msg.Content)}
			for _, img := range msg.Images {
				if img.IsURL {
					continue
				}
				data, err := base64.StdEncoding.DecodeString(img.Data)
				if err != nil {
					continue
				}
				parts = append(parts, genai.NewPartFromBytes(data, img.MediaType))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromText(msg.Content)}, genai.RoleModel))
		}
	}

	if len(system) > 0 {
		body.Set("system_instruction", &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(strings.Join(system, "\n\n"))},
		})
	}
	body.Set("contents", contents)
}
