package templates

import (
	"fmt"

	"github.com/richinex/codeweave/llm"
)

// chatMessage is the Ollama /api/chat message shape. ChatML and Alpaca reuse
// it with the role markers rendered into the content.
type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// roleName maps an internal role to the plain chat vocabulary. ok is false
// for roles the template drops.
func roleName(msg llm.Message) (string, bool) {
	if msg.IsThinking() {
		return "", false
	}
	switch msg.Role {
	case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		return string(msg.Role), true
	default:
		return "", false
	}
}

type ollamaChat struct {
	info
}

// OllamaChat is the native Ollama chat template. Inline images travel as
// base64 strings; URL images are not supported by Ollama and are dropped.
func OllamaChat() Template {
	return ollamaChat{info{
		name:        "Ollama Chat",
		description: "Native Ollama /api/chat messages with base64 images",
		format:      llm.FormatChat,
		providers:   []llm.ProviderID{llm.ProviderOllama},
	}}
}

func (t ollamaChat) Prepare(body *llm.Body, c llm.Context) {
	var messages []chatMessage
	if sys := systemText(c); sys != "" {
		messages = append(messages, chatMessage{Role: "system", Content: sys})
	}
	for _, msg := range conversation(c) {
		role, ok := roleName(msg)
		if !ok {
			continue
		}
		out := chatMessage{Role: role, Content: msg.Content}
		for _, img := range msg.Images {
			if !img.IsURL {
				out.Images = append(out.Images, img.Data)
			}
		}
		messages = append(messages, out)
	}
	body.Set("messages", messages)
}

// markupChat renders every turn through a format string before sending it as
// an ordinary chat message.
type markupChat struct {
	info
	render func(role, content string) string
}

// ChatML wraps each turn in <|im_start|> and <|im_end|> markers.
func ChatML() Template {
	return markupChat{
		info: info{
			name:        "ChatML",
			description: "ChatML <|im_start|>role ... <|im_end|> turns",
			format:      llm.FormatChat,
			stops:       []string{"<|im_start|>", "<|im_end|>"},
			providers: []llm.ProviderID{
				llm.ProviderOllama,
				llm.ProviderLlamaCpp,
				llm.ProviderOpenAICompatible,
			},
		},
		render: func(role, content string) string {
			return fmt.Sprintf("<|im_start|>%s\n%s\n<|im_end|>", role, content)
		},
	}
}

// Alpaca renders turns as "### Instruction:" and "### Response:" sections.
func Alpaca() Template {
	return markupChat{
		info: info{
			name:        "Alpaca",
			description: "Alpaca ### Instruction / ### Response sections",
			format:      llm.FormatChat,
			stops:       []string{"### Instruction:", "### Response:"},
			providers: []llm.ProviderID{
				llm.ProviderOllama,
				llm.ProviderLlamaCpp,
				llm.ProviderOpenAICompatible,
			},
		},
		render: func(role, content string) string {
			if role == "assistant" {
				return "### Response:\n" + content
			}
			return "### Instruction:\n" + content
		},
	}
}

func (t markupChat) Prepare(body *llm.Body, c llm.Context) {
	var messages []chatMessage
	if sys := systemText(c); sys != "" {
		messages = append(messages, chatMessage{Role: "system", Content: t.render("system", sys)})
	}
	for _, msg := range conversation(c) {
		role, ok := roleName(msg)
		if !ok {
			continue
		}
		messages = append(messages, chatMessage{Role: role, Content: t.render(role, msg.Content)})
	}
	body.Set("messages", messages)
}
