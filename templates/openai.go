package templates

import (
	"github.com/sashabaranov/go-openai"

	"github.com/richinex/codeweave/llm"
)

// openAIChat writes an OpenAI style "messages" array. The go-openai message
// type is used as the wire DTO so the shape tracks the upstream API.
type openAIChat struct {
	info
}

// OpenAI is the chat template for the OpenAI API.
func OpenAI() Template {
	return openAIChat{info{
		name:        "OpenAI",
		description: "OpenAI chat messages with image_url parts",
		format:      llm.FormatChat,
		providers:   []llm.ProviderID{llm.ProviderOpenAI},
	}}
}

// OpenAICompatible serves any backend that speaks the OpenAI chat format.
func OpenAICompatible() Template {
	return openAIChat{info{
		name:        "OpenAI Compatible",
		description: "OpenAI chat messages for OpenRouter, llama.cpp and compatible servers",
		format:      llm.FormatChat,
		providers: []llm.ProviderID{
			llm.ProviderOpenRouter,
			llm.ProviderOpenAICompatible,
			llm.ProviderLlamaCpp,
		},
	}}
}

// MistralChat is the chat template for the Mistral API.
func MistralChat() Template {
	return openAIChat{info{
		name:        "Mistral AI Chat",
		description: "Mistral chat completions in OpenAI message format",
		format:      llm.FormatChat,
		providers:   []llm.ProviderID{llm.ProviderMistralAI},
	}}
}

func (t openAIChat) Prepare(body *llm.Body, c llm.Context) {
	body.Set("messages", openAIMessages(c))
}

func openAIMessages(c llm.Context) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage

	if sys := systemText(c); sys != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sys,
		})
	}

	for _, msg := range conversation(c) {
		if msg.IsThinking() {
			continue
		}
		var role string
		switch msg.Role {
		case llm.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case llm.RoleUser:
			role = openai.ChatMessageRoleUser
		case llm.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			continue
		}

		out := openai.ChatCompletionMessage{Role: role}
		if role == openai.ChatMessageRoleUser && len(msg.Images) > 0 {
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: msg.Content,
			})
			for _, img := range msg.Images {
				out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: imageURL(img)},
				})
			}
		} else {
			out.Content = msg.Content
		}
		messages = append(messages, out)
	}

	return messages
}

// imageURL returns the image as a URL, wrapping inline data in a data URL.
func imageURL(img llm.Image) string {
	if img.IsURL {
		return img.Data
	}
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + img.Data
}
