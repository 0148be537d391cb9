package templates

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/richinex/codeweave/llm"
)

type claudeChat struct {
	info
}

// Claude is the Anthropic Messages template.
//
// Thinking blocks must be replayed ahead of the assistant text they belong to.
// A thinking message without a signature cannot be replayed and is dropped;
// redacted thinking is replayed with its opaque payload.
func Claude() Template {
	return claudeChat{info{
		name:        "Claude",
		description: "Anthropic Messages API with thinking block replay",
		format:      llm.FormatChat,
		providers:   []llm.ProviderID{llm.ProviderClaude},
	}}
}

func (t claudeChat) Prepare(body *llm.Body, c llm.Context) {
	system := []string{}
	if sys := systemText(c); sys != "" {
		system = append(system, sys)
	}

	var messages []anthropic.MessageParam
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			messages = append(messages, anthropic.NewAssistantMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range conversation(c) {
		switch {
		case msg.Redacted:
			if msg.Content != "" {
				pending = append(pending, anthropic.NewRedactedThinkingBlock(msg.Content))
			}
		case msg.IsThinking():
			if msg.Signature == "" {
				continue
			}
			pending = append(pending, anthropic.NewThinkingBlock(msg.Signature, msg.Content))
		case msg.Role == llm.RoleSystem:
			system = append(system, msg.Content)
		case msg.Role == llm.RoleUser:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			for _, img := range msg.Images {
				if img.IsURL {
					continue
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Data))
			}
			if msg.Content != "" || len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		case msg.Role == llm.RoleAssistant:
			blocks := pending
			pending = nil
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	flush()

	if len(system) > 0 {
		body.Set("system", strings.Join(system, "\n\n"))
	}
	body.Set("messages", messages)
}
