// Package llm provides the vendor-neutral data model shared by templates,
// providers and the request orchestrator.
//
// Information Hiding:
// - Vendor wire formats never leak into these types
// - Role and kind vocabularies are closed enums with string forms
// - Context values are plain data, safe to copy and share read-only

package llm

import (
	"fmt"
	"strings"
)

// Role is the internal conversation role of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleThinking marks a reasoning block produced by a reasoning-capable model.
	RoleThinking Role = "thinking"
	// RoleTool marks a tool result. Templates without tool support drop it.
	RoleTool Role = "tool"
)

// Image is an image attached to a message.
type Image struct {
	// Data holds base64 encoded bytes, or a URL when IsURL is set.
	Data      string `json:"data"`
	MediaType string `json:"media_type"`
	IsURL     bool   `json:"is_url,omitempty"`
}

// Message is one turn of conversation history.
type Message struct {
	Role    Role    `json:"role"`
	Content string  `json:"content"`
	Images  []Image `json:"images,omitempty"`

	// Thinking-block fields. Redacted thinking keeps its opaque payload in Content.
	Thinking  bool   `json:"thinking,omitempty"`
	Redacted  bool   `json:"redacted,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// IsThinking reports whether the message carries a reasoning block.
func (m Message) IsThinking() bool {
	return m.Role == RoleThinking || m.Thinking || m.Redacted
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ThinkingMessage creates a signed thinking message.
func ThinkingMessage(thinking, signature string) Message {
	return Message{Role: RoleThinking, Content: thinking, Thinking: true, Signature: signature}
}

// FileMetadata is an additional file the caller wants the model to see.
type FileMetadata struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Context is the vendor-neutral input of a template. All fields are optional.
// A Context is treated as immutable once it has been handed to a template.
type Context struct {
	SystemPrompt  string         `json:"system_prompt,omitempty"`
	Prefix        string         `json:"prefix,omitempty"`
	Suffix        string         `json:"suffix,omitempty"`
	FileContext   string         `json:"file_context,omitempty"`
	History       []Message      `json:"history,omitempty"`
	FilesMetadata []FileMetadata `json:"files_metadata,omitempty"`
}

// RequestKind is what the caller is asking for.
type RequestKind int

const (
	// KindCompletion is a fill-in-middle code completion.
	KindCompletion RequestKind = iota
	// KindChat is a conversational reply.
	KindChat
	// KindRefactor is a focused rewrite of a selection.
	KindRefactor
)

// String returns the string representation of the request kind.
func (k RequestKind) String() string {
	switch k {
	case KindCompletion:
		return "completion"
	case KindChat:
		return "chat"
	case KindRefactor:
		return "refactor"
	default:
		return "unknown"
	}
}

// ParseRequestKind parses a request kind from string (case-insensitive).
func ParseRequestKind(s string) (RequestKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completion", "complete", "fim":
		return KindCompletion, nil
	case "chat":
		return KindChat, nil
	case "refactor", "quick-refactor":
		return KindRefactor, nil
	default:
		return 0, fmt.Errorf("unknown request kind: %q", s)
	}
}

// Accepts reports whether a template of the given wire format may serve this kind.
// Completions can be served by FIM templates and by chat templates; chat and
// refactor requests need a chat template.
func (k RequestKind) Accepts(f WireFormat) bool {
	switch k {
	case KindCompletion:
		return f == FormatFIM || f == FormatChat
	case KindChat, KindRefactor:
		return f == FormatChat
	default:
		return false
	}
}

// WireFormat is the prompt shape family of a template.
type WireFormat int

const (
	// FormatFIM is a prefix/suffix fill-in-middle prompt.
	FormatFIM WireFormat = iota
	// FormatChat is a turn-based message array.
	FormatChat
)

// String returns the string representation of the wire format.
func (f WireFormat) String() string {
	switch f {
	case FormatFIM:
		return "fim"
	case FormatChat:
		return "chat"
	default:
		return "unknown"
	}
}

// ProviderID identifies a backend vendor.
type ProviderID int

const (
	ProviderOllama ProviderID = iota
	ProviderOpenAI
	ProviderClaude
	ProviderGoogleAI
	ProviderMistralAI
	ProviderLlamaCpp
	ProviderOpenRouter
	ProviderOpenAICompatible
)

// String returns the display name of the provider.
func (p ProviderID) String() string {
	switch p {
	case ProviderOllama:
		return "Ollama"
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderClaude:
		return "Claude"
	case ProviderGoogleAI:
		return "Google AI"
	case ProviderMistralAI:
		return "Mistral AI"
	case ProviderLlamaCpp:
		return "llama.cpp"
	case ProviderOpenRouter:
		return "OpenRouter"
	case ProviderOpenAICompatible:
		return "OpenAI Compatible"
	default:
		return "unknown"
	}
}

// ParseProviderID parses a provider from its display name or a common alias
// (case-insensitive).
func ParseProviderID(s string) (ProviderID, error) {
	switch normalizeName(s) {
	case "ollama":
		return ProviderOllama, nil
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "claude", "anthropic":
		return ProviderClaude, nil
	case "googleai", "google", "gemini":
		return ProviderGoogleAI, nil
	case "mistralai", "mistral", "codestral":
		return ProviderMistralAI, nil
	case "llamacpp", "llama.cpp":
		return ProviderLlamaCpp, nil
	case "openrouter":
		return ProviderOpenRouter, nil
	case "openaicompatible", "compatible", "lmstudio":
		return ProviderOpenAICompatible, nil
	default:
		return 0, fmt.Errorf("unknown provider: %q", s)
	}
}

// AllProviders lists every known provider in declaration order.
func AllProviders() []ProviderID {
	return []ProviderID{
		ProviderOllama,
		ProviderOpenAI,
		ProviderClaude,
		ProviderGoogleAI,
		ProviderMistralAI,
		ProviderLlamaCpp,
		ProviderOpenRouter,
		ProviderOpenAICompatible,
	}
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "llama.cpp" {
		return s
	}
	return strings.NewReplacer(" ", "", "-", "", "_", "", ".", "").Replace(s)
}
