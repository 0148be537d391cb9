package cli

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/richinex/codeweave/llm"
)

const (
	completionSystemPrompt = "You are a code completion engine. Insert only the missing code."
	chatSystemPrompt       = "You are a helpful programming assistant."
	refactorSystemPrompt   = "You are a careful refactoring assistant. Preserve behavior unless asked otherwise."

	// maxFileBytes caps each attached file.
	maxFileBytes = 256 << 10
)

// Request is the payload the CLI hands to the orchestrator.
type Request struct {
	SystemPrompt string
	Prefix       string
	Suffix       string
	// Prompt is the user text of chat and refactor requests.
	Prompt string
	// Selection is the code a refactor request rewrites.
	Selection string
	Files     []string
	Images    []string
	History   []llm.Message
}

// ContextBuilder turns a CLI Request into a vendor-neutral Context. Files
// named in the request, or absolute paths mentioned in the prompt, are read
// and attached as file context.
type ContextBuilder struct {
	readFile func(string) ([]byte, error)
	isFile   func(string) bool
}

// NewContextBuilder creates a ContextBuilder reading from the local filesystem.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{readFile: os.ReadFile, isFile: isRegularFile}
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Build implements orchestration.ContextBuilder.
func (b *ContextBuilder) Build(kind llm.RequestKind, payload any) (llm.Context, error) {
	var req Request
	switch p := payload.(type) {
	case Request:
		req = p
	case *Request:
		if p == nil {
			return llm.Context{}, fmt.Errorf("nil request")
		}
		req = *p
	default:
		return llm.Context{}, fmt.Errorf("unsupported payload type %T", payload)
	}

	c := llm.Context{
		SystemPrompt: req.SystemPrompt,
		History:      append([]llm.Message(nil), req.History...),
	}

	files := append(append([]string(nil), req.Files...), b.extractFilePaths(req.Prompt)...)
	if err := b.attachFiles(&c, files); err != nil {
		return llm.Context{}, err
	}

	switch kind {
	case llm.KindCompletion:
		if c.SystemPrompt == "" {
			c.SystemPrompt = completionSystemPrompt
		}
		c.Prefix = req.Prefix
		c.Suffix = req.Suffix
	case llm.KindChat:
		if c.SystemPrompt == "" {
			c.SystemPrompt = chatSystemPrompt
		}
		if strings.TrimSpace(req.Prompt) == "" && len(req.Images) == 0 {
			return llm.Context{}, fmt.Errorf("chat request needs a prompt")
		}
		msg, err := b.userMessage(req.Prompt, req.Images)
		if err != nil {
			return llm.Context{}, err
		}
		c.History = append(c.History, msg)
	case llm.KindRefactor:
		if c.SystemPrompt == "" {
			c.SystemPrompt = refactorSystemPrompt
		}
		if strings.TrimSpace(req.Selection) == "" {
			return llm.Context{}, fmt.Errorf("refactor request needs a selection")
		}
		msg, err := b.userMessage(refactorPrompt(req.Selection, req.Prompt), req.Images)
		if err != nil {
			return llm.Context{}, err
		}
		c.History = append(c.History, msg)
	default:
		return llm.Context{}, fmt.Errorf("unsupported request kind %s", kind)
	}
	return c, nil
}

func refactorPrompt(selection, instructions string) string {
	var sb strings.Builder
	sb.WriteString("Rewrite the code below. Reply with the rewritten code only.\n\n<selection>\n")
	sb.WriteString(selection)
	sb.WriteString("\n</selection>")
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		sb.WriteString("\n\nInstructions: ")
		sb.WriteString(instructions)
	}
	return sb.String()
}

func (b *ContextBuilder) attachFiles(c *llm.Context, paths []string) error {
	seen := make(map[string]bool)
	var sections []string
	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true

		data, err := b.readFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		content := string(truncateUTF8(data, maxFileBytes))
		c.FilesMetadata = append(c.FilesMetadata, llm.FileMetadata{Path: path, Content: content})
		sections = append(sections, fmt.Sprintf("<file path=%q>\n%s\n</file>", path, content))
	}
	c.FileContext = strings.Join(sections, "\n\n")
	return nil
}

func (b *ContextBuilder) userMessage(text string, images []string) (llm.Message, error) {
	msg := llm.UserMessage(text)
	for _, path := range images {
		if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
			msg.Images = append(msg.Images, llm.Image{Data: path, IsURL: true})
			continue
		}
		data, err := b.readFile(path)
		if err != nil {
			return llm.Message{}, fmt.Errorf("read image %s: %w", path, err)
		}
		msg.Images = append(msg.Images, llm.Image{
			Data:      base64.StdEncoding.EncodeToString(data),
			MediaType: mediaType(path, data),
		})
	}
	return msg, nil
}

func mediaType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); strings.HasPrefix(t, "image/") {
		return t
	}
	return http.DetectContentType(data)
}

// truncateUTF8 cuts data to at most n bytes without splitting a rune.
func truncateUTF8(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	data = data[:n]
	for i := 0; i < utf8.UTFMax-1 && len(data) > 0; i++ {
		if r, size := utf8.DecodeLastRune(data); r != utf8.RuneError || size > 1 {
			break
		}
		data = data[:len(data)-1]
	}
	return data
}

// extractFilePaths finds absolute paths of existing files in text.
func (b *ContextBuilder) extractFilePaths(text string) []string {
	var paths []string
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, "\"',;:()[]{}")
		if !strings.HasPrefix(word, "/") || len(word) < 2 {
			continue
		}
		if !strings.Contains(word[1:], "/") && !strings.Contains(word, ".") {
			continue
		}
		if b.isFile(word) {
			paths = append(paths, word)
		}
	}
	return paths
}
