package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/richinex/codeweave/llm"
)

func fakeFiles(files map[string]string) *ContextBuilder {
	return &ContextBuilder{
		readFile: func(path string) ([]byte, error) {
			content, ok := files[path]
			if !ok {
				return nil, os.ErrNotExist
			}
			return []byte(content), nil
		},
		isFile: func(path string) bool {
			_, ok := files[path]
			return ok
		},
	}
}

func TestBuildCompletion(t *testing.T) {
	b := fakeFiles(map[string]string{"util.py": "def helper(): pass"})

	c, err := b.Build(llm.KindCompletion, Request{Prefix: "def foo(", Suffix: ")", Files: []string{"util.py"}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.Prefix != "def foo(" || c.Suffix != ")" {
		t.Errorf("unexpected prefix/suffix %q %q", c.Prefix, c.Suffix)
	}
	if c.SystemPrompt != completionSystemPrompt {
		t.Errorf("expected default system prompt, got %q", c.SystemPrompt)
	}
	want := []llm.FileMetadata{{Path: "util.py", Content: "def helper(): pass"}}
	if diff := cmp.Diff(want, c.FilesMetadata); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(c.FileContext, `<file path="util.py">`) {
		t.Errorf("file context missing file: %q", c.FileContext)
	}
	if len(c.History) != 0 {
		t.Errorf("completion must not add history, got %v", c.History)
	}
}

func TestBuildChatAppendsTurn(t *testing.T) {
	b := fakeFiles(map[string]string{"cat.png": "\x89PNG\r\n\x1a\n"})
	history := []llm.Message{llm.UserMessage("hi"), llm.AssistantMessage("hello")}

	c, err := b.Build(llm.KindChat, &Request{
		SystemPrompt: "terse",
		Prompt:       "what is this?",
		Images:       []string{"cat.png", "https://example.com/dog.jpg"},
		History:      history,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.SystemPrompt != "terse" {
		t.Errorf("explicit system prompt must win, got %q", c.SystemPrompt)
	}
	if len(c.History) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(c.History))
	}
	last := c.History[2]
	if last.Role != llm.RoleUser || last.Content != "what is this?" {
		t.Errorf("unexpected last message %+v", last)
	}
	wantImages := []llm.Image{
		{Data: "iVBORw0KGgo=", MediaType: "image/png"},
		{Data: "https://example.com/dog.jpg", IsURL: true},
	}
	if diff := cmp.Diff(wantImages, last.Images); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}
	if len(history) != 2 {
		t.Error("Build must not modify the caller's history")
	}
}

func TestBuildRefactor(t *testing.T) {
	b := fakeFiles(nil)
	c, err := b.Build(llm.KindRefactor, Request{Selection: "x=1", Prompt: "use a constant"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	msg := c.History[0].Content
	for _, want := range []string{"<selection>\nx=1\n</selection>", "Instructions: use a constant"} {
		if !strings.Contains(msg, want) {
			t.Errorf("refactor prompt missing %q: %q", want, msg)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	b := fakeFiles(nil)
	tests := []struct {
		name    string
		kind    llm.RequestKind
		payload any
	}{
		{"foreign payload", llm.KindChat, "text"},
		{"nil request", llm.KindChat, (*Request)(nil)},
		{"empty chat", llm.KindChat, Request{}},
		{"empty refactor", llm.KindRefactor, Request{Prompt: "do it"}},
		{"missing file", llm.KindCompletion, Request{Prefix: "a", Files: []string{"nope.go"}}},
		{"missing image", llm.KindChat, Request{Prompt: "a", Images: []string{"nope.png"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.Build(tt.kind, tt.payload); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExtractFilePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := NewContextBuilder().extractFilePaths("explain (" + path + "), not /no/such/file.go or /")
	if diff := cmp.Diff([]string{path}, got); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildAttachesPathsFromPrompt(t *testing.T) {
	b := fakeFiles(map[string]string{"/src/app/main.go": "package main"})

	c, err := b.Build(llm.KindChat, Request{Prompt: "why does /src/app/main.go not build? see /src/app/gone.go"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []llm.FileMetadata{{Path: "/src/app/main.go", Content: "package main"}}
	if diff := cmp.Diff(want, c.FilesMetadata); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestLargeFileCutOnRuneBoundary(t *testing.T) {
	// Every é starts at an odd offset, so the byte cap lands inside one.
	content := "a" + strings.Repeat("é", maxFileBytes/2)
	b := fakeFiles(map[string]string{"big.txt": content})

	c, err := b.Build(llm.KindCompletion, Request{Prefix: "x", Files: []string{"big.txt"}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got := c.FilesMetadata[0].Content
	if !utf8.ValidString(got) {
		t.Error("truncated file content is not valid UTF-8")
	}
	if len(got) != maxFileBytes-1 {
		t.Errorf("expected %d bytes, got %d", maxFileBytes-1, len(got))
	}
}
