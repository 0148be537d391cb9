package storage

import (
	"context"
	"testing"

	"github.com/richinex/codeweave/llm"
)

func TestInMemoryStorageSaveAndLoad(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	messages := []llm.Message{
		llm.UserMessage("Hello"),
		llm.AssistantMessage("Hi there"),
	}

	if err := storage.Save(ctx, "test-session", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := storage.Load(ctx, "test-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
	if loaded[0].Content != "Hello" {
		t.Errorf("expected 'Hello', got '%s'", loaded[0].Content)
	}
	if loaded[1].Content != "Hi there" {
		t.Errorf("expected 'Hi there', got '%s'", loaded[1].Content)
	}
}

func TestInMemoryStorageLoadNonexistentSession(t *testing.T) {
	storage := NewInMemoryStorage()

	loaded, err := storage.Load(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil || len(loaded) != 0 {
		t.Errorf("expected empty slice, got %v", loaded)
	}
}

func TestInMemoryStorageDeleteSession(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	if err := storage.Save(ctx, "test-session", []llm.Message{llm.UserMessage("Test")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	exists, _ := storage.Exists(ctx, "test-session")
	if !exists {
		t.Error("expected session to exist")
	}

	if err := storage.Delete(ctx, "test-session"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, _ = storage.Exists(ctx, "test-session")
	if exists {
		t.Error("expected session to not exist after deletion")
	}
}

func TestInMemoryStorageIsolation(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "Original", Images: []llm.Image{{Data: "aGk=", MediaType: "image/png"}}},
	}
	if err := storage.Save(ctx, "test-session", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	messages[0].Content = "Modified"
	messages[0].Images[0].Data = "changed"

	loaded, _ := storage.Load(ctx, "test-session")
	if loaded[0].Content != "Original" || loaded[0].Images[0].Data != "aGk=" {
		t.Errorf("storage should not be affected by external modifications, got %+v", loaded[0])
	}

	loaded[0].Images[0].Data = "again"
	reloaded, _ := storage.Load(ctx, "test-session")
	if reloaded[0].Images[0].Data != "aGk=" {
		t.Error("loaded history must not alias stored history")
	}
}

func TestInMemoryStorageListSessionsNewestFirst(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	for _, id := range []string{"one", "two", "three"} {
		if err := storage.Save(ctx, id, nil); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := storage.Save(ctx, "one", []llm.Message{llm.UserMessage("again")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sessions, err := storage.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	want := []string{"one", "three", "two"}
	if len(sessions) != len(want) {
		t.Fatalf("expected %v, got %v", want, sessions)
	}
	for i := range want {
		if sessions[i] != want[i] {
			t.Errorf("expected %v, got %v", want, sessions)
			break
		}
	}
}
