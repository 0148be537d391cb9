// Package storage persists chat sessions and the request journal.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interfaces
// - Allows swapping between memory and SQLite without API changes
// - Each storage implementation encapsulates its own data structures

package storage

import (
	"context"

	"github.com/richinex/codeweave/llm"
)

// SessionStorage stores chat history between CLI invocations.
type SessionStorage interface {
	// Save replaces the history of a session.
	Save(ctx context.Context, sessionID string, history []llm.Message) error

	// Load loads the history of a session.
	// Returns an empty slice (not nil) if the session doesn't exist.
	// Returns an error only for storage failures, not missing sessions.
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)

	// Delete deletes a session.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions lists all session IDs, most recently updated first.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)
}
