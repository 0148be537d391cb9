package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownEntry is returned when finishing an id that was never recorded.
var ErrUnknownEntry = errors.New("unknown journal entry")

// Status is the lifecycle state of a journaled request.
type Status int

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus parses a status string (case-insensitive).
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "pending":
		return StatusPending, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("unknown status: %s", s)
	}
}

// JournalEntry is one submitted request and its outcome.
type JournalEntry struct {
	ID         string
	Kind       string
	Provider   string
	Template   string
	Model      string
	Status     Status
	Text       string
	Reason     string
	CreatedAt  int64 // Unix timestamp
	FinishedAt int64 // Unix timestamp, zero while pending
}

// NewJournalEntry creates a pending entry stamped with the current time.
func NewJournalEntry(id, kind, provider, template, model string) JournalEntry {
	return JournalEntry{
		ID:        id,
		Kind:      kind,
		Provider:  provider,
		Template:  template,
		Model:     model,
		Status:    StatusPending,
		CreatedAt: time.Now().Unix(),
	}
}

// Journal records submitted requests and their outcomes.
type Journal interface {
	// Record stores a new entry. Recording an existing id replaces it.
	Record(ctx context.Context, entry JournalEntry) error

	// Finish sets the terminal status of an entry.
	// Returns ErrUnknownEntry if the id was never recorded.
	Finish(ctx context.Context, id string, status Status, text, reason string) error

	// Entry gets an entry by id. Returns nil, nil if not found.
	Entry(ctx context.Context, id string) (*JournalEntry, error)

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]JournalEntry, error)
}
