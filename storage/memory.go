package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/richinex/codeweave/llm"
)

// InMemoryStorage implements SessionStorage and Journal using maps.
// Data is lost when process terminates.
type InMemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]session
	journal  map[string]JournalEntry
	seq      int64
}

type session struct {
	history []llm.Message
	updated int64
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		sessions: make(map[string]session),
		journal:  make(map[string]JournalEntry),
	}
}

// Save saves conversation history for a session.
func (s *InMemoryStorage) Save(ctx context.Context, sessionID string, history []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid external mutations
	s.seq++
	s.sessions[sessionID] = session{history: cloneHistory(history), updated: s.seq}
	return nil
}

// Load loads conversation history for a session.
// Returns empty slice if session doesn't exist.
func (s *InMemoryStorage) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return []llm.Message{}, nil
	}
	return cloneHistory(sess.history), nil
}

// Delete deletes conversation history for a session.
func (s *InMemoryStorage) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// ListSessions lists all session IDs, most recently saved first.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.sessions[ids[i]].updated > s.sessions[ids[j]].updated
	})
	return ids, nil
}

// Exists checks if a session exists.
func (s *InMemoryStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[sessionID]
	return ok, nil
}

// Record stores a journal entry.
func (s *InMemoryStorage) Record(ctx context.Context, entry JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal[entry.ID] = entry
	return nil
}

// Finish sets the terminal status of a journal entry.
func (s *InMemoryStorage) Finish(ctx context.Context, id string, status Status, text, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.journal[id]
	if !ok {
		return ErrUnknownEntry
	}
	entry.Status = status
	entry.Text = text
	entry.Reason = reason
	entry.FinishedAt = time.Now().Unix()
	s.journal[id] = entry
	return nil
}

// Entry gets a journal entry by id. Returns nil, nil if not found.
func (s *InMemoryStorage) Entry(ctx context.Context, id string) (*JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.journal[id]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Recent returns up to limit journal entries, newest first.
func (s *InMemoryStorage) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]JournalEntry, 0, len(s.journal))
	for _, e := range s.journal {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt > entries[j].CreatedAt
		}
		return entries[i].ID < entries[j].ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func cloneHistory(history []llm.Message) []llm.Message {
	out := make([]llm.Message, len(history))
	for i, m := range history {
		m.Images = slices.Clone(m.Images)
		out[i] = m
	}
	return out
}

// Verify InMemoryStorage implements both interfaces
var _ SessionStorage = (*InMemoryStorage)(nil)
var _ Journal = (*InMemoryStorage)(nil)
