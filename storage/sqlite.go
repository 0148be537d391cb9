package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/codeweave/llm"
)

// SqliteStorage implements SessionStorage and Journal using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return newSqlite(db)
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every connection would get its own empty in-memory database.
	db.SetMaxOpenConns(1)
	return newSqlite(db)
}

func newSqlite(db *sql.DB) (*SqliteStorage, error) {
	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			images TEXT,
			thinking INTEGER NOT NULL DEFAULT 0,
			redacted INTEGER NOT NULL DEFAULT 0,
			signature TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE,
			UNIQUE(session_id, message_index)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
		ON messages(session_id, message_index);

		CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			provider TEXT NOT NULL,
			template TEXT NOT NULL,
			model TEXT,
			status TEXT NOT NULL,
			text TEXT,
			reason TEXT,
			created_at INTEGER NOT NULL,
			finished_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_requests_created
		ON requests(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SqliteStorage) ensureSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (session_id) VALUES (?)",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

// Save saves conversation history for a session.
func (s *SqliteStorage) Save(ctx context.Context, sessionID string, history []llm.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after Commit is a no-op
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureSession(ctx, tx, sessionID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear old messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, message_index, role, content, images, thinking, redacted, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, msg := range history {
		images, err := encodeImages(msg.Images)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, sessionID, i, string(msg.Role), msg.Content,
			images, msg.Thinking, msg.Redacted, nullString(msg.Signature))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = datetime('now') WHERE session_id = ?",
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load loads conversation history for a session.
// Returns empty slice if session doesn't exist.
func (s *SqliteStorage) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, images, thinking, redacted, signature
		FROM messages WHERE session_id = ? ORDER BY message_index ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []llm.Message{}
	for rows.Next() {
		var (
			msg               llm.Message
			role              string
			images, signature sql.NullString
		)
		if err := rows.Scan(&role, &msg.Content, &images, &msg.Thinking, &msg.Redacted, &signature); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = llm.Role(role)
		msg.Signature = signature.String
		if images.Valid {
			if err := json.Unmarshal([]byte(images.String), &msg.Images); err != nil {
				return nil, fmt.Errorf("invalid images in database: %w", err)
			}
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// Delete deletes conversation history for a session.
func (s *SqliteStorage) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Foreign keys are off by default in SQLite, so messages go explicitly.
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

// ListSessions lists all session IDs.
func (s *SqliteStorage) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM sessions ORDER BY updated_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sessionID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// Exists checks if a session exists.
func (s *SqliteStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ?",
		sessionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return count > 0, nil
}

// Journal implementation

// Record stores a journal entry.
func (s *SqliteStorage) Record(ctx context.Context, entry JournalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO requests
		(id, kind, provider, template, model, status, text, reason, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Kind,
		entry.Provider,
		entry.Template,
		nullString(entry.Model),
		entry.Status.String(),
		nullString(entry.Text),
		nullString(entry.Reason),
		entry.CreatedAt,
		nullInt(entry.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

// Finish sets the terminal status of a journal entry.
func (s *SqliteStorage) Finish(ctx context.Context, id string, status Status, text, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ?, text = ?, reason = ?, finished_at = ?
		WHERE id = ?`,
		status.String(), nullString(text), nullString(reason), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to finish request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish request: %w", err)
	}
	if n == 0 {
		return ErrUnknownEntry
	}
	return nil
}

const journalColumns = `id, kind, provider, template, model, status, text, reason, created_at, finished_at`

// Entry gets a journal entry by id. Returns nil, nil if not found.
func (s *SqliteStorage) Entry(ctx context.Context, id string) (*JournalEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+journalColumns+" FROM requests WHERE id = ?", id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Recent returns up to limit journal entries, newest first.
func (s *SqliteStorage) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+journalColumns+" FROM requests ORDER BY created_at DESC, id ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	entries := []JournalEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (JournalEntry, error) {
	var (
		entry               JournalEntry
		status              string
		model, text, reason sql.NullString
		finishedAt          sql.NullInt64
	)
	err := row.Scan(
		&entry.ID,
		&entry.Kind,
		&entry.Provider,
		&entry.Template,
		&model,
		&status,
		&text,
		&reason,
		&entry.CreatedAt,
		&finishedAt,
	)
	if err == sql.ErrNoRows {
		return JournalEntry{}, err
	}
	if err != nil {
		return JournalEntry{}, fmt.Errorf("failed to scan request: %w", err)
	}

	entry.Model = model.String
	entry.Text = text.String
	entry.Reason = reason.String
	entry.FinishedAt = finishedAt.Int64

	entry.Status, err = ParseStatus(status)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("invalid status %q in database: %w", status, err)
	}
	return entry, nil
}

func encodeImages(images []llm.Image) (any, error) {
	if len(images) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("failed to encode images: %w", err)
	}
	return string(data), nil
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

// Verify SqliteStorage implements both interfaces
var _ SessionStorage = (*SqliteStorage)(nil)
var _ Journal = (*SqliteStorage)(nil)
