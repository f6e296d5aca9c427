package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/next-unicorn-dev/canvas/core"
)

// SQLiteStore persists sessions in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path. The parent
// directory is created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// WAL mode and a busy timeout for concurrent sessions
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		canvas_id TEXT NOT NULL,
		title TEXT,
		model TEXT,
		provider TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_canvas_id ON chat_sessions(canvas_id);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		message TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id ON chat_messages(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts cs or updates the metadata of an existing id.
func (s *SQLiteStore) CreateSession(ctx context.Context, cs ChatSession) error {
	now := time.Now().UTC()
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, canvas_id, title, model, provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			canvas_id = excluded.canvas_id,
			title = excluded.title,
			model = excluded.model,
			provider = excluded.provider,
			updated_at = excluded.updated_at`,
		cs.ID, cs.CanvasID, cs.Title, cs.Model, cs.Provider, cs.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat session: %w", err)
	}
	return nil
}

// GetSession returns the session or ErrSessionNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (ChatSession, error) {
	var (
		cs                     ChatSession
		title, model, provider sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, canvas_id, title, model, provider, created_at, updated_at
		FROM chat_sessions WHERE id = ?`, id,
	).Scan(&cs.ID, &cs.CanvasID, &title, &model, &provider, &cs.CreatedAt, &cs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatSession{}, ErrSessionNotFound
	}
	if err != nil {
		return ChatSession{}, fmt.Errorf("failed to query chat session: %w", err)
	}
	cs.Title, cs.Model, cs.Provider = title.String, model.String, provider.String
	return cs, nil
}

// AppendMessage inserts msg and touches the session's updated_at.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg core.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, role, message, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, msg.Role, string(data), now,
	); err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return fmt.Errorf("failed to touch chat session: %w", err)
	}
	return tx.Commit()
}

// ListMessages returns the decoded log in insertion order. Rows that do not
// decode are skipped.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, message, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stored []StoredMessage
	for rows.Next() {
		var (
			row     StoredMessage
			message sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Role, &message, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		row.Message = message.String
		stored = append(stored, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return decodeRows(stored), nil
}

// ListSessions returns the canvas's sessions, most recently updated first.
// An empty canvasID lists every session.
func (s *SQLiteStore) ListSessions(ctx context.Context, canvasID string) ([]ChatSession, error) {
	query := `
		SELECT id, canvas_id, title, model, provider, created_at, updated_at
		FROM chat_sessions`
	var args []any
	if canvasID != "" {
		query += ` WHERE canvas_id = ?`
		args = append(args, canvasID)
	}
	query += ` ORDER BY updated_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []ChatSession{}
	for rows.Next() {
		var (
			cs                     ChatSession
			title, model, provider sql.NullString
		)
		if err := rows.Scan(&cs.ID, &cs.CanvasID, &title, &model, &provider, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat session: %w", err)
		}
		cs.Title, cs.Model, cs.Provider = title.String, model.String, provider.String
		sessions = append(sessions, cs)
	}
	return sessions, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
