// Package transcript archives conversation histories in SQLite.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/normanking/avatarchat/internal/backend"
	"github.com/normanking/avatarchat/internal/conversation"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidID is returned for an empty session id.
	ErrInvalidID = errors.New("invalid session id")
)

// SessionSummary describes one archived conversation.
type SessionSummary struct {
	ID           string    `json:"id" yaml:"id"`
	StartedAt    time.Time `json:"startedAt" yaml:"started_at"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updated_at"`
	MessageCount int       `json:"messageCount" yaml:"message_count"`
}

// SQLiteStore implements conversation.Recorder on a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

var _ conversation.Recorder = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates if needed) the archive at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		playback TEXT NOT NULL,
		synthetic INTEGER NOT NULL DEFAULT 0,
		media TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, sequence),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record upserts msg into the session's transcript.
func (s *SQLiteStore) Record(ctx context.Context, sessionID string, msg conversation.Message) error {
	if sessionID == "" {
		return ErrInvalidID
	}

	var media []byte
	if msg.Media != (backend.Media{}) {
		var err error
		if media, err = json.Marshal(msg.Media); err != nil {
			return fmt.Errorf("marshal media: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	created := msg.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO sessions (id, started_at, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, sessionID, created.UnixNano(), now)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO messages (session_id, sequence, role, content, playback, synthetic, media, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, sequence) DO UPDATE SET
		playback = excluded.playback
	`,
		sessionID,
		msg.Sequence,
		string(msg.Role),
		msg.Content,
		string(msg.Playback),
		msg.Synthetic,
		nullableString(media),
		created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Timestamps are stored as UTC unix nanoseconds so they order numerically.
func fromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullableString(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}

// ListSessions returns the most recently updated sessions first. limit <= 0
// returns all of them.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT s.id, s.started_at, s.updated_at, COUNT(m.sequence)
	FROM sessions s
	LEFT JOIN messages m ON m.session_id = s.id
	GROUP BY s.id
	ORDER BY s.updated_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var started, updated int64
		if err := rows.Scan(&sum.ID, &started, &updated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.StartedAt = fromUnixNano(started)
		sum.UpdatedAt = fromUnixNano(updated)
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// Messages returns a session's transcript in sequence order.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT sequence, role, content, playback, synthetic, media, created_at
	FROM messages
	WHERE session_id = ?
	ORDER BY sequence ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var m conversation.Message
		var role, playback string
		var created int64
		var media sql.NullString
		if err := rows.Scan(&m.Sequence, &role, &m.Content, &playback, &m.Synthetic, &media, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = conversation.Role(role)
		m.Playback = conversation.PlaybackState(playback)
		if media.Valid && media.String != "" {
			if err := json.Unmarshal([]byte(media.String), &m.Media); err != nil {
				return nil, fmt.Errorf("unmarshal media: %w", err)
			}
		}
		m.CreatedAt = fromUnixNano(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
