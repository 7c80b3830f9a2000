package store

import (
	"database/sql"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/types"
)

// SessionStore persists named sessions and archived live-session updates in
// sessions.db. Live pair state itself is in-memory only; broadcasts are
// archived here so replay_session works after the pair ends.
type SessionStore struct {
	db *sql.DB
}

// ArchivedUpdate is one replayable live-session broadcast.
type ArchivedUpdate struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	Data      string `json:"data"`
	Timestamp string `json:"timestamp"`
}

// NewSessionStore opens sessions.db under baseDir.
func NewSessionStore(baseDir string) (*SessionStore, error) {
	db, err := openDB(baseDir, "sessions.db", []string{
		`CREATE TABLE IF NOT EXISTS named_sessions (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			account     TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_named_sessions_name ON named_sessions(name)`,
		`CREATE TABLE IF NOT EXISTS session_updates (
			rowid      INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sender     TEXT NOT NULL,
			data       TEXT NOT NULL,
			timestamp  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_updates ON session_updates(session_id, rowid)`,
	})
	if err != nil {
		return nil, err
	}
	return &SessionStore{db: db}, nil
}

// Close closes the database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Name attaches a durable name to a session id. Renaming upserts.
func (s *SessionStore) Name(ns *types.NamedSession) error {
	if ns.ID == "" {
		ns.ID = types.NewID()
	}
	if ns.CreatedAt == "" {
		ns.CreatedAt = types.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO named_sessions (id, name, description, account, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description`,
		ns.ID, ns.Name, ns.Description, ns.Account, ns.CreatedAt)
	if err != nil {
		return fmt.Errorf("name session: %w", err)
	}
	return nil
}

// List returns named sessions, newest first, optionally owned by account.
func (s *SessionStore) List(account string, limit int) ([]*types.NamedSession, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, name, description, account, created_at FROM named_sessions`
	var args []any
	if account != "" {
		q += ` WHERE account = ?`
		args = append(args, account)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	return s.queryNamed(q, args...)
}

// Search matches named sessions by substring over name and description.
func (s *SessionStore) Search(text string, limit int) ([]*types.NamedSession, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + text + "%"
	return s.queryNamed(
		`SELECT id, name, description, account, created_at FROM named_sessions
		 WHERE name LIKE ? OR description LIKE ?
		 ORDER BY created_at DESC LIMIT ?`, pattern, pattern, limit)
}

// ArchiveUpdate appends a live-session broadcast for later replay.
func (s *SessionStore) ArchiveUpdate(u *ArchivedUpdate) error {
	if u.Timestamp == "" {
		u.Timestamp = types.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO session_updates (session_id, sender, data, timestamp)
		 VALUES (?, ?, ?, ?)`,
		u.SessionID, u.From, u.Data, u.Timestamp)
	if err != nil {
		return fmt.Errorf("archive session update: %w", err)
	}
	return nil
}

// Replay returns a session's archived updates in broadcast order.
func (s *SessionStore) Replay(sessionID string, limit int) ([]*ArchivedUpdate, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(
		`SELECT session_id, sender, data, timestamp FROM session_updates
		 WHERE session_id = ? ORDER BY rowid ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("replay session: %w", err)
	}
	defer rows.Close()

	var out []*ArchivedUpdate
	for rows.Next() {
		var u ArchivedUpdate
		if err := rows.Scan(&u.SessionID, &u.From, &u.Data, &u.Timestamp); err != nil {
			return nil, fmt.Errorf("scan session update: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *SessionStore) queryNamed(q string, args ...any) ([]*types.NamedSession, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query named sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.NamedSession
	for rows.Next() {
		var ns types.NamedSession
		if err := rows.Scan(&ns.ID, &ns.Name, &ns.Description, &ns.Account, &ns.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan named session: %w", err)
		}
		out = append(out, &ns)
	}
	return out, rows.Err()
}
