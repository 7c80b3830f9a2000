package store

import (
	"database/sql"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/types"
)

// RetroStatus is the retro session lifecycle.
type RetroStatus string

const (
	RetroOpen        RetroStatus = "open"
	RetroSynthesized RetroStatus = "synthesized"
)

// RetroSession is one retrospective round over a finished piece of work.
type RetroSession struct {
	ID        string      `json:"id"`
	Topic     string      `json:"topic"`
	StartedBy string      `json:"startedBy"`
	Status    RetroStatus `json:"status"`
	StartedAt string      `json:"startedAt"`
	Synthesis string      `json:"synthesis,omitempty"`
	ClosedAt  string      `json:"closedAt,omitempty"`
}

// RetroReview is one member's submitted review in a retro session.
type RetroReview struct {
	SessionID   string `json:"sessionId"`
	Account     string `json:"account"`
	Review      string `json:"review"`
	SubmittedAt string `json:"submittedAt"`
}

// RetroStore persists retro sessions, reviews, and synthesized learnings in
// retro.db.
type RetroStore struct {
	db *sql.DB
}

// NewRetroStore opens retro.db under baseDir.
func NewRetroStore(baseDir string) (*RetroStore, error) {
	db, err := openDB(baseDir, "retro.db", []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			topic      TEXT NOT NULL,
			started_by TEXT NOT NULL,
			status     TEXT NOT NULL,
			started_at TEXT NOT NULL,
			synthesis  TEXT,
			closed_at  TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			rowid        INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id   TEXT NOT NULL,
			account      TEXT NOT NULL,
			review       TEXT NOT NULL,
			submitted_at TEXT NOT NULL,
			UNIQUE(session_id, account)
		)`,
	})
	if err != nil {
		return nil, err
	}
	return &RetroStore{db: db}, nil
}

// Close closes the database.
func (s *RetroStore) Close() error {
	return s.db.Close()
}

// StartSession opens a new retro round.
func (s *RetroStore) StartSession(topic, startedBy string) (*RetroSession, error) {
	sess := &RetroSession{
		ID:        types.NewID(),
		Topic:     topic,
		StartedBy: startedBy,
		Status:    RetroOpen,
		StartedAt: types.Now(),
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, topic, started_by, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Topic, sess.StartedBy, string(sess.Status), sess.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start retro session: %w", err)
	}
	return sess, nil
}

// GetSession fetches a retro session.
func (s *RetroStore) GetSession(id string) (*RetroSession, error) {
	row := s.db.QueryRow(
		`SELECT id, topic, started_by, status, started_at, synthesis, closed_at
		 FROM sessions WHERE id = ?`, id)

	var (
		sess              RetroSession
		status            string
		synthesis, closed sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.Topic, &sess.StartedBy, &status,
		&sess.StartedAt, &synthesis, &closed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("retro session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get retro session: %w", err)
	}
	sess.Status = RetroStatus(status)
	sess.Synthesis = synthesis.String
	sess.ClosedAt = closed.String
	return &sess, nil
}

// SubmitReview records (or replaces) one member's review while the session
// is open.
func (s *RetroStore) SubmitReview(sessionID, account, review string) error {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != RetroOpen {
		return fmt.Errorf("retro session already synthesized")
	}
	_, err = s.db.Exec(
		`INSERT INTO reviews (session_id, account, review, submitted_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, account) DO UPDATE SET
			review = excluded.review,
			submitted_at = excluded.submitted_at`,
		sessionID, account, review, types.Now())
	if err != nil {
		return fmt.Errorf("submit retro review: %w", err)
	}
	return nil
}

// Reviews returns the reviews submitted so far, in submission order.
func (s *RetroStore) Reviews(sessionID string) ([]*RetroReview, error) {
	rows, err := s.db.Query(
		`SELECT session_id, account, review, submitted_at FROM reviews
		 WHERE session_id = ? ORDER BY rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list retro reviews: %w", err)
	}
	defer rows.Close()

	var out []*RetroReview
	for rows.Next() {
		var r RetroReview
		if err := rows.Scan(&r.SessionID, &r.Account, &r.Review, &r.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan retro review: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SubmitSynthesis closes the session with its distilled learnings.
func (s *RetroStore) SubmitSynthesis(sessionID, synthesis string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, synthesis = ?, closed_at = ?
		 WHERE id = ? AND status = ?`,
		string(RetroSynthesized), synthesis, types.Now(), sessionID, string(RetroOpen))
	if err != nil {
		return fmt.Errorf("submit synthesis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("retro session not open: %s", sessionID)
	}
	return nil
}

// PastLearnings returns syntheses of closed sessions, newest first.
func (s *RetroStore) PastLearnings(limit int) ([]*RetroSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, topic, started_by, status, started_at, synthesis, closed_at
		 FROM sessions WHERE status = ?
		 ORDER BY closed_at DESC LIMIT ?`, string(RetroSynthesized), limit)
	if err != nil {
		return nil, fmt.Errorf("list learnings: %w", err)
	}
	defer rows.Close()

	var out []*RetroSession
	for rows.Next() {
		var (
			sess              RetroSession
			status            string
			synthesis, closed sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.Topic, &sess.StartedBy, &status,
			&sess.StartedAt, &synthesis, &closed); err != nil {
			return nil, fmt.Errorf("scan retro session: %w", err)
		}
		sess.Status = RetroStatus(status)
		sess.Synthesis = synthesis.String
		sess.ClosedAt = closed.String
		out = append(out, &sess)
	}
	return out, rows.Err()
}
