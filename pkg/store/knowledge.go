package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/types"
)

// KnowledgeStore indexes free-form notes in knowledge.db with an FTS5 index
// over title, body and tags.
type KnowledgeStore struct {
	db *sql.DB
}

// NewKnowledgeStore opens knowledge.db under baseDir.
func NewKnowledgeStore(baseDir string) (*KnowledgeStore, error) {
	db, err := openDB(baseDir, "knowledge.db", []string{
		`CREATE TABLE IF NOT EXISTS notes (
			id         TEXT PRIMARY KEY,
			account    TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT NOT NULL,
			tags       TEXT NOT NULL DEFAULT '[]',
			indexed_at TEXT NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			id UNINDEXED, title, body, tags
		)`,
	})
	if err != nil {
		return nil, err
	}
	return &KnowledgeStore{db: db}, nil
}

// Close closes the database.
func (s *KnowledgeStore) Close() error {
	return s.db.Close()
}

// Index inserts a note and its full-text entry, returning the note with its
// assigned id.
func (s *KnowledgeStore) Index(note *types.KnowledgeNote) (*types.KnowledgeNote, error) {
	if note.ID == "" {
		note.ID = types.NewID()
	}
	if note.IndexedAt == "" {
		note.IndexedAt = types.Now()
	}
	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin note insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO notes (id, account, title, body, tags, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		note.ID, note.Account, note.Title, note.Body, string(tags), note.IndexedAt,
	); err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO notes_fts (id, title, body, tags) VALUES (?, ?, ?, ?)`,
		note.ID, note.Title, note.Body, string(tags),
	); err != nil {
		return nil, fmt.Errorf("index note: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit note: %w", err)
	}
	return note, nil
}

// Search runs a full-text match and returns matching notes, newest first.
func (s *KnowledgeStore) Search(text string, limit int) ([]*types.KnowledgeNote, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT n.id, n.account, n.title, n.body, n.tags, n.indexed_at
		 FROM notes_fts f
		 JOIN notes n ON n.id = f.id
		 WHERE notes_fts MATCH ?
		 ORDER BY n.indexed_at DESC LIMIT ?`, text, limit)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	defer rows.Close()

	var out []*types.KnowledgeNote
	for rows.Next() {
		var n types.KnowledgeNote
		var tags string
		if err := rows.Scan(&n.ID, &n.Account, &n.Title, &n.Body, &tags, &n.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		_ = json.Unmarshal([]byte(tags), &n.Tags)
		out = append(out, &n)
	}
	return out, rows.Err()
}
