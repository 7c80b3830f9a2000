package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/types"
)

// ActivityStore is the append-only activity log in activity.db, with an FTS5
// index over (type, account, metadata) for free-text search.
type ActivityStore struct {
	db *sql.DB
}

// ActivityQuery filters Query results. Zero fields are ignored.
type ActivityQuery struct {
	Type          string
	Account       string
	TaskID        string
	WorkflowRunID string
	Since         string
	Limit         int
}

// NewActivityStore opens activity.db under baseDir.
func NewActivityStore(baseDir string) (*ActivityStore, error) {
	db, err := openDB(baseDir, "activity.db", []string{
		`CREATE TABLE IF NOT EXISTS activity (
			rowid           INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			type            TEXT NOT NULL,
			timestamp       TEXT NOT NULL,
			account         TEXT,
			task_id         TEXT,
			workflow_run_id TEXT,
			metadata        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_type ON activity(type, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_account ON activity(account, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_task ON activity(task_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS activity_fts USING fts5(
			id UNINDEXED, type, account, metadata
		)`,
	})
	if err != nil {
		return nil, err
	}
	return &ActivityStore{db: db}, nil
}

// Close closes the database.
func (s *ActivityStore) Close() error {
	return s.db.Close()
}

// Emit inserts event, assigning id and timestamp when absent, and returns it.
func (s *ActivityStore) Emit(event *types.ActivityEvent) (*types.ActivityEvent, error) {
	if event.ID == "" {
		event.ID = types.NewID()
	}
	if event.Timestamp == "" {
		event.Timestamp = types.Now()
	}

	var meta string
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal activity metadata: %w", err)
		}
		meta = string(data)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin activity insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO activity (id, type, timestamp, account, task_id, workflow_run_id, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, event.Timestamp, event.Account, event.TaskID,
		event.WorkflowRunID, meta,
	); err != nil {
		return nil, fmt.Errorf("insert activity: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO activity_fts (id, type, account, metadata) VALUES (?, ?, ?, ?)`,
		event.ID, event.Type, event.Account, meta,
	); err != nil {
		return nil, fmt.Errorf("index activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit activity: %w", err)
	}
	return event, nil
}

// Query returns events matching q, newest first.
func (s *ActivityStore) Query(q ActivityQuery) ([]*types.ActivityEvent, error) {
	where := "1=1"
	var args []any
	if q.Type != "" {
		where += " AND type = ?"
		args = append(args, q.Type)
	}
	if q.Account != "" {
		where += " AND account = ?"
		args = append(args, q.Account)
	}
	if q.TaskID != "" {
		where += " AND task_id = ?"
		args = append(args, q.TaskID)
	}
	if q.WorkflowRunID != "" {
		where += " AND workflow_run_id = ?"
		args = append(args, q.WorkflowRunID)
	}
	if q.Since != "" {
		where += " AND timestamp >= ?"
		args = append(args, q.Since)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.Query(
		`SELECT id, type, timestamp, account, task_id, workflow_run_id, metadata
		 FROM activity WHERE `+where+`
		 ORDER BY timestamp DESC, rowid DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()
	return scanActivity(rows)
}

// Search runs a full-text match over the FTS index, joined back to the
// primary table, newest first.
func (s *ActivityStore) Search(text string, limit int) ([]*types.ActivityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT a.id, a.type, a.timestamp, a.account, a.task_id, a.workflow_run_id, a.metadata
		 FROM activity_fts f
		 JOIN activity a ON a.id = f.id
		 WHERE activity_fts MATCH ?
		 ORDER BY a.timestamp DESC LIMIT ?`, text, limit)
	if err != nil {
		return nil, fmt.Errorf("search activity: %w", err)
	}
	defer rows.Close()
	return scanActivity(rows)
}

func scanActivity(rows *sql.Rows) ([]*types.ActivityEvent, error) {
	var out []*types.ActivityEvent
	for rows.Next() {
		var (
			e                     types.ActivityEvent
			account, task, run, m sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Timestamp, &account, &task, &run, &m); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Account = account.String
		e.TaskID = task.String
		e.WorkflowRunID = run.String
		if m.Valid && m.String != "" {
			_ = json.Unmarshal([]byte(m.String), &e.Metadata)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
