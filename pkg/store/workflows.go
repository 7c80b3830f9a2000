package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/types"
)

// WorkflowRunStatus is the lifecycle of a workflow run.
type WorkflowRunStatus string

const (
	WorkflowRunRunning   WorkflowRunStatus = "running"
	WorkflowRunSucceeded WorkflowRunStatus = "succeeded"
	WorkflowRunFailed    WorkflowRunStatus = "failed"
	WorkflowRunCancelled WorkflowRunStatus = "cancelled"
)

// WorkflowRun records one execution of a workflow definition.
type WorkflowRun struct {
	ID          string            `json:"id"`
	Workflow    string            `json:"workflow"`
	TriggeredBy string            `json:"triggeredBy"`
	Status      WorkflowRunStatus `json:"status"`
	StartedAt   string            `json:"startedAt"`
	FinishedAt  string            `json:"finishedAt,omitempty"`
	StepStates  map[string]string `json:"stepStates,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// WorkflowStore persists workflow runs in workflow.db.
type WorkflowStore struct {
	db *sql.DB
}

// NewWorkflowStore opens workflow.db under baseDir.
func NewWorkflowStore(baseDir string) (*WorkflowStore, error) {
	db, err := openDB(baseDir, "workflow.db", []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			workflow     TEXT NOT NULL,
			triggered_by TEXT NOT NULL,
			status       TEXT NOT NULL,
			started_at   TEXT NOT NULL,
			finished_at  TEXT,
			step_states  TEXT,
			error        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow, started_at)`,
	})
	if err != nil {
		return nil, err
	}
	return &WorkflowStore{db: db}, nil
}

// Close closes the database.
func (s *WorkflowStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run in running state.
func (s *WorkflowStore) CreateRun(run *WorkflowRun) error {
	if run.ID == "" {
		run.ID = types.NewID()
	}
	if run.StartedAt == "" {
		run.StartedAt = types.Now()
	}
	if run.Status == "" {
		run.Status = WorkflowRunRunning
	}
	steps, err := json.Marshal(run.StepStates)
	if err != nil {
		return fmt.Errorf("marshal step states: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (id, workflow, triggered_by, status, started_at, finished_at, step_states, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workflow, run.TriggeredBy, string(run.Status),
		run.StartedAt, nullable(run.FinishedAt), string(steps), nullable(run.Error))
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// UpdateRun rewrites mutable run fields.
func (s *WorkflowStore) UpdateRun(run *WorkflowRun) error {
	steps, err := json.Marshal(run.StepStates)
	if err != nil {
		return fmt.Errorf("marshal step states: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ?, step_states = ?, error = ?
		 WHERE id = ?`,
		string(run.Status), nullable(run.FinishedAt), string(steps),
		nullable(run.Error), run.ID)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow run not found: %s", run.ID)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *WorkflowStore) GetRun(id string) (*WorkflowRun, error) {
	row := s.db.QueryRow(
		`SELECT id, workflow, triggered_by, status, started_at, finished_at, step_states, error
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow run not found: %s", id)
	}
	return run, err
}

// ListRuns returns runs, newest first, optionally for one workflow.
func (s *WorkflowStore) ListRuns(workflow string, limit int) ([]*WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, workflow, triggered_by, status, started_at, finished_at, step_states, error FROM runs`
	var args []any
	if workflow != "" {
		q += ` WHERE workflow = ?`
		args = append(args, workflow)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(r rowScanner) (*WorkflowRun, error) {
	var (
		run                    WorkflowRun
		status                 string
		finished, steps, qerr  sql.NullString
	)
	err := r.Scan(&run.ID, &run.Workflow, &run.TriggeredBy, &status,
		&run.StartedAt, &finished, &steps, &qerr)
	if err != nil {
		return nil, err
	}
	run.Status = WorkflowRunStatus(status)
	run.FinishedAt = finished.String
	run.Error = qerr.String
	if steps.Valid && steps.String != "" {
		_ = json.Unmarshal([]byte(steps.String), &run.StepStates)
	}
	return &run, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
