package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/types"
)

// ErrWorkspaceConflict is returned when a second non-terminal workspace
// would share (repoPath, branch) with an existing one.
var ErrWorkspaceConflict = errors.New("workspace already exists for repo and branch")

// WorkspaceStore persists worktree records in workspaces.db.
type WorkspaceStore struct {
	db *sql.DB
}

// NewWorkspaceStore opens workspaces.db under baseDir.
func NewWorkspaceStore(baseDir string) (*WorkspaceStore, error) {
	db, err := openDB(baseDir, "workspaces.db", []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id            TEXT PRIMARY KEY,
			repo_path     TEXT NOT NULL,
			branch        TEXT NOT NULL,
			worktree_path TEXT NOT NULL,
			owner_account TEXT NOT NULL,
			handoff_id    TEXT NOT NULL,
			status        TEXT NOT NULL,
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workspaces_key ON workspaces(repo_path, branch)`,
		`CREATE INDEX IF NOT EXISTS idx_workspaces_owner ON workspaces(owner_account)`,
	})
	if err != nil {
		return nil, err
	}
	return &WorkspaceStore{db: db}, nil
}

// Close closes the database.
func (s *WorkspaceStore) Close() error {
	return s.db.Close()
}

// Create inserts ws, enforcing that no other non-terminal row shares
// (repoPath, branch).
func (s *WorkspaceStore) Create(ws *types.Workspace) error {
	if ws.ID == "" {
		ws.ID = types.NewID()
	}
	if ws.CreatedAt == "" {
		ws.CreatedAt = types.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin workspace insert: %w", err)
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM workspaces
		 WHERE repo_path = ? AND branch = ? AND status != ?`,
		ws.RepoPath, ws.Branch, string(types.WorkspaceStatusFailed),
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check workspace key: %w", err)
	}
	if n > 0 {
		return ErrWorkspaceConflict
	}

	if _, err := tx.Exec(
		`INSERT INTO workspaces (id, repo_path, branch, worktree_path, owner_account, handoff_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.RepoPath, ws.Branch, ws.WorktreePath, ws.OwnerAccount,
		ws.HandoffID, string(ws.Status), ws.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return tx.Commit()
}

// Get fetches a workspace by id.
func (s *WorkspaceStore) Get(id string) (*types.Workspace, error) {
	row := s.db.QueryRow(
		`SELECT id, repo_path, branch, worktree_path, owner_account, handoff_id, status, created_at
		 FROM workspaces WHERE id = ?`, id)
	return scanWorkspace(row)
}

// GetByHandoff fetches the workspace created for a handoff, if any.
func (s *WorkspaceStore) GetByHandoff(handoffID string) (*types.Workspace, error) {
	row := s.db.QueryRow(
		`SELECT id, repo_path, branch, worktree_path, owner_account, handoff_id, status, created_at
		 FROM workspaces WHERE handoff_id = ? ORDER BY created_at DESC LIMIT 1`, handoffID)
	return scanWorkspace(row)
}

// List returns every workspace, newest first, optionally filtered by owner.
func (s *WorkspaceStore) List(owner string) ([]*types.Workspace, error) {
	q := `SELECT id, repo_path, branch, worktree_path, owner_account, handoff_id, status, created_at
	      FROM workspaces`
	var args []any
	if owner != "" {
		q += ` WHERE owner_account = ?`
		args = append(args, owner)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*types.Workspace
	for rows.Next() {
		var ws types.Workspace
		var status string
		if err := rows.Scan(&ws.ID, &ws.RepoPath, &ws.Branch, &ws.WorktreePath,
			&ws.OwnerAccount, &ws.HandoffID, &status, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		ws.Status = types.WorkspaceStatus(status)
		out = append(out, &ws)
	}
	return out, rows.Err()
}

// UpdateStatus moves a workspace to a new status.
func (s *WorkspaceStore) UpdateStatus(id string, status types.WorkspaceStatus) error {
	res, err := s.db.Exec(`UPDATE workspaces SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update workspace status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace not found: %s", id)
	}
	return nil
}

// Delete removes a workspace row.
func (s *WorkspaceStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

func scanWorkspace(row *sql.Row) (*types.Workspace, error) {
	var ws types.Workspace
	var status string
	err := row.Scan(&ws.ID, &ws.RepoPath, &ws.Branch, &ws.WorktreePath,
		&ws.OwnerAccount, &ws.HandoffID, &status, &ws.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workspace not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	ws.Status = types.WorkspaceStatus(status)
	return &ws, nil
}
