package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

// gitTimeout bounds every git shell-out.
const gitTimeout = 2 * time.Minute

// Manager prepares git worktrees under <baseDir>/worktrees and records them
// in the workspace store.
type Manager struct {
	baseDir string
	store   *store.WorkspaceStore

	// runGit is swappable in tests; the default shells out to git with an
	// argv array, never a shell string.
	runGit func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewManager wires the manager to its store.
func NewManager(baseDir string, ws *store.WorkspaceStore) *Manager {
	return &Manager{
		baseDir: baseDir,
		store:   ws,
		runGit:  execGit,
	}
}

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// ValidateBranch rejects branch names that could escape the repository:
// traversal segments, absolute paths, NUL bytes, option injection.
func ValidateBranch(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch required")
	}
	if strings.ContainsRune(branch, 0) {
		return fmt.Errorf("branch contains NUL byte")
	}
	if strings.HasPrefix(branch, "/") || strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name: %q", branch)
	}
	for _, seg := range strings.Split(branch, "/") {
		if seg == ".." {
			return fmt.Errorf("branch contains traversal segment: %q", branch)
		}
	}
	return nil
}

// ValidateRepoPath rejects repo paths with NUL bytes or traversal and
// requires an existing directory.
func ValidateRepoPath(repoPath string) error {
	if repoPath == "" {
		return fmt.Errorf("repoPath required")
	}
	if strings.ContainsRune(repoPath, 0) {
		return fmt.Errorf("repoPath contains NUL byte")
	}
	clean := filepath.Clean(repoPath)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("repoPath contains traversal segment: %q", repoPath)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return fmt.Errorf("repoPath not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repoPath is not a directory: %q", repoPath)
	}
	return nil
}

// Prepare creates a worktree for (repoPath, branch) owned by ownerAccount.
// The (repoPath, branch) key is exclusive among non-terminal workspaces. On
// git failure the row is marked failed and the error returned.
func (m *Manager) Prepare(ctx context.Context, repoPath, branch, ownerAccount, handoffID string) (*types.Workspace, error) {
	if err := ValidateRepoPath(repoPath); err != nil {
		return nil, err
	}
	if err := ValidateBranch(branch); err != nil {
		return nil, err
	}

	ws := &types.Workspace{
		ID:           types.NewID(),
		RepoPath:     filepath.Clean(repoPath),
		Branch:       branch,
		OwnerAccount: ownerAccount,
		HandoffID:    handoffID,
		Status:       types.WorkspaceStatusPreparing,
	}
	ws.WorktreePath = filepath.Join(m.baseDir, "worktrees", ws.ID)

	if err := m.store.Create(ws); err != nil {
		return nil, err
	}

	logger := log.WithComponent("workspace")
	if _, err := m.runGit(ctx, ws.RepoPath, "worktree", "add", "-B", branch, ws.WorktreePath); err != nil {
		logger.Warn().Err(err).Str("branch", branch).Msg("worktree add failed")
		if serr := m.store.UpdateStatus(ws.ID, types.WorkspaceStatusFailed); serr != nil {
			logger.Error().Err(serr).Msg("mark workspace failed")
		}
		return nil, fmt.Errorf("prepare worktree: %w", err)
	}

	if err := m.store.UpdateStatus(ws.ID, types.WorkspaceStatusReady); err != nil {
		return nil, err
	}
	ws.Status = types.WorkspaceStatusReady
	logger.Info().Str("workspace", ws.ID).Str("branch", branch).Msg("worktree ready")
	return ws, nil
}

// Cleanup removes the worktree directory and, when git succeeds, deletes the
// store row. The row survives a failed removal for later retry.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	ws, err := m.store.Get(id)
	if err != nil {
		return err
	}

	if err := m.store.UpdateStatus(id, types.WorkspaceStatusCleaning); err != nil {
		return err
	}

	if ws.WorktreePath != "" {
		if !strings.HasPrefix(filepath.Clean(ws.WorktreePath), filepath.Join(m.baseDir, "worktrees")) {
			return fmt.Errorf("refusing to clean path outside base dir: %q", ws.WorktreePath)
		}
		if _, err := m.runGit(ctx, ws.RepoPath, "worktree", "remove", "--force", ws.WorktreePath); err != nil {
			if serr := m.store.UpdateStatus(id, types.WorkspaceStatusFailed); serr != nil {
				lg := log.WithComponent("workspace")
				lg.Error().Err(serr).Msg("mark workspace failed")
			}
			return fmt.Errorf("cleanup worktree: %w", err)
		}
	}

	return m.store.Delete(id)
}

// Get returns the stored workspace.
func (m *Manager) Get(id string) (*types.Workspace, error) {
	return m.store.Get(id)
}

// List returns stored workspaces, optionally for one owner.
func (m *Manager) List(owner string) ([]*types.Workspace, error) {
	return m.store.List(owner)
}

// CollectProjectContext gathers lightweight git context for a handoff:
// current branch, recent commits, diff stat, changed files. Output is
// truncated to maxBytes. Failures degrade to an empty string.
func (m *Manager) CollectProjectContext(ctx context.Context, projectDir string, maxBytes int) string {
	if err := ValidateRepoPath(projectDir); err != nil {
		return ""
	}
	if maxBytes <= 0 {
		maxBytes = 50 * 1024
	}

	var sb strings.Builder
	sections := [][]string{
		{"rev-parse", "--abbrev-ref", "HEAD"},
		{"log", "--oneline", "-10"},
		{"diff", "--stat"},
		{"status", "--short"},
	}
	for _, args := range sections {
		out, err := m.runGit(ctx, projectDir, args...)
		if err != nil {
			continue
		}
		sb.WriteString("$ git " + strings.Join(args, " ") + "\n")
		sb.WriteString(strings.TrimSpace(out))
		sb.WriteString("\n\n")
		if sb.Len() > maxBytes {
			break
		}
	}

	out := sb.String()
	if len(out) > maxBytes {
		out = out[:maxBytes]
	}
	return out
}
