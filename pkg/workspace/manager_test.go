package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

// TestValidateBranch covers the injection and traversal rejections.
func TestValidateBranch(t *testing.T) {
	valid := []string{"main", "feature/auth", "fix/issue-123", "release/v1.2"}
	for _, branch := range valid {
		if err := ValidateBranch(branch); err != nil {
			t.Errorf("ValidateBranch(%q) = %v", branch, err)
		}
	}

	invalid := []string{
		"",
		"/absolute",
		"-rf",
		"--force-option",
		"feature/../../etc",
		"..",
		"bad\x00branch",
	}
	for _, branch := range invalid {
		if err := ValidateBranch(branch); err == nil {
			t.Errorf("ValidateBranch(%q) accepted", branch)
		}
	}
}

// TestValidateRepoPath requires an existing directory free of traversal.
func TestValidateRepoPath(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateRepoPath(dir); err != nil {
		t.Errorf("valid dir rejected: %v", err)
	}
	if err := ValidateRepoPath(""); err == nil {
		t.Error("empty path accepted")
	}
	if err := ValidateRepoPath(dir + "/../../../etc"); err == nil {
		t.Error("traversal accepted")
	}
	if err := ValidateRepoPath(filepath.Join(dir, "does-not-exist")); err == nil {
		t.Error("missing dir accepted")
	}
}

type gitCall struct {
	dir  string
	args []string
}

func newTestManager(t *testing.T) (*Manager, *[]gitCall) {
	t.Helper()
	base := t.TempDir()
	ws, err := store.NewWorkspaceStore(base)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })

	m := NewManager(base, ws)
	calls := &[]gitCall{}
	m.runGit = func(ctx context.Context, dir string, args ...string) (string, error) {
		*calls = append(*calls, gitCall{dir: dir, args: args})
		return "", nil
	}
	return m, calls
}

// TestPrepareCreatesWorktree verifies the git invocation and stored record.
func TestPrepareCreatesWorktree(t *testing.T) {
	m, calls := newTestManager(t)
	repo := t.TempDir()

	ws, err := m.Prepare(context.Background(), repo, "feature/auth", "bob", "h1")
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	if ws.Status != types.WorkspaceStatusReady {
		t.Errorf("status = %s", ws.Status)
	}
	if !strings.Contains(ws.WorktreePath, filepath.Join("worktrees", ws.ID)) {
		t.Errorf("worktree path = %s", ws.WorktreePath)
	}

	if len(*calls) != 1 {
		t.Fatalf("git calls = %v", *calls)
	}
	args := (*calls)[0].args
	if args[0] != "worktree" || args[1] != "add" || args[2] != "-B" || args[3] != "feature/auth" {
		t.Errorf("git args = %v", args)
	}

	stored, err := m.Get(ws.ID)
	if err != nil || stored.Status != types.WorkspaceStatusReady {
		t.Errorf("stored = %+v, %v", stored, err)
	}
}

// TestPrepareGitFailureMarksFailed verifies the row goes terminal on git
// errors, freeing the branch key.
func TestPrepareGitFailureMarksFailed(t *testing.T) {
	m, _ := newTestManager(t)
	repo := t.TempDir()
	m.runGit = func(ctx context.Context, dir string, args ...string) (string, error) {
		return "", fmt.Errorf("fatal: branch is locked")
	}

	_, err := m.Prepare(context.Background(), repo, "feature/auth", "bob", "h1")
	if err == nil {
		t.Fatal("git failure not surfaced")
	}

	// Key freed: a retry with a working git succeeds.
	m.runGit = func(ctx context.Context, dir string, args ...string) (string, error) {
		return "", nil
	}
	if _, err := m.Prepare(context.Background(), repo, "feature/auth", "bob", "h2"); err != nil {
		t.Errorf("retry after failure rejected: %v", err)
	}
}

// TestPrepareDuplicateKey verifies the exclusive (repo, branch) rule.
func TestPrepareDuplicateKey(t *testing.T) {
	m, _ := newTestManager(t)
	repo := t.TempDir()

	if _, err := m.Prepare(context.Background(), repo, "feature/auth", "bob", "h1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Prepare(context.Background(), repo, "feature/auth", "carol", "h2"); err == nil {
		t.Error("duplicate key accepted")
	}
}

// TestCleanupRemovesWorktree verifies deletion flows through git first.
func TestCleanupRemovesWorktree(t *testing.T) {
	m, calls := newTestManager(t)
	repo := t.TempDir()

	ws, err := m.Prepare(context.Background(), repo, "feature/auth", "bob", "h1")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Cleanup(context.Background(), ws.ID); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	last := (*calls)[len(*calls)-1]
	if last.args[0] != "worktree" || last.args[1] != "remove" {
		t.Errorf("cleanup git args = %v", last.args)
	}
	if _, err := m.Get(ws.ID); err == nil {
		t.Error("workspace row survived cleanup")
	}
}

// TestCleanupRefusesOutsidePath verifies the path containment check.
func TestCleanupRefusesOutsidePath(t *testing.T) {
	base := t.TempDir()
	wsStore, err := store.NewWorkspaceStore(base)
	if err != nil {
		t.Fatal(err)
	}
	defer wsStore.Close()

	m := NewManager(base, wsStore)
	m.runGit = func(ctx context.Context, dir string, args ...string) (string, error) {
		t.Fatal("git invoked for an out-of-tree path")
		return "", nil
	}

	rogue := &types.Workspace{
		RepoPath:     base,
		Branch:       "main",
		WorktreePath: "/etc",
		OwnerAccount: "bob",
		HandoffID:    "h1",
		Status:       types.WorkspaceStatusReady,
	}
	if err := wsStore.Create(rogue); err != nil {
		t.Fatal(err)
	}

	if err := m.Cleanup(context.Background(), rogue.ID); err == nil {
		t.Error("out-of-tree cleanup accepted")
	}
}

// TestCollectProjectContext caps output and degrades to empty on bad dirs.
func TestCollectProjectContext(t *testing.T) {
	m, _ := newTestManager(t)
	m.runGit = func(ctx context.Context, dir string, args ...string) (string, error) {
		return strings.Repeat("x", 1000), nil
	}

	out := m.CollectProjectContext(context.Background(), t.TempDir(), 500)
	if len(out) > 500 {
		t.Errorf("context = %d bytes, cap 500", len(out))
	}
	if out == "" {
		t.Error("context empty for a valid dir")
	}

	if got := m.CollectProjectContext(context.Background(), "/does/not/exist", 0); got != "" {
		t.Errorf("context for bad dir = %q", got)
	}
}
