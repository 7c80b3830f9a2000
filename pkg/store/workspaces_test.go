package store

import (
	"errors"
	"testing"

	"github.com/ylcn91/agentctl/pkg/types"
)

func newTestWorkspaceStore(t *testing.T) *WorkspaceStore {
	t.Helper()
	s, err := NewWorkspaceStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspaceStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testWorkspace(branch, handoff string) *types.Workspace {
	return &types.Workspace{
		RepoPath:     "/repos/app",
		Branch:       branch,
		WorktreePath: "/worktrees/" + branch,
		OwnerAccount: "bob",
		HandoffID:    handoff,
		Status:       types.WorkspaceStatusReady,
	}
}

// TestWorkspaceKeyConflict verifies only one non-terminal workspace may hold
// a (repoPath, branch) pair, and that a failed one frees the key.
func TestWorkspaceKeyConflict(t *testing.T) {
	s := newTestWorkspaceStore(t)

	first := testWorkspace("feature/auth", "h1")
	if err := s.Create(first); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	dup := testWorkspace("feature/auth", "h2")
	if err := s.Create(dup); !errors.Is(err, ErrWorkspaceConflict) {
		t.Fatalf("Create() duplicate = %v, want ErrWorkspaceConflict", err)
	}

	// Different branch is fine.
	if err := s.Create(testWorkspace("feature/other", "h3")); err != nil {
		t.Errorf("distinct branch rejected: %v", err)
	}

	// Failing the first frees the key.
	if err := s.UpdateStatus(first.ID, types.WorkspaceStatusFailed); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(testWorkspace("feature/auth", "h4")); err != nil {
		t.Errorf("key not freed after failure: %v", err)
	}
}

// TestWorkspaceLookups covers Get, GetByHandoff, and owner-filtered List.
func TestWorkspaceLookups(t *testing.T) {
	s := newTestWorkspaceStore(t)

	ws := testWorkspace("feature/auth", "h1")
	if err := s.Create(ws); err != nil {
		t.Fatal(err)
	}
	other := testWorkspace("feature/other", "h2")
	other.OwnerAccount = "carol"
	if err := s.Create(other); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ws.ID)
	if err != nil || got.Branch != "feature/auth" {
		t.Errorf("Get() = %v, %v", got, err)
	}

	byHandoff, err := s.GetByHandoff("h1")
	if err != nil || byHandoff.ID != ws.ID {
		t.Errorf("GetByHandoff() = %v, %v", byHandoff, err)
	}

	bobOnly, err := s.List("bob")
	if err != nil || len(bobOnly) != 1 || bobOnly[0].OwnerAccount != "bob" {
		t.Errorf("List(bob) = %v, %v", bobOnly, err)
	}
	all, _ := s.List("")
	if len(all) != 2 {
		t.Errorf("List() = %d", len(all))
	}
}

// TestWorkspaceUpdateStatusMissing errors on unknown ids.
func TestWorkspaceUpdateStatusMissing(t *testing.T) {
	s := newTestWorkspaceStore(t)
	if err := s.UpdateStatus("nope", types.WorkspaceStatusFailed); err == nil {
		t.Error("expected error for unknown workspace")
	}
}

// TestWorkspaceDelete removes the row.
func TestWorkspaceDelete(t *testing.T) {
	s := newTestWorkspaceStore(t)
	ws := testWorkspace("feature/auth", "h1")
	if err := s.Create(ws); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ws.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := s.Get(ws.ID); err == nil {
		t.Error("deleted workspace still readable")
	}
}
