package daemon

import (
	"context"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/protocol"
	"github.com/ylcn91/agentctl/pkg/types"
)

func handlePrepareWorktree(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().WorkspaceWorktree {
		return nil, featureDisabledError("Workspace worktree")
	}

	var args struct {
		RepoPath  string `json:"repoPath"`
		Branch    string `json:"branch"`
		HandoffID string `json:"handoffId,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	ws, err := s.d.Worktrees.Prepare(context.Background(),
		args.RepoPath, args.Branch, req.Account, args.HandoffID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"workspace": ws}, nil
}

func handleWorkspaceStatus(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		WorkspaceID string `json:"workspaceId,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	if args.WorkspaceID != "" {
		ws, err := s.d.Worktrees.Get(args.WorkspaceID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"workspace": ws}, nil
	}

	list, err := s.d.Worktrees.List(req.Account)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*types.Workspace{}
	}
	return map[string]any{"workspaces": list}, nil
}

func handleCleanupWorkspace(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().WorkspaceWorktree {
		return nil, featureDisabledError("Workspace worktree")
	}

	var args struct {
		WorkspaceID string `json:"workspaceId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.WorkspaceID == "" {
		return nil, fmt.Errorf("Invalid field: workspaceId")
	}

	ws, err := s.d.Worktrees.Get(args.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if ws.OwnerAccount != req.Account {
		return nil, fmt.Errorf("workspace not owned by caller")
	}

	if err := s.d.Worktrees.Cleanup(context.Background(), args.WorkspaceID); err != nil {
		return nil, err
	}
	return map[string]any{"cleaned": true, "workspaceId": args.WorkspaceID}, nil
}
