package daemon

import (
	"context"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/protocol"
	"github.com/ylcn91/agentctl/pkg/types"
)

func handleHandoffTask(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		To      string                `json:"to"`
		Payload *types.HandoffPayload `json:"payload"`
		Context *struct {
			ProjectDir string `json:"projectDir,omitempty"`
			Branch     string `json:"branch,omitempty"`
		} `json:"context,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	autoContext := ""
	if args.Context != nil && args.Context.ProjectDir != "" {
		autoContext = s.d.Worktrees.CollectProjectContext(
			context.Background(), args.Context.ProjectDir, 0)
	}

	res, err := s.d.Engine.HandoffTask(
		req.Account, args.To, args.Payload, autoContext, s.IsConnected(args.To))
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"delivered":  res.Delivered,
		"queued":     res.Queued,
		"handoffId":  res.HandoffID,
		"taskId":     res.TaskID,
		"depthCheck": res.DepthCheck,
	}, nil
}

func handleHandoffAccept(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		HandoffID string `json:"handoffId"`
		Context   *struct {
			ProjectDir string `json:"projectDir,omitempty"`
			Branch     string `json:"branch,omitempty"`
		} `json:"context,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.HandoffID == "" {
		return nil, fmt.Errorf("Invalid field: handoffId")
	}

	accepted, err := s.d.Engine.AcceptHandoff(req.Account, args.HandoffID)
	if err != nil {
		return nil, err
	}

	// Worktree preparation is best-effort: the handoff is accepted either
	// way, the caller just works without isolation on failure.
	if args.Context != nil && args.Context.ProjectDir != "" && args.Context.Branch != "" &&
		s.d.Config().FeatureSet().WorkspaceWorktree {
		ws, err := s.d.Worktrees.Prepare(context.Background(),
			args.Context.ProjectDir, args.Context.Branch, req.Account, args.HandoffID)
		if err != nil {
			lg := log.WithAccount(req.Account)
			lg.Warn().Err(err).
				Str("handoff_id", args.HandoffID).Msg("worktree prepare failed")
		} else {
			accepted.Workspace = ws
		}
	}

	out := map[string]any{
		"handoff": accepted.Handoff,
		"payload": accepted.Payload,
	}
	if accepted.AutoContext != "" {
		out["autoContext"] = accepted.AutoContext
	}
	if accepted.Workspace != nil {
		out["workspace"] = accepted.Workspace
	}
	return out, nil
}

func handleSuggestAssignee(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().CapabilityRouting {
		return nil, featureDisabledError("Capability routing")
	}

	var args struct {
		Skills          []string       `json:"skills,omitempty"`
		ExcludeAccounts []string       `json:"excludeAccounts,omitempty"`
		Workload        map[string]int `json:"workload,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	candidates, err := s.d.Engine.SuggestAssignee(args.Skills, args.ExcludeAccounts, args.Workload)
	if err != nil {
		return nil, err
	}
	return map[string]any{"candidates": candidates}, nil
}

func handleReauthorizeDelegation(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		Delegatee string `json:"delegatee"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Delegatee == "" {
		return nil, fmt.Errorf("Invalid field: delegatee")
	}

	s.d.Engine.Reauthorize(req.Account, args.Delegatee)
	return map[string]any{
		"reauthorized": true,
		"delegator":    req.Account,
		"delegatee":    args.Delegatee,
	}, nil
}
