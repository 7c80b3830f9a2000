package daemon

import (
	"context"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/council"
	"github.com/ylcn91/agentctl/pkg/protocol"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

func requireCouncil(s *Server) error {
	if !s.d.Config().FeatureSet().Council {
		return featureDisabledError("Council")
	}
	return nil
}

// handleCouncilAnalyze convenes the reviewers for an advisory opinion; the
// task is left untouched.
func handleCouncilAnalyze(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireCouncil(s); err != nil {
		return nil, err
	}

	task, handoff, workDir, err := councilMaterial(s, req)
	if err != nil {
		return nil, err
	}
	decision, err := s.d.Council.Convene(context.Background(), task, handoff, workDir)
	if err != nil {
		return nil, err
	}
	return map[string]any{"decision": decision}, nil
}

// handleCouncilVerify convenes the reviewers and applies the aggregate
// verdict to a task in review.
func handleCouncilVerify(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireCouncil(s); err != nil {
		return nil, err
	}

	task, handoff, workDir, err := councilMaterial(s, req)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskStatusReadyForReview {
		return nil, fmt.Errorf("task not in review: %s", task.Status)
	}

	decision, err := s.d.Council.Convene(context.Background(), task, handoff, workDir)
	if err != nil {
		return nil, err
	}

	newStatus := types.TaskStatusAccepted
	reason := ""
	if decision.Verdict == types.VerdictRejected {
		newStatus = types.TaskStatusRejected
		reason = fmt.Sprintf("council rejected: %d of %d approvals, quorum %d",
			decision.Approvals, len(decision.Reviews), decision.Quorum)
	}

	updated, err := s.d.Engine.ApplyCouncilVerdict(req.Account, task.ID, newStatus, reason)
	if err != nil {
		return nil, err
	}
	s.refreshTaskMetrics()
	return map[string]any{"decision": decision, "task": updated}, nil
}

func councilMaterial(s *Server, req *protocol.Request) (*types.Task, string, string, error) {
	var args struct {
		TaskID string `json:"taskId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, "", "", err
	}
	if args.TaskID == "" {
		return nil, "", "", fmt.Errorf("Invalid field: taskId")
	}

	task, err := s.d.Tasks.Get(args.TaskID)
	if err != nil {
		return nil, "", "", err
	}

	handoff := ""
	if msg, err := s.d.Messages.GetMessage(task.ID); err == nil && msg.Type == types.MessageTypeHandoff {
		handoff = msg.Content
	}
	workDir := s.d.BaseDir
	if task.WorkspaceContext != nil && task.WorkspaceContext.WorkspacePath != "" {
		workDir = task.WorkspaceContext.WorkspacePath
	}
	return task, handoff, workDir, nil
}

func handleCouncilHistory(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireCouncil(s); err != nil {
		return nil, err
	}

	var args struct {
		TaskID string `json:"taskId,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	if args.TaskID != "" {
		decision, ok := s.d.Council.History(args.TaskID)
		if !ok {
			return nil, fmt.Errorf("no council decision for task: %s", args.TaskID)
		}
		receipts, _ := s.d.Receipts.ByTask(args.TaskID)
		return map[string]any{"decision": decision, "receipts": receipts}, nil
	}

	decisions := s.d.Council.All()
	if decisions == nil {
		decisions = []*council.Decision{}
	}
	return map[string]any{"decisions": decisions}, nil
}

func requireRetro(s *Server) error {
	if !s.d.Config().FeatureSet().Retro {
		return featureDisabledError("Retro")
	}
	return nil
}

func handleRetroStart(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireRetro(s); err != nil {
		return nil, err
	}

	var args struct {
		Topic string `json:"topic"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Topic == "" {
		return nil, fmt.Errorf("Invalid field: topic")
	}

	sess, err := s.d.Retro.StartSession(args.Topic, req.Account)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": sess}, nil
}

func handleRetroSubmitReview(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireRetro(s); err != nil {
		return nil, err
	}

	var args struct {
		SessionID string `json:"sessionId"`
		Review    string `json:"review"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.SessionID == "" {
		return nil, fmt.Errorf("Invalid field: sessionId")
	}
	if args.Review == "" {
		return nil, fmt.Errorf("Invalid field: review")
	}

	if err := s.d.Retro.SubmitReview(args.SessionID, req.Account, args.Review); err != nil {
		return nil, err
	}
	return map[string]any{"submitted": true}, nil
}

func handleRetroSubmitSynthesis(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireRetro(s); err != nil {
		return nil, err
	}

	var args struct {
		SessionID string `json:"sessionId"`
		Synthesis string `json:"synthesis"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.SessionID == "" {
		return nil, fmt.Errorf("Invalid field: sessionId")
	}
	if args.Synthesis == "" {
		return nil, fmt.Errorf("Invalid field: synthesis")
	}

	if err := s.d.Retro.SubmitSynthesis(args.SessionID, args.Synthesis); err != nil {
		return nil, err
	}
	return map[string]any{"synthesized": true}, nil
}

func handleRetroStatus(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireRetro(s); err != nil {
		return nil, err
	}

	var args struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.SessionID == "" {
		return nil, fmt.Errorf("Invalid field: sessionId")
	}

	sess, err := s.d.Retro.GetSession(args.SessionID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.d.Retro.Reviews(args.SessionID)
	if err != nil {
		return nil, err
	}
	if reviews == nil {
		reviews = []*store.RetroReview{}
	}
	return map[string]any{"session": sess, "reviews": reviews}, nil
}

func handleRetroPastLearnings(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireRetro(s); err != nil {
		return nil, err
	}

	var args struct {
		Limit int `json:"limit,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	learnings, err := s.d.Retro.PastLearnings(args.Limit)
	if err != nil {
		return nil, err
	}
	if learnings == nil {
		learnings = []*store.RetroSession{}
	}
	return map[string]any{"learnings": learnings}, nil
}
