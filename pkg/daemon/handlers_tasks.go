package daemon

import (
	"fmt"

	"github.com/ylcn91/agentctl/pkg/engine"
	"github.com/ylcn91/agentctl/pkg/metrics"
	"github.com/ylcn91/agentctl/pkg/protocol"
	"github.com/ylcn91/agentctl/pkg/sla"
	"github.com/ylcn91/agentctl/pkg/types"
)

func handleUpdateTaskStatus(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		TaskID        string `json:"taskId"`
		NewStatus     string `json:"newStatus"`
		Reason        string `json:"reason,omitempty"`
		WorkspacePath string `json:"workspacePath,omitempty"`
		Branch        string `json:"branch,omitempty"`
		WorkspaceID   string `json:"workspaceId,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.TaskID == "" {
		return nil, fmt.Errorf("Invalid field: taskId")
	}

	task, err := s.d.Engine.UpdateTaskStatus(req.Account, engine.StatusUpdate{
		TaskID:        args.TaskID,
		NewStatus:     types.TaskStatus(args.NewStatus),
		Reason:        args.Reason,
		WorkspacePath: args.WorkspacePath,
		Branch:        args.Branch,
		WorkspaceID:   args.WorkspaceID,
	})
	if err != nil {
		return nil, err
	}
	s.refreshTaskMetrics()

	out := map[string]any{"task": task}

	// Auto-acceptance kicks in on entry to review when the feature is on
	// and the task carries a workspace to run commands in.
	if task.Status == types.TaskStatusReadyForReview &&
		s.d.Config().FeatureSet().AutoAcceptance &&
		task.WorkspaceContext != nil {
		status, friction := s.d.Engine.StartAutoAcceptance(task)
		out["acceptance"] = status
		if status == "blocked" {
			out["reason"] = friction.Reason
			out["frictionLevel"] = friction.Level
		}
	}
	return out, nil
}

func handleReportProgress(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		TaskID  string `json:"taskId"`
		Percent int    `json:"percent"`
		Note    string `json:"note,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.TaskID == "" {
		return nil, fmt.Errorf("Invalid field: taskId")
	}
	if _, err := s.d.Tasks.Get(args.TaskID); err != nil {
		return nil, err
	}

	p := s.d.Engine.ReportProgress(req.Account, args.TaskID, args.Percent, args.Note)
	return map[string]any{"progress": p}, nil
}

func handleAdaptiveSLACheck(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().SLAEngine {
		return nil, featureDisabledError("SLA engine")
	}
	escalations, err := s.d.SLA.Scan()
	if err != nil {
		return nil, err
	}
	if escalations == nil {
		escalations = []sla.Escalation{}
	}
	return map[string]any{"escalations": escalations}, nil
}

func handleGetTrust(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().Trust {
		return nil, featureDisabledError("Trust")
	}

	var args struct {
		Account string `json:"account,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	if args.Account != "" {
		rec, err := s.d.Trust.Get(args.Account)
		if err != nil {
			return nil, err
		}
		return map[string]any{"trust": rec}, nil
	}

	records, err := s.d.Trust.List()
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*types.TrustRecord{}
	}
	return map[string]any{"records": records}, nil
}

func handleCheckCircuitBreaker(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().CircuitBreaker {
		return nil, featureDisabledError("Circuit breaker")
	}

	var args struct {
		Account string `json:"account"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	account := args.Account
	if account == "" {
		account = req.Account
	}
	return map[string]any{"breaker": s.d.Engine.CheckBreaker(account)}, nil
}

func handleReinstateAgent(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().CircuitBreaker {
		return nil, featureDisabledError("Circuit breaker")
	}

	var args struct {
		Account string `json:"account"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Account == "" {
		return nil, fmt.Errorf("Invalid field: account")
	}
	return map[string]any{"breaker": s.d.Engine.ReinstateAgent(args.Account)}, nil
}

// refreshTaskMetrics recomputes the per-status board gauges.
func (s *Server) refreshTaskMetrics() {
	all, err := s.d.Tasks.List("", "")
	if err != nil {
		return
	}
	counts := map[types.TaskStatus]int{}
	for _, t := range all {
		counts[t.Status]++
	}
	for _, status := range []types.TaskStatus{
		types.TaskStatusTodo, types.TaskStatusInProgress,
		types.TaskStatusReadyForReview, types.TaskStatusAccepted,
		types.TaskStatusRejected,
	} {
		metrics.TasksByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
