package daemon

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ylcn91/agentctl/pkg/protocol"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

const searchTimeout = 10 * time.Second

func handleHealthCheck(s *Server, req *protocol.Request) (map[string]any, error) {
	return map[string]any{"healthy": true}, nil
}

func handleHealthStatus(s *Server, req *protocol.Request) (map[string]any, error) {
	features := s.d.Config().FeatureSet()
	tasks, _ := s.d.Tasks.List("", "")
	return map[string]any{
		"healthy":           true,
		"connectedAccounts": s.ConnectedAccounts(),
		"activeSessions":    s.d.Sessions.ActiveCount(),
		"tasksOnBoard":      len(tasks),
		"features":          features,
	}, nil
}

func handleQueryActivity(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		Type          string `json:"type,omitempty"`
		Account       string `json:"account,omitempty"`
		TaskID        string `json:"taskId,omitempty"`
		WorkflowRunID string `json:"workflowRunId,omitempty"`
		Since         string `json:"since,omitempty"`
		Limit         int    `json:"limit,omitempty"`
		Search        string `json:"search,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	var (
		activity []*types.ActivityEvent
		err      error
	)
	if args.Search != "" {
		activity, err = s.d.Activity.Search(args.Search, args.Limit)
	} else {
		activity, err = s.d.Activity.Query(store.ActivityQuery{
			Type:          args.Type,
			Account:       args.Account,
			TaskID:        args.TaskID,
			WorkflowRunID: args.WorkflowRunID,
			Since:         args.Since,
			Limit:         args.Limit,
		})
	}
	if err != nil {
		return nil, err
	}
	if activity == nil {
		activity = []*types.ActivityEvent{}
	}
	return map[string]any{"events": activity}, nil
}

func handleConfigReload(s *Server, req *protocol.Request) (map[string]any, error) {
	cfg, err := s.d.ReloadConfig()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"reloaded":      true,
		"schemaVersion": cfg.SchemaVersion,
		"accounts":      len(cfg.Accounts),
	}, nil
}

// handleSearchCode shells out to ripgrep with an argv array. The search path
// must pass the same validation as repo paths.
func handleSearchCode(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		Query string `json:"query"`
		Dir   string `json:"dir"`
		Limit int    `json:"limit,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, fmt.Errorf("Invalid field: query")
	}
	if strings.ContainsRune(args.Query, 0) {
		return nil, fmt.Errorf("Invalid field: query")
	}
	if err := validateSearchDir(args.Dir); err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "rg",
		"--line-number", "--no-heading", "--max-count", strconv.Itoa(limit),
		"--", args.Query, ".")
	cmd.Dir = args.Dir

	var out bytes.Buffer
	cmd.Stdout = &out
	err := cmd.Run()
	// rg exits 1 on "no matches"; that is an empty result, not a failure.
	if err != nil {
		if ee, ok := err.(*exec.ExitError); !ok || ee.ExitCode() != 1 {
			return nil, fmt.Errorf("code search failed: %w", err)
		}
	}

	matches := []map[string]string{}
	for _, line := range strings.Split(out.String(), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		matches = append(matches, map[string]string{
			"file": parts[0],
			"line": parts[1],
			"text": parts[2],
		})
		if len(matches) >= limit {
			break
		}
	}
	return map[string]any{"matches": matches}, nil
}

func validateSearchDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("Invalid field: dir")
	}
	if strings.ContainsRune(dir, 0) || strings.Contains(dir, "..") {
		return fmt.Errorf("Invalid field: dir")
	}
	return nil
}

func handleLinkTask(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		TaskID   string `json:"taskId"`
		TargetID string `json:"targetId"`
		Relation string `json:"relation,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.TaskID == "" {
		return nil, fmt.Errorf("Invalid field: taskId")
	}
	if args.TargetID == "" {
		return nil, fmt.Errorf("Invalid field: targetId")
	}

	task, err := s.d.Tasks.Link(args.TaskID, args.TargetID, args.Relation)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func handleGetTaskLinks(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		TaskID string `json:"taskId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.TaskID == "" {
		return nil, fmt.Errorf("Invalid field: taskId")
	}

	task, err := s.d.Tasks.Get(args.TaskID)
	if err != nil {
		return nil, err
	}
	links := task.Links
	if links == nil {
		links = []types.TaskLink{}
	}
	return map[string]any{"links": links}, nil
}

func handleGetReviewBundle(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().ReviewBundles {
		return nil, featureDisabledError("Review bundles")
	}

	var args struct {
		TaskID string `json:"taskId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	bundle, err := s.d.Bundles.Get(args.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"bundle": bundle}, nil
}

func handleGenerateReviewBundle(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().ReviewBundles {
		return nil, featureDisabledError("Review bundles")
	}

	var args struct {
		TaskID string `json:"taskId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	task, err := s.d.Tasks.Get(args.TaskID)
	if err != nil {
		return nil, err
	}

	bundle := &store.ReviewBundle{TaskID: task.ID, Task: task}
	if msg, err := s.d.Messages.GetMessage(task.ID); err == nil && msg.Type == types.MessageTypeHandoff {
		bundle.Handoff = msg
	}
	if receipts, err := s.d.Receipts.ByTask(task.ID); err == nil {
		bundle.Receipts = receipts
	}
	if activity, err := s.d.Activity.Query(store.ActivityQuery{TaskID: task.ID, Limit: 200}); err == nil {
		bundle.Activity = activity
	}

	if err := s.d.Bundles.Put(bundle); err != nil {
		return nil, err
	}
	return map[string]any{"bundle": bundle}, nil
}

// handleGetAnalytics aggregates board, trust, and capability counters into
// one snapshot for dashboards.
func handleGetAnalytics(s *Server, req *protocol.Request) (map[string]any, error) {
	tasks, err := s.d.Tasks.List("", "")
	if err != nil {
		return nil, err
	}
	byStatus := map[string]int{}
	byAssignee := map[string]int{}
	for _, t := range tasks {
		byStatus[string(t.Status)]++
		byAssignee[t.Assignee]++
	}

	trust, err := s.d.Trust.List()
	if err != nil {
		return nil, err
	}
	trustByAccount := map[string]int{}
	for _, rec := range trust {
		trustByAccount[rec.Account] = rec.Score
	}

	caps, err := s.d.Caps.List()
	if err != nil {
		return nil, err
	}
	type capSummary struct {
		Accepted    int     `json:"accepted"`
		Total       int     `json:"total"`
		AvgDuration float64 `json:"avgDurationMinutes"`
	}
	capsByAccount := map[string]capSummary{}
	for _, c := range caps {
		capsByAccount[c.Account] = capSummary{
			Accepted:    c.AcceptedTasks,
			Total:       c.TotalTasks,
			AvgDuration: c.AvgDurationMinutes,
		}
	}

	return map[string]any{
		"tasksByStatus":   byStatus,
		"tasksByAssignee": byAssignee,
		"trustScores":     trustByAccount,
		"capabilities":    capsByAccount,
		"activeSessions":  s.d.Sessions.ActiveCount(),
	}, nil
}
