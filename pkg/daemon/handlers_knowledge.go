package daemon

import (
	"fmt"
	"sort"

	"github.com/ylcn91/agentctl/pkg/protocol"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

func handleSearchKnowledge(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().KnowledgeIndex {
		return nil, featureDisabledError("Knowledge index")
	}

	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, fmt.Errorf("Invalid field: query")
	}

	notes, err := s.d.Knowledge.Search(args.Query, args.Limit)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []*types.KnowledgeNote{}
	}
	return map[string]any{"notes": notes}, nil
}

func handleIndexNote(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().KnowledgeIndex {
		return nil, featureDisabledError("Knowledge index")
	}

	var args struct {
		Title string   `json:"title"`
		Body  string   `json:"body"`
		Tags  []string `json:"tags,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Title == "" {
		return nil, fmt.Errorf("Invalid field: title")
	}
	if args.Body == "" {
		return nil, fmt.Errorf("Invalid field: body")
	}

	note, err := s.d.Knowledge.Index(&types.KnowledgeNote{
		Account: req.Account,
		Title:   args.Title,
		Body:    args.Body,
		Tags:    args.Tags,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"note": note}, nil
}

func handleWorkflowTrigger(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().Workflow {
		return nil, featureDisabledError("Workflow")
	}

	var args struct {
		Workflow string `json:"workflow"`
		WorkDir  string `json:"workDir,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Workflow == "" {
		return nil, fmt.Errorf("Invalid field: workflow")
	}

	run, err := s.d.Runner.Start(args.Workflow, req.Account, args.WorkDir)
	if err != nil {
		return nil, err
	}
	return map[string]any{"run": run}, nil
}

func handleWorkflowStatus(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().Workflow {
		return nil, featureDisabledError("Workflow")
	}

	var args struct {
		RunID string `json:"runId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.RunID == "" {
		return nil, fmt.Errorf("Invalid field: runId")
	}

	run, err := s.d.Workflows.GetRun(args.RunID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"run": run}, nil
}

func handleWorkflowList(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().Workflow {
		return nil, featureDisabledError("Workflow")
	}

	var args struct {
		Workflow string `json:"workflow,omitempty"`
		Limit    int    `json:"limit,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	defs, err := s.d.Runner.Definitions()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	runs, err := s.d.Workflows.ListRuns(args.Workflow, args.Limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*store.WorkflowRun{}
	}
	return map[string]any{"workflows": names, "runs": runs}, nil
}

func handleWorkflowCancel(s *Server, req *protocol.Request) (map[string]any, error) {
	if !s.d.Config().FeatureSet().Workflow {
		return nil, featureDisabledError("Workflow")
	}

	var args struct {
		RunID string `json:"runId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.RunID == "" {
		return nil, fmt.Errorf("Invalid field: runId")
	}

	if err := s.d.Runner.Cancel(args.RunID); err != nil {
		return nil, err
	}
	return map[string]any{"cancelled": true, "runId": args.RunID}, nil
}
