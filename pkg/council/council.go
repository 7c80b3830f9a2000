package council

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ylcn91/agentctl/pkg/config"
	"github.com/ylcn91/agentctl/pkg/engine"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

const reviewerTimeout = 5 * time.Minute

// ReviewerVerdict is what each reviewer command prints to stdout as JSON.
type ReviewerVerdict struct {
	Reviewer string `json:"reviewer"`
	Approve  bool   `json:"approve"`
	Comment  string `json:"comment,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Decision is the aggregated outcome of one council session.
type Decision struct {
	ID        string            `json:"id"`
	TaskID    string            `json:"taskId"`
	Verdict   types.Verdict     `json:"verdict"`
	Approvals int               `json:"approvals"`
	Quorum    int               `json:"quorum"`
	Reviews   []ReviewerVerdict `json:"reviews"`
	DecidedAt string            `json:"decidedAt"`
}

// Council orchestrates the configured reviewer commands.
type Council struct {
	ConfigFn func() *config.Config
	Runner   engine.CommandRunner
	Cache    *store.ScratchStore

	mu sync.Mutex
}

// New wires a council over the live configuration. cache persists past
// decisions so council_history works across restarts.
func New(cfgFn func() *config.Config, runner engine.CommandRunner, cache *store.ScratchStore) *Council {
	return &Council{ConfigFn: cfgFn, Runner: runner, Cache: cache}
}

func (c *Council) settings() (*config.Council, error) {
	cfg := c.ConfigFn()
	if cfg.Council == nil || len(cfg.Council.Reviewers) == 0 {
		return nil, fmt.Errorf("no council reviewers configured")
	}
	return cfg.Council, nil
}

// quorum resolves the configured quorum, defaulting to a simple majority.
func quorum(set *config.Council) int {
	if set.Quorum > 0 {
		return set.Quorum
	}
	return len(set.Reviewers)/2 + 1
}

// Convene runs every reviewer against the task's review material and
// aggregates the verdicts. Reviewers run sequentially; a reviewer that
// fails to start, times out, or prints malformed JSON counts as a
// non-approval with its error recorded.
func (c *Council) Convene(ctx context.Context, task *types.Task, handoff string, workDir string) (*Decision, error) {
	set, err := c.settings()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	logger := log.WithTaskID(task.ID)
	decision := &Decision{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		Quorum: quorum(set),
	}

	for _, reviewer := range set.Reviewers {
		verdict := c.askReviewer(ctx, reviewer, task, handoff, workDir)
		decision.Reviews = append(decision.Reviews, verdict)
		if verdict.Approve {
			decision.Approvals++
		}
		logger.Info().
			Str("reviewer", verdict.Reviewer).
			Bool("approve", verdict.Approve).
			Msg("council reviewer answered")
	}

	decision.Verdict = types.VerdictRejected
	if decision.Approvals >= decision.Quorum {
		decision.Verdict = types.VerdictAccepted
	}
	decision.DecidedAt = types.Now()

	c.record(decision)
	return decision, nil
}

// askReviewer invokes one reviewer command with the task id and handoff
// content appended as arguments and parses its stdout as a verdict.
func (c *Council) askReviewer(ctx context.Context, reviewer config.CouncilReviewer, task *types.Task, handoff, workDir string) ReviewerVerdict {
	verdict := ReviewerVerdict{Reviewer: reviewer.Name}
	if len(reviewer.Command) == 0 {
		verdict.Err = "reviewer has no command"
		return verdict
	}

	argv := append(append([]string{}, reviewer.Command...), task.ID, handoff)
	res := c.Runner.Run(ctx, workDir, argv, reviewerTimeout)
	if !res.Passed() {
		verdict.Err = fmt.Sprintf("reviewer exited %d", res.ExitCode)
		return verdict
	}

	var parsed ReviewerVerdict
	if err := json.Unmarshal([]byte(res.Stdout), &parsed); err != nil {
		verdict.Err = "reviewer printed malformed verdict"
		return verdict
	}
	verdict.Approve = parsed.Approve
	verdict.Comment = parsed.Comment
	return verdict
}

// record caches the decision under its task id. Cache failures are logged,
// never fatal; the decision already happened.
func (c *Council) record(decision *Decision) {
	data, err := json.Marshal(decision)
	if err != nil {
		return
	}
	if err := c.Cache.Set(decision.TaskID, string(data)); err != nil {
		lg := log.WithTaskID(decision.TaskID)
		lg.Warn().Err(err).Msg("council decision not cached")
	}
}

// History returns the cached decision for a task, when one exists.
func (c *Council) History(taskID string) (*Decision, bool) {
	raw, ok := c.Cache.Get(taskID)
	if !ok {
		return nil, false
	}
	var decision Decision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return nil, false
	}
	return &decision, true
}

// All returns every cached decision, newest first.
func (c *Council) All() []*Decision {
	var out []*Decision
	for _, key := range c.Cache.Keys() {
		if d, ok := c.History(key); ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt > out[j].DecidedAt })
	return out
}
