package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ylcn91/agentctl/pkg/engine"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

// Step state values recorded in WorkflowRun.StepStates.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepSucceeded = "succeeded"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

const stepTimeout = 15 * time.Minute

// Executor runs workflow definitions and records runs. One executor serves
// the whole daemon; concurrent runs are independent goroutines.
type Executor struct {
	Dir    string
	Store  *store.WorkflowStore
	Runner engine.CommandRunner

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewExecutor wires an executor over the definitions directory.
func NewExecutor(dir string, st *store.WorkflowStore, runner engine.CommandRunner) *Executor {
	return &Executor{
		Dir:     dir,
		Store:   st,
		Runner:  runner,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Definitions reloads the workflow files on every call so edits are picked
// up without a daemon restart.
func (e *Executor) Definitions() (map[string]*Definition, error) {
	return LoadDir(e.Dir)
}

// Start begins a run of the named workflow and returns its record. The
// steps execute on a background goroutine.
func (e *Executor) Start(name, triggeredBy, workDir string) (*store.WorkflowRun, error) {
	defs, err := e.Definitions()
	if err != nil {
		return nil, err
	}
	def, ok := defs[name]
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s", name)
	}
	ordered, err := def.order()
	if err != nil {
		return nil, err
	}

	run := &store.WorkflowRun{
		ID:          uuid.NewString(),
		Workflow:    def.Name,
		TriggeredBy: triggeredBy,
		Status:      store.WorkflowRunRunning,
		StepStates:  make(map[string]string, len(ordered)),
	}
	for _, step := range ordered {
		run.StepStates[step.Name] = StepPending
	}
	if err := e.Store.CreateRun(run); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[run.ID] = cancel
	e.mu.Unlock()

	go e.execute(ctx, run, ordered, workDir)
	return run, nil
}

// Cancel stops a running workflow. Idempotent; unknown ids report an error.
func (e *Executor) Cancel(runID string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("workflow run not running: %s", runID)
	}
	cancel()
	return nil
}

func (e *Executor) execute(ctx context.Context, run *store.WorkflowRun, ordered []Step, workDir string) {
	logger := log.WithComponent("workflow").With().
		Str("workflow", run.Workflow).Str("run_id", run.ID).Logger()

	defer func() {
		e.mu.Lock()
		delete(e.cancels, run.ID)
		e.mu.Unlock()
	}()

	failed := make(map[string]bool)
	for _, step := range ordered {
		if ctx.Err() != nil {
			e.finish(run, store.WorkflowRunCancelled, "cancelled")
			return
		}
		if blockedBy := firstFailedNeed(step, failed); blockedBy != "" {
			run.StepStates[step.Name] = StepSkipped
			failed[step.Name] = true // dependents of a skipped step are skipped too
			logger.Info().Str("step", step.Name).Str("blocked_by", blockedBy).Msg("step skipped")
			continue
		}

		run.StepStates[step.Name] = StepRunning
		e.persist(run)

		dir := step.WorkDir
		if dir == "" {
			dir = workDir
		}
		if err := e.runStep(ctx, step, dir); err != nil {
			if ctx.Err() != nil {
				e.finish(run, store.WorkflowRunCancelled, "cancelled")
				return
			}
			run.StepStates[step.Name] = StepFailed
			failed[step.Name] = true
			logger.Warn().Str("step", step.Name).Err(err).Msg("step failed")
			continue
		}
		run.StepStates[step.Name] = StepSucceeded
		logger.Info().Str("step", step.Name).Msg("step succeeded")
	}

	var names []string
	for _, step := range ordered {
		if run.StepStates[step.Name] == StepFailed {
			names = append(names, step.Name)
		}
	}
	if len(names) > 0 {
		e.finish(run, store.WorkflowRunFailed, "failed steps: "+strings.Join(names, ", "))
		return
	}
	e.finish(run, store.WorkflowRunSucceeded, "")
}

func (e *Executor) runStep(ctx context.Context, step Step, dir string) error {
	for _, command := range step.Run {
		argv := strings.Fields(command)
		if len(argv) == 0 {
			continue
		}
		res := e.Runner.Run(ctx, dir, argv, stepTimeout)
		if !res.Passed() {
			return fmt.Errorf("%q exited %d", res.Command, res.ExitCode)
		}
	}
	return nil
}

func (e *Executor) finish(run *store.WorkflowRun, status store.WorkflowRunStatus, errText string) {
	run.Status = status
	run.FinishedAt = types.Now()
	run.Error = errText
	e.persist(run)
}

func (e *Executor) persist(run *store.WorkflowRun) {
	if err := e.Store.UpdateRun(run); err != nil {
		lg := log.WithComponent("workflow")
		lg.Warn().Err(err).
			Str("run_id", run.ID).Msg("persist workflow run failed")
	}
}

func firstFailedNeed(step Step, failed map[string]bool) string {
	for _, need := range step.Needs {
		if failed[need] {
			return need
		}
	}
	return ""
}
