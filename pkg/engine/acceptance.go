package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/metrics"
	"github.com/ylcn91/agentctl/pkg/types"
)

const (
	// perCommandTimeout bounds one run_commands entry.
	perCommandTimeout = 15 * time.Minute
	// overallTimeout bounds a whole acceptance run.
	overallTimeout = 60 * time.Minute
	// captureLimit bounds stdout/stderr capture per command.
	captureLimit = 64 * 1024
)

// CommandResult captures one executed acceptance command.
type CommandResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exitCode"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timedOut,omitempty"`
}

// Passed reports whether the command exited cleanly.
func (r CommandResult) Passed() bool {
	return r.ExitCode == 0
}

// CommandRunner executes one command in a directory. Swappable in tests.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string, timeout time.Duration) CommandResult
}

type execRunner struct{}

// Run executes argv directly (no shell) in dir with a hard deadline. A
// timed-out or unstartable command reports synthetic exit code -1.
func (execRunner) Run(ctx context.Context, dir string, argv []string, timeout time.Duration) CommandResult {
	start := time.Now()
	res := CommandResult{Command: strings.Join(argv, " ")}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = limitWriter{&stdout}
	cmd.Stderr = limitWriter{&stderr}

	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		res.TimedOut = true
	case err == nil:
		res.ExitCode = 0
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Stderr = err.Error()
		}
	}
	return res
}

type limitWriter struct {
	buf *bytes.Buffer
}

func (w limitWriter) Write(p []byte) (int, error) {
	if w.buf.Len() >= captureLimit {
		return len(p), nil // swallow past the cap, keep the process running
	}
	if room := captureLimit - w.buf.Len(); len(p) > room {
		w.buf.Write(p[:room])
		return len(p), nil
	}
	return w.buf.Write(p)
}

var _ io.Writer = limitWriter{}

// AcceptanceOutcome summarises one finished auto-acceptance run.
type AcceptanceOutcome struct {
	TaskID  string          `json:"taskId"`
	Passed  bool            `json:"passed"`
	Results []CommandResult `json:"results"`
	Summary string          `json:"summary,omitempty"`
}

// StartAutoAcceptance gates the run on cognitive friction, then executes the
// handoff's run_commands asynchronously, finishing the task as accepted or
// rejected. The returned status is "blocked" or "running".
func (e *Engine) StartAutoAcceptance(task *types.Task) (string, FrictionCheck) {
	payload := e.findAcceptancePayload(task)

	friction := e.CheckFriction(task.Assignee, payload)
	if friction.Blocked {
		return "blocked", friction
	}

	go e.runAcceptance(task, payload)
	return "running", friction
}

// findAcceptancePayload locates the handoff that created the task. The
// primary key is the task id itself; when that misses, it falls back to
// matching the workspace branch among the assignee's handoffs. The fallback
// can pick the wrong handoff when two tasks share a branch.
func (e *Engine) findAcceptancePayload(task *types.Task) *types.HandoffPayload {
	if _, payload := e.handoffPayload(task.ID); payload != nil {
		return payload
	}

	if task.WorkspaceContext == nil || task.WorkspaceContext.Branch == "" {
		return nil
	}
	handoffs, err := e.Messages.GetHandoffs(task.Assignee)
	if err != nil {
		return nil
	}
	for _, msg := range handoffs {
		var p types.HandoffPayload
		if err := json.Unmarshal([]byte(msg.Content), &p); err != nil {
			continue
		}
		if strings.Contains(p.Goal, task.WorkspaceContext.Branch) ||
			strings.Contains(p.AutoContext, task.WorkspaceContext.Branch) {
			return &p
		}
	}
	return nil
}

// runAcceptance executes the commands and persists the verdict. Runs on its
// own goroutine; all failures degrade to a rejected task, never a crash.
func (e *Engine) runAcceptance(task *types.Task, payload *types.HandoffPayload) {
	logger := log.WithTaskID(task.ID)

	if payload == nil || len(payload.RunCommands) == 0 {
		logger.Info().Msg("auto-acceptance: no run commands, leaving task in review")
		return
	}
	dir := task.WorkspaceContext.WorkspacePath
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Warn().Str("dir", dir).Msg("auto-acceptance: workspace directory missing")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), overallTimeout)
	defer cancel()

	outcome := AcceptanceOutcome{TaskID: task.ID}
	for _, command := range payload.RunCommands {
		argv := strings.Fields(command)
		if len(argv) == 0 {
			continue
		}
		res := e.Runner.Run(ctx, dir, argv, perCommandTimeout)
		outcome.Results = append(outcome.Results, res)
		logger.Info().
			Str("command", res.Command).
			Int("exit", res.ExitCode).
			Dur("duration", res.Duration).
			Msg("auto-acceptance command finished")
	}

	outcome.Passed = true
	var failing []string
	for _, res := range outcome.Results {
		if !res.Passed() {
			outcome.Passed = false
			failing = append(failing, fmt.Sprintf("%q exited %d", res.Command, res.ExitCode))
		}
	}
	if !outcome.Passed {
		outcome.Summary = "failing commands: " + strings.Join(failing, "; ")
	}

	e.finishAcceptance(task, outcome)
}

func (e *Engine) finishAcceptance(task *types.Task, outcome AcceptanceOutcome) {
	logger := log.WithTaskID(task.ID)

	newStatus := types.TaskStatusAccepted
	reason := ""
	result := "accepted"
	if !outcome.Passed {
		newStatus = types.TaskStatusRejected
		reason = outcome.Summary
		result = "rejected"
	}

	updated, err := e.Tasks.Update(task.ID, func(t *types.Task) error {
		if t.Status != types.TaskStatusReadyForReview {
			return fmt.Errorf("task left review while acceptance ran: %s", t.Status)
		}
		t.Status = newStatus
		t.Events = append(t.Events, types.TaskEvent{
			Type:      "status_changed",
			Timestamp: types.Now(),
			From:      string(types.TaskStatusReadyForReview),
			To:        string(newStatus),
			Reason:    reason,
		})
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("auto-acceptance: verdict not applied")
		metrics.AutoAcceptanceRuns.WithLabelValues("stale").Inc()
		return
	}

	metrics.AutoAcceptanceRuns.WithLabelValues(result).Inc()
	e.finishTask("auto-acceptance", updated, outcome.Passed, reason, types.MethodAutoAcceptance)

	e.Bus.Emit(events.Event{
		Kind: events.ProgressUpdate, Account: updated.Assignee, TaskID: updated.ID,
		Payload: map[string]any{"acceptance": result, "commands": len(outcome.Results)},
	})
}
