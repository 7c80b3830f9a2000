package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/types"
)

// defaultSLAWindow applies when a handoff carries no duration estimate.
const defaultSLAWindow = 60 * time.Minute

// StatusUpdate is the input to UpdateTaskStatus.
type StatusUpdate struct {
	TaskID        string
	NewStatus     types.TaskStatus
	Reason        string
	WorkspacePath string
	Branch        string
	WorkspaceID   string
}

// UpdateTaskStatus applies one lifecycle transition: validates it, appends
// the status_changed event, persists the board, then emits the
// status-specific events and side effects (trust, receipts, verification).
func (e *Engine) UpdateTaskStatus(caller string, upd StatusUpdate) (*types.Task, error) {
	if !types.ValidTaskStatus(upd.NewStatus) {
		return nil, fmt.Errorf("Invalid field: status")
	}
	if upd.NewStatus == types.TaskStatusRejected && upd.Reason == "" {
		return nil, fmt.Errorf("rejection requires a reason")
	}

	var prev types.TaskStatus
	task, err := e.Tasks.Update(upd.TaskID, func(t *types.Task) error {
		prev = t.Status
		if !types.CanTransition(t.Status, upd.NewStatus) {
			return fmt.Errorf("invalid transition: %s -> %s", t.Status, upd.NewStatus)
		}

		if upd.NewStatus == types.TaskStatusReadyForReview && upd.WorkspacePath != "" && t.WorkspaceContext == nil {
			t.WorkspaceContext = &types.WorkspaceContext{
				WorkspacePath: upd.WorkspacePath,
				Branch:        upd.Branch,
				WorkspaceID:   upd.WorkspaceID,
			}
		}

		t.Status = upd.NewStatus
		t.Events = append(t.Events, types.TaskEvent{
			Type:      "status_changed",
			Timestamp: types.Now(),
			From:      string(prev),
			To:        string(upd.NewStatus),
			Reason:    upd.Reason,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Events strictly after the board change committed.
	switch upd.NewStatus {
	case types.TaskStatusInProgress:
		e.Bus.Emit(events.Event{
			Kind: events.TaskStarted, Account: task.Assignee, TaskID: task.ID,
		})
	case types.TaskStatusReadyForReview:
		e.Bus.Emit(events.Event{
			Kind: events.CheckpointReached, Account: task.Assignee, TaskID: task.ID,
			Payload: map[string]any{"percent": 100},
		})
	case types.TaskStatusAccepted:
		e.finishTask(caller, task, true, upd.Reason, types.MethodHumanReview)
	case types.TaskStatusRejected:
		e.finishTask(caller, task, false, upd.Reason, types.MethodHumanReview)
	}

	return task, nil
}

// finishTask performs the shared accepted/rejected side effects: completion
// event, trust update, verification receipt, verified event, capability
// counters.
func (e *Engine) finishTask(reviewer string, task *types.Task, passed bool, reason string, method types.VerificationMethod) {
	result := "success"
	verdict := types.VerdictAccepted
	outcome := OutcomeCompleted
	if !passed {
		result = "failure"
		verdict = types.VerdictRejected
		outcome = OutcomeRejected
		if method == types.MethodAutoAcceptance {
			outcome = OutcomeFailed
		}
	}

	e.Bus.Emit(events.Event{
		Kind: events.TaskCompleted, Account: task.Assignee, TaskID: task.ID,
		Payload: map[string]any{"result": result, "reason": reason},
	})

	withinSLA, durationMin := e.slaCompliance(task)
	if _, _, err := e.ApplyOutcome(task.Assignee, outcome, withinSLA); err != nil {
		e.logf("trust update failed for %s: %v", task.Assignee, err)
	}

	delegator, origin := e.handoffOrigin(task.ID)
	receipt := &types.VerificationReceipt{
		TaskID:         task.ID,
		Delegator:      delegator,
		Delegatee:      task.Assignee,
		HandoffPayload: origin,
		Verdict:        verdict,
		Method:         method,
	}
	if err := e.Receipts.Add(receipt); err != nil {
		e.logf("receipt persist failed for %s: %v", task.ID, err)
	}

	e.Bus.Emit(events.Event{
		Kind: events.TaskVerified, Account: task.Assignee, TaskID: task.ID,
		Payload: map[string]any{
			"passed":   passed,
			"method":   string(method),
			"reviewer": reviewer,
		},
	})

	if err := e.Caps.RecordOutcome(task.Assignee, passed, durationMin); err != nil {
		e.logf("capability update failed for %s: %v", task.Assignee, err)
	}
	e.recordBreakerOutcome(task.Assignee, passed)
}

// ApplyCouncilVerdict transitions a task out of review per the council's
// aggregate verdict and records the receipt with the council method. The
// task must still be in ready_for_review.
func (e *Engine) ApplyCouncilVerdict(reviewer, taskID string, newStatus types.TaskStatus, reason string) (*types.Task, error) {
	if newStatus != types.TaskStatusAccepted && newStatus != types.TaskStatusRejected {
		return nil, fmt.Errorf("Invalid field: status")
	}

	task, err := e.Tasks.Update(taskID, func(t *types.Task) error {
		if t.Status != types.TaskStatusReadyForReview {
			return fmt.Errorf("invalid transition: %s -> %s", t.Status, newStatus)
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
		return nil, err
	}

	e.finishTask(reviewer, task, newStatus == types.TaskStatusAccepted, reason, types.MethodCouncil)
	return task, nil
}

// slaCompliance reports whether the task finished inside its SLA window and
// how long it ran, in minutes.
func (e *Engine) slaCompliance(task *types.Task) (bool, float64) {
	created, err := types.ParseTime(task.CreatedAt)
	if err != nil {
		return true, 0
	}
	elapsed := time.Since(created)

	window := defaultSLAWindow
	if _, payload := e.handoffPayload(task.ID); payload != nil && payload.EstimatedDurationMinutes > 0 {
		window = time.Duration(payload.EstimatedDurationMinutes) * time.Minute
	}
	return elapsed <= window, elapsed.Minutes()
}

// handoffOrigin returns the delegator and verbatim payload content of the
// handoff that created the task, when still present.
func (e *Engine) handoffOrigin(taskID string) (string, string) {
	msg, err := e.Messages.GetMessage(taskID)
	if err != nil || msg.Type != types.MessageTypeHandoff {
		return "", ""
	}
	return msg.From, msg.Content
}

// handoffPayload parses the creating handoff's payload, when present.
func (e *Engine) handoffPayload(taskID string) (*types.Message, *types.HandoffPayload) {
	msg, err := e.Messages.GetMessage(taskID)
	if err != nil || msg.Type != types.MessageTypeHandoff {
		return nil, nil
	}
	var p types.HandoffPayload
	if err := json.Unmarshal([]byte(msg.Content), &p); err != nil {
		return msg, nil
	}
	return msg, &p
}
