package engine

import (
	"time"

	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/types"
)

// Progress is the latest self-reported state of an in-flight task. Progress
// lives in memory only; like shared sessions it is rebuilt from zero after
// a restart.
type Progress struct {
	TaskID     string    `json:"taskId"`
	Account    string    `json:"account"`
	Percent    int       `json:"percent"`
	Note       string    `json:"note,omitempty"`
	ReportedAt time.Time `json:"-"`
	Timestamp  string    `json:"timestamp"`
}

// ReportProgress records a progress checkpoint and emits PROGRESS_UPDATE.
func (e *Engine) ReportProgress(account, taskID string, percent int, note string) Progress {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	now := time.Now()
	p := Progress{
		TaskID:     taskID,
		Account:    account,
		Percent:    percent,
		Note:       note,
		ReportedAt: now,
		Timestamp:  types.FormatTime(now),
	}

	e.mu.Lock()
	e.progress[taskID] = p
	e.mu.Unlock()

	e.Bus.Emit(events.Event{
		Kind: events.ProgressUpdate, Account: account, TaskID: taskID,
		Payload: map[string]any{"percent": percent, "note": note},
	})
	return p
}

// LastProgress returns the most recent progress report for a task.
func (e *Engine) LastProgress(taskID string) (Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.progress[taskID]
	return p, ok
}

// PayloadForTask parses the creating handoff's payload, when present.
func (e *Engine) PayloadForTask(taskID string) *types.HandoffPayload {
	_, payload := e.handoffPayload(taskID)
	return payload
}
