package sla

import (
	"time"

	"github.com/ylcn91/agentctl/pkg/engine"
	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/metrics"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

// Scan thresholds.
const (
	DefaultInterval = 60 * time.Second

	pingAfter          = 30 * time.Minute
	progressWindow     = 15 * time.Minute
	reassignAfter      = 60 * time.Minute
	blockedEscalation  = 15 * time.Minute
	reviewPingAfter    = 10 * time.Minute
)

// Action is one graduated escalation.
type Action string

const (
	ActionPing       Action = "ping"
	ActionReassign   Action = "reassign"
	ActionEscalate   Action = "escalate"
	ActionQuarantine Action = "quarantine"
)

// Escalation is one recommendation produced by a scan.
type Escalation struct {
	TaskID   string `json:"taskId"`
	Assignee string `json:"assignee"`
	Action   Action `json:"action"`
	Target   string `json:"target"` // assignee or reviewer
	Reason   string `json:"reason"`
	AgeMs    int64  `json:"ageMs"`
}

// Coordinator runs the periodic staleness scan.
type Coordinator struct {
	Tasks    *store.TaskStore
	Engine   *engine.Engine
	Bus      *events.Bus
	Interval time.Duration

	now    func() time.Time
	stopCh chan struct{}
}

// NewCoordinator wires a coordinator over the task board.
func NewCoordinator(tasks *store.TaskStore, eng *engine.Engine, bus *events.Bus) *Coordinator {
	return &Coordinator{
		Tasks:    tasks,
		Engine:   eng,
		Bus:      bus,
		Interval: DefaultInterval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scan loop.
func (c *Coordinator) Start() {
	go c.run()
}

// Stop stops the scan loop.
func (c *Coordinator) Stop() {
	close(c.stopCh)
}

func (c *Coordinator) run() {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	logger := log.WithComponent("sla")
	for {
		select {
		case <-ticker.C:
			escalations, err := c.Scan()
			if err != nil {
				logger.Warn().Err(err).Msg("sla scan failed")
				continue
			}
			for _, esc := range escalations {
				c.emit(esc)
			}
		case <-c.stopCh:
			return
		}
	}
}

// Scan inspects the board and returns the current recommendations without
// emitting events. adaptive_sla_check uses this pull mode directly.
func (c *Coordinator) Scan() ([]Escalation, error) {
	var out []Escalation

	inProgress, err := c.Tasks.List(types.TaskStatusInProgress, "")
	if err != nil {
		return nil, err
	}
	for _, task := range inProgress {
		out = append(out, c.checkInProgress(task)...)
	}

	inReview, err := c.Tasks.List(types.TaskStatusReadyForReview, "")
	if err != nil {
		return nil, err
	}
	for _, task := range inReview {
		if age, ok := c.taskAge(task); ok && age > reviewPingAfter {
			out = append(out, Escalation{
				TaskID:   task.ID,
				Assignee: task.Assignee,
				Action:   ActionPing,
				Target:   "reviewer",
				Reason:   "task awaiting review too long",
				AgeMs:    age.Milliseconds(),
			})
		}
	}

	return out, nil
}

func (c *Coordinator) checkInProgress(task *types.Task) []Escalation {
	age, ok := c.taskAge(task)
	if !ok {
		return nil
	}
	var out []Escalation

	esc := func(action Action, target, reason string) {
		out = append(out, Escalation{
			TaskID:   task.ID,
			Assignee: task.Assignee,
			Action:   action,
			Target:   target,
			Reason:   reason,
			AgeMs:    age.Milliseconds(),
		})
	}

	payload := c.Engine.PayloadForTask(task.ID)

	if age > reassignAfter {
		esc(ActionReassign, task.Assignee, "task in progress past the reassignment threshold")
	} else if age > pingAfter && c.progressStale(task.ID) {
		esc(ActionPing, task.Assignee, "no recent progress on an aging task")
	}

	if age > blockedEscalation && payload != nil && payload.Blocked() {
		esc(ActionEscalate, task.Assignee, "blocked task is aging")
	}

	if payload != nil && payload.Criticality == types.LevelCritical && c.behindSchedule(payload, age) {
		esc(ActionQuarantine, task.Assignee, "critical task behind schedule")
	}

	return out
}

func (c *Coordinator) taskAge(task *types.Task) (time.Duration, bool) {
	created, err := types.ParseTime(task.CreatedAt)
	if err != nil {
		return 0, false
	}
	return c.now().Sub(created), true
}

func (c *Coordinator) progressStale(taskID string) bool {
	p, ok := c.Engine.LastProgress(taskID)
	if !ok {
		return true
	}
	return c.now().Sub(p.ReportedAt) > progressWindow
}

func (c *Coordinator) behindSchedule(payload *types.HandoffPayload, age time.Duration) bool {
	if payload.EstimatedDurationMinutes <= 0 {
		return false
	}
	return age > time.Duration(payload.EstimatedDurationMinutes)*time.Minute
}

// emit turns a recommendation into the corresponding activity event. Pings
// and escalations are warnings; reassignment and quarantine are breaches.
func (c *Coordinator) emit(esc Escalation) {
	kind := events.SLAWarning
	if esc.Action == ActionReassign || esc.Action == ActionQuarantine {
		kind = events.SLABreach
	}
	metrics.SLAEscalations.WithLabelValues(string(esc.Action)).Inc()
	c.Bus.Emit(events.Event{
		Kind:    kind,
		Account: esc.Assignee,
		TaskID:  esc.TaskID,
		Payload: map[string]any{
			"action": string(esc.Action),
			"target": esc.Target,
			"reason": esc.Reason,
			"ageMs":  esc.AgeMs,
		},
	})
	if esc.Action == ActionReassign {
		c.Bus.Emit(events.Event{
			Kind:    events.Reassignment,
			Account: esc.Assignee,
			TaskID:  esc.TaskID,
			Payload: map[string]any{"reason": esc.Reason},
		})
	}
}
