package sla

import (
	"testing"
	"time"

	"github.com/ylcn91/agentctl/pkg/config"
	"github.com/ylcn91/agentctl/pkg/engine"
	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

type slaFixture struct {
	coord *Coordinator
	eng   *engine.Engine
	tasks *store.TaskStore
	now   time.Time
}

func newFixture(t *testing.T) *slaFixture {
	t.Helper()
	dir := t.TempDir()

	msgs, err := store.NewMessageStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	tasks, err := store.NewTaskStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	trust, err := store.NewTrustStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		msgs.Close()
		trust.Close()
	})

	eng := engine.New(config.Default)
	eng.Messages = msgs
	eng.Tasks = tasks
	eng.Trust = trust
	eng.Bus = events.NewBus()

	coord := NewCoordinator(tasks, eng, eng.Bus)
	f := &slaFixture{coord: coord, eng: eng, tasks: tasks, now: time.Now()}
	coord.now = func() time.Time { return f.now }
	return f
}

// addTask plants a task with a creation time in the past. A non-nil payload
// is stored as the creating handoff so the scan can read it.
func (f *slaFixture) addTask(t *testing.T, status types.TaskStatus, age time.Duration, payload *types.HandoffPayload) string {
	t.Helper()

	id := types.NewID()
	if payload != nil {
		res, err := f.eng.HandoffTask("alice", "bob", payload, "", false)
		if err != nil {
			t.Fatal(err)
		}
		id = res.TaskID
		_, err = f.tasks.Update(id, func(task *types.Task) error {
			task.Status = status
			task.CreatedAt = types.FormatTime(f.now.Add(-age))
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		return id
	}

	err := f.tasks.Create(&types.Task{
		ID:        id,
		Status:    status,
		Assignee:  "bob",
		CreatedAt: types.FormatTime(f.now.Add(-age)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func actionsByTask(escalations []Escalation) map[string][]Action {
	out := map[string][]Action{}
	for _, esc := range escalations {
		out[esc.TaskID] = append(out[esc.TaskID], esc.Action)
	}
	return out
}

func slaPayload() *types.HandoffPayload {
	return &types.HandoffPayload{
		Goal:               "tune the cache eviction",
		AcceptanceCriteria: []string{"benchmarks stable"},
		RunCommands:        []string{"go test ./..."},
		BlockedBy:          []string{"none"},
	}
}

// TestScanQuietBoard produces nothing for fresh tasks.
func TestScanQuietBoard(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, types.TaskStatusInProgress, 5*time.Minute, nil)
	f.addTask(t, types.TaskStatusReadyForReview, 2*time.Minute, nil)

	escalations, err := f.coord.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(escalations) != 0 {
		t.Errorf("escalations = %+v", escalations)
	}
}

// TestScanPingsStaleInProgress verifies the 30-minute ping with no recent
// progress, and that a fresh progress report suppresses it.
func TestScanPingsStaleInProgress(t *testing.T) {
	f := newFixture(t)
	stale := f.addTask(t, types.TaskStatusInProgress, 40*time.Minute, nil)
	reported := f.addTask(t, types.TaskStatusInProgress, 40*time.Minute, nil)
	f.eng.ReportProgress("bob", reported, 50, "half way")

	byTask := actionsByTask(mustScan(t, f.coord))
	if got := byTask[stale]; len(got) != 1 || got[0] != ActionPing {
		t.Errorf("stale task actions = %v", got)
	}
	if got := byTask[reported]; len(got) != 0 {
		t.Errorf("reported task actions = %v", got)
	}
}

// TestScanReassignsVeryOld verifies the 60-minute reassignment threshold
// takes precedence over the ping.
func TestScanReassignsVeryOld(t *testing.T) {
	f := newFixture(t)
	old := f.addTask(t, types.TaskStatusInProgress, 90*time.Minute, nil)

	byTask := actionsByTask(mustScan(t, f.coord))
	got := byTask[old]
	if len(got) != 1 || got[0] != ActionReassign {
		t.Errorf("actions = %v, want single reassign", got)
	}
}

// TestScanEscalatesBlocked verifies blocked tasks escalate after 15 minutes.
func TestScanEscalatesBlocked(t *testing.T) {
	f := newFixture(t)
	payload := slaPayload()
	payload.BlockedBy = []string{"waiting on infra ticket"}
	blocked := f.addTask(t, types.TaskStatusInProgress, 20*time.Minute, payload)

	byTask := actionsByTask(mustScan(t, f.coord))
	if got := byTask[blocked]; len(got) != 1 || got[0] != ActionEscalate {
		t.Errorf("actions = %v", got)
	}
}

// TestScanQuarantinesCriticalBehindSchedule verifies the critical estimate
// rule.
func TestScanQuarantinesCriticalBehindSchedule(t *testing.T) {
	f := newFixture(t)
	payload := slaPayload()
	payload.Criticality = types.LevelCritical
	payload.EstimatedDurationMinutes = 10
	critical := f.addTask(t, types.TaskStatusInProgress, 20*time.Minute, payload)

	// Same shape but on schedule: no quarantine.
	onTime := slaPayload()
	onTime.Criticality = types.LevelCritical
	onTime.EstimatedDurationMinutes = 120
	fine := f.addTask(t, types.TaskStatusInProgress, 20*time.Minute, onTime)

	byTask := actionsByTask(mustScan(t, f.coord))
	if got := byTask[critical]; len(got) != 1 || got[0] != ActionQuarantine {
		t.Errorf("critical actions = %v", got)
	}
	if got := byTask[fine]; len(got) != 0 {
		t.Errorf("on-schedule actions = %v", got)
	}
}

// TestScanPingsStaleReview verifies the 10-minute review ping targets the
// reviewer.
func TestScanPingsStaleReview(t *testing.T) {
	f := newFixture(t)
	review := f.addTask(t, types.TaskStatusReadyForReview, 15*time.Minute, nil)

	escalations := mustScan(t, f.coord)
	if len(escalations) != 1 || escalations[0].TaskID != review {
		t.Fatalf("escalations = %+v", escalations)
	}
	if escalations[0].Action != ActionPing || escalations[0].Target != "reviewer" {
		t.Errorf("escalation = %+v", escalations[0])
	}
}

// TestScanNeverMutatesTasks verifies the coordinator only recommends.
func TestScanNeverMutatesTasks(t *testing.T) {
	f := newFixture(t)
	id := f.addTask(t, types.TaskStatusInProgress, 90*time.Minute, nil)

	mustScan(t, f.coord)

	task, err := f.tasks.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != types.TaskStatusInProgress || task.Assignee != "bob" {
		t.Errorf("scan mutated task: %+v", task)
	}
}

// TestEmitEventKinds verifies warnings versus breaches and the extra
// reassignment event.
func TestEmitEventKinds(t *testing.T) {
	f := newFixture(t)

	var warnings, breaches, reassignments int
	f.coord.Bus.Subscribe(events.SLAWarning, func(events.Event) { warnings++ })
	f.coord.Bus.Subscribe(events.SLABreach, func(events.Event) { breaches++ })
	f.coord.Bus.Subscribe(events.Reassignment, func(events.Event) { reassignments++ })

	f.coord.emit(Escalation{TaskID: "t1", Action: ActionPing})
	f.coord.emit(Escalation{TaskID: "t2", Action: ActionEscalate})
	f.coord.emit(Escalation{TaskID: "t3", Action: ActionReassign})
	f.coord.emit(Escalation{TaskID: "t4", Action: ActionQuarantine})

	if warnings != 2 {
		t.Errorf("warnings = %d, want 2", warnings)
	}
	if breaches != 2 {
		t.Errorf("breaches = %d, want 2", breaches)
	}
	if reassignments != 1 {
		t.Errorf("reassignments = %d, want 1", reassignments)
	}
}

func mustScan(t *testing.T, c *Coordinator) []Escalation {
	t.Helper()
	escalations, err := c.Scan()
	if err != nil {
		t.Fatal(err)
	}
	return escalations
}
