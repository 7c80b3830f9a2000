package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ylcn91/agentctl/pkg/engine"
	"github.com/ylcn91/agentctl/pkg/store"
)

const buildDefinition = `
name: build
description: compile and test
steps:
  - name: compile
    run: ["go build ./..."]
  - name: test
    run: ["go test ./..."]
    needs: [compile]
  - name: package
    run: ["tar cf out.tar bin"]
    needs: [test]
`

// TestParseDefinition accepts a well-formed document.
func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(buildDefinition))
	if err != nil {
		t.Fatalf("ParseDefinition() error: %v", err)
	}
	if def.Name != "build" || len(def.Steps) != 3 {
		t.Errorf("def = %+v", def)
	}
}

// TestParseDefinitionRejections covers the validation failures.
func TestParseDefinitionRejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no name", "steps:\n  - name: a\n    run: [\"true\"]", "no name"},
		{"no steps", "name: empty", "no steps"},
		{"unnamed step", "name: w\nsteps:\n  - run: [\"true\"]", "empty name"},
		{"no commands", "name: w\nsteps:\n  - name: a", "no commands"},
		{"duplicate step", "name: w\nsteps:\n  - name: a\n    run: [\"true\"]\n  - name: a\n    run: [\"true\"]", "duplicate"},
		{"unknown need", "name: w\nsteps:\n  - name: a\n    run: [\"true\"]\n    needs: [ghost]", "unknown step"},
		{"cycle", "name: w\nsteps:\n  - name: a\n    run: [\"true\"]\n    needs: [b]\n  - name: b\n    run: [\"true\"]\n    needs: [a]", "cycle"},
	}
	for _, tt := range tests {
		_, err := ParseDefinition([]byte(tt.doc))
		if err == nil {
			t.Errorf("%s: accepted", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error = %v, want substring %q", tt.name, err, tt.want)
		}
	}
}

// TestOrderKeepsFileOrder verifies ready steps keep their file order while
// dependencies are respected.
func TestOrderKeepsFileOrder(t *testing.T) {
	doc := `
name: w
steps:
  - name: late
    run: ["true"]
    needs: [first, second]
  - name: first
    run: ["true"]
  - name: second
    run: ["true"]
`
	def, err := ParseDefinition([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	ordered, err := def.order()
	if err != nil {
		t.Fatal(err)
	}
	got := []string{ordered[0].Name, ordered[1].Name, ordered[2].Name}
	if got[0] != "first" || got[1] != "second" || got[2] != "late" {
		t.Errorf("order = %v", got)
	}
}

// TestLoadDir reads definitions and tolerates a missing directory.
func TestLoadDir(t *testing.T) {
	defs, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil || len(defs) != 0 {
		t.Errorf("missing dir: %v, %v", defs, err)
	}

	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "build.yaml"), []byte(buildDefinition), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a workflow"), 0o644)

	defs, err = LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	if len(defs) != 1 || defs["build"] == nil {
		t.Errorf("defs = %v", defs)
	}
}

// scriptedRunner fails the commands whose text contains a marker.
type scriptedRunner struct {
	mu     sync.Mutex
	failOn string
	ran    []string
}

func (r *scriptedRunner) Run(ctx context.Context, dir string, argv []string, timeout time.Duration) engine.CommandResult {
	cmd := strings.Join(argv, " ")
	r.mu.Lock()
	r.ran = append(r.ran, cmd)
	r.mu.Unlock()
	if r.failOn != "" && strings.Contains(cmd, r.failOn) {
		return engine.CommandResult{Command: cmd, ExitCode: 1}
	}
	return engine.CommandResult{Command: cmd, ExitCode: 0}
}

func (r *scriptedRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func newTestExecutor(t *testing.T, runner engine.CommandRunner) *Executor {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "workflows"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "workflows", "build.yaml"), []byte(buildDefinition), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := store.NewWorkflowStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return NewExecutor(filepath.Join(dir, "workflows"), st, runner)
}

func waitForRun(t *testing.T, ex *Executor, id string) *store.WorkflowRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := ex.Store.GetRun(id)
		if err == nil && run.Status != store.WorkflowRunRunning {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never finished")
	return nil
}

// TestExecutorSuccess runs every step in order.
func TestExecutorSuccess(t *testing.T) {
	runner := &scriptedRunner{}
	ex := newTestExecutor(t, runner)

	run, err := ex.Start("build", "alice", t.TempDir())
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := waitForRun(t, ex, run.ID)
	if done.Status != store.WorkflowRunSucceeded {
		t.Fatalf("status = %s (%s)", done.Status, done.Error)
	}
	for step, state := range done.StepStates {
		if state != StepSucceeded {
			t.Errorf("step %s = %s", step, state)
		}
	}
	if got := runner.commands(); len(got) != 3 {
		t.Errorf("commands = %v", got)
	}
}

// TestExecutorFailureSkipsDependents verifies a failed step marks dependents
// skipped and only failed steps land in the error summary.
func TestExecutorFailureSkipsDependents(t *testing.T) {
	runner := &scriptedRunner{failOn: "go test"}
	ex := newTestExecutor(t, runner)

	run, err := ex.Start("build", "alice", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	done := waitForRun(t, ex, run.ID)
	if done.Status != store.WorkflowRunFailed {
		t.Fatalf("status = %s", done.Status)
	}
	if done.StepStates["compile"] != StepSucceeded {
		t.Errorf("compile = %s", done.StepStates["compile"])
	}
	if done.StepStates["test"] != StepFailed {
		t.Errorf("test = %s", done.StepStates["test"])
	}
	if done.StepStates["package"] != StepSkipped {
		t.Errorf("package = %s", done.StepStates["package"])
	}
	if !strings.Contains(done.Error, "test") || strings.Contains(done.Error, "package") {
		t.Errorf("error summary = %q", done.Error)
	}
}

// TestExecutorUnknownWorkflow errors without creating a run.
func TestExecutorUnknownWorkflow(t *testing.T) {
	ex := newTestExecutor(t, &scriptedRunner{})
	if _, err := ex.Start("ghost", "alice", ""); err == nil {
		t.Error("unknown workflow started")
	}
}

// TestExecutorCancelUnknownRun errors for ids that are not running.
func TestExecutorCancelUnknownRun(t *testing.T) {
	ex := newTestExecutor(t, &scriptedRunner{})
	if err := ex.Cancel("nope"); err == nil {
		t.Error("cancel of unknown run succeeded")
	}
}
