package supervisor

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// scriptedChild replays a fixed sequence of child runs: each entry is the
// child's exit error and how long it "ran".
type scriptedChild struct {
	results []childRun
	starts  int
	clock   *time.Time
	sleeps  []time.Duration
}

type childRun struct {
	ran time.Duration
	err error
}

func (s *scriptedChild) start(ctx context.Context, argv []string) (func() error, error) {
	idx := s.starts
	s.starts++
	return func() error {
		run := s.results[idx]
		*s.clock = s.clock.Add(run.ran)
		return run.err
	}, nil
}

func newScriptedSupervisor(results []childRun) (*Supervisor, *scriptedChild) {
	clock := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	child := &scriptedChild{results: results, clock: &clock}

	s := New([]string{"agentctl", "daemon"})
	s.start = child.start
	s.now = func() time.Time { return clock }
	s.sleep = func(ctx context.Context, d time.Duration) error {
		child.sleeps = append(child.sleeps, d)
		clock = clock.Add(d)
		return nil
	}
	return s, child
}

var errCrash = fmt.Errorf("segfault")

// TestCleanExitStops verifies a zero exit ends supervision without restarts.
func TestCleanExitStops(t *testing.T) {
	s, child := newScriptedSupervisor([]childRun{{ran: time.Second, err: nil}})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if child.starts != 1 {
		t.Errorf("starts = %d", child.starts)
	}
	if len(child.sleeps) != 0 {
		t.Errorf("slept %v after clean exit", child.sleeps)
	}
}

// TestBackoffDoublesAndCaps verifies the 100ms * 2^n progression up to 30s.
func TestBackoffDoublesAndCaps(t *testing.T) {
	var results []childRun
	for i := 0; i < 11; i++ {
		results = append(results, childRun{ran: time.Millisecond, err: errCrash})
	}
	s, child := newScriptedSupervisor(results)
	s.MaxCrashes = 100
	s.CrashWindow = time.Millisecond // prune instantly, never give up

	results = append(results, childRun{ran: time.Second, err: nil})
	child.results = results

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
		800 * time.Millisecond, 1600 * time.Millisecond, 3200 * time.Millisecond,
		6400 * time.Millisecond, 12800 * time.Millisecond, 25600 * time.Millisecond,
		30 * time.Second, 30 * time.Second,
	}
	if len(child.sleeps) != len(want) {
		t.Fatalf("sleeps = %v", child.sleeps)
	}
	for i, d := range want {
		if child.sleeps[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, child.sleeps[i], d)
		}
	}
}

// TestGivesUpOnCrashCluster verifies the sliding-window crash budget.
func TestGivesUpOnCrashCluster(t *testing.T) {
	var results []childRun
	for i := 0; i < 10; i++ {
		results = append(results, childRun{ran: time.Millisecond, err: errCrash})
	}
	s, child := newScriptedSupervisor(results)
	s.MaxCrashes = 3
	s.CrashWindow = 10 * time.Minute

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("supervisor never gave up")
	}
	if child.starts != 3 {
		t.Errorf("starts = %d, want 3", child.starts)
	}
}

// TestStableRunResetsBackoff verifies a long-lived child resets the backoff
// to the initial value.
func TestStableRunResetsBackoff(t *testing.T) {
	s, child := newScriptedSupervisor([]childRun{
		{ran: time.Millisecond, err: errCrash},  // backoff 100ms
		{ran: time.Millisecond, err: errCrash},  // backoff 200ms
		{ran: 2 * time.Minute, err: errCrash},   // stable run: reset
		{ran: time.Second, err: nil},
	})
	s.MaxCrashes = 100
	s.CrashWindow = time.Millisecond

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(child.sleeps) != 3 {
		t.Fatalf("sleeps = %v", child.sleeps)
	}
	if child.sleeps[2] != 100*time.Millisecond {
		t.Errorf("post-stable backoff = %v, want reset to 100ms", child.sleeps[2])
	}
}

// TestContextCancelStops verifies cancellation wins over restarting.
func TestContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s, _ := newScriptedSupervisor([]childRun{{ran: time.Millisecond, err: errCrash}})
	s.start = func(c context.Context, argv []string) (func() error, error) {
		return func() error {
			cancel()
			return errCrash
		}, nil
	}

	if err := s.Run(ctx); err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

// TestEmptyCommandRejected verifies the argv guard.
func TestEmptyCommandRejected(t *testing.T) {
	s := New(nil)
	if err := s.Run(context.Background()); err == nil {
		t.Error("empty argv accepted")
	}
}
