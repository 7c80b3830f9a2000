// Package supervisor keeps the daemon process alive: it restarts it after
// crashes with exponential backoff and gives up when crashes cluster.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/ylcn91/agentctl/pkg/log"
)

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
	// stableAfter is how long a child must run before the backoff resets.
	stableAfter = 60 * time.Second

	// DefaultMaxCrashes within DefaultCrashWindow aborts supervision.
	DefaultMaxCrashes  = 5
	DefaultCrashWindow = 10 * time.Minute
)

// Supervisor restarts Argv until it exits cleanly, the crash budget is
// spent, or the context ends.
type Supervisor struct {
	Argv        []string
	MaxCrashes  int
	CrashWindow time.Duration

	// start is swappable in tests.
	start func(ctx context.Context, argv []string) (wait func() error, err error)
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a supervisor for the given command line.
func New(argv []string) *Supervisor {
	return &Supervisor{
		Argv:        argv,
		MaxCrashes:  DefaultMaxCrashes,
		CrashWindow: DefaultCrashWindow,
		start:       startProcess,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func startProcess(ctx context.Context, argv []string) (func() error, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run supervises the child until it exits cleanly or the crash budget for
// the sliding window is exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.Argv) == 0 {
		return fmt.Errorf("supervisor: empty command")
	}
	logger := log.WithComponent("supervisor")

	backoff := initialBackoff
	var crashes []time.Time

	for {
		started := s.now()
		wait, err := s.start(ctx, s.Argv)
		if err != nil {
			return fmt.Errorf("start child: %w", err)
		}
		logger.Info().Str("cmd", s.Argv[0]).Msg("child started")

		runErr := wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runErr == nil {
			logger.Info().Msg("child exited cleanly")
			return nil
		}

		now := s.now()
		if now.Sub(started) >= stableAfter {
			backoff = initialBackoff
		}

		crashes = append(crashes, now)
		crashes = pruneWindow(crashes, now.Add(-s.CrashWindow))
		logger.Warn().
			Err(runErr).
			Int("recentCrashes", len(crashes)).
			Dur("backoff", backoff).
			Msg("child crashed")

		if len(crashes) >= s.MaxCrashes {
			return fmt.Errorf("giving up: %d crashes within %s", len(crashes), s.CrashWindow)
		}

		if err := s.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func pruneWindow(crashes []time.Time, cutoff time.Time) []time.Time {
	kept := crashes[:0]
	for _, t := range crashes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
