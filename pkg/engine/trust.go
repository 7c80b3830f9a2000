package engine

import (
	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/log"
)

// Outcome is a trust-affecting task result.
type Outcome string

const (
	// OutcomeCompleted is an accepted task.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRejected is a human rejection.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed is a failed auto-acceptance run.
	OutcomeFailed Outcome = "failed"
)

// Bounded per-event deltas. Completed never decreases trust, rejected never
// increases it, and the score stays clamped to [0, 100].
const (
	completedDelta       = 5
	completedLateDelta   = 3
	rejectedDelta        = -4
	failedDelta          = -8
)

// ApplyOutcome folds one outcome into the account's trust record and emits
// TRUST_UPDATE when the score changed. Returns (old, new) scores.
func (e *Engine) ApplyOutcome(account string, outcome Outcome, withinSLA bool) (int, int, error) {
	rec, err := e.Trust.Get(account)
	if err != nil {
		return 0, 0, err
	}
	old := rec.Score

	var delta int
	switch outcome {
	case OutcomeCompleted:
		rec.CompletedTasks++
		if withinSLA {
			delta = completedDelta
			rec.SLACompliant++
		} else {
			delta = completedLateDelta
			rec.SLABreached++
		}
	case OutcomeRejected:
		rec.RejectedTasks++
		delta = rejectedDelta
	case OutcomeFailed:
		rec.FailedTasks++
		delta = failedDelta
	}

	rec.Score = clampScore(old + delta)
	if err := e.Trust.Put(rec); err != nil {
		return old, old, err
	}

	if rec.Score != old {
		e.Bus.Emit(events.Event{
			Kind:    events.TrustUpdate,
			Account: account,
			Payload: map[string]any{
				"oldScore": old,
				"newScore": rec.Score,
				"outcome":  string(outcome),
			},
		})
	}
	return old, rec.Score, nil
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func (e *Engine) logf(format string, args ...any) {
	lg := log.WithComponent("engine")
	lg.Warn().Msgf(format, args...)
}
