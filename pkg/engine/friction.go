package engine

import (
	"strings"

	"github.com/ylcn91/agentctl/pkg/types"
)

// lowTrustThreshold blocks unattended acceptance for accounts that have
// burned too much trust.
const lowTrustThreshold = 30

// FrictionCheck is the verdict of the cognitive-friction gate that decides
// whether a task may be auto-accepted without a human in the loop.
type FrictionCheck struct {
	Blocked bool   `json:"blocked"`
	Level   string `json:"frictionLevel"`
	Reason  string `json:"reason,omitempty"`
}

// CheckFriction inspects the original handoff characteristics and the
// assignee's trust. Critical, irreversible, subjective, or low-trust work
// must not be accepted automatically.
func (e *Engine) CheckFriction(assignee string, payload *types.HandoffPayload) FrictionCheck {
	var reasons []string
	level := "low"

	if payload != nil {
		if payload.Criticality == types.LevelCritical {
			reasons = append(reasons, "criticality is critical")
			level = "high"
		}
		if payload.Reversibility == types.ReversibilityIrreversible {
			reasons = append(reasons, "work is irreversible")
			level = "high"
		}
		if payload.Verifiability == types.VerifiabilitySubjective {
			reasons = append(reasons, "acceptance is subjective")
			if level == "low" {
				level = "medium"
			}
		}
		if payload.Uncertainty == types.LevelHigh && payload.Complexity == types.LevelHigh {
			reasons = append(reasons, "high uncertainty on high complexity")
			if level == "low" {
				level = "medium"
			}
		}
	}

	if rec, err := e.Trust.Get(assignee); err == nil && rec.Score < lowTrustThreshold {
		reasons = append(reasons, "assignee trust below threshold")
		level = "high"
	}

	return FrictionCheck{
		Blocked: level == "high",
		Level:   level,
		Reason:  strings.Join(reasons, "; "),
	}
}
