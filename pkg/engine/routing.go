package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/ylcn91/agentctl/pkg/types"
)

// ScoreBreakdown itemises how a candidate earned its points.
type ScoreBreakdown struct {
	SkillMatch  float64 `json:"skillMatch"`
	SuccessRate float64 `json:"successRate"`
	Speed       float64 `json:"speed"`
	Recency     float64 `json:"recency"`
	Workload    float64 `json:"workload,omitempty"`
}

// Candidate is one scored account.
type Candidate struct {
	Account    string         `json:"account"`
	Score      float64        `json:"score"`
	Breakdown  ScoreBreakdown `json:"breakdown"`
	TrustScore *int           `json:"trustScore,omitempty"`
}

// SuggestAssignee scores every configured account over 100 points:
// 40 skill match, 30 historical success, 20 speed, 10 recency. An optional
// workload map subtracts a modifier before sorting. Ties break by account
// name ascending. Trust scores ride along as informational metadata.
func (e *Engine) SuggestAssignee(skills, exclude []string, workload map[string]int) ([]Candidate, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	var out []Candidate
	for _, acct := range e.cfg().Accounts {
		if excluded[acct.Name] {
			continue
		}
		cap, err := e.Caps.Get(acct.Name)
		if err != nil {
			return nil, err
		}

		b := ScoreBreakdown{
			SkillMatch:  skillScore(skills, cap.Skills),
			SuccessRate: successScore(cap),
			Speed:       speedScore(cap.AvgDurationMinutes),
			Recency:     recencyScore(cap.LastActivity),
		}
		score := b.SkillMatch + b.SuccessRate + b.Speed + b.Recency
		if workload != nil {
			b.Workload = float64(workload[acct.Name])
			score -= b.Workload
		}

		c := Candidate{Account: acct.Name, Score: score, Breakdown: b}
		if rec, err := e.Trust.Get(acct.Name); err == nil {
			trust := rec.Score
			c.TrustScore = &trust
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Account < out[j].Account
	})
	return out, nil
}

func skillScore(required, have []string) float64 {
	if len(required) == 0 {
		return 40
	}
	haveSet := make(map[string]bool, len(have))
	for _, s := range have {
		haveSet[strings.ToLower(s)] = true
	}
	matched := 0
	for _, s := range required {
		if haveSet[strings.ToLower(s)] {
			matched++
		}
	}
	return 40 * float64(matched) / float64(len(required))
}

func successScore(cap *types.Capability) float64 {
	if cap.TotalTasks == 0 {
		return 15
	}
	return 30 * float64(cap.AcceptedTasks) / float64(cap.TotalTasks)
}

func speedScore(avgMinutes float64) float64 {
	switch {
	case avgMinutes > 0 && avgMinutes < 5:
		return 20
	case avgMinutes < 15:
		return 15
	case avgMinutes < 30:
		return 10
	default:
		return 5
	}
}

func recencyScore(lastActivity string) float64 {
	if lastActivity == "" {
		return 1
	}
	t, err := types.ParseTime(lastActivity)
	if err != nil {
		return 1
	}
	since := time.Since(t)
	switch {
	case since <= 10*time.Minute:
		return 10
	case since <= 30*time.Minute:
		return 7
	case since <= 60*time.Minute:
		return 4
	default:
		return 1
	}
}
