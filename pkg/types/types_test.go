package types

import (
	"encoding/json"
	"testing"
	"time"
)

// TestNewID verifies ids are 32 hex chars and unique.
func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 32 {
			t.Fatalf("NewID() length = %d, want 32", len(id))
		}
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

// TestTimeRoundTrip verifies the wire format survives format/parse.
func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	s := FormatTime(now)
	if s != "2026-03-14T09:26:53.589Z" {
		t.Errorf("FormatTime() = %s", s)
	}
	parsed, err := ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime() error: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("round trip changed time: %v != %v", parsed, now)
	}
}

// TestCanTransition exercises the full lifecycle matrix.
func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusTodo, TaskStatusInProgress, true},
		{TaskStatusTodo, TaskStatusReadyForReview, false},
		{TaskStatusTodo, TaskStatusAccepted, false},
		{TaskStatusInProgress, TaskStatusReadyForReview, true},
		{TaskStatusInProgress, TaskStatusAccepted, false},
		{TaskStatusInProgress, TaskStatusTodo, false},
		{TaskStatusReadyForReview, TaskStatusAccepted, true},
		{TaskStatusReadyForReview, TaskStatusRejected, true},
		{TaskStatusReadyForReview, TaskStatusInProgress, false},
		{TaskStatusRejected, TaskStatusInProgress, true},
		{TaskStatusRejected, TaskStatusTodo, false},
		{TaskStatusAccepted, TaskStatusInProgress, false},
		{TaskStatusAccepted, TaskStatusRejected, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// TestValidTaskStatus rejects unknown states.
func TestValidTaskStatus(t *testing.T) {
	if !ValidTaskStatus(TaskStatusTodo) {
		t.Error("todo should be valid")
	}
	if ValidTaskStatus("done") {
		t.Error("done should be invalid")
	}
	if ValidTaskStatus("") {
		t.Error("empty status should be invalid")
	}
}

// TestHandoffPayloadBlocked checks the ["none"] sentinel handling.
func TestHandoffPayloadBlocked(t *testing.T) {
	tests := []struct {
		name      string
		blockedBy []string
		want      bool
	}{
		{"none sentinel", []string{"none"}, false},
		{"empty entries", []string{""}, false},
		{"real blocker", []string{"waiting on schema migration"}, true},
		{"mixed", []string{"none", "api review"}, true},
		{"empty list", nil, false},
	}
	for _, tt := range tests {
		p := &HandoffPayload{BlockedBy: tt.blockedBy}
		if got := p.Blocked(); got != tt.want {
			t.Errorf("%s: Blocked() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// TestWorkspaceStatusTerminal verifies only failed frees the branch key.
func TestWorkspaceStatusTerminal(t *testing.T) {
	if !WorkspaceStatusFailed.Terminal() {
		t.Error("failed should be terminal")
	}
	for _, s := range []WorkspaceStatus{WorkspaceStatusPreparing, WorkspaceStatusReady, WorkspaceStatusCleaning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

// TestHandoffPayloadJSON verifies the snake_case wire keys.
func TestHandoffPayloadJSON(t *testing.T) {
	raw := `{
		"goal": "refactor the parser",
		"acceptance_criteria": ["tests pass"],
		"run_commands": ["make test"],
		"blocked_by": ["none"],
		"criticality": "high",
		"estimated_duration_minutes": 45,
		"delegation_depth": 2
	}`
	var p HandoffPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Goal != "refactor the parser" {
		t.Errorf("goal = %q", p.Goal)
	}
	if p.Criticality != LevelHigh {
		t.Errorf("criticality = %q", p.Criticality)
	}
	if p.EstimatedDurationMinutes != 45 {
		t.Errorf("estimated_duration_minutes = %d", p.EstimatedDurationMinutes)
	}
	if p.DelegationDepth != 2 {
		t.Errorf("delegation_depth = %d", p.DelegationDepth)
	}
}
