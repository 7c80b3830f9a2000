package types

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// TimeFormat is the wire format for all timestamps: ISO-8601 UTC with
// millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// NewID returns a fresh opaque identifier: 16 random bytes, lowercase hex.
func NewID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; a failure here
		// means the process cannot do anything useful anyway.
		panic(err)
	}
	return hex.EncodeToString(b)
}

// Now returns the current time in wire format.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t in wire format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a wire-format timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}

// Provider identifies which coding CLI an account runs.
type Provider string

const (
	ProviderClaudeCode  Provider = "claude-code"
	ProviderCodexCLI    Provider = "codex-cli"
	ProviderOpenHands   Provider = "openhands"
	ProviderGeminiCLI   Provider = "gemini-cli"
	ProviderOpenCode    Provider = "opencode"
	ProviderCursorAgent Provider = "cursor-agent"
)

// KnownProviders lists the closed provider set.
var KnownProviders = []Provider{
	ProviderClaudeCode,
	ProviderCodexCLI,
	ProviderOpenHands,
	ProviderGeminiCLI,
	ProviderOpenCode,
	ProviderCursorAgent,
}

// Account is a configured external agent identity. Accounts live in the
// config file, not in the daemon database; the shared secret lives in
// tokens/<name>.token.
type Account struct {
	Name        string       `json:"name"`
	ConfigDir   string       `json:"configDir,omitempty"`
	Color       string       `json:"color,omitempty"`
	Label       string       `json:"label,omitempty"`
	Provider    Provider     `json:"provider,omitempty"`
	QuotaPolicy *QuotaPolicy `json:"quotaPolicy,omitempty"`
}

// QuotaPolicy limits how eagerly an account is handed work.
type QuotaPolicy struct {
	MaxConcurrentTasks int `json:"maxConcurrentTasks,omitempty"`
	CooldownMinutes    int `json:"cooldownMinutes,omitempty"`
}

// MessageType distinguishes plain messages from structured handoffs.
type MessageType string

const (
	MessageTypeMessage MessageType = "message"
	MessageTypeHandoff MessageType = "handoff"
)

// Message is an immutable inter-account message. Only the Read flag mutates.
// Self-messages are permitted.
type Message struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Type      MessageType       `json:"type"`
	Content   string            `json:"content"`
	Timestamp string            `json:"timestamp"`
	Read      bool              `json:"read"`
	Context   map[string]string `json:"context,omitempty"`
}

// Enriched handoff characteristics (closed vocabularies).
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"

	VerifiabilityAutoTestable = "auto-testable"
	VerifiabilityNeedsReview  = "needs-review"
	VerifiabilitySubjective   = "subjective"

	ReversibilityReversible   = "reversible"
	ReversibilityPartial      = "partial"
	ReversibilityIrreversible = "irreversible"
)

// HandoffPayload is the structured content of a handoff message. The four
// required fields must be present and non-empty; blocked_by carries ["none"]
// when there are no blockers.
type HandoffPayload struct {
	Goal               string   `json:"goal" validate:"required"`
	AcceptanceCriteria []string `json:"acceptance_criteria" validate:"required,min=1,dive,required"`
	RunCommands        []string `json:"run_commands" validate:"required,min=1,dive,required"`
	BlockedBy          []string `json:"blocked_by" validate:"required,min=1,dive,required"`

	Complexity    string `json:"complexity,omitempty" validate:"omitempty,oneof=low medium high"`
	Criticality   string `json:"criticality,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Uncertainty   string `json:"uncertainty,omitempty" validate:"omitempty,oneof=low medium high"`
	Verifiability string `json:"verifiability,omitempty" validate:"omitempty,oneof=auto-testable needs-review subjective"`
	Reversibility string `json:"reversibility,omitempty" validate:"omitempty,oneof=reversible partial irreversible"`

	RequiredSkills           []string `json:"required_skills,omitempty"`
	EstimatedDurationMinutes int      `json:"estimated_duration_minutes,omitempty"`
	DelegationDepth          int      `json:"delegation_depth,omitempty" validate:"gte=0"`
	ParentHandoffID          string   `json:"parent_handoff_id,omitempty"`

	// AutoContext is project context the daemon collected at handoff time
	// (branch, recent commits, diff summary). Opaque to validation.
	AutoContext string `json:"autoContext,omitempty"`
}

// Blocked reports whether the payload declares real blockers.
func (p *HandoffPayload) Blocked() bool {
	for _, b := range p.BlockedBy {
		if b != "" && b != "none" {
			return true
		}
	}
	return false
}

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskStatusTodo           TaskStatus = "todo"
	TaskStatusInProgress     TaskStatus = "in_progress"
	TaskStatusReadyForReview TaskStatus = "ready_for_review"
	TaskStatusAccepted       TaskStatus = "accepted"
	TaskStatusRejected       TaskStatus = "rejected"
)

// ValidTaskStatus reports whether s is a known lifecycle state.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReadyForReview,
		TaskStatusAccepted, TaskStatusRejected:
		return true
	}
	return false
}

// CanTransition implements the lifecycle rule:
// todo→in_progress; in_progress→ready_for_review;
// ready_for_review→accepted|rejected; rejected→in_progress.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusTodo:
		return to == TaskStatusInProgress
	case TaskStatusInProgress:
		return to == TaskStatusReadyForReview
	case TaskStatusReadyForReview:
		return to == TaskStatusAccepted || to == TaskStatusRejected
	case TaskStatusRejected:
		return to == TaskStatusInProgress
	}
	return false
}

// TaskEvent is one entry in a task's append-only event log.
type TaskEvent struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// WorkspaceContext ties a task to the worktree it was executed in.
type WorkspaceContext struct {
	WorkspacePath string `json:"workspacePath"`
	Branch        string `json:"branch,omitempty"`
	WorkspaceID   string `json:"workspaceId,omitempty"`
}

// TaskLink is a labelled edge between two tasks.
type TaskLink struct {
	TaskID   string `json:"taskId"`
	Relation string `json:"relation"`
	LinkedAt string `json:"linkedAt"`
}

// Task is the persistent record created from a handoff. Its ID equals the
// creating handoff's message id.
type Task struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Status           TaskStatus        `json:"status"`
	Assignee         string            `json:"assignee"`
	CreatedAt        string            `json:"createdAt"`
	Events           []TaskEvent       `json:"events"`
	WorkspaceContext *WorkspaceContext `json:"workspaceContext,omitempty"`
	Priority         string            `json:"priority,omitempty"`
	Links            []TaskLink        `json:"links,omitempty"`
}

// WorkspaceStatus is the worktree lifecycle state.
type WorkspaceStatus string

const (
	WorkspaceStatusPreparing WorkspaceStatus = "preparing"
	WorkspaceStatusReady     WorkspaceStatus = "ready"
	WorkspaceStatusCleaning  WorkspaceStatus = "cleaning"
	WorkspaceStatusFailed    WorkspaceStatus = "failed"
)

// Terminal reports whether the status frees the (repoPath, branch) key.
func (s WorkspaceStatus) Terminal() bool {
	return s == WorkspaceStatusFailed
}

// Workspace is an isolated working copy (git worktree) owned by one task.
type Workspace struct {
	ID           string          `json:"id"`
	RepoPath     string          `json:"repoPath"`
	Branch       string          `json:"branch"`
	WorktreePath string          `json:"worktreePath"`
	OwnerAccount string          `json:"ownerAccount"`
	HandoffID    string          `json:"handoffId"`
	Status       WorkspaceStatus `json:"status"`
	CreatedAt    string          `json:"createdAt,omitempty"`
}

// Capability records what an account is good at, with derived counters.
type Capability struct {
	Account            string   `json:"account"`
	Skills             []string `json:"skills"`
	AcceptedTasks      int      `json:"acceptedTasks"`
	TotalTasks         int      `json:"totalTasks"`
	AvgDurationMinutes float64  `json:"avgDurationMinutes"`
	LastActivity       string   `json:"lastActivity,omitempty"`
	TrustScore         *int     `json:"trustScore,omitempty"`
}

// TrustRecord is the per-account reputation ledger.
type TrustRecord struct {
	Account        string `json:"account"`
	Score          int    `json:"score"`
	CompletedTasks int    `json:"completedTasks"`
	FailedTasks    int    `json:"failedTasks"`
	RejectedTasks  int    `json:"rejectedTasks"`
	SLACompliant   int    `json:"slaCompliant"`
	SLABreached    int    `json:"slaBreached"`
	UpdatedAt      string `json:"updatedAt"`
}

// ActivityEvent is one append-only log entry consumed by UIs and analytics.
type ActivityEvent struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Timestamp     string            `json:"timestamp"`
	Account       string            `json:"account,omitempty"`
	TaskID        string            `json:"taskId,omitempty"`
	WorkflowRunID string            `json:"workflowRunId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Verdict is the outcome recorded on a verification receipt.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// VerificationMethod says how a verdict was reached.
type VerificationMethod string

const (
	MethodHumanReview    VerificationMethod = "human-review"
	MethodAutoAcceptance VerificationMethod = "auto-acceptance"
	MethodCouncil        VerificationMethod = "council"
)

// VerificationReceipt is an immutable record of a task outcome.
type VerificationReceipt struct {
	TaskID         string             `json:"taskId"`
	Delegator      string             `json:"delegator"`
	Delegatee      string             `json:"delegatee"`
	HandoffPayload string             `json:"handoffPayload"`
	Verdict        Verdict            `json:"verdict"`
	Method         VerificationMethod `json:"method"`
	Timestamp      string             `json:"timestamp"`
}

// KnowledgeNote is an indexed note searchable through the knowledge store.
type KnowledgeNote struct {
	ID        string   `json:"id"`
	Account   string   `json:"account"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Tags      []string `json:"tags,omitempty"`
	IndexedAt string   `json:"indexedAt"`
}

// NamedSession is a durable label over a period of collaboration, searchable
// by name and description.
type NamedSession struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Account     string `json:"account"`
	CreatedAt   string `json:"createdAt"`
}
