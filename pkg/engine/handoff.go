package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ylcn91/agentctl/pkg/events"
	"github.com/ylcn91/agentctl/pkg/types"
)

// ErrInvalidPayload signals handoff schema validation failure; the details
// travel alongside in the handler reply.
var ErrInvalidPayload = errors.New("Invalid handoff payload")

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidatePayload checks the handoff schema: required fields present and
// non-empty, enriched fields within their vocabularies. Returns a list of
// human-readable problems, empty when valid.
func ValidatePayload(p *types.HandoffPayload) []string {
	if p == nil {
		return []string{"payload required"}
	}
	err := payloadValidator.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := jsonFieldName(fe.Field())
		switch fe.Tag() {
		case "required", "min":
			details = append(details, fmt.Sprintf("%s must be present and non-empty", field))
		case "oneof":
			details = append(details, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "gte":
			details = append(details, fmt.Sprintf("%s must be >= %s", field, fe.Param()))
		default:
			details = append(details, fmt.Sprintf("%s is invalid", field))
		}
	}
	return details
}

// jsonFieldName maps struct field names to their wire names.
func jsonFieldName(field string) string {
	switch field {
	case "Goal":
		return "goal"
	case "AcceptanceCriteria":
		return "acceptance_criteria"
	case "RunCommands":
		return "run_commands"
	case "BlockedBy":
		return "blocked_by"
	case "DelegationDepth":
		return "delegation_depth"
	default:
		return strings.ToLower(field)
	}
}

// DepthCheck is the verdict of the delegation-depth rule.
type DepthCheck struct {
	Allowed                 bool   `json:"allowed"`
	CurrentDepth            int    `json:"currentDepth"`
	MaxDepth                int    `json:"maxDepth"`
	Reason                  string `json:"reason,omitempty"`
	RequiresReauthorization bool   `json:"requiresReauthorization,omitempty"`
}

// CheckDelegationDepth applies the rule: depth < max allows; depth == max-1
// allows with an "approaching" advisory; depth >= max blocks and requires
// reauthorization.
func (e *Engine) CheckDelegationDepth(depth int) DepthCheck {
	max := e.maxDelegationDepth()
	check := DepthCheck{CurrentDepth: depth, MaxDepth: max}
	switch {
	case depth < max-1:
		check.Allowed = true
	case depth == max-1:
		check.Allowed = true
		check.Reason = fmt.Sprintf("approaching delegation depth limit (%d of %d)", depth, max)
	default:
		check.Allowed = false
		check.Reason = fmt.Sprintf("delegation depth %d reached the limit of %d", depth, max)
		check.RequiresReauthorization = true
	}
	return check
}

// Reauthorize grants one extra handoff past the depth limit for the
// delegator->delegatee pair.
func (e *Engine) Reauthorize(delegator, delegatee string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reauth[delegator+"->"+delegatee]++
}

// consumeReauthorization spends a grant if one exists.
func (e *Engine) consumeReauthorization(delegator, delegatee string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := delegator + "->" + delegatee
	if e.reauth[key] > 0 {
		e.reauth[key]--
		if e.reauth[key] == 0 {
			delete(e.reauth, key)
		}
		return true
	}
	return false
}

// HandoffResult is the reply payload of handoff_task.
type HandoffResult struct {
	Delivered  bool       `json:"delivered"`
	Queued     bool       `json:"queued"`
	HandoffID  string     `json:"handoffId"`
	TaskID     string     `json:"taskId"`
	DepthCheck DepthCheck `json:"depthCheck,omitempty"`
}

// DepthBlockedError carries the failed depth check to the handler layer.
type DepthBlockedError struct {
	Check DepthCheck
}

func (e *DepthBlockedError) Error() string {
	return e.Check.Reason
}

// HandoffTask validates and stores a handoff from->to, creates the task, and
// emits the delegation and creation events. autoContext, when non-empty, is
// attached to the payload before serialisation. delivered reports whether
// the recipient is currently connected.
func (e *Engine) HandoffTask(from, to string, payload *types.HandoffPayload, autoContext string, delivered bool) (*HandoffResult, error) {
	if to == "" {
		return nil, fmt.Errorf("Invalid field: to")
	}
	if details := ValidatePayload(payload); len(details) > 0 {
		return nil, &ValidationError{Details: details}
	}

	check := e.CheckDelegationDepth(payload.DelegationDepth)
	if !check.Allowed {
		if e.consumeReauthorization(from, to) {
			check.Allowed = true
			check.RequiresReauthorization = false
			check.Reason = "reauthorized past depth limit"
		} else {
			e.emitDelegationChain(from, to, payload, true)
			return nil, &DepthBlockedError{Check: check}
		}
	}

	e.emitDelegationChain(from, to, payload, false)

	if autoContext != "" {
		payload.AutoContext = autoContext
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialise handoff: %w", err)
	}

	msg := &types.Message{
		From:    from,
		To:      to,
		Type:    types.MessageTypeHandoff,
		Content: string(content),
	}
	id, err := e.Messages.AddMessage(msg)
	if err != nil {
		return nil, err
	}

	task := &types.Task{
		ID:       id,
		Title:    payload.Goal,
		Status:   types.TaskStatusTodo,
		Assignee: to,
	}
	if err := e.Tasks.Create(task); err != nil {
		return nil, err
	}

	e.Bus.Emit(events.Event{
		Kind:    events.TaskCreated,
		Account: to,
		TaskID:  id,
		Payload: map[string]any{
			"from":          from,
			"goal":          payload.Goal,
			"complexity":    payload.Complexity,
			"criticality":   payload.Criticality,
			"uncertainty":   payload.Uncertainty,
			"verifiability": payload.Verifiability,
			"reversibility": payload.Reversibility,
		},
	})

	return &HandoffResult{
		Delivered:  delivered,
		Queued:     true,
		HandoffID:  id,
		TaskID:     id,
		DepthCheck: check,
	}, nil
}

func (e *Engine) emitDelegationChain(from, to string, payload *types.HandoffPayload, blocked bool) {
	chain := []string{from, to}
	p := map[string]any{
		"chain":   chain,
		"depth":   payload.DelegationDepth,
		"blocked": blocked,
	}
	if payload.ParentHandoffID != "" {
		p["parentHandoffId"] = payload.ParentHandoffID
	}
	e.Bus.Emit(events.Event{
		Kind:    events.DelegationChain,
		Account: from,
		Payload: p,
	})
}

// ValidationError carries payload schema problems.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return ErrInvalidPayload.Error()
}

// AcceptedHandoff is the reply payload of handoff_accept.
type AcceptedHandoff struct {
	Handoff     *types.Message        `json:"handoff"`
	Payload     *types.HandoffPayload `json:"payload"`
	AutoContext string                `json:"autoContext,omitempty"`
	Workspace   *types.Workspace      `json:"workspace,omitempty"`
}

// AcceptHandoff looks the handoff up among the caller's messages and parses
// its payload, separating autoContext out. Workspace preparation is the
// caller's concern.
func (e *Engine) AcceptHandoff(caller, handoffID string) (*AcceptedHandoff, error) {
	msg, err := e.Messages.GetMessage(handoffID)
	if err != nil {
		return nil, fmt.Errorf("handoff not found: %s", handoffID)
	}
	if msg.To != caller || msg.Type != types.MessageTypeHandoff {
		return nil, fmt.Errorf("handoff not found: %s", handoffID)
	}

	var payload types.HandoffPayload
	if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
		return nil, fmt.Errorf("handoff payload corrupted")
	}

	auto := payload.AutoContext
	payload.AutoContext = ""

	e.Bus.Emit(events.Event{
		Kind:    events.TaskAssigned,
		Account: caller,
		TaskID:  handoffID,
		Payload: map[string]any{
			"delegator": msg.From,
			"delegatee": caller,
			"reason":    "handoff_accepted",
		},
	})

	return &AcceptedHandoff{
		Handoff:     msg,
		Payload:     &payload,
		AutoContext: auto,
	}, nil
}
