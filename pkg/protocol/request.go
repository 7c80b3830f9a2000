package protocol

import (
	"encoding/json"
)

// Request is the envelope of every client frame after the handshake. Type is
// mandatory; RequestID is opaque and may be absent. Args holds the rest of
// the frame for the handler to decode.
type Request struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Account   string `json:"-"`

	Args json.RawMessage `json:"-"`
}

// ParseRequest decodes a raw frame into a Request, keeping the full frame as
// Args so handlers can unmarshal their own argument shapes.
func ParseRequest(raw json.RawMessage) (*Request, error) {
	var env struct {
		Type      string `json:"type"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &Request{Type: env.Type, RequestID: env.RequestID, Args: raw}, nil
}

// AuthRequest is the mandatory first frame on a fresh connection.
type AuthRequest struct {
	Type    string `json:"type"`
	Account string `json:"account"`
	Token   string `json:"token"`
}

// Result wraps a handler payload into a result frame, attaching the
// correlated requestId when present. Payload keys are merged at the top
// level of the frame alongside type and requestId.
func Result(requestID string, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	out["type"] = "result"
	if requestID != "" {
		out["requestId"] = requestID
	}
	return out
}

// Error builds an error frame.
func Error(requestID, msg string) map[string]any {
	out := map[string]any{"type": "error", "error": msg}
	if requestID != "" {
		out["requestId"] = requestID
	}
	return out
}

// Pong builds the reply to a ping.
func Pong(requestID string) map[string]any {
	out := map[string]any{"type": "pong"}
	if requestID != "" {
		out["requestId"] = requestID
	}
	return out
}

// KnownTypes is the closed set of request types the dispatcher routes.
// Anything else is answered with "Invalid message".
var KnownTypes = map[string]bool{
	// messaging
	"send_message":     true,
	"read_messages":    true,
	"count_unread":     true,
	"list_accounts":    true,
	"archive_messages": true,
	// handoff
	"handoff_task":           true,
	"handoff_accept":         true,
	"suggest_assignee":       true,
	"reauthorize_delegation": true,
	// tasks
	"update_task_status":    true,
	"report_progress":       true,
	"adaptive_sla_check":    true,
	"get_trust":             true,
	"check_circuit_breaker": true,
	"reinstate_agent":       true,
	// workspace
	"prepare_worktree_for_handoff": true,
	"get_workspace_status":         true,
	"cleanup_workspace":            true,
	// live sessions
	"share_session":     true,
	"join_session":      true,
	"session_broadcast": true,
	"session_status":    true,
	"session_history":   true,
	"leave_session":     true,
	"session_ping":      true,
	// named sessions
	"name_session":    true,
	"list_sessions":   true,
	"search_sessions": true,
	// knowledge
	"search_knowledge": true,
	"index_note":       true,
	// workflow
	"workflow_trigger": true,
	"workflow_status":  true,
	"workflow_list":    true,
	"workflow_cancel":  true,
	// health / misc
	"ping":                     true,
	"health_check":             true,
	"health_status":            true,
	"query_activity":           true,
	"config_reload":            true,
	"search_code":              true,
	"replay_session":           true,
	"link_task":                true,
	"get_task_links":           true,
	"get_review_bundle":        true,
	"generate_review_bundle":   true,
	"get_analytics":            true,
	"council_analyze":          true,
	"council_verify":           true,
	"council_history":          true,
	"retro_start_session":      true,
	"retro_submit_review":      true,
	"retro_submit_synthesis":   true,
	"retro_status":             true,
	"retro_get_past_learnings": true,
}
