package daemon

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ylcn91/agentctl/pkg/engine"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/metrics"
	"github.com/ylcn91/agentctl/pkg/protocol"
)

// handlerFunc executes one request on behalf of an authenticated account and
// returns the result payload merged into the reply frame.
type handlerFunc func(s *Server, req *protocol.Request) (map[string]any, error)

// handlers routes request types. Every entry must also appear in
// protocol.KnownTypes.
var handlers = map[string]handlerFunc{
	// messaging
	"send_message":     handleSendMessage,
	"read_messages":    handleReadMessages,
	"count_unread":     handleCountUnread,
	"list_accounts":    handleListAccounts,
	"archive_messages": handleArchiveMessages,
	// handoff
	"handoff_task":           handleHandoffTask,
	"handoff_accept":         handleHandoffAccept,
	"suggest_assignee":       handleSuggestAssignee,
	"reauthorize_delegation": handleReauthorizeDelegation,
	// tasks
	"update_task_status":    handleUpdateTaskStatus,
	"report_progress":       handleReportProgress,
	"adaptive_sla_check":    handleAdaptiveSLACheck,
	"get_trust":             handleGetTrust,
	"check_circuit_breaker": handleCheckCircuitBreaker,
	"reinstate_agent":       handleReinstateAgent,
	// workspace
	"prepare_worktree_for_handoff": handlePrepareWorktree,
	"get_workspace_status":         handleWorkspaceStatus,
	"cleanup_workspace":            handleCleanupWorkspace,
	// live sessions
	"share_session":     handleShareSession,
	"join_session":      handleJoinSession,
	"session_broadcast": handleSessionBroadcast,
	"session_status":    handleSessionStatus,
	"session_history":   handleSessionHistory,
	"leave_session":     handleLeaveSession,
	"session_ping":      handleSessionPing,
	// named sessions
	"name_session":    handleNameSession,
	"list_sessions":   handleListSessions,
	"search_sessions": handleSearchSessions,
	// knowledge
	"search_knowledge": handleSearchKnowledge,
	"index_note":       handleIndexNote,
	// workflow
	"workflow_trigger": handleWorkflowTrigger,
	"workflow_status":  handleWorkflowStatus,
	"workflow_list":    handleWorkflowList,
	"workflow_cancel":  handleWorkflowCancel,
	// health / misc
	"health_check":             handleHealthCheck,
	"health_status":            handleHealthStatus,
	"query_activity":           handleQueryActivity,
	"config_reload":            handleConfigReload,
	"search_code":              handleSearchCode,
	"replay_session":           handleReplaySession,
	"link_task":                handleLinkTask,
	"get_task_links":           handleGetTaskLinks,
	"get_review_bundle":        handleGetReviewBundle,
	"generate_review_bundle":   handleGenerateReviewBundle,
	"get_analytics":            handleGetAnalytics,
	"council_analyze":          handleCouncilAnalyze,
	"council_verify":           handleCouncilVerify,
	"council_history":          handleCouncilHistory,
	"retro_start_session":      handleRetroStart,
	"retro_submit_review":      handleRetroSubmitReview,
	"retro_submit_synthesis":   handleRetroSubmitSynthesis,
	"retro_status":             handleRetroStatus,
	"retro_get_past_learnings": handleRetroPastLearnings,
}

// dispatch routes one authenticated frame. Unknown types get "Invalid
// message" without closing the connection; handler errors become correlated
// error frames.
func (s *Server) dispatch(c *conn, frame json.RawMessage) {
	req, err := protocol.ParseRequest(frame)
	if err != nil {
		c.write(protocol.Error("", "Invalid message"))
		return
	}
	req.Account = c.account

	if req.Type == "ping" {
		c.write(protocol.Pong(req.RequestID))
		return
	}
	if !protocol.KnownTypes[req.Type] {
		metrics.RequestsTotal.WithLabelValues("unknown", "error").Inc()
		c.write(protocol.Error(req.RequestID, "Invalid message"))
		return
	}

	h, ok := handlers[req.Type]
	if !ok {
		c.write(protocol.Error(req.RequestID, "Invalid message"))
		return
	}

	payload, err := h(s, req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Type, "error").Inc()
		c.write(errorFrame(req.RequestID, err))
		lg := log.WithAccount(c.account)
		lg.Debug().
			Str("request_type", req.Type).Err(err).Msg("request failed")
		return
	}

	metrics.RequestsTotal.WithLabelValues(req.Type, "ok").Inc()
	c.write(protocol.Result(req.RequestID, payload))
}

// errorFrame renders an error reply, attaching structured context for the
// engine's richer failures.
func errorFrame(requestID string, err error) map[string]any {
	out := protocol.Error(requestID, err.Error())

	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		out["details"] = verr.Details
	}
	var derr *engine.DepthBlockedError
	if errors.As(err, &derr) {
		out["depthCheck"] = derr.Check
	}
	return out
}

// featureDisabledError is error kind 4: the handler exists but its gate is
// off.
func featureDisabledError(feature string) error {
	return fmt.Errorf("%s not enabled", feature)
}

// decodeArgs unmarshals the request frame into the handler's argument shape.
func decodeArgs(req *protocol.Request, into any) error {
	if err := json.Unmarshal(req.Args, into); err != nil {
		return fmt.Errorf("Invalid message")
	}
	return nil
}
