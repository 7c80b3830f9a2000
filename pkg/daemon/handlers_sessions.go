package daemon

import (
	"fmt"

	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/metrics"
	"github.com/ylcn91/agentctl/pkg/protocol"
	"github.com/ylcn91/agentctl/pkg/session"
	"github.com/ylcn91/agentctl/pkg/store"
	"github.com/ylcn91/agentctl/pkg/types"
)

func requireSessions(s *Server) error {
	if !s.d.Config().FeatureSet().Sessions {
		return featureDisabledError("Sessions")
	}
	return nil
}

func handleShareSession(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireSessions(s); err != nil {
		return nil, err
	}

	var args struct {
		Target    string `json:"target"`
		Workspace string `json:"workspace,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Target == "" {
		return nil, fmt.Errorf("Invalid field: target")
	}

	sess, err := s.d.Sessions.CreateSession(req.Account, args.Target, args.Workspace)
	if err != nil {
		return nil, err
	}
	metrics.SharedSessionsActive.Set(float64(s.d.Sessions.ActiveCount()))

	// Invite travels over the message queue so a disconnected target still
	// finds it on next read.
	if _, err := s.d.Messages.AddMessage(&types.Message{
		From:    req.Account,
		To:      args.Target,
		Type:    types.MessageTypeMessage,
		Content: fmt.Sprintf("Shared session invite: %s", sess.ID),
		Context: map[string]string{"sessionId": sess.ID},
	}); err != nil {
		lg := log.WithSessionID(sess.ID)
		lg.Warn().Err(err).Msg("invite message failed")
	}

	return map[string]any{"session": sess}, nil
}

func handleJoinSession(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireSessions(s); err != nil {
		return nil, err
	}

	var args struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	sess, err := s.d.Sessions.JoinSession(args.SessionID, req.Account)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": sess}, nil
}

func handleSessionBroadcast(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireSessions(s); err != nil {
		return nil, err
	}

	var args struct {
		SessionID string `json:"sessionId"`
		Data      string `json:"data"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	stored := s.d.Sessions.AddUpdate(args.SessionID, req.Account, args.Data)
	if !stored {
		return nil, fmt.Errorf("session not active or caller not a member")
	}

	// Archive asynchronously so replay_session works after the pair ends.
	go func() {
		if err := s.d.SessionDB.ArchiveUpdate(&store.ArchivedUpdate{
			SessionID: args.SessionID,
			From:      req.Account,
			Data:      args.Data,
		}); err != nil {
			lg := log.WithSessionID(args.SessionID)
			lg.Warn().Err(err).Msg("archive update failed")
		}
	}()

	return map[string]any{"stored": true}, nil
}

func handleSessionStatus(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireSessions(s); err != nil {
		return nil, err
	}

	var args struct {
		SessionID string `json:"sessionId,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	if args.SessionID != "" {
		sess, ok := s.d.Sessions.Get(args.SessionID)
		if !ok {
			return nil, fmt.Errorf("session not found: %s", args.SessionID)
		}
		return map[string]any{"session": sess}, nil
	}

	sessions := s.d.Sessions.ForAccount(req.Account)
	if sessions == nil {
		sessions = []*session.Session{}
	}
	return map[string]any{"sessions": sessions}, nil
}

func handleSessionHistory(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireSessions(s); err != nil {
		return nil, err
	}

	var args struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	updates := s.d.Sessions.GetUpdates(args.SessionID, req.Account)
	if updates == nil {
		updates = []session.Update{}
	}
	return map[string]any{"updates": updates}, nil
}

func handleLeaveSession(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireSessions(s); err != nil {
		return nil, err
	}

	var args struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	if err := s.d.Sessions.EndSession(args.SessionID, req.Account); err != nil {
		return nil, err
	}
	metrics.SharedSessionsActive.Set(float64(s.d.Sessions.ActiveCount()))
	return map[string]any{"left": true}, nil
}

func handleSessionPing(s *Server, req *protocol.Request) (map[string]any, error) {
	if err := requireSessions(s); err != nil {
		return nil, err
	}

	var args struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	return map[string]any{
		"recorded": s.d.Sessions.RecordPing(args.SessionID, req.Account),
	}, nil
}

func handleNameSession(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		SessionID   string `json:"sessionId,omitempty"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Name == "" {
		return nil, fmt.Errorf("Invalid field: name")
	}

	ns := &types.NamedSession{
		ID:          args.SessionID,
		Name:        args.Name,
		Description: args.Description,
		Account:     req.Account,
	}
	if err := s.d.SessionDB.Name(ns); err != nil {
		return nil, err
	}
	return map[string]any{"session": ns}, nil
}

func handleListSessions(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		All   bool `json:"all,omitempty"`
		Limit int  `json:"limit,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	account := req.Account
	if args.All {
		account = ""
	}
	sessions, err := s.d.SessionDB.List(account, args.Limit)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*types.NamedSession{}
	}
	return map[string]any{"sessions": sessions}, nil
}

func handleSearchSessions(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, fmt.Errorf("Invalid field: query")
	}

	sessions, err := s.d.SessionDB.Search(args.Query, args.Limit)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*types.NamedSession{}
	}
	return map[string]any{"sessions": sessions}, nil
}

func handleReplaySession(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		SessionID string `json:"sessionId"`
		Limit     int    `json:"limit,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.SessionID == "" {
		return nil, fmt.Errorf("Invalid field: sessionId")
	}

	updates, err := s.d.SessionDB.Replay(args.SessionID, args.Limit)
	if err != nil {
		return nil, err
	}
	if updates == nil {
		updates = []*store.ArchivedUpdate{}
	}
	return map[string]any{"updates": updates}, nil
}
