package daemon

import (
	"fmt"

	"github.com/ylcn91/agentctl/pkg/protocol"
	"github.com/ylcn91/agentctl/pkg/types"
)

func handleSendMessage(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		To      string            `json:"to"`
		Content string            `json:"content"`
		Context map[string]string `json:"context,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if args.To == "" {
		return nil, fmt.Errorf("Invalid field: to")
	}
	if args.Content == "" {
		return nil, fmt.Errorf("Invalid field: content")
	}

	_, err := s.d.Messages.AddMessage(&types.Message{
		From:    req.Account,
		To:      args.To,
		Type:    types.MessageTypeMessage,
		Content: args.Content,
		Context: args.Context,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"delivered": s.IsConnected(args.To),
		"queued":    true,
	}, nil
}

func handleReadMessages(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		Limit      int  `json:"limit,omitempty"`
		Offset     int  `json:"offset,omitempty"`
		UnreadOnly bool `json:"unreadOnly,omitempty"`
		MarkRead   bool `json:"markRead,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}

	var (
		msgs []*types.Message
		err  error
	)
	if args.UnreadOnly {
		msgs, err = s.d.Messages.GetUnreadMessages(req.Account)
	} else {
		msgs, err = s.d.Messages.GetMessages(req.Account, args.Limit, args.Offset)
	}
	if err != nil {
		return nil, err
	}

	if args.MarkRead {
		if err := s.d.Messages.MarkAllRead(req.Account); err != nil {
			return nil, err
		}
	}
	if msgs == nil {
		msgs = []*types.Message{}
	}
	return map[string]any{"messages": msgs}, nil
}

func handleCountUnread(s *Server, req *protocol.Request) (map[string]any, error) {
	n, err := s.d.Messages.CountUnread(req.Account)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": n}, nil
}

func handleListAccounts(s *Server, req *protocol.Request) (map[string]any, error) {
	cfg := s.d.Config()
	type accountInfo struct {
		Name      string         `json:"name"`
		Label     string         `json:"label,omitempty"`
		Color     string         `json:"color,omitempty"`
		Provider  types.Provider `json:"provider,omitempty"`
		Connected bool           `json:"connected"`
	}

	out := make([]accountInfo, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		out = append(out, accountInfo{
			Name:      acct.Name,
			Label:     acct.Label,
			Color:     acct.Color,
			Provider:  acct.Provider,
			Connected: s.IsConnected(acct.Name),
		})
	}
	return map[string]any{"accounts": out}, nil
}

func handleArchiveMessages(s *Server, req *protocol.Request) (map[string]any, error) {
	var args struct {
		Days int `json:"days,omitempty"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	n, err := s.d.Messages.ArchiveOld(args.Days)
	if err != nil {
		return nil, err
	}
	return map[string]any{"archived": n}, nil
}
