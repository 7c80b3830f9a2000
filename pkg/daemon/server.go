package daemon

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ylcn91/agentctl/pkg/config"
	"github.com/ylcn91/agentctl/pkg/log"
	"github.com/ylcn91/agentctl/pkg/metrics"
	"github.com/ylcn91/agentctl/pkg/protocol"
	"github.com/ylcn91/agentctl/pkg/types"
)

// Server accepts bridge connections on the hub socket and drives the
// dispatcher for each.
type Server struct {
	d        *Daemon
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*conn // account -> authenticated connection
	wg    sync.WaitGroup

	closing bool
}

type conn struct {
	account string
	raw     net.Conn

	writeMu sync.Mutex
}

// SocketPath returns the hub socket location under baseDir.
func SocketPath(baseDir string) string {
	return filepath.Join(baseDir, "hub.sock")
}

// NewServer binds the hub socket. A stale socket file from a dead daemon is
// removed first.
func NewServer(d *Daemon) (*Server, error) {
	path := SocketPath(d.BaseDir)
	if _, err := os.Stat(path); err == nil {
		if _, err := net.Dial("unix", path); err == nil {
			return nil, fmt.Errorf("daemon already running on %s", path)
		}
		os.Remove(path)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}

	return &Server{
		d:        d,
		listener: l,
		conns:    make(map[string]*conn),
	}, nil
}

// Serve accepts connections until Shutdown. Each connection runs on its own
// goroutine.
func (s *Server) Serve() error {
	logger := log.WithComponent("server")
	logger.Info().Str("socket", SocketPath(s.d.BaseDir)).Msg("hub listening")

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(raw)
		}()
	}
}

// Shutdown stops accepting, closes every connection, and waits for the
// per-connection goroutines to drain.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	for _, c := range s.conns {
		c.raw.Close()
	}
	s.mu.Unlock()

	s.listener.Close()
	s.wg.Wait()
	os.Remove(SocketPath(s.d.BaseDir))
}

// IsConnected reports whether the account has an authenticated connection.
func (s *Server) IsConnected(account string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[account]
	return ok
}

// ConnectedAccounts lists currently authenticated account names.
func (s *Server) ConnectedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for name := range s.conns {
		out = append(out, name)
	}
	return out
}

// handle runs one connection: handshake, then the request loop.
func (s *Server) handle(raw net.Conn) {
	logger := log.WithComponent("server")
	c := &conn{raw: raw}
	parser := protocol.NewFrameParser()

	defer func() {
		raw.Close()
		if c.account != "" {
			s.unregister(c)
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := raw.Read(buf)
		if err != nil {
			return
		}
		frames, err := parser.Feed(buf[:n])
		if err != nil {
			// Framing violation closes the connection.
			logger.Warn().Err(err).Msg("framing error")
			if c.account == "" {
				c.write(protocol.Error("", err.Error()))
			}
			return
		}

		for _, frame := range frames {
			if c.account == "" {
				if !s.authenticate(c, frame) {
					return
				}
				continue
			}
			s.dispatch(c, frame)
		}
	}
}

// authenticate processes the mandatory first frame. An unauthenticated
// socket may only ping; anything else must be a valid auth frame or the
// connection closes.
func (s *Server) authenticate(c *conn, frame json.RawMessage) bool {
	var auth protocol.AuthRequest
	if err := json.Unmarshal(frame, &auth); err != nil {
		c.write(protocol.Error("", "Invalid message"))
		return false
	}

	if auth.Type == "ping" {
		var req struct {
			RequestID string `json:"requestId"`
		}
		_ = json.Unmarshal(frame, &req)
		c.write(protocol.Pong(req.RequestID))
		return true
	}
	if auth.Type != "auth" {
		c.write(protocol.Error("", "Authentication required"))
		return false
	}
	if !validAccountName(auth.Account) {
		c.write(protocol.Error("", "Invalid field: account"))
		return false
	}

	stored, err := os.ReadFile(config.TokenPath(s.d.BaseDir, auth.Account))
	if err != nil {
		c.write(protocol.Error("", "Authentication failed"))
		return false
	}
	want := strings.TrimRight(string(stored), "\n")
	if subtle.ConstantTimeCompare([]byte(want), []byte(auth.Token)) != 1 {
		c.write(protocol.Error("", "Authentication failed"))
		return false
	}

	c.account = auth.Account
	s.register(c)
	c.write(map[string]any{"type": "auth_ok"})
	return true
}

// validAccountName enforces the account-name shape so it is safe to use in
// token file paths.
func validAccountName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case (r == '_' || r == '-') && i > 0:
		default:
			return false
		}
	}
	return true
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	if old, ok := s.conns[c.account]; ok {
		old.raw.Close()
	}
	s.conns[c.account] = c
	s.mu.Unlock()

	metrics.ConnectedAccounts.Inc()
	lg := log.WithAccount(c.account)
	lg.Info().Msg("account connected")

	if _, err := s.d.Activity.Emit(&types.ActivityEvent{
		Type:    "account_connected",
		Account: c.account,
	}); err != nil {
		lg := log.WithAccount(c.account)
		lg.Warn().Err(err).Msg("connect activity failed")
	}
	if err := s.d.Caps.TouchActivity(c.account); err != nil {
		lg := log.WithAccount(c.account)
		lg.Warn().Err(err).Msg("touch activity failed")
	}
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	current, ok := s.conns[c.account]
	if ok && current == c {
		delete(s.conns, c.account)
	}
	s.mu.Unlock()
	if !ok || current != c {
		return
	}

	metrics.ConnectedAccounts.Dec()
	lg := log.WithAccount(c.account)
	lg.Info().Msg("account disconnected")

	if _, err := s.d.Activity.Emit(&types.ActivityEvent{
		Type:    "account_disconnected",
		Account: c.account,
	}); err != nil {
		lg := log.WithAccount(c.account)
		lg.Warn().Err(err).Msg("disconnect activity failed")
	}
}

// write serialises v as one frame. Write failures are swallowed; the read
// loop observes the dead socket and tears the connection down.
func (c *conn) write(v any) {
	data, err := protocol.EncodeFrame(v)
	if err != nil {
		lg := log.WithAccount(c.account)
		lg.Warn().Err(err).Msg("encode frame failed")
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, _ = c.raw.Write(data)
}
