// Package client is the bridge-facing side of the hub protocol: it dials
// the daemon socket, authenticates, and correlates requests with replies.
package client

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ylcn91/agentctl/pkg/config"
	"github.com/ylcn91/agentctl/pkg/protocol"
)

const (
	// DefaultTimeout bounds one request round trip.
	DefaultTimeout = 5 * time.Second
	// ReloadTimeout is the tighter bound on config_reload.
	ReloadTimeout = 2 * time.Second
)

// Client is one authenticated connection to the hub. Safe for concurrent
// requests; replies are matched by requestId.
type Client struct {
	account string
	conn    net.Conn

	mu      sync.Mutex
	pending map[string]chan map[string]any
	seq     int

	closeOnce sync.Once
	closedCh  chan struct{}
}

// Dial connects to the hub under baseDir and authenticates as account using
// the token file on disk.
func Dial(baseDir, account string) (*Client, error) {
	token, err := os.ReadFile(config.TokenPath(baseDir, account))
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	conn, err := net.DialTimeout("unix", socketPath(baseDir), DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	c := &Client{
		account:  account,
		conn:     conn,
		pending:  make(map[string]chan map[string]any),
		closedCh: make(chan struct{}),
	}

	if err := c.authenticate(account, strings.TrimRight(string(token), "\n")); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func socketPath(baseDir string) string {
	return baseDir + "/hub.sock"
}

// authenticate performs the handshake synchronously, before the read loop
// starts.
func (c *Client) authenticate(account, token string) error {
	frame, err := protocol.EncodeFrame(map[string]any{
		"type": "auth", "account": account, "token": token,
	})
	if err != nil {
		return err
	}
	if err := c.conn.SetDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	parser := protocol.NewFrameParser()
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("read auth reply: %w", err)
		}
		frames, err := parser.Feed(buf[:n])
		if err != nil {
			return err
		}
		if len(frames) == 0 {
			continue
		}

		var reply map[string]any
		if err := json.Unmarshal(frames[0], &reply); err != nil {
			return fmt.Errorf("parse auth reply: %w", err)
		}
		switch reply["type"] {
		case "auth_ok":
			return c.conn.SetDeadline(time.Time{})
		case "error":
			return fmt.Errorf("%v", reply["error"])
		default:
			return fmt.Errorf("unexpected auth reply: %v", reply["type"])
		}
	}
}

func (c *Client) readLoop() {
	parser := protocol.NewFrameParser()
	buf := make([]byte, 32*1024)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.Close()
			return
		}
		frames, err := parser.Feed(buf[:n])
		if err != nil {
			c.Close()
			return
		}
		for _, frame := range frames {
			var reply map[string]any
			if err := json.Unmarshal(frame, &reply); err != nil {
				continue
			}
			id, _ := reply["requestId"].(string)
			if id == "" {
				continue // uncorrelated server push, nothing waits on it
			}
			c.mu.Lock()
			ch, ok := c.pending[id]
			delete(c.pending, id)
			c.mu.Unlock()
			if ok {
				ch <- reply
			}
		}
	}
}

// Request sends one typed request and waits for its correlated reply. args
// keys are merged into the frame beside type and requestId.
func (c *Client) Request(reqType string, args map[string]any, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	c.seq++
	id := c.account + "-" + strconv.Itoa(c.seq)
	ch := make(chan map[string]any, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	frame := make(map[string]any, len(args)+2)
	for k, v := range args {
		frame[k] = v
	}
	frame["type"] = reqType
	frame["requestId"] = id

	data, err := protocol.EncodeFrame(frame)
	if err != nil {
		c.drop(id)
		return nil, err
	}
	if _, err := c.conn.Write(data); err != nil {
		c.drop(id)
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case reply := <-ch:
		if reply["type"] == "error" {
			return reply, fmt.Errorf("%v", reply["error"])
		}
		return reply, nil
	case <-time.After(timeout):
		c.drop(id)
		return nil, fmt.Errorf("request timed out: %s", reqType)
	case <-c.closedCh:
		return nil, fmt.Errorf("connection closed")
	}
}

func (c *Client) drop(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Ping round-trips a ping frame.
func (c *Client) Ping() error {
	_, err := c.Request("ping", nil, DefaultTimeout)
	return err
}

// ReloadConfig asks the daemon to re-read its config file.
func (c *Client) ReloadConfig() (map[string]any, error) {
	return c.Request("config_reload", nil, ReloadTimeout)
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closedCh)
		c.conn.Close()
	})
}
