package daemon

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ylcn91/agentctl/pkg/config"
	"github.com/ylcn91/agentctl/pkg/protocol"
)

const testToken = "0123456789abcdef"

// newTestServer boots a full daemon on a temp dir and serves it on a real
// socket. rawConfig, when non-empty, is written as config.json first.
func newTestServer(t *testing.T, rawConfig string) (*Server, string) {
	t.Helper()
	base := t.TempDir()

	if rawConfig != "" {
		if err := os.WriteFile(config.Path(base), []byte(rawConfig), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	d, err := New(base)
	if err != nil {
		t.Fatal(err)
	}
	for _, account := range []string{"alice", "bob"} {
		path := config.TokenPath(base, account)
		if err := os.WriteFile(path, []byte(testToken+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	s, err := NewServer(d)
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve()
	t.Cleanup(func() {
		s.Shutdown()
		d.Close()
	})
	return s, base
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialHub(t *testing.T, base string) *testClient {
	t.Helper()
	conn, err := net.Dial("unix", SocketPath(base))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(frame map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		c.t.Fatal(err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		c.t.Fatal(err)
	}
}

func (c *testClient) recv() map[string]any {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		c.t.Fatalf("read reply: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(line, &frame); err != nil {
		c.t.Fatalf("decode reply %q: %v", line, err)
	}
	return frame
}

// authClient dials and completes the handshake for an account.
func authClient(t *testing.T, base, account string) *testClient {
	t.Helper()
	c := dialHub(t, base)
	c.send(map[string]any{"type": "auth", "account": account, "token": testToken})
	if reply := c.recv(); reply["type"] != "auth_ok" {
		t.Fatalf("handshake reply = %v", reply)
	}
	return c
}

// TestAuthRejectsBadToken closes the connection after a failed handshake.
func TestAuthRejectsBadToken(t *testing.T) {
	_, base := newTestServer(t, "")
	c := dialHub(t, base)

	c.send(map[string]any{"type": "auth", "account": "alice", "token": "wrong"})
	if reply := c.recv(); reply["error"] != "Authentication failed" {
		t.Errorf("reply = %v", reply)
	}
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.r.ReadBytes('\n'); err == nil {
		t.Error("connection survived a failed handshake")
	}
}

// TestAuthRequiredBeforeRequests rejects non-auth, non-ping first frames.
func TestAuthRequiredBeforeRequests(t *testing.T) {
	_, base := newTestServer(t, "")
	c := dialHub(t, base)

	c.send(map[string]any{"type": "send_message", "to": "bob", "content": "hi"})
	if reply := c.recv(); reply["error"] != "Authentication required" {
		t.Errorf("reply = %v", reply)
	}
}

// TestPreAuthPing answers ping on an unauthenticated socket and keeps it
// open for a later handshake.
func TestPreAuthPing(t *testing.T) {
	_, base := newTestServer(t, "")
	c := dialHub(t, base)

	c.send(map[string]any{"type": "ping", "requestId": "p1"})
	reply := c.recv()
	if reply["type"] != "pong" || reply["requestId"] != "p1" {
		t.Errorf("reply = %v", reply)
	}

	c.send(map[string]any{"type": "auth", "account": "alice", "token": testToken})
	if reply := c.recv(); reply["type"] != "auth_ok" {
		t.Errorf("handshake after ping = %v", reply)
	}
}

// TestSendMessageOfflineQueues reports delivered=false for a disconnected
// recipient while still queueing, and delivered=true once the recipient has
// an authenticated connection.
func TestSendMessageOfflineQueues(t *testing.T) {
	_, base := newTestServer(t, "")
	alice := authClient(t, base, "alice")

	alice.send(map[string]any{"type": "send_message", "requestId": "m1", "to": "bob", "content": "ready?"})
	reply := alice.recv()
	if reply["type"] != "result" || reply["requestId"] != "m1" {
		t.Fatalf("reply = %v", reply)
	}
	if reply["delivered"] != false || reply["queued"] != true {
		t.Errorf("offline recipient: %v", reply)
	}

	bob := authClient(t, base, "bob")
	alice.send(map[string]any{"type": "send_message", "requestId": "m2", "to": "bob", "content": "now?"})
	if reply := alice.recv(); reply["delivered"] != true {
		t.Errorf("online recipient: %v", reply)
	}

	bob.send(map[string]any{"type": "count_unread", "requestId": "c1"})
	if reply := bob.recv(); reply["count"] != float64(2) {
		t.Errorf("unread count = %v", reply["count"])
	}
}

// TestUnknownTypeKeepsConnection answers bogus types with "Invalid message"
// and leaves the connection usable.
func TestUnknownTypeKeepsConnection(t *testing.T) {
	_, base := newTestServer(t, "")
	c := authClient(t, base, "alice")

	c.send(map[string]any{"type": "definitely_not_a_request", "requestId": "x1"})
	reply := c.recv()
	if reply["error"] != "Invalid message" || reply["requestId"] != "x1" {
		t.Errorf("reply = %v", reply)
	}

	c.send(map[string]any{"type": "ping", "requestId": "x2"})
	if reply := c.recv(); reply["type"] != "pong" {
		t.Errorf("ping after bogus type = %v", reply)
	}
}

// TestShareSessionSelfPairing surfaces the pairing guard verbatim.
func TestShareSessionSelfPairing(t *testing.T) {
	_, base := newTestServer(t, `{"schemaVersion": 3, "features": {"sessions": true}}`)
	c := authClient(t, base, "alice")

	c.send(map[string]any{"type": "share_session", "requestId": "s1", "target": "alice"})
	if reply := c.recv(); reply["error"] != "Cannot create session with yourself" {
		t.Errorf("reply = %v", reply)
	}
}

// TestFeatureGate rejects gated handlers when the flag is off.
func TestFeatureGate(t *testing.T) {
	_, base := newTestServer(t, "")
	c := authClient(t, base, "alice")

	c.send(map[string]any{"type": "share_session", "requestId": "g1", "target": "bob"})
	if reply := c.recv(); reply["error"] != "Sessions not enabled" {
		t.Errorf("sessions gate: %v", reply)
	}

	c.send(map[string]any{"type": "search_knowledge", "requestId": "g2", "query": "cache"})
	if reply := c.recv(); reply["error"] != "Knowledge index not enabled" {
		t.Errorf("knowledge gate: %v", reply)
	}
}

// TestHealthStatusReportsConnections exercises an end-to-end result frame.
func TestHealthStatusReportsConnections(t *testing.T) {
	_, base := newTestServer(t, "")
	c := authClient(t, base, "alice")

	c.send(map[string]any{"type": "health_status", "requestId": "h1"})
	reply := c.recv()
	if reply["type"] != "result" || reply["requestId"] != "h1" {
		t.Fatalf("reply = %v", reply)
	}
	if reply["healthy"] != true {
		t.Errorf("healthy = %v", reply["healthy"])
	}
	accounts, _ := reply["connectedAccounts"].([]any)
	if len(accounts) != 1 || accounts[0] != "alice" {
		t.Errorf("connectedAccounts = %v", reply["connectedAccounts"])
	}
}

// TestSecondConnectionEvictsFirst keeps one live connection per account.
func TestSecondConnectionEvictsFirst(t *testing.T) {
	s, base := newTestServer(t, "")
	first := authClient(t, base, "alice")
	authClient(t, base, "alice")

	first.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := first.r.ReadBytes('\n'); err == nil {
		t.Error("first connection survived re-auth")
	}
	if !s.IsConnected("alice") {
		t.Error("alice not connected after re-auth")
	}
}

// TestHandlersMatchKnownTypes keeps the routing table and the advertised
// type set in lockstep.
func TestHandlersMatchKnownTypes(t *testing.T) {
	for name := range handlers {
		if !protocol.KnownTypes[name] {
			t.Errorf("handler %q missing from KnownTypes", name)
		}
	}
	for name := range protocol.KnownTypes {
		if name == "ping" {
			continue
		}
		if _, ok := handlers[name]; !ok {
			t.Errorf("known type %q has no handler", name)
		}
	}
}

// TestSocketPathShape pins the on-disk layout clients dial.
func TestSocketPathShape(t *testing.T) {
	if got := SocketPath("/tmp/hub"); got != filepath.Join("/tmp/hub", "hub.sock") {
		t.Errorf("SocketPath = %s", got)
	}
}
