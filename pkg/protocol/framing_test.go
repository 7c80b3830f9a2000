package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

// TestFeedSingleFrame parses one complete line.
func TestFeedSingleFrame(t *testing.T) {
	p := NewFrameParser()
	frames, err := p.Feed([]byte(`{"type":"ping"}` + "\n"))
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	var msg map[string]string
	if err := json.Unmarshal(frames[0], &msg); err != nil {
		t.Fatalf("frame not valid JSON: %v", err)
	}
	if msg["type"] != "ping" {
		t.Errorf("type = %q", msg["type"])
	}
}

// TestFeedChunked verifies a frame split across arbitrary chunk boundaries is
// reassembled, and that partial bytes are retained between calls.
func TestFeedChunked(t *testing.T) {
	p := NewFrameParser()

	frames, err := p.Feed([]byte(`{"type":"send_`))
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("premature frames: %d", len(frames))
	}
	if p.Pending() == 0 {
		t.Error("partial bytes not retained")
	}

	frames, err = p.Feed([]byte(`message"}` + "\n" + `{"type":"ping"}` + "\n"))
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if p.Pending() != 0 {
		t.Errorf("Pending() = %d after complete frames", p.Pending())
	}
}

// TestFeedSkipsEmptyLines verifies blank lines between frames are ignored.
func TestFeedSkipsEmptyLines(t *testing.T) {
	p := NewFrameParser()
	frames, err := p.Feed([]byte("\n\n{\"type\":\"ping\"}\n\r\n"))
	if err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
}

// TestFeedMalformedJSON verifies an invalid line is an error.
func TestFeedMalformedJSON(t *testing.T) {
	p := NewFrameParser()
	if _, err := p.Feed([]byte("{not json\n")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

// TestFeedOversizedPartial verifies an unbounded partial line fails before a
// newline ever arrives.
func TestFeedOversizedPartial(t *testing.T) {
	p := NewFrameParser()
	chunk := bytes.Repeat([]byte("a"), MaxFrameSize+1)
	if _, err := p.Feed(chunk); err != ErrFrameTooLarge {
		t.Fatalf("Feed() error = %v, want ErrFrameTooLarge", err)
	}
}

// TestEncodeFrame verifies exactly one trailing newline.
func TestEncodeFrame(t *testing.T) {
	data, err := EncodeFrame(map[string]string{"type": "pong"})
	if err != nil {
		t.Fatalf("EncodeFrame() error: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("missing trailing newline")
	}
	if bytes.Count(data, []byte("\n")) != 1 {
		t.Error("more than one newline")
	}
}

// TestParseRequestKeepsArgs verifies the full frame survives as Args.
func TestParseRequestKeepsArgs(t *testing.T) {
	raw := json.RawMessage(`{"type":"send_message","requestId":"r1","to":"bob","content":"hi"}`)
	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest() error: %v", err)
	}
	if req.Type != "send_message" || req.RequestID != "r1" {
		t.Errorf("envelope = %+v", req)
	}

	var args struct {
		To      string `json:"to"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(req.Args, &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if args.To != "bob" || args.Content != "hi" {
		t.Errorf("args = %+v", args)
	}
}

// TestResultMergesPayload verifies payload keys land beside type/requestId.
func TestResultMergesPayload(t *testing.T) {
	out := Result("r7", map[string]any{"delivered": true})
	if out["type"] != "result" || out["requestId"] != "r7" || out["delivered"] != true {
		t.Errorf("Result() = %v", out)
	}

	noID := Result("", map[string]any{"ok": 1})
	if _, present := noID["requestId"]; present {
		t.Error("requestId should be omitted when empty")
	}
}
