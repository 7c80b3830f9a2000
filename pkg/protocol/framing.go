package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the largest single frame accepted or produced. A peer
// exceeding it gets the connection closed with ErrFrameTooLarge.
const MaxFrameSize = 4 << 20

// ErrFrameTooLarge is returned when a frame (or an unbounded partial line)
// exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameParser splits an arbitrary byte stream into newline-delimited JSON
// frames. Feed it chunks as they arrive; trailing partial data is retained
// until its terminating newline shows up.
type FrameParser struct {
	buf bytes.Buffer
}

// NewFrameParser returns an empty parser.
func NewFrameParser() *FrameParser {
	return &FrameParser{}
}

// Feed appends chunk to the internal buffer and returns all complete frames
// decoded so far, in order. Empty lines are skipped. A partial line larger
// than MaxFrameSize fails with ErrFrameTooLarge.
func (p *FrameParser) Feed(chunk []byte) ([]json.RawMessage, error) {
	p.buf.Write(chunk)

	var frames []json.RawMessage
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			if p.buf.Len() > MaxFrameSize {
				return frames, ErrFrameTooLarge
			}
			return frames, nil
		}

		line := make([]byte, idx)
		copy(line, data[:idx])
		p.buf.Next(idx + 1)

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > MaxFrameSize {
			return frames, ErrFrameTooLarge
		}
		if !json.Valid(line) {
			return frames, fmt.Errorf("malformed frame: invalid JSON")
		}
		frames = append(frames, json.RawMessage(line))
	}
}

// Pending returns the number of buffered bytes awaiting a newline.
func (p *FrameParser) Pending() int {
	return p.buf.Len()
}

// EncodeFrame serialises v and appends exactly one newline.
func EncodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return append(data, '\n'), nil
}
