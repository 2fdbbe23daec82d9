package client

import (
	"log/slog"
	"strings"
)

// maxFrameBytes bounds the accumulation buffer. A run-on frame past this
// limit is discarded wholesale and accumulation restarts, so a noisy link
// cannot grow memory without bound.
const maxFrameBytes = 4000

// LineFramer converts a raw byte stream into complete, whitespace-trimmed
// text lines. It holds a single growable buffer between pushes; empty lines
// are never produced.
type LineFramer struct {
	buf []byte
}

func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Push feeds raw bytes and returns the complete lines they terminate, in
// order. Partial trailing data stays buffered for the next push.
func (f *LineFramer) Push(data []byte) []string {
	var lines []string
	for _, b := range data {
		if b == '\n' {
			line := strings.TrimSpace(string(f.buf))
			f.buf = f.buf[:0]
			if line != "" {
				lines = append(lines, line)
			}
			continue
		}
		f.buf = append(f.buf, b)
		if len(f.buf) > maxFrameBytes {
			slog.Warn("Frame overflow, discarding buffer", "size", len(f.buf))
			f.buf = f.buf[:0]
		}
	}
	return lines
}

// Reset drops any partial frame. Called when a connection is torn down so a
// new link starts from a clean accumulator.
func (f *LineFramer) Reset() {
	f.buf = f.buf[:0]
}
