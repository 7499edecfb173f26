package rfcomm

import (
	"bytes"
	"strings"
)

// FrameDecoder turns a byte stream into newline-terminated text lines.
//
// Bytes are buffered until a '\n' arrives. Each completed line has invalid
// UTF-8 removed and surrounding whitespace trimmed; empty results are
// discarded. Splitting happens on the raw byte before any text decoding,
// so the output does not depend on how the stream was chunked, even when
// a multi-byte character straddles two reads.
//
// There is no line length cap. A FrameDecoder is not safe for concurrent
// use; each Session owns its own.
type FrameDecoder struct {
	buf []byte
}

// NewFrameDecoder returns an empty decoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed appends chunk and returns every line it completes, in order.
func (d *FrameDecoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(strings.ToValidUTF8(string(d.buf[start:start+i]), ""))
		start += i + 1
		if line != "" {
			lines = append(lines, line)
		}
	}

	if start > 0 {
		// Keep only the unterminated tail.
		n := copy(d.buf, d.buf[start:])
		d.buf = d.buf[:n]
	}

	return lines
}

// Pending returns a copy of the bytes received since the last newline.
func (d *FrameDecoder) Pending() []byte {
	return bytes.Clone(d.buf)
}

// Reset discards any buffered bytes.
func (d *FrameDecoder) Reset() {
	d.buf = d.buf[:0]
}

// NormalizeCommand returns cmd terminated by exactly one added newline:
// "\n" is appended only when cmd does not already end with one.
func NormalizeCommand(cmd string) string {
	if strings.HasSuffix(cmd, "\n") {
		return cmd
	}
	return cmd + "\n"
}
