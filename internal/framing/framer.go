// Package framing reconstructs discrete text lines from a chunked byte
// stream. Chunks may be empty, may split UTF-8 sequences at arbitrary
// byte boundaries, and may carry any number of line terminators
// (including none). The framer carries undecoded tail bytes between
// chunks so no byte is lost or corrupted.
package framing

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// DefaultMaxPending caps how many bytes a single unterminated line may
// accumulate before the framer discards them and resynchronizes at the
// next terminator.
const DefaultMaxPending = 64 * 1024

const terminator = '\n'

// Framer is a single-stream line decoder. Not safe for concurrent use;
// one Framer belongs to exactly one connection and is replaced on
// reconnect.
type Framer struct {
	maxPending int

	tail    []byte // incomplete trailing UTF-8 sequence from the last chunk
	pending strings.Builder
	resync  bool // dropping until the next terminator

	dropped uint64
}

// New returns a Framer with the default pending-line cap.
func New() *Framer {
	return NewWithLimit(DefaultMaxPending)
}

// NewWithLimit returns a Framer that discards an unterminated line once
// it exceeds maxPending bytes. maxPending <= 0 means unbounded.
func NewWithLimit(maxPending int) *Framer {
	return &Framer{maxPending: maxPending}
}

// Feed consumes one chunk and returns every line it completed, trimmed,
// in order. Empty-after-trim segments are never returned.
func (f *Framer) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	buf := chunk
	if len(f.tail) > 0 {
		buf = append(f.tail, chunk...)
		f.tail = nil
	}

	// Hold back an incomplete rune at the end so a multi-byte character
	// split across chunks decodes on the next Feed.
	keep := trailingPartialRune(buf)
	if keep > 0 {
		f.tail = append([]byte(nil), buf[len(buf)-keep:]...)
		buf = buf[:len(buf)-keep]
	}

	var lines []string
	for len(buf) > 0 {
		idx := bytes.IndexByte(buf, terminator)
		if idx < 0 {
			f.accumulate(buf)
			break
		}
		f.accumulate(buf[:idx])
		if line, ok := f.take(); ok {
			lines = append(lines, line)
		}
		buf = buf[idx+1:]
	}
	return lines
}

// Flush returns the trailing unterminated line, if any, for stream end.
// Tail bytes that never decoded to a complete rune are dropped.
func (f *Framer) Flush() (string, bool) {
	f.tail = nil
	return f.take()
}

// Dropped reports how many bytes the cap has discarded so far.
func (f *Framer) Dropped() uint64 {
	return f.dropped
}

func (f *Framer) accumulate(b []byte) {
	if len(b) == 0 {
		return
	}
	if f.resync {
		f.dropped += uint64(len(b))
		return
	}
	if f.maxPending > 0 && f.pending.Len()+len(b) > f.maxPending {
		f.dropped += uint64(f.pending.Len() + len(b))
		f.pending.Reset()
		f.resync = true
		return
	}
	f.pending.Write(b)
}

func (f *Framer) take() (string, bool) {
	if f.resync {
		f.resync = false
		return "", false
	}
	line := strings.TrimSpace(f.pending.String())
	f.pending.Reset()
	if line == "" {
		return "", false
	}
	return line, true
}

// trailingPartialRune returns how many bytes at the end of b form the
// start of a UTF-8 sequence whose continuation has not arrived yet.
func trailingPartialRune(b []byte) int {
	n := len(b)
	for i := 1; i <= utf8.UTFMax && i <= n; i++ {
		c := b[n-i]
		if c < utf8.RuneSelf {
			return 0
		}
		if c&0xC0 == 0xC0 { // leading byte
			if i < runeLen(c) {
				return i
			}
			return 0
		}
	}
	return 0
}

func runeLen(lead byte) int {
	switch {
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
