package frame

import (
	"fmt"

	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
)

// TokenKind tells a frame token from an acknowledge token.
type TokenKind uint8

const (
	// TokenFrame carries one complete, not yet validated, frame.
	TokenFrame TokenKind = iota + 1
	// TokenAck is a standalone acknowledge byte.
	TokenAck
)

// Token is one unit extracted from the byte stream.
type Token struct {
	Kind  TokenKind
	Frame []byte
}

// IsAck reports whether the token is a standalone acknowledge byte.
func (t Token) IsAck() bool { return t.Kind == TokenAck }

// Reassembler turns arbitrarily split stream reads into frames and acknowledge bytes.
//
// Bytes that start a frame but do not yet complete it are kept as overflow and
// prepended to the next chunk. Bytes outside a frame that are neither the start
// byte nor the acknowledge byte are logged and discarded.
//
// A Reassembler is not safe for concurrent use; the engine worker owns it.
type Reassembler struct {
	start     byte
	ack       byte
	overflow  []byte
	discarded uint64
	logger    logger.Logger
}

// NewReassembler creates a reassembler for p's start and acknowledge bytes.
func NewReassembler(p *profile.Profile, l logger.Logger) *Reassembler {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Reassembler{
		start:    p.Start(),
		ack:      p.Ack(),
		overflow: make([]byte, 0, MaxFrameSize),
		logger:   l,
	}
}

// Feed scans the previous overflow followed by chunk and returns every complete
// token found, in stream order. Returned frame slices are owned by the caller.
func (r *Reassembler) Feed(chunk []byte) []Token {
	buf := chunk
	if len(r.overflow) > 0 {
		buf = append(r.overflow, chunk...)
	}

	var tokens []Token
	var garbage []byte

	i := 0
	for i < len(buf) {
		switch b := buf[i]; {
		case b == r.start:
			if i+1 >= len(buf) {
				r.keep(buf[i:])
				r.report(garbage)

				return tokens
			}

			length := buf[i+1]
			if length < 1 {
				// a frame always carries a command byte
				garbage = append(garbage, b)
				i++

				continue
			}

			size := WireSize(length)
			if len(buf)-i < size {
				r.keep(buf[i:])
				r.report(garbage)

				return tokens
			}

			f := make([]byte, size)
			copy(f, buf[i:i+size])
			tokens = append(tokens, Token{Kind: TokenFrame, Frame: f})
			i += size

		case b == r.ack:
			tokens = append(tokens, Token{Kind: TokenAck})
			i++

		default:
			garbage = append(garbage, b)
			i++
		}
	}

	r.overflow = r.overflow[:0]
	r.report(garbage)

	return tokens
}

// keep stores the unfinished tail as the new overflow. The tail may alias the
// overflow buffer itself, so it is copied through a fresh slice.
func (r *Reassembler) keep(tail []byte) {
	next := make([]byte, len(tail), max(len(tail), MaxFrameSize))
	copy(next, tail)
	r.overflow = next
}

func (r *Reassembler) report(garbage []byte) {
	if len(garbage) == 0 {
		return
	}

	r.discarded += uint64(len(garbage))
	r.logger.Warn("discarding bytes outside a frame", "count", len(garbage), "bytes", fmt.Sprintf("% X", garbage))
}

// Idle reports whether every byte fed so far has been consumed, with no partial frame pending.
func (r *Reassembler) Idle() bool {
	return len(r.overflow) == 0
}

// Pending returns the number of overflow bytes waiting for the rest of a frame.
func (r *Reassembler) Pending() int {
	return len(r.overflow)
}

// Discarded returns the total number of bytes dropped as garbage.
func (r *Reassembler) Discarded() uint64 {
	return r.discarded
}

// Reset drops the overflow.
func (r *Reassembler) Reset() {
	r.overflow = r.overflow[:0]
}
