package frame

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
)

func testStream(t *testing.T, p *profile.Profile) ([]byte, []Token) {
	t.Helper()

	var stream []byte
	var want []Token

	addFrame := func(data []byte, err error) {
		require.NoError(t, err)
		stream = append(stream, data...)
		want = append(want, Token{Kind: TokenFrame, Frame: data})
	}
	addAck := func() {
		stream = append(stream, p.Ack())
		want = append(want, Token{Kind: TokenAck})
	}

	addAck()
	addFrame(ComposeEvent(p, Event{Function: profile.FunctionRelay, Number: 1, State: profile.On}))
	addFrame(ComposeEvent(p, Event{Function: profile.FunctionDimmer, Number: 2, State: profile.Level(10)}))
	addAck()
	// an ack byte inside a frame must not be reported
	addFrame(ComposeEvent(p, Event{Function: profile.FunctionRelay, Number: int(p.Ack()), State: profile.Off}))
	addFrame(ComposeEvent(p, Event{Function: profile.FunctionMotor, Number: 3, State: profile.Up}))
	addAck()

	return stream, want
}

func feedChunks(r *Reassembler, stream []byte, cuts []int) []Token {
	var tokens []Token
	prev := 0
	for _, c := range cuts {
		tokens = append(tokens, r.Feed(stream[prev:c])...)
		prev = c
	}

	return append(tokens, r.Feed(stream[prev:])...)
}

func TestReassembler_Whole(t *testing.T) {
	for _, p := range profiles {
		stream, want := testStream(t, p)
		r := NewReassembler(p, logger.NewMockLogger())

		require.Equal(t, want, r.Feed(stream))
		require.True(t, r.Idle())
	}
}

func TestReassembler_SplitIdempotence(t *testing.T) {
	for _, p := range profiles {
		stream, want := testStream(t, p)

		// every single split point
		for cut := 0; cut <= len(stream); cut++ {
			r := NewReassembler(p, logger.NewMockLogger())
			require.Equal(t, want, feedChunks(r, stream, []int{cut}), "%s cut %d", p, cut)
			require.True(t, r.Idle())
		}

		// byte by byte
		cuts := make([]int, 0, len(stream))
		for i := 1; i < len(stream); i++ {
			cuts = append(cuts, i)
		}
		r := NewReassembler(p, logger.NewMockLogger())
		require.Equal(t, want, feedChunks(r, stream, cuts))

		// random chunkings
		rnd := rand.New(rand.NewSource(42)) //nolint:gosec
		for round := 0; round < 200; round++ {
			var cuts []int
			for pos := rnd.Intn(5); pos < len(stream); pos += 1 + rnd.Intn(9) {
				cuts = append(cuts, pos)
			}
			r := NewReassembler(p, logger.NewMockLogger())
			require.Equal(t, want, feedChunks(r, stream, cuts), "%s round %d cuts %v", p, round, cuts)
		}
	}
}

func TestReassembler_Overflow(t *testing.T) {
	p := profile.MicrosPlus()
	data, err := ComposeEvent(p, Event{Function: profile.FunctionRelay, Number: 5, State: profile.On})
	require.NoError(t, err)

	r := NewReassembler(p, logger.NewMockLogger())

	tokens := r.Feed(data[:3])
	require.Empty(t, tokens)
	require.False(t, r.Idle())
	require.Equal(t, 3, r.Pending())

	tokens = r.Feed(data[3:])
	require.Equal(t, []Token{{Kind: TokenFrame, Frame: data}}, tokens)
	require.True(t, r.Idle())

	// nothing is replayed on the next read
	require.Empty(t, r.Feed(nil))
}

func TestReassembler_StartByteAtChunkEnd(t *testing.T) {
	p := profile.Micros()
	data, err := ComposeSet(p, profile.FunctionRelay, 1, profile.On)
	require.NoError(t, err)

	r := NewReassembler(p, logger.NewMockLogger())
	require.Empty(t, r.Feed(data[:1]))
	require.Equal(t, 1, r.Pending())
	require.Len(t, r.Feed(data[1:]), 1)
}

func TestReassembler_DiscardsGarbage(t *testing.T) {
	p := profile.Micros()
	data, err := ComposeEvent(p, Event{Function: profile.FunctionRelay, Number: 1, State: profile.On})
	require.NoError(t, err)

	l := logger.NewMockLogger()
	l.On("Warn", "discarding bytes outside a frame", mock.Anything).Once()

	r := NewReassembler(p, l)
	stream := append([]byte{0x55, 0x66}, data...)
	stream = append(stream, p.Ack())

	tokens := r.Feed(stream)
	require.Equal(t, []Token{{Kind: TokenFrame, Frame: data}, {Kind: TokenAck}}, tokens)
	require.True(t, tokens[1].IsAck())
	require.Equal(t, uint64(2), r.Discarded())
	l.AssertExpectations(t)
}

func TestReassembler_ZeroLengthIsGarbage(t *testing.T) {
	p := profile.Micros()
	data, err := ComposeEvent(p, Event{Function: profile.FunctionRelay, Number: 1, State: profile.Off})
	require.NoError(t, err)

	r := NewReassembler(p, logger.NewMockLogger().AllowAll())
	tokens := r.Feed(append([]byte{p.Start(), 0x00}, data...))

	// 0x02 with length 0 is dropped, the following 0x00 is dropped too
	require.Equal(t, []Token{{Kind: TokenFrame, Frame: data}}, tokens)
	require.Equal(t, uint64(2), r.Discarded())
}

func TestReassembler_Reset(t *testing.T) {
	p := profile.Micros()
	r := NewReassembler(p, logger.NewMockLogger())
	r.Feed([]byte{p.Start(), 0x04, 0x01})
	require.False(t, r.Idle())

	r.Reset()
	require.True(t, r.Idle())
}
