// Package frame implements the central unit wire frame codec and the stream
// reassembler that turns arbitrary socket reads into complete frames.
//
// A frame on the wire is:
//
//	[START][LENGTH][COMMAND]{params...}[CHECKSUM]
//
// LENGTH counts the command byte and the parameter bytes, so the full frame is
// LENGTH+3 bytes long. CHECKSUM covers every byte before it. A standalone
// acknowledge byte outside a frame confirms a fire-and-forget command.
package frame

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-tds/profile"
)

const (
	// headerSize is START, LENGTH and COMMAND.
	headerSize = 3

	// MinFrameSize is the size of a frame without parameters.
	MinFrameSize = headerSize + 1

	// MaxFrameSize is the size of a frame with the largest LENGTH value.
	MaxFrameSize = 0xFF + 3
)

var (
	// ErrChecksumMismatch indicates the checksum byte does not match the frame content.
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", profile.ErrDecode)

	// ErrMalformed indicates a frame whose structure does not fit the profile.
	ErrMalformed = fmt.Errorf("%w: malformed frame", profile.ErrDecode)

	// ErrNotEvent is returned by DecodeEvent for frames that are not EVENT frames.
	ErrNotEvent = errors.New("tds: not an event frame")
)

// WireSize returns the full frame size announced by a LENGTH byte.
func WireSize(length byte) int {
	return int(length) + 3
}

// Message is the typed content of one frame.
//
// Only the fields named by the command's parameter layout are meaningful.
// Numbers holds a single output number for SET, GET and EVENT, and the number
// list of a GROUP_GET.
type Message struct {
	Command     profile.Command
	CentralUnit byte
	Function    profile.Function
	Numbers     []int
	State       profile.State
	LogOn       bool
	ErrorState  byte
}

// Number returns the first output number, or 0 when the message carries none.
func (m *Message) Number() int {
	if len(m.Numbers) == 0 {
		return 0
	}

	return m.Numbers[0]
}

func (m *Message) String() string {
	switch m.Command {
	case profile.CommandLog:
		return fmt.Sprintf("%s %s on=%t", m.Command, m.Function, m.LogOn)
	case profile.CommandKeepAlive, profile.CommandAcknowledge:
		return m.Command.String()
	case profile.CommandGroupGet:
		return fmt.Sprintf("%s %s %v", m.Command, m.Function, m.Numbers)
	case profile.CommandGet:
		return fmt.Sprintf("%s %s %d", m.Command, m.Function, m.Number())
	default:
		return fmt.Sprintf("%s %s %d %s", m.Command, m.Function, m.Number(), m.State)
	}
}

// Event is a decoded EVENT frame: an observed state of one output.
type Event struct {
	Function   profile.Function
	Number     int
	State      profile.State
	ErrorState byte
}

func (e Event) String() string {
	return fmt.Sprintf("%s %d %s", e.Function, e.Number, e.State)
}

// Event returns the message as an Event when it is an EVENT frame.
func (m *Message) Event() (Event, bool) {
	if m.Command != profile.CommandEvent {
		return Event{}, false
	}

	return Event{Function: m.Function, Number: m.Number(), State: m.State, ErrorState: m.ErrorState}, true
}
