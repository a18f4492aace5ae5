package frame

import (
	"fmt"

	"github.com/arloliu/go-tds/profile"
)

// Decode parses one complete frame.
//
// The checksum is verified before anything else, so a corrupted frame always
// reports ErrChecksumMismatch. Unknown command, function or state codes are
// reported with profile.ErrDecode. All decode errors match profile.ErrDecode.
func Decode(p *profile.Profile, data []byte) (*Message, error) {
	if len(data) < MinFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes is shorter than %d", ErrMalformed, len(data), MinFrameSize)
	}

	last := len(data) - 1
	if want := p.Checksum(data[:last]); data[last] != want {
		return nil, fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrChecksumMismatch, data[last], want)
	}

	if data[0] != p.Start() {
		return nil, fmt.Errorf("%w: start byte 0x%02X", ErrMalformed, data[0])
	}

	if WireSize(data[1]) != len(data) {
		return nil, fmt.Errorf("%w: length byte %d does not match %d frame bytes", ErrMalformed, data[1], len(data))
	}

	cmd, err := p.CommandFor(data[2])
	if err != nil {
		return nil, err
	}

	spec, err := p.CommandSpec(cmd)
	if err != nil {
		return nil, err
	}

	msg := &Message{Command: cmd}
	params := data[headerSize:last]

	// the state byte is resolved last, its meaning depends on the function
	var stateCode byte
	var hasState bool

	for _, param := range spec.Params {
		switch param {
		case profile.ParamCentralUnit:
			if len(params) < 1 {
				return nil, missing(param)
			}
			msg.CentralUnit = params[0]
			params = params[1:]

		case profile.ParamFunction:
			if len(params) < 1 {
				return nil, missing(param)
			}
			if msg.Function, err = p.FunctionFor(params[0]); err != nil {
				return nil, err
			}
			params = params[1:]

		case profile.ParamNumber:
			width := p.NumberWidth()
			if len(params) < width {
				return nil, missing(param)
			}
			msg.Numbers = []int{readNumber(params[:width])}
			params = params[width:]

		case profile.ParamNumbers:
			width := p.NumberWidth()
			if len(params) == 0 || len(params)%width != 0 {
				return nil, fmt.Errorf("%w: %d bytes do not form a number list", ErrMalformed, len(params))
			}
			for len(params) > 0 {
				msg.Numbers = append(msg.Numbers, readNumber(params[:width]))
				params = params[width:]
			}

		case profile.ParamState:
			if len(params) < 1 {
				return nil, missing(param)
			}
			// state values are unsigned bytes on the wire; 0xFF is 255, never -1
			stateCode, hasState = params[0], true
			params = params[1:]

		case profile.ParamLogState:
			if len(params) < 1 {
				return nil, missing(param)
			}
			if msg.LogOn, err = p.LogStateFor(params[0]); err != nil {
				return nil, err
			}
			params = params[1:]

		case profile.ParamErrorState:
			if len(params) < 1 {
				return nil, missing(param)
			}
			msg.ErrorState = params[0]
			params = params[1:]
		}
	}

	if len(params) != 0 {
		return nil, fmt.Errorf("%w: %d trailing parameter bytes in %s", ErrMalformed, len(params), cmd)
	}

	if hasState {
		if msg.State, err = p.StateFor(msg.Function, stateCode); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

// DecodeEvent parses an EVENT frame.
func DecodeEvent(p *profile.Profile, data []byte) (Event, error) {
	msg, err := Decode(p, data)
	if err != nil {
		return Event{}, err
	}

	ev, ok := msg.Event()
	if !ok {
		return Event{}, fmt.Errorf("%w: got %s", ErrNotEvent, msg.Command)
	}

	return ev, nil
}

func missing(param profile.Param) error {
	return fmt.Errorf("%w: missing %s parameter", ErrMalformed, param)
}

func readNumber(b []byte) int {
	n := 0
	for _, v := range b {
		n = n<<8 | int(v)
	}

	return n
}
