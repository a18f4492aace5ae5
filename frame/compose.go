package frame

import (
	"fmt"

	"github.com/arloliu/go-tds/profile"
)

// Compose encodes msg into a checksummed frame following p's parameter layout.
//
// ParamCentralUnit takes msg.CentralUnit, or the profile default when it is zero.
func Compose(p *profile.Profile, msg *Message) ([]byte, error) {
	spec, err := p.CommandSpec(msg.Command)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize, MaxFrameSize)
	buf[0] = p.Start()
	buf[2] = spec.Code

	for _, param := range spec.Params {
		buf, err = appendParam(buf, p, param, msg)
		if err != nil {
			return nil, fmt.Errorf("compose %s: %w", msg.Command, err)
		}
	}

	length := len(buf) - 2
	if length > 0xFF {
		return nil, fmt.Errorf("%w: compose %s: frame length %d exceeds 255", profile.ErrEncode, msg.Command, length)
	}
	buf[1] = byte(length)

	return append(buf, p.Checksum(buf)), nil
}

func appendParam(buf []byte, p *profile.Profile, param profile.Param, msg *Message) ([]byte, error) {
	switch param {
	case profile.ParamCentralUnit:
		cu := msg.CentralUnit
		if cu == 0 {
			cu = p.CentralUnit()
		}

		return append(buf, cu), nil

	case profile.ParamFunction:
		code, err := p.FunctionCode(msg.Function)
		if err != nil {
			return nil, err
		}

		return append(buf, code), nil

	case profile.ParamNumber:
		if len(msg.Numbers) != 1 {
			return nil, fmt.Errorf("%w: expected one output number, got %d", profile.ErrEncode, len(msg.Numbers))
		}

		return appendNumber(buf, p, msg.Numbers[0])

	case profile.ParamNumbers:
		if len(msg.Numbers) == 0 {
			return nil, fmt.Errorf("%w: empty output number list", profile.ErrEncode)
		}

		var err error
		for _, n := range msg.Numbers {
			if buf, err = appendNumber(buf, p, n); err != nil {
				return nil, err
			}
		}

		return buf, nil

	case profile.ParamState:
		code, err := p.StateCode(msg.Function, msg.State)
		if err != nil {
			return nil, err
		}

		return append(buf, code), nil

	case profile.ParamLogState:
		return append(buf, p.LogState(msg.LogOn)), nil

	case profile.ParamErrorState:
		return append(buf, msg.ErrorState), nil

	default:
		return nil, fmt.Errorf("%w: unknown parameter %s", profile.ErrEncode, param)
	}
}

// appendNumber writes n big-endian in the profile's number width.
func appendNumber(buf []byte, p *profile.Profile, n int) ([]byte, error) {
	if n < 0 || n > p.MaxNumber() {
		return nil, fmt.Errorf("%w: output number %d out of range 0-%d", profile.ErrEncode, n, p.MaxNumber())
	}

	for shift := 8 * (p.NumberWidth() - 1); shift >= 0; shift -= 8 {
		buf = append(buf, byte(n>>shift))
	}

	return buf, nil
}

// ComposeSet encodes a SET of one output.
func ComposeSet(p *profile.Profile, fn profile.Function, number int, state profile.State) ([]byte, error) {
	return Compose(p, &Message{Command: profile.CommandSet, Function: fn, Numbers: []int{number}, State: state})
}

// ComposeGet encodes a GET of one output.
func ComposeGet(p *profile.Profile, fn profile.Function, number int) ([]byte, error) {
	return Compose(p, &Message{Command: profile.CommandGet, Function: fn, Numbers: []int{number}})
}

// ComposeGroupGet encodes a GROUP_GET of several outputs of one function.
func ComposeGroupGet(p *profile.Profile, fn profile.Function, numbers ...int) ([]byte, error) {
	return Compose(p, &Message{Command: profile.CommandGroupGet, Function: fn, Numbers: numbers})
}

// ComposeLog encodes a LOG subscription toggle for fn.
func ComposeLog(p *profile.Profile, fn profile.Function, on bool) ([]byte, error) {
	return Compose(p, &Message{Command: profile.CommandLog, Function: fn, LogOn: on})
}

// ComposeKeepAlive encodes a KEEP_ALIVE frame.
func ComposeKeepAlive(p *profile.Profile) ([]byte, error) {
	return Compose(p, &Message{Command: profile.CommandKeepAlive})
}

// ComposeEvent encodes an EVENT frame as the central unit would send it.
func ComposeEvent(p *profile.Profile, ev Event) ([]byte, error) {
	return Compose(p, &Message{
		Command:    profile.CommandEvent,
		Function:   ev.Function,
		Numbers:    []int{ev.Number},
		State:      ev.State,
		ErrorState: ev.ErrorState,
	})
}
