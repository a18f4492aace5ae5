package profile

import "fmt"

// Command is a protocol command independent of its numeric code.
type Command uint8

const (
	CommandSet Command = iota + 1
	CommandGet
	CommandGroupGet
	CommandLog
	CommandEvent
	CommandKeepAlive
	CommandAcknowledge
)

func (c Command) String() string {
	switch c {
	case CommandSet:
		return "SET"
	case CommandGet:
		return "GET"
	case CommandGroupGet:
		return "GROUP_GET"
	case CommandLog:
		return "LOG"
	case CommandEvent:
		return "EVENT"
	case CommandKeepAlive:
		return "KEEP_ALIVE"
	case CommandAcknowledge:
		return "ACKNOWLEDGE"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// Param names one parameter slot of a command.
type Param uint8

const (
	// ParamCentralUnit is the central unit index byte (MicrosPlus only).
	ParamCentralUnit Param = iota + 1
	// ParamFunction is the function code byte.
	ParamFunction
	// ParamNumber is a single output number, NumberWidth bytes wide.
	ParamNumber
	// ParamNumbers is a variable list of output numbers filling the rest of the frame.
	ParamNumbers
	// ParamState is the state byte, resolved through the (Function, State) table.
	ParamState
	// ParamLogState is the on/off byte of a LOG subscription.
	ParamLogState
	// ParamErrorState is the error state byte reported in MicrosPlus events.
	ParamErrorState
)

func (p Param) String() string {
	switch p {
	case ParamCentralUnit:
		return "central-unit"
	case ParamFunction:
		return "function"
	case ParamNumber:
		return "number"
	case ParamNumbers:
		return "numbers"
	case ParamState:
		return "state"
	case ParamLogState:
		return "log-state"
	case ParamErrorState:
		return "error-state"
	default:
		return fmt.Sprintf("Param(%d)", uint8(p))
	}
}

// CommandSpec is the wire description of one command in a profile.
type CommandSpec struct {
	Code   byte
	Params []Param
}

// HasParam reports whether the command layout contains p.
func (s CommandSpec) HasParam(p Param) bool {
	for _, v := range s.Params {
		if v == p {
			return true
		}
	}

	return false
}
