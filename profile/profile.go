package profile

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// CentralUnitMicros names the older protocol generation.
	CentralUnitMicros = "MICROS"
	// CentralUnitMicrosPlus names the newer protocol generation.
	CentralUnitMicrosPlus = "MICROS_PLUS"
)

// ChecksumFunc computes the checksum byte over a frame without its checksum.
type ChecksumFunc func(b []byte) byte

// KeepAlive describes the liveness request a profile needs at a fixed interval.
//
// When Command is CommandLog the request is a LOG subscription (ON) for Function,
// otherwise it is a parameterless Command.
type KeepAlive struct {
	Interval time.Duration
	Command  Command
	Function Function
}

// Profile is the immutable description of one wire-format generation.
// Use Micros, MicrosPlus or ForCentralUnit to obtain one.
type Profile struct {
	name        string
	start       byte
	ack         byte
	centralUnit byte
	numberWidth int
	logOn       byte
	logOff      byte
	checksum    ChecksumFunc
	keepAlive   KeepAlive

	commands      map[Command]CommandSpec
	commandByCode map[byte]Command

	functions      map[Function]byte
	functionByCode map[byte]Function

	states map[Function]*stateTable
}

type profileDef struct {
	name        string
	centralUnit byte
	numberWidth int
	logOn       byte
	logOff      byte
	keepAlive   KeepAlive
	commands    map[Command]CommandSpec
	functions   map[Function]byte
	states      map[Function]*stateTable
}

const (
	startByte = 0x02
	ackByte   = 0x0A
)

func newProfile(def profileDef) *Profile {
	p := &Profile{
		name:           def.name,
		start:          startByte,
		ack:            ackByte,
		centralUnit:    def.centralUnit,
		numberWidth:    def.numberWidth,
		logOn:          def.logOn,
		logOff:         def.logOff,
		checksum:       SumChecksum,
		keepAlive:      def.keepAlive,
		commands:       def.commands,
		commandByCode:  make(map[byte]Command, len(def.commands)),
		functions:      def.functions,
		functionByCode: make(map[byte]Function, len(def.functions)),
		states:         def.states,
	}

	for cmd, spec := range def.commands {
		p.commandByCode[spec.Code] = cmd
	}
	for fn, code := range def.functions {
		p.functionByCode[code] = fn
	}

	return p
}

// SumChecksum is the 8-bit modular sum of all bytes.
func SumChecksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}

	return sum
}

var (
	micros     = newProfile(microsDef())
	microsPlus = newProfile(microsPlusDef())
)

// Micros returns the profile of the older central unit generation.
func Micros() *Profile { return micros }

// MicrosPlus returns the profile of the newer central unit generation.
func MicrosPlus() *Profile { return microsPlus }

// ForCentralUnit selects a profile by central unit type name.
// Names are case-insensitive; "MICROS+" is accepted as an alias of MICROS_PLUS.
func ForCentralUnit(name string) (*Profile, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case CentralUnitMicros:
		return micros, nil
	case CentralUnitMicrosPlus, "MICROS+", "MICROSPLUS":
		return microsPlus, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCentralUnit, name)
	}
}

// Name returns the central unit type name of the profile.
func (p *Profile) Name() string { return p.name }

func (p *Profile) String() string { return p.name }

// Start returns the frame start byte.
func (p *Profile) Start() byte { return p.start }

// Ack returns the standalone acknowledge byte.
func (p *Profile) Ack() byte { return p.ack }

// CentralUnit returns the central unit index byte sent by commands carrying ParamCentralUnit.
func (p *Profile) CentralUnit() byte { return p.centralUnit }

// NumberWidth returns the number of bytes used for one output number.
func (p *Profile) NumberWidth() int { return p.numberWidth }

// MaxNumber returns the largest output number the profile can address.
func (p *Profile) MaxNumber() int {
	return 1<<(8*p.numberWidth) - 1
}

// KeepAlive returns the profile's keep-alive strategy.
func (p *Profile) KeepAlive() KeepAlive { return p.keepAlive }

// Checksum computes the checksum of b, which must hold every frame byte before the checksum.
func (p *Profile) Checksum(b []byte) byte { return p.checksum(b) }

// LogState returns the wire byte of a LOG subscription toggle.
func (p *Profile) LogState(on bool) byte {
	if on {
		return p.logOn
	}

	return p.logOff
}

// LogStateFor decodes a LOG subscription byte.
func (p *Profile) LogStateFor(code byte) (bool, error) {
	switch code {
	case p.logOn:
		return true, nil
	case p.logOff:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s log state %d", ErrDecode, p.name, code)
	}
}

// Supports reports whether the profile defines cmd.
func (p *Profile) Supports(cmd Command) bool {
	_, ok := p.commands[cmd]
	return ok
}

// CommandSpec returns the wire code and parameter layout of cmd.
func (p *Profile) CommandSpec(cmd Command) (CommandSpec, error) {
	spec, ok := p.commands[cmd]
	if !ok {
		return CommandSpec{}, fmt.Errorf("%w: %s does not support command %s", ErrEncode, p.name, cmd)
	}
	spec.Params = slices.Clone(spec.Params)

	return spec, nil
}

// CommandFor resolves a wire command code.
func (p *Profile) CommandFor(code byte) (Command, error) {
	cmd, ok := p.commandByCode[code]
	if !ok {
		return 0, fmt.Errorf("%w: %s command code %d", ErrDecode, p.name, code)
	}

	return cmd, nil
}

// FunctionCode returns the wire code of fn.
func (p *Profile) FunctionCode(fn Function) (byte, error) {
	code, ok := p.functions[fn]
	if !ok {
		return 0, fmt.Errorf("%w: %s does not support function %s", ErrEncode, p.name, fn)
	}

	return code, nil
}

// FunctionFor resolves a wire function code.
func (p *Profile) FunctionFor(code byte) (Function, error) {
	fn, ok := p.functionByCode[code]
	if !ok {
		return 0, fmt.Errorf("%w: %s function code %d", ErrDecode, p.name, code)
	}

	return fn, nil
}

// StateCode returns the wire value of state for fn.
func (p *Profile) StateCode(fn Function, state State) (byte, error) {
	table, ok := p.states[fn]
	if !ok {
		return 0, fmt.Errorf("%w: %s does not support function %s", ErrEncode, p.name, fn)
	}

	code, ok := table.encode(state)
	if !ok {
		return 0, fmt.Errorf("%w: %s cannot express state %s for %s", ErrEncode, p.name, state, fn)
	}

	return code, nil
}

// StateFor resolves a wire state value for fn.
func (p *Profile) StateFor(fn Function, code byte) (State, error) {
	table, ok := p.states[fn]
	if !ok {
		return State{}, fmt.Errorf("%w: %s does not support function %s", ErrDecode, p.name, fn)
	}

	state, ok := table.decode(code)
	if !ok {
		return State{}, fmt.Errorf("%w: %s state value %d for %s", ErrDecode, p.name, code, fn)
	}

	return state, nil
}

// Normalize returns the state a device reports after being set to state. A
// level that shares its wire value with a named state, such as a dimmer at
// level 0, normalizes to the named state.
func (p *Profile) Normalize(fn Function, state State) (State, error) {
	code, err := p.StateCode(fn, state)
	if err != nil {
		return State{}, err
	}

	return p.StateFor(fn, code)
}

// States returns every state fn can report, ordered by wire value.
func (p *Profile) States(fn Function) []State {
	table, ok := p.states[fn]
	if !ok {
		return nil
	}

	return table.canonical()
}

// Functions returns the functions the profile supports, in declaration order.
func (p *Profile) Functions() []Function {
	fns := make([]Function, 0, len(p.functions))
	for _, fn := range Functions() {
		if _, ok := p.functions[fn]; ok {
			fns = append(fns, fn)
		}
	}

	return fns
}
