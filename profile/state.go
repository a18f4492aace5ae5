package profile

import (
	"fmt"
	"strconv"
	"strings"
)

// StateKind classifies a logical State.
type StateKind uint8

const (
	KindOff StateKind = iota
	KindOn
	KindUp
	KindDown
	KindStop
	KindToggle
	KindLevel
)

// State is a protocol independent device state. It is comparable, so two states
// can be tested with ==. Value is only meaningful for KindLevel.
type State struct {
	Kind  StateKind
	Value uint8
}

var (
	Off    = State{Kind: KindOff}
	On     = State{Kind: KindOn}
	Up     = State{Kind: KindUp}
	Down   = State{Kind: KindDown}
	Stop   = State{Kind: KindStop}
	Toggle = State{Kind: KindToggle}
)

// Level returns a numeric level state, used by dimmers and sensors.
func Level(v uint8) State {
	return State{Kind: KindLevel, Value: v}
}

// IsLevel reports whether the state carries a numeric level.
func (s State) IsLevel() bool {
	return s.Kind == KindLevel
}

func (s State) String() string {
	switch s.Kind {
	case KindOff:
		return "OFF"
	case KindOn:
		return "ON"
	case KindUp:
		return "UP"
	case KindDown:
		return "DOWN"
	case KindStop:
		return "STOP"
	case KindToggle:
		return "TOGGLE"
	case KindLevel:
		return strconv.Itoa(int(s.Value))
	default:
		return fmt.Sprintf("State(%d)", s.Kind)
	}
}

// ParseState parses the textual form produced by State.String. A decimal number
// between 0 and 255 yields a level state.
func ParseState(text string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "OFF":
		return Off, nil
	case "ON":
		return On, nil
	case "UP":
		return Up, nil
	case "DOWN":
		return Down, nil
	case "STOP":
		return Stop, nil
	case "TOGGLE":
		return Toggle, nil
	}

	v, err := strconv.ParseUint(strings.TrimSpace(text), 10, 8)
	if err != nil {
		return State{}, fmt.Errorf("%w: invalid state %q", ErrEncode, text)
	}

	return Level(uint8(v)), nil
}

// stateTable maps the states of one function to wire values and back.
//
// named holds the exact wire value for every named state; decoded holds the
// reverse mapping. When levels is set, any wire value inside [minLevel, maxLevel]
// that is not a named value decodes to Level(v), and Level(v) encodes to v.
type stateTable struct {
	named    map[State]byte
	decoded  map[byte]State
	levels   bool
	minLevel uint8
	maxLevel uint8
}

func newStateTable(pairs ...stateCode) *stateTable {
	t := &stateTable{
		named:   make(map[State]byte, len(pairs)),
		decoded: make(map[byte]State, len(pairs)),
	}
	for _, p := range pairs {
		t.named[p.state] = p.code
		t.decoded[p.code] = p.state
	}

	return t
}

func (t *stateTable) withLevels(lo, hi uint8) *stateTable {
	t.levels = true
	t.minLevel = lo
	t.maxLevel = hi

	return t
}

type stateCode struct {
	state State
	code  byte
}

func (t *stateTable) encode(s State) (byte, bool) {
	if s.Kind == KindLevel {
		if !t.levels || s.Value < t.minLevel || s.Value > t.maxLevel {
			return 0, false
		}

		return s.Value, true
	}

	code, ok := t.named[s]

	return code, ok
}

func (t *stateTable) decode(code byte) (State, bool) {
	if s, ok := t.decoded[code]; ok {
		return s, true
	}

	if t.levels && code >= t.minLevel && code <= t.maxLevel {
		return Level(code), true
	}

	return State{}, false
}

// canonical returns every state the table decodes to, in wire value order.
func (t *stateTable) canonical() []State {
	states := make([]State, 0, len(t.decoded))
	for code := 0; code <= 0xFF; code++ {
		if s, ok := t.decode(byte(code)); ok {
			states = append(states, s)
		}
	}

	return states
}
