package engine

import "sync/atomic"

// OpState is the open/close lifecycle state of an engine.
type OpState uint32

const (
	ClosedState OpState = iota
	ClosingState
	OpeningState
	OpenedState
)

func (s OpState) String() string {
	switch s {
	case ClosedState:
		return "Closed"
	case ClosingState:
		return "Closing"
	case OpeningState:
		return "Opening"
	case OpenedState:
		return "Opened"
	default:
		return "Unknown"
	}
}

// atomicOpState moves between states with compare-and-swap so that concurrent
// Open and Close calls cannot both win.
type atomicOpState struct {
	state atomic.Uint32
}

func (st *atomicOpState) get() OpState {
	return OpState(st.state.Load())
}

func (st *atomicOpState) set(s OpState) {
	st.state.Store(uint32(s))
}

func (st *atomicOpState) String() string {
	return st.get().String()
}

func (st *atomicOpState) toOpening() bool {
	return st.state.CompareAndSwap(uint32(ClosedState), uint32(OpeningState))
}

func (st *atomicOpState) toOpened() bool {
	return st.state.CompareAndSwap(uint32(OpeningState), uint32(OpenedState))
}

func (st *atomicOpState) toClosing() bool {
	if st.state.CompareAndSwap(uint32(OpenedState), uint32(ClosingState)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(OpeningState), uint32(ClosingState))
}

func (st *atomicOpState) toClosed() bool {
	if st.get() == ClosedState {
		return true
	}

	return st.state.CompareAndSwap(uint32(ClosingState), uint32(ClosedState))
}
