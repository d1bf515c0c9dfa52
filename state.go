package reactor

import "go.uber.org/atomic"

// LoopState represents the lifecycle state of a Loop.
//
// State machine:
//
//	StateInitialized → StateRunning     [Run]
//	StateRunning     → StateDraining    [Shutdown, or context cancellation]
//	StateDraining    → StateStopped     [current dispatch batch finishes]
//	StateRunning     → StateStopped     [fatal poller error]
//
// Draining means shutdown has been requested: the loop finishes the
// dispatch batch in progress, skips further poll calls, and stops.
type LoopState uint32

const (
	// StateInitialized indicates the loop was created but Run has not
	// been called.
	StateInitialized LoopState = iota
	// StateRunning indicates the loop is polling and dispatching.
	StateRunning
	// StateDraining indicates shutdown was requested; the in-progress
	// dispatch batch runs to completion, then the loop stops.
	StateDraining
	// StateStopped indicates Run has returned. Terminal.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// loopState is the loop's atomic state word. It is written by the loop
// goroutine and by Shutdown/context-cancellation paths, and read from
// anywhere, so every transition is a CAS.
type loopState struct {
	v atomic.Uint32
}

func newLoopState() *loopState {
	return &loopState{}
}

// Load returns the current state.
func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store unconditionally sets the state. Reserved for irreversible
// transitions (StateStopped); temporary states must use TryTransition.
func (s *loopState) Store(state LoopState) {
	s.v.Store(uint32(state))
}

// TryTransition atomically moves from → to, reporting success.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
