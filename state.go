package ioselector

import (
	"sync/atomic"
)

// SelectorState is the lifecycle state of a [Selector], which doubles as the
// phase of its poller goroutine.
//
//	StateAwake → StateApplying               [Run]
//	StateApplying → StatePolling → StateDispatching → StateApplying
//	any of the above → StateTerminating      [Shutdown, Close, ctx done]
//	StateTerminating → StateTerminated       [poller exit]
//	StateAwake → StateTerminated             [Shutdown before Run]
//
// The poller moves between its own phases with CAS, so that a concurrent
// transition to StateTerminating is never overwritten.
type SelectorState uint32

const (
	// StateAwake indicates the selector was created, but Run has not been
	// called.
	StateAwake SelectorState = iota
	// StateApplying indicates the poller is draining the update queue.
	StateApplying
	// StatePolling indicates the poller is blocked in the backend.
	StatePolling
	// StateDispatching indicates the poller is handing ready jobs to workers.
	StateDispatching
	// StateTerminating indicates shutdown was requested.
	StateTerminating
	// StateTerminated indicates the poller exited and all jobs completed.
	StateTerminated
)

func (s SelectorState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateApplying:
		return "Applying"
	case StatePolling:
		return "Polling"
	case StateDispatching:
		return "Dispatching"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is an atomic SelectorState, padded to its own cache line.
type fastState struct { // betteralign:ignore
	_ [64]byte //nolint:unused
	v atomic.Uint32
	_ [60]byte //nolint:unused
}

func (s *fastState) Load() SelectorState {
	return SelectorState(s.v.Load())
}

// Store is only valid for the irreversible StateTerminated.
func (s *fastState) Store(state SelectorState) {
	s.v.Store(uint32(state))
}

func (s *fastState) TryTransition(from, to SelectorState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
