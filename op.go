package ioselector

import (
	"strings"
)

// Handle is a native descriptor (file, pipe or socket).
type Handle int

// Op is a set of I/O directions. OpRead and OpWrite may be requested by jobs,
// OpError and OpHangup are only ever reported by a [Backend].
type Op uint32

const (
	// OpRead indicates the handle is (or should be monitored for being)
	// readable.
	OpRead Op = 1 << iota
	// OpWrite indicates the handle is (or should be monitored for being)
	// writable.
	OpWrite
	// OpError indicates an error condition was reported for the handle.
	OpError
	// OpHangup indicates the peer hung up. It is treated as readiness in
	// both directions.
	OpHangup
)

// opInterest is the set of bits a job may request.
const opInterest = OpRead | OpWrite

// String returns the flags joined by '|', e.g. "read|write".
func (o Op) String() string {
	if o == 0 {
		return "none"
	}
	var parts []string
	if o&OpRead != 0 {
		parts = append(parts, "read")
	}
	if o&OpWrite != 0 {
		parts = append(parts, "write")
	}
	if o&OpError != 0 {
		parts = append(parts, "error")
	}
	if o&OpHangup != 0 {
		parts = append(parts, "hangup")
	}
	if rest := o &^ (opInterest | OpError | OpHangup); rest != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}

// ready returns the directions an event with the reported flags makes ready.
func (o Op) ready() Op {
	r := o & opInterest
	if o&OpHangup != 0 {
		r |= opInterest
	}
	return r
}

// Outcome is the terminal state of a job.
type Outcome uint8

const (
	// OutcomeReady indicates the handle became ready for the job's operation.
	OutcomeReady Outcome = iota + 1
	// OutcomeFailed indicates an error-class event was reported for the
	// handle, or the backend rejected its registration.
	OutcomeFailed
	// OutcomeDisposed indicates the job was cancelled before it could
	// complete normally.
	OutcomeDisposed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "Ready"
	case OutcomeFailed:
		return "Failed"
	case OutcomeDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// Completion is passed to a job's [Callback], exactly once.
type Completion struct {
	// Err is nil if Outcome is OutcomeReady, wraps ErrHandleFailed if
	// OutcomeFailed, and wraps ErrDisposed if OutcomeDisposed.
	Err error
	// Handle is the job's handle.
	Handle Handle
	// Interest is the operation the job was submitted with.
	Interest Op
	// Events is the set of flags the backend reported, zero unless the
	// completion was caused by an event.
	Events Op
	// Outcome is the terminal state of the job.
	Outcome Outcome
}

// Callback receives a job's terminal [Completion]. It is always run on a
// worker goroutine, never on the poller goroutine.
type Callback func(Completion)
