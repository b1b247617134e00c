package guard

import (
	"errors"
	"fmt"
)

var (
	// ErrInterrupted is returned by Register once the guard is closed.
	ErrInterrupted = errors.New("guard: operation interrupted")
	// ErrNotRegistered is returned by Unregister for a token that was
	// already unregistered.
	ErrNotRegistered = errors.New("guard: token not registered")
	// ErrInvalidToken is returned by Unregister for a nil token, or a token
	// from another guard.
	ErrInvalidToken = errors.New("guard: invalid token")
	// ErrRefcountUnderflow indicates an Unregister without a matching
	// Register. The refcount is left unchanged.
	ErrRefcountUnderflow = errors.New("guard: refcount underflow")
	// ErrRefcountOverflow is returned by Register if the refcount is at its
	// maximum.
	ErrRefcountOverflow = errors.New("guard: refcount overflow")
	// ErrRetriesExhausted indicates blocked threads remained after every
	// interrupt round.
	ErrRetriesExhausted = errors.New("guard: interrupt retries exhausted")
	// ErrSignalUnsupported is returned by Interrupter.Signal where threads
	// cannot be signalled individually.
	ErrSignalUnsupported = errors.New("guard: signalling threads is not supported on this platform")
)

// RetriesExhaustedError is returned by Interrupt (and Close) when threads
// were still registered after the final interrupt round.
type RetriesExhaustedError struct {
	// Threads holds the OS thread ids of the registered threads, zero where
	// unknown.
	Threads []int
	Retries int
	Policy  ExhaustionPolicy
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("guard: %d thread(s) still blocked after %d interrupt rounds (policy %s): threads=%v",
		len(e.Threads), e.Retries, e.Policy, e.Threads)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return ErrRetriesExhausted
}
