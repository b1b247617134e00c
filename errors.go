package ioselector

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	ErrSelectorClosed      = errors.New("ioselector: selector closed")
	ErrSelectorRunning     = errors.New("ioselector: selector already running")
	ErrReentrantRun        = errors.New("ioselector: cannot call Run from the poller goroutine")
	ErrInvalidHandle       = errors.New("ioselector: invalid handle")
	ErrInvalidOp           = errors.New("ioselector: operation must be a non-empty combination of OpRead and OpWrite")
	ErrNilCallback         = errors.New("ioselector: nil callback")
	ErrDisposed            = errors.New("ioselector: job disposed")
	ErrHandleFailed        = errors.New("ioselector: handle failed")
	ErrHandleRegistered    = errors.New("ioselector: handle already registered")
	ErrHandleNotRegistered = errors.New("ioselector: handle not registered")
	ErrBackendClosed       = errors.New("ioselector: backend closed")
	ErrUnsupportedBackend  = errors.New("ioselector: backend not supported on this platform")
	ErrUnsupportedPlatform = errors.New("ioselector: platform not supported")
)

// HandleError is the error of a job completed with [OutcomeFailed].
type HandleError struct {
	// Cause is the backend error, if the failure came from (re)registering
	// the handle. Nil if the failure was an error-class event.
	Cause  error
	Handle Handle
	// Events is the set of flags reported with the error-class event.
	Events Op
}

func (e *HandleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ioselector: handle %d failed: %v", e.Handle, e.Cause)
	}
	return fmt.Sprintf("ioselector: handle %d failed: events=%s", e.Handle, e.Events)
}

// Unwrap allows matching both [ErrHandleFailed] and the underlying cause.
func (e *HandleError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrHandleFailed, e.Cause}
	}
	return []error{ErrHandleFailed}
}

// PanicError wraps a value recovered from a panic on the poller goroutine or
// in a worker.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("ioselector: recovered panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
