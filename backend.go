package ioselector

import (
	"fmt"
)

// Event is a readiness report for a single handle.
type Event struct {
	Handle Handle
	Events Op
}

// Backend is an OS readiness facility. A Backend is owned by the poller
// goroutine: no method is called concurrently with another, except Close
// after the poller has exited.
type Backend interface {
	// Init prepares the backend, registering wake for read readiness. Events
	// for wake are reported by Poll like any other handle.
	Init(wake Handle) error
	// AddHandle sets the interest for h. If isNew is true h must not already
	// be registered (ErrHandleRegistered), otherwise it must be
	// (ErrHandleNotRegistered).
	AddHandle(h Handle, interest Op, isNew bool) error
	// RemoveHandle removes h from the interest set.
	RemoveHandle(h Handle) error
	// Poll blocks until at least one handle is ready, filling events and
	// returning the count, which may be zero (e.g. on EINTR).
	Poll(events []Event) (int, error)
	// Close releases the backend's resources.
	Close() error
}

// BackendKind selects a [Backend] implementation.
type BackendKind int

const (
	// BackendDefault selects epoll on linux and kqueue on darwin.
	BackendDefault BackendKind = iota
	// BackendEpoll selects epoll(7). Linux only.
	BackendEpoll
	// BackendKqueue selects kqueue(2). Darwin only.
	BackendKqueue
	// BackendPoll selects poll(2), available on every supported platform.
	BackendPoll
)

func (k BackendKind) String() string {
	switch k {
	case BackendDefault:
		return "default"
	case BackendEpoll:
		return "epoll"
	case BackendKqueue:
		return "kqueue"
	case BackendPoll:
		return "poll"
	default:
		return fmt.Sprintf("BackendKind(%d)", int(k))
	}
}

// ParseBackendKind parses the String form of a BackendKind.
func ParseBackendKind(s string) (BackendKind, error) {
	switch s {
	case "", "default":
		return BackendDefault, nil
	case "epoll":
		return BackendEpoll, nil
	case "kqueue":
		return BackendKqueue, nil
	case "poll":
		return BackendPoll, nil
	default:
		return 0, fmt.Errorf("ioselector: unknown backend %q", s)
	}
}

// NewBackend returns an uninitialized backend of the given kind.
func NewBackend(kind BackendKind) (Backend, error) {
	if kind == BackendDefault {
		kind = defaultBackendKind
	}
	switch kind {
	case BackendEpoll:
		return newEpollBackend()
	case BackendKqueue:
		return newKqueueBackend()
	case BackendPoll:
		return newPollBackend()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, kind)
	}
}
