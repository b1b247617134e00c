// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package guard

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultRetries is the default number of interrupt rounds.
	DefaultRetries = 10
	// DefaultRetryInterval is the default wait after each interrupt round.
	DefaultRetryInterval = 100 * time.Millisecond
)

// ExhaustionPolicy decides what Interrupt does when threads remain
// registered after the final round.
type ExhaustionPolicy int

const (
	// ExhaustDeferRelease logs the stuck threads, returns a
	// *RetriesExhaustedError, and defers the release function (if Close was
	// called) until the last registered thread unregisters. The descriptor
	// is never released while a thread may still be using it.
	ExhaustDeferRelease ExhaustionPolicy = iota
	// ExhaustForceRelease logs the stuck threads, runs the release function
	// immediately, and returns a *RetriesExhaustedError. Threads still inside
	// a syscall may then observe a closed or reused descriptor.
	ExhaustForceRelease
	// ExhaustPanic panics with a *RetriesExhaustedError, for use in tests.
	ExhaustPanic
)

func (p ExhaustionPolicy) String() string {
	switch p {
	case ExhaustDeferRelease:
		return "defer-release"
	case ExhaustForceRelease:
		return "force-release"
	case ExhaustPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// ParseExhaustionPolicy parses the String form of an ExhaustionPolicy.
func ParseExhaustionPolicy(s string) (ExhaustionPolicy, error) {
	switch s {
	case "", "defer-release":
		return ExhaustDeferRelease, nil
	case "force-release":
		return ExhaustForceRelease, nil
	case "panic":
		return ExhaustPanic, nil
	default:
		return 0, errors.New("guard: unknown exhaustion policy: " + s)
	}
}

// guardOptions holds configuration options for Guard creation.
type guardOptions struct {
	logger        *logiface.Logger[logiface.Event]
	interrupter   Interrupter
	release       func() error
	retries       int
	retryInterval time.Duration
	policy        ExhaustionPolicy
}

// Option configures a Guard instance.
type Option interface {
	applyGuard(*guardOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyGuardFunc func(*guardOptions) error
}

func (o *optionImpl) applyGuard(opts *guardOptions) error {
	return o.applyGuardFunc(opts)
}

// WithLogger sets the structured logger. A nil logger (the default) disables
// logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *guardOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithInterrupter sets the mechanism used to unblock registered threads.
// Defaults to SocketInterrupter.
func WithInterrupter(interrupter Interrupter) Option {
	return &optionImpl{func(opts *guardOptions) error {
		if interrupter == nil {
			return errors.New("guard: nil interrupter")
		}
		opts.interrupter = interrupter
		return nil
	}}
}

// WithRelease sets the function that releases the descriptor, run at most
// once, by Close or by the final Unregister after Close.
func WithRelease(release func() error) Option {
	return &optionImpl{func(opts *guardOptions) error {
		opts.release = release
		return nil
	}}
}

// WithRetries sets the number of interrupt rounds.
func WithRetries(n int) Option {
	return &optionImpl{func(opts *guardOptions) error {
		if n < 0 {
			return errors.New("guard: retries must not be negative")
		}
		opts.retries = n
		return nil
	}}
}

// WithRetryInterval sets how long to wait for registered threads to leave
// after each interrupt round.
func WithRetryInterval(d time.Duration) Option {
	return &optionImpl{func(opts *guardOptions) error {
		if d <= 0 {
			return errors.New("guard: retry interval must be positive")
		}
		opts.retryInterval = d
		return nil
	}}
}

// WithExhaustionPolicy sets the behavior when retries are exhausted.
func WithExhaustionPolicy(policy ExhaustionPolicy) Option {
	return &optionImpl{func(opts *guardOptions) error {
		switch policy {
		case ExhaustDeferRelease, ExhaustForceRelease, ExhaustPanic:
		default:
			return errors.New("guard: invalid exhaustion policy")
		}
		opts.policy = policy
		return nil
	}}
}

// resolveOptions applies Option instances to guardOptions.
func resolveOptions(opts []Option) (*guardOptions, error) {
	cfg := &guardOptions{
		interrupter:   SocketInterrupter{},
		retries:       DefaultRetries,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyGuard(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
