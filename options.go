// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioselector

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joeycumines/logiface"
)

// selectorOptions holds configuration options for Selector creation.
type selectorOptions struct {
	logger            *logiface.Logger[logiface.Event]
	backend           Backend
	executor          Executor
	pollBackOff       backoff.BackOff
	onPollError       func(error)
	logRateLimits     map[time.Duration]int
	backendKind       BackendKind
	maxWorkers        int
	workerIdleTimeout time.Duration
	eventBufferSize   int
	metricsEnabled    bool
}

// Option configures a Selector instance.
type Option interface {
	applySelector(*selectorOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySelectorFunc func(*selectorOptions) error
}

func (o *optionImpl) applySelector(opts *selectorOptions) error {
	return o.applySelectorFunc(opts)
}

// WithLogger sets the structured logger. A nil logger (the default) disables
// logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBackend sets the readiness backend, which must not have been
// initialized. The selector takes ownership, closing it on shutdown.
// Takes precedence over WithBackendKind.
func WithBackend(backend Backend) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		opts.backend = backend
		return nil
	}}
}

// WithBackendKind selects the readiness backend, e.g. BackendPoll to force
// the poll(2) fallback.
func WithBackendKind(kind BackendKind) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		opts.backendKind = kind
		return nil
	}}
}

// WithExecutor sets the executor that runs job callbacks, replacing the
// default worker pool. The executor must not run tasks inline.
func WithExecutor(executor Executor) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		opts.executor = executor
		return nil
	}}
}

// WithMaxWorkers bounds the default worker pool. Zero (the default) means
// unbounded.
func WithMaxWorkers(n int) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		if n < 0 {
			return errors.New("ioselector: max workers must not be negative")
		}
		opts.maxWorkers = n
		return nil
	}}
}

// WithWorkerIdleTimeout sets how long an idle worker of the default pool
// lingers before exiting.
func WithWorkerIdleTimeout(d time.Duration) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		if d <= 0 {
			return errors.New("ioselector: worker idle timeout must be positive")
		}
		opts.workerIdleTimeout = d
		return nil
	}}
}

// WithEventBufferSize sets the initial size of the adaptive event buffer.
// The value is clamped to [8, 8192].
func WithEventBufferSize(n int) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		if n <= 0 {
			return errors.New("ioselector: event buffer size must be positive")
		}
		opts.eventBufferSize = n
		return nil
	}}
}

// WithMetrics enables runtime metrics collection, see Selector.Metrics.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithPollBackOff sets the delay policy between retries of a failing Poll.
// The policy is Reset after every successful Poll. If it returns
// backoff.Stop, the maximum interval of the default policy is used.
func WithPollBackOff(b backoff.BackOff) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		opts.pollBackOff = b
		return nil
	}}
}

// WithPollErrorHandler sets a hook called on the poller goroutine for every
// failed Poll, before the retry delay. It must not block.
func WithPollErrorHandler(fn func(error)) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		opts.onPollError = fn
		return nil
	}}
}

// WithLogRateLimits sets the rate limits for repeated error logs, per
// category, see catrate.NewLimiter. A nil map disables rate limiting.
func WithLogRateLimits(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *selectorOptions) error {
		opts.logRateLimits = rates
		return nil
	}}
}

// resolveOptions applies Option instances to selectorOptions.
func resolveOptions(opts []Option) (*selectorOptions, error) {
	cfg := &selectorOptions{
		workerIdleTimeout: defaultWorkerIdleTimeout,
		eventBufferSize:   eventBufInitial,
		logRateLimits:     defaultLogRateLimits,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySelector(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.pollBackOff == nil {
		cfg.pollBackOff = newPollBackOff()
	}
	return cfg, nil
}

// newPollBackOff returns the default Poll retry policy, which never gives up.
func newPollBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = maxPollRetryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

const maxPollRetryInterval = time.Second
