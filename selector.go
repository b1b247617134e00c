package ioselector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Selector multiplexes readiness events across many handles, on a single
// poller goroutine, dispatching job callbacks to an [Executor].
//
// The poller goroutine is the body of [Selector.Run]. It alone touches the
// job registry and the backend. Producers communicate with it through the
// update queue, waking it via the wake fd.
type Selector struct {
	backend   Backend
	executor  Executor
	pool      *workerPool // nil if a custom executor is used
	updates   *updateQueue
	registry  *registry
	metrics   *Metrics
	opts      *selectorOptions
	buf       *eventBuffer
	done      chan struct{}
	stopping  chan struct{}
	log       selectorLogger
	batch     []*update
	state     fastState
	pollerGID atomic.Uint64
	stopOnce  sync.Once
	wakeMu    sync.RWMutex
	wakeR     int
	wakeW     int
	// pollFailures is the number of consecutive failed polls.
	pollFailures int
	wakeClosed   bool
}

// New creates a Selector, initializing its backend and wake fd. Call
// [Selector.Run] to start the poller.
func New(opts ...Option) (*Selector, error) {
	if !platformSupported {
		return nil, ErrUnsupportedPlatform
	}

	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	backend := cfg.backend
	if backend == nil {
		backend, err = NewBackend(cfg.backendKind)
		if err != nil {
			return nil, err
		}
	}

	wakeR, wakeW, err := createWakeFd()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	if err := backend.Init(Handle(wakeR)); err != nil {
		_ = backend.Close()
		_ = closeFD(wakeR)
		if wakeW != wakeR {
			_ = closeFD(wakeW)
		}
		return nil, err
	}

	s := &Selector{
		backend:  backend,
		updates:  newUpdateQueue(),
		registry: newRegistry(),
		opts:     cfg,
		buf:      newEventBuffer(cfg.eventBufferSize),
		done:     make(chan struct{}),
		stopping: make(chan struct{}),
		log:      newSelectorLogger(cfg.logger, cfg.logRateLimits),
		wakeR:    wakeR,
		wakeW:    wakeW,
	}

	if cfg.metricsEnabled {
		s.metrics = newMetrics()
		s.metrics.bufferSize.Store(int64(len(s.buf.events)))
	}

	if cfg.executor != nil {
		s.executor = cfg.executor
	} else {
		s.pool = newWorkerPool(s.log, s.metrics, cfg.maxWorkers, cfg.workerIdleTimeout)
		s.executor = s.pool
	}

	return s, nil
}

// Run runs the poller on the calling goroutine, locked to its OS thread, and
// blocks until the selector terminates.
//
// Cancelling ctx shuts the selector down, in which case ctx.Err() is
// returned. To run in the background, use `go sel.Run(ctx)`.
func (s *Selector) Run(ctx context.Context) error {
	if s.isPollerGoroutine() {
		return ErrReentrantRun
	}

	if !s.state.TryTransition(StateAwake, StateApplying) {
		if st := s.state.Load(); st == StateTerminating || st == StateTerminated {
			return ErrSelectorClosed
		}
		return ErrSelectorRunning
	}

	defer close(s.done)

	return s.run(ctx)
}

// Submit registers a job, and blocks until the poller has applied it. The
// callback will be invoked exactly once, with the job's terminal outcome.
//
// ErrSelectorClosed is returned, without taking ownership of the job, once
// shutdown has begun. Submit blocks until Run is called, if it has not been.
func (s *Selector) Submit(h Handle, op Op, cb Callback) error {
	return s.submit(h, op, cb, true)
}

// SubmitAsync is like Submit, but returns as soon as the job is queued.
func (s *Selector) SubmitAsync(h Handle, op Op, cb Callback) error {
	return s.submit(h, op, cb, false)
}

func (s *Selector) submit(h Handle, op Op, cb Callback, wait bool) error {
	if h < 0 || h == Handle(s.wakeR) || h == Handle(s.wakeW) {
		return ErrInvalidHandle
	}
	if op == 0 || op&^opInterest != 0 {
		return ErrInvalidOp
	}
	if cb == nil {
		return ErrNilCallback
	}
	if err := s.enqueue(updateAdd, h, newJob(h, op, cb), wait); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.submitted.Add(1)
	}
	return nil
}

// Cancel removes all interest for a handle, and blocks until the poller has
// applied it. Every pending job for the handle, including jobs still queued,
// completes with OutcomeDisposed. Cancel is a no-op for a handle without
// jobs. It must be called before the handle is closed.
func (s *Selector) Cancel(h Handle) error {
	if h < 0 {
		return ErrInvalidHandle
	}
	if err := s.enqueue(updateRemove, h, nil, true); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.cancels.Add(1)
	}
	return nil
}

// Await submits a job and waits for its completion, returning the reported
// events. If ctx is done first, the handle is cancelled (disposing every job
// for it, not only this one) and ctx.Err() is returned, unless the job
// completed normally in the meantime.
func (s *Selector) Await(ctx context.Context, h Handle, op Op) (Op, error) {
	ch := make(chan Completion, 1)
	if err := s.Submit(h, op, func(c Completion) { ch <- c }); err != nil {
		return 0, err
	}
	select {
	case c := <-ch:
		return c.Events, c.Err
	case <-ctx.Done():
	}
	if err := s.Cancel(h); err != nil && !errors.Is(err, ErrSelectorClosed) {
		return 0, err
	}
	// the job was either completed already, or has just been disposed
	if c := <-ch; c.Outcome != OutcomeDisposed {
		return c.Events, c.Err
	}
	return 0, ctx.Err()
}

// enqueue pushes an update, wakes the poller, and optionally waits for the
// update to be applied. The poller goroutine never waits.
func (s *Selector) enqueue(kind updateKind, h Handle, j *job, wait bool) error {
	onPoller := s.isPollerGoroutine()
	wait = wait && !onPoller
	u := acquireUpdate(kind, h, j, wait)
	if !s.updates.push(u) {
		releaseUpdate(u)
		return ErrSelectorClosed
	}
	// u may have been recycled already, unless wait is set
	if !onPoller {
		s.wakeup()
	}
	if wait {
		s.updates.wait(u)
	}
	return nil
}

// Shutdown stops the selector, and waits for the poller to exit and the
// default worker pool to drain, or for ctx to be done. Every job not yet
// completed is completed with OutcomeDisposed. Shutdown may be called
// multiple times, and before Run.
//
// Called from a callback running on the default worker pool, Shutdown
// returns once the poller has exited, without waiting for the pool.
func (s *Selector) Shutdown(ctx context.Context) error {
	s.beginShutdown()

	if s.isPollerGoroutine() {
		// waiting would deadlock
		return nil
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.pool == nil || s.pool.isWorker() {
		// the calling task would never finish
		return nil
	}
	drained := make(chan struct{})
	go func() {
		s.pool.wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is Shutdown without a deadline.
func (s *Selector) Close() error {
	return s.Shutdown(context.Background())
}

// beginShutdown moves the selector to StateTerminating. If Run was never
// called, it also performs the termination inline.
func (s *Selector) beginShutdown() {
	for {
		current := s.state.Load()
		switch current {
		case StateTerminating, StateTerminated:
			return
		}
		if !s.state.TryTransition(current, StateTerminating) {
			continue
		}
		s.stopOnce.Do(func() { close(s.stopping) })
		if current == StateAwake {
			s.terminate()
			close(s.done)
		} else {
			s.wakeup()
		}
		return
	}
}

// State returns the current state of the selector.
func (s *Selector) State() SelectorState {
	return s.state.Load()
}

// Done returns a channel that is closed once the selector has terminated.
func (s *Selector) Done() <-chan struct{} {
	return s.done
}

// Metrics returns a snapshot of the selector's metrics. The snapshot is
// zero unless the selector was created WithMetrics(true).
func (s *Selector) Metrics() MetricsSnapshot {
	if s.metrics == nil {
		return MetricsSnapshot{}
	}
	snapshot := s.metrics.snapshot()
	if s.pool != nil {
		snapshot.Workers, snapshot.IdleWorkers = s.pool.workers()
	}
	return snapshot
}

// wakeup forces the poller out of Poll. It is safe to call at any time.
func (s *Selector) wakeup() {
	s.wakeMu.RLock()
	defer s.wakeMu.RUnlock()
	if s.wakeClosed {
		return
	}
	if err := signalWakeFd(s.wakeW); err != nil {
		if b := s.log.Warning(); b.Enabled() {
			b.Err(err).Log("ioselector: failed to signal wake fd")
		}
	}
}

// complete hands a job's terminal completion to the executor.
func (s *Selector) complete(j *job, outcome Outcome, events Op, err error) {
	if !j.finish() {
		if b := s.log.Crit(); b.Enabled() {
			b.Int("handle", int(j.handle)).
				Str("outcome", outcome.String()).
				Log("ioselector: job completed more than once")
		}
		return
	}

	if s.metrics != nil {
		switch outcome {
		case OutcomeReady:
			s.metrics.recordDispatch(time.Since(j.submitted))
		case OutcomeFailed:
			s.metrics.failed.Add(1)
		case OutcomeDisposed:
			s.metrics.disposed.Add(1)
		}
	}

	c := Completion{
		Err:      err,
		Handle:   j.handle,
		Interest: j.op,
		Events:   events,
		Outcome:  outcome,
	}
	cb := j.callback
	j.callback = nil
	s.executor.Execute(func() { cb(c) })
}

// recoverPanic logs a panic recovered on the poller goroutine.
func (s *Selector) recoverPanic(phase string) {
	if r := recover(); r != nil {
		if s.metrics != nil {
			s.metrics.recordPanic()
		}
		if b := s.log.limited(logiface.LevelError, logCategoryPanic); b != nil {
			b.Str("phase", phase).
				Err(PanicError{Value: r}).
				Log("ioselector: poller recovered from panic")
		}
	}
}

// isPollerGoroutine reports whether the caller is the poller goroutine.
func (s *Selector) isPollerGoroutine() bool {
	id := s.pollerGID.Load()
	return id != 0 && getGoroutineID() == id
}
