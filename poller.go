package ioselector

import (
	"context"
	"runtime"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joeycumines/logiface"
)

// run is the poller goroutine.
func (s *Selector) run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.pollerGID.Store(getGoroutineID())
	defer s.pollerGID.Store(0)

	// wake the poller on external cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.beginShutdown()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	if b := s.log.Debug(); b.Enabled() {
		b.Int("event_buffer", len(s.buf.events)).Log("ioselector: poller started")
	}

	for s.iterate() {
	}

	s.terminate()

	if b := s.log.Debug(); b.Enabled() {
		b.Log("ioselector: poller stopped")
	}

	return ctx.Err()
}

// iterate runs one Applying → Polling → Dispatching cycle, returning false
// once the selector is terminating.
func (s *Selector) iterate() bool {
	s.applyUpdates()

	if !s.state.TryTransition(StateApplying, StatePolling) {
		return false
	}

	n, err := s.backend.Poll(s.buf.events)

	if !s.state.TryTransition(StatePolling, StateDispatching) {
		return false
	}

	if err != nil {
		s.handlePollError(err)
	} else {
		s.pollSucceeded(n)
		for _, ev := range s.buf.events[:n] {
			s.dispatchEvent(ev)
		}
		s.buf.observe(n)
		if s.metrics != nil {
			s.metrics.bufferSize.Store(int64(len(s.buf.events)))
		}
	}

	return s.state.TryTransition(StateDispatching, StateApplying)
}

// applyUpdates drains the update queue, applying each update in order, then
// releases any producers waiting on them.
func (s *Selector) applyUpdates() {
	s.batch = s.updates.drain(s.batch[:0])
	for _, u := range s.batch {
		s.applyUpdate(u)
	}
	s.updates.markApplied(s.batch)
	clear(s.batch)
}

func (s *Selector) applyUpdate(u *update) {
	defer s.recoverPanic("apply")

	if b := s.log.Trace(); b.Enabled() {
		b.Str("kind", u.kind.String()).Int("handle", int(u.handle)).Log("ioselector: applying update")
	}

	j := u.job
	u.job = nil

	switch u.kind {
	case updateAdd:
		s.addJob(j)

	case updateRemove:
		for _, j := range s.dropHandle(u.handle) {
			s.complete(j, OutcomeDisposed, 0, ErrDisposed)
		}

	case updateEmpty:
		// an Add cancelled before it was applied
		if j != nil {
			s.complete(j, OutcomeDisposed, 0, ErrDisposed)
		}
	}
}

// addJob merges a job into the registry, and (re)registers the handle's
// aggregated interest with the backend if it changed.
func (s *Selector) addJob(j *job) {
	interest, isNew := s.registry.mergeOrCreate(j.handle, j)
	e, _ := s.registry.lookup(j.handle)
	if !isNew && interest == e.registered {
		return
	}
	if err := s.backend.AddHandle(j.handle, interest, isNew); err != nil {
		if b := s.log.limited(logiface.LevelWarning, logCategoryRegister); b != nil {
			b.Int("handle", int(j.handle)).
				Bool("new", isNew).
				Str("interest", interest.String()).
				Err(err).
				Log("ioselector: failed to register handle")
		}
		s.failHandle(j.handle, 0, err)
		return
	}
	e.registered = interest
}

// dropHandle removes a handle from the registry, and from the backend if it
// was registered, returning its pending jobs.
func (s *Selector) dropHandle(h Handle) []*job {
	e, ok := s.registry.lookup(h)
	if !ok {
		return nil
	}
	jobs := s.registry.removeAll(h)
	if e.registered != 0 {
		if err := s.backend.RemoveHandle(h); err != nil {
			if b := s.log.Warning(); b.Enabled() {
				b.Int("handle", int(h)).Err(err).Log("ioselector: failed to remove handle from backend")
			}
		}
	}
	return jobs
}

// failHandle completes every job for a handle with OutcomeFailed.
func (s *Selector) failHandle(h Handle, events Op, cause error) {
	jobs := s.dropHandle(h)
	if len(jobs) == 0 {
		return
	}
	err := &HandleError{Cause: cause, Handle: h, Events: events}
	for _, j := range jobs {
		s.complete(j, OutcomeFailed, events, err)
	}
}

// dispatchEvent hands the first job matching each ready direction to the
// executor, then re-registers or removes the handle.
func (s *Selector) dispatchEvent(ev Event) {
	defer s.recoverPanic("dispatch")

	if ev.Handle == Handle(s.wakeR) {
		drainWakeFd(s.wakeR)
		return
	}

	if s.metrics != nil {
		s.metrics.events.Add(1)
	}

	e, ok := s.registry.lookup(ev.Handle)
	if !ok {
		// stale, e.g. cancelled earlier in this batch
		return
	}

	if ev.Events&OpError != 0 {
		s.failHandle(ev.Handle, ev.Events, nil)
		return
	}

	ready := ev.Events.ready()
	if ready&OpRead != 0 {
		if j := s.registry.takeFirstMatching(ev.Handle, OpRead); j != nil {
			s.complete(j, OutcomeReady, ev.Events, nil)
		}
	}
	if ready&OpWrite != 0 {
		if j := s.registry.takeFirstMatching(ev.Handle, OpWrite); j != nil {
			s.complete(j, OutcomeReady, ev.Events, nil)
		}
	}

	if len(e.jobs) == 0 {
		s.dropHandle(ev.Handle)
		return
	}
	if remaining := e.interest(); remaining != e.registered {
		if err := s.backend.AddHandle(ev.Handle, remaining, false); err != nil {
			s.failHandle(ev.Handle, 0, err)
			return
		}
		e.registered = remaining
	}
}

// handlePollError logs a failed poll, then sleeps per the retry policy. The
// poller never gives up.
func (s *Selector) handlePollError(err error) {
	s.pollFailures++
	if s.metrics != nil {
		s.metrics.pollErrors.Add(1)
	}

	if fn := s.opts.onPollError; fn != nil {
		func() {
			defer s.recoverPanic("poll error handler")
			fn(err)
		}()
	}

	delay := s.opts.pollBackOff.NextBackOff()
	if delay == backoff.Stop {
		delay = maxPollRetryInterval
	}

	if b := s.log.limited(logiface.LevelError, logCategoryPoll); b != nil {
		b.Err(err).
			Int("consecutive", s.pollFailures).
			Dur("retry_in", delay).
			Log("ioselector: poll failed")
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.stopping:
	}
}

// pollSucceeded resets the retry policy after a run of failures.
func (s *Selector) pollSucceeded(n int) {
	if s.metrics != nil {
		s.metrics.polls.Add(1)
	}
	if s.pollFailures == 0 {
		return
	}
	if b := s.log.Info(); b.Enabled() {
		b.Int("failures", s.pollFailures).Int("events", n).Log("ioselector: poll recovered")
	}
	s.pollFailures = 0
	s.opts.pollBackOff.Reset()
}

// terminate disposes every job still queued or registered, then releases
// the backend and the wake fd. It runs once, either on the poller goroutine
// after its final iteration, or inline if Run was never called.
func (s *Selector) terminate() {
	pending := s.updates.close(nil)
	for _, u := range pending {
		if u.job != nil {
			s.complete(u.job, OutcomeDisposed, 0, ErrDisposed)
			u.job = nil
		}
	}
	s.updates.markApplied(pending)

	for _, h := range s.registry.handles() {
		for _, j := range s.registry.removeAll(h) {
			s.complete(j, OutcomeDisposed, 0, ErrDisposed)
		}
	}

	s.wakeMu.Lock()
	s.wakeClosed = true
	if err := s.backend.Close(); err != nil {
		if b := s.log.Warning(); b.Enabled() {
			b.Err(err).Log("ioselector: failed to close backend")
		}
	}
	_ = closeFD(s.wakeR)
	if s.wakeW != s.wakeR {
		_ = closeFD(s.wakeW)
	}
	s.wakeMu.Unlock()

	s.state.Store(StateTerminated)
}
