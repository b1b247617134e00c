// Package guard coordinates blocking syscalls on a descriptor with a
// concurrent close.
//
// Threads about to block on the descriptor Register with its Guard, and
// Unregister once the syscall returns. The closer calls Interrupt (or Close),
// which rejects new registrations, then repeatedly interrupts the registered
// threads until none remain, or a bounded number of rounds has elapsed. The
// descriptor is released only once no thread is registered, unless
// configured otherwise, see ExhaustionPolicy.
//
//	tok, err := g.Register()
//	if err != nil {
//		return err // closed concurrently
//	}
//	n, err := unix.Read(fd, buf)
//	_ = g.Unregister(tok)
package guard

import (
	"context"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// closedBit is set once the guard is closed, and never cleared.
	closedBit uint32 = 1
	// refOne is a single reference, counted above closedBit.
	refOne uint32 = 2
)

// Guard is the blocking-call guard of a single descriptor. Its state is a
// single packed word, holding the closed bit and the count of registered
// threads, changed only by CAS loops.
type Guard struct {
	interrupter Interrupter
	release     func() error
	log         *guardLogger
	tokens      map[*Token]struct{}
	drained     chan struct{}
	releaseErr  error
	fd          int
	retries     int
	interval    time.Duration
	mu          sync.Mutex
	releaseOnce sync.Once
	state       atomic.Uint32
	policy      ExhaustionPolicy
	// isDrained is set, under mu, once the guard is closed with no refs.
	isDrained bool
	// releasePending is set, under mu, if Close deferred the release.
	releasePending bool
}

// Token represents a thread registered with a Guard.
type Token struct {
	guard    *Guard
	tid      int
	gid      uint64
	released atomic.Bool
}

// ThreadID returns the OS thread id recorded at registration, or zero where
// unavailable.
func (t *Token) ThreadID() int {
	return t.tid
}

// New returns the guard of descriptor fd.
func New(fd int, opts ...Option) (*Guard, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Guard{
		interrupter: cfg.interrupter,
		release:     cfg.release,
		log:         newGuardLogger(cfg.logger, fd),
		tokens:      make(map[*Token]struct{}),
		drained:     make(chan struct{}),
		fd:          fd,
		retries:     cfg.retries,
		interval:    cfg.retryInterval,
		policy:      cfg.policy,
	}, nil
}

// FD returns the guarded descriptor.
func (g *Guard) FD() int {
	return g.fd
}

// Register records the calling thread as about to block on the descriptor.
// It fails with ErrInterrupted if the guard is closed.
//
// On success the calling goroutine is locked to its OS thread, until the
// token is passed to Unregister, which must happen on the same goroutine,
// in a deferred call or equivalent.
func (g *Guard) Register() (*Token, error) {
	for {
		v := g.state.Load()
		if v&closedBit != 0 {
			return nil, ErrInterrupted
		}
		if v > math.MaxUint32-refOne {
			return nil, ErrRefcountOverflow
		}
		if g.state.CompareAndSwap(v, v+refOne) {
			break
		}
	}

	runtime.LockOSThread()
	tok := &Token{
		guard: g,
		tid:   currentThreadID(),
		gid:   goroutineID(),
	}

	g.mu.Lock()
	g.tokens[tok] = struct{}{}
	g.mu.Unlock()

	return tok, nil
}

// Unregister releases a token obtained from Register. If the guard is
// closed, and this was the last registered thread, any goroutine blocked in
// Interrupt or Wait is released, as is a deferred release.
func (g *Guard) Unregister(tok *Token) error {
	if tok == nil || tok.guard != g {
		return ErrInvalidToken
	}
	if !tok.released.CompareAndSwap(false, true) {
		return ErrNotRegistered
	}

	g.mu.Lock()
	delete(g.tokens, tok)
	g.mu.Unlock()

	defer runtime.UnlockOSThread()

	for {
		v := g.state.Load()
		if v < refOne {
			g.log.underflow()
			return ErrRefcountUnderflow
		}
		if !g.state.CompareAndSwap(v, v-refOne) {
			continue
		}
		if v-refOne == closedBit {
			g.markDrained()
		}
		return nil
	}
}

// Interrupt closes the guard, then interrupts registered threads until none
// remain, making up to the configured number of rounds. It returns nil once
// no thread is registered.
//
// If the only registered thread is the caller's own, Interrupt returns nil
// immediately, and the guard drains when the caller unregisters.
//
// If threads remain after the final round, the ExhaustionPolicy applies. It
// is safe to call Interrupt more than once, and concurrently.
func (g *Guard) Interrupt() error {
	v := g.close()
	if v>>1 == 0 {
		return nil
	}

	if err := g.interrupter.Prepare(g.fd); err != nil {
		g.log.prepareFailed(err)
	}

	self := goroutineID()
	timer := time.NewTimer(g.interval)
	defer timer.Stop()

	for round := 0; ; round++ {
		tokens, drained := g.registered()
		if drained {
			return nil
		}
		if len(tokens) == 1 && tokens[0].gid == self {
			return nil
		}
		if round >= g.retries {
			return g.exhausted(tokens)
		}

		for _, t := range tokens {
			if t.gid == self {
				continue
			}
			if err := g.interrupter.Signal(t); err != nil {
				g.log.signalFailed(t, err)
			}
		}

		timer.Reset(g.interval)
		select {
		case <-g.drained:
			return nil
		case <-timer.C:
		}
	}
}

// Close interrupts the guard, then releases the descriptor. The release
// function runs exactly once, immediately if no thread is registered,
// otherwise by the final Unregister (as for ExhaustDeferRelease, or if the
// caller holds the last registration). With ExhaustForceRelease, it has
// already run when Close returns.
//
// Close returns the error from Interrupt, or from the release function, if
// it ran synchronously.
func (g *Guard) Close() error {
	err := g.Interrupt()

	g.mu.Lock()
	if !g.isDrained {
		g.releasePending = true
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()

	if relErr := g.runRelease(); err == nil {
		err = relErr
	}
	return err
}

// Wait blocks until the guard is closed with no registered threads, or ctx
// is done.
func (g *Guard) Wait(ctx context.Context) error {
	select {
	case <-g.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drained returns a channel closed once the guard is closed with no
// registered threads.
func (g *Guard) Drained() <-chan struct{} {
	return g.drained
}

// Refs returns the number of registered threads.
func (g *Guard) Refs() int {
	return int(g.state.Load() >> 1)
}

// Closed reports whether the guard has been closed.
func (g *Guard) Closed() bool {
	return g.state.Load()&closedBit != 0
}

// close sets the closed bit, preserving the refcount, and returns the new
// state.
func (g *Guard) close() uint32 {
	for {
		v := g.state.Load()
		if v&closedBit != 0 {
			return v
		}
		if g.state.CompareAndSwap(v, v|closedBit) {
			v |= closedBit
			if v == closedBit {
				g.markDrained()
			}
			return v
		}
	}
}

// registered returns a snapshot of the registered tokens, and whether the
// guard has drained.
func (g *Guard) registered() ([]*Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isDrained {
		return nil, true
	}
	tokens := make([]*Token, 0, len(g.tokens))
	for t := range g.tokens {
		tokens = append(tokens, t)
	}
	return tokens, false
}

func (g *Guard) markDrained() {
	g.mu.Lock()
	if g.isDrained {
		g.mu.Unlock()
		return
	}
	g.isDrained = true
	close(g.drained)
	pending := g.releasePending
	g.mu.Unlock()

	if pending {
		if err := g.runRelease(); err != nil {
			g.log.releaseFailed(err)
		}
	}
}

func (g *Guard) exhausted(tokens []*Token) error {
	threads := make([]int, len(tokens))
	for i, t := range tokens {
		threads[i] = t.tid
	}
	err := &RetriesExhaustedError{
		Threads: threads,
		Retries: g.retries,
		Policy:  g.policy,
	}
	g.log.exhausted(err)

	switch g.policy {
	case ExhaustPanic:
		panic(err)
	case ExhaustForceRelease:
		if relErr := g.runRelease(); relErr != nil {
			g.log.releaseFailed(relErr)
		}
	}
	return err
}

func (g *Guard) runRelease() error {
	g.releaseOnce.Do(func() {
		if g.release != nil {
			g.releaseErr = g.release()
		}
		g.log.released(g.releaseErr)
	})
	return g.releaseErr
}
