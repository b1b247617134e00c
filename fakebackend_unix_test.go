//go:build linux || darwin

package ioselector

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// backendCall records a single AddHandle or RemoveHandle.
type backendCall struct {
	kind     string // "add" or "remove"
	handle   Handle
	interest Op
	isNew    bool
}

// fakeBackend is a scripted Backend. Events queued by fire are delivered by
// the next Poll, once, if the handle is registered at that point. Poll also
// watches the real wake fd, so the selector's wakeups behave as usual.
type fakeBackend struct {
	interest map[Handle]Op
	addErrs  map[Handle]error
	pending  []Event
	pollErrs []error
	calls    []backendCall
	mu       sync.Mutex
	wake     Handle
	polls    int
	// maxBatch is the most events returned by a single Poll.
	maxBatch int
	closed   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		interest: make(map[Handle]Op),
		addErrs:  make(map[Handle]error),
		wake:     -1,
	}
}

func (b *fakeBackend) Init(wake Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wake = wake
	return nil
}

func (b *fakeBackend) AddHandle(h Handle, interest Op, isNew bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	b.calls = append(b.calls, backendCall{kind: "add", handle: h, interest: interest, isNew: isNew})
	if err := b.addErrs[h]; err != nil {
		return err
	}
	_, ok := b.interest[h]
	if isNew && ok {
		return ErrHandleRegistered
	}
	if !isNew && !ok {
		return ErrHandleNotRegistered
	}
	b.interest[h] = interest
	return nil
}

func (b *fakeBackend) RemoveHandle(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	b.calls = append(b.calls, backendCall{kind: "remove", handle: h})
	if _, ok := b.interest[h]; !ok {
		return ErrHandleNotRegistered
	}
	delete(b.interest, h)
	return nil
}

func (b *fakeBackend) Poll(events []Event) (int, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return 0, ErrBackendClosed
		}
		b.polls++
		if len(b.pollErrs) != 0 {
			err := b.pollErrs[0]
			b.pollErrs = b.pollErrs[1:]
			b.mu.Unlock()
			return 0, err
		}
		var n int
		for n < len(events) && len(b.pending) != 0 {
			ev := b.pending[0]
			b.pending = b.pending[1:]
			if _, ok := b.interest[ev.Handle]; ok {
				events[n] = ev
				n++
			}
		}
		wake := b.wake
		b.mu.Unlock()

		timeout := 10
		if n != 0 {
			timeout = 0
		}
		fds := []unix.PollFd{{Fd: int32(wake), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, timeout); err != nil && err != unix.EINTR {
			return 0, err
		}
		if fds[0].Revents&unix.POLLIN != 0 && n < len(events) {
			events[n] = Event{Handle: wake, Events: OpRead}
			n++
		}
		if n != 0 {
			b.mu.Lock()
			b.maxBatch = max(b.maxBatch, n)
			b.mu.Unlock()
			return n, nil
		}
	}
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// fire queues an event for delivery by the next Poll.
func (b *fakeBackend) fire(h Handle, events Op) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, Event{Handle: h, Events: events})
}

// fireAll queues events for every handle, delivered together when the
// buffer passed to Poll is large enough.
func (b *fakeBackend) fireAll(hs []Handle, events Op) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range hs {
		b.pending = append(b.pending, Event{Handle: h, Events: events})
	}
}

func (b *fakeBackend) largestBatch() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxBatch
}

func (b *fakeBackend) failPolls(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pollErrs = append(b.pollErrs, errs...)
}

func (b *fakeBackend) failAdd(h Handle, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addErrs[h] = err
}

func (b *fakeBackend) getCalls() []backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

func (b *fakeBackend) registered(h Handle) (Op, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	op, ok := b.interest[h]
	return op, ok
}

func (b *fakeBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// chanExecutor queues tasks for the test goroutine to run, so dispatch order
// is observable.
type chanExecutor struct {
	tasks chan func()
}

func newChanExecutor() *chanExecutor {
	return &chanExecutor{tasks: make(chan func(), 4096)}
}

func (e *chanExecutor) Execute(task func()) {
	e.tasks <- task
}

// runNext runs the next task, failing the test if none arrives in time.
func (e *chanExecutor) runNext(t *testing.T) {
	t.Helper()
	select {
	case task := <-e.tasks:
		task()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a completion")
	}
}

// runN runs the next n tasks.
func (e *chanExecutor) runN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e.runNext(t)
	}
}

// expectIdle fails the test if a task arrives within d.
func (e *chanExecutor) expectIdle(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-e.tasks:
		t.Fatal("unexpected completion")
	case <-time.After(d):
	}
}

// recorder collects completions. Safe for concurrent use.
type recorder struct {
	completions []Completion
	tags        []string
	mu          sync.Mutex
}

func (r *recorder) callback(tag string) Callback {
	return func(c Completion) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.completions = append(r.completions, c)
		r.tags = append(r.tags, tag)
	}
}

func (r *recorder) get() ([]string, []Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.tags), slices.Clone(r.completions)
}

// startSelector creates a selector over a fakeBackend and a chanExecutor, and
// runs it until the test ends.
func startSelector(t *testing.T, opts ...Option) (*Selector, *fakeBackend, *chanExecutor) {
	t.Helper()
	fb := newFakeBackend()
	ex := newChanExecutor()
	s, err := New(append([]Option{WithBackend(fb), WithExecutor(ex)}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})

	require.Eventually(t, func() bool { return s.State() != StateAwake }, 5*time.Second, time.Millisecond)
	return s, fb, ex
}
