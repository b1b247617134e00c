package ioselector

import (
	"sync"

	"github.com/eapache/queue"
)

type updateKind uint8

const (
	// updateEmpty is a tombstone: an Add invalidated by a later Remove for
	// the same handle, while still queued.
	updateEmpty updateKind = iota
	updateAdd
	updateRemove
)

func (k updateKind) String() string {
	switch k {
	case updateEmpty:
		return "empty"
	case updateAdd:
		return "add"
	case updateRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// update is a request for the poller goroutine to change the registry.
// An update is either queued, held in the poller's current batch, or in
// updatePool. Never more than one.
type update struct {
	job     *job
	handle  Handle
	kind    updateKind
	applied bool // guarded by updateQueue.mu
	waiter  bool // the producer waits for applied, then recycles the update
}

var updatePool = sync.Pool{
	New: func() any {
		return new(update)
	},
}

func acquireUpdate(kind updateKind, h Handle, j *job, waiter bool) *update {
	u := updatePool.Get().(*update)
	u.kind = kind
	u.handle = h
	u.job = j
	u.waiter = waiter
	u.applied = false
	return u
}

func releaseUpdate(u *update) {
	*u = update{}
	updatePool.Put(u)
}

// updateQueue is the FIFO of pending updates, fed by arbitrary goroutines
// and drained only by the poller goroutine.
type updateQueue struct {
	mu      sync.Mutex
	applied sync.Cond
	fifo    *queue.Queue
	closed  bool
}

func newUpdateQueue() *updateQueue {
	q := &updateQueue{fifo: queue.New()}
	q.applied.L = &q.mu
	return q
}

// push enqueues u, returning false (without taking ownership) if the queue
// has been closed. A Remove tombstones every queued Add for the same handle.
func (q *updateQueue) push(u *update) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if u.kind == updateRemove {
		for i := 0; i < q.fifo.Length(); i++ {
			if p := q.fifo.Get(i).(*update); p.kind == updateAdd && p.handle == u.handle {
				p.kind = updateEmpty
			}
		}
	}
	q.fifo.Add(u)
	return true
}

// wait blocks until the poller has applied u, then recycles it.
// Only valid for updates pushed with waiter set.
func (q *updateQueue) wait(u *update) {
	q.mu.Lock()
	for !u.applied {
		q.applied.Wait()
	}
	q.mu.Unlock()
	releaseUpdate(u)
}

// drain appends all queued updates to buf, in FIFO order.
func (q *updateQueue) drain(buf []*update) []*update {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.fifo.Length() > 0 {
		buf = append(buf, q.fifo.Remove().(*update))
	}
	return buf
}

// markApplied releases the waiters of batch and recycles the rest.
// The poller must not touch any update in batch afterward.
func (q *updateQueue) markApplied(batch []*update) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	for _, u := range batch {
		if u.waiter {
			u.applied = true
		} else {
			releaseUpdate(u)
		}
	}
	q.mu.Unlock()
	q.applied.Broadcast()
}

// close rejects further pushes, and returns the updates still queued.
func (q *updateQueue) close(buf []*update) []*update {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.drain(buf)
}

func (q *updateQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fifo.Length()
}
