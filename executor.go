package ioselector

import (
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

const defaultWorkerIdleTimeout = 10 * time.Second

// Executor runs job callbacks. Implementations must not run the task on the
// calling goroutine, which is the poller goroutine.
type Executor interface {
	Execute(task func())
}

// workerPool is the default Executor. Tasks are handed directly to an idle
// worker where possible, otherwise a worker is started. With a bound on the
// number of workers, tasks that cannot be handed off wait in a FIFO.
type workerPool struct {
	log         selectorLogger
	metrics     *Metrics
	idle        []chan func() // stack, most recently idle last
	queue       taskQueue
	gids        sync.Map // goroutine ids of running workers
	pending     sync.WaitGroup
	mu          sync.Mutex
	maxWorkers  int
	running     int
	idleTimeout time.Duration
}

func newWorkerPool(log selectorLogger, metrics *Metrics, maxWorkers int, idleTimeout time.Duration) *workerPool {
	return &workerPool{
		log:         log,
		metrics:     metrics,
		maxWorkers:  maxWorkers,
		idleTimeout: idleTimeout,
	}
}

func (p *workerPool) Execute(task func()) {
	p.pending.Add(1)
	p.mu.Lock()
	if n := len(p.idle); n != 0 {
		ch := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		ch <- task // buffered, never blocks
		return
	}
	if p.maxWorkers == 0 || p.running < p.maxWorkers {
		p.running++
		p.mu.Unlock()
		go p.worker(task)
		return
	}
	p.queue.Push(task)
	p.mu.Unlock()
}

func (p *workerPool) worker(task func()) {
	gid := getGoroutineID()
	p.gids.Store(gid, struct{}{})
	defer p.gids.Delete(gid)

	ch := make(chan func(), 1)
	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()
	for {
		p.run(task)

		p.mu.Lock()
		if next, ok := p.queue.Pop(); ok {
			p.mu.Unlock()
			task = next
			continue
		}
		p.idle = append(p.idle, ch)
		p.mu.Unlock()

		timer.Reset(p.idleTimeout)
		select {
		case task = <-ch:
			continue
		case <-timer.C:
		}

		p.mu.Lock()
		if p.removeIdle(ch) {
			p.running--
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		// claimed by Execute just as the timer fired
		task = <-ch
	}
}

// removeIdle removes ch from the idle stack, returning false if it was not
// present. The caller must hold mu.
func (p *workerPool) removeIdle(ch chan func()) bool {
	for i, c := range p.idle {
		if c == ch {
			copy(p.idle[i:], p.idle[i+1:])
			p.idle[len(p.idle)-1] = nil
			p.idle = p.idle[:len(p.idle)-1]
			return true
		}
	}
	return false
}

// run executes task with panic recovery.
func (p *workerPool) run(task func()) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			if p.metrics != nil {
				p.metrics.recordPanic()
			}
			if b := p.log.limited(logiface.LevelError, logCategoryPanic); b != nil {
				b.Err(PanicError{Value: r}).Log("ioselector: callback panicked")
			}
		}
	}()
	task()
}

// wait blocks until every task passed to Execute so far has returned.
func (p *workerPool) wait() {
	p.pending.Wait()
}

// isWorker reports whether the caller is running on one of the pool's
// workers.
func (p *workerPool) isWorker() bool {
	_, ok := p.gids.Load(getGoroutineID())
	return ok
}

// workers returns the number of running workers, and how many are idle.
func (p *workerPool) workers() (running, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, len(p.idle)
}
