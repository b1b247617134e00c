package ioselector

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_unbounded(t *testing.T) {
	p := newWorkerPool(selectorLogger{}, nil, 0, time.Minute)

	const n = 50
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})
	for i := 0; i < n; i++ {
		p.Execute(func() {
			started.Done()
			<-release
		})
	}
	// every task runs concurrently
	started.Wait()
	running, idle := p.workers()
	assert.Equal(t, n, running)
	assert.Zero(t, idle)

	close(release)
	p.wait()
	require.Eventually(t, func() bool {
		_, idle := p.workers()
		return idle == n
	}, 5*time.Second, time.Millisecond)
}

func TestWorkerPool_bounded(t *testing.T) {
	p := newWorkerPool(selectorLogger{}, nil, 2, time.Minute)

	var active, peak, done atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 20; i++ {
		p.Execute(func() {
			n := active.Add(1)
			for {
				v := peak.Load()
				if n <= v || peak.CompareAndSwap(v, n) {
					break
				}
			}
			<-release
			active.Add(-1)
			done.Add(1)
		})
	}

	running, _ := p.workers()
	assert.Equal(t, 2, running)

	close(release)
	p.wait()
	assert.Equal(t, int32(20), done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorkerPool_boundedFIFO(t *testing.T) {
	p := newWorkerPool(selectorLogger{}, nil, 1, time.Minute)

	var mu sync.Mutex
	var order []int
	gate := make(chan struct{})
	p.Execute(func() { <-gate })
	for i := 0; i < 10; i++ {
		i := i
		p.Execute(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	close(gate)
	p.wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestWorkerPool_reusesIdleWorkers(t *testing.T) {
	p := newWorkerPool(selectorLogger{}, nil, 0, time.Minute)

	for i := 0; i < 10; i++ {
		done := make(chan struct{})
		p.Execute(func() { close(done) })
		<-done
		require.Eventually(t, func() bool {
			_, idle := p.workers()
			return idle == 1
		}, 5*time.Second, time.Millisecond)
	}
	running, _ := p.workers()
	assert.Equal(t, 1, running)
}

func TestWorkerPool_idleWorkersExit(t *testing.T) {
	p := newWorkerPool(selectorLogger{}, nil, 0, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		p.Execute(func() {})
	}
	p.wait()
	require.Eventually(t, func() bool {
		running, idle := p.workers()
		return running == 0 && idle == 0
	}, 5*time.Second, time.Millisecond)

	// the pool still works afterward
	done := make(chan struct{})
	p.Execute(func() { close(done) })
	<-done
}

func TestWorkerPool_recoversPanics(t *testing.T) {
	m := newMetrics()
	p := newWorkerPool(selectorLogger{}, m, 1, time.Minute)

	var ran atomic.Bool
	p.Execute(func() { panic("boom") })
	p.Execute(func() { ran.Store(true) })
	p.wait()

	assert.True(t, ran.Load())
	assert.Equal(t, uint64(1), m.snapshot().Panics)
}
