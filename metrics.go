package ioselector

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics of a Selector. Counters are atomic, the
// dispatch latency estimators are guarded by a mutex.
type Metrics struct {
	latency    dispatchLatency
	submitted  atomic.Uint64
	ready      atomic.Uint64
	failed     atomic.Uint64
	disposed   atomic.Uint64
	cancels    atomic.Uint64
	polls      atomic.Uint64
	pollErrors atomic.Uint64
	events     atomic.Uint64
	panics     atomic.Uint64
	bufferSize atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of a Selector's metrics.
type MetricsSnapshot struct {
	// DispatchLatency is the time from Submit to the job being handed to the
	// executor, for jobs completed with OutcomeReady.
	DispatchLatency LatencySnapshot
	Submitted       uint64
	Ready           uint64
	Failed          uint64
	Disposed        uint64
	Cancels         uint64
	Polls           uint64
	PollErrors      uint64
	Events          uint64
	Panics          uint64
	// EventBufferSize is the current size of the adaptive event buffer.
	EventBufferSize int
	// Workers and IdleWorkers describe the default worker pool, and are
	// zero if a custom Executor is in use.
	Workers     int
	IdleWorkers int
}

// Completed returns the number of jobs that reached a terminal outcome.
func (m MetricsSnapshot) Completed() uint64 {
	return m.Ready + m.Failed + m.Disposed
}

// LatencySnapshot holds streaming estimates of a latency distribution.
type LatencySnapshot struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

type dispatchLatency struct {
	p50   *quantileEstimator
	p90   *quantileEstimator
	p99   *quantileEstimator
	mu    sync.Mutex
	max   time.Duration
	sum   time.Duration
	count int
}

func newMetrics() *Metrics {
	m := &Metrics{}
	m.latency.p50 = newQuantileEstimator(0.50)
	m.latency.p90 = newQuantileEstimator(0.90)
	m.latency.p99 = newQuantileEstimator(0.99)
	return m
}

func (m *Metrics) recordDispatch(d time.Duration) {
	m.ready.Add(1)
	l := &m.latency
	l.mu.Lock()
	l.p50.Observe(float64(d))
	l.p90.Observe(float64(d))
	l.p99.Observe(float64(d))
	l.max = max(l.max, d)
	l.sum += d
	l.count++
	l.mu.Unlock()
}

func (m *Metrics) recordPanic() {
	m.panics.Add(1)
}

func (m *Metrics) snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Submitted:       m.submitted.Load(),
		Ready:           m.ready.Load(),
		Failed:          m.failed.Load(),
		Disposed:        m.disposed.Load(),
		Cancels:         m.cancels.Load(),
		Polls:           m.polls.Load(),
		PollErrors:      m.pollErrors.Load(),
		Events:          m.events.Load(),
		Panics:          m.panics.Load(),
		EventBufferSize: int(m.bufferSize.Load()),
	}
	l := &m.latency
	l.mu.Lock()
	s.DispatchLatency = LatencySnapshot{
		P50:   time.Duration(l.p50.Value()),
		P90:   time.Duration(l.p90.Value()),
		P99:   time.Duration(l.p99.Value()),
		Max:   l.max,
		Count: l.count,
	}
	if l.count != 0 {
		s.DispatchLatency.Mean = l.sum / time.Duration(l.count)
	}
	l.mu.Unlock()
	return s
}
