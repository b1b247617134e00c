package ioselector

import (
	"sync/atomic"
	"time"
)

// job is a registered (handle, operation, callback) unit of pending work.
// It is owned by exactly one of: the update queue, the registry, or a worker.
type job struct {
	submitted time.Time
	callback  Callback
	handle    Handle
	op        Op
	done      atomic.Bool
}

func newJob(h Handle, op Op, cb Callback) *job {
	return &job{
		submitted: time.Now(),
		callback:  cb,
		handle:    h,
		op:        op,
	}
}

// finish marks the job as completed, returning false if it already was.
func (j *job) finish() bool {
	return j.done.CompareAndSwap(false, true)
}
