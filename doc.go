// Package ioselector implements an I/O readiness multiplexer.
//
// A single poller goroutine owns the OS readiness facility (epoll on linux,
// kqueue on darwin, or poll(2) on either) and a registry of pending jobs keyed
// by native handle. Callers submit jobs, each a (handle, operation, callback)
// triple, and the poller dispatches the callback to a worker pool once the
// handle is ready for the requested direction.
//
// Every submitted job receives exactly one terminal [Completion]: ready,
// failed (an error-class event was reported for the handle), or disposed (the
// handle was cancelled, or the selector shut down, first).
//
// Basic usage:
//
//	sel, err := ioselector.New()
//	if err != nil {
//		return err
//	}
//	go sel.Run(ctx)
//	defer sel.Close()
//
//	err = sel.Submit(fd, ioselector.OpRead, func(c ioselector.Completion) {
//		if c.Err != nil {
//			return
//		}
//		// fd is readable
//	})
//
// Jobs are dispatched in FIFO order per direction, per handle. Readiness is
// level-triggered: a handle stays registered with the backend only while at
// least one job is pending for it.
package ioselector
