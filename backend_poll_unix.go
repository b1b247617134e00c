//go:build linux || darwin

package ioselector

import (
	"golang.org/x/sys/unix"
)

// pollBackend is the poll(2) fallback backend. The wake handle always
// occupies slot 0 of fds.
type pollBackend struct {
	fds    []unix.PollFd
	index  map[Handle]int
	offset int
	closed bool
}

func newPollBackend() (Backend, error) {
	return &pollBackend{index: make(map[Handle]int)}, nil
}

func (b *pollBackend) Init(wake Handle) error {
	if b.closed {
		return ErrBackendClosed
	}
	b.fds = append(b.fds[:0], unix.PollFd{Fd: int32(wake), Events: unix.POLLIN})
	clear(b.index)
	b.index[wake] = 0
	return nil
}

func (b *pollBackend) AddHandle(h Handle, interest Op, isNew bool) error {
	if b.closed {
		return ErrBackendClosed
	}
	i, ok := b.index[h]
	if isNew {
		if ok {
			return ErrHandleRegistered
		}
		b.index[h] = len(b.fds)
		b.fds = append(b.fds, unix.PollFd{Fd: int32(h), Events: opToPoll(interest)})
		return nil
	}
	if !ok {
		return ErrHandleNotRegistered
	}
	b.fds[i].Events = opToPoll(interest)
	return nil
}

func (b *pollBackend) RemoveHandle(h Handle) error {
	if b.closed {
		return ErrBackendClosed
	}
	i, ok := b.index[h]
	if !ok || i == 0 {
		return ErrHandleNotRegistered
	}
	last := len(b.fds) - 1
	b.fds[i] = b.fds[last]
	b.index[Handle(b.fds[i].Fd)] = i
	b.fds = b.fds[:last]
	delete(b.index, h)
	return nil
}

func (b *pollBackend) Poll(events []Event) (int, error) {
	if b.closed {
		return 0, ErrBackendClosed
	}
	if len(events) == 0 || len(b.fds) == 0 {
		return 0, nil
	}
	for i := range b.fds {
		b.fds[i].Revents = 0
	}
	if _, err := unix.Poll(b.fds, -1); err != nil {
		switch err {
		case unix.EINTR:
			return 0, nil
		case unix.EBADF:
			b.markBadFDs()
		default:
			return 0, err
		}
	}
	// start the scan at a rotating offset, so that a buffer smaller than the
	// ready set doesn't starve the tail of fds
	total := len(b.fds)
	start := b.offset % total
	b.offset = start + 1
	var n int
	for k := 0; k < total && n < len(events); k++ {
		fd := &b.fds[(start+k)%total]
		if fd.Revents == 0 {
			continue
		}
		events[n] = Event{Handle: Handle(fd.Fd), Events: pollToOp(fd.Revents)}
		n++
	}
	return n, nil
}

// markBadFDs probes every descriptor individually, flagging those that are
// no longer valid with POLLNVAL.
func (b *pollBackend) markBadFDs() {
	for i := range b.fds {
		probe := []unix.PollFd{{Fd: b.fds[i].Fd, Events: b.fds[i].Events}}
		_, err := unix.Poll(probe, 0)
		switch {
		case err == unix.EBADF, probe[0].Revents&unix.POLLNVAL != 0:
			b.fds[i].Revents = unix.POLLNVAL
		case err == nil:
			b.fds[i].Revents = probe[0].Revents
		}
	}
}

func (b *pollBackend) Close() error {
	b.closed = true
	b.fds = nil
	clear(b.index)
	return nil
}

func opToPoll(op Op) int16 {
	var v int16
	if op&OpRead != 0 {
		v |= unix.POLLIN
	}
	if op&OpWrite != 0 {
		v |= unix.POLLOUT
	}
	return v
}

func pollToOp(v int16) Op {
	var op Op
	if v&unix.POLLIN != 0 {
		op |= OpRead
	}
	if v&unix.POLLOUT != 0 {
		op |= OpWrite
	}
	if v&(unix.POLLERR|unix.POLLNVAL) != 0 {
		op |= OpError
	}
	if v&unix.POLLHUP != 0 {
		op |= OpHangup
	}
	return op
}
