//go:build linux

package ioselector

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const defaultBackendKind = BackendEpoll

// epollBackend is the level-triggered epoll(7) backend.
type epollBackend struct {
	raw    []unix.EpollEvent
	epfd   int
	wake   Handle
	closed bool
}

func newEpollBackend() (Backend, error) {
	return &epollBackend{epfd: -1, wake: -1}, nil
}

func newKqueueBackend() (Backend, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, BackendKqueue)
}

func (b *epollBackend) Init(wake Handle) error {
	if b.closed {
		return ErrBackendClosed
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wake)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(wake), &ev); err != nil {
		_ = unix.Close(epfd)
		return err
	}
	b.epfd = epfd
	b.wake = wake
	return nil
}

func (b *epollBackend) AddHandle(h Handle, interest Op, isNew bool) error {
	if b.closed {
		return ErrBackendClosed
	}
	op := unix.EPOLL_CTL_MOD
	if isNew {
		op = unix.EPOLL_CTL_ADD
	}
	ev := unix.EpollEvent{Events: opToEpoll(interest), Fd: int32(h)}
	if err := unix.EpollCtl(b.epfd, op, int(h), &ev); err != nil {
		return translateCtlError(err)
	}
	return nil
}

func (b *epollBackend) RemoveHandle(h Handle) error {
	if b.closed {
		return ErrBackendClosed
	}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(h), nil); err != nil {
		return translateCtlError(err)
	}
	return nil
}

func (b *epollBackend) Poll(events []Event) (int, error) {
	if b.closed {
		return 0, ErrBackendClosed
	}
	if len(events) == 0 {
		return 0, nil
	}
	if cap(b.raw) < len(events) {
		b.raw = make([]unix.EpollEvent, len(events))
	}
	raw := b.raw[:len(events)]
	n, err := unix.EpollWait(b.epfd, raw, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		events[i] = Event{Handle: Handle(raw[i].Fd), Events: epollToOp(raw[i].Events)}
	}
	return n, nil
}

func (b *epollBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.epfd >= 0 {
		return unix.Close(b.epfd)
	}
	return nil
}

// translateCtlError maps the errnos of a mismatched ADD/MOD/DEL onto the
// backend-neutral sentinels, keeping the errno in the chain.
func translateCtlError(err error) error {
	switch {
	case errors.Is(err, unix.EEXIST):
		return fmt.Errorf("%w: %w", ErrHandleRegistered, err)
	case errors.Is(err, unix.ENOENT):
		return fmt.Errorf("%w: %w", ErrHandleNotRegistered, err)
	default:
		return err
	}
}

func opToEpoll(op Op) uint32 {
	var v uint32
	if op&OpRead != 0 {
		v |= unix.EPOLLIN
	}
	if op&OpWrite != 0 {
		v |= unix.EPOLLOUT
	}
	return v
}

func epollToOp(v uint32) Op {
	var op Op
	if v&unix.EPOLLIN != 0 {
		op |= OpRead
	}
	if v&unix.EPOLLOUT != 0 {
		op |= OpWrite
	}
	if v&unix.EPOLLERR != 0 {
		op |= OpError
	}
	if v&unix.EPOLLHUP != 0 {
		op |= OpHangup
	}
	return op
}
