//go:build darwin

package ioselector

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const defaultBackendKind = BackendKqueue

// kqueueBackend is the kqueue(2) backend. Each direction is a separate
// filter, so a handle ready both ways yields two events.
type kqueueBackend struct {
	raw      []unix.Kevent_t
	interest map[Handle]Op
	kq       int
	closed   bool
}

func newKqueueBackend() (Backend, error) {
	return &kqueueBackend{kq: -1, interest: make(map[Handle]Op)}, nil
}

func newEpollBackend() (Backend, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, BackendEpoll)
}

func (b *kqueueBackend) Init(wake Handle) error {
	if b.closed {
		return ErrBackendClosed
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	if _, err := unix.Kevent(kq, opToKevents(wake, OpRead, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
		_ = unix.Close(kq)
		return err
	}
	b.kq = kq
	return nil
}

func (b *kqueueBackend) AddHandle(h Handle, interest Op, isNew bool) error {
	if b.closed {
		return ErrBackendClosed
	}
	old, ok := b.interest[h]
	if isNew && ok {
		return ErrHandleRegistered
	}
	if !isNew && !ok {
		return ErrHandleNotRegistered
	}
	changes := opToKevents(h, old&^interest, unix.EV_DELETE)
	changes = append(changes, opToKevents(h, interest&^old, unix.EV_ADD|unix.EV_ENABLE)...)
	if len(changes) != 0 {
		if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil {
			if isNew {
				// partial registration is possible
				_, _ = unix.Kevent(b.kq, opToKevents(h, interest, unix.EV_DELETE), nil, nil)
			}
			return err
		}
	}
	b.interest[h] = interest
	return nil
}

func (b *kqueueBackend) RemoveHandle(h Handle) error {
	if b.closed {
		return ErrBackendClosed
	}
	old, ok := b.interest[h]
	if !ok {
		return ErrHandleNotRegistered
	}
	delete(b.interest, h)
	if changes := opToKevents(h, old, unix.EV_DELETE); len(changes) != 0 {
		// closing a descriptor removes its filters, so ENOENT/EBADF are benign
		if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil &&
			!errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
			return err
		}
	}
	return nil
}

func (b *kqueueBackend) Poll(events []Event) (int, error) {
	if b.closed {
		return 0, ErrBackendClosed
	}
	if len(events) == 0 {
		return 0, nil
	}
	if cap(b.raw) < len(events) {
		b.raw = make([]unix.Kevent_t, len(events))
	}
	raw := b.raw[:len(events)]
	n, err := unix.Kevent(b.kq, nil, raw, nil)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		events[i] = Event{Handle: Handle(raw[i].Ident), Events: keventToOp(&raw[i])}
	}
	return n, nil
}

func (b *kqueueBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	clear(b.interest)
	if b.kq >= 0 {
		return unix.Close(b.kq)
	}
	return nil
}

func opToKevents(h Handle, op Op, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if op&OpRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(h),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if op&OpWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(h),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

func keventToOp(kev *unix.Kevent_t) Op {
	var op Op
	switch kev.Filter {
	case unix.EVFILT_READ:
		op |= OpRead
	case unix.EVFILT_WRITE:
		op |= OpWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		op |= OpError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		op |= OpHangup
	}
	return op
}
