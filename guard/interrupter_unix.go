//go:build linux || darwin

package guard

import (
	"errors"

	"golang.org/x/sys/unix"
)

func (SocketInterrupter) Prepare(fd int) error {
	var errs []error
	if err := unix.SetNonblock(fd, true); err != nil {
		errs = append(errs, err)
	}
	// not a socket, or never connected
	if err := unix.Shutdown(fd, unix.SHUT_RDWR); err != nil &&
		err != unix.ENOTSOCK && err != unix.ENOTCONN {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (SocketInterrupter) Signal(t *Token) error {
	return signalThread(t.tid)
}
