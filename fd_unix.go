//go:build linux || darwin

package ioselector

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const platformSupported = true

func closeFD(fd int) error {
	return unix.Close(fd)
}

// signalWakeFd makes the read end of the wake fd readable. EAGAIN means it
// already is.
func signalWakeFd(fd int) error {
	var one uint64 = 1
	_, err := unix.Write(fd, (*[8]byte)(unsafe.Pointer(&one))[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// drainWakeFd reads until the wake fd would block.
func drainWakeFd(fd int) {
	var buf [64]byte
	for {
		if n, err := unix.Read(fd, buf[:]); err != nil || n == 0 {
			return
		}
	}
}
