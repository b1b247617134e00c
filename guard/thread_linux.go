//go:build linux

package guard

import (
	"golang.org/x/sys/unix"
)

func currentThreadID() int {
	return unix.Gettid()
}

// signalThread sends SIGURG, which the Go runtime tolerates as spurious, to
// an OS thread of this process.
func signalThread(tid int) error {
	if tid == 0 {
		return ErrSignalUnsupported
	}
	return unix.Tgkill(unix.Getpid(), tid, unix.SIGURG)
}
