package guard

import (
	"runtime"
)

// Interrupter forces threads blocked on a descriptor to return.
type Interrupter interface {
	// Prepare is called once per Interrupt, if threads are registered,
	// before the first round. Errors are logged and otherwise ignored.
	Prepare(fd int) error
	// Signal is called for each registered thread (other than the caller's)
	// in every round.
	Signal(t *Token) error
}

// SocketInterrupter is the default Interrupter. Prepare switches the
// descriptor to non-blocking mode and shuts down both directions (which
// wakes threads blocked in accept, recv or send), and Signal sends SIGURG to
// the registered thread, where supported (linux).
type SocketInterrupter struct{}

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for _, c := range buf[len("goroutine "):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
