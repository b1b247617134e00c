//go:build linux

package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestGuard_socketInterrupterUnblocksRecv(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	released := make(chan struct{})
	g, err := New(fds[0],
		WithRetryInterval(20*time.Millisecond),
		WithRelease(func() error {
			close(released)
			return unix.Close(fds[0])
		}),
	)
	require.NoError(t, err)

	type result struct {
		err error
		n   int
	}
	registered := make(chan int)
	done := make(chan result, 1)
	go func() {
		tok, err := g.Register()
		if err != nil {
			close(registered)
			done <- result{err: err}
			return
		}
		registered <- tok.ThreadID()
		var buf [16]byte
		n, err := unix.Read(fds[0], buf[:])
		if uerr := g.Unregister(tok); uerr != nil {
			err = uerr
		}
		done <- result{n: n, err: err}
	}()

	tid := <-registered
	assert.Equal(t, 1, g.Refs())
	assert.NotZero(t, tid)

	require.NoError(t, g.Close())

	select {
	case r := <-done:
		// either EOF after shutdown, or EAGAIN if the read began after it
		if r.err != nil {
			assert.ErrorIs(t, r.err, unix.EAGAIN)
		} else {
			assert.Zero(t, r.n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read was not interrupted")
	}

	assert.Equal(t, 0, g.Refs())
	assert.True(t, g.Closed())

	select {
	case <-released:
	default:
		t.Fatal("descriptor not released")
	}
}

func TestSocketInterrupter_prepareNonSocket(t *testing.T) {
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	require.NoError(t, SocketInterrupter{}.Prepare(p[0]))

	flags, err := unix.FcntlInt(uintptr(p[0]), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestSocketInterrupter_signalSelf(t *testing.T) {
	g, err := New(-1)
	require.NoError(t, err)
	tok, err := g.Register()
	require.NoError(t, err)
	defer func() { require.NoError(t, g.Unregister(tok)) }()

	// SIGURG is ignored by the runtime
	assert.NoError(t, SocketInterrupter{}.Signal(tok))
	assert.ErrorIs(t, SocketInterrupter{}.Signal(&Token{}), ErrSignalUnsupported)
}
