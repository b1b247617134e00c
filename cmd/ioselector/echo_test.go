//go:build linux || darwin

package main

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-ioselector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func startEchoServer(t *testing.T, maxConns int) (*echoServer, func() error) {
	t.Helper()
	cfg := defaultConfig()
	cfg.Echo.MaxConns = maxConns
	cfg.Guard.RetryInterval = duration{5 * time.Millisecond}

	sel, err := ioselector.New(cfg.selectorOptions(nil)...)
	require.NoError(t, err)
	srv := newEchoServer(sel, cfg, nil)
	require.NoError(t, srv.listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sel.Run(gctx) })
	g.Go(func() error {
		defer sel.Close()
		return srv.serve(gctx)
	})

	var stopped bool
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	t.Cleanup(func() { _ = stop() })
	return srv, stop
}

func TestEchoServer(t *testing.T) {
	srv, stop := startEchoServer(t, 16)
	addr := srv.addr()
	require.NotEmpty(t, addr)

	conns := make([]net.Conn, 3)
	for i := range conns {
		c, err := net.DialTimeout("tcp4", addr, 5*time.Second)
		require.NoError(t, err)
		defer c.Close()
		conns[i] = c
	}

	for i, c := range conns {
		msg := []byte{'a' + byte(i), 'b', 'c'}
		require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
		_, err := c.Write(msg)
		require.NoError(t, err)
		got := make([]byte, len(msg))
		_, err = io.ReadFull(c, got)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}

	// the server closes its end once the client does
	require.NoError(t, conns[0].Close())
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.conns) == 2
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, stop())

	// shutdown closes every remaining connection
	for _, c := range conns[1:] {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, err := c.Read(make([]byte, 1))
		assert.Error(t, err)
	}
	assert.Empty(t, srv.conns)
}

func TestEchoServer_maxConns(t *testing.T) {
	srv, _ := startEchoServer(t, 1)
	addr := srv.addr()

	first, err := net.DialTimeout("tcp4", addr, 5*time.Second)
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = first.Write([]byte("x"))
	require.NoError(t, err)
	_, err = io.ReadFull(first, make([]byte, 1))
	require.NoError(t, err)

	second, err := net.DialTimeout("tcp4", addr, 5*time.Second)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = second.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestEchoServer_acceptFailureClosesConnections(t *testing.T) {
	cfg := defaultConfig()
	sel, err := ioselector.New(cfg.selectorOptions(nil)...)
	require.NoError(t, err)
	srv := newEchoServer(sel, cfg, nil)
	var failing atomic.Bool
	srv.accept = func(fd int) (int, unix.Sockaddr, error) {
		if failing.Load() {
			return -1, nil, unix.EMFILE
		}
		return unix.Accept(fd)
	}
	require.NoError(t, srv.listen("127.0.0.1:0"))
	addr := srv.addr()

	runErr := make(chan error, 1)
	serveErr := make(chan error, 1)
	go func() { runErr <- sel.Run(context.Background()) }()
	go func() {
		defer sel.Close()
		serveErr <- srv.serve(context.Background())
	}()

	// an idle connection, parked waiting for input
	idle, err := net.DialTimeout("tcp4", addr, 5*time.Second)
	require.NoError(t, err)
	defer idle.Close()
	require.NoError(t, idle.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = idle.Write([]byte("x"))
	require.NoError(t, err)
	_, err = io.ReadFull(idle, make([]byte, 1))
	require.NoError(t, err)

	failing.Store(true)
	next, err := net.DialTimeout("tcp4", addr, 5*time.Second)
	require.NoError(t, err)
	defer next.Close()

	select {
	case err := <-serveErr:
		assert.ErrorIs(t, err, unix.EMFILE)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after accept failed")
	}
	require.NoError(t, <-runErr)

	_, err = idle.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Empty(t, srv.conns)
}

func TestEchoServer_listenInvalid(t *testing.T) {
	sel, err := ioselector.New()
	require.NoError(t, err)
	defer sel.Close()
	srv := newEchoServer(sel, defaultConfig(), nil)
	assert.Error(t, srv.listen("not an address"))
}
