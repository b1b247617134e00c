//go:build linux || darwin

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/joeycumines/go-ioselector"
	"github.com/joeycumines/go-ioselector/guard"
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Run a TCP echo server on the selector",
	Long: `Serves TCP echo on raw non-blocking sockets. Accept and read readiness come
from the selector, and every connection's syscalls are registered with a
blocking-call guard, which releases the descriptor on close.`,
	Args: cobra.NoArgs,
	RunE: runEcho,
}

func init() {
	echoCmd.Flags().String("addr", "", "IPv4 listen address, host:port")
	echoCmd.Flags().Int("max-conns", 0, "maximum concurrent connections")
}

func runEcho(cmd *cobra.Command, _ []string) error {
	cfg := state.cfg
	flags := cmd.Flags()
	if flags.Changed("addr") {
		v, err := flags.GetString("addr")
		if err != nil {
			return fmt.Errorf("failed to get addr flag: %w", err)
		}
		cfg.Echo.Addr = v
	}
	if flags.Changed("max-conns") {
		v, err := flags.GetInt("max-conns")
		if err != nil {
			return fmt.Errorf("failed to get max-conns flag: %w", err)
		}
		cfg.Echo.MaxConns = v
	}

	sel, err := ioselector.New(cfg.selectorOptions(state.logger)...)
	if err != nil {
		return err
	}
	srv := newEchoServer(sel, cfg, state.logger)
	if err := srv.listen(cfg.Echo.Addr); err != nil {
		_ = sel.Close()
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", srv.addr())

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return sel.Run(ctx) })
	g.Go(func() error {
		defer sel.Close()
		return srv.serve(ctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type echoServer struct {
	sel       *ioselector.Selector
	logger    *logiface.Logger[logiface.Event]
	conns     map[int]*guard.Guard
	accept    func(fd int) (int, unix.Sockaddr, error)
	guardOpts []guard.Option
	wg        sync.WaitGroup
	mu        sync.Mutex
	lfd       int
	maxConns  int
}

func newEchoServer(sel *ioselector.Selector, cfg config, logger *logiface.Logger[logiface.Event]) *echoServer {
	return &echoServer{
		sel:       sel,
		logger:    logger,
		conns:     make(map[int]*guard.Guard),
		accept:    unix.Accept,
		guardOpts: cfg.guardOptions(logger),
		lfd:       -1,
		maxConns:  cfg.Echo.MaxConns,
	}
}

func (s *echoServer) listen(addr string) error {
	tcp, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return err
	}
	sa := &unix.SockaddrInet4{Port: tcp.Port}
	if ip := tcp.IP.To4(); ip != nil {
		copy(sa.Addr[:], ip)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	unix.CloseOnExec(fd)
	if err := s.bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.lfd = fd
	return nil
}

func (s *echoServer) bind(fd int, sa unix.Sockaddr) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return err
	}
	return unix.SetNonblock(fd, true)
}

// addr returns the bound address, resolving port 0.
func (s *echoServer) addr() string {
	sa, err := unix.Getsockname(s.lfd)
	if err != nil {
		return ""
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return ""
	}
	return net.JoinHostPort(net.IP(in4.Addr[:]).String(), strconv.Itoa(in4.Port))
}

// serve accepts connections until ctx is done, the selector closes, or
// accept fails, then closes every connection and the listener.
func (s *echoServer) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer s.shutdown(cancel)
	for {
		if _, err := s.sel.Await(ctx, ioselector.Handle(s.lfd), ioselector.OpRead); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for {
			nfd, _, err := s.accept(s.lfd)
			if err == unix.EAGAIN {
				break
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			if err != nil {
				return err
			}
			s.open(ctx, nfd)
		}
	}
}

func (s *echoServer) open(ctx context.Context, fd int) {
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return
	}

	s.mu.Lock()
	if len(s.conns) >= s.maxConns {
		s.mu.Unlock()
		_ = unix.Close(fd)
		if b := s.logger.Warning(); b.Enabled() {
			b.Int("max_conns", s.maxConns).Log("echo: connection rejected")
		}
		return
	}
	g, err := guard.New(fd, append(slices.Clip(s.guardOpts), guard.WithRelease(func() error { return unix.Close(fd) }))...)
	if err != nil {
		s.mu.Unlock()
		_ = unix.Close(fd)
		return
	}
	s.conns[fd] = g
	s.wg.Add(1)
	s.mu.Unlock()

	if b := s.logger.Debug(); b.Enabled() {
		b.Int("fd", fd).Log("echo: connection accepted")
	}
	go s.handle(ctx, fd, g)
}

func (s *echoServer) handle(ctx context.Context, fd int, g *guard.Guard) {
	defer s.wg.Done()
	defer s.closeConn(fd, g)

	h := ioselector.Handle(fd)
	buf := make([]byte, 4096)
	for {
		if _, err := s.sel.Await(ctx, h, ioselector.OpRead); err != nil {
			return
		}
		n, err := guarded(g, func() (int, error) { return unix.Read(fd, buf) })
		if err == unix.EAGAIN {
			continue
		}
		if err != nil || n == 0 {
			return
		}
		for out := buf[:n]; len(out) != 0; {
			m, err := guarded(g, func() (int, error) { return unix.Write(fd, out) })
			if err == unix.EAGAIN {
				if _, err := s.sel.Await(ctx, h, ioselector.OpWrite); err != nil {
					return
				}
				continue
			}
			if err != nil {
				return
			}
			out = out[m:]
		}
	}
}

// guarded runs a syscall registered with the descriptor's guard, failing
// with guard.ErrInterrupted once the guard is closed.
func guarded(g *guard.Guard, fn func() (int, error)) (n int, err error) {
	tok, err := g.Register()
	if err != nil {
		return 0, err
	}
	defer func() {
		if uerr := g.Unregister(tok); err == nil {
			err = uerr
		}
	}()
	return fn()
}

func (s *echoServer) closeConn(fd int, g *guard.Guard) {
	s.mu.Lock()
	delete(s.conns, fd)
	s.mu.Unlock()

	// the descriptor must leave the selector before it is released
	if err := s.sel.Cancel(ioselector.Handle(fd)); err != nil && !errors.Is(err, ioselector.ErrSelectorClosed) {
		if b := s.logger.Warning(); b.Enabled() {
			b.Int("fd", fd).Err(err).Log("echo: failed to cancel connection")
		}
	}
	if err := g.Close(); err != nil {
		if b := s.logger.Err(); b.Enabled() {
			b.Int("fd", fd).Err(err).Log("echo: failed to close connection")
		}
	}
	if b := s.logger.Debug(); b.Enabled() {
		b.Int("fd", fd).Log("echo: connection closed")
	}
}

// shutdown stops every handler, cancelling the context they wait on.
func (s *echoServer) shutdown(cancel context.CancelFunc) {
	cancel()

	s.mu.Lock()
	for _, g := range s.conns {
		// rejects further syscalls, handlers then close their own connection
		_ = g.Interrupt()
	}
	s.mu.Unlock()
	s.wg.Wait()

	_ = s.sel.Cancel(ioselector.Handle(s.lfd))
	_ = unix.Close(s.lfd)
}
