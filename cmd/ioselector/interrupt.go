//go:build linux || darwin

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-ioselector/guard"
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var interruptCmd = &cobra.Command{
	Use:   "interrupt",
	Short: "Close a socket out from under blocked readers",
	Long: `Blocks a number of threads in read(2) on one end of a socket pair, then closes
it through a blocking-call guard, reporting how long the guard took to
unblock and drain them, and whether the descriptor was released.`,
	Args: cobra.NoArgs,
	RunE: runInterrupt,
}

func init() {
	interruptCmd.Flags().Int("threads", 4, "number of blocked readers")
	interruptCmd.Flags().Duration("delay", 100*time.Millisecond, "time the readers block before the close")
}

type interruptResult struct {
	CloseErr error
	Threads  int
	Blocked  int
	Refs     int
	Elapsed  time.Duration
	Released bool
}

func runInterrupt(cmd *cobra.Command, _ []string) error {
	threads, err := cmd.Flags().GetInt("threads")
	if err != nil {
		return fmt.Errorf("failed to get threads flag: %w", err)
	}
	delay, err := cmd.Flags().GetDuration("delay")
	if err != nil {
		return fmt.Errorf("failed to get delay flag: %w", err)
	}
	if threads <= 0 {
		return errors.New("threads must be positive")
	}

	res, err := interruptDemo(cmd.Context(), threads, delay, state.cfg.guardOptions(state.logger), state.logger)
	if err != nil {
		return err
	}
	res.print(cmd.OutOrStdout())
	return nil
}

func interruptDemo(ctx context.Context, threads int, delay time.Duration, opts []guard.Option, logger *logiface.Logger[logiface.Event]) (*interruptResult, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	fd, peer := fds[0], fds[1]
	defer unix.Close(peer)

	var released atomic.Bool
	g, err := guard.New(fd, append(opts, guard.WithRelease(func() error {
		released.Store(true)
		return unix.Close(fd)
	}))...)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	var registered sync.WaitGroup
	var readers errgroup.Group
	registered.Add(threads)
	for i := 0; i < threads; i++ {
		readers.Go(func() error {
			tok, err := g.Register()
			registered.Done()
			if err != nil {
				return err
			}
			var buf [64]byte
			_, readErr := unix.Read(fd, buf[:])
			if err := g.Unregister(tok); err != nil {
				return err
			}
			if readErr != nil && readErr != unix.EAGAIN && readErr != unix.EINTR {
				return readErr
			}
			return nil
		})
	}
	registered.Wait()

	timer := time.NewTimer(delay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	res := &interruptResult{
		Threads: threads,
		Blocked: g.Refs(),
	}
	start := time.Now()
	res.CloseErr = g.Close()
	res.Elapsed = time.Since(start)
	res.Released = released.Load()
	res.Refs = g.Refs()

	if b := logger.Debug(); b.Enabled() {
		b.Int("blocked", res.Blocked).Dur("elapsed", res.Elapsed).Bool("released", res.Released).Log("interrupt finished")
	}

	// readers a deferred release is still waiting on cannot be joined
	if errors.Is(res.CloseErr, guard.ErrRetriesExhausted) {
		return res, nil
	}
	if err := readers.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func (r *interruptResult) print(w io.Writer) {
	fmt.Fprintf(w, "blocked:  %d of %d\n", r.Blocked, r.Threads)
	fmt.Fprintf(w, "closed:   in %s\n", r.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "released: %t\n", r.Released)
	fmt.Fprintf(w, "refs:     %d\n", r.Refs)
	if r.CloseErr != nil {
		fmt.Fprintf(w, "error:    %v\n", r.CloseErr)
	}
}
