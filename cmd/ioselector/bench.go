//go:build linux || darwin

package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-ioselector"
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure read-readiness dispatch over pipes",
	Long: `Opens a set of pipes, split between concurrent producers. Every round, each
producer submits a read job per pipe, writes a byte to it, and waits for
every callback to consume its byte.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("pipes", 0, "number of pipes")
	benchCmd.Flags().Int("rounds", 0, "rounds per pipe")
	benchCmd.Flags().Int("producers", 0, "number of concurrent producers")
}

type benchResult struct {
	Backend     string
	Metrics     ioselector.MetricsSnapshot
	Completions int64
	Elapsed     time.Duration
}

type pipePair struct {
	r, w int
}

func runBench(cmd *cobra.Command, _ []string) error {
	cfg := state.cfg
	flags := cmd.Flags()
	for name, dst := range map[string]*int{
		"pipes":     &cfg.Bench.Pipes,
		"rounds":    &cfg.Bench.Rounds,
		"producers": &cfg.Bench.Producers,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		*dst = v
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	res, err := bench(cmd.Context(), cfg, state.logger)
	if err != nil {
		return err
	}
	res.print(cmd.OutOrStdout())
	return nil
}

func bench(ctx context.Context, cfg config, logger *logiface.Logger[logiface.Event]) (*benchResult, error) {
	sel, err := ioselector.New(cfg.selectorOptions(logger)...)
	if err != nil {
		return nil, err
	}
	runErr := make(chan error, 1)
	go func() { runErr <- sel.Run(ctx) }()
	defer func() {
		_ = sel.Close()
		<-runErr
	}()

	pipes, err := openPipes(cfg.Bench.Pipes)
	defer closePipes(pipes)
	if err != nil {
		return nil, err
	}

	var completions atomic.Int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < cfg.Bench.Producers; p++ {
		var owned []pipePair
		for i := p; i < len(pipes); i += cfg.Bench.Producers {
			owned = append(owned, pipes[i])
		}
		g.Go(func() error {
			return benchProducer(gctx, sel, owned, cfg.Bench.Rounds, &completions)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	if b := logger.Debug(); b.Enabled() {
		b.Int64("completions", completions.Load()).Dur("elapsed", elapsed).Log("bench finished")
	}

	return &benchResult{
		Backend:     cfg.Backend,
		Metrics:     sel.Metrics(),
		Completions: completions.Load(),
		Elapsed:     elapsed,
	}, nil
}

func benchProducer(ctx context.Context, sel *ioselector.Selector, pipes []pipePair, rounds int, completions *atomic.Int64) error {
	done := make(chan error, len(pipes))
	for r := 0; r < rounds; r++ {
		for _, p := range pipes {
			err := sel.Submit(ioselector.Handle(p.r), ioselector.OpRead, func(c ioselector.Completion) {
				if c.Err != nil {
					done <- c.Err
					return
				}
				var b [1]byte
				_, err := unix.Read(p.r, b[:])
				done <- err
			})
			if err != nil {
				return err
			}
			if _, err := unix.Write(p.w, []byte{1}); err != nil {
				return err
			}
		}
		for range pipes {
			select {
			case err := <-done:
				if err != nil {
					return err
				}
				completions.Add(1)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func openPipes(n int) ([]pipePair, error) {
	pipes := make([]pipePair, 0, n)
	for i := 0; i < n; i++ {
		var fds [2]int
		if err := unix.Pipe(fds[:]); err != nil {
			return pipes, fmt.Errorf("pipe %d: %w", i, err)
		}
		pipes = append(pipes, pipePair{r: fds[0], w: fds[1]})
		for _, fd := range fds {
			unix.CloseOnExec(fd)
			if err := unix.SetNonblock(fd, true); err != nil {
				return pipes, err
			}
		}
	}
	return pipes, nil
}

func closePipes(pipes []pipePair) {
	for _, p := range pipes {
		_ = unix.Close(p.r)
		_ = unix.Close(p.w)
	}
}

func (r *benchResult) print(w io.Writer) {
	rate := float64(r.Completions) / r.Elapsed.Seconds()
	l := r.Metrics.DispatchLatency
	fmt.Fprintf(w, "backend:     %s\n", r.Backend)
	fmt.Fprintf(w, "completions: %d in %s (%.0f/s)\n", r.Completions, r.Elapsed.Round(time.Millisecond), rate)
	if l.Count == 0 {
		return
	}
	fmt.Fprintf(w, "latency:     p50=%s p90=%s p99=%s max=%s mean=%s\n", l.P50, l.P90, l.P99, l.Max, l.Mean)
	fmt.Fprintf(w, "selector:    polls=%d events=%d poll_errors=%d panics=%d buffer=%d workers=%d\n",
		r.Metrics.Polls, r.Metrics.Events, r.Metrics.PollErrors, r.Metrics.Panics, r.Metrics.EventBufferSize, r.Metrics.Workers)
}
