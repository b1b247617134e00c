//go:build linux || darwin

// Command ioselector drives the ioselector readiness multiplexer and the
// blocking-call guard: a pipe benchmark, a TCP echo server, and a
// demonstration of interrupting blocked reads.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand, resolved before any runs.
type app struct {
	logger *logiface.Logger[logiface.Event]
	cfg    config
}

var state app

var rootCmd = &cobra.Command{
	Use:               "ioselector",
	Short:             "Drive the ioselector readiness multiplexer",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to a TOML config file")
	flags.String("backend", "", "readiness backend (default|epoll|kqueue|poll)")
	flags.String("log-level", "", "log level (emerg|alert|crit|err|warning|notice|info|debug|trace|disabled)")
	flags.Int("max-workers", 0, "bound on the worker pool, 0 for unbounded")
	flags.Bool("metrics", true, "collect selector metrics")

	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(echoCmd)
	rootCmd.AddCommand(interruptCmd)
}

// setup loads the config file, applies flag overrides, and builds the
// logger.
func setup(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	level, _ := parseLevel(cfg.LogLevel)
	state = app{
		logger: newLogger(cmd.ErrOrStderr(), level),
		cfg:    cfg,
	}
	return nil
}

// applyFlags overrides cfg with every flag set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("backend") {
		if cfg.Backend, err = flags.GetString("backend"); err != nil {
			return err
		}
	}
	if flags.Changed("log-level") {
		if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
			return err
		}
	}
	if flags.Changed("max-workers") {
		if cfg.Selector.MaxWorkers, err = flags.GetInt("max-workers"); err != nil {
			return err
		}
	}
	if flags.Changed("metrics") {
		if cfg.Selector.Metrics, err = flags.GetBool("metrics"); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
