//go:build linux || darwin

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_bench(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{
		"bench",
		"--backend", "poll",
		"--log-level", "disabled",
		"--max-workers", "2",
		"--pipes", "4",
		"--rounds", "2",
		"--producers", "2",
	})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.ExecuteContext(ctx))
	assert.Contains(t, stdout.String(), "backend:     poll\n")
	assert.Contains(t, stdout.String(), "completions: 8 in ")
	assert.Empty(t, stderr.String())

	assert.Equal(t, 2, state.cfg.Selector.MaxWorkers)
	assert.Equal(t, "poll", state.cfg.Backend)
}

func TestBench(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bench = benchConfig{Pipes: 7, Rounds: 3, Producers: 3}

	res, err := bench(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(21), res.Completions)
	assert.Equal(t, uint64(21), res.Metrics.Ready)
	assert.Equal(t, 21, res.Metrics.DispatchLatency.Count)

	var buf bytes.Buffer
	res.print(&buf)
	assert.Contains(t, buf.String(), "latency:")
}

func TestNewLogger_level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, logiface.LevelWarning)
	logger.Info().Log("hidden")
	logger.Warning().Str("k", "v").Log("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
