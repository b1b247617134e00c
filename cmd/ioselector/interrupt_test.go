//go:build linux

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-ioselector/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptDemo(t *testing.T) {
	opts := []guard.Option{guard.WithRetryInterval(10 * time.Millisecond)}
	res, err := interruptDemo(context.Background(), 3, 20*time.Millisecond, opts, nil)
	require.NoError(t, err)

	assert.NoError(t, res.CloseErr)
	assert.Equal(t, 3, res.Threads)
	assert.Equal(t, 3, res.Blocked)
	assert.Equal(t, 0, res.Refs)
	assert.True(t, res.Released)

	var buf bytes.Buffer
	res.print(&buf)
	assert.Contains(t, buf.String(), "blocked:  3 of 3\n")
	assert.Contains(t, buf.String(), "released: true\n")
	assert.NotContains(t, buf.String(), "error:")
}

func TestInterruptDemo_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := interruptDemo(ctx, 1, time.Hour, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Released)
	assert.Equal(t, 0, res.Refs)
}
