package ioselector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOp_String(t *testing.T) {
	for op, want := range map[Op]string{
		0:                               "none",
		OpRead:                          "read",
		OpRead | OpWrite:                "read|write",
		OpError | OpHangup:              "error|hangup",
		OpWrite | 1<<10:                 "write|unknown",
		OpRead | OpWrite | OpHangup:     "read|write|hangup",
		OpRead | OpWrite | OpError | 64: "read|write|error|unknown",
	} {
		assert.Equal(t, want, op.String())
	}
}

func TestOp_ready(t *testing.T) {
	assert.Equal(t, OpRead, OpRead.ready())
	assert.Equal(t, OpWrite, (OpWrite | OpError).ready())
	assert.Equal(t, OpRead|OpWrite, OpHangup.ready())
	assert.Equal(t, Op(0), OpError.ready())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "Ready", OutcomeReady.String())
	assert.Equal(t, "Failed", OutcomeFailed.String())
	assert.Equal(t, "Disposed", OutcomeDisposed.String())
	assert.Equal(t, "Unknown", Outcome(0).String())
}

func TestSelectorState_String(t *testing.T) {
	states := []SelectorState{StateAwake, StateApplying, StatePolling, StateDispatching, StateTerminating, StateTerminated}
	names := []string{"Awake", "Applying", "Polling", "Dispatching", "Terminating", "Terminated"}
	for i, s := range states {
		assert.Equal(t, names[i], s.String())
	}
	assert.Equal(t, "Unknown", SelectorState(42).String())
}

func TestFastState_transitions(t *testing.T) {
	var s fastState
	assert.Equal(t, StateAwake, s.Load())
	assert.True(t, s.TryTransition(StateAwake, StateApplying))
	assert.False(t, s.TryTransition(StateAwake, StateApplying))
	s.Store(StateTerminated)
	assert.Equal(t, StateTerminated, s.Load())
}

func TestBackendKind_parse(t *testing.T) {
	for _, k := range []BackendKind{BackendDefault, BackendEpoll, BackendKqueue, BackendPoll} {
		v, err := ParseBackendKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, v)
	}
	v, err := ParseBackendKind("")
	require.NoError(t, err)
	assert.Equal(t, BackendDefault, v)
	_, err = ParseBackendKind("select")
	assert.Error(t, err)
	assert.Equal(t, "BackendKind(7)", BackendKind(7).String())
}

func TestHandleError(t *testing.T) {
	cause := errors.New("EBADF")
	err := error(&HandleError{Cause: cause, Handle: 7})
	assert.ErrorIs(t, err, ErrHandleFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ioselector: handle 7 failed: EBADF", err.Error())

	err = &HandleError{Handle: 7, Events: OpError | OpHangup}
	assert.ErrorIs(t, err, ErrHandleFailed)
	assert.Equal(t, "ioselector: handle 7 failed: events=error|hangup", err.Error())
}

func TestPanicError(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, PanicError{Value: inner}, inner)
	assert.NoError(t, errors.Unwrap(PanicError{Value: "text"}))
	assert.Equal(t, "ioselector: recovered panic: text", PanicError{Value: "text"}.Error())
}

func TestGetGoroutineID(t *testing.T) {
	id := getGoroutineID()
	assert.NotZero(t, id)
	assert.Equal(t, id, getGoroutineID())

	other := make(chan uint64)
	go func() { other <- getGoroutineID() }()
	assert.NotEqual(t, id, <-other)
}
