package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)

	require.Equal(t, StateClosed, cb.State())
	require.True(t, cb.Allow())

	cb.Failure()
	cb.Failure()
	require.Equal(t, StateClosed, cb.State(), "should remain closed after 2 failures")

	cb.Failure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())

	time.Sleep(80 * time.Millisecond)
	require.True(t, cb.Allow(), "should allow a trial request after timeout")
	require.Equal(t, StateHalfOpen, cb.State())
	require.False(t, cb.Allow(), "only one trial request at a time")

	// Trial fails: open again
	cb.Failure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	require.True(t, cb.Allow())

	// Trial succeeds: closed
	cb.Success()
	require.Equal(t, StateClosed, cb.State())
	require.Equal(t, 0, cb.failures)
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	boom := errors.New("boom")

	require.NoError(t, cb.Execute(func() error { return nil }))
	require.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called)
	require.Equal(t, "open", cb.State().String())
}
