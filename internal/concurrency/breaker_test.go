package concurrency

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream unavailable")

func failingCall() error { return errDownstream }
func okCall() error      { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("search", BreakerConfig{})

	for i := 0; i < 5; i++ {
		err := cb.Execute(failingCall)
		require.ErrorIs(t, err, errDownstream)
	}

	assert.Equal(t, BreakerOpen, cb.State())

	// While open, calls fail fast without invoking the operation.
	invoked := false
	err := cb.Execute(func() error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := NewCircuitBreaker("search", BreakerConfig{})

	for i := 0; i < 4; i++ {
		_ = cb.Execute(failingCall)
	}

	assert.Equal(t, BreakerClosed, cb.State())
	assert.NoError(t, cb.Execute(okCall))
}

func TestCircuitBreaker_StaysClosedWhenFailureRatioLow(t *testing.T) {
	cb := NewCircuitBreaker("search", BreakerConfig{})

	// 5 failures diluted by 6 successes: ratio under one half.
	for i := 0; i < 6; i++ {
		require.NoError(t, cb.Execute(okCall))
	}
	for i := 0; i < 5; i++ {
		_ = cb.Execute(failingCall)
	}

	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("search", BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          20 * time.Millisecond,
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(failingCall)
	}
	require.Equal(t, BreakerOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, BreakerHalfOpen, cb.State())

	// Trial calls pass through; three consecutive successes close the circuit.
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(okCall))
	}
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("search", BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          20 * time.Millisecond,
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(failingCall)
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, BreakerHalfOpen, cb.State())

	require.NoError(t, cb.Execute(okCall)) // partial recovery is not enough
	require.ErrorIs(t, cb.Execute(failingCall), errDownstream)

	assert.Equal(t, BreakerOpen, cb.State())
}

func TestCircuitBreaker_ReturnsOriginalError(t *testing.T) {
	cb := NewCircuitBreaker("search", BreakerConfig{})

	err := cb.Execute(failingCall)

	assert.ErrorIs(t, err, errDownstream)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_WindowEviction(t *testing.T) {
	cb := NewCircuitBreaker("search", BreakerConfig{WindowSize: 10})

	// Fill the window with successes, then push them out with failures.
	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Execute(okCall))
	}
	for i := 0; i < 5; i++ {
		_ = cb.Execute(failingCall)
	}

	snap := cb.Snapshot()
	assert.Equal(t, 10, snap.WindowSamples)
	assert.Equal(t, 5, snap.WindowFailures)
	// 5/10 hits the one-half ratio with enough samples.
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	cb := NewCircuitBreaker("embedding", BreakerConfig{})
	_ = cb.Execute(failingCall)

	snap := cb.Snapshot()

	assert.Equal(t, "embedding", snap.Name)
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, 1, snap.FailureCount)
	assert.False(t, snap.LastFailureTime.IsZero())
}
