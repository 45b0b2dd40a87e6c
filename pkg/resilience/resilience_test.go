package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("redis", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
	})
	clock := time.Unix(1_700_000_000, 0)
	cb.now = func() time.Time { return clock }

	fail := func() error { return errBackend }
	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open circuit must not call through")

	clock = clock.Add(time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("kafka", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	clock := time.Unix(0, 0)
	cb.now = func() time.Time { return clock }

	_ = cb.Execute(func() error { return errBackend })
	require.Equal(t, StateOpen, cb.GetState())

	clock = clock.Add(2 * time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return errBackend }), errBackend)
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var calls int32
		err := Retry(context.Background(), "op", cfg, func() error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errBackend
			}
			return nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls int32
		err := Retry(context.Background(), "op", cfg, func() error {
			atomic.AddInt32(&calls, 1)
			return errBackend
		})
		assert.ErrorIs(t, err, errBackend)
		assert.EqualValues(t, 3, calls)
	})

	t.Run("permanent errors stop immediately", func(t *testing.T) {
		var calls int32
		err := Retry(context.Background(), "op", cfg, func() error {
			atomic.AddInt32(&calls, 1)
			return Permanent(errBackend)
		})
		assert.Equal(t, errBackend, err)
		assert.EqualValues(t, 1, calls)
	})

	t.Run("canceled context aborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, "op", cfg, func() error { return errBackend })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("redis", CircuitBreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return context.Canceled }), context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	_, err := Call(cb, func() (int, error) { return 0, errBackend })
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, cb.GetState())

	_, err = Call(cb, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	snap := cb.Snapshot()
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, 1, snap.Failures)
	assert.EqualValues(t, 1, snap.Rejected)
	assert.Equal(t, "backend down", snap.LastError)
}

func TestDoReportsRetries(t *testing.T) {
	var retried []int
	cfg := RetryConfig{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		OnRetry:      func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	}
	calls := 0
	v, err := Do(context.Background(), "op", cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errBackend
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []int{1, 2}, retried)

	assert.True(t, IsPermanent(Permanent(errBackend)))
	assert.False(t, IsPermanent(errBackend))
	assert.NoError(t, Permanent(nil))
}
