package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote unavailable")

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errRemote })
	}
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute, HalfOpenMax: 1})

	trip(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	trip(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute, HalfOpenMax: 1})

	trip(cb, 2)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	trip(cb, 2)

	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})

	trip(cb, 1)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})

	trip(cb, 1)
	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(context.Background(), func() error { return errRemote })
	assert.Equal(t, StateOpen, cb.State())
}

func TestOnStateChangeFires(t *testing.T) {
	transitions := make(chan [2]State, 4)
	cb := New(Config{
		MaxFailures: 1,
		Timeout:     time.Minute,
		HalfOpenMax: 1,
		OnStateChange: func(from, to State) {
			transitions <- [2]State{from, to}
		},
	})

	trip(cb, 1)

	select {
	case tr := <-transitions:
		assert.Equal(t, StateClosed, tr[0])
		assert.Equal(t, StateOpen, tr[1])
	case <-time.After(time.Second):
		t.Fatal("no transition observed")
	}
}

func TestWithStateLoggingPreservesExistingHook(t *testing.T) {
	called := make(chan struct{}, 1)
	cfg := Config{MaxFailures: 1, Timeout: time.Minute, HalfOpenMax: 1,
		OnStateChange: func(from, to State) { called <- struct{}{} }}

	cb := New(WithStateLogging(cfg, nil, "src-a"))
	trip(cb, 1)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("wrapped hook not invoked")
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}, func() error {
		attempts++
		if attempts < 3 {
			return errRemote
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
	}, func() error {
		attempts++
		return errRemote
	})

	assert.ErrorIs(t, err, errRemote)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, RetryConfig{
		MaxAttempts:  100,
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   1.5,
	}, func() error {
		attempts++
		return errRemote
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_ = Retry(context.Background(), RetryConfig{}, func() error {
		attempts++
		return errRemote
	})
	assert.Equal(t, 1, attempts)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
