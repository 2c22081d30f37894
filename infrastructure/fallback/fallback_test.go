package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, Jitter: 0}
}

func TestPrimarySuccessSkipsFallbacks(t *testing.T) {
	h := NewHandler(fastConfig())
	fallbackRan := false

	res := h.Execute(context.Background(),
		func(ctx context.Context) (interface{}, error) { return "live", nil },
		func(ctx context.Context) (interface{}, error) { fallbackRan = true; return nil, nil },
	)

	require.NoError(t, res.Err)
	assert.Equal(t, "live", res.Value)
	assert.Equal(t, "primary", res.Source)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, fallbackRan)
}

func TestFallbackRunsAfterPrimaryFails(t *testing.T) {
	h := NewHandler(fastConfig())

	res := h.Execute(context.Background(),
		func(ctx context.Context) (interface{}, error) { return nil, errors.New("store down") },
		func(ctx context.Context) (interface{}, error) { return "buffered", nil },
	)

	require.NoError(t, res.Err)
	assert.Equal(t, "buffered", res.Value)
	assert.Equal(t, "fallback", res.Source)
	assert.Equal(t, 2, res.Attempts)
}

func TestExhaustedChainReturnsLastError(t *testing.T) {
	h := NewHandler(fastConfig())
	first := errors.New("first")
	last := errors.New("last")

	res := h.Execute(context.Background(),
		func(ctx context.Context) (interface{}, error) { return nil, first },
		func(ctx context.Context) (interface{}, error) { return nil, last },
	)

	assert.ErrorIs(t, res.Err, last)
	assert.Equal(t, "exhausted", res.Source)
	assert.Equal(t, 2, res.Attempts)
}

func TestCanceledContextAbortsChain(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Minute, MaxDelay: time.Minute, Multiplier: 2})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan *Result, 1)
	go func() {
		done <- h.Execute(ctx,
			func(ctx context.Context) (interface{}, error) { return nil, errors.New("fail") },
			func(ctx context.Context) (interface{}, error) { return "never", nil },
		)
	}()
	cancel()

	select {
	case res := <-done:
		assert.ErrorIs(t, res.Err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("chain did not abort on cancellation")
	}
}

func TestDelayIsCappedAtMax(t *testing.T) {
	h := NewHandler(Config{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 10, Jitter: 0})
	assert.Equal(t, 4*time.Millisecond, h.delay(3))
}
