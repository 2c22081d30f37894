package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig tunes exponential backoff. The collection engine's
// defaults follow the fetch retry policy: base 500ms, doubling, ±25%
// jitter, four attempts.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter in [0,1] spreads each delay across ±(delay*Jitter).
	Jitter float64
}

// DefaultRetryConfig returns general-purpose backoff tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retry runs fn up to MaxAttempts times, sleeping a jittered,
// exponentially growing delay between failures. It returns nil on the
// first success, ctx.Err() if the context ends mid-backoff, and the last
// failure otherwise.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay, cfg.Jitter)):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * jitter
	return d + time.Duration(rand.Float64()*2*spread-spread)
}
