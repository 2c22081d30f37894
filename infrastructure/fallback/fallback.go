// Package fallback runs an operation through an ordered chain of
// alternatives: try the primary, and if it fails, each fallback in turn
// after a backoff pause. The sink clients use it to degrade a failed
// live write into a dead-letter buffer instead of an error surfaced to
// the pipeline.
package fallback

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config tunes the pause between chain steps.
type Config struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter is the fraction of the computed delay randomized away, so
	// many callers failing over together do not retry in lockstep.
	Jitter float64
}

// DefaultConfig returns the chain defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Func is one step of the chain.
type Func func(ctx context.Context) (interface{}, error)

// Handler executes fallback chains with a shared Config.
type Handler struct {
	cfg Config
}

// NewHandler validates cfg and returns a Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = 0.1
	}
	return &Handler{cfg: cfg}
}

// Result reports how a chain ended.
type Result struct {
	Value interface{}
	Err   error
	// Source is "primary" when the first step succeeded, "fallback"
	// when a later step did, and "exhausted" when none did.
	Source   string
	Attempts int
}

// Execute runs primary, then each fallback in order, stopping at the
// first success. Between steps it sleeps a jittered, exponentially
// growing delay; a canceled context aborts the chain immediately.
func (h *Handler) Execute(ctx context.Context, primary Func, fallbacks ...Func) *Result {
	steps := append([]Func{primary}, fallbacks...)

	var lastErr error
	for i, fn := range steps {
		source := "fallback"
		if i == 0 {
			source = "primary"
		}

		value, err := fn(ctx)
		if err == nil {
			return &Result{Value: value, Source: source, Attempts: i + 1}
		}
		lastErr = err

		if i < len(steps)-1 {
			select {
			case <-ctx.Done():
				return &Result{Err: ctx.Err(), Source: source, Attempts: i + 1}
			case <-time.After(h.delay(i)):
			}
		}
	}

	return &Result{Err: lastErr, Source: "exhausted", Attempts: len(steps)}
}

func (h *Handler) delay(step int) time.Duration {
	d := float64(h.cfg.BaseDelay) * math.Pow(h.cfg.Multiplier, float64(step))
	if d > float64(h.cfg.MaxDelay) {
		d = float64(h.cfg.MaxDelay)
	}
	if h.cfg.Jitter > 0 {
		// Spread the delay across [d*(1-jitter), d*(1+jitter)].
		d += d * h.cfg.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
