// Package ratelimit wraps golang.org/x/time/rate into the token buckets
// the social fetcher throttles itself with. The fetcher keeps one bucket
// per source id, so two sources on the same platform do not share a
// bucket. Social APIs
// publish hard request quotas; exceeding them converts into 429 cooldowns
// that stall a whole source, so staying under the bucket is cheaper than
// handling the fallout.
package ratelimit

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Config describes one platform's published quota.
type Config struct {
	// RequestsPerSecond is the sustained rate the bucket refills at.
	RequestsPerSecond float64
	// Burst is how far ahead of the sustained rate a caller may run.
	Burst int
}

// DefaultConfig is deliberately conservative. The social fetcher builds
// every source's bucket from it; no source setting overrides it.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 1, Burst: 5}
}

// RateLimiter is a single token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
	cfg     Config
}

// New builds a bucket from cfg, repairing non-positive values.
func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg:     cfg,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a token is available right now, consuming it
// when so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// AllowN is Allow for n tokens at a given instant.
func (r *RateLimiter) AllowN(now time.Time, n int) bool {
	return r.limiter.AllowN(now, n)
}

// RateLimitedClient is an http.Client whose Do blocks on the bucket
// before each request.
type RateLimitedClient struct {
	client  *http.Client
	limiter *RateLimiter
}

// NewRateLimitedClient wraps client; nil means http.DefaultClient.
func NewRateLimitedClient(client *http.Client, cfg Config) *RateLimitedClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RateLimitedClient{client: client, limiter: New(cfg)}
}

// Do waits for a token, then issues the request.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}
