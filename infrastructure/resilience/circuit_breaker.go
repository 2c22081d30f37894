// Package resilience carries the retry and circuit-breaking primitives
// shared by the fetchers and the sink clients. A source that starts
// timing out trips its own breaker without slowing any other source; the
// graph/vector sinks use the same breaker to stop hammering a collaborator
// that is plainly down.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen means the breaker is rejecting calls outright.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests means the half-open probe quota is spent.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes one breaker.
type Config struct {
	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// HalfOpenMax caps how many probes are admitted during one half-open
	// phase (a finished probe does not free a slot); that many probe
	// successes close the circuit again, and any probe failure reopens it.
	HalfOpenMax int
	// OnStateChange is invoked asynchronously on each transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the tuning used for sources with no override.
func DefaultConfig() Config {
	return Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 3,
	}
}

// CircuitBreaker tracks failures for one remote party.
type CircuitBreaker struct {
	mu          sync.Mutex
	cfg         Config
	state       State
	failures    int
	successes   int
	probes      int
	openedUntil time.Time
}

// New builds a closed breaker, repairing non-positive config values.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// State reports the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn if the breaker admits it and records the outcome.
// The breaker's own rejections are ErrCircuitOpen/ErrTooManyRequests;
// any other error came from fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Now().Before(cb.openedUntil) {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probes = 1
		return nil
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return ErrTooManyRequests
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		switch cb.state {
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.cfg.HalfOpenMax {
				cb.transition(StateClosed)
			}
		case StateClosed:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	switch cb.state {
	case StateHalfOpen:
		cb.open()
	case StateClosed:
		if cb.failures >= cb.cfg.MaxFailures {
			cb.open()
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedUntil = time.Now().Add(cb.cfg.Timeout)
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(from, to)
	}
}
