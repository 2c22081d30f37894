package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// GracefulShutdown drains an http.Server and runs registered callbacks,
// once, regardless of how many paths ask for shutdown.
type GracefulShutdown struct {
	mu        sync.Mutex
	server    *http.Server
	timeout   time.Duration
	done      chan struct{}
	callbacks []func()
	started   bool
}

// NewGracefulShutdown wraps server with a drain timeout; timeout <= 0
// selects 30s.
func NewGracefulShutdown(server *http.Server, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{
		server:  server,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a callback to run before the server drains.
func (g *GracefulShutdown) OnShutdown(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, fn)
}

// Shutdown runs callbacks then drains the server, bounded by the
// configured timeout. Safe to call more than once.
func (g *GracefulShutdown) Shutdown() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		<-g.done
		return
	}
	g.started = true
	callbacks := g.callbacks
	g.mu.Unlock()

	for _, fn := range callbacks {
		func() {
			defer func() { _ = recover() }()
			fn()
		}()
	}

	if g.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		_ = g.server.Shutdown(ctx)
	}

	close(g.done)
}

// Wait blocks until Shutdown completes.
func (g *GracefulShutdown) Wait() {
	<-g.done
}
