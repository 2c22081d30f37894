package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
)

const defaultRequestTimeout = 30 * time.Second

// TimeoutMiddleware bounds how long one request may run. Handlers that
// respect their context stop early; ones that don't still get their
// response replaced with a 504 so the client is never left hanging.
type TimeoutMiddleware struct {
	timeout time.Duration
}

// NewTimeoutMiddleware builds the middleware; timeout <= 0 selects the
// 30s default.
func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &TimeoutMiddleware{timeout: timeout}
}

// Handler runs next with a deadline-bound context.
func (m *TimeoutMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), m.timeout)
		defer cancel()

		done := make(chan struct{})
		tw := &guardedWriter{ResponseWriter: w}

		go func() {
			next.ServeHTTP(tw, r.WithContext(ctx))
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded && tw.claim() {
				httputil.WriteErrorResponse(w, r, http.StatusGatewayTimeout,
					"REQUEST_TIMEOUT", "request timed out",
					map[string]interface{}{"timeout_seconds": m.timeout.Seconds()})
			}
		}
	})
}

// guardedWriter makes sure only one of the handler goroutine and the
// timeout path writes a response.
type guardedWriter struct {
	http.ResponseWriter
	mu    sync.Mutex
	wrote bool
}

// claim reserves the response for the caller; it returns false when the
// handler already wrote.
func (w *guardedWriter) claim() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.wrote {
		return false
	}
	w.wrote = true
	return true
}

func (w *guardedWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.wrote {
		return
	}
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *guardedWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	w.wrote = true
	w.mu.Unlock()
	return w.ResponseWriter.Write(b)
}
