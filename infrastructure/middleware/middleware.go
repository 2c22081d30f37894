// Package middleware carries the HTTP middleware chain for the operator
// surface: panic recovery, request logging with trace ids, Prometheus
// instrumentation, security headers, request timeouts, body limits,
// per-client rate limiting, and graceful shutdown.
package middleware

import "net/http"

// statusWriter captures the status code a handler writes so the logging
// and metrics middleware can report it after the fact.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.written {
		return
	}
	w.status = code
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}
