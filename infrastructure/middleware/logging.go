package middleware

import (
	"net/http"
	"time"

	"github.com/R3E-Network/threatwatch/infrastructure/logging"
)

// LoggingMiddleware assigns every request a trace id (honoring an
// X-Trace-ID supplied by the caller) and logs method, path, status, and
// latency once the handler returns.
func LoggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = logging.NewTraceID()
			}
			ctx := logging.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Trace-ID", traceID)

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			logger.LogRequest(ctx, r.Method, r.URL.Path, sw.status, time.Since(start))
		})
	}
}
