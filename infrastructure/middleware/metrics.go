package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/R3E-Network/threatwatch/infrastructure/metrics"
)

// MetricsMiddleware records request count, latency, and in-flight gauge
// for every request. The path label uses the chi route pattern when one
// matched, so /debug/trigger/{sourceID} stays one series regardless of
// how many sources exist.
func MetricsMiddleware(service string, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.IncrementInFlight()
			defer m.DecrementInFlight()

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}

			m.RecordHTTPRequest(service, r.Method, path, strconv.Itoa(sw.status), time.Since(start))
		})
	}
}
