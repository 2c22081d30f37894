// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/threatwatch/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Collection metrics
	FetchTotal       *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	FetchBytesTotal  *prometheus.CounterVec
	ItemsIngested    *prometheus.CounterVec
	ItemsDeduped     *prometheus.CounterVec
	ItemsScored      prometheus.Histogram

	// Periscope metrics
	PeriscopeOpsTotal     *prometheus.CounterVec
	PeriscopeOpDuration   *prometheus.HistogramVec
	PeriscopeTierSize     *prometheus.GaugeVec
	PeriscopeConnsOpen    prometheus.Gauge

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Decay worker metrics
	DecayMovedTotal   *prometheus.CounterVec
	DecayDecayedTotal *prometheus.CounterVec
	DecayExpiredTotal *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Collection metrics
		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatwatch_fetch_total",
				Help: "Total number of source fetch attempts",
			},
			[]string{"source_id", "source_type", "status"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threatwatch_fetch_duration_seconds",
				Help:    "Source fetch duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source_id", "source_type"},
		),
		FetchBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatwatch_fetch_bytes_total",
				Help: "Total bytes fetched from sources",
			},
			[]string{"source_id"},
		),
		ItemsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatwatch_items_ingested_total",
				Help: "Total number of normalized items produced",
			},
			[]string{"source_id", "category"},
		),
		ItemsDeduped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatwatch_items_deduped_total",
				Help: "Total number of items merged as near-duplicates",
			},
			[]string{"source_id"},
		),
		ItemsScored: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "threatwatch_item_score",
				Help:    "Distribution of computed item scores",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),

		// Periscope metrics
		PeriscopeOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatwatch_periscope_ops_total",
				Help: "Total Periscope store operations",
			},
			[]string{"op", "tier", "status"},
		),
		PeriscopeOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threatwatch_periscope_op_duration_seconds",
				Help:    "Periscope store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op", "tier"},
		),
		PeriscopeTierSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatwatch_periscope_tier_size",
				Help: "Current number of items resident in each Periscope tier",
			},
			[]string{"tier"},
		),
		PeriscopeConnsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "threatwatch_periscope_connections_open",
				Help: "Current number of open Periscope backend connections",
			},
		),

		// Database metrics
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		// Decay worker metrics
		DecayMovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatwatch_decay_moved_total",
				Help: "Total number of items moved between tiers by the decay worker",
			},
			[]string{"from_tier", "to_tier"},
		),
		DecayExpiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatwatch_decay_expired_total",
				Help: "Total number of items dropped on tier TTL expiry",
			},
			[]string{"tier"},
		),
		DecayDecayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatwatch_decay_decayed_total",
				Help: "Total number of items whose confidence was decayed",
			},
			[]string{"tier"},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.FetchTotal,
			m.FetchDuration,
			m.FetchBytesTotal,
			m.ItemsIngested,
			m.ItemsDeduped,
			m.ItemsScored,
			m.PeriscopeOpsTotal,
			m.PeriscopeOpDuration,
			m.PeriscopeTierSize,
			m.PeriscopeConnsOpen,
			m.DecayMovedTotal,
			m.DecayDecayedTotal,
			m.DecayExpiredTotal,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordFetch records a source fetch attempt.
func (m *Metrics) RecordFetch(sourceID, sourceType, status string, duration time.Duration, bytes int) {
	m.FetchTotal.WithLabelValues(sourceID, sourceType, status).Inc()
	m.FetchDuration.WithLabelValues(sourceID, sourceType).Observe(duration.Seconds())
	if bytes > 0 {
		m.FetchBytesTotal.WithLabelValues(sourceID).Add(float64(bytes))
	}
}

// RecordItemIngested records a normalized item produced by the pipeline.
func (m *Metrics) RecordItemIngested(sourceID, category string, score int) {
	m.ItemsIngested.WithLabelValues(sourceID, category).Inc()
	m.ItemsScored.Observe(float64(score))
}

// RecordItemDeduped records a near-duplicate merge.
func (m *Metrics) RecordItemDeduped(sourceID string) {
	m.ItemsDeduped.WithLabelValues(sourceID).Inc()
}

// RecordDecayMove records a tier transition performed by the decay worker.
func (m *Metrics) RecordDecayMove(fromTier, toTier string) {
	m.DecayMovedTotal.WithLabelValues(fromTier, toTier).Inc()
}

// RecordDecayed records an item whose confidence was decayed in the given tier.
func (m *Metrics) RecordDecayed(tier string) {
	m.DecayDecayedTotal.WithLabelValues(tier).Inc()
}

// RecordExpired counts items dropped by the tier-TTL expiry sweep.
func (m *Metrics) RecordExpired(tier string, count int) {
	m.DecayExpiredTotal.WithLabelValues(tier).Add(float64(count))
}

// RecordPeriscopeOp records a Periscope store operation.
func (m *Metrics) RecordPeriscopeOp(op, tier, status string, duration time.Duration) {
	m.PeriscopeOpsTotal.WithLabelValues(op, tier, status).Inc()
	m.PeriscopeOpDuration.WithLabelValues(op, tier).Observe(duration.Seconds())
}

// SetPeriscopeTierSize sets the current resident item count for a tier.
func (m *Metrics) SetPeriscopeTierSize(tier string, size int) {
	m.PeriscopeTierSize.WithLabelValues(tier).Set(float64(size))
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
