// Package ops builds the operator-only HTTP surface:
// /healthz, /metrics, and a small set of token-gated /debug endpoints for
// triggering a source, inspecting engine/sink counters, and reloading
// SOURCES_PATH without a SIGHUP. This is never the downstream query()
// surface the reporting consumer uses — that stays a library-level
// contract, out of HTTP scope entirely.
package ops

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/R3E-Network/threatwatch/domain/source"
	"github.com/R3E-Network/threatwatch/infrastructure/logging"
	"github.com/R3E-Network/threatwatch/infrastructure/metrics"
	"github.com/R3E-Network/threatwatch/infrastructure/middleware"
	"github.com/R3E-Network/threatwatch/infrastructure/redaction"
	"github.com/R3E-Network/threatwatch/internal/collect"
	"github.com/R3E-Network/threatwatch/internal/periscope"
)

// Engine is the subset of *collect.Engine the ops surface drives.
type Engine interface {
	Trigger(sourceID string)
	Stats() collect.Stats
}

// Config collects the server's wiring.
type Config struct {
	Addr       string
	Version    string
	DebugToken string // shared secret gating /debug/*; empty disables the gate (dev only)

	Registry *source.Registry
	Engine   Engine
	Store    *periscope.Periscope
	Metrics  *metrics.Metrics
	Logger   *logging.Logger

	// Reload re-reads SOURCES_PATH and installs it into Registry; wired by
	// cmd/threatwatchd so the ops surface and SIGHUP share one code path.
	Reload func() error

	// GraphDeadLetterLen/VectorDeadLetterLen report each sink's buffered
	// write count (*sinks.HTTPGraphSink.GraphDeadLetterLen,
	// *sinks.HTTPVectorSink.VectorDeadLetterLen); nil hides that field.
	GraphDeadLetterLen  func() int
	VectorDeadLetterLen func() int
}

// Server wraps the operator http.Server with graceful shutdown.
type Server struct {
	httpServer *http.Server
	shutdown   *middleware.GracefulShutdown
	logger     *logging.Logger
}

// New builds the operator router and server, but does not start listening.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewFromEnv("threatwatch-ops")
	}

	r := chi.NewRouter()
	recovery := middleware.NewRecoveryMiddleware(logger)
	r.Use(recovery.Handler)
	r.Use(middleware.LoggingMiddleware(logger))
	if cfg.Metrics != nil {
		r.Use(middleware.MetricsMiddleware("threatwatch-ops", cfg.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler)
	r.Use(middleware.NewTimeoutMiddleware(10 * time.Second).Handler)
	r.Use(middleware.NewBodyLimitMiddleware(1 << 20).Handler)

	health := middleware.NewHealthChecker(cfg.Version)
	if cfg.Store != nil {
		health.RegisterCheck("periscope_l1", func() error {
			_, _, err := cfg.Store.Get(context.Background(), "__healthcheck__")
			return err
		})
	}
	r.Get("/healthz", health.Handler())
	r.Get("/livez", middleware.LivenessHandler())
	r.Handle("/metrics", promhttp.Handler())

	redactor := redaction.NewRedactor(redaction.DefaultConfig())

	debug := chi.NewRouter()
	debug.Use(middleware.NewRateLimiter(10, 20, logger).Handler)
	if cfg.DebugToken != "" {
		debug.Use(bearerTokenGate(cfg.DebugToken))
	}
	debug.Get("/stats", handleStats(cfg.Engine))
	debug.Get("/sources", handleSources(cfg.Registry, redactor))
	debug.Post("/trigger/{sourceID}", handleTrigger(cfg.Engine))
	debug.Post("/reload", handleReload(cfg.Reload))
	debug.Get("/sinks", handleSinks(cfg.GraphDeadLetterLen, cfg.VectorDeadLetterLen))
	debug.Get("/resources", handleResources())
	r.Mount("/debug", debug)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		shutdown:   middleware.NewGracefulShutdown(httpServer, 10*time.Second),
		logger:     logger,
	}
}

// ListenAndServe starts the server in the background and returns
// immediately; errors other than a clean shutdown are logged.
func (s *Server) ListenAndServe() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(context.Background(), "ops server failed", err, nil)
		}
	}()
}

// Shutdown drains the server, waiting at most the 10-second grace period
// fixed at construction.
func (s *Server) Shutdown() {
	s.shutdown.Shutdown()
}

func handleStats(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			http.Error(w, "engine not wired", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, engine.Stats())
	}
}

func handleSources(registry *source.Registry, redactor *redaction.Redactor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registry == nil {
			http.Error(w, "registry not wired", http.StatusServiceUnavailable)
			return
		}
		snap := registry.Snapshot()
		redacted := make([]source.Source, len(snap))
		for i, s := range snap {
			s.AuthRef = redactor.RedactString(s.AuthRef)
			redacted[i] = s
		}
		writeJSON(w, redacted)
	}
}

func handleTrigger(engine Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			http.Error(w, "engine not wired", http.StatusServiceUnavailable)
			return
		}
		sourceID := chi.URLParam(r, "sourceID")
		if sourceID == "" {
			http.Error(w, "sourceID is required", http.StatusBadRequest)
			return
		}
		engine.Trigger(sourceID)
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleReload(reload func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reload == nil {
			http.Error(w, "reload not wired", http.StatusServiceUnavailable)
			return
		}
		if err := reload(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSinks(graphLen, vectorLen func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]int{}
		if graphLen != nil {
			out["graph_dead_letters"] = graphLen()
		}
		if vectorLen != nil {
			out["vector_dead_letters"] = vectorLen()
		}
		writeJSON(w, out)
	}
}

// resourceSnapshot is the host resource picture behind /debug/resources,
// letting an operator tell "the daemon fell behind" apart from "the host
// it's running on is out of headroom" without shelling in.
type resourceSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
}

func handleResources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := resourceSnapshot{}
		if pct, err := cpu.PercentWithContext(r.Context(), 200*time.Millisecond, false); err == nil && len(pct) > 0 {
			snap.CPUPercent = pct[0]
		}
		if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
			snap.MemoryPercent = vm.UsedPercent
			snap.MemoryUsedMB = vm.Used / (1 << 20)
			snap.MemoryTotalMB = vm.Total / (1 << 20)
		}
		writeJSON(w, snap)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// bearerTokenGate requires "Authorization: Bearer <token>" on every request,
// comparing hashes in constant time so response latency never leaks how
// many prefix bytes of a guessed token matched.
func bearerTokenGate(token string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			supplied, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			got := sha256.Sum256([]byte(supplied))
			if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
