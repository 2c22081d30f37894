package collect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/domain/source"
	"github.com/R3E-Network/threatwatch/infrastructure/logging"
	"github.com/R3E-Network/threatwatch/infrastructure/metrics"
	"github.com/R3E-Network/threatwatch/infrastructure/resilience"
	"github.com/R3E-Network/threatwatch/internal/periscope"
)

// PipelineFunc hands a fetched RawItem off to the rest of the ingestion
// pipeline (normalize -> dedupe -> score -> periscope). The engine is
// deliberately ignorant of what happens downstream.
type PipelineFunc func(ctx context.Context, item intel.RawItem) error

// CredentialResolver resolves a source's auth_ref into the literal value a
// fetcher should send (e.g. an "Authorization" header value). A nil
// resolver is treated as "no credential for any source".
type CredentialResolver func(ctx context.Context, authRef string) (string, error)

// Config tunes the Collection Engine's scheduling and concurrency.
type Config struct {
	// GlobalConcurrency bounds the number of fetches in flight across all
	// sources at once.
	GlobalConcurrency int
	// PerHostConcurrency bounds concurrent fetches to the same endpoint
	// host, independent of each source's own max_concurrency.
	PerHostConcurrency int
	// TickInterval is how often the scheduler loop wakes to check which
	// sources are due; it should be small relative to MinCadenceSeconds.
	TickInterval time.Duration
	// DrainGrace bounds how long Stop waits for in-flight fetches to
	// finish before returning.
	DrainGrace time.Duration
	// Retry configures the per-fetch retry/backoff policy.
	Retry resilience.RetryConfig
	// Breaker configures the per-source circuit breaker.
	Breaker resilience.Config
	// StoreBufferCap bounds the local buffer that absorbs items the
	// store rejects during an outage. While the buffer is full the
	// engine schedules no new fetches.
	StoreBufferCap int
}

// DefaultConfig returns the engine defaults used when a zero Config is
// supplied.
func DefaultConfig() Config {
	return Config{
		GlobalConcurrency:  16,
		PerHostConcurrency: 4,
		TickInterval:       1 * time.Second,
		DrainGrace:         10 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     8 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.25,
		},
		Breaker: resilience.Config{
			MaxFailures: 5,
			Timeout:     2 * time.Minute,
			HalfOpenMax: 1,
		},
		StoreBufferCap: 1000,
	}
}

// Engine is the Collection Engine: a tick-driven scheduler that dispatches
// a worker per due source, subject to a global semaphore, a per-host
// semaphore, per-source circuit breaking, and retry-with-backoff.
type Engine struct {
	registry    *source.Registry
	fetchers    map[source.Kind]Fetcher
	watermarks  *WatermarkStore
	pipeline    PipelineFunc
	credentials CredentialResolver
	metrics     *metrics.Metrics
	logger      *logging.Logger
	cfg         Config

	globalSem chan struct{}

	hostMu  sync.Mutex
	hostSem map[string]chan struct{}

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	triggerCh chan string

	statsMu sync.Mutex
	stats   Stats

	// bufMu guards buffered, the items parked during a store outage.
	bufMu    sync.Mutex
	buffered []intel.RawItem
}

// Stats is a lightweight in-memory view of engine activity, surfaced by an
// operator HTTP endpoint.
type Stats struct {
	Ticks         int64
	Fetches       int64
	FetchErrors   int64
	ItemsSeen     int64
	ItemsBuffered int64
}

// New builds a Collection Engine. fetchers must have an entry for every
// source.Kind the registry's sources use; missing entries cause fetches for
// that kind to fail FATAL at dispatch time.
func New(
	registry *source.Registry,
	fetchers map[source.Kind]Fetcher,
	watermarks *WatermarkStore,
	pipeline PipelineFunc,
	credentials CredentialResolver,
	m *metrics.Metrics,
	logger *logging.Logger,
	cfg Config,
) *Engine {
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = DefaultConfig().GlobalConcurrency
	}
	if cfg.PerHostConcurrency <= 0 {
		cfg.PerHostConcurrency = DefaultConfig().PerHostConcurrency
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = DefaultConfig().DrainGrace
	}
	if cfg.StoreBufferCap <= 0 {
		cfg.StoreBufferCap = DefaultConfig().StoreBufferCap
	}
	if logger == nil {
		logger = logging.NewFromEnv("threatwatch-collect")
	}
	return &Engine{
		registry:    registry,
		fetchers:    fetchers,
		watermarks:  watermarks,
		pipeline:    pipeline,
		credentials: credentials,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
		globalSem:   make(chan struct{}, cfg.GlobalConcurrency),
		hostSem:     make(map[string]chan struct{}),
		breakers:    make(map[string]*resilience.CircuitBreaker),
		triggerCh:   make(chan string, 64),
	}
}

// Start begins the tick loop in the background. Calling Start twice is a
// no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.tick(runCtx)
			case sourceID := <-e.triggerCh:
				e.dispatchByID(runCtx, sourceID)
			}
		}
	}()

	e.logger.Info(ctx, "collection engine started", map[string]interface{}{
		"global_concurrency":   e.cfg.GlobalConcurrency,
		"per_host_concurrency": e.cfg.PerHostConcurrency,
	})
	return nil
}

// Stop cancels the tick loop and waits up to DrainGrace for in-flight
// fetches to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.wg.Wait()
	}()

	grace, graceCancel := context.WithTimeout(ctx, e.cfg.DrainGrace)
	defer graceCancel()

	select {
	case <-done:
		e.logger.Info(ctx, "collection engine stopped", nil)
		return nil
	case <-grace.Done():
		e.logger.Warn(ctx, "collection engine stop timed out waiting for in-flight fetches", nil)
		return grace.Err()
	}
}

// Trigger forces an immediate out-of-cadence fetch attempt for one source,
// bypassing CooldownUntil. Used by the operator debug endpoint and twctl.
func (e *Engine) Trigger(sourceID string) {
	select {
	case e.triggerCh <- sourceID:
	default:
	}
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Engine) tick(ctx context.Context) {
	e.statsMu.Lock()
	e.stats.Ticks++
	e.statsMu.Unlock()

	e.flushBuffered(ctx)
	if e.bufferFull() {
		// Store outage backpressure: the write buffer is at capacity, so
		// no new fetches are scheduled until the store accepts writes
		// again and the buffer drains.
		return
	}

	snapshot := e.registry.Snapshot()
	now := time.Now()
	for _, src := range snapshot {
		wm, err := e.watermarks.Get(ctx, src.ID)
		if err != nil {
			e.logger.Error(ctx, "load watermark failed", err, map[string]interface{}{"source_id": src.ID})
			continue
		}
		if now.Before(wm.CooldownUntil()) {
			continue
		}
		if !wm.LastFetchedAt.IsZero() && wm.LastFetchedAt.Add(src.Cadence()).After(now) {
			continue
		}
		e.dispatch(ctx, src)
	}
}

func (e *Engine) dispatchByID(ctx context.Context, sourceID string) {
	for _, src := range e.registry.Snapshot() {
		if src.ID == sourceID {
			e.dispatch(ctx, src)
			return
		}
	}
	e.logger.Warn(ctx, "trigger for unknown source", map[string]interface{}{"source_id": sourceID})
}

// dispatch runs one source's fetch attempt in its own goroutine, gated by
// the per-host semaphore for its endpoint plus the shared global cap.
func (e *Engine) dispatch(ctx context.Context, src source.Source) {
	host := hostOfEndpoint(src.Endpoint)

	select {
	case e.globalSem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	hostSem := e.hostSemFor(host)
	select {
	case hostSem <- struct{}{}:
	case <-ctx.Done():
		<-e.globalSem
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-hostSem }()
		defer func() { <-e.globalSem }()
		e.runOne(ctx, src)
	}()
}

func (e *Engine) hostSemFor(host string) chan struct{} {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()
	sem, ok := e.hostSem[host]
	if !ok {
		sem = make(chan struct{}, e.cfg.PerHostConcurrency)
		e.hostSem[host] = sem
	}
	return sem
}

func (e *Engine) breakerFor(sourceID string) *resilience.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	cb, ok := e.breakers[sourceID]
	if !ok {
		cb = resilience.New(resilience.WithStateLogging(e.cfg.Breaker, e.logger, sourceID))
		e.breakers[sourceID] = cb
	}
	return cb
}

// runOne executes a single fetch attempt (with retry and circuit breaking)
// for src, feeds resulting items into the pipeline, and persists the
// resulting watermark.
func (e *Engine) runOne(ctx context.Context, src source.Source) {
	fetcher, ok := e.fetchers[src.Kind]
	if !ok {
		e.recordOutcome(ctx, src, FetchResult{Outcome: Fatal(fmt.Sprintf("no fetcher registered for kind %q", src.Kind))}, 0)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, src.Timeout())
	defer cancel()

	wm, err := e.watermarks.Get(fetchCtx, src.ID)
	if err != nil {
		e.logger.Error(ctx, "load watermark failed", err, map[string]interface{}{"source_id": src.ID})
		return
	}

	credential := ""
	if e.credentials != nil && src.AuthRef != "" {
		credential, err = e.credentials(fetchCtx, src.AuthRef)
		if err != nil {
			e.recordOutcome(ctx, src, FetchResult{Outcome: Fatal("resolve credential: " + err.Error())}, 0)
			return
		}
	}

	breaker := e.breakerFor(src.ID)
	start := time.Now()
	var result FetchResult

	breakerErr := breaker.Execute(fetchCtx, func() error {
		return resilience.Retry(fetchCtx, e.cfg.Retry, func() error {
			fc := FetchContext{Ctx: fetchCtx, Source: src, Watermark: wm, Credential: credential}
			r, ferr := fetcher.Fetch(fc)
			result = r
			if ferr != nil {
				return ferr
			}
			if r.Outcome.Kind == OutcomeRetryable {
				if r.Outcome.RetryAfter > 0 {
					select {
					case <-time.After(r.Outcome.RetryAfter):
					case <-fetchCtx.Done():
					}
				}
				return fmt.Errorf("retryable: %s", r.Outcome.Reason)
			}
			return nil
		})
	})

	duration := time.Since(start)

	if breakerErr != nil && result.Outcome.Kind == "" {
		// The circuit was open or every retry attempt errored without ever
		// populating a terminal Outcome (e.g. context cancellation).
		result.Outcome = Retryable(breakerErr.Error())
	}

	if result.Outcome.Kind == OutcomeOK && e.pipeline != nil {
		e.statsMu.Lock()
		e.stats.ItemsSeen += int64(len(result.Items))
		e.statsMu.Unlock()

		if !e.deliver(ctx, src, result.Items) {
			// The store is rejecting writes. The undelivered items sit in
			// the buffer, and the watermark must not advance past them, so
			// the fetch is recorded as retryable with its etag/cursor
			// discarded; a refetch after recovery re-ingests idempotently.
			result.Outcome = Retryable("store unavailable")
			result.ETag = ""
			result.Cursor = ""
		}
	}

	e.recordOutcome(ctx, src, result, duration)
}

// deliver hands each fetched item to the pipeline. Items the store
// rejects are parked in the bounded write buffer; deliver reports false
// when any item could not be delivered live.
func (e *Engine) deliver(ctx context.Context, src source.Source, items []intel.RawItem) bool {
	delivered := true
	for _, item := range items {
		err := e.pipeline(ctx, item)
		if err == nil {
			continue
		}
		if errors.Is(err, periscope.ErrStoreUnavailable) {
			delivered = false
			if !e.bufferItem(item) {
				e.logger.Warn(ctx, "store write buffer full, deferring item to refetch", map[string]interface{}{
					"source_id": src.ID,
				})
			}
			continue
		}
		e.logger.Error(ctx, "pipeline rejected item", err, map[string]interface{}{
			"source_id": src.ID,
		})
	}
	return delivered
}

// bufferItem parks one undelivered item, reporting false when the buffer
// is already at capacity.
func (e *Engine) bufferItem(item intel.RawItem) bool {
	e.bufMu.Lock()
	if len(e.buffered) >= e.cfg.StoreBufferCap {
		e.bufMu.Unlock()
		return false
	}
	e.buffered = append(e.buffered, item)
	n := len(e.buffered)
	e.bufMu.Unlock()

	e.statsMu.Lock()
	e.stats.ItemsBuffered = int64(n)
	e.statsMu.Unlock()
	return true
}

func (e *Engine) bufferFull() bool {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	return len(e.buffered) >= e.cfg.StoreBufferCap
}

// flushBuffered replays parked writes in FIFO order, stopping at the
// first item the store still rejects. Items failing for any other
// reason are dropped; they would never succeed on replay.
func (e *Engine) flushBuffered(ctx context.Context) {
	if e.pipeline == nil {
		return
	}
	for {
		e.bufMu.Lock()
		if len(e.buffered) == 0 {
			e.bufMu.Unlock()
			return
		}
		item := e.buffered[0]
		e.bufMu.Unlock()

		if err := e.pipeline(ctx, item); err != nil && errors.Is(err, periscope.ErrStoreUnavailable) {
			return
		}

		e.bufMu.Lock()
		e.buffered = e.buffered[1:]
		n := len(e.buffered)
		e.bufMu.Unlock()

		e.statsMu.Lock()
		e.stats.ItemsBuffered = int64(n)
		e.statsMu.Unlock()
	}
}

func (e *Engine) recordOutcome(ctx context.Context, src source.Source, result FetchResult, duration time.Duration) {
	e.statsMu.Lock()
	e.stats.Fetches++
	if result.Outcome.Kind == OutcomeFatal || result.Outcome.Kind == OutcomeRetryable {
		e.stats.FetchErrors++
	}
	e.statsMu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordFetch(src.ID, string(src.Kind), string(result.Outcome.Kind), duration, 0)
	}

	if err := e.watermarks.RecordOutcome(ctx, src.ID, result, time.Now()); err != nil {
		e.logger.Error(ctx, "persist watermark failed", err, map[string]interface{}{"source_id": src.ID})
	}

	e.logger.LogFetch(ctx, src.ID, string(src.Kind), string(result.Outcome.Kind), len(result.Items), duration)

	switch result.Outcome.Kind {
	case OutcomeFatal:
		e.logger.Warn(ctx, "fetch failed permanently", map[string]interface{}{
			"source_id": src.ID, "reason": result.Outcome.Reason,
		})
	case OutcomeRetryable:
		e.logger.Warn(ctx, "fetch exhausted retries", map[string]interface{}{
			"source_id": src.ID, "reason": result.Outcome.Reason,
		})
	}
}

func hostOfEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
