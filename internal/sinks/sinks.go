// Package sinks implements the graph and vector store client contracts
//: both are treated as opaque external collaborators reached over
// HTTP POST, guarded by the same circuit-breaker-plus-retry pattern the
// collection engine uses against fetchers, with a bounded dead-letter
// queue absorbing writes during sustained outages.
//
// The dead-letter queue is wired through infrastructure/fallback.Handler:
// the primary attempt is the breaker-guarded retrying POST, and the sole
// fallback step buffers the write for later replay instead of a second
// live attempt, generalizing Handler's "primary, then fallbacks" chain
// from reads (serve stale cache) to writes (park for background flush).
package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/infrastructure/fallback"
	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
	"github.com/R3E-Network/threatwatch/infrastructure/logging"
	"github.com/R3E-Network/threatwatch/infrastructure/metrics"
	"github.com/R3E-Network/threatwatch/infrastructure/resilience"
)

// GraphSink upserts items and relations into the graph collaborator.
type GraphSink interface {
	UpsertItem(ctx context.Context, item *intel.Item) error
	Link(ctx context.Context, itemID, relation, otherID string) error
}

// VectorSink upserts an item's embedding into the vector collaborator.
// Computing the embedding itself is a pluggable capability out of scope
// here; the sink only transports whatever vector it's given.
type VectorSink interface {
	UpsertEmbedding(ctx context.Context, itemID string, vector []float32) error
}

// Config tunes both HTTP sinks.
type Config struct {
	GraphEndpoint  string
	VectorEndpoint string
	Timeout        time.Duration
	Retry          resilience.RetryConfig
	Breaker        resilience.Config
	DeadLetterCap  int
}

// DefaultConfig returns sink defaults mirroring the collection engine's
// own retry/breaker tuning.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     8 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.25,
		},
		Breaker:       resilience.DefaultConfig(),
		DeadLetterCap: 1000,
	}
}

type graphLinkPayload struct {
	Kind     string `json:"kind"`
	Item     *intel.Item `json:"item,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Relation string `json:"relation,omitempty"`
	OtherID  string `json:"other_id,omitempty"`
}

// HTTPGraphSink is an HTTP POST client for the graph collaborator.
type HTTPGraphSink struct {
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	dlq      *deadLetterQueue
	fallback *fallback.Handler
	cfg      Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewHTTPGraphSink builds a graph sink posting to cfg.GraphEndpoint.
func NewHTTPGraphSink(client *http.Client, cfg Config, m *metrics.Metrics, logger *logging.Logger) *HTTPGraphSink {
	if client == nil {
		client = httputil.NewClient(cfg.Timeout)
	}
	if logger == nil {
		logger = logging.NewFromEnv("threatwatch-sinks")
	}
	s := &HTTPGraphSink{
		client:  client,
		breaker: resilience.New(resilience.WithStateLogging(cfg.Breaker, logger, "graph")),
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
	s.dlq = newDeadLetterQueue(cfg.DeadLetterCap, s.send, logger, "graph")
	s.fallback = fallback.NewHandler(fallback.DefaultConfig())
	return s
}

// UpsertItem posts the item to the graph collaborator's upsert_item
// contract.
func (s *HTTPGraphSink) UpsertItem(ctx context.Context, item *intel.Item) error {
	return s.post(ctx, graphLinkPayload{Kind: "upsert_item", Item: item})
}

// Link posts a relation edge between two items.
func (s *HTTPGraphSink) Link(ctx context.Context, itemID, relation, otherID string) error {
	return s.post(ctx, graphLinkPayload{Kind: "link", ItemID: itemID, Relation: relation, OtherID: otherID})
}

func (s *HTTPGraphSink) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sinks: marshal graph payload: %w", err)
	}
	result := s.fallback.Execute(ctx,
		func(ctx context.Context) (interface{}, error) {
			return nil, s.breaker.Execute(ctx, func() error {
				return resilience.Retry(ctx, s.cfg.Retry, func() error {
					return s.send(ctx, s.cfg.GraphEndpoint, body)
				})
			})
		},
		func(ctx context.Context) (interface{}, error) {
			s.logger.Warn(ctx, "graph sink write failed, buffering for replay", nil)
			s.dlq.push(s.cfg.GraphEndpoint, body)
			if s.metrics != nil {
				s.metrics.RecordError("sinks", "graph", "buffered")
			}
			return nil, nil
		},
	)
	return result.Err
}

func (s *HTTPGraphSink) send(ctx context.Context, endpoint string, body []byte) error {
	return httpPost(ctx, s.client, endpoint, body)
}

// HTTPVectorSink is an HTTP POST client for the vector collaborator.
type HTTPVectorSink struct {
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	dlq      *deadLetterQueue
	fallback *fallback.Handler
	cfg      Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewHTTPVectorSink builds a vector sink posting to cfg.VectorEndpoint.
func NewHTTPVectorSink(client *http.Client, cfg Config, m *metrics.Metrics, logger *logging.Logger) *HTTPVectorSink {
	if client == nil {
		client = httputil.NewClient(cfg.Timeout)
	}
	if logger == nil {
		logger = logging.NewFromEnv("threatwatch-sinks")
	}
	s := &HTTPVectorSink{
		client:  client,
		breaker: resilience.New(resilience.WithStateLogging(cfg.Breaker, logger, "vector")),
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
	s.dlq = newDeadLetterQueue(cfg.DeadLetterCap, s.send, logger, "vector")
	s.fallback = fallback.NewHandler(fallback.DefaultConfig())
	return s
}

type vectorPayload struct {
	ItemID string    `json:"item_id"`
	Vector []float32 `json:"vector"`
}

// UpsertEmbedding posts itemID's vector to the vector collaborator's
// upsert_embedding contract.
func (s *HTTPVectorSink) UpsertEmbedding(ctx context.Context, itemID string, vector []float32) error {
	body, err := json.Marshal(vectorPayload{ItemID: itemID, Vector: vector})
	if err != nil {
		return fmt.Errorf("sinks: marshal vector payload: %w", err)
	}
	result := s.fallback.Execute(ctx,
		func(ctx context.Context) (interface{}, error) {
			return nil, s.breaker.Execute(ctx, func() error {
				return resilience.Retry(ctx, s.cfg.Retry, func() error {
					return s.send(ctx, s.cfg.VectorEndpoint, body)
				})
			})
		},
		func(ctx context.Context) (interface{}, error) {
			s.logger.Warn(ctx, "vector sink write failed, buffering for replay", nil)
			s.dlq.push(s.cfg.VectorEndpoint, body)
			if s.metrics != nil {
				s.metrics.RecordError("sinks", "vector", "buffered")
			}
			return nil, nil
		},
	)
	return result.Err
}

func (s *HTTPVectorSink) send(ctx context.Context, endpoint string, body []byte) error {
	return httpPost(ctx, s.client, endpoint, body)
}

func httpPost(ctx context.Context, client *http.Client, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sinks: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sinks: post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sinks: post %s: status %d", endpoint, resp.StatusCode)
	}
	return nil
}

// deadLetterQueue is a fixed-capacity ring buffer of undelivered writes,
// periodically retried by Flush. Oldest entries are dropped once the
// buffer is full.
type deadLetterQueue struct {
	mu      sync.Mutex
	entries []dlqEntry
	cap     int
	send    func(ctx context.Context, endpoint string, body []byte) error
	logger  *logging.Logger
	name    string
}

type dlqEntry struct {
	endpoint string
	body     []byte
}

func newDeadLetterQueue(capacity int, send func(ctx context.Context, endpoint string, body []byte) error, logger *logging.Logger, name string) *deadLetterQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &deadLetterQueue{cap: capacity, send: send, logger: logger, name: name}
}

func (q *deadLetterQueue) push(endpoint string, body []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.cap {
		q.logger.Warn(context.Background(), "dead-letter queue full, dropping oldest entry", map[string]interface{}{"sink": q.name, "capacity": q.cap})
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, dlqEntry{endpoint: endpoint, body: body})
}

// Len reports how many writes are currently buffered.
func (q *deadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Flush retries every buffered entry once, in FIFO order, dropping each
// one that succeeds and keeping the rest for the next call.
func (q *deadLetterQueue) Flush(ctx context.Context) {
	q.mu.Lock()
	pending := q.entries
	q.entries = nil
	q.mu.Unlock()

	var remaining []dlqEntry
	for _, e := range pending {
		if err := q.send(ctx, e.endpoint, e.body); err != nil {
			remaining = append(remaining, e)
			continue
		}
	}

	if len(remaining) > 0 {
		q.mu.Lock()
		q.entries = append(remaining, q.entries...)
		if len(q.entries) > q.cap {
			q.entries = q.entries[len(q.entries)-q.cap:]
		}
		q.mu.Unlock()
	}
}

// GraphDeadLetterLen reports the graph sink's buffered write count, used
// by the operator surface to expose backpressure.
func (s *HTTPGraphSink) GraphDeadLetterLen() int { return s.dlq.Len() }

// FlushDeadLetters retries every buffered graph write once.
func (s *HTTPGraphSink) FlushDeadLetters(ctx context.Context) { s.dlq.Flush(ctx) }

// VectorDeadLetterLen reports the vector sink's buffered write count.
func (s *HTTPVectorSink) VectorDeadLetterLen() int { return s.dlq.Len() }

// FlushDeadLetters retries every buffered vector write once.
func (s *HTTPVectorSink) FlushDeadLetters(ctx context.Context) { s.dlq.Flush(ctx) }

// StartFlusher runs Flush on both sinks every interval until ctx is
// canceled, draining the dead-letter queues in the background.
func StartFlusher(ctx context.Context, graph *HTTPGraphSink, vector *HTTPVectorSink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if graph != nil {
					graph.FlushDeadLetters(ctx)
				}
				if vector != nil {
					vector.FlushDeadLetters(ctx)
				}
			}
		}
	}()
}
