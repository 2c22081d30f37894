// Package pipeline wires the ingestion stages into one directed
// pipeline diagram — Normalizer -> Deduper -> Scorer -> Periscope -> graph
// and vector sinks — behind the single collect.PipelineFunc the Collection
// Engine calls for every successfully fetched raw item. Each stage already
// exists as an independently testable package; Pipeline's only job is
// sequencing them and translating errors into per-kind counters.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/domain/source"
	"github.com/R3E-Network/threatwatch/infrastructure/logging"
	"github.com/R3E-Network/threatwatch/infrastructure/metrics"
	"github.com/R3E-Network/threatwatch/internal/dedupe"
	"github.com/R3E-Network/threatwatch/internal/normalize"
	"github.com/R3E-Network/threatwatch/internal/periscope"
	"github.com/R3E-Network/threatwatch/internal/score"
)

// Store is the subset of Periscope's surface the pipeline needs beyond what
// Deduper already requires, namely nothing extra today — kept as its own
// interface so the pipeline doesn't depend on the concrete *periscope.Periscope
// type, mirroring dedupe.Store's own decoupling.
type Store = dedupe.Store

// GraphSink and VectorSink mirror internal/sinks' contracts without
// importing that package directly, so callers that don't want graph/vector
// fan-out (e.g. unit tests) can pass nil.
type GraphSink interface {
	UpsertItem(ctx context.Context, item *intel.Item) error
}

// VectorSink mirrors internal/sinks.VectorSink. A nil Embedder disables
// embedding computation entirely; a nil VectorSink disables the upsert.
type VectorSink interface {
	UpsertEmbedding(ctx context.Context, itemID string, vector []float32) error
}

// Embedder produces the vector handed to VectorSink. This is the
// "embed(text) -> vector" capability; cmd/threatwatchd wires
// classify.StubEmbedder, which returns a fixed-size zero vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Promoter mirrors *periscope.Periscope.Promote, letting the pipeline move
// a freshly-scored item out of L1 the moment it qualifies rather than
// waiting for the Decay Worker's next pass.
type Promoter interface {
	Promote(ctx context.Context, item *intel.Item, target intel.Tier) error
}

// SourceLookup resolves a source_id to its current descriptor, giving the
// Scorer the reporting source's credibility and industry tags without the
// pipeline needing to thread them through collect.PipelineFunc's signature.
type SourceLookup interface {
	Snapshot() []source.Source
}

// Pipeline sequences Normalize -> Dedupe -> Score -> Put -> sinks for a
// single raw item. The zero value is not usable; use New.
type Pipeline struct {
	normalizer *normalize.Normalizer
	deduper    *dedupe.Deduper
	registry   SourceLookup
	graph      GraphSink
	vector     VectorSink
	embedder   Embedder
	promoter   Promoter
	metrics    *metrics.Metrics
	logger     *logging.Logger
	now        func() time.Time

	sourceMu   sync.Mutex
	sourceByID map[string]source.Source
	sourceAt   time.Time
}

// Config groups Pipeline's collaborators.
type Config struct {
	Normalizer *normalize.Normalizer
	Deduper    *dedupe.Deduper
	Registry   SourceLookup
	Graph      GraphSink
	Vector     VectorSink
	Embedder   Embedder
	Promoter   Promoter
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// New builds a Pipeline from cfg. Normalizer and Deduper are required;
// Registry, Graph, Vector, and Embedder may be nil to disable their stage.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Normalizer == nil {
		return nil, fmt.Errorf("pipeline: normalizer is required")
	}
	if cfg.Deduper == nil {
		return nil, fmt.Errorf("pipeline: deduper is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewFromEnv("threatwatch-pipeline")
	}
	p := &Pipeline{
		normalizer: cfg.Normalizer,
		deduper:    cfg.Deduper,
		registry:   cfg.Registry,
		graph:      cfg.Graph,
		vector:     cfg.Vector,
		embedder:   cfg.Embedder,
		promoter:   cfg.Promoter,
		metrics:    cfg.Metrics,
		logger:     logger,
		now:        time.Now,
	}
	// The scorer runs inside Deduper.Merge's per-item lock, so the score
	// the Periscope write persists always reflects the fully merged item
	// (sources, IOCs, interactions) rather than a stale pre-merge snapshot,
	// and there's no second, separately-locked write to race against it.
	cfg.Deduper.SetScorer(func(item *intel.Item, now time.Time) {
		sc, sev := score.Compute(score.Input{
			MaxSourceCredibility: item.MaxSourceCredibility(),
			Category:             item.Category,
			IOCs:                 item.IOCs,
			PublishedAt:          item.PublishedAt,
			Now:                  now,
			Escalations:          item.Interactions.Escalations.Count,
		})
		item.Score = sc
		item.Severity = sev
	})
	return p, nil
}

// Ingest runs the full stage sequence for one raw item and is the value
// assigned to collect.PipelineFunc when wiring the engine.
func (p *Pipeline) Ingest(ctx context.Context, raw intel.RawItem) error {
	result, err := p.normalizer.Normalize(ctx, raw)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordError(raw.SourceID, "normalize_dropped", "ingest")
		}
		// A dropped raw item is counted, never fatal to the fetch.
		return nil
	}
	if result.HadInvalidEncoding {
		p.logger.Warn(ctx, "normalized item had invalid encoding", map[string]interface{}{
			"source_id": raw.SourceID,
			"url":       raw.URL,
		})
	}

	src, ok := p.lookupSource(raw.SourceID)
	credibility := 0.5
	if ok {
		credibility = src.Credibility
	}

	observedAt := raw.FetchedAt
	if observedAt.IsZero() {
		observedAt = p.now().UTC()
	}

	merged, outcome, err := p.deduper.Merge(ctx, result.Item, raw.SourceID, credibility, observedAt)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordError(raw.SourceID, "dedupe_failed", "ingest")
		}
		return fmt.Errorf("pipeline: dedupe: %w", err)
	}

	if p.metrics != nil {
		p.metrics.RecordItemIngested(raw.SourceID, string(merged.Category), merged.Score)
		if outcome == dedupe.OutcomeNearDuplicate || outcome == dedupe.OutcomeReobservation {
			p.metrics.RecordItemDeduped(raw.SourceID)
		}
	}

	if p.promoter != nil && merged.Tier == intel.TierL1 && periscope.EligibleForL2(merged) {
		if err := p.promoter.Promote(ctx, merged, intel.TierL2); err != nil {
			p.logger.Warn(ctx, "L1->L2 promotion failed", map[string]interface{}{
				"item_id": merged.ItemID, "error": err.Error(),
			})
		}
	}

	p.fanOutSinks(ctx, merged)
	return nil
}

// lookupSource resolves a source_id against a short-lived cache of the
// registry snapshot, since Snapshot() is called on every ingested item but
// the registry itself only changes on SIGHUP reload.
func (p *Pipeline) lookupSource(id string) (source.Source, bool) {
	if p.registry == nil {
		return source.Source{}, false
	}
	p.sourceMu.Lock()
	if p.sourceByID == nil || p.now().Sub(p.sourceAt) > time.Second {
		snap := p.registry.Snapshot()
		byID := make(map[string]source.Source, len(snap))
		for _, s := range snap {
			byID[s.ID] = s
		}
		p.sourceByID = byID
		p.sourceAt = p.now()
	}
	s, ok := p.sourceByID[id]
	p.sourceMu.Unlock()
	return s, ok
}

// fanOutSinks mirrors the merged item into the external graph/vector
// collaborators. Failures here never fail the ingest: sinks own
// their own retry/dead-letter handling (internal/sinks).
func (p *Pipeline) fanOutSinks(ctx context.Context, item *intel.Item) {
	if p.graph != nil {
		if err := p.graph.UpsertItem(ctx, item); err != nil {
			p.logger.Warn(ctx, "graph sink upsert failed", map[string]interface{}{
				"item_id": item.ItemID, "error": err.Error(),
			})
		}
	}
	if p.vector != nil && p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, item.Title+"\n"+item.Body)
		if err != nil {
			p.logger.Warn(ctx, "embed failed", map[string]interface{}{
				"item_id": item.ItemID, "error": err.Error(),
			})
			return
		}
		if err := p.vector.UpsertEmbedding(ctx, item.ItemID, vec); err != nil {
			p.logger.Warn(ctx, "vector sink upsert failed", map[string]interface{}{
				"item_id": item.ItemID, "error": err.Error(),
			})
		}
	}
}
