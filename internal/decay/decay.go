// Package decay implements the Decay Worker: a periodic job, scheduled
// through robfig/cron's "@every" spec, that ages confidence for items
// resident in L2/L3, recomputes their score, and evaluates tier
// transitions.
package decay

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/infrastructure/logging"
	"github.com/R3E-Network/threatwatch/infrastructure/metrics"
	"github.com/R3E-Network/threatwatch/internal/periscope"
	"github.com/R3E-Network/threatwatch/internal/score"
)

// MinConfidence is the floor confidence decay never drops below.
const MinConfidence = 0.3

// Decay rates per tier: L3 decays faster than L2 since it holds older,
// lower-priority material.
const (
	RateL2 = 0.02
	RateL3 = 0.05
)

// DefaultBatchSize bounds how many items one decay pass touches per tier,
// so a single run has a predictable cost regardless of tier size.
const DefaultBatchSize = 500

// Config tunes the Decay Worker's schedule and batch size.
type Config struct {
	// Schedule is a robfig/cron spec; "@every 1h" is the expected shape
	// (DECAY_PERIOD_SECONDS from the environment is translated to this by
	// the caller, e.g. cmd/threatwatchd).
	Schedule  string
	BatchSize int
}

// DefaultConfig returns the worker defaults used when a zero Config value
// is supplied.
func DefaultConfig() Config {
	return Config{Schedule: "@every 1h", BatchSize: DefaultBatchSize}
}

// Worker periodically decays confidence for L2/L3 items.
type Worker struct {
	store   *periscope.Periscope
	metrics *metrics.Metrics
	logger  *logging.Logger
	cfg     Config
	cron    *cron.Cron
	now     func() time.Time
}

// New builds a Decay Worker over store.
func New(store *periscope.Periscope, m *metrics.Metrics, logger *logging.Logger, cfg Config) *Worker {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logging.NewFromEnv("threatwatch-decay")
	}
	return &Worker{store: store, metrics: m, logger: logger, cfg: cfg, now: time.Now}
}

// Start schedules Run on the configured cadence. The first run does not
// happen until the schedule first fires; call Run directly for an
// immediate pass.
func (w *Worker) Start(ctx context.Context) error {
	w.cron = cron.New()
	if _, err := w.cron.AddFunc(w.cfg.Schedule, func() {
		if err := w.Run(ctx); err != nil {
			w.logger.Error(ctx, "decay pass failed", err, nil)
		}
	}); err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info(ctx, "decay worker started", map[string]interface{}{"schedule": w.cfg.Schedule})
	return nil
}

// Stop halts the schedule and waits for any in-flight run to finish.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cron == nil {
		return nil
	}
	stopCtx := w.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes one decay pass over L2 then L3. Validated items keep
// their confidence but still have their tier eligibility re-evaluated;
// after each tier's decay loop, items past the tier TTL are swept out.
func (w *Worker) Run(ctx context.Context) error {
	for _, tier := range []intel.Tier{intel.TierL2, intel.TierL3} {
		if err := w.decayTier(ctx, tier); err != nil {
			return err
		}
		expired, err := w.store.SweepExpired(ctx, tier, w.now(), w.cfg.BatchSize)
		if err != nil {
			return err
		}
		if expired > 0 {
			if w.metrics != nil {
				w.metrics.RecordExpired(string(tier), expired)
			}
			w.logger.Info(ctx, "expired items swept from tier", map[string]interface{}{
				"tier": string(tier), "count": expired,
			})
		}
	}
	return nil
}

func (w *Worker) decayTier(ctx context.Context, tier intel.Tier) error {
	items, err := w.store.QueryTier(ctx, tier, periscope.Filter{})
	if err != nil {
		return err
	}

	if len(items) > w.cfg.BatchSize {
		w.logger.Warn(ctx, "decay pass truncated to batch size", map[string]interface{}{
			"tier": string(tier), "eligible": len(items), "batch_size": w.cfg.BatchSize,
		})
		items = items[:w.cfg.BatchSize]
	}

	rate := rateFor(tier)
	now := w.now()

	for _, it := range items {
		if it.Validated {
			// Validated items never decay, but their tier eligibility is
			// still re-evaluated so they reach L3 before L2 expiry.
			if tier == intel.TierL2 && periscope.EligibleForL3(&it, now) {
				w.demoteToL3(ctx, it)
			}
			continue
		}

		days := now.Sub(it.LastSeen).Hours() / 24
		if days <= 0 {
			continue
		}

		newConfidence := decayConfidence(it.Confidence, rate, days)
		if newConfidence == it.Confidence {
			continue
		}

		updated, err := w.store.Update(ctx, it.ItemID, func(cur *intel.Item) {
			cur.Confidence = newConfidence
			newScore, newSeverity := score.Compute(score.Input{
				MaxSourceCredibility: cur.MaxSourceCredibility() * newConfidence,
				Category:             cur.Category,
				IOCs:                 cur.IOCs,
				PublishedAt:          cur.PublishedAt,
				Now:                  now,
				Escalations:          cur.Interactions.Escalations.Count,
				IndustryHit:          len(cur.IndustryTags) > 0,
			})
			cur.Score = newScore
			cur.Severity = newSeverity
			cur.AddRevision("decay-worker", "confidence decay", now)
		})
		if err != nil {
			w.logger.Error(ctx, "decay update failed", err, map[string]interface{}{"item_id": it.ItemID})
			continue
		}
		if w.metrics != nil {
			w.metrics.RecordDecayed(string(tier))
		}

		if tier == intel.TierL2 && periscope.EligibleForL3(updated, now) {
			w.demoteToL3(ctx, *updated)
		}
	}

	return nil
}

// demoteToL3 moves an L2-resident item to L3, honoring the validated-item
// budget back-pressure.
func (w *Worker) demoteToL3(ctx context.Context, it intel.Item) {
	if err := w.store.Promote(ctx, &it, intel.TierL3); err != nil {
		if errors.Is(err, periscope.ErrStoreFull) {
			w.logger.Warn(ctx, "L3 budget exhausted, demotion deferred", map[string]interface{}{"item_id": it.ItemID})
			return
		}
		w.logger.Error(ctx, "demote to L3 failed", err, map[string]interface{}{"item_id": it.ItemID})
		return
	}
	if w.metrics != nil {
		w.metrics.RecordDecayMove("L2", "L3")
	}
	w.logger.LogTierMove(ctx, it.ItemID, "L2", "L3", "cold")
}

func rateFor(tier intel.Tier) float64 {
	if tier == intel.TierL3 {
		return RateL3
	}
	return RateL2
}

// decayConfidence applies the decay formula
// new_confidence = max(0.3, confidence*(1-r)^days_since_last_seen).
func decayConfidence(confidence, rate, days float64) float64 {
	decayed := confidence * math.Pow(1-rate, days)
	if decayed < MinConfidence {
		return MinConfidence
	}
	return decayed
}
