// Package dedupe implements the Deduper pipeline stage: exact and
// near-duplicate matching via an in-memory LRU of recently-seen
// fingerprints backed by a store lookup for cold fingerprints, confidence
// recomputation, and validated-flag promotion.
package dedupe

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/internal/keylock"
)

// MaxHammingDistance is the near-duplicate threshold d.
const MaxHammingDistance = 3

// DefaultLRUSize bounds the in-memory fingerprint-residency set.
const DefaultLRUSize = 50_000

// DefaultNearDuplicateWindow bounds how far back a fingerprint match may
// reach: near-duplicate merging only applies when the matched item was
// last seen within this window of the new observation. Older matches
// start a fresh item, so a story re-reported months later is a new event
// rather than a bump on a stale one.
const DefaultNearDuplicateWindow = 30 * 24 * time.Hour

// Config tunes a Deduper.
type Config struct {
	// LRUSize bounds the in-memory fingerprint-residency set; 0 selects
	// DefaultLRUSize.
	LRUSize int
	// NearDuplicateWindow is the temporal window for fingerprint-based
	// merging; 0 selects DefaultNearDuplicateWindow, negative disables
	// the window entirely. Exact item_id re-observations are never
	// windowed: same identity merges regardless of age.
	NearDuplicateWindow time.Duration
}

// Store is the subset of the Periscope operation surface the Deduper
// depends on. internal/periscope implements this.
type Store interface {
	Get(ctx context.Context, itemID string) (*intel.Item, bool, error)
	FindByFingerprintNear(ctx context.Context, fingerprint uint64, maxDistance int) (*intel.Item, error)
	Put(ctx context.Context, item *intel.Item) (intel.Tier, error)
}

// Outcome classifies what a single Merge call did, for metrics/logging.
type Outcome string

const (
	OutcomeNew           Outcome = "new"
	OutcomeReobservation Outcome = "reobservation"
	OutcomeNearDuplicate Outcome = "near_duplicate"
)

// residentEntry is the value stored in the LRU: the item_id a fingerprint
// currently maps to, used for the nearest-neighbor scan.
type residentEntry struct {
	itemID      string
	fingerprint uint64
}

// Deduper merges normalized items into the canonical store, maintaining
// the invariant that merging is commutative and idempotent on
// re-observation of the same (item_id, source_id) pair.
type Deduper struct {
	store Store
	locks *keylock.Striped

	// resident is safe for concurrent use without external locking;
	// hashicorp/golang-lru guards its own internal state.
	resident *lru.Cache[uint64, residentEntry]

	// scorer recomputes score/severity on an item in place before it is
	// persisted, run under the per-item lock so the Scorer always
	// sees the fully merged state. Nil leaves score/severity untouched,
	// which is what the dedupe-only unit tests want.
	scorer func(item *intel.Item, now time.Time)

	nearDupWindow time.Duration
}

// New builds a Deduper backed by store, with an LRU used to resist
// cold-storage lookups for recently-seen fingerprints.
func New(store Store, cfg Config) (*Deduper, error) {
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = DefaultLRUSize
	}
	window := cfg.NearDuplicateWindow
	switch {
	case window == 0:
		window = DefaultNearDuplicateWindow
	case window < 0:
		window = 0
	}
	cache, err := lru.New[uint64, residentEntry](cfg.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("dedupe: build lru: %w", err)
	}
	return &Deduper{
		store:         store,
		locks:         keylock.NewStriped(256),
		resident:      cache,
		nearDupWindow: window,
	}, nil
}

// SetScorer installs the hook invoked on every item just before it's
// persisted, so the pipeline (internal/pipeline) can keep score/severity
// current without a second, unlocked read-modify-write cycle.
func (d *Deduper) SetScorer(scorer func(item *intel.Item, now time.Time)) {
	d.scorer = scorer
}

// Merge ingests one normalized item (the output of the Normalizer for a
// single raw source item) and returns the outcome and resulting canonical
// item. sourceID/credibility/observedAt describe the reporting source.
func (d *Deduper) Merge(ctx context.Context, normalized intel.Item, sourceID string, credibility float64, observedAt time.Time) (*intel.Item, Outcome, error) {
	// Step 1: lookup by item_id.
	existing, found, err := d.store.Get(ctx, normalized.ItemID)
	if err != nil {
		return nil, "", fmt.Errorf("dedupe: lookup by item_id: %w", err)
	}

	if !found {
		// Step 2: exact/near fingerprint match within the resident set,
		// falling back to the store for cold fingerprints.
		if match := d.nearestResident(normalized.Fingerprint); match != "" {
			existing, found, err = d.store.Get(ctx, match)
			if err != nil {
				return nil, "", fmt.Errorf("dedupe: lookup near-match item: %w", err)
			}
			if found && d.outsideWindow(existing, observedAt) {
				existing, found = nil, false
			}
		}
	}

	if !found {
		if coldMatch, err := d.store.FindByFingerprintNear(ctx, normalized.Fingerprint, MaxHammingDistance); err == nil && coldMatch != nil {
			if !d.outsideWindow(coldMatch, observedAt) {
				existing, found = coldMatch, true
			}
		}
	}

	var outcome Outcome
	var result *intel.Item

	if !found {
		// Step 4: miss — persist as a new item.
		item := normalized
		item.FirstSeen = observedAt
		item.LastSeen = observedAt
		item.Sources = []intel.SourceObservation{{
			SourceID: sourceID, Credibility: credibility,
			FirstSeen: observedAt, LastSeen: observedAt,
		}}
		item.Confidence = credibility
		item.TierEnteredAt = observedAt
		item.AddRevision(sourceID, "created", observedAt)

		d.locks.With(item.ItemID, func() {
			if d.scorer != nil {
				d.scorer(&item, observedAt)
			}
			if _, putErr := d.store.Put(ctx, &item); putErr != nil {
				err = putErr
				return
			}
			d.resident.Add(item.Fingerprint, residentEntry{itemID: item.ItemID, fingerprint: item.Fingerprint})
		})
		if err != nil {
			return nil, "", fmt.Errorf("dedupe: persist new item: %w", err)
		}
		return &item, OutcomeNew, nil
	}

	// Step 3: re-observation or near-duplicate — merge in place.
	itemID := existing.ItemID
	d.locks.With(itemID, func() {
		current, ok, getErr := d.store.Get(ctx, itemID)
		if getErr != nil {
			err = getErr
			return
		}
		if !ok {
			err = fmt.Errorf("dedupe: item %s disappeared during merge", itemID)
			return
		}

		merged := mergeInto(*current, normalized, sourceID, credibility, observedAt)
		if d.scorer != nil {
			d.scorer(&merged, observedAt)
		}
		if _, putErr := d.store.Put(ctx, &merged); putErr != nil {
			err = putErr
			return
		}
		d.resident.Add(merged.Fingerprint, residentEntry{itemID: merged.ItemID, fingerprint: merged.Fingerprint})
		result = &merged
	})
	if err != nil {
		return nil, "", fmt.Errorf("dedupe: merge existing item: %w", err)
	}

	if existing.ItemID == normalized.ItemID {
		outcome = OutcomeReobservation
	} else {
		outcome = OutcomeNearDuplicate
	}
	return result, outcome, nil
}

// outsideWindow reports whether a fingerprint match is too old to merge
// with: merging only collapses items last seen within the configured
// near-duplicate window of the new observation.
func (d *Deduper) outsideWindow(existing *intel.Item, observedAt time.Time) bool {
	if d.nearDupWindow <= 0 {
		return false
	}
	return observedAt.Sub(existing.LastSeen) > d.nearDupWindow
}

// nearestResident scans the LRU-resident fingerprint set for an entry
// within MaxHammingDistance, returning its item_id or "" on no match.
func (d *Deduper) nearestResident(fingerprint uint64) string {
	for _, key := range d.resident.Keys() {
		entry, ok := d.resident.Peek(key)
		if !ok {
			continue
		}
		if intel.HammingDistance64(entry.fingerprint, fingerprint) <= MaxHammingDistance {
			return entry.itemID
		}
	}
	return ""
}

// mergeInto applies a re-observation or near-duplicate merge:
// update last_seen, append the source idempotently, recompute confidence
// and the validated flag. It is commutative and idempotent: merging the
// same (item_id, source_id, observedAt) twice produces the same result.
func mergeInto(current intel.Item, normalized intel.Item, sourceID string, credibility float64, observedAt time.Time) intel.Item {
	merged := current
	merged.LastSeen = observedAt
	if merged.LastSeen.Before(current.LastSeen) {
		merged.LastSeen = current.LastSeen
	}

	found := false
	for i, s := range merged.Sources {
		if s.SourceID == sourceID {
			found = true
			if observedAt.After(s.LastSeen) {
				merged.Sources[i].LastSeen = observedAt
			}
			if credibility > s.Credibility {
				merged.Sources[i].Credibility = credibility
			}
			break
		}
	}
	if !found {
		merged.Sources = append(merged.Sources, intel.SourceObservation{
			SourceID: sourceID, Credibility: credibility,
			FirstSeen: observedAt, LastSeen: observedAt,
		})
	}

	merged.IOCs.Merge(&normalized.IOCs)

	merged.Confidence = aggregateConfidence(merged.Sources)
	if merged.DistinctSourceCount() >= 3 {
		merged.Validated = true
	}

	// A repeat of the observation already recorded last adds no revision, so
	// re-merging the same observation leaves the item unchanged.
	last := len(merged.Revisions) - 1
	repeat := last >= 0 && merged.Revisions[last].Actor == sourceID &&
		merged.Revisions[last].At.Equal(observedAt) &&
		(merged.Revisions[last].Reason == "merged" || merged.Revisions[last].Reason == "created")
	if !repeat {
		merged.AddRevision(sourceID, "merged", observedAt)
	}
	return merged
}

// aggregateConfidence implements confidence = 1 - prod(1 - credibility_i)
// over distinct sources.
func aggregateConfidence(sources []intel.SourceObservation) float64 {
	product := 1.0
	for _, s := range sources {
		product *= 1 - s.Credibility
	}
	return 1 - product
}
