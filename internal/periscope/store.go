package periscope

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/internal/keylock"
)

// ErrStoreFull signals that validated=true
// items are never evicted from L3, so once the configured L3 budget is
// exhausted, writes of new validated items surface this back-pressure
// signal instead of silently dropping data.
var ErrStoreFull = errors.New("periscope: L3 budget exhausted for validated items")

// ErrValidatedItem is returned by Remove when called on a validated item,
// as an explicit refusal rather than a silent no-op.
var ErrValidatedItem = errors.New("periscope: remove refused, item is validated")

// ErrStoreUnavailable wraps every backend read/write failure so callers
// can tell "the store rejected this" apart from pipeline-level errors.
// The Collection Engine matches on it to park unflushed writes in its
// bounded buffer and stop scheduling new fetches until the store
// recovers.
var ErrStoreUnavailable = errors.New("periscope: store unavailable")

// Backend is the storage interface each tier implements. L1 is backed by
// Redis; L2 and L3 each get their own PostgresBackend, both over one
// shared table and each bound to its own tier.
type Backend interface {
	Get(ctx context.Context, itemID string) (*intel.Item, bool, error)
	Put(ctx context.Context, item *intel.Item) error
	Delete(ctx context.Context, itemID string) error
	Query(ctx context.Context, filter Filter) ([]intel.Item, int, error)
}

// FingerprintSearcher is implemented by backends that can serve the
// Deduper's cold-fingerprint lookup.
type FingerprintSearcher interface {
	FindByFingerprintNear(ctx context.Context, fingerprint uint64, maxDistance int) (*intel.Item, error)
}

// Filter describes a query over the store.
type Filter struct {
	Severity     intel.Severity
	MinScore     int
	MaxScore     int
	Category     intel.Category
	SourceID     string
	Tag          string
	IndustryTags []string
	Offset       int
	Limit        int
}

// QueryResult is the paginated response to Query.
type QueryResult struct {
	Items []intel.Item
	Total int
}

// DefaultL3Budget is the default bound on validated items L3 will hold before new
// validated writes return ErrStoreFull. Zero means unbounded.
const DefaultL3Budget = 0

// Periscope is the three-tier item store. The zero value is not
// usable; use New.
type Periscope struct {
	l1 Backend
	l2 Backend
	l3 Backend

	locks *keylock.Striped

	l3Budget int
	now      func() time.Time
}

// New builds a Periscope over the given per-tier backends. l3Budget bounds
// the number of validated items resident in L3; zero means unbounded.
func New(l1, l2, l3 Backend, l3Budget int) *Periscope {
	return &Periscope{
		l1:       l1,
		l2:       l2,
		l3:       l3,
		locks:    keylock.NewStriped(512),
		l3Budget: l3Budget,
		now:      time.Now,
	}
}

func (p *Periscope) backend(tier intel.Tier) Backend {
	switch tier {
	case intel.TierL1:
		return p.l1
	case intel.TierL2:
		return p.l2
	case intel.TierL3:
		return p.l3
	default:
		return nil
	}
}

// Put writes a new item to L1 and returns its assigned tier.
func (p *Periscope) Put(ctx context.Context, item *intel.Item) (intel.Tier, error) {
	if item.Tier == "" {
		item.Tier = intel.TierL1
	}
	if item.TierEnteredAt.IsZero() {
		item.TierEnteredAt = p.now()
	}
	if err := p.l1.Put(ctx, item); err != nil {
		return "", fmt.Errorf("periscope: put to L1: %w: %w", ErrStoreUnavailable, err)
	}
	return item.Tier, nil
}

// Get looks up an item by item_id, checking L1 then L2 then L3. A hit on
// L2 or L3 triggers mandatory auto-promotion: the item is copied into
// every hotter tier before Get returns.
func (p *Periscope) Get(ctx context.Context, itemID string) (*intel.Item, bool, error) {
	if it, ok, err := p.l1.Get(ctx, itemID); err != nil {
		return nil, false, fmt.Errorf("periscope: get from L1: %w: %w", ErrStoreUnavailable, err)
	} else if ok {
		return it, true, nil
	}

	if it, ok, err := p.l2.Get(ctx, itemID); err != nil {
		return nil, false, fmt.Errorf("periscope: get from L2: %w: %w", ErrStoreUnavailable, err)
	} else if ok {
		if err := p.autoPromote(ctx, it, intel.TierL2); err != nil {
			return nil, false, err
		}
		return it, true, nil
	}

	if it, ok, err := p.l3.Get(ctx, itemID); err != nil {
		return nil, false, fmt.Errorf("periscope: get from L3: %w: %w", ErrStoreUnavailable, err)
	} else if ok {
		if err := p.autoPromote(ctx, it, intel.TierL3); err != nil {
			return nil, false, err
		}
		return it, true, nil
	}

	return nil, false, nil
}

// autoPromote copies item into every tier hotter than foundIn. The
// item's own Tier field is left as foundIn; copies placed in hotter tiers
// are independent resident copies per tier, consistent with "three
// logically separate keyspaces".
func (p *Periscope) autoPromote(ctx context.Context, item *intel.Item, foundIn intel.Tier) error {
	hotterTiers := map[intel.Tier][]intel.Tier{
		intel.TierL2: {intel.TierL1},
		intel.TierL3: {intel.TierL1, intel.TierL2},
	}[foundIn]

	for _, tier := range hotterTiers {
		copyItem := *item
		copyItem.Tier = tier
		copyItem.TierEnteredAt = p.now()
		if err := p.backend(tier).Put(ctx, &copyItem); err != nil {
			return fmt.Errorf("periscope: auto-promote copy to %s: %w: %w", tier, ErrStoreUnavailable, err)
		}
	}
	return nil
}

// FindByFingerprintNear serves the Deduper's cold-fingerprint lookup,
// checking L2 then L3 backends that support it.
func (p *Periscope) FindByFingerprintNear(ctx context.Context, fingerprint uint64, maxDistance int) (*intel.Item, error) {
	for _, backend := range []Backend{p.l2, p.l3} {
		searcher, ok := backend.(FingerprintSearcher)
		if !ok {
			continue
		}
		it, err := searcher.FindByFingerprintNear(ctx, fingerprint, maxDistance)
		if err != nil {
			return nil, err
		}
		if it != nil {
			return it, nil
		}
	}
	return nil, nil
}

// locate finds an item without auto-promoting it into hotter tiers.
// Update uses this instead of Get so that background maintenance reads
// (decay, rescoring) don't plant a stale hot-tier copy that would shadow
// the very write the caller is about to make.
func (p *Periscope) locate(ctx context.Context, itemID string) (*intel.Item, bool, error) {
	for _, tier := range []intel.Tier{intel.TierL1, intel.TierL2, intel.TierL3} {
		backend := p.backend(tier)
		if backend == nil {
			continue
		}
		it, ok, err := backend.Get(ctx, itemID)
		if err != nil {
			return nil, false, fmt.Errorf("periscope: locate in %s: %w: %w", tier, ErrStoreUnavailable, err)
		}
		if ok {
			return it, true, nil
		}
	}
	return nil, false, nil
}

// Update merges delta into the item currently resident in its tier,
// serialized per-item.
func (p *Periscope) Update(ctx context.Context, itemID string, mutate func(*intel.Item)) (*intel.Item, error) {
	var result *intel.Item
	var outerErr error

	p.locks.With(itemID, func() {
		current, ok, err := p.locate(ctx, itemID)
		if err != nil {
			outerErr = err
			return
		}
		if !ok {
			outerErr = fmt.Errorf("periscope: update: item %s not found", itemID)
			return
		}
		mutate(current)
		if err := p.backend(current.Tier).Put(ctx, current); err != nil {
			outerErr = fmt.Errorf("periscope: update: write back: %w: %w", ErrStoreUnavailable, err)
			return
		}
		result = current
	})
	return result, outerErr
}

// RecordInteraction atomically bumps an interaction counter and persists
// the item, serialized per-item.
func (p *Periscope) RecordInteraction(ctx context.Context, itemID, actor string, kind intel.InteractionKind) (*intel.Item, error) {
	return p.Update(ctx, itemID, func(it *intel.Item) {
		it.RecordInteraction(kind, actor, p.now())
	})
}

// Query filters across tiers, merges and sorts results by (score desc,
// last_seen desc, item_id asc), and paginates.
func (p *Periscope) Query(ctx context.Context, filter Filter) (QueryResult, error) {
	all := make([]intel.Item, 0)
	for _, backend := range []Backend{p.l1, p.l2, p.l3} {
		items, _, err := backend.Query(ctx, filter)
		if err != nil {
			return QueryResult{}, err
		}
		all = append(all, items...)
	}

	seen := make(map[string]struct{}, len(all))
	deduped := all[:0]
	for _, it := range all {
		if _, ok := seen[it.ItemID]; ok {
			continue
		}
		seen[it.ItemID] = struct{}{}
		deduped = append(deduped, it)
	}

	sort.Slice(deduped, func(i, j int) bool {
		a, b := deduped[i], deduped[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.ItemID < b.ItemID
	})

	total := len(deduped)
	offset := filter.Offset
	limit := filter.Limit
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return QueryResult{Items: deduped[offset:end], Total: total}, nil
}

// QueryTier queries a single tier's backend directly, bypassing the
// cross-tier merge Query performs. The Decay Worker uses this to scan L2
// and L3 independently in bounded batches; Filter's Offset/Limit are
// not applied here since the backend doesn't paginate at the SQL layer for
// a single-tier scan, so callers slice the returned batch themselves.
func (p *Periscope) QueryTier(ctx context.Context, tier intel.Tier, filter Filter) ([]intel.Item, error) {
	backend := p.backend(tier)
	if backend == nil {
		return nil, fmt.Errorf("periscope: query tier: unknown tier %q", tier)
	}
	items, _, err := backend.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("periscope: query tier %s: %w", tier, err)
	}
	return items, nil
}

// Remove deletes an item, but only if it is not validated.
func (p *Periscope) Remove(ctx context.Context, itemID string) error {
	var outerErr error
	p.locks.With(itemID, func() {
		it, ok, err := p.Get(ctx, itemID)
		if err != nil {
			outerErr = err
			return
		}
		if !ok {
			return
		}
		if it.Validated {
			outerErr = ErrValidatedItem
			return
		}
		for _, tier := range []intel.Tier{intel.TierL1, intel.TierL2, intel.TierL3} {
			_ = p.backend(tier).Delete(ctx, itemID)
		}
	})
	return outerErr
}

// Promote moves item from its current tier to target, honoring the L3
// validated-item budget. Unlike autoPromote's hot-cache copies,
// Promote is a genuine move: the item's canonical row is removed from its
// prior tier once the write to target succeeds, since each tier backend
// keys storage on (item_id, tier) and would otherwise retain a stale
// duplicate. Used by the Decay Worker and on explicit write-time
// promotion evaluation.
func (p *Periscope) Promote(ctx context.Context, item *intel.Item, target intel.Tier) error {
	if target == intel.TierL3 && item.Validated && p.l3Budget > 0 {
		resident, _, err := p.l3.Query(ctx, Filter{})
		if err != nil {
			return fmt.Errorf("periscope: promote: check L3 budget: %w", err)
		}
		validated := 0
		for i := range resident {
			if resident[i].Validated {
				validated++
			}
		}
		if validated >= p.l3Budget {
			return ErrStoreFull
		}
	}

	priorTier := item.Tier
	item.Tier = target
	item.TierEnteredAt = p.now()
	if err := p.backend(target).Put(ctx, item); err != nil {
		return fmt.Errorf("periscope: promote to %s: %w", target, err)
	}
	if priorTier != "" && priorTier != target {
		if err := p.backend(priorTier).Delete(ctx, item.ItemID); err != nil {
			return fmt.Errorf("periscope: promote: clear prior tier %s: %w", priorTier, err)
		}
	}
	return nil
}

// SweepExpired deletes non-validated items that have outlived their
// tier's TTL, realizing the expiry half of the item lifecycle: a row
// whose TierEnteredAt is older than the tier TTL is dropped from that
// tier, and an L3 drop is the item's terminal state. Validated items are
// exempt, re-checked under the per-item lock so a concurrent escalation
// can't race the delete. limit bounds one sweep; 0 means unbounded.
// Returns how many items were dropped.
func (p *Periscope) SweepExpired(ctx context.Context, tier intel.Tier, now time.Time, limit int) (int, error) {
	backend := p.backend(tier)
	if backend == nil {
		return 0, fmt.Errorf("periscope: sweep expired: unknown tier %q", tier)
	}

	items, _, err := backend.Query(ctx, Filter{})
	if err != nil {
		return 0, fmt.Errorf("periscope: sweep expired: scan %s: %w", tier, err)
	}

	dropped := 0
	for i := range items {
		it := items[i]
		ttl, noExpiry := TTLFor(tier, it.Validated)
		if noExpiry || it.Validated || it.TierEnteredAt.IsZero() {
			continue
		}
		if now.Sub(it.TierEnteredAt) < ttl {
			continue
		}

		expired := false
		p.locks.With(it.ItemID, func() {
			current, ok, getErr := backend.Get(ctx, it.ItemID)
			if getErr != nil || !ok || current.Validated {
				return
			}
			if delErr := backend.Delete(ctx, it.ItemID); delErr == nil {
				expired = true
			}
		})
		if expired {
			dropped++
			if limit > 0 && dropped >= limit {
				break
			}
		}
	}
	return dropped, nil
}
