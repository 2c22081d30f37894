// Package periscope implements the three-tier (L1/L2/L3) item store
// a hot/warm/cold keyspace partition with mandatory
// auto-promotion on read, TTL-bound retention, and validated-item
// exemption from eviction.
package periscope

import (
	"time"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

// Tier TTLs. Validated=true items have no expiry in L3.
const (
	TTLL1 = time.Hour
	TTLL2 = 7 * 24 * time.Hour
	TTLL3 = 90 * 24 * time.Hour
)

// L2PromotionScore is the score threshold that alone makes an item eligible
// for L1->L2 promotion.
const L2PromotionScore = 60

// L3EligibleAge is how long an item must have sat in L2 before it becomes
// eligible for L2->L3 demotion, absent recent interactions.
const L3EligibleAge = 7 * 24 * time.Hour

// L3EligibleQuietPeriod is the "no interactions in the last 24h" window
// that gates L2->L3 demotion.
const L3EligibleQuietPeriod = 24 * time.Hour

// EligibleForL2 reports whether an L1-resident item should be promoted to
// L2: score >= 60, or validated, or >= 2 distinct sources.
func EligibleForL2(it *intel.Item) bool {
	return it.Score >= L2PromotionScore || it.Validated || it.DistinctSourceCount() >= 2
}

// EligibleForL3 reports whether an L2-resident item should be demoted to
// L3: it has sat in tier for at least L3EligibleAge and has had no
// interaction in the last L3EligibleQuietPeriod, OR it is validated (which
// is always promoted to L3 before L2 TTL expiry regardless of age/quiet
// period).
func EligibleForL3(it *intel.Item, now time.Time) bool {
	if it.Validated {
		return true
	}
	age := now.Sub(it.TierEnteredAt)
	if age < L3EligibleAge {
		return false
	}
	return !hasRecentInteraction(it, now, L3EligibleQuietPeriod)
}

func hasRecentInteraction(it *intel.Item, now time.Time, within time.Duration) bool {
	cutoff := now.Add(-within)
	for _, t := range []time.Time{
		it.Interactions.Views.LastTime,
		it.Interactions.Escalations.LastTime,
		it.Interactions.Dismissals.LastTime,
	} {
		if !t.IsZero() && t.After(cutoff) {
			return true
		}
	}
	return false
}

// TTLFor returns the tier's TTL, with the validated-in-L3 exemption.
func TTLFor(tier intel.Tier, validated bool) (ttl time.Duration, noExpiry bool) {
	switch tier {
	case intel.TierL1:
		return TTLL1, false
	case intel.TierL2:
		return TTLL2, false
	case intel.TierL3:
		if validated {
			return 0, true
		}
		return TTLL3, false
	default:
		return 0, true
	}
}
