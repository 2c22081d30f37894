// Package intel defines the canonical threat-intelligence data model shared
// by every pipeline stage: the normalized Item record, its IOC set, and the
// bounded audit trail kept across dedupe-merges and interaction recording.
package intel

import (
	"sort"
	"time"
)

// Category classifies the subject matter of an Item.
type Category string

const (
	CategoryVulnerability Category = "VULNERABILITY"
	CategoryMalware       Category = "MALWARE"
	CategoryBreach        Category = "BREACH"
	CategoryRansomware    Category = "RANSOMWARE"
	CategoryPhishing      Category = "PHISHING"
	CategoryAPT           Category = "APT"
	CategoryAdvisory      Category = "ADVISORY"
	CategoryOther         Category = "OTHER"
)

// categoryPriority breaks classifier ties; lower index wins.
var categoryPriority = []Category{
	CategoryRansomware,
	CategoryVulnerability,
	CategoryMalware,
	CategoryAPT,
	CategoryBreach,
	CategoryPhishing,
	CategoryAdvisory,
	CategoryOther,
}

// ResolveCategoryTie returns the higher-priority category among ties.
func ResolveCategoryTie(candidates []Category) Category {
	if len(candidates) == 0 {
		return CategoryOther
	}
	set := make(map[Category]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}
	for _, c := range categoryPriority {
		if _, ok := set[c]; ok {
			return c
		}
	}
	return CategoryOther
}

// Severity is a monotonic projection of Score at fixed thresholds.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityForScore buckets a [0,100] score into its severity.
func SeverityForScore(score int) Severity {
	switch {
	case score < 25:
		return SeverityLow
	case score < 50:
		return SeverityMedium
	case score < 80:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Tier identifies which Periscope keyspace currently holds an item.
type Tier string

const (
	TierL1 Tier = "L1"
	TierL2 Tier = "L2"
	TierL3 Tier = "L3"
)

// SourceObservation records one source's report of an item.
type SourceObservation struct {
	SourceID    string    `json:"source_id"`
	Credibility float64   `json:"credibility"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// IOCSet holds deduplicated, validated indicators of compromise, each kind
// stored as a sorted set for stable JSON marshaling.
type IOCSet struct {
	IPs     []string `json:"ips,omitempty"`
	Domains []string `json:"domains,omitempty"`
	URLs    []string `json:"urls,omitempty"`
	Hashes  []string `json:"hashes,omitempty"`
	Emails  []string `json:"emails,omitempty"`
	CVEs    []string `json:"cves,omitempty"`
}

// KindCount returns the number of IOC kinds present (non-empty) in the set.
func (s *IOCSet) KindCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, kind := range [][]string{s.IPs, s.Domains, s.URLs, s.Hashes, s.Emails} {
		if len(kind) > 0 {
			n++
		}
	}
	if len(s.CVEs) > 0 {
		n++
	}
	return n
}

// Merge unions another IOCSet into this one, keeping each field sorted and
// deduplicated.
func (s *IOCSet) Merge(other *IOCSet) {
	if other == nil {
		return
	}
	s.IPs = mergeSorted(s.IPs, other.IPs)
	s.Domains = mergeSorted(s.Domains, other.Domains)
	s.URLs = mergeSorted(s.URLs, other.URLs)
	s.Hashes = mergeSorted(s.Hashes, other.Hashes)
	s.Emails = mergeSorted(s.Emails, other.Emails)
	s.CVEs = mergeSorted(s.CVEs, other.CVEs)
}

func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// InteractionCounter tracks a single interaction kind on an item.
type InteractionCounter struct {
	Count      int       `json:"count"`
	LastActor  string    `json:"last_actor,omitempty"`
	LastTime   time.Time `json:"last_time,omitempty"`
	distinct   map[string]struct{}
}

// DistinctActors returns the number of distinct actors that have recorded
// this interaction kind.
func (c *InteractionCounter) DistinctActors() int {
	if c == nil {
		return 0
	}
	return len(c.distinct)
}

// record bumps the counter unless the same actor already recorded this
// kind within the same wall-clock second — repeat deliveries of one
// analyst action (a double click, an at-least-once queue redelivery)
// collapse to a single count, while repeats across seconds are additive.
func (c *InteractionCounter) record(actor string, at time.Time) bool {
	if c.Count > 0 && c.LastActor == actor &&
		c.LastTime.Truncate(time.Second).Equal(at.Truncate(time.Second)) {
		return false
	}
	c.Count++
	c.LastActor = actor
	c.LastTime = at
	if c.distinct == nil {
		c.distinct = make(map[string]struct{})
	}
	if actor != "" {
		c.distinct[actor] = struct{}{}
	}
	return true
}

// Interactions groups the three interaction counters tracked per item.
type Interactions struct {
	Views       InteractionCounter `json:"views"`
	Escalations InteractionCounter `json:"escalations"`
	Dismissals  InteractionCounter `json:"dismissals"`
}

// InteractionKind enumerates the kinds record_interaction accepts.
type InteractionKind string

const (
	InteractionView     InteractionKind = "view"
	InteractionEscalate InteractionKind = "escalate"
	InteractionDismiss  InteractionKind = "dismiss"
)

// Revision is one entry of an item's bounded audit trail, recorded on every
// dedupe-merge and interaction mutation, bounding how much history one
// item can accumulate.
type Revision struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor,omitempty"`
	Reason string    `json:"reason"`
}

// MaxRevisions bounds the audit trail kept per item.
const MaxRevisions = 20

// Item is the canonical, atomic unit of the pipeline and the store.
type Item struct {
	ItemID      string    `json:"item_id"`
	Fingerprint uint64    `json:"fingerprint"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`

	Sources []SourceObservation `json:"sources"`

	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Score    int      `json:"score"`
	Confidence float64 `json:"confidence"`
	Validated  bool    `json:"validated"`

	IOCs         IOCSet       `json:"iocs"`
	IndustryTags []string     `json:"industry_tags,omitempty"`
	Interactions Interactions `json:"interactions"`
	Tier         Tier         `json:"tier"`

	Revisions []Revision `json:"revisions,omitempty"`

	// PublishedAtDefaulted flags that published_at fell back to fetched_at
	// because every parse attempt failed.
	PublishedAtDefaulted bool `json:"published_at_defaulted,omitempty"`

	TierEnteredAt time.Time `json:"tier_entered_at"`
}

// MaxSourceCredibility returns the highest credibility among distinct
// sources; the strongest reporter dominates even when a weaker source
// repeats the claim.
func (it *Item) MaxSourceCredibility() float64 {
	max := 0.0
	for _, s := range it.Sources {
		if s.Credibility > max {
			max = s.Credibility
		}
	}
	return max
}

// DistinctSourceCount returns the number of distinct sources that have
// reported this item.
func (it *Item) DistinctSourceCount() int {
	return len(it.Sources)
}

// HasSource reports whether the given source has already reported this item.
func (it *Item) HasSource(sourceID string) (SourceObservation, bool) {
	for _, s := range it.Sources {
		if s.SourceID == sourceID {
			return s, true
		}
	}
	return SourceObservation{}, false
}

// AddRevision appends a bounded audit entry, discarding the oldest entry
// once MaxRevisions is exceeded.
func (it *Item) AddRevision(actor, reason string, at time.Time) {
	it.Revisions = append(it.Revisions, Revision{At: at, Actor: actor, Reason: reason})
	if len(it.Revisions) > MaxRevisions {
		it.Revisions = it.Revisions[len(it.Revisions)-MaxRevisions:]
	}
}

// RecordInteraction bumps the corresponding counter and re-evaluates the
// validated flag: escalation sets validated=true when cumulative
// escalations reach 3 or distinct actors reach 2. A repeat of the same
// (actor, kind) within the same second is a no-op, so the whole call is
// idempotent under same-second redelivery.
func (it *Item) RecordInteraction(kind InteractionKind, actor string, at time.Time) {
	applied := false
	switch kind {
	case InteractionView:
		applied = it.Interactions.Views.record(actor, at)
	case InteractionEscalate:
		applied = it.Interactions.Escalations.record(actor, at)
		if applied && (it.Interactions.Escalations.Count >= 3 || it.Interactions.Escalations.DistinctActors() >= 2) {
			it.Validated = true
		}
	case InteractionDismiss:
		applied = it.Interactions.Dismissals.record(actor, at)
	}
	if applied {
		it.AddRevision(actor, "interaction:"+string(kind), at)
	}
}
