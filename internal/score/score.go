// Package score implements the Scorer component: a pure function
// from an Item's current fields to a bounded [0,100] score and its derived
// severity bucket. It has no external dependency by nature of the
// algorithm: closed-form arithmetic over already-materialized fields.
package score

import (
	"time"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

var categoryWeight = map[intel.Category]int{
	intel.CategoryVulnerability: 20,
	intel.CategoryRansomware:    25,
	intel.CategoryBreach:        20,
	intel.CategoryMalware:       15,
	intel.CategoryPhishing:      10,
	intel.CategoryAPT:           20,
	intel.CategoryAdvisory:      10,
	intel.CategoryOther:         0,
}

// Input captures every field the score formula reads, decoupling the
// computation from the full Item shape so it is cheap to call both from the
// normal ingestion path and from the Decay Worker (with a synthetic
// decayed confidence).
type Input struct {
	MaxSourceCredibility float64
	Category             intel.Category
	IOCs                 intel.IOCSet
	PublishedAt          time.Time
	Now                  time.Time
	Escalations          int
	IndustryHit          bool
}

// Compute returns the item's score and its severity bucket.
func Compute(in Input) (score int, severity intel.Severity) {
	total := 0

	total += roundHalfUp(30 * in.MaxSourceCredibility)
	total += categoryWeight[in.Category]

	iocKinds := in.IOCs.KindCount()
	iocBonus := 2*iocKinds + 2*len(in.IOCs.CVEs)
	if iocBonus > 20 {
		iocBonus = 20
	}
	total += iocBonus

	if !in.PublishedAt.IsZero() {
		age := in.Now.Sub(in.PublishedAt)
		switch {
		case age <= 24*time.Hour:
			total += 15
		case age <= 72*time.Hour:
			total += 10
		}
	}

	if in.IndustryHit {
		total += 10
	}

	interactionBonus := 2 * in.Escalations
	if interactionBonus > 10 {
		interactionBonus = 10
	}
	total += interactionBonus

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total, intel.SeverityForScore(total)
}

func roundHalfUp(v float64) int {
	if v < 0 {
		return -roundHalfUp(-v)
	}
	return int(v + 0.5)
}
