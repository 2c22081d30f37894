package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

func TestCompute_TwoSourceMergeScenario(t *testing.T) {
	// credibility=0.9, category=VULNERABILITY, published 1h
	// before "now" (well within 24h recency bucket), no IOCs, no industry
	// hit, no escalations.
	now := time.Date(2025, 11, 9, 10, 10, 0, 0, time.UTC)
	published := time.Date(2025, 11, 9, 10, 0, 0, 0, time.UTC)

	got, severity := Compute(Input{
		MaxSourceCredibility: 0.9,
		Category:             intel.CategoryVulnerability,
		PublishedAt:          published,
		Now:                  now,
	})

	assert.Equal(t, 62, got)
	assert.Equal(t, intel.SeverityHigh, severity)
}

func TestCompute_CapsAt100(t *testing.T) {
	got, severity := Compute(Input{
		MaxSourceCredibility: 1.0,
		Category:             intel.CategoryRansomware,
		IOCs: intel.IOCSet{
			IPs: []string{"1.2.3.4"}, Domains: []string{"evil.example"},
			URLs: []string{"https://evil.example/x"}, Hashes: []string{"deadbeef"},
			Emails: []string{"a@b.com"}, CVEs: []string{"CVE-2025-1", "CVE-2025-2"},
		},
		PublishedAt: time.Now(),
		Now:         time.Now(),
		Escalations: 10,
		IndustryHit: true,
	})
	assert.Equal(t, 100, got)
	assert.Equal(t, intel.SeverityCritical, severity)
}

func TestCompute_RecencyBuckets(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	within24h, _ := Compute(Input{PublishedAt: now.Add(-23 * time.Hour), Now: now})
	within72h, _ := Compute(Input{PublishedAt: now.Add(-70 * time.Hour), Now: now})
	older, _ := Compute(Input{PublishedAt: now.Add(-100 * time.Hour), Now: now})

	assert.Equal(t, 15, within24h)
	assert.Equal(t, 10, within72h)
	assert.Equal(t, 0, older)
}

func TestCompute_IOCBonusCappedAt20(t *testing.T) {
	got, _ := Compute(Input{
		IOCs: intel.IOCSet{
			CVEs: []string{"CVE-2025-1", "CVE-2025-2", "CVE-2025-3", "CVE-2025-4", "CVE-2025-5",
				"CVE-2025-6", "CVE-2025-7", "CVE-2025-8", "CVE-2025-9", "CVE-2025-10"},
		},
	})
	assert.Equal(t, 20, got)
}

func TestCompute_EscalationBonusCappedAt10(t *testing.T) {
	got, _ := Compute(Input{Escalations: 20})
	assert.Equal(t, 10, got)
}

func TestCompute_NeverNegative(t *testing.T) {
	got, severity := Compute(Input{})
	assert.Equal(t, 0, got)
	assert.Equal(t, intel.SeverityLow, severity)
}
