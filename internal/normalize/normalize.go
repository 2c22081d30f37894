// Package normalize implements the Normalizer pipeline stage: URL
// and body cleaning, published_at recovery, IOC extraction, category
// classification, simhash fingerprinting, and item_id assignment.
package normalize

import (
	"context"
	"fmt"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/infrastructure/utils"
	"github.com/R3E-Network/threatwatch/internal/classify"
)

// DropReason explains why a raw item never became a normalized Item.
type DropReason string

const (
	DropMissingTitleAndURL DropReason = "missing_title_and_url"
)

// DroppedError is returned by Normalize when a raw item must be discarded
// and counted rather than normalized.
type DroppedError struct {
	Reason DropReason
}

func (e *DroppedError) Error() string {
	return fmt.Sprintf("normalize: dropped raw item: %s", e.Reason)
}

// Result is the output of normalizing a single raw item: a partially
// populated Item (category, fingerprint, IOCs, cleaned text) and the
// normalized URL/external ID the Deduper and item_id computation need.
// first_seen/last_seen/sources/score/tier are intentionally left for the
// Deduper and Scorer to fill in, since those fields depend on prior state
// the Normalizer doesn't have.
type Result struct {
	Item               intel.Item
	NormalizedURL      string
	ExternalID         string
	HadInvalidEncoding bool
}

// Normalizer holds the pluggable classifier used for category assignment.
type Normalizer struct {
	Classifier classify.Classifier
}

// New builds a Normalizer with the default keyword classifier.
func New() *Normalizer {
	return &Normalizer{Classifier: classify.NewKeywordClassifier()}
}

// Normalize runs the full cleaning pass. It never returns an error for
// recoverable conditions (malformed encoding, unparseable published_at) —
// those are reflected as flags on the Result instead, following the
// policy of never terminating a fetch. It returns a *DroppedError only for
// the one unrecoverable case: a raw item with neither title nor url.
func (n *Normalizer) Normalize(ctx context.Context, raw intel.RawItem) (*Result, error) {
	if raw.Title == "" && raw.URL == "" {
		return nil, &DroppedError{Reason: DropMissingTitleAndURL}
	}

	normalizedURL, err := NormalizeURL(raw.URL)
	if err != nil {
		normalizedURL = ""
	}

	cleanedBody, hadInvalidEncoding := CleanBody(raw.Body)

	var publishedAt = raw.FetchedAt
	defaulted := true
	if raw.PublishedAt != nil {
		publishedAt = raw.PublishedAt.UTC()
		defaulted = false
	} else if rawPublished, ok := raw.Extras["published_at_raw"].(string); ok {
		publishedAt, defaulted = ParsePublishedAt(rawPublished, raw.FetchedAt)
	}

	fingerprintText := raw.Title + "\n" + cleanedBody
	fingerprint := intel.ComputeFingerprint(fingerprintText)

	iocs := ExtractIOCs(raw.Title + "\n" + cleanedBody + "\n" + raw.URL)

	category := intel.CategoryOther
	if n.Classifier != nil {
		classifyText := raw.Title + "\n" + cleanedBody
		if cat, _, classifyErr := n.Classifier.Classify(ctx, classifyText); classifyErr == nil {
			category = cat
		}
	}

	itemID := intel.ComputeItemID(normalizedURL, raw.ExternalID, fingerprint)

	item := intel.Item{
		ItemID:               itemID,
		Fingerprint:          fingerprint,
		Title:                raw.Title,
		Body:                 cleanedBody,
		URL:                  normalizedURL,
		PublishedAt:          publishedAt,
		PublishedAtDefaulted: defaulted,
		Category:             category,
		IOCs:                 iocs,
		IndustryTags:         utils.NormalizeTags(raw.Tags),
	}
	item.CanonicalizeIOCs()

	return &Result{
		Item:               item,
		NormalizedURL:      normalizedURL,
		ExternalID:         raw.ExternalID,
		HadInvalidEncoding: hadInvalidEncoding,
	}, nil
}
