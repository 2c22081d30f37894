package intel

import "time"

// RawItem is an as-fetched source item prior to normalization: the
// shared output shape every fetcher produces regardless of source kind.
type RawItem struct {
	SourceID    string
	FetchedAt   time.Time
	ExternalID  string
	Title       string
	Body        string
	URL         string
	PublishedAt *time.Time
	Tags        []string
	Extras      map[string]any
}
