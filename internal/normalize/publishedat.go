package normalize

import (
	"strings"
	"time"
)

// publishedAtLayouts is the sequence of formats attempted in order.
// Feeds and APIs encountered in practice use RFC 3339, RFC 1123 (common in
// RSS), and a handful of bare date formats.
var publishedAtLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ParsePublishedAt attempts each layout in order, returning the first
// successful parse in UTC. If every attempt fails, it returns fetchedAt and
// true for the "defaulted" flag.
func ParsePublishedAt(raw string, fetchedAt time.Time) (publishedAt time.Time, defaulted bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fetchedAt, true
	}
	for _, layout := range publishedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), false
		}
	}
	return fetchedAt, true
}
