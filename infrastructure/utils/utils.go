// Package utils holds small string-set helpers used when normalizing
// source-supplied values like industry tags.
package utils

import "strings"

// TrimEmpty trims whitespace from each value and drops the ones that
// end up empty.
func TrimEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Unique drops duplicate values, keeping first-seen order.
func Unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// NormalizeTags lowercases, trims, and dedupes a tag set in one pass,
// the canonical treatment for industry_tags from config and feeds.
func NormalizeTags(values []string) []string {
	lowered := make([]string, 0, len(values))
	for _, v := range TrimEmpty(values) {
		lowered = append(lowered, strings.ToLower(v))
	}
	return Unique(lowered)
}
