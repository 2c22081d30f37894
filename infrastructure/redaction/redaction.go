// Package redaction masks credential material before it reaches logs or
// the operator surface. Source descriptors carry auth_ref values that are
// usually opaque references (env://NAME, azkv://vault/name) but are
// sometimes pasted raw tokens; either way nothing secret-shaped should
// round-trip through /debug/sources or a log line verbatim.
package redaction

import (
	"regexp"
	"strings"
)

var secretPatterns = []*regexp.Regexp{
	// key=value / key: value assignments for credential-ish keys.
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|auth|password|credential)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`),
	// Bearer tokens and JWT-shaped blobs.
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+){0,2}`),
	// Long opaque hex runs (32+ characters) standing alone.
	regexp.MustCompile(`\b[A-Fa-f0-9]{32,}\b`),
}

// refScheme matches the reference form auth_refs normally take; the part
// after the scheme is a name, not a secret, but the vault path may still
// identify infrastructure, so only the scheme survives.
var refScheme = regexp.MustCompile(`^([a-z][a-z0-9]*)://`)

// Config tunes the redactor.
type Config struct {
	Enabled bool
	// Mask replaces each redacted span.
	Mask string
	// KeepRefScheme preserves the "env://", "azkv://" prefix so an
	// operator can still tell which provider a source resolves through.
	KeepRefScheme bool
}

// DefaultConfig enables redaction with the provider scheme preserved.
func DefaultConfig() Config {
	return Config{Enabled: true, Mask: "***", KeepRefScheme: true}
}

// Redactor applies the configured masking.
type Redactor struct {
	cfg Config
}

// NewRedactor validates cfg and returns a Redactor.
func NewRedactor(cfg Config) *Redactor {
	if cfg.Mask == "" {
		cfg.Mask = "***"
	}
	return &Redactor{cfg: cfg}
}

// RedactString masks credential-shaped content in s. A value in
// reference form collapses to its scheme; anything else is scanned for
// secret patterns.
func (r *Redactor) RedactString(s string) string {
	if !r.cfg.Enabled || s == "" {
		return s
	}

	if m := refScheme.FindStringSubmatch(s); m != nil {
		if r.cfg.KeepRefScheme {
			return m[1] + "://" + r.cfg.Mask
		}
		return r.cfg.Mask
	}

	out := s
	for _, p := range secretPatterns {
		out = p.ReplaceAllStringFunc(out, func(match string) string {
			// Keep the key name when the match is a key=value pair so the
			// redacted line stays readable.
			if i := strings.IndexAny(match, ":="); i > 0 {
				return match[:i+1] + " " + r.cfg.Mask
			}
			return r.cfg.Mask
		})
	}
	return out
}

// RedactFields masks string values in a log-fields map, leaving other
// value types alone.
func (r *Redactor) RedactFields(fields map[string]interface{}) map[string]interface{} {
	if !r.cfg.Enabled || fields == nil {
		return fields
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			out[k] = r.RedactString(s)
			continue
		}
		out[k] = v
	}
	return out
}
