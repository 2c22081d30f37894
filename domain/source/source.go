// Package source defines the Source descriptor and the Registry that serves
// consistent, atomically-reloadable snapshots of it to the Collection
// Engine.
package source

import (
	"fmt"
	"time"

	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
)

// Kind identifies which fetcher implementation a source uses.
type Kind string

const (
	KindFeed   Kind = "feed"
	KindWeb    Kind = "web"
	KindAPI    Kind = "api"
	KindSocial Kind = "social"
)

// JSONMapping declares, for kind=api (and social) sources, the JSON paths
// used to extract canonical fields from each response element.
type JSONMapping struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Body        string `yaml:"body" json:"body"`
	PublishedAt string `yaml:"published_at" json:"published_at"`
}

// Source is the descriptor for one ingestion source.
type Source struct {
	ID             string       `yaml:"id" json:"id"`
	Kind           Kind         `yaml:"kind" json:"kind"`
	Endpoint       string       `yaml:"endpoint" json:"endpoint"`
	CadenceSeconds int          `yaml:"cadence_seconds" json:"cadence_seconds"`
	Credibility    float64      `yaml:"credibility" json:"credibility"`
	IndustryTags   []string     `yaml:"industry_tags,omitempty" json:"industry_tags,omitempty"`
	AuthRef        string       `yaml:"auth_ref,omitempty" json:"auth_ref,omitempty"`
	MaxConcurrency int          `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
	TimeoutMS      int          `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Mapping        *JSONMapping `yaml:"mapping,omitempty" json:"mapping,omitempty"`

	// Extras carries per-source opt-in knobs that don't warrant a first-class
	// field: e.g. extras["transport"]="stream" opts a social source into the
	// websocket firehose fetch path instead of polling, and
	// extras["item_filter"] carries an optional jsonpath predicate
	// (`$[?(@.severity=='high')]`) applied before per-item field mapping.
	Extras map[string]string `yaml:"extras,omitempty" json:"extras,omitempty"`
}

// Defaults applied when a field is zero-valued.
const (
	DefaultTimeoutMS      = 15000
	DefaultMaxConcurrency = 4
	MinCadenceSeconds     = 30
)

// Timeout returns the per-fetch deadline derived from TimeoutMS.
func (s Source) Timeout() time.Duration {
	ms := s.TimeoutMS
	if ms <= 0 {
		ms = DefaultTimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

// Concurrency returns the effective max_concurrency, applying the default.
func (s Source) Concurrency() int {
	if s.MaxConcurrency <= 0 {
		return DefaultMaxConcurrency
	}
	return s.MaxConcurrency
}

// Cadence returns the fetch cadence as a duration.
func (s Source) Cadence() time.Duration {
	return time.Duration(s.CadenceSeconds) * time.Second
}

// Validate checks the invariants a single Source descriptor must satisfy
// independent of the rest of the registry.
func (s Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source: id is required")
	}
	switch s.Kind {
	case KindFeed, KindWeb, KindAPI, KindSocial:
	default:
		return fmt.Errorf("source %q: invalid kind %q", s.ID, s.Kind)
	}
	if _, err := httputil.ValidateEndpoint(s.Endpoint); err != nil {
		return fmt.Errorf("source %q: %w", s.ID, err)
	}
	if s.CadenceSeconds < MinCadenceSeconds {
		return fmt.Errorf("source %q: cadence_seconds must be >= %d", s.ID, MinCadenceSeconds)
	}
	if s.Credibility < 0 || s.Credibility > 1 {
		return fmt.Errorf("source %q: credibility must be in [0,1]", s.ID)
	}
	if s.Kind == KindAPI || s.Kind == KindSocial {
		if s.Mapping == nil {
			return fmt.Errorf("source %q: mapping is required for kind %q", s.ID, s.Kind)
		}
		if s.Mapping.ID == "" || s.Mapping.Title == "" {
			return fmt.Errorf("source %q: mapping.id and mapping.title are required", s.ID)
		}
	}
	return nil
}

// Config is the top-level YAML document shape for the source file.
type Config struct {
	Sources []Source `yaml:"sources" json:"sources"`
}

// Validate checks the whole document: per-source validity plus uniqueness
// of id across the set.
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
