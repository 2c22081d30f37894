package source

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Registry serves consistent snapshots of the source set and supports
// atomic, validated reloads. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	current atomic.Pointer[[]Source]
}

// NewRegistry builds a Registry from an initial, already-validated set of
// sources. An empty set is permitted.
func NewRegistry(initial []Source) (*Registry, error) {
	cfg := Config{Sources: initial}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{}
	snap := cloneSources(initial)
	r.current.Store(&snap)
	return r, nil
}

// Snapshot returns a consistent, independent view of the current source
// set. Concurrent callers observe the same slice contents until the next
// successful Reload; mutating the returned slice does not affect the
// registry.
func (r *Registry) Snapshot() []Source {
	p := r.current.Load()
	if p == nil {
		return nil
	}
	return cloneSources(*p)
}

// Reload atomically replaces the source set after validating it in full:
// id uniqueness, required fields, and per-kind mapping requirements. On
// validation failure the previous snapshot is retained unchanged and the
// error is returned; there is no partial update.
func (r *Registry) Reload(next []Source) error {
	cfg := Config{Sources: next}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reload rejected, previous snapshot retained: %w", err)
	}
	snap := cloneSources(next)
	r.current.Store(&snap)
	return nil
}

// LoadConfigFile reads and validates a YAML source configuration file
// without installing it into any Registry. Callers typically pass the
// result to NewRegistry or Reload.
func LoadConfigFile(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse source config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.Sources, nil
}

func cloneSources(in []Source) []Source {
	out := make([]Source, len(in))
	copy(out, in)
	for i := range out {
		if out[i].IndustryTags != nil {
			tags := make([]string, len(out[i].IndustryTags))
			copy(tags, out[i].IndustryTags)
			out[i].IndustryTags = tags
		}
		if out[i].Mapping != nil {
			m := *out[i].Mapping
			out[i].Mapping = &m
		}
		if out[i].Extras != nil {
			extras := make(map[string]string, len(out[i].Extras))
			for k, v := range out[i].Extras {
				extras[k] = v
			}
			out[i].Extras = extras
		}
	}
	return out
}
