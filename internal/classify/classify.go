// Package classify exposes the category classifier and embedding
// capabilities as narrow interfaces, so the pipeline can
// run against stub implementations in tests while production wires a real
// weighted-keyword classifier or a scriptable one.
package classify

import (
	"context"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

// Classifier assigns a category and confidence to a block of text.
type Classifier interface {
	Classify(ctx context.Context, text string) (intel.Category, float64, error)
}

// Embedder produces a vector embedding for a block of text. Embedding
// source is explicitly out of scope for the default pipeline; this
// interface exists so a real provider can be wired in without touching
// callers.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StubClassifier always returns a fixed category and confidence. Used by
// pipeline tests that need deterministic classification without exercising
// the real keyword weights.
type StubClassifier struct {
	Category   intel.Category
	Confidence float64
}

// Classify implements Classifier.
func (s StubClassifier) Classify(context.Context, string) (intel.Category, float64, error) {
	cat := s.Category
	if cat == "" {
		cat = intel.CategoryOther
	}
	return cat, s.Confidence, nil
}

// StubEmbedder always returns a fixed-length zero vector.
type StubEmbedder struct {
	Dim int
}

// Embed implements Embedder.
func (s StubEmbedder) Embed(context.Context, string) ([]float32, error) {
	dim := s.Dim
	if dim <= 0 {
		dim = 8
	}
	return make([]float32, dim), nil
}
