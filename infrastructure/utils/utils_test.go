package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimEmpty(t *testing.T) {
	got := TrimEmpty([]string{" finance ", "", "  ", "energy"})
	assert.Equal(t, []string{"finance", "energy"}, got)
}

func TestTrimEmptyNilSafe(t *testing.T) {
	assert.Empty(t, TrimEmpty(nil))
}

func TestUniqueKeepsFirstSeenOrder(t *testing.T) {
	got := Unique([]string{"b", "a", "b", "c", "a"})
	assert.Equal(t, []string{"b", "a", "c"}, got)
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Finance", "ENERGY", "finance", "", "energy "})
	assert.Equal(t, []string{"finance", "energy"}, got)
}
