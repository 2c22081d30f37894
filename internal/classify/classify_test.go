package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

func TestKeywordClassifier_Ransomware(t *testing.T) {
	k := NewKeywordClassifier()
	cat, conf, err := k.Classify(context.Background(), "New ransomware strain encrypts files and demands extortion payment")
	require.NoError(t, err)
	assert.Equal(t, intel.CategoryRansomware, cat)
	assert.Greater(t, conf, 0.0)
}

func TestKeywordClassifier_NoMatchReturnsOther(t *testing.T) {
	k := NewKeywordClassifier()
	cat, conf, err := k.Classify(context.Background(), "The quarterly earnings report was released today")
	require.NoError(t, err)
	assert.Equal(t, intel.CategoryOther, cat)
	assert.Equal(t, 0.0, conf)
}

func TestKeywordClassifier_HigherWeightWinsOutright(t *testing.T) {
	k := NewKeywordClassifier()
	// Two categories match with different weights, so no tie-break is
	// involved: the higher running score wins.
	cat, _, err := k.Classify(context.Background(), "rootkit guidance")
	require.NoError(t, err)
	// malware's "rootkit"=2 vs advisory's "guidance"=1: malware should win outright.
	assert.Equal(t, intel.CategoryMalware, cat)
}

func TestStubClassifier_ReturnsFixedValue(t *testing.T) {
	s := StubClassifier{Category: intel.CategoryAPT, Confidence: 0.5}
	cat, conf, err := s.Classify(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, intel.CategoryAPT, cat)
	assert.Equal(t, 0.5, conf)
}

func TestScriptClassifier_RunsUserScript(t *testing.T) {
	script := `
function classify(text) {
	if (text.indexOf("breach") >= 0) {
		return {category: "BREACH", confidence: 0.9};
	}
	return {category: "OTHER", confidence: 0.0};
}
`
	sc, err := NewScriptClassifier(script, "classify")
	require.NoError(t, err)

	cat, conf, err := sc.Classify(context.Background(), "major data breach disclosed")
	require.NoError(t, err)
	assert.Equal(t, intel.CategoryBreach, cat)
	assert.InDelta(t, 0.9, conf, 1e-9)
}

func TestScriptClassifier_RejectsInvalidCategory(t *testing.T) {
	script := `function classify(text) { return {category: "NOT_REAL", confidence: 1}; }`
	sc, err := NewScriptClassifier(script, "classify")
	require.NoError(t, err)

	_, _, err = sc.Classify(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewScriptClassifier_RejectsSyntaxError(t *testing.T) {
	_, err := NewScriptClassifier("function classify(text) { return ", "classify")
	assert.Error(t, err)
}
