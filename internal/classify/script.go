package classify

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

// ScriptClassifier runs a user-supplied JavaScript classifier function
// through goja, a pure-Go JavaScript runtime. It gives operators a way to ship a
// custom classification rule without a Go redeploy, while keeping the
// default KeywordClassifier as the supported out-of-box behavior.
//
// The script must define a function matching:
//
//	function classify(text) { return {category: "MALWARE", confidence: 0.8} }
type ScriptClassifier struct {
	source     string
	entryPoint string
}

// NewScriptClassifier compiles source once to catch syntax errors early;
// each Classify call still runs in a fresh goja.Runtime for isolation.
func NewScriptClassifier(source, entryPoint string) (*ScriptClassifier, error) {
	if entryPoint == "" {
		entryPoint = "classify"
	}
	if _, err := goja.Compile("classifier.js", source, false); err != nil {
		return nil, fmt.Errorf("script classifier: compile: %w", err)
	}
	return &ScriptClassifier{source: source, entryPoint: entryPoint}, nil
}

type scriptClassifyResult struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Classify implements Classifier.
func (s *ScriptClassifier) Classify(ctx context.Context, text string) (intel.Category, float64, error) {
	vm := goja.New()

	if _, err := vm.RunString(s.source); err != nil {
		return "", 0, fmt.Errorf("script classifier: load script: %w", err)
	}

	entry, ok := goja.AssertFunction(vm.Get(s.entryPoint))
	if !ok {
		return "", 0, fmt.Errorf("script classifier: entry point %q is not a function", s.entryPoint)
	}

	resultVal, err := entry(goja.Undefined(), vm.ToValue(text))
	if err != nil {
		return "", 0, fmt.Errorf("script classifier: execute: %w", err)
	}

	var result scriptClassifyResult
	if err := vm.ExportTo(resultVal, &result); err != nil {
		return "", 0, fmt.Errorf("script classifier: decode result: %w", err)
	}

	cat := intel.Category(result.Category)
	switch cat {
	case intel.CategoryVulnerability, intel.CategoryMalware, intel.CategoryBreach,
		intel.CategoryRansomware, intel.CategoryPhishing, intel.CategoryAPT,
		intel.CategoryAdvisory, intel.CategoryOther:
	default:
		return "", 0, fmt.Errorf("script classifier: invalid category %q", result.Category)
	}

	_ = ctx
	return cat, result.Confidence, nil
}
