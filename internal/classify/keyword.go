package classify

import (
	"context"
	"strings"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

// KeywordClassifier is the default deterministic classifier: a
// weighted-keyword scan over title+body, with fixed-priority tie
// breaking via intel.ResolveCategoryTie.
type KeywordClassifier struct {
	weights map[intel.Category]map[string]int
}

// defaultKeywordWeights is a conservative, hand-curated lexicon; each hit
// adds its weight to that category's running score.
func defaultKeywordWeights() map[intel.Category]map[string]int {
	return map[intel.Category]map[string]int{
		intel.CategoryRansomware: {
			"ransomware": 3, "ransom": 2, "encrypt files": 2, "decryptor": 2,
			"extortion": 2, "locker": 1,
		},
		intel.CategoryVulnerability: {
			"vulnerability": 3, "cve-": 3, "patch": 1, "exploit": 2,
			"zero-day": 3, "rce": 2, "remote code execution": 3, "buffer overflow": 2,
		},
		intel.CategoryMalware: {
			"malware": 3, "trojan": 2, "worm": 2, "backdoor": 2, "rootkit": 2,
			"botnet": 2, "payload": 1,
		},
		intel.CategoryAPT: {
			"apt": 3, "nation-state": 2, "advanced persistent threat": 3,
			"state-sponsored": 2, "threat actor": 1,
		},
		intel.CategoryBreach: {
			"breach": 3, "data leak": 2, "exposed database": 2, "stolen data": 2,
			"leaked credentials": 2, "unauthorized access": 1,
		},
		intel.CategoryPhishing: {
			"phishing": 3, "spear-phishing": 3, "credential harvesting": 2,
			"fake login": 2, "smishing": 2,
		},
		intel.CategoryAdvisory: {
			"advisory": 3, "bulletin": 2, "recommendation": 1, "guidance": 1,
		},
	}
}

// NewKeywordClassifier builds a classifier with the default lexicon.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{weights: defaultKeywordWeights()}
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(_ context.Context, text string) (intel.Category, float64, error) {
	lower := strings.ToLower(text)

	scores := make(map[intel.Category]int)
	total := 0
	for cat, lexicon := range k.weights {
		for kw, weight := range lexicon {
			if strings.Contains(lower, kw) {
				scores[cat] += weight
				total += weight
			}
		}
	}
	if total == 0 {
		return intel.CategoryOther, 0, nil
	}

	best := 0
	var tied []intel.Category
	for cat, score := range scores {
		if score > best {
			best = score
			tied = []intel.Category{cat}
		} else if score == best && score > 0 {
			tied = append(tied, cat)
		}
	}
	winner := intel.ResolveCategoryTie(tied)
	confidence := float64(best) / float64(total)
	if confidence > 1 {
		confidence = 1
	}
	return winner, confidence, nil
}
