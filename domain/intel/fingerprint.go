package intel

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ComputeItemID derives the stable item_id: normalized URL takes
// precedence, then external_id, then content fingerprint. normalizedURL and
// externalID are empty strings when absent.
func ComputeItemID(normalizedURL, externalID string, fingerprint uint64) string {
	switch {
	case normalizedURL != "":
		return hashString("url:" + normalizedURL)
	case externalID != "":
		return hashString("ext:" + externalID)
	default:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], fingerprint)
		return hashString("fp:" + hex.EncodeToString(buf[:]))
	}
}

func hashString(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// stopwords is a conservative set removed before shingling for the
// fingerprint. Deliberately short: the fingerprint only needs to resist
// trivial noise, not perform full NLP stopword removal.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "for": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"with": {}, "at": {}, "by": {}, "from": {}, "as": {}, "that": {}, "this": {},
	"it": {}, "be": {}, "has": {}, "have": {}, "had": {},
}

// ComputeFingerprint computes a 64-bit simhash over 3-token shingles of the
// given text after stopword removal. Near-identical texts produce
// fingerprints with small Hamming distance.
func ComputeFingerprint(text string) uint64 {
	tokens := tokenize(text)
	shingles := shingle(tokens, 3)
	if len(shingles) == 0 {
		shingles = shingle(tokens, 1)
	}
	var weights [64]int
	for _, sh := range shingles {
		h := blake2b.Sum256([]byte(sh))
		bits := binary.BigEndian.Uint64(h[:8])
		for i := 0; i < 64; i++ {
			if bits&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}
	var out uint64
	for i := 0; i < 64; i++ {
		if weights[i] > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func shingle(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], " "))
	}
	return out
}

// HammingDistance64 returns the number of differing bits between two
// fingerprints.
func HammingDistance64(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}
