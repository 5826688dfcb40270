package spam

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accentStripper removes combining marks after NFD decomposition, so
// "adiós" and "adios" normalize to the same text.
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips accents and punctuation, and collapses
// whitespace. Two messages are compared only in normalized form.
func Normalize(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	stripped, _, err := transform.String(accentStripper, lowered)
	if err != nil {
		stripped = lowered
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// bigrams returns the multiset of character bigrams of s as a count map.
func bigrams(s string) map[string]int {
	runes := []rune(s)
	grams := make(map[string]int)
	for i := 0; i+1 < len(runes); i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}

// Similarity computes the Dice coefficient over character bigrams:
// sim = 2*|A∩B| / (|A|+|B|). Identical strings score 1, disjoint strings 0.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ga, gb := bigrams(a), bigrams(b)
	total := 0
	for _, n := range ga {
		total += n
	}
	for _, n := range gb {
		total += n
	}
	if total == 0 {
		return 0
	}
	overlap := 0
	for gram, n := range ga {
		if m, ok := gb[gram]; ok {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	return 2 * float64(overlap) / float64(total)
}
