package reference

import (
	"strings"

	"invoiceocr/internal/textnorm"
)

// Similarity compares two names the way pg_trgm's similarity() does: each word is padded with two
// leading spaces and one trailing space, cut into trigrams, and the score is the Jaccard index of
// the two trigram sets. Names are accent-folded first.
func Similarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

func trigrams(s string) map[string]bool {
	out := make(map[string]bool)
	for _, word := range strings.Fields(textnorm.Fold(s)) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			out[string(padded[i:i+3])] = true
		}
	}
	return out
}
