package merge

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizeName removes accents, lowercases, collapses whitespace, and trims,
// so "Cascade A" and " cascade a " compare equal.
func normalizeName(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.TrimSpace(strings.ToLower(s)),
	)

	return strings.Join(strings.Fields(s), " ")
}

// NameSimilarity scores two raw names in [0,1]: the better of a normalized
// edit-distance similarity and a token-overlap (Jaccard) score, computed on
// fold-normalized text. Two empty names score 0, never 1; absence of a name
// is not evidence of sameness.
func NameSimilarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	edit := levenshtein.Similarity(na, nb, nil)

	overlap := tokenOverlap(na, nb)
	if overlap > edit {
		return overlap
	}
	return edit
}

func tokenOverlap(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}

	union := len(set)
	shared := 0
	for _, t := range tb {
		if _, ok := set[t]; ok {
			shared++
			delete(set, t) // count each shared token once
		} else {
			union++
		}
	}

	return float64(shared) / float64(union)
}
