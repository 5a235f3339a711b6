// Package analyze builds correlation, cascade, and similarity signals from
// raw occurrence data.
package analyze

import (
	"strings"
	"unicode"

	"github.com/setevik/errtrack/internal/fingerprint"
)

// MessageSimilarity scores how alike two error messages are, in [0,1].
// Messages are normalized first so ids and literals do not inflate the
// distance, then Jaccard token overlap and normalized Levenshtein distance
// are averaged.
func MessageSimilarity(a, b string) float64 {
	na := fingerprint.NormalizeMessage(a)
	nb := fingerprint.NormalizeMessage(b)
	if na == nb {
		return 1.0
	}

	jaccard := JaccardTokens(na, nb)
	lev := 1.0 - NormalizedLevenshtein(na, nb)
	return (jaccard + lev) / 2
}

// JaccardTokens computes the Jaccard similarity of the word-token sets of
// two strings. Two empty strings are identical (1.0); one empty string
// shares nothing (0.0).
func JaccardTokens(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range ta {
		if tb[tok] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) > 1 {
			set[tok] = true
		}
	}
	return set
}

// NormalizedLevenshtein returns the Levenshtein edit distance of two
// strings divided by the longer length, in [0,1]. Identical strings score
// 0.
func NormalizedLevenshtein(a, b string) float64 {
	if a == b {
		return 0.0
	}
	ra, rb := []rune(a), []rune(b)
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	if longer == 0 {
		return 0.0
	}
	return float64(levenshtein(ra, rb)) / float64(longer)
}

// levenshtein computes edit distance with a two-row matrix.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
