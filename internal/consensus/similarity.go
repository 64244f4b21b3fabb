// Package consensus scores agreement between redundant agent outputs and
// folds per-stage scores into a pipeline-level confidence.
package consensus

import (
	"strings"
	"unicode"
)

// MajorityOverlap is the similarity at which two outputs are said to agree.
const MajorityOverlap = 0.5

// tokenSet is the set of lowercased alphanumeric words in a text.
type tokenSet map[string]struct{}

// Tokenize splits s into lowercased runs of letters and digits.
func Tokenize(s string) tokenSet {
	set := make(tokenSet)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets are identical.
func Jaccard(a, b tokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// TextSimilarity is the Jaccard similarity of two texts' token sets.
func TextSimilarity(a, b string) float64 {
	return Jaccard(Tokenize(a), Tokenize(b))
}

// Matrix holds pairwise similarities in [0,1]; the diagonal is 1.
type Matrix [][]float64

// LexicalMatrix computes pairwise Jaccard similarity for outputs.
func LexicalMatrix(outputs []string) Matrix {
	sets := make([]tokenSet, len(outputs))
	for i, o := range outputs {
		sets[i] = Tokenize(o)
	}
	m := newMatrix(len(outputs))
	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			s := Jaccard(sets[i], sets[j])
			m[i][j], m[j][i] = s, s
		}
	}
	return m
}

func newMatrix(n int) Matrix {
	m := make(Matrix, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
	}
	return m
}

// Blend returns (1-w)*a + w*b elementwise. Both matrices must be the same size.
func Blend(a, b Matrix, w float64) Matrix {
	out := newMatrix(len(a))
	for i := range a {
		for j := range a[i] {
			if i != j {
				out[i][j] = (1-w)*a[i][j] + w*b[i][j]
			}
		}
	}
	return out
}

// Summary returns the pair count and the mean, min and max off-diagonal values.
func (m Matrix) Summary() (pairs int, mean, lo, hi float64) {
	lo, hi = 1, 0
	var sum float64
	for i := range m {
		for j := i + 1; j < len(m); j++ {
			v := m[i][j]
			sum += v
			pairs++
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if pairs == 0 {
		return 0, 0, 0, 0
	}
	return pairs, sum / float64(pairs), lo, hi
}
