package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	set := Tokenize("Hello, hello WORLD! go-1.24")
	assert.Len(t, set, 5)
	for _, tok := range []string{"hello", "world", "go", "1", "24"} {
		_, ok := set[tok]
		assert.True(t, ok, "missing token %q", tok)
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "a b c", "c b a", 1},
		{"disjoint", "a b", "c d", 0},
		{"half", "a b c", "a b d", 0.5},
		{"both empty", "", "  ", 1},
		{"one empty", "a", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TextSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestLexicalMatrixIsSymmetric(t *testing.T) {
	m := LexicalMatrix([]string{"a b c", "a b d", "x y"})
	for i := range m {
		assert.Equal(t, 1.0, m[i][i])
		for j := range m {
			assert.Equal(t, m[i][j], m[j][i])
		}
	}

	pairs, mean, lo, hi := m.Summary()
	assert.Equal(t, 3, pairs)
	assert.InDelta(t, 0.5/3, mean, 1e-9)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 0.5, hi)
}

func TestSummary_SingleOutput(t *testing.T) {
	pairs, mean, lo, hi := LexicalMatrix([]string{"only"}).Summary()
	assert.Zero(t, pairs)
	assert.Zero(t, mean)
	assert.Zero(t, lo)
	assert.Zero(t, hi)
}

func TestBlend(t *testing.T) {
	a := Matrix{{1, 0.2}, {0.2, 1}}
	b := Matrix{{1, 0.8}, {0.8, 1}}
	out := Blend(a, b, 0.25)
	assert.InDelta(t, 0.35, out[0][1], 1e-9)
	assert.Equal(t, 1.0, out[1][1])
}
