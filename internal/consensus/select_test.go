package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name    string
		outputs []string
		want    int
	}{
		{"empty", nil, -1},
		{"single", []string{"only"}, 0},
		{
			name: "agrees with every other",
			outputs: []string{
				"add a mutex around the cache map",
				"wrap the cache map with a mutex lock",
				"add a mutex to protect the cache map",
			},
			want: 0,
		},
		{
			name: "outlier first",
			outputs: []string{
				"rewrite everything in rust with async runtime",
				"add a mutex around the cache map",
				"add a mutex around the shared cache map",
			},
			want: 1,
		},
		{
			name:    "no agreement picks highest mean",
			outputs: []string{"a b c d", "e f g h", "a e i j"},
			want:    2,
		},
		{
			name:    "full tie goes to first",
			outputs: []string{"x y", "p q", "m n"},
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectBest(tt.outputs))
		})
	}
}

func TestSelectBest_TwoOfThreeOverlap(t *testing.T) {
	outputs := []string{
		"use a read write mutex for the token cache",
		"completely unrelated answer about kubernetes ingress controllers",
		"use a read write mutex to guard the token cache",
	}
	assert.GreaterOrEqual(t, TextSimilarity(outputs[0], outputs[2]), MajorityOverlap)

	best := SelectBest(outputs)
	assert.Contains(t, []int{0, 2}, best)
}

func TestSelectBest_Deterministic(t *testing.T) {
	outputs := []string{"alpha beta", "beta gamma", "gamma alpha", "alpha beta gamma"}
	first := SelectBest(outputs)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, SelectBest(append([]string(nil), outputs...)))
	}
}
