package consensus

// SelectBest returns the index of the best output, or -1 for none.
//
// The first output that agrees (similarity >= MajorityOverlap) with every
// other output wins. Failing that, the output agreeing with the most others
// wins, then the one with the highest mean similarity. Remaining ties go to
// the earliest output, so identical inputs always select the same index.
func SelectBest(outputs []string) int {
	return selectBest(LexicalMatrix(outputs))
}

func selectBest(m Matrix) int {
	n := len(m)
	if n == 0 {
		return -1
	}

	votes := make([]int, n)
	means := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sum += m[i][j]
			if m[i][j] >= MajorityOverlap {
				votes[i]++
			}
		}
		if n > 1 {
			means[i] = sum / float64(n-1)
		}
	}

	for i := 0; i < n; i++ {
		if votes[i] == n-1 {
			return i
		}
	}

	best := 0
	for i := 1; i < n; i++ {
		if votes[i] > votes[best] || (votes[i] == votes[best] && means[i] > means[best]) {
			best = i
		}
	}
	return best
}
