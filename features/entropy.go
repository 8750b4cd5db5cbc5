package features

import (
	"math"
	"sort"
)

// Entropy returns the Shannon entropy, in bits, of the empirical distribution
// of values. Counts are summed in sorted order so the result does not depend
// on the order of values. Empty and single-valued input give 0.
func Entropy[T comparable](values []T) float64 {
	if len(values) == 0 {
		return 0
	}
	counts := make(map[T]int)
	for _, v := range values {
		counts[v]++
	}
	if len(counts) == 1 {
		return 0
	}

	cs := make([]int, 0, len(counts))
	for _, c := range counts {
		cs = append(cs, c)
	}
	sort.Ints(cs)

	n := float64(len(values))
	var h float64
	for _, c := range cs {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
