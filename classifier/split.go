package classifier

import (
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions row indices into train and validation sets so
// that each class keeps its proportion. Every class with at least two rows
// contributes at least one validation row. The split depends only on y,
// fraction and seed; both index lists are sorted.
func StratifiedSplit(y []int, fraction float64, seed int64) (train, val []int) {
	byClass := make(map[int][]int)
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		n := int(math.Round(fraction * float64(len(idx))))
		if n == 0 && fraction > 0 && len(idx) >= 2 {
			n = 1
		}
		if n >= len(idx) {
			n = len(idx) - 1
		}
		n = max(n, 0)
		val = append(val, idx[:n]...)
		train = append(train, idx[n:]...)
	}
	sort.Ints(train)
	sort.Ints(val)
	return train, val
}

// Rows selects rows of X by index.
func Rows(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, k := range idx {
		out[i] = X[k]
	}
	return out
}

// Labels selects entries of y by index.
func Labels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, k := range idx {
		out[i] = y[k]
	}
	return out
}
