package metrics

import (
	"fmt"
	"sort"
)

// Mask marks the rows whose tag equals tag.
func Mask(tags []string, tag string) []bool {
	m := make([]bool, len(tags))
	for i, t := range tags {
		m[i] = t == tag
	}
	return m
}

// Select keeps the entries of ys where mask is true.
func Select(ys []int, mask []bool) []int {
	out := make([]int, 0, len(ys))
	for i, y := range ys {
		if mask[i] {
			out = append(out, y)
		}
	}
	return out
}

// Tags returns the distinct tags in sorted order.
func Tags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Segment computes one report per distinct tag by masking existing
// predictions. Nothing is re-predicted.
func Segment(yTrue, yPred []int, tags []string, labels []string) (map[string]*Report, error) {
	if len(tags) != len(yTrue) || len(yPred) != len(yTrue) {
		return nil, fmt.Errorf("segment metrics: %d truths, %d predictions, %d tags", len(yTrue), len(yPred), len(tags))
	}
	out := make(map[string]*Report)
	for _, tag := range Tags(tags) {
		mask := Mask(tags, tag)
		r, err := Compute(Select(yTrue, mask), Select(yPred, mask), labels)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", tag, err)
		}
		out[tag] = r
	}
	return out, nil
}
