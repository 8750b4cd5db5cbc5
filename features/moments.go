package features

import (
	"math"
	"sort"
)

// Moments are population statistics of a sample. Every field is 0 for an
// empty sample; Std, Skewness and Kurtosis are 0 for a constant one.
type Moments struct {
	Mean     float64
	Std      float64
	Min      float64
	Max      float64
	Median   float64
	Range    float64
	Skewness float64
	Kurtosis float64 // Excess kurtosis
}

// Describe computes the moments of xs. xs is not modified.
func Describe(xs []float64) Moments {
	n := len(xs)
	if n == 0 {
		return Moments{}
	}

	m := Moments{Min: xs[0], Max: xs[0]}
	var sum float64
	for _, x := range xs {
		sum += x
		if x < m.Min {
			m.Min = x
		}
		if x > m.Max {
			m.Max = x
		}
	}
	m.Mean = sum / float64(n)
	m.Range = m.Max - m.Min
	m.Median = median(xs)

	// Rounding in the mean can leave a tiny variance on constant input.
	if m.Min == m.Max {
		return m
	}

	var m2, m3, m4 float64
	for _, x := range xs {
		d := x - m.Mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= float64(n)
	m3 /= float64(n)
	m4 /= float64(n)
	if m2 == 0 {
		return m
	}

	m.Std = math.Sqrt(m2)
	m.Skewness = m3 / (m2 * m.Std)
	m.Kurtosis = m4/(m2*m2) - 3
	return m
}

func median(xs []float64) float64 {
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
