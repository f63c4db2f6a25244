// Package stats provides robust central-tendency and spread estimators over
// rolling score windows. Median/MAD and quartile/IQR resist the few extreme
// scores that skew mean/stddev on real retrieval distributions.
package stats

import (
	"math"
	"sort"
)

// Median returns the median of values. Returns 0 for an empty slice.
// The input is not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	return medianSorted(sorted)
}

// medianSorted computes the median of an already-sorted slice.
func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the median absolute deviation from the median.
func MAD(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	med := Median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	return Median(deviations)
}

// Quartiles returns Q1, Q2 (median) and Q3 of values using the
// lower/upper-half convention (the median element is excluded from both
// halves for odd-length input).
func Quartiles(values []float64) (q1, q2, q3 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	q2 = medianSorted(sorted)
	half := n / 2
	q1 = medianSorted(sorted[:half])
	if n%2 == 0 {
		q3 = medianSorted(sorted[half:])
	} else {
		q3 = medianSorted(sorted[half+1:])
	}
	if n == 1 {
		q1, q3 = sorted[0], sorted[0]
	}
	return q1, q2, q3
}

// IQR returns the interquartile range of values.
func IQR(values []float64) float64 {
	q1, _, q3 := Quartiles(values)
	return q3 - q1
}

// Mean returns the arithmetic mean of values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	mean := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n))
}
