package correction

import (
	"math"
	"slices"
)

// Median returns the median of the non-NaN values, averaging the two middle
// values for even counts. It is NaN when no such values exist.
func Median(values []float64) float64 {
	vals := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	n := len(vals)
	if n == 0 {
		return math.NaN()
	}
	slices.Sort(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// AlignmentOffset is the median of values at good (zero flag) cadences minus
// the reference magnitude.
func AlignmentOffset(values []float64, flags []int32, reference float64) float64 {
	good := make([]float64, 0, len(values))
	for i, v := range values {
		if i < len(flags) && flags[i] == 0 {
			good = append(good, v)
		}
	}
	return Median(good) - reference
}

// Align shifts every value by the alignment offset so the good-cadence median
// matches reference. With no good cadences the offset and the output are NaN.
func Align(values []float64, flags []int32, reference float64) []float64 {
	offset := AlignmentOffset(values, flags, reference)
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v - offset
	}
	return out
}
