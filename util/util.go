// Package util contains misc internal utilities.
package util

import (
	"math"
	"strconv"
	"strings"
)

// Arange returns the half-open range [start, stop) stepped by step,
// e.g. Arange(0, 5, 1) => [0 1 2 3 4].  Negative steps count down from
// start towards stop.  A step of zero or an empty range returns nil.
func Arange(start, stop, step float64) []float64 {
	if step == 0 {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = start + float64(i)*step
	}
	return out
}

// RoundPlaces rounds x to the given number of decimal places.
// e.g., RoundPlaces(1.0004, 3) => 1.0
func RoundPlaces(x float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(x*f) / f
}

// Float64SliceToCSV converts a slice of floats to CSV formatted data
// using the given format byte and precision.
// e.g., []float64{1,2,3} => "1,2,3"
func Float64SliceToCSV(fs []float64, fmtByte byte, prec int) string {
	s := make([]string, len(fs))
	for i, v := range fs {
		s[i] = strconv.FormatFloat(v, fmtByte, prec, 64)
	}
	return strings.Join(s, ",")
}
