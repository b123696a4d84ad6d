// Package stats holds the small set of descriptive statistics shared by the
// pipeline and the backtest engine. NaN entries are skipped everywhere.
package stats

import (
	"math"
	"sort"
)

// Finite returns the non-NaN, non-Inf values of xs
func Finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

// Mean of the finite values; NaN when there are none
func Mean(xs []float64) float64 {
	sum, n := 0.0, 0
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		sum += x
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// SampleVariance uses the n-1 denominator; NaN for fewer than two values
func SampleVariance(xs []float64) float64 {
	vals := Finite(xs)
	if len(vals) < 2 {
		return math.NaN()
	}
	m := Mean(vals)
	ss := 0.0
	for _, x := range vals {
		d := x - m
		ss += d * d
	}
	return ss / float64(len(vals)-1)
}

// SampleStd is the square root of SampleVariance
func SampleStd(xs []float64) float64 {
	return math.Sqrt(SampleVariance(xs))
}

// MinMax of the finite values; NaN, NaN when there are none
func MinMax(xs []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range Finite(xs) {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if math.IsInf(lo, 1) {
		return math.NaN(), math.NaN()
	}
	return lo, hi
}

// Percentile with linear interpolation between closest ranks, p in [0, 1]
func Percentile(xs []float64, p float64) float64 {
	vals := Finite(xs)
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	if p <= 0 {
		return vals[0]
	}
	if p >= 1 {
		return vals[len(vals)-1]
	}
	pos := p * float64(len(vals)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return vals[lo] + (vals[hi]-vals[lo])*frac
}

// LogReturns returns ln(x[t]/x[t-1]); entry 0 and non-positive pairs are NaN
func LogReturns(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	out[0] = math.NaN()
	for t := 1; t < len(xs); t++ {
		prev, cur := xs[t-1], xs[t]
		if prev > 0 && cur > 0 && !math.IsNaN(prev) && !math.IsNaN(cur) {
			out[t] = math.Log(cur / prev)
		} else {
			out[t] = math.NaN()
		}
	}
	return out
}
