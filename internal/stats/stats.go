// Package stats provides pure statistical calculators used by the analytics
// and baseline layers. Every function is total: degenerate inputs yield a
// defined zero result, never NaN, Inf, or a panic.
package stats

import "math"

// Pearson computes the Pearson correlation coefficient of two series,
// rounded to 3 decimal places. Empty input, single-element input, mismatched
// lengths, and zero-variance series all return 0.0.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0.0
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0.0
	}

	r := cov / math.Sqrt(varX*varY)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0.0
	}
	return math.Round(r*1000) / 1000
}

// Mean returns the arithmetic mean, or 0 for an empty series.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation, or 0 for fewer than two
// samples.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// Percentile returns the p-th percentile (0-100) of a sorted series using
// nearest-rank. Empty input returns 0.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// Strength buckets a correlation coefficient by magnitude, sign-agnostic.
type Strength string

const (
	StrengthStrong   Strength = "strong"
	StrengthModerate Strength = "moderate"
	StrengthWeak     Strength = "weak"
)

// CorrelationStrength classifies |r|: >=0.8 strong, >=0.5 moderate, else weak.
func CorrelationStrength(r float64) Strength {
	abs := math.Abs(r)
	switch {
	case abs >= 0.8:
		return StrengthStrong
	case abs >= 0.5:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// Trend classifies a percentage change between two periods.
type Trend string

const (
	TrendIncreasingSignificantly Trend = "increasing_significantly"
	TrendIncreasing              Trend = "increasing"
	TrendStable                  Trend = "stable"
	TrendDecreasing              Trend = "decreasing"
	TrendDecreasingSignificantly Trend = "decreasing_significantly"
)

// TrendDirection buckets a percent-change value.
func TrendDirection(percentChange float64) Trend {
	switch {
	case percentChange > 20:
		return TrendIncreasingSignificantly
	case percentChange > 5:
		return TrendIncreasing
	case percentChange >= -5:
		return TrendStable
	case percentChange >= -20:
		return TrendDecreasing
	default:
		return TrendDecreasingSignificantly
	}
}

// Spike classifies the ratio of a current rate to its baseline rate.
type Spike string

const (
	SpikeNormal   Spike = "normal"
	SpikeElevated Spike = "elevated"
	SpikeHigh     Spike = "high"
	SpikeCritical Spike = "critical"
)

// SpikeSeverity buckets a current/baseline rate ratio.
func SpikeSeverity(ratio float64) Spike {
	switch {
	case ratio >= 10:
		return SpikeCritical
	case ratio >= 5:
		return SpikeHigh
	case ratio >= 2:
		return SpikeElevated
	default:
		return SpikeNormal
	}
}
