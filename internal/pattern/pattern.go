// Package pattern detects cyclical time-of-day/day-of-week patterns and
// burst clusters in occurrence timestamps.
package pattern

import (
	"sort"
	"time"
)

// Type names the dominant temporal pattern of a set of occurrences.
type Type string

const (
	TypeNone          Type = "none"
	TypeBusinessHours Type = "business_hours"
	TypeNight         Type = "night"
	TypeWeekend       Type = "weekend"
	TypeUniform       Type = "uniform"
)

// Cycle describes the cyclical shape of occurrence timestamps.
type Cycle struct {
	Type        Type
	Strength    float64 // 0.0 (uniform) .. 1.0 (single-slot spike)
	HourCounts  [24]int
	DayCounts   [7]int // Sunday = 0
	SampleCount int
}

// AnalyzeCycles builds hour-of-day and day-of-week histograms from the given
// timestamps and classifies the dominant pattern.
func AnalyzeCycles(timestamps []time.Time) Cycle {
	c := Cycle{SampleCount: len(timestamps)}
	if len(timestamps) == 0 {
		c.Type = TypeNone
		return c
	}

	for _, ts := range timestamps {
		c.HourCounts[ts.Hour()]++
		c.DayCounts[int(ts.Weekday())]++
	}

	c.Strength = concentration(c.HourCounts[:])
	c.Type = classify(&c)
	return c
}

func classify(c *Cycle) Type {
	total := float64(c.SampleCount)

	weekend := float64(c.DayCounts[time.Saturday] + c.DayCounts[time.Sunday])
	if weekend/total > 0.5 {
		return TypeWeekend
	}

	var business, night int
	for h := 9; h <= 17; h++ {
		business += c.HourCounts[h]
	}
	for h := 0; h <= 6; h++ {
		night += c.HourCounts[h]
	}
	if float64(business)/total > 0.6 {
		return TypeBusinessHours
	}
	if float64(night)/total > 0.6 {
		return TypeNight
	}

	if c.Strength < 0.3 {
		return TypeUniform
	}
	return TypeNone
}

// concentration measures how far a histogram deviates from uniform, as the
// normalized L1 distance between the observed distribution and the uniform
// one. A flat histogram scores near 0, a single-bucket spike near 1.
func concentration(counts []int) float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return 0
	}

	uniform := 1.0 / float64(len(counts))
	var dist float64
	for _, n := range counts {
		p := float64(n) / float64(total)
		if p > uniform {
			dist += p - uniform
		} else {
			dist += uniform - p
		}
	}
	// Max possible L1 distance is 2*(1 - 1/len).
	max := 2 * (1 - uniform)
	return dist / max
}

// Intensity classifies a burst by member count.
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// Burst is a cluster of occurrences arriving in rapid succession.
type Burst struct {
	Start       time.Time
	End         time.Time
	Duration    time.Duration
	MemberCount int
	Intensity   Intensity
}

// Burst detection defaults.
const (
	DefaultMaxGap  = 60 * time.Second
	DefaultMinSize = 5
)

// DetectBursts clusters timestamps whose consecutive gaps are at most
// maxGap, reporting clusters of at least minSize members. Input order does
// not matter.
func DetectBursts(timestamps []time.Time, maxGap time.Duration, minSize int) []Burst {
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	if len(timestamps) < minSize {
		return nil
	}

	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var bursts []Burst
	clusterStart := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && sorted[i].Sub(sorted[i-1]) <= maxGap {
			continue
		}
		if size := i - clusterStart; size >= minSize {
			bursts = append(bursts, makeBurst(sorted[clusterStart:i]))
		}
		clusterStart = i
	}
	return bursts
}

func makeBurst(members []time.Time) Burst {
	b := Burst{
		Start:       members[0],
		End:         members[len(members)-1],
		MemberCount: len(members),
	}
	b.Duration = b.End.Sub(b.Start)
	switch {
	case b.MemberCount >= 20:
		b.Intensity = IntensityHigh
	case b.MemberCount >= 10:
		b.Intensity = IntensityMedium
	default:
		b.Intensity = IntensityLow
	}
	return b
}
