// Package priority ranks error groups by combining severity, frequency,
// recency, and user impact into a single 0-100 score.
package priority

import (
	"math"
	"time"

	"github.com/setevik/errtrack/internal/group"
)

// Sub-score weights. Severity dominates so a rare critical error outranks a
// frequent low one; impact is a tiebreaker.
const (
	weightSeverity  = 0.40
	weightFrequency = 0.25
	weightRecency   = 0.25
	weightImpact    = 0.10
)

// Score computes the priority score for a group. Negative, zero, or absurd
// inputs degrade to the floor of their sub-score, and the result is always
// an int in [0,100].
func Score(sev group.Severity, occurrenceCount int64, lastSeenAt time.Time, affectedUsers int, now time.Time) int {
	s := weightSeverity*float64(severityScore(sev)) +
		weightFrequency*float64(frequencyScore(occurrenceCount)) +
		weightRecency*float64(recencyScore(lastSeenAt, now)) +
		weightImpact*float64(impactScore(affectedUsers))

	return clamp(int(math.Round(s)))
}

func severityScore(sev group.Severity) int {
	switch sev {
	case group.SevCritical:
		return 100
	case group.SevHigh:
		return 75
	case group.SevMedium:
		return 50
	case group.SevLow:
		return 25
	default:
		return 10
	}
}

// frequencyScore scales logarithmically: 10 at a single occurrence, 100 at
// a thousand or more.
func frequencyScore(count int64) int {
	if count <= 1 {
		return 10
	}

	f := float64(count)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 10
	}

	// log10(1)=0 .. log10(1000)=3 maps onto 10..100.
	score := 10 + 30*math.Log10(f)
	if score > 100 {
		return 100
	}
	return clamp(int(math.Round(score)))
}

// recencyScore decays with time since last occurrence. Future timestamps
// score as "just now": clock skew between reporters is tolerated, not
// penalized.
func recencyScore(lastSeenAt, now time.Time) int {
	if lastSeenAt.IsZero() {
		return 10
	}

	age := now.Sub(lastSeenAt)
	switch {
	case age <= time.Hour:
		return 100
	case age <= 24*time.Hour:
		return 80
	case age <= 7*24*time.Hour:
		return 50
	case age <= 30*24*time.Hour:
		return 25
	default:
		return 10
	}
}

// impactScore scales with the count of distinct users with unresolved
// occurrences. Errors with no associated user score 0.
func impactScore(users int) int {
	switch {
	case users <= 0:
		return 0
	case users == 1:
		return 25
	case users <= 10:
		return 50
	case users <= 100:
		return 75
	default:
		return 100
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
