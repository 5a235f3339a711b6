// Package group defines the deduplicated error entity and its lifecycle.
package group

import (
	"time"

	"github.com/google/uuid"
)

// Severity indicates the urgency tier of an error group.
type Severity string

const (
	SevCritical Severity = "critical"
	SevHigh     Severity = "high"
	SevMedium   Severity = "medium"
	SevLow      Severity = "low"
)

// Rank returns a numeric rank for severity comparisons. Higher is more
// urgent. Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SevCritical:
		return 4
	case SevHigh:
		return 3
	case SevMedium:
		return 2
	case SevLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the four defined tiers.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Status is the workflow state of an error group.
type Status string

const (
	StatusNew           Status = "new"
	StatusInvestigating Status = "investigating"
	StatusInProgress    Status = "in_progress"
	StatusResolved      Status = "resolved"
	StatusWontFix       Status = "wont_fix"
)

// Live reports whether the group is still active: resolved and wont_fix
// groups are terminal until reopened.
func (s Status) Live() bool {
	return s != StatusResolved && s != StatusWontFix
}

// CanTransition reports whether moving from s to next is a legal workflow
// step. Reopening (terminal -> new) is always allowed; otherwise any move
// between live states or into a terminal state is permitted.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	if !s.Live() {
		return next == StatusNew
	}
	switch next {
	case StatusNew, StatusInvestigating, StatusInProgress, StatusResolved, StatusWontFix:
		return true
	default:
		return false
	}
}

// Group represents all occurrences of one logical error within an
// application, identified by its fingerprint.
type Group struct {
	ID            string
	Fingerprint   string
	ApplicationID string
	ErrorType     string
	Message       string
	Backtrace     string

	OccurrenceCount int64
	FirstSeenAt     time.Time
	LastSeenAt      time.Time

	Severity      Severity
	PriorityScore int
	Status        Status

	ResolvedAt   time.Time
	ResolvedBy   string
	AssignedTo   string
	SnoozedUntil time.Time
	ReopenedAt   time.Time

	// Most recent occurrence context, overwritten on every capture.
	Platform   string
	UserID     string
	RequestURL string
	Controller string
	Action     string
	Hostname   string
}

// New creates a Group for a first occurrence.
func New(applicationID, fingerprint, errorType, message string, sev Severity, now time.Time) *Group {
	return &Group{
		ID:              uuid.NewString(),
		Fingerprint:     fingerprint,
		ApplicationID:   applicationID,
		ErrorType:       errorType,
		Message:         message,
		OccurrenceCount: 1,
		FirstSeenAt:     now,
		LastSeenAt:      now,
		Severity:        sev,
		Status:          StatusNew,
	}
}

// Resolved reports whether the group is in the resolved state.
func (g *Group) Resolved() bool {
	return g.Status == StatusResolved
}

// Snoozed reports whether the group is snoozed at the given time.
func (g *Group) Snoozed(now time.Time) bool {
	return !g.SnoozedUntil.IsZero() && now.Before(g.SnoozedUntil)
}
