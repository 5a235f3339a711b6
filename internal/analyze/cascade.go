package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/setevik/errtrack/internal/store"
)

// Cascade detection defaults.
const (
	// DefaultCascadeDelta is the window within which a child occurrence is
	// considered to follow a parent occurrence.
	DefaultCascadeDelta = 5 * time.Minute
	// DefaultMinCoOccurrences is the minimum number of parent->child pairs
	// before a relationship is reported.
	DefaultMinCoOccurrences = 3
	// DefaultMinProbability filters coincidental pairings.
	DefaultMinProbability = 0.5
)

// CascadeDetector derives parent->child relationships between error groups
// from occurrence timing.
type CascadeDetector struct {
	db               *store.DB
	delta            time.Duration
	minCoOccurrences int64
	minProbability   float64
}

// NewCascadeDetector creates a CascadeDetector with default thresholds.
func NewCascadeDetector(db *store.DB) *CascadeDetector {
	return &CascadeDetector{
		db:               db,
		delta:            DefaultCascadeDelta,
		minCoOccurrences: DefaultMinCoOccurrences,
		minProbability:   DefaultMinProbability,
	}
}

// Detect recomputes cascade relationships for an application over the given
// window and upserts them. A child group "cascades from" a parent when its
// occurrences repeatedly arrive within the delta after the parent's.
func (c *CascadeDetector) Detect(ctx context.Context, appID string, since time.Time) error {
	pairs, err := c.db.RecentOccurrencePairs(ctx, appID, since)
	if err != nil {
		return fmt.Errorf("loading occurrence pairs: %w", err)
	}
	if len(pairs) < 2 {
		return nil
	}

	type link struct {
		count      int64
		totalDelta time.Duration
	}
	links := make(map[[2]string]*link)
	parentTotals := make(map[string]int64)

	// pairs are ordered chronologically: scan forward from each occurrence
	// within the delta window.
	for i, parent := range pairs {
		parentTotals[parent.GroupID]++
		for j := i + 1; j < len(pairs); j++ {
			child := pairs[j]
			delta := child.OccurredAt.Sub(parent.OccurredAt)
			if delta > c.delta {
				break
			}
			if child.GroupID == parent.GroupID {
				continue
			}
			key := [2]string{parent.GroupID, child.GroupID}
			l := links[key]
			if l == nil {
				l = &link{}
				links[key] = l
			}
			l.count++
			l.totalDelta += delta
		}
	}

	now := time.Now()
	for key, l := range links {
		if l.count < c.minCoOccurrences {
			continue
		}
		probability := float64(l.count) / float64(parentTotals[key[0]])
		if probability > 1 {
			probability = 1
		}
		if probability < c.minProbability {
			continue
		}

		rel := store.CascadeRelationship{
			ParentGroupID:     key[0],
			ChildGroupID:      key[1],
			Probability:       probability,
			CoOccurrenceCount: l.count,
			AvgTimeDelta:      l.totalDelta / time.Duration(l.count),
			UpdatedAt:         now,
		}
		if err := c.db.UpsertCascade(ctx, rel); err != nil {
			slog.Warn("cascade upsert failed",
				"parent", key[0], "child", key[1], "error", err)
		}
	}
	return nil
}
