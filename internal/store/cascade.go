package store

import (
	"context"
	"fmt"
	"time"
)

// CascadeRelationship records that occurrences of one group tend to follow
// another's. Derived data: fully recomputable, never hand-edited.
type CascadeRelationship struct {
	ParentGroupID     string
	ChildGroupID      string
	Probability       float64
	CoOccurrenceCount int64
	AvgTimeDelta      time.Duration
	UpdatedAt         time.Time
}

// UpsertCascade inserts or replaces a cascade relationship.
func (d *DB) UpsertCascade(ctx context.Context, c CascadeRelationship) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO cascade_relationships
			(parent_group_id, child_group_id, probability, co_occurrence_count,
			 avg_time_delta_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(parent_group_id, child_group_id) DO UPDATE SET
			probability = excluded.probability,
			co_occurrence_count = excluded.co_occurrence_count,
			avg_time_delta_ms = excluded.avg_time_delta_ms,
			updated_at = excluded.updated_at`,
		c.ParentGroupID, c.ChildGroupID, c.Probability, c.CoOccurrenceCount,
		c.AvgTimeDelta.Milliseconds(), fmtTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting cascade: %w", err)
	}
	return nil
}

// CascadesForParent returns relationships where the given group is the
// parent, strongest first.
func (d *DB) CascadesForParent(ctx context.Context, parentID string) ([]CascadeRelationship, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT parent_group_id, child_group_id, probability,
			co_occurrence_count, avg_time_delta_ms, updated_at
		FROM cascade_relationships
		WHERE parent_group_id = ?
		ORDER BY probability DESC`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cascades: %w", err)
	}
	defer rows.Close()

	var out []CascadeRelationship
	for rows.Next() {
		var c CascadeRelationship
		var deltaMS int64
		var updated string
		if err := rows.Scan(&c.ParentGroupID, &c.ChildGroupID, &c.Probability,
			&c.CoOccurrenceCount, &deltaMS, &updated); err != nil {
			return nil, fmt.Errorf("scanning cascade: %w", err)
		}
		c.AvgTimeDelta = time.Duration(deltaMS) * time.Millisecond
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, c)
	}
	return out, rows.Err()
}
