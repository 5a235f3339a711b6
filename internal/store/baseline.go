package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BaselineStat is a rolling statistical expectation for one
// (error_type, platform, baseline_type) key over a sample window.
type BaselineStat struct {
	ErrorType    string
	Platform     string
	BaselineType BaselineType
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Mean         float64
	StdDev       float64
	Percentile95 float64
	Percentile99 float64
	SampleSize   int
	Count        int64
	UpdatedAt    time.Time
}

// UpsertBaseline inserts or fully replaces the baseline row for its key.
// Recomputation is idempotent: overlapping runs write the same values.
func (d *DB) UpsertBaseline(ctx context.Context, b BaselineStat) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO baseline_stats
			(error_type, platform, baseline_type, period_start, period_end,
			 mean, std_dev, percentile_95, percentile_99, sample_size, count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(error_type, platform, baseline_type, period_start) DO UPDATE SET
			period_end = excluded.period_end,
			mean = excluded.mean,
			std_dev = excluded.std_dev,
			percentile_95 = excluded.percentile_95,
			percentile_99 = excluded.percentile_99,
			sample_size = excluded.sample_size,
			count = excluded.count,
			updated_at = excluded.updated_at`,
		b.ErrorType, b.Platform, string(b.BaselineType),
		fmtTime(b.PeriodStart), fmtTime(b.PeriodEnd),
		b.Mean, b.StdDev, b.Percentile95, b.Percentile99,
		b.SampleSize, b.Count, fmtTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting baseline: %w", err)
	}
	return nil
}

// LatestBaseline returns the most recent baseline for a key, or nil when
// none has been computed yet.
func (d *DB) LatestBaseline(ctx context.Context, errorType, platform string, bt BaselineType) (*BaselineStat, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT error_type, platform, baseline_type, period_start, period_end,
			mean, std_dev, percentile_95, percentile_99, sample_size, count, updated_at
		FROM baseline_stats
		WHERE error_type = ? AND platform = ? AND baseline_type = ?
		ORDER BY period_start DESC LIMIT 1`,
		errorType, platform, string(bt),
	)

	var b BaselineStat
	var start, end, updated string
	err := row.Scan(&b.ErrorType, &b.Platform, &b.BaselineType, &start, &end,
		&b.Mean, &b.StdDev, &b.Percentile95, &b.Percentile99,
		&b.SampleSize, &b.Count, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning baseline: %w", err)
	}

	b.PeriodStart, _ = time.Parse(time.RFC3339Nano, start)
	b.PeriodEnd, _ = time.Parse(time.RFC3339Nano, end)
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &b, nil
}
