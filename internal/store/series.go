package store

import (
	"context"
	"fmt"
	"time"
)

// BaselineType selects the aggregation period for occurrence series.
type BaselineType string

const (
	BaselineDaily  BaselineType = "daily"
	BaselineHourly BaselineType = "hourly"
)

func (b BaselineType) bucketExpr() string {
	if b == BaselineHourly {
		return `strftime('%Y-%m-%dT%H', occurred_at)`
	}
	return `date(occurred_at)`
}

// PeriodCount is the occurrence count for one aggregation period.
type PeriodCount struct {
	Period string
	Count  int64
}

// OccurrenceSeries returns per-period occurrence counts for an error type
// and platform within [since, until). Periods with zero occurrences are not
// returned; callers that need a dense series fill the gaps.
func (d *DB) OccurrenceSeries(ctx context.Context, errorType, platform string, bt BaselineType, since, until time.Time) ([]PeriodCount, error) {
	query := `SELECT ` + bt.bucketExpr() + ` AS period, COUNT(*)
		FROM occurrences
		WHERE error_type = ? AND occurred_at >= ? AND occurred_at < ?`
	args := []any{errorType, fmtTime(since), fmtTime(until)}

	if platform != "" {
		query += " AND platform = ?"
		args = append(args, platform)
	}
	query += " GROUP BY period ORDER BY period"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying occurrence series: %w", err)
	}
	defer rows.Close()

	var series []PeriodCount
	for rows.Next() {
		var pc PeriodCount
		if err := rows.Scan(&pc.Period, &pc.Count); err != nil {
			return nil, fmt.Errorf("scanning series row: %w", err)
		}
		series = append(series, pc)
	}
	return series, rows.Err()
}

// SeriesKey identifies one (error_type, platform) series present in the
// occurrence data.
type SeriesKey struct {
	ErrorType string
	Platform  string
}

// SeriesKeys lists the distinct (error_type, platform) pairs with
// occurrences since the given time.
func (d *DB) SeriesKeys(ctx context.Context, since time.Time) ([]SeriesKey, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT DISTINCT error_type, COALESCE(platform, '')
		FROM occurrences WHERE occurred_at >= ?
		ORDER BY error_type, platform`,
		fmtTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying series keys: %w", err)
	}
	defer rows.Close()

	var keys []SeriesKey
	for rows.Next() {
		var k SeriesKey
		if err := rows.Scan(&k.ErrorType, &k.Platform); err != nil {
			return nil, fmt.Errorf("scanning series key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// OccurrenceTimes returns occurrence timestamps for a group since the given
// time, oldest first. Used by the pattern detector.
func (d *DB) OccurrenceTimes(ctx context.Context, groupID string, since time.Time) ([]time.Time, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT occurred_at FROM occurrences
		WHERE group_id = ? AND occurred_at >= ?
		ORDER BY occurred_at`,
		groupID, fmtTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying occurrence times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning occurrence time: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			continue
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// GroupOccurrencePair is one (group, occurred_at) tuple used by cascade
// analysis.
type GroupOccurrencePair struct {
	GroupID    string
	OccurredAt time.Time
}

// RecentOccurrencePairs returns (group_id, occurred_at) for all occurrences
// of an application since the given time, ordered chronologically.
func (d *DB) RecentOccurrencePairs(ctx context.Context, appID string, since time.Time) ([]GroupOccurrencePair, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT group_id, occurred_at FROM occurrences
		WHERE application_id = ? AND occurred_at >= ?
		ORDER BY occurred_at`,
		appID, fmtTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying occurrence pairs: %w", err)
	}
	defer rows.Close()

	var pairs []GroupOccurrencePair
	for rows.Next() {
		var p GroupOccurrencePair
		var s string
		if err := rows.Scan(&p.GroupID, &s); err != nil {
			return nil, fmt.Errorf("scanning occurrence pair: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			p.OccurredAt = t
			pairs = append(pairs, p)
		}
	}
	return pairs, rows.Err()
}
