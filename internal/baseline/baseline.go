// Package baseline maintains rolling mean/std-dev expectations per
// (error_type, platform, period) and flags occurrence counts that exceed a
// configurable standard-deviation threshold.
package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/setevik/errtrack/internal/config"
	"github.com/setevik/errtrack/internal/stats"
	"github.com/setevik/errtrack/internal/store"
)

// Level classifies how anomalous an observation is.
type Level string

const (
	// LevelNoDetermination means the baseline has too little data to judge.
	LevelNoDetermination Level = "no_determination"
	LevelNormal          Level = "normal"
	LevelElevated        Level = "elevated"
	LevelHigh            Level = "high"
	LevelCritical        Level = "critical"
)

// Anomalous reports whether the level should be considered an anomaly
// signal.
func (l Level) Anomalous() bool {
	return l == LevelElevated || l == LevelHigh || l == LevelCritical
}

// Evaluation is the result of checking an observed count against a
// baseline.
type Evaluation struct {
	Level        Level
	StdDevsAbove float64
	Observed     float64
	Mean         float64
	StdDev       float64
}

// Detector recomputes and evaluates baselines. Recomputation is collapsed
// per key through singleflight so overlapping scheduled runs never compute
// the same baseline concurrently.
type Detector struct {
	cfg config.BaselineConfig
	db  *store.DB
	sf  singleflight.Group
}

// New creates a Detector.
func New(cfg config.BaselineConfig, db *store.DB) *Detector {
	return &Detector{cfg: cfg, db: db}
}

// Recompute rebuilds the baseline for one (error_type, platform,
// baseline_type) key from the trailing sample window and upserts it.
// Concurrent calls for the same key share one execution.
func (d *Detector) Recompute(ctx context.Context, errorType, platform string, bt store.BaselineType) (*store.BaselineStat, error) {
	key := errorType + "|" + platform + "|" + string(bt)
	v, err, _ := d.sf.Do(key, func() (any, error) {
		return d.recompute(ctx, errorType, platform, bt)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.BaselineStat), nil
}

func (d *Detector) recompute(ctx context.Context, errorType, platform string, bt store.BaselineType) (*store.BaselineStat, error) {
	now := time.Now()
	window := d.cfg.Window.Duration
	if window <= 0 {
		window = 28 * 24 * time.Hour
	}
	since := now.Add(-window)

	series, err := d.db.OccurrenceSeries(ctx, errorType, platform, bt, since, now)
	if err != nil {
		return nil, fmt.Errorf("loading occurrence series: %w", err)
	}

	counts := make([]float64, 0, len(series))
	var total int64
	for _, pc := range series {
		counts = append(counts, float64(pc.Count))
		total += pc.Count
	}

	sorted := make([]float64, len(counts))
	copy(sorted, counts)
	sort.Float64s(sorted)

	stat := store.BaselineStat{
		ErrorType:    errorType,
		Platform:     platform,
		BaselineType: bt,
		PeriodStart:  since,
		PeriodEnd:    now,
		Mean:         stats.Mean(counts),
		StdDev:       stats.StdDev(counts),
		Percentile95: stats.Percentile(sorted, 95),
		Percentile99: stats.Percentile(sorted, 99),
		SampleSize:   len(counts),
		Count:        total,
		UpdatedAt:    now,
	}

	if err := d.db.UpsertBaseline(ctx, stat); err != nil {
		return nil, err
	}

	slog.Debug("baseline recomputed",
		"error_type", errorType,
		"platform", platform,
		"baseline_type", bt,
		"mean", stat.Mean,
		"std_dev", stat.StdDev,
		"sample_size", stat.SampleSize,
	)
	return &stat, nil
}

// RecomputeAll rebuilds daily and hourly baselines for every (error_type,
// platform) pair seen within the sample window.
func (d *Detector) RecomputeAll(ctx context.Context) error {
	window := d.cfg.Window.Duration
	if window <= 0 {
		window = 28 * 24 * time.Hour
	}
	keys, err := d.db.SeriesKeys(ctx, time.Now().Add(-window))
	if err != nil {
		return fmt.Errorf("listing series keys: %w", err)
	}

	for _, k := range keys {
		for _, bt := range []store.BaselineType{store.BaselineDaily, store.BaselineHourly} {
			if _, err := d.Recompute(ctx, k.ErrorType, k.Platform, bt); err != nil {
				slog.Warn("baseline recompute failed",
					"error_type", k.ErrorType,
					"platform", k.Platform,
					"baseline_type", bt,
					"error", err,
				)
			}
		}
	}
	return nil
}

// Evaluate checks an observed period count against a baseline. A baseline
// with fewer than the configured minimum periods or occurrences yields
// LevelNoDetermination rather than a false anomaly signal.
func (d *Detector) Evaluate(observed float64, stat *store.BaselineStat) Evaluation {
	ev := Evaluation{Level: LevelNoDetermination, Observed: observed}
	if stat == nil {
		return ev
	}
	ev.Mean = stat.Mean
	ev.StdDev = stat.StdDev

	minPeriods := d.cfg.MinPeriods
	if minPeriods <= 0 {
		minPeriods = 7
	}
	minOccurrences := int64(d.cfg.MinOccurrences)
	if minOccurrences <= 0 {
		minOccurrences = 10
	}
	if stat.SampleSize < minPeriods || stat.Count < minOccurrences {
		return ev
	}

	threshold := d.cfg.Threshold
	if threshold <= 0 {
		threshold = 3.0
	}

	if stat.StdDev == 0 {
		// A flat baseline gives no scale; treat any increase as a fixed
		// high signal.
		if observed > stat.Mean {
			ev.StdDevsAbove = threshold * 2
			ev.Level = LevelHigh
		} else {
			ev.Level = LevelNormal
		}
		return ev
	}

	ev.StdDevsAbove = (observed - stat.Mean) / stat.StdDev
	switch {
	case ev.StdDevsAbove >= threshold*3:
		ev.Level = LevelCritical
	case ev.StdDevsAbove >= threshold*2:
		ev.Level = LevelHigh
	case ev.StdDevsAbove >= threshold:
		ev.Level = LevelElevated
	default:
		ev.Level = LevelNormal
	}
	return ev
}
