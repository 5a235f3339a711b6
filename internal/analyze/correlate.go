package analyze

import (
	"context"
	"fmt"
	"time"

	"github.com/setevik/errtrack/internal/stats"
	"github.com/setevik/errtrack/internal/store"
)

// Correlation is a scored relationship between two error-type series.
type Correlation struct {
	A           store.SeriesKey
	B           store.SeriesKey
	Coefficient float64
	Strength    stats.Strength
}

// Correlator derives pairwise correlations over per-period occurrence
// counts.
type Correlator struct {
	db *store.DB
}

// NewCorrelator creates a Correlator.
func NewCorrelator(db *store.DB) *Correlator {
	return &Correlator{db: db}
}

// Correlate computes pairwise Pearson correlations between the daily count
// series of every error type seen within the window, returning pairs of at
// least moderate strength.
func (c *Correlator) Correlate(ctx context.Context, since, until time.Time) ([]Correlation, error) {
	keys, err := c.db.SeriesKeys(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("listing series keys: %w", err)
	}

	// Load dense series aligned on day buckets.
	series := make([][]float64, len(keys))
	for i, k := range keys {
		counts, err := c.denseSeries(ctx, k, since, until)
		if err != nil {
			return nil, err
		}
		series[i] = counts
	}

	var out []Correlation
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			r := stats.Pearson(series[i], series[j])
			strength := stats.CorrelationStrength(r)
			if strength == stats.StrengthWeak {
				continue
			}
			out = append(out, Correlation{
				A:           keys[i],
				B:           keys[j],
				Coefficient: r,
				Strength:    strength,
			})
		}
	}
	return out, nil
}

// denseSeries fills zero-count gaps so that two series align period by
// period.
func (c *Correlator) denseSeries(ctx context.Context, k store.SeriesKey, since, until time.Time) ([]float64, error) {
	sparse, err := c.db.OccurrenceSeries(ctx, k.ErrorType, k.Platform, store.BaselineDaily, since, until)
	if err != nil {
		return nil, fmt.Errorf("loading series for %s/%s: %w", k.ErrorType, k.Platform, err)
	}

	byPeriod := make(map[string]int64, len(sparse))
	for _, pc := range sparse {
		byPeriod[pc.Period] = pc.Count
	}

	var dense []float64
	for day := since.UTC().Truncate(24 * time.Hour); day.Before(until); day = day.Add(24 * time.Hour) {
		dense = append(dense, float64(byPeriod[day.Format("2006-01-02")]))
	}
	return dense, nil
}
