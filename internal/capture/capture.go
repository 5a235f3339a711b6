// Package capture implements the ingestion/deduplication command: the entry
// point through which host applications report exceptions.
//
// The whole package honors one contract: a capture must never raise into the
// caller and never block it for unbounded time. Internal failures are logged
// and counted, and the capture returns nil.
package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/setevik/errtrack/internal/backtrace"
	"github.com/setevik/errtrack/internal/classify"
	"github.com/setevik/errtrack/internal/config"
	"github.com/setevik/errtrack/internal/fingerprint"
	"github.com/setevik/errtrack/internal/group"
	"github.com/setevik/errtrack/internal/metrics"
	"github.com/setevik/errtrack/internal/report"
	"github.com/setevik/errtrack/internal/store"
)

// Capturer runs the capture pipeline: ignore rules -> sampling -> redaction
// -> fingerprint -> classify -> dedup upsert.
type Capturer struct {
	cfg        config.CaptureConfig
	defaultApp string
	engine     *fingerprint.Engine
	classifier *classify.Classifier
	db         *store.DB

	ignoreExact map[string]bool
	ignoreRegex []*regexp.Regexp
}

// New creates a Capturer. strategy may be nil to use built-in
// fingerprinting.
func New(cfg *config.Config, db *store.DB, strategy fingerprint.Strategy) *Capturer {
	c := &Capturer{
		cfg:         cfg.Capture,
		defaultApp:  cfg.Application.ID,
		engine:      fingerprint.New(strategy),
		classifier:  classify.New(cfg.TypedSeverityOverrides()),
		db:          db,
		ignoreExact: make(map[string]bool),
	}

	for _, entry := range cfg.Capture.IgnoredTypes {
		if strings.HasPrefix(entry, "/") && strings.HasSuffix(entry, "/") && len(entry) > 2 {
			re, err := regexp.Compile(entry[1 : len(entry)-1])
			if err != nil {
				slog.Warn("invalid ignore pattern, skipping", "pattern", entry, "error", err)
				continue
			}
			c.ignoreRegex = append(c.ignoreRegex, re)
		} else {
			c.ignoreExact[entry] = true
		}
	}

	return c
}

// Capture processes one occurrence report. It returns the affected group,
// or nil when the occurrence was suppressed or an internal failure was
// swallowed. It never panics and never returns an error: the host
// application's own exception must keep propagating undisturbed.
func (c *Capturer) Capture(ctx context.Context, r report.Report) (g *group.Group) {
	start := time.Now()
	defer func() {
		metrics.CaptureDuration.Observe(time.Since(start).Seconds())
		if rec := recover(); rec != nil {
			metrics.Failed.Inc()
			slog.Error("capture panicked", "panic", rec, "type", r.Type)
			g = nil
		}
	}()

	if r.ApplicationID == "" {
		r.ApplicationID = c.defaultApp
	}
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now()
	}

	if c.ignored(r.Type) {
		metrics.Ignored.Inc()
		slog.Debug("occurrence ignored", "type", r.Type)
		return nil
	}

	sev := c.classifier.Severity(r.Type)

	// Critical errors always bypass sampling so outages are never silently
	// dropped.
	if sev != group.SevCritical && c.cfg.SamplingRate < 1.0 {
		if rand.Float64() >= c.cfg.SamplingRate {
			metrics.Sampled.Inc()
			slog.Debug("occurrence sampled out", "type", r.Type, "rate", c.cfg.SamplingRate)
			return nil
		}
	}

	occ := c.buildOccurrence(r, sev)

	budget := c.cfg.StepBudget.Duration
	if budget <= 0 {
		budget = 2 * time.Second
	}
	dbCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	g, err := c.db.RecordOccurrence(dbCtx, occ, c.cfg.ReopenWindow.Duration)
	if err != nil {
		metrics.Failed.Inc()
		slog.Warn("capture failed open", "type", r.Type, "fingerprint", occ.Fingerprint, "error", err)
		return nil
	}

	metrics.Captured.Inc()
	slog.Debug("occurrence captured",
		"type", r.Type,
		"fingerprint", occ.Fingerprint,
		"group", g.ID,
		"count", g.OccurrenceCount,
		"severity", g.Severity,
	)
	return g
}

func (c *Capturer) ignored(errorType string) bool {
	if c.ignoreExact[errorType] {
		return true
	}
	for _, re := range c.ignoreRegex {
		if re.MatchString(errorType) {
			return true
		}
	}
	return false
}

func (c *Capturer) buildOccurrence(r report.Report, sev group.Severity) store.Occurrence {
	params := report.RedactParams(r.Context.Params, c.cfg.SensitiveParamKeys)
	var paramsJSON string
	if params != nil {
		if b, err := json.Marshal(params); err == nil {
			paramsJSON = string(b)
		}
	}

	truncated := backtrace.Truncate(r.Backtrace, c.cfg.MaxBacktraceLines)

	return store.Occurrence{
		ApplicationID: r.ApplicationID,
		Fingerprint:   c.engine.Compute(r),
		ErrorType:     r.Type,
		Message:       r.Message,
		Backtrace:     strings.Join(truncated, "\n"),
		Severity:      sev,
		OccurredAt:    r.OccurredAt,
		Platform:      r.Context.Platform,
		UserID:        r.Context.UserID,
		RequestURL:    r.Context.RequestURL,
		Controller:    r.Context.Controller,
		Action:        r.Context.Action,
		Hostname:      r.Context.Hostname,
		ParamsJSON:    paramsJSON,
	}
}
