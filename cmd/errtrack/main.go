// errtrack ingests application exception reports, deduplicates and
// classifies them, maintains anomaly baselines over occurrence history, and
// dispatches throttled alerts via webhook.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/setevik/errtrack/internal/analyze"
	"github.com/setevik/errtrack/internal/baseline"
	"github.com/setevik/errtrack/internal/capture"
	"github.com/setevik/errtrack/internal/config"
	"github.com/setevik/errtrack/internal/group"
	"github.com/setevik/errtrack/internal/notify"
	"github.com/setevik/errtrack/internal/pattern"
	"github.com/setevik/errtrack/internal/report"
	"github.com/setevik/errtrack/internal/spool"
	"github.com/setevik/errtrack/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "query":
			runQuery(os.Args[2:])
			return
		case "digest":
			runDigest(os.Args[2:])
			return
		case "analyze":
			runAnalyze(os.Args[2:])
			return
		case "resolve":
			runResolve(os.Args[2:])
			return
		case "status":
			runStatus(os.Args[2:])
			return
		case "version":
			fmt.Println("errtrack", version)
			return
		}
	}

	// Default: run daemon.
	runDaemon(os.Args[1:])
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("errtrack", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Parse(args)

	if *showVersion {
		fmt.Println("errtrack", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Log.Level)

	slog.Info("errtrack starting",
		"version", version,
		"application", cfg.Application.ID,
	)

	if err := run(cfg); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening error database: %w", err)
	}
	defer db.Close()

	slog.Info("error database opened", "path", cfg.DBPath())

	// Run retention purge on startup.
	if cfg.DB.Retention.Duration > 0 {
		purged, err := db.Purge(ctx, cfg.DB.Retention.Duration)
		if err != nil {
			slog.Warn("failed to purge old occurrences", "error", err)
		} else if purged > 0 {
			slog.Info("purged old occurrences", "count", purged, "retention", cfg.DB.Retention.Duration)
		}
	}

	// Pipeline: spool -> capture -> store -> throttle -> webhook.
	capturer := capture.New(cfg, db, nil)
	throttler := notify.NewThrottler(cfg.Notify, nil)
	sender := notify.NewWebhookSender(cfg.Notify.WebhookURL)
	detector := baseline.New(cfg.Baseline, db)
	cascades := analyze.NewCascadeDetector(db)

	// Reports go through the background worker when queuing is enabled, so
	// a slow webhook cannot back the spool reader up. queue_size 0 keeps
	// capture synchronous.
	worker := capture.NewWorker(capturer, cfg.Capture.QueueSize)
	worker.OnGroup(func(ctx context.Context, g *group.Group) {
		notifyGroup(ctx, g, throttler, sender, cfg)
	})
	worker.Start(ctx)
	defer worker.Stop()

	// Scheduled maintenance.
	sched := cron.New()
	schedule := cfg.Baseline.RecomputeSchedule
	if schedule == "" {
		schedule = "17 * * * *"
	}
	if _, err := sched.AddFunc(schedule, func() {
		if err := detector.RecomputeAll(ctx); err != nil {
			slog.Warn("baseline recompute failed", "error", err)
		}
		checkAnomalies(ctx, cfg, db, detector, throttler, sender)
	}); err != nil {
		return fmt.Errorf("scheduling baseline recompute: %w", err)
	}
	if _, err := sched.AddFunc("45 3 * * *", func() {
		since := time.Now().Add(-24 * time.Hour)
		if err := cascades.Detect(ctx, cfg.Application.ID, since); err != nil {
			slog.Warn("cascade detection failed", "error", err)
		}
		if cfg.DB.Retention.Duration > 0 {
			if _, err := db.Purge(ctx, cfg.DB.Retention.Duration); err != nil {
				slog.Warn("retention purge failed", "error", err)
			}
		}
	}); err != nil {
		return fmt.Errorf("scheduling maintenance: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// Optional prometheus listener.
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics listener failed", "error", err)
			}
		}()
		defer srv.Close()
		slog.Info("metrics listener started", "addr", addr)
	}

	// Spool source with supervised restarts.
	if cfg.Spool.Path == "" {
		return fmt.Errorf("spool.path not configured")
	}
	supervised := spool.NewSupervisedSource(
		func() spool.Source {
			return spool.NewFileSource(cfg.Spool.Path, time.Second)
		},
		5*time.Second, // restart wait
		0,             // unlimited restarts
	)

	lines, err := supervised.Reports(ctx)
	if err != nil {
		return fmt.Errorf("starting spool watcher: %w", err)
	}

	slog.Info("pipeline started, watching for reports")

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				slog.Warn("spool channel closed")
				return nil
			}

			r, err := report.Decode(line)
			if err != nil {
				slog.Debug("skipping unparseable report line", "error", err)
				continue
			}

			if cfg.Capture.QueueSize > 0 {
				worker.Enqueue(r)
			} else {
				handleReport(ctx, r, capturer, throttler, sender, cfg)
			}

		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		}
	}
}

// handleReport runs a report through capture and the notification gate
// synchronously.
func handleReport(ctx context.Context, r report.Report, capturer *capture.Capturer, throttler *notify.Throttler, sender *notify.WebhookSender, cfg *config.Config) {
	g := capturer.Capture(ctx, r)
	if g == nil {
		return
	}
	notifyGroup(ctx, g, throttler, sender, cfg)
}

// notifyGroup runs a freshly recorded group through the milestone and
// severity/cooldown gates.
func notifyGroup(ctx context.Context, g *group.Group, throttler *notify.Throttler, sender *notify.WebhookSender, cfg *config.Config) {
	if g.Snoozed(time.Now()) {
		return
	}

	maxLines := cfg.Notify.MaxBacktraceLines

	// Milestone alerts fire once per configured threshold, independent of
	// severity gating.
	if milestone := throttler.MilestoneCrossed(g.ID, g.OccurrenceCount); milestone > 0 {
		p := notify.BuildPayload(g, maxLines)
		p.Milestone = milestone
		if err := sender.Send(ctx, p); err != nil {
			slog.Error("failed to send milestone notification", "group", g.ID, "error", err)
		}
	}

	if !throttler.ShouldNotify(g.Fingerprint, g.Severity) {
		slog.Debug("notification suppressed",
			"fingerprint", g.Fingerprint,
			"severity", g.Severity,
		)
		return
	}

	if err := sender.Send(ctx, notify.BuildPayload(g, maxLines)); err != nil {
		slog.Error("failed to send notification", "group", g.ID, "error", err)
	}
}

// checkAnomalies evaluates today's occurrence counts against the freshly
// recomputed daily baselines and alerts on spikes, subject to the anomaly
// cooldown.
func checkAnomalies(ctx context.Context, cfg *config.Config, db *store.DB, detector *baseline.Detector, throttler *notify.Throttler, sender *notify.WebhookSender) {
	now := time.Now()
	dayStart := now.UTC().Truncate(24 * time.Hour)

	keys, err := db.SeriesKeys(ctx, dayStart)
	if err != nil {
		slog.Warn("anomaly check failed", "error", err)
		return
	}

	for _, k := range keys {
		series, err := db.OccurrenceSeries(ctx, k.ErrorType, k.Platform, store.BaselineDaily, dayStart, now)
		if err != nil || len(series) == 0 {
			continue
		}
		observed := float64(series[len(series)-1].Count)

		stat, err := db.LatestBaseline(ctx, k.ErrorType, k.Platform, store.BaselineDaily)
		if err != nil {
			continue
		}

		ev := detector.Evaluate(observed, stat)
		if !ev.Level.Anomalous() {
			continue
		}

		sev := anomalySeverity(ev.Level)
		if !throttler.ShouldNotify("anomaly:"+k.ErrorType, sev) {
			continue
		}

		p := notify.Payload{
			ApplicationID: cfg.Application.ID,
			ErrorType:     k.ErrorType,
			Platform:      k.Platform,
			Severity:      string(sev),
			Anomaly: fmt.Sprintf("%.0f occurrences today, %.1f std devs above baseline mean %.1f",
				ev.Observed, ev.StdDevsAbove, ev.Mean),
		}
		if err := sender.Send(ctx, p); err != nil {
			slog.Error("failed to send anomaly notification", "error_type", k.ErrorType, "error", err)
		}
	}
}

func anomalySeverity(level baseline.Level) group.Severity {
	switch level {
	case baseline.LevelCritical:
		return group.SevCritical
	case baseline.LevelHigh:
		return group.SevHigh
	default:
		return group.SevMedium
	}
}

// --- query subcommand ---

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	last := fs.String("last", "24h", "time window (e.g. 24h, 7d, 30d)")
	status := fs.String("status", "", "filter by status (new, investigating, in_progress, resolved, wont_fix)")
	severity := fs.String("severity", "", "filter by severity (critical, high, medium, low)")
	search := fs.String("search", "", "free-text search over error type and message")
	orderBy := fs.String("order", "last_seen", "sort order (last_seen, priority, count)")
	limit := fs.Int("limit", 50, "max groups to show")
	fs.Parse(args)

	cfg, db := openCLI(*configPath)
	defer db.Close()

	since, err := parseDuration(*last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --last value %q: %v\n", *last, err)
		os.Exit(1)
	}

	groups, err := db.Query(context.Background(), store.QueryFilter{
		ApplicationID: cfg.Application.ID,
		Status:        group.Status(*status),
		Severity:      group.Severity(*severity),
		Since:         time.Now().Add(-since),
		Search:        *search,
		OrderBy:       *orderBy,
		Limit:         *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	if len(groups) == 0 {
		fmt.Println("No error groups found.")
		return
	}

	printGroups(groups)
}

func printGroups(groups []*group.Group) {
	for _, g := range groups {
		ts := g.LastSeenAt.Local().Format("2006-01-02 15:04:05")
		fmt.Printf("%s  [%-8s] P%-3d x%-6d %s\n", ts, g.Severity, g.PriorityScore, g.OccurrenceCount, g.ErrorType)
		fmt.Printf("             %s\n", firstLine(g.Message))
		fmt.Printf("             id=%s status=%s fingerprint=%s\n", g.ID, g.Status, g.Fingerprint)
		fmt.Println()
	}
	fmt.Printf("Total: %d group(s)\n", len(groups))
}

// --- digest subcommand ---

func runDigest(args []string) {
	fs := flag.NewFlagSet("digest", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	send := fs.Bool("send", false, "send digest via webhook (otherwise print to stdout)")
	last := fs.String("last", "7d", "time window for digest")
	top := fs.Int("top", 10, "number of top groups to include")
	fs.Parse(args)

	cfg, db := openCLI(*configPath)
	defer db.Close()

	duration, err := parseDuration(*last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --last value: %v\n", err)
		os.Exit(1)
	}

	until := time.Now()
	since := until.Add(-duration)

	groups, err := db.Query(context.Background(), store.QueryFilter{
		ApplicationID: cfg.Application.ID,
		Since:         since,
		Until:         until,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	digest := notify.BuildDigest(cfg.Application.ID, groups, since, until, *top)
	body := notify.FormatDigest(digest)

	if !*send {
		fmt.Print(body)
		return
	}

	if cfg.Notify.WebhookURL == "" {
		fmt.Fprintln(os.Stderr, "error: notify.webhook_url not configured")
		os.Exit(1)
	}

	sender := notify.NewWebhookSender(cfg.Notify.WebhookURL)
	p := notify.Payload{
		ApplicationID: cfg.Application.ID,
		ErrorType:     "digest",
		Message:       notify.FormatDigestTitle(since, until) + "\n\n" + body,
		Severity:      string(group.SevLow),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := sender.Send(ctx, p); err != nil {
		fmt.Fprintf(os.Stderr, "error sending digest: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Digest sent successfully.")
}

// --- analyze subcommand ---

// runAnalyze inspects one group (temporal patterns, bursts, similar errors,
// downstream cascades) or, without --id, reports correlated error types
// across the whole application.
func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	id := fs.String("id", "", "group id to analyze (omit for cross-type correlations)")
	last := fs.String("last", "30d", "time window to analyze")
	fs.Parse(args)

	cfg, db := openCLI(*configPath)
	defer db.Close()

	ctx := context.Background()
	duration, err := parseDuration(*last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --last value: %v\n", err)
		os.Exit(1)
	}
	since := time.Now().Add(-duration)

	if *id == "" {
		analyzeCorrelations(ctx, db, since)
		return
	}
	analyzeGroup(ctx, cfg, db, *id, since)
}

func analyzeGroup(ctx context.Context, cfg *config.Config, db *store.DB, id string, since time.Time) {
	g, err := db.GetGroup(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if g == nil {
		fmt.Fprintf(os.Stderr, "error: group %s not found\n", id)
		os.Exit(1)
	}

	fmt.Printf("%s: %s\n", g.ErrorType, firstLine(g.Message))
	fmt.Printf("severity=%s status=%s count=%d\n\n", g.Severity, g.Status, g.OccurrenceCount)

	times, err := db.OccurrenceTimes(ctx, g.ID, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading occurrences: %v\n", err)
		os.Exit(1)
	}

	cycle := pattern.AnalyzeCycles(times)
	fmt.Printf("Temporal pattern: %s (strength %.2f, %d occurrences)\n",
		cycle.Type, cycle.Strength, len(times))

	bursts := pattern.DetectBursts(times, pattern.DefaultMaxGap, pattern.DefaultMinSize)
	if len(bursts) == 0 {
		fmt.Println("Bursts:           none")
	} else {
		fmt.Printf("Bursts:           %d\n", len(bursts))
		for _, b := range bursts {
			fmt.Printf("  %s  %d occurrences in %s (%s intensity)\n",
				b.Start.Local().Format("2006-01-02 15:04:05"),
				b.MemberCount, formatDuration(b.Duration), b.Intensity)
		}
	}

	printSimilarGroups(ctx, db, g, cfg.Application.ID)

	cascades, err := db.CascadesForParent(ctx, g.ID)
	if err == nil && len(cascades) > 0 {
		fmt.Println("\nDownstream cascades:")
		for _, c := range cascades {
			child, err := db.GetGroup(ctx, c.ChildGroupID)
			name := c.ChildGroupID
			if err == nil && child != nil {
				name = child.ErrorType
			}
			fmt.Printf("  %-40s p=%.2f x%d avg delay %s\n",
				name, c.Probability, c.CoOccurrenceCount, formatDuration(c.AvgTimeDelta))
		}
	}
}

func printSimilarGroups(ctx context.Context, db *store.DB, g *group.Group, appID string) {
	candidates, err := db.Query(ctx, store.QueryFilter{ApplicationID: appID, Limit: 200})
	if err != nil {
		return
	}

	const minScore = 0.6
	var found bool
	for _, other := range candidates {
		if other.ID == g.ID {
			continue
		}
		score := analyze.MessageSimilarity(g.Message, other.Message)
		if score < minScore {
			continue
		}
		if !found {
			fmt.Println("\nSimilar errors:")
			found = true
		}
		fmt.Printf("  %.2f  %s: %s (id=%s)\n",
			score, other.ErrorType, firstLine(other.Message), other.ID)
	}
}

func analyzeCorrelations(ctx context.Context, db *store.DB, since time.Time) {
	correlations, err := analyze.NewCorrelator(db).Correlate(ctx, since, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(correlations) == 0 {
		fmt.Println("No correlated error types found.")
		return
	}

	fmt.Println("Correlated error types:")
	for _, c := range correlations {
		fmt.Printf("  r=%+.3f [%-8s] %s <-> %s\n",
			c.Coefficient, c.Strength, c.A.ErrorType, c.B.ErrorType)
	}
}

// --- resolve subcommand ---

func runResolve(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	id := fs.String("id", "", "group id to resolve")
	by := fs.String("by", "cli", "who resolved it")
	wontFix := fs.Bool("wont-fix", false, "mark wont_fix instead of resolved")
	fs.Parse(args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "error: --id is required")
		os.Exit(1)
	}

	_, db := openCLI(*configPath)
	defer db.Close()

	ctx := context.Background()
	var err error
	if *wontFix {
		err = db.MarkWontFix(ctx, *id, *by, time.Now())
	} else {
		err = db.Resolve(ctx, *id, *by, time.Now())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Group %s updated.\n", *id)
}

// --- status subcommand ---

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, db := openCLI(*configPath)
	defer db.Close()

	ctx := context.Background()

	fmt.Printf("Application:  %s\n", cfg.Application.ID)

	lastGroups, err := db.Query(ctx, store.QueryFilter{Limit: 1})
	if err == nil && len(lastGroups) > 0 {
		g := lastGroups[0]
		ago := time.Since(g.LastSeenAt).Truncate(time.Second)
		fmt.Printf("Last error:   [%s] %s (%s ago)\n", g.Severity, g.ErrorType, formatDuration(ago))
	} else {
		fmt.Println("Last error:   none")
	}

	since24h := time.Now().Add(-24 * time.Hour)
	recent, _ := db.Query(ctx, store.QueryFilter{Since: since24h})

	var critical, high, medium, low int
	var occurrences int64
	for _, g := range recent {
		occurrences += g.OccurrenceCount
		switch g.Severity {
		case group.SevCritical:
			critical++
		case group.SevHigh:
			high++
		case group.SevMedium:
			medium++
		case group.SevLow:
			low++
		}
	}
	fmt.Printf("Groups (24h): %d critical, %d high, %d medium, %d low\n", critical, high, medium, low)

	total, _ := db.CountGroups(ctx)
	fmt.Printf("DB groups:    %d total\n", total)
	fmt.Printf("DB path:      %s\n", cfg.DBPath())
}

// --- utilities ---

func openCLI(configPath string) (*config.Config, *store.DB) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	setupLogging("error") // quiet for CLI output

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return cfg, db
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// parseDuration extends time.ParseDuration with support for "d" (days)
// suffix.
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		s = strings.TrimSuffix(s, "d")
		var days int
		if _, err := fmt.Sscanf(s, "%d", &days); err != nil {
			return 0, fmt.Errorf("invalid days format: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", h, m)
	}
	days := int(d.Hours()) / 24
	h := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, h)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
