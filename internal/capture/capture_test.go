package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/setevik/errtrack/internal/config"
	"github.com/setevik/errtrack/internal/group"
	"github.com/setevik/errtrack/internal/report"
	"github.com/setevik/errtrack/internal/store"
)

func testSetup(t *testing.T, mutate func(*config.Config)) (*Capturer, *store.DB) {
	t.Helper()
	cfg := config.Default()
	cfg.Application.ID = "app-test"
	if mutate != nil {
		mutate(cfg)
	}
	db, err := store.Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(cfg, db, nil), db
}

func testReport(msg string) report.Report {
	return report.Report{
		Type:    "NoMethodError",
		Message: msg,
		Backtrace: []string{
			"app/models/user.rb:42:in `save'",
			"app/controllers/users_controller.rb:10:in `create'",
		},
		OccurredAt: time.Now(),
		Context: report.Context{
			Platform: "web",
			UserID:   "u-1",
		},
	}
}

func TestCaptureDedupsIntoOneGroup(t *testing.T) {
	c, db := testSetup(t, nil)
	ctx := context.Background()

	var last *group.Group
	for i := 0; i < 3; i++ {
		last = c.Capture(ctx, testReport("undefined method `name' for nil"))
		if last == nil {
			t.Fatalf("capture %d returned nil", i)
		}
	}

	if last.OccurrenceCount != 3 {
		t.Errorf("count = %d, want 3", last.OccurrenceCount)
	}
	if last.Severity != group.SevHigh {
		t.Errorf("severity = %q, want high", last.Severity)
	}
	if last.Status != group.StatusNew {
		t.Errorf("status = %q, want new", last.Status)
	}

	total, err := db.CountGroups(ctx)
	if err != nil {
		t.Fatalf("CountGroups: %v", err)
	}
	if total != 1 {
		t.Errorf("group rows = %d, want 1", total)
	}
}

func TestCaptureReopensResolvedGroup(t *testing.T) {
	c, db := testSetup(t, nil)
	ctx := context.Background()

	g := c.Capture(ctx, testReport("boom"))
	if g == nil {
		t.Fatal("capture returned nil")
	}
	if err := db.Resolve(ctx, g.ID, "alice", time.Now()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	again := c.Capture(ctx, testReport("boom"))
	if again == nil {
		t.Fatal("recapture returned nil")
	}
	if again.ID != g.ID {
		t.Errorf("recapture should reopen the same group: %s vs %s", again.ID, g.ID)
	}
	if again.Status != group.StatusNew {
		t.Errorf("reopened status = %q, want new", again.Status)
	}
}

func TestCaptureMessageVariantsGroupTogether(t *testing.T) {
	c, db := testSetup(t, nil)
	ctx := context.Background()

	c.Capture(ctx, testReport("Couldn't find User with id=123"))
	c.Capture(ctx, testReport("Couldn't find User with id=456"))

	total, err := db.CountGroups(ctx)
	if err != nil {
		t.Fatalf("CountGroups: %v", err)
	}
	if total != 1 {
		t.Errorf("numeric message variants should share a group, got %d rows", total)
	}
}

func TestSamplingDropsButCriticalBypasses(t *testing.T) {
	c, db := testSetup(t, func(cfg *config.Config) {
		cfg.Capture.SamplingRate = 0
	})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		r := testReport("low value noise")
		r.Type = "SomeRandomError" // classifies low
		if g := c.Capture(ctx, r); g != nil {
			t.Fatal("sampling_rate=0 should drop every non-critical occurrence")
		}
	}

	for i := 0; i < 100; i++ {
		r := testReport("out of memory")
		r.Type = "NoMemoryError" // classifies critical
		if g := c.Capture(ctx, r); g == nil {
			t.Fatal("critical occurrences must bypass sampling")
		}
	}

	total, err := db.CountGroups(ctx)
	if err != nil {
		t.Fatalf("CountGroups: %v", err)
	}
	if total != 1 {
		t.Errorf("group rows = %d, want 1 (critical only)", total)
	}
}

func TestIgnoreRules(t *testing.T) {
	c, _ := testSetup(t, func(cfg *config.Config) {
		cfg.Capture.IgnoredTypes = []string{
			"ActionController::RoutingError",
			"/^Ignored::/",
		}
	})
	ctx := context.Background()

	r := testReport("no route matches")
	r.Type = "ActionController::RoutingError"
	if g := c.Capture(ctx, r); g != nil {
		t.Error("exact ignore rule should drop the occurrence")
	}

	r = testReport("irrelevant")
	r.Type = "Ignored::Anything"
	if g := c.Capture(ctx, r); g != nil {
		t.Error("regex ignore rule should drop the occurrence")
	}

	r = testReport("kept")
	r.Type = "NotIgnoredError"
	if g := c.Capture(ctx, r); g == nil {
		t.Error("non-matching types must pass through")
	}
}

func TestParamRedaction(t *testing.T) {
	c, db := testSetup(t, nil)
	ctx := context.Background()

	r := testReport("boom")
	r.Context.Params = map[string]string{
		"password": "hunter2",
		"username": "alice",
	}
	g := c.Capture(ctx, r)
	if g == nil {
		t.Fatal("capture returned nil")
	}

	times, err := db.OccurrenceTimes(ctx, g.ID, time.Now().Add(-time.Hour))
	if err != nil || len(times) != 1 {
		t.Fatalf("occurrence row missing: %v", err)
	}

	// Verify the stored params via the same encoding the pipeline uses.
	occ := c.buildOccurrence(r, group.SevHigh)
	var stored map[string]string
	if err := json.Unmarshal([]byte(occ.ParamsJSON), &stored); err != nil {
		t.Fatalf("params_json: %v", err)
	}
	if stored["password"] != report.RedactionMarker {
		t.Errorf("password = %q, want redacted", stored["password"])
	}
	if stored["username"] != "alice" {
		t.Errorf("username = %q, want verbatim", stored["username"])
	}
}

func TestBacktraceTruncatedInStorage(t *testing.T) {
	c, _ := testSetup(t, func(cfg *config.Config) {
		cfg.Capture.MaxBacktraceLines = 2
	})

	r := testReport("deep")
	r.Backtrace = []string{
		"app/a.rb:1:in `a'",
		"app/b.rb:2:in `b'",
		"app/c.rb:3:in `c'",
		"app/d.rb:4:in `d'",
	}
	occ := c.buildOccurrence(r, group.SevHigh)
	lines := strings.Split(occ.Backtrace, "\n")
	if len(lines) != 3 {
		t.Fatalf("stored backtrace has %d lines, want 2 + footer", len(lines))
	}
	if !strings.Contains(lines[2], "2 more lines truncated") {
		t.Errorf("footer = %q", lines[2])
	}
}

func TestCaptureNeverPanics(t *testing.T) {
	c, _ := testSetup(t, nil)
	ctx := context.Background()

	// A hostile report must not raise into the caller.
	hostile := report.Report{
		Type:    strings.Repeat("\x00", 1000),
		Message: strings.Repeat("x", 1<<16),
		Context: report.Context{Params: map[string]string{"": ""}},
	}
	if g := c.Capture(ctx, hostile); g == nil {
		// Suppression is acceptable, panicking is not.
		t.Log("hostile report suppressed")
	}
}

func TestCaptureFailsOpenOnClosedDB(t *testing.T) {
	c, db := testSetup(t, nil)
	db.Close()

	g := c.Capture(context.Background(), testReport("boom"))
	if g != nil {
		t.Error("capture against a closed store should fail open with nil")
	}
}

func TestWorkerProcessesQueue(t *testing.T) {
	c, db := testSetup(t, nil)
	w := NewWorker(c, 16)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	for i := 0; i < 5; i++ {
		if !w.Enqueue(testReport(fmt.Sprintf("boom %d", i))) {
			t.Fatalf("enqueue %d dropped", i)
		}
	}
	cancel()
	w.Stop()

	total, err := db.CountGroups(context.Background())
	if err != nil {
		t.Fatalf("CountGroups: %v", err)
	}
	if total == 0 {
		t.Error("worker should have processed queued reports")
	}
}

func TestWorkerDeliversGroups(t *testing.T) {
	c, _ := testSetup(t, nil)
	w := NewWorker(c, 16)

	var got []*group.Group
	w.OnGroup(func(_ context.Context, g *group.Group) {
		got = append(got, g)
	})

	w.Start(context.Background())
	for i := 0; i < 3; i++ {
		if !w.Enqueue(testReport("boom")) {
			t.Fatalf("enqueue %d dropped", i)
		}
	}
	w.Stop()

	if len(got) != 3 {
		t.Fatalf("delivered %d groups, want 3", len(got))
	}
	if got[2].OccurrenceCount != 3 {
		t.Errorf("final delivered count = %d, want 3", got[2].OccurrenceCount)
	}
}

func TestWorkerDisabledDropsEverything(t *testing.T) {
	c, _ := testSetup(t, nil)
	w := NewWorker(c, 0)
	w.Start(context.Background())
	if w.Enqueue(testReport("boom")) {
		t.Error("disabled queue should drop")
	}
	w.Stop()
}
