package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/setevik/errtrack/internal/group"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Capture.SamplingRate != 1.0 {
		t.Errorf("sampling_rate = %v, want 1.0", cfg.Capture.SamplingRate)
	}
	if cfg.Capture.ReopenWindow.Duration != 24*time.Hour {
		t.Errorf("reopen_window = %v, want 24h", cfg.Capture.ReopenWindow.Duration)
	}
	if cfg.Capture.MaxBacktraceLines != 50 {
		t.Errorf("max_backtrace_lines = %d, want 50", cfg.Capture.MaxBacktraceLines)
	}
	if cfg.Baseline.Threshold != 3.0 {
		t.Errorf("baseline threshold = %v, want 3.0", cfg.Baseline.Threshold)
	}
	if cfg.Notify.MinSeverity != "medium" {
		t.Errorf("min_severity = %q, want medium", cfg.Notify.MinSeverity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.SamplingRate != 1.0 {
		t.Error("missing file should yield defaults")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[application]
id = "shop-backend"

[capture]
sampling_rate = 0.25
reopen_window = "48h"
ignored_types = ["ActionController::RoutingError", "/^Ignored::/"]

[capture.severity_overrides]
PaymentError = "critical"

[baseline]
threshold = 2.5
recompute_schedule = "0 * * * *"

[notify]
webhook_url = "https://hooks.example.com/errtrack"
min_severity = "high"
cooldown = "1h"
milestones = [100, 1000]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Application.ID != "shop-backend" {
		t.Errorf("application.id = %q", cfg.Application.ID)
	}
	if cfg.Capture.SamplingRate != 0.25 {
		t.Errorf("sampling_rate = %v", cfg.Capture.SamplingRate)
	}
	if cfg.Capture.ReopenWindow.Duration != 48*time.Hour {
		t.Errorf("reopen_window = %v", cfg.Capture.ReopenWindow.Duration)
	}
	if len(cfg.Capture.IgnoredTypes) != 2 {
		t.Errorf("ignored_types = %v", cfg.Capture.IgnoredTypes)
	}
	if cfg.Baseline.Threshold != 2.5 {
		t.Errorf("threshold = %v", cfg.Baseline.Threshold)
	}
	if cfg.Notify.Cooldown.Duration != time.Hour {
		t.Errorf("cooldown = %v", cfg.Notify.Cooldown.Duration)
	}
	if len(cfg.Notify.Milestones) != 2 || cfg.Notify.Milestones[0] != 100 {
		t.Errorf("milestones = %v", cfg.Notify.Milestones)
	}

	// Untouched sections keep their defaults.
	if cfg.Capture.MaxBacktraceLines != 50 {
		t.Errorf("max_backtrace_lines = %d, want default 50", cfg.Capture.MaxBacktraceLines)
	}

	typed := cfg.TypedSeverityOverrides()
	if typed["PaymentError"] != group.SevCritical {
		t.Errorf("severity override = %q", typed["PaymentError"])
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"sampling rate out of range", "[capture]\nsampling_rate = 1.5\n"},
		{"negative backtrace lines", "[capture]\nmax_backtrace_lines = -1\n"},
		{"bad min severity", "[notify]\nmin_severity = \"urgent\"\n"},
		{"bad severity override", "[capture.severity_overrides]\nFoo = \"extreme\"\n"},
		{"bad duration", "[capture]\nreopen_window = \"yesterday\"\n"},
		{"malformed toml", "[capture\n"},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load should fail", tt.name)
		}
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90m")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration != 90*time.Minute {
		t.Errorf("parsed %v", d.Duration)
	}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "1h30m0s" {
		t.Errorf("marshalled %q", text)
	}
}

func TestDBPath(t *testing.T) {
	cfg := Default()
	cfg.DB.Path = "/tmp/custom.db"
	if got := cfg.DBPath(); got != "/tmp/custom.db" {
		t.Errorf("explicit path = %q", got)
	}

	cfg.DB.Path = ""
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := cfg.DBPath(); got != filepath.Join("/data", "errtrack", "errtrack.db") {
		t.Errorf("default path = %q", got)
	}
}
