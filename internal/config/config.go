// Package config handles TOML configuration loading with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/setevik/errtrack/internal/group"
)

// Config is the top-level configuration for errtrack. It is loaded once at
// startup and treated as immutable afterwards; components receive it (or a
// section of it) at construction time.
type Config struct {
	Application ApplicationConfig `toml:"application"`
	DB          DBConfig          `toml:"db"`
	Capture     CaptureConfig     `toml:"capture"`
	Baseline    BaselineConfig    `toml:"baseline"`
	Notify      NotifyConfig      `toml:"notify"`
	Spool       SpoolConfig       `toml:"spool"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Log         LogConfig         `toml:"log"`
}

// ApplicationConfig identifies the default tenant for reports that do not
// carry their own application id.
type ApplicationConfig struct {
	ID string `toml:"id"`
}

// DBConfig controls the sqlite store.
type DBConfig struct {
	Path      string   `toml:"path"`
	Retention Duration `toml:"retention"`
}

// CaptureConfig controls the ingestion pipeline.
type CaptureConfig struct {
	// IgnoredTypes lists exception class names to drop. An entry wrapped in
	// slashes ("/.../") is treated as a regular expression.
	IgnoredTypes []string `toml:"ignored_types"`
	// SamplingRate in [0,1]: probability that a non-critical occurrence is
	// kept. Critical errors always bypass sampling.
	SamplingRate float64 `toml:"sampling_rate"`
	// SeverityOverrides maps exact error type names to severities, taking
	// precedence over the built-in classification tables.
	SeverityOverrides map[string]string `toml:"severity_overrides"`
	// ReopenWindow bounds both dedup matching and reopening of resolved
	// groups; older groups spawn a fresh one instead.
	ReopenWindow Duration `toml:"reopen_window"`
	// MaxBacktraceLines truncates stored backtraces.
	MaxBacktraceLines int `toml:"max_backtrace_lines"`
	// SensitiveParamKeys are matched against request param keys for
	// redaction. Empty means the built-in default list.
	SensitiveParamKeys []string `toml:"sensitive_param_keys"`
	// AppRoots mark backtrace paths as application code.
	AppRoots []string `toml:"app_roots"`
	// StepBudget bounds each pipeline step, including the DB round-trip.
	StepBudget Duration `toml:"step_budget"`
	// QueueSize bounds the async capture queue; 0 disables async capture.
	QueueSize int `toml:"queue_size"`
}

// BaselineConfig controls anomaly baselines.
type BaselineConfig struct {
	// Threshold is the std-dev multiple above the mean that counts as
	// anomalous.
	Threshold float64 `toml:"threshold"`
	// Window is the trailing sample window for recomputation.
	Window Duration `toml:"window"`
	// MinPeriods and MinOccurrences gate statistical meaningfulness.
	MinPeriods     int `toml:"min_periods"`
	MinOccurrences int `toml:"min_occurrences"`
	// RecomputeSchedule is a cron expression for periodic recomputation.
	RecomputeSchedule string `toml:"recompute_schedule"`
}

// NotifyConfig controls alert gating and the webhook transport.
type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
	// MinSeverity is the severity floor below which no alert fires.
	MinSeverity string `toml:"min_severity"`
	// Cooldown suppresses repeat alerts per fingerprint.
	Cooldown Duration `toml:"cooldown"`
	// Milestones fire a one-time alert when occurrence_count crosses each
	// value.
	Milestones []int64 `toml:"milestones"`
	// MaxBacktraceLines bounds backtrace lines included in payloads.
	MaxBacktraceLines int `toml:"max_backtrace_lines"`
}

// SpoolConfig controls the NDJSON report source the daemon tails.
type SpoolConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig controls the optional prometheus listener.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration wraps time.Duration for TOML string parsing (e.g. "5m", "24h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "default"
	}
	return &Config{
		Application: ApplicationConfig{ID: hostname},
		DB: DBConfig{
			Retention: Duration{90 * 24 * time.Hour},
		},
		Capture: CaptureConfig{
			SamplingRate:      1.0,
			ReopenWindow:      Duration{24 * time.Hour},
			MaxBacktraceLines: 50,
			StepBudget:        Duration{2 * time.Second},
			QueueSize:         256,
		},
		Baseline: BaselineConfig{
			Threshold:         3.0,
			Window:            Duration{28 * 24 * time.Hour},
			MinPeriods:        7,
			MinOccurrences:    10,
			RecomputeSchedule: "17 * * * *",
		},
		Notify: NotifyConfig{
			MinSeverity:       string(group.SevMedium),
			Cooldown:          Duration{30 * time.Minute},
			Milestones:        []int64{10, 50, 100, 1000},
			MaxBacktraceLines: 10,
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "errtrack", "config.toml")
}

// Load reads configuration from the given path, falling back to defaults
// for any unset fields. If the file does not exist, returns defaults.
// The returned config has already passed Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks settings that must fail at startup rather than during
// capture. The capture path itself never validates.
func (c *Config) Validate() error {
	if c.Capture.SamplingRate < 0 || c.Capture.SamplingRate > 1 {
		return fmt.Errorf("capture.sampling_rate %v out of range [0,1]", c.Capture.SamplingRate)
	}
	if c.Capture.ReopenWindow.Duration <= 0 {
		return fmt.Errorf("capture.reopen_window must be positive")
	}
	if c.Capture.MaxBacktraceLines < 0 {
		return fmt.Errorf("capture.max_backtrace_lines must not be negative")
	}
	if c.Baseline.Threshold <= 0 {
		return fmt.Errorf("baseline.threshold must be positive")
	}
	if sev := c.Notify.MinSeverity; sev != "" && !group.Severity(sev).Valid() {
		return fmt.Errorf("notify.min_severity %q is not a severity", sev)
	}
	for name, sev := range c.Capture.SeverityOverrides {
		if !group.Severity(sev).Valid() {
			return fmt.Errorf("capture.severity_overrides[%q] = %q is not a severity", name, sev)
		}
	}
	return nil
}

// TypedSeverityOverrides converts the configured override map to typed
// severities.
func (c *Config) TypedSeverityOverrides() map[string]group.Severity {
	if len(c.Capture.SeverityOverrides) == 0 {
		return nil
	}
	out := make(map[string]group.Severity, len(c.Capture.SeverityOverrides))
	for name, sev := range c.Capture.SeverityOverrides {
		out[name] = group.Severity(sev)
	}
	return out
}

// DBPath returns the configured database path, or the default under the
// user data directory.
func (c *Config) DBPath() string {
	if c.DB.Path != "" {
		return c.DB.Path
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "errtrack", "errtrack.db")
}
