// Package store provides SQLite-backed persistence for error groups,
// per-occurrence rows, baseline statistics, and cascade relationships.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps an SQLite connection for error-tracking storage.
type DB struct {
	db *sql.DB
}

// Open opens or creates an SQLite database at the given path. Transactions
// take the write lock immediately so concurrent captures serialize on the
// busy timeout instead of failing mid-transaction.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			id               TEXT PRIMARY KEY,
			fingerprint      TEXT NOT NULL,
			application_id   TEXT NOT NULL,
			error_type       TEXT NOT NULL,
			message          TEXT,
			backtrace        TEXT,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			first_seen_at    TEXT NOT NULL,
			last_seen_at     TEXT NOT NULL,
			severity         TEXT NOT NULL,
			priority_score   INTEGER NOT NULL DEFAULT 0,
			status           TEXT NOT NULL DEFAULT 'new',
			resolved_at      TEXT,
			resolved_by      TEXT,
			assigned_to      TEXT,
			snoozed_until    TEXT,
			reopened_at      TEXT,
			platform         TEXT,
			user_id          TEXT,
			request_url      TEXT,
			controller       TEXT,
			action           TEXT,
			hostname         TEXT
		)`,
		// Exactly one live row per (application, fingerprint).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_live
			ON groups(application_id, fingerprint)
			WHERE status NOT IN ('resolved', 'wont_fix')`,
		`CREATE INDEX IF NOT EXISTS idx_groups_fp ON groups(application_id, fingerprint, last_seen_at)`,
		`CREATE INDEX IF NOT EXISTS idx_groups_query ON groups(application_id, status, severity, last_seen_at)`,
		`CREATE TABLE IF NOT EXISTS occurrences (
			id             TEXT PRIMARY KEY,
			group_id       TEXT NOT NULL,
			application_id TEXT NOT NULL,
			fingerprint    TEXT NOT NULL,
			error_type     TEXT NOT NULL,
			platform       TEXT,
			user_id        TEXT,
			occurred_at    TEXT NOT NULL,
			params_json    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_group ON occurrences(group_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_series ON occurrences(error_type, platform, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS baseline_stats (
			error_type    TEXT NOT NULL,
			platform      TEXT NOT NULL,
			baseline_type TEXT NOT NULL,
			period_start  TEXT NOT NULL,
			period_end    TEXT NOT NULL,
			mean          REAL NOT NULL,
			std_dev       REAL NOT NULL,
			percentile_95 REAL NOT NULL,
			percentile_99 REAL NOT NULL,
			sample_size   INTEGER NOT NULL,
			count         INTEGER NOT NULL,
			updated_at    TEXT NOT NULL,
			PRIMARY KEY (error_type, platform, baseline_type, period_start)
		)`,
		`CREATE TABLE IF NOT EXISTS cascade_relationships (
			parent_group_id     TEXT NOT NULL,
			child_group_id      TEXT NOT NULL,
			probability         REAL NOT NULL,
			co_occurrence_count INTEGER NOT NULL,
			avg_time_delta_ms   INTEGER NOT NULL,
			updated_at          TEXT NOT NULL,
			PRIMARY KEY (parent_group_id, child_group_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	slog.Debug("database schema up to date")
	return nil
}

// timeLayout is RFC 3339 with fixed-width fractional seconds, so stored
// timestamps sort the same as strings and as instants. RFC3339Nano drops
// trailing zeros, which breaks string-order range comparisons at sub-second
// boundaries ("...:00.5Z" < "...:00Z").
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// fmtTime encodes a timestamp for storage; zero times encode as NULL.
func fmtTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

// parseTime decodes a nullable stored timestamp.
func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}
