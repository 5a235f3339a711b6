package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/setevik/errtrack/internal/group"
	"github.com/setevik/errtrack/internal/priority"
)

// Occurrence is one processed occurrence ready to be recorded against a
// group.
type Occurrence struct {
	ApplicationID string
	Fingerprint   string
	ErrorType     string
	Message       string
	Backtrace     string
	Severity      group.Severity
	OccurredAt    time.Time

	Platform   string
	UserID     string
	RequestURL string
	Controller string
	Action     string
	Hostname   string
	ParamsJSON string
}

// RecordOccurrence finds or creates the group for an occurrence and applies
// the dedup state machine inside a single immediate transaction:
//
//   - live group seen within the reopen window: atomic count increment,
//     context snapshot refresh, priority recompute;
//   - live group older than the window: auto-expire it and start a fresh
//     group (ancient errors are not resurrected);
//   - resolved/wont_fix group within the window: reopen it;
//   - no match: insert a new group with count 1.
//
// On lock contention or transaction failure it falls back to a best-effort
// non-transactional write instead of blocking or failing the caller.
func (d *DB) RecordOccurrence(ctx context.Context, occ Occurrence, window time.Duration) (*group.Group, error) {
	g, err := d.recordTx(ctx, occ, window)
	if err == nil {
		return g, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, err
	}

	slog.Warn("dedup transaction failed, falling back", "fingerprint", occ.Fingerprint, "error", err)
	return d.recordFallback(ctx, occ)
}

func (d *DB) recordTx(ctx context.Context, occ Occurrence, window time.Duration) (*group.Group, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning dedup transaction: %w", err)
	}
	defer tx.Rollback()

	g, err := d.applyOccurrence(ctx, tx, occ, window)
	if err != nil {
		return nil, err
	}

	if err := insertOccurrenceRow(ctx, tx, g.ID, occ); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dedup transaction: %w", err)
	}
	return g, nil
}

func (d *DB) applyOccurrence(ctx context.Context, tx *sql.Tx, occ Occurrence, window time.Duration) (*group.Group, error) {
	live, err := selectGroup(ctx, tx, occ.ApplicationID, occ.Fingerprint, true)
	if err != nil {
		return nil, err
	}

	cutoff := occ.OccurredAt.Add(-window)

	if live != nil {
		if live.LastSeenAt.After(cutoff) {
			return incrementGroup(ctx, tx, live, occ)
		}
		// Stale live group: expire it so the unique live index admits a
		// fresh row.
		if err := expireGroup(ctx, tx, live.ID, occ.OccurredAt); err != nil {
			return nil, err
		}
		return insertGroup(ctx, tx, occ)
	}

	terminal, err := selectGroup(ctx, tx, occ.ApplicationID, occ.Fingerprint, false)
	if err != nil {
		return nil, err
	}
	if terminal != nil && terminal.LastSeenAt.After(cutoff) {
		reopened, err := reopenGroup(ctx, tx, terminal, occ.OccurredAt)
		if err != nil {
			return nil, err
		}
		return incrementGroup(ctx, tx, reopened, occ)
	}

	return insertGroup(ctx, tx, occ)
}

// recordFallback is the lock-contention path: a blind atomic increment, then
// a plain insert if no live row took the update. Never blocks on the
// transaction lock.
func (d *DB) recordFallback(ctx context.Context, occ Occurrence) (*group.Group, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE groups SET
			occurrence_count = occurrence_count + 1,
			last_seen_at = ?
		WHERE application_id = ? AND fingerprint = ?
			AND status NOT IN ('resolved', 'wont_fix')`,
		fmtTime(occ.OccurredAt), occ.ApplicationID, occ.Fingerprint,
	)
	if err == nil {
		if n, _ := res.RowsAffected(); n > 0 {
			return d.GetLiveGroup(ctx, occ.ApplicationID, occ.Fingerprint)
		}
	}

	return d.fallbackInsert(ctx, occ)
}

// fallbackInsert inserts a fresh group row. When a concurrent writer claims
// the live slot first, the insert is ignored and the row that actually
// persisted is returned instead.
func (d *DB) fallbackInsert(ctx context.Context, occ Occurrence) (*group.Group, error) {
	g := newGroupFromOccurrence(occ)
	res, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO groups
			(id, fingerprint, application_id, error_type, message, backtrace,
			 occurrence_count, first_seen_at, last_seen_at, severity,
			 priority_score, status, platform, user_id, request_url,
			 controller, action, hostname)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, 'new', ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Fingerprint, g.ApplicationID, g.ErrorType, g.Message, g.Backtrace,
		fmtTime(g.FirstSeenAt), fmtTime(g.LastSeenAt), string(g.Severity),
		g.PriorityScore, g.Platform, g.UserID, g.RequestURL,
		g.Controller, g.Action, g.Hostname,
	)
	if err != nil {
		return nil, fmt.Errorf("fallback insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return d.GetLiveGroup(ctx, occ.ApplicationID, occ.Fingerprint)
	}
	return g, nil
}

func newGroupFromOccurrence(occ Occurrence) *group.Group {
	g := group.New(occ.ApplicationID, occ.Fingerprint, occ.ErrorType, occ.Message, occ.Severity, occ.OccurredAt)
	g.Backtrace = occ.Backtrace
	g.Platform = occ.Platform
	g.UserID = occ.UserID
	g.RequestURL = occ.RequestURL
	g.Controller = occ.Controller
	g.Action = occ.Action
	g.Hostname = occ.Hostname
	g.PriorityScore = priority.Score(occ.Severity, 1, occ.OccurredAt, userCount(occ.UserID), occ.OccurredAt)
	return g
}

func userCount(userID string) int {
	if userID == "" {
		return 0
	}
	return 1
}

func insertGroup(ctx context.Context, tx *sql.Tx, occ Occurrence) (*group.Group, error) {
	g := newGroupFromOccurrence(occ)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO groups
			(id, fingerprint, application_id, error_type, message, backtrace,
			 occurrence_count, first_seen_at, last_seen_at, severity,
			 priority_score, status, platform, user_id, request_url,
			 controller, action, hostname)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, 'new', ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Fingerprint, g.ApplicationID, g.ErrorType, g.Message, g.Backtrace,
		fmtTime(g.FirstSeenAt), fmtTime(g.LastSeenAt), string(g.Severity),
		g.PriorityScore, g.Platform, g.UserID, g.RequestURL,
		g.Controller, g.Action, g.Hostname,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting group: %w", err)
	}
	return g, nil
}

// incrementGroup applies the "found within window" branch: the count bump is
// done in SQL so concurrent captures never lose an update, and the context
// snapshot takes most-recent-occurrence-wins semantics.
func incrementGroup(ctx context.Context, tx *sql.Tx, g *group.Group, occ Occurrence) (*group.Group, error) {
	users, err := distinctUsersTx(ctx, tx, g.ID, occ.UserID)
	if err != nil {
		return nil, err
	}

	g.OccurrenceCount++
	g.LastSeenAt = occ.OccurredAt
	g.Platform = occ.Platform
	g.UserID = occ.UserID
	g.RequestURL = occ.RequestURL
	g.Controller = occ.Controller
	g.Action = occ.Action
	g.Hostname = occ.Hostname
	g.PriorityScore = priority.Score(g.Severity, g.OccurrenceCount, g.LastSeenAt, users, occ.OccurredAt)

	_, err = tx.ExecContext(ctx, `
		UPDATE groups SET
			occurrence_count = occurrence_count + 1,
			last_seen_at = ?,
			priority_score = ?,
			platform = ?, user_id = ?, request_url = ?,
			controller = ?, action = ?, hostname = ?
		WHERE id = ?`,
		fmtTime(occ.OccurredAt), g.PriorityScore,
		occ.Platform, occ.UserID, occ.RequestURL,
		occ.Controller, occ.Action, occ.Hostname,
		g.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("incrementing group: %w", err)
	}
	return g, nil
}

func expireGroup(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE groups SET status = 'resolved', resolved_at = ?, resolved_by = 'system:stale'
		WHERE id = ?`,
		fmtTime(now), id,
	)
	if err != nil {
		return fmt.Errorf("expiring stale group: %w", err)
	}
	return nil
}

func reopenGroup(ctx context.Context, tx *sql.Tx, g *group.Group, now time.Time) (*group.Group, error) {
	_, err := tx.ExecContext(ctx, `
		UPDATE groups SET
			status = 'new',
			resolved_at = NULL,
			resolved_by = NULL,
			reopened_at = ?
		WHERE id = ?`,
		fmtTime(now), g.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("reopening group: %w", err)
	}

	g.Status = group.StatusNew
	g.ResolvedAt = time.Time{}
	g.ResolvedBy = ""
	g.ReopenedAt = now
	return g, nil
}

func insertOccurrenceRow(ctx context.Context, tx *sql.Tx, groupID string, occ Occurrence) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO occurrences
			(id, group_id, application_id, fingerprint, error_type, platform,
			 user_id, occurred_at, params_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), groupID, occ.ApplicationID, occ.Fingerprint,
		occ.ErrorType, occ.Platform, occ.UserID, fmtTime(occ.OccurredAt),
		occ.ParamsJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting occurrence: %w", err)
	}
	return nil
}

func distinctUsersTx(ctx context.Context, tx *sql.Tx, groupID, pendingUserID string) (int, error) {
	// The pending user is excluded from the count and added back exactly
	// once: their occurrence is not inserted yet, but they may already
	// appear in earlier rows.
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM occurrences
		WHERE group_id = ? AND user_id != '' AND user_id != ?`,
		groupID, pendingUserID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting affected users: %w", err)
	}
	if pendingUserID != "" {
		n++
	}
	return n, nil
}

// DistinctAffectedUsers counts distinct users with occurrences of a group.
func (d *DB) DistinctAffectedUsers(ctx context.Context, groupID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM occurrences
		WHERE group_id = ? AND user_id != ''`,
		groupID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting affected users: %w", err)
	}
	return n, nil
}

func selectGroup(ctx context.Context, tx *sql.Tx, appID, fingerprint string, live bool) (*group.Group, error) {
	op := "IN"
	if live {
		op = "NOT IN"
	}
	row := tx.QueryRowContext(ctx, groupColumns+`
		FROM groups
		WHERE application_id = ? AND fingerprint = ?
			AND status `+op+` ('resolved', 'wont_fix')
		ORDER BY last_seen_at DESC LIMIT 1`,
		appID, fingerprint,
	)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

// GetLiveGroup returns the live group for (application, fingerprint), or nil.
func (d *DB) GetLiveGroup(ctx context.Context, appID, fingerprint string) (*group.Group, error) {
	row := d.db.QueryRowContext(ctx, groupColumns+`
		FROM groups
		WHERE application_id = ? AND fingerprint = ?
			AND status NOT IN ('resolved', 'wont_fix')
		LIMIT 1`,
		appID, fingerprint,
	)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

// GetGroup returns a group by id, or nil if absent.
func (d *DB) GetGroup(ctx context.Context, id string) (*group.Group, error) {
	row := d.db.QueryRowContext(ctx, groupColumns+` FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

// Workflow writes share the capture path's transaction discipline so a
// resolve cannot race a concurrent reopen into two live rows.

// Resolve marks a group resolved.
func (d *DB) Resolve(ctx context.Context, id, resolvedBy string, now time.Time) error {
	return d.transition(ctx, id, group.StatusResolved, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE groups SET status = 'resolved', resolved_at = ?, resolved_by = ?
			WHERE id = ?`,
			fmtTime(now), resolvedBy, id)
		return err
	})
}

// MarkWontFix marks a group wont_fix.
func (d *DB) MarkWontFix(ctx context.Context, id, by string, now time.Time) error {
	return d.transition(ctx, id, group.StatusWontFix, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE groups SET status = 'wont_fix', resolved_at = ?, resolved_by = ?
			WHERE id = ?`,
			fmtTime(now), by, id)
		return err
	})
}

// Assign sets the assignee and moves a new group to investigating.
func (d *DB) Assign(ctx context.Context, id, assignee string) error {
	return d.transition(ctx, id, group.StatusInvestigating, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE groups SET assigned_to = ?, status = 'investigating'
			WHERE id = ?`,
			assignee, id)
		return err
	})
}

// SetStatus applies an explicit workflow transition.
func (d *DB) SetStatus(ctx context.Context, id string, next group.Status) error {
	return d.transition(ctx, id, next, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE groups SET status = ? WHERE id = ?`,
			string(next), id)
		return err
	})
}

// Snooze suppresses a group until the given time.
func (d *DB) Snooze(ctx context.Context, id string, until time.Time) error {
	_, err := d.db.ExecContext(ctx, `UPDATE groups SET snoozed_until = ? WHERE id = ?`,
		fmtTime(until), id)
	if err != nil {
		return fmt.Errorf("snoozing group: %w", err)
	}
	return nil
}

func (d *DB) transition(ctx context.Context, id string, next group.Status, apply func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning workflow transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM groups WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("group %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("reading group status: %w", err)
	}
	if !group.Status(current).CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for group %s", current, next, id)
	}

	if err := apply(tx); err != nil {
		return fmt.Errorf("applying transition: %w", err)
	}
	return tx.Commit()
}

// QueryFilter controls which groups are returned by Query.
type QueryFilter struct {
	ApplicationID string
	Status        group.Status
	Severity      group.Severity
	Since         time.Time
	Until         time.Time
	Search        string // free text over error_type and message
	OrderBy       string // "last_seen" (default), "priority", "count"
	Limit         int
}

// Query returns groups matching the filter.
func (d *DB) Query(ctx context.Context, f QueryFilter) ([]*group.Group, error) {
	query := groupColumns + ` FROM groups WHERE 1=1`
	var args []any

	if f.ApplicationID != "" {
		query += " AND application_id = ?"
		args = append(args, f.ApplicationID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(f.Severity))
	}
	if !f.Since.IsZero() {
		query += " AND last_seen_at >= ?"
		args = append(args, fmtTime(f.Since))
	}
	if !f.Until.IsZero() {
		query += " AND last_seen_at <= ?"
		args = append(args, fmtTime(f.Until))
	}
	if f.Search != "" {
		query += " AND (error_type LIKE ? OR message LIKE ?)"
		like := "%" + strings.ReplaceAll(f.Search, "%", "") + "%"
		args = append(args, like, like)
	}

	switch f.OrderBy {
	case "priority":
		query += " ORDER BY priority_score DESC, last_seen_at DESC"
	case "count":
		query += " ORDER BY occurrence_count DESC, last_seen_at DESC"
	default:
		query += " ORDER BY last_seen_at DESC"
	}

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []*group.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CountGroups returns the total number of group rows.
func (d *DB) CountGroups(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups`).Scan(&n)
	return n, err
}

// Purge deletes occurrences older than the retention duration. Group rollup
// rows are kept; only raw occurrence detail ages out.
func (d *DB) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := fmtTime(time.Now().Add(-retention))
	result, err := d.db.ExecContext(ctx, `DELETE FROM occurrences WHERE occurred_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging old occurrences: %w", err)
	}
	return result.RowsAffected()
}

const groupColumns = `SELECT id, fingerprint, application_id, error_type, message, backtrace,
	occurrence_count, first_seen_at, last_seen_at, severity, priority_score,
	status, resolved_at, resolved_by, assigned_to, snoozed_until, reopened_at,
	platform, user_id, request_url, controller, action, hostname`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*group.Group, error) {
	var g group.Group
	var firstSeen, lastSeen string
	var message, backtrace sql.NullString
	var resolvedAt, snoozedUntil, reopenedAt sql.NullString
	var resolvedBy, assignedTo sql.NullString
	var platform, userID, requestURL, controller, action, hostname sql.NullString

	err := row.Scan(
		&g.ID, &g.Fingerprint, &g.ApplicationID, &g.ErrorType, &message, &backtrace,
		&g.OccurrenceCount, &firstSeen, &lastSeen, &g.Severity, &g.PriorityScore,
		&g.Status, &resolvedAt, &resolvedBy, &assignedTo, &snoozedUntil, &reopenedAt,
		&platform, &userID, &requestURL, &controller, &action, &hostname,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning group row: %w", err)
	}

	g.Message = message.String
	g.Backtrace = backtrace.String
	g.FirstSeenAt, _ = time.Parse(time.RFC3339Nano, firstSeen)
	g.LastSeenAt, _ = time.Parse(time.RFC3339Nano, lastSeen)
	g.ResolvedAt = parseTime(resolvedAt)
	g.ResolvedBy = resolvedBy.String
	g.AssignedTo = assignedTo.String
	g.SnoozedUntil = parseTime(snoozedUntil)
	g.ReopenedAt = parseTime(reopenedAt)
	g.Platform = platform.String
	g.UserID = userID.String
	g.RequestURL = requestURL.String
	g.Controller = controller.String
	g.Action = action.String
	g.Hostname = hostname.String

	return &g, nil
}
