// Package store manages the SQLite database holding reminders, persisted
// geofence membership, and the alarm event archive.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/geoalarm/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS reminders (
    id                TEXT    PRIMARY KEY,
    title             TEXT    NOT NULL,
    notes             TEXT    NOT NULL DEFAULT '',
    rule              TEXT    NOT NULL,
    enabled           INTEGER NOT NULL DEFAULT 1,
    last_triggered_at TEXT    NOT NULL DEFAULT '',
    snooze_count      INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT    NOT NULL,
    updated_at        TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reminders_enabled ON reminders (enabled);

CREATE TABLE IF NOT EXISTS geofence_membership (
    reminder_id TEXT    PRIMARY KEY,
    inside      INTEGER NOT NULL,
    updated_at  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS alarm_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    reminder_id  TEXT    NOT NULL,
    event        TEXT    NOT NULL,
    reason       TEXT    NOT NULL,
    snooze_count INTEGER NOT NULL DEFAULT 0,
    at           TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alarm_events_reminder ON alarm_events (reminder_id);
`

// AlarmEvent is one archived session lifecycle event.
type AlarmEvent struct {
	ID          int64
	SessionID   string
	ReminderID  string
	Event       string
	Reason      string
	SnoozeCount int
	At          time.Time
}

// Store is the SQLite-backed reminder repository.
//
// Failed trigger/snooze bookkeeping writes are queued in memory and replayed
// on the next successful database access, so an alarm the user already saw
// is never silently unrecorded because of a storage hiccup.
type Store struct {
	db *sql.DB

	pendMu  sync.Mutex
	pending []pendingWrite
}

// pendingWrite is a queued bookkeeping write awaiting retry.
type pendingWrite struct {
	reminderID string
	// trigger when set records a trigger; otherwise a snooze count update.
	trigger *time.Time
	count   int
}

// DefaultDBPath returns the default path for the database:
// ~/.local/share/geoalarm/geoalarm.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "geoalarm", "geoalarm.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Reminders ---------------------------------------------------------------

// Create validates and inserts a new reminder, assigning its ID and
// timestamps.
func (s *Store) Create(ctx context.Context, rem *model.Reminder) error {
	if rem.Title == "" {
		return fmt.Errorf("reminder title is required")
	}
	if err := rem.Rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	now := time.Now().UTC()
	rem.ID = uuid.NewString()
	rem.CreatedAt = now
	rem.UpdatedAt = now

	ruleJSON, err := encodeRule(rem.Rule)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO reminders
		    (id, title, notes, rule, enabled, last_triggered_at, snooze_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rem.ID, rem.Title, rem.Notes, ruleJSON, rem.Enabled,
		formatTimePtr(rem.LastTriggeredAt), rem.SnoozeCount,
		formatTime(rem.CreatedAt), formatTime(rem.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting reminder %q: %w", rem.Title, err)
	}
	s.flushPending(ctx)
	return nil
}

// Update rewrites a reminder's editable fields.
func (s *Store) Update(ctx context.Context, rem *model.Reminder) error {
	if err := rem.Rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	ruleJSON, err := encodeRule(rem.Rule)
	if err != nil {
		return err
	}

	rem.UpdatedAt = time.Now().UTC()
	const q = `
		UPDATE reminders
		SET title = ?, notes = ?, rule = ?, enabled = ?, updated_at = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q,
		rem.Title, rem.Notes, ruleJSON, rem.Enabled, formatTime(rem.UpdatedAt), rem.ID)
	if err != nil {
		return fmt.Errorf("updating reminder %s: %w", rem.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s not found", rem.ID)
	}
	s.flushPending(ctx)
	return nil
}

// Delete removes a reminder and its geofence membership.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting reminder %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM geofence_membership WHERE reminder_id = ?`, id); err != nil {
		return fmt.Errorf("deleting membership for %s: %w", id, err)
	}
	s.flushPending(ctx)
	return nil
}

// Get returns the reminder with the given ID, or (nil, nil) if no such
// reminder exists.
func (s *Store) Get(ctx context.Context, id string) (*model.Reminder, error) {
	row := s.db.QueryRowContext(ctx, selectReminder+` WHERE id = ?`, id)
	rem, err := scanReminder(row)
	if err == nil && rem != nil {
		s.flushPending(ctx)
	}
	return rem, err
}

// List returns all reminders ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*model.Reminder, error) {
	return s.list(ctx, selectReminder+` ORDER BY created_at`)
}

// ListEnabled returns all enabled reminders, the set one evaluation pass
// covers.
func (s *Store) ListEnabled(ctx context.Context) ([]*model.Reminder, error) {
	return s.list(ctx, selectReminder+` WHERE enabled = 1 ORDER BY created_at`)
}

func (s *Store) list(ctx context.Context, q string) ([]*model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rems []*model.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		rems = append(rems, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.flushPending(ctx)
	return rems, nil
}

// SetEnabled flips a reminder's enabled flag.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("setting enabled=%t for %s: %w", enabled, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s not found", id)
	}
	s.flushPending(ctx)
	return nil
}

// RecordTrigger sets the reminder's last-triggered timestamp and resets its
// snooze count. On failure the write is queued and retried on the next
// successful store access.
func (s *Store) RecordTrigger(ctx context.Context, reminderID string, at time.Time) error {
	if err := s.recordTrigger(ctx, reminderID, at); err != nil {
		s.enqueue(pendingWrite{reminderID: reminderID, trigger: &at})
		return fmt.Errorf("recording trigger for %s (queued for retry): %w", reminderID, err)
	}
	s.flushPending(ctx)
	return nil
}

func (s *Store) recordTrigger(ctx context.Context, reminderID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET last_triggered_at = ?, snooze_count = 0 WHERE id = ?`,
		formatTime(at.UTC()), reminderID)
	return err
}

// RecordSnooze updates the reminder's persisted snooze count, with the same
// queue-on-failure behaviour as RecordTrigger.
func (s *Store) RecordSnooze(ctx context.Context, reminderID string, count int) error {
	if err := s.recordSnooze(ctx, reminderID, count); err != nil {
		s.enqueue(pendingWrite{reminderID: reminderID, count: count})
		return fmt.Errorf("recording snooze for %s (queued for retry): %w", reminderID, err)
	}
	s.flushPending(ctx)
	return nil
}

func (s *Store) recordSnooze(ctx context.Context, reminderID string, count int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET snooze_count = ? WHERE id = ?`, count, reminderID)
	return err
}

// --- Geofence membership -----------------------------------------------------

// SaveMembership persists the "currently inside" flag for a reminder's
// region.
func (s *Store) SaveMembership(ctx context.Context, reminderID string, inside bool) error {
	const q = `
		INSERT INTO geofence_membership (reminder_id, inside, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(reminder_id) DO UPDATE SET
		    inside = excluded.inside,
		    updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q, reminderID, inside, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("saving membership for %s: %w", reminderID, err)
	}
	return nil
}

// Memberships returns all persisted membership flags keyed by reminder ID.
func (s *Store) Memberships(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT reminder_id, inside FROM geofence_membership`)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		var inside bool
		if err := rows.Scan(&id, &inside); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		out[id] = inside
	}
	return out, rows.Err()
}

// DeleteMembership drops the persisted flag for a reminder.
func (s *Store) DeleteMembership(ctx context.Context, reminderID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM geofence_membership WHERE reminder_id = ?`, reminderID)
	if err != nil {
		return fmt.Errorf("deleting membership for %s: %w", reminderID, err)
	}
	return nil
}

// --- Alarm event archive -----------------------------------------------------

// AppendAlarmEvent archives one session lifecycle event.
func (s *Store) AppendAlarmEvent(ctx context.Context, ev AlarmEvent) error {
	const q = `
		INSERT INTO alarm_events (session_id, reminder_id, event, reason, snooze_count, at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		ev.SessionID, ev.ReminderID, ev.Event, ev.Reason, ev.SnoozeCount, formatTime(ev.At.UTC()))
	if err != nil {
		return fmt.Errorf("archiving alarm event %s/%s: %w", ev.ReminderID, ev.Event, err)
	}
	return nil
}

// RecentAlarmEvents returns the most recent archived events, newest first.
func (s *Store) RecentAlarmEvents(ctx context.Context, limit int) ([]AlarmEvent, error) {
	const q = `
		SELECT id, session_id, reminder_id, event, reason, snooze_count, at
		FROM alarm_events ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("querying alarm events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var evs []AlarmEvent
	for rows.Next() {
		var ev AlarmEvent
		var at string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.ReminderID, &ev.Event, &ev.Reason, &ev.SnoozeCount, &at); err != nil {
			return nil, fmt.Errorf("scanning alarm event row: %w", err)
		}
		ev.At, _ = parseTime(at)
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

// --- Pending-write retry queue ----------------------------------------------

func (s *Store) enqueue(w pendingWrite) {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	s.pending = append(s.pending, w)
}

// PendingWrites reports how many bookkeeping writes are awaiting retry.
func (s *Store) PendingWrites() int {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	return len(s.pending)
}

// flushPending replays queued bookkeeping writes. Called after each
// successful store access; writes that fail again stay queued.
func (s *Store) flushPending(ctx context.Context) {
	s.pendMu.Lock()
	queued := s.pending
	s.pending = nil
	s.pendMu.Unlock()

	var still []pendingWrite
	for _, w := range queued {
		var err error
		if w.trigger != nil {
			err = s.recordTrigger(ctx, w.reminderID, *w.trigger)
		} else {
			err = s.recordSnooze(ctx, w.reminderID, w.count)
		}
		if err != nil {
			still = append(still, w)
		}
	}
	if len(still) > 0 {
		s.pendMu.Lock()
		s.pending = append(still, s.pending...)
		s.pendMu.Unlock()
	}
}

// --- Row scanning ------------------------------------------------------------

const selectReminder = `
	SELECT id, title, notes, rule, enabled, last_triggered_at, snooze_count, created_at, updated_at
	FROM reminders`

// scanner matches both *sql.Row and *sql.Rows so scanReminder can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(sc scanner) (*model.Reminder, error) {
	var rem model.Reminder
	var ruleJSON, lastTriggered, createdAt, updatedAt string

	err := sc.Scan(
		&rem.ID,
		&rem.Title,
		&rem.Notes,
		&ruleJSON,
		&rem.Enabled,
		&lastTriggered,
		&rem.SnoozeCount,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning reminder row: %w", err)
	}

	rem.Rule, err = decodeRule(ruleJSON)
	if err != nil {
		return nil, fmt.Errorf("reminder %s: %w", rem.ID, err)
	}

	if lastTriggered != "" {
		t, err := parseTime(lastTriggered)
		if err != nil {
			return nil, fmt.Errorf("reminder %s: parsing last_triggered_at: %w", rem.ID, err)
		}
		rem.LastTriggeredAt = &t
	}
	rem.CreatedAt, _ = parseTime(createdAt)
	rem.UpdatedAt, _ = parseTime(updatedAt)

	return &rem, nil
}

// encodeRule serialises a rule to the JSON column format.
func encodeRule(r model.Rule) (string, error) {
	b, err := json.Marshal(ruleToRow(r))
	if err != nil {
		return "", fmt.Errorf("encoding rule: %w", err)
	}
	return string(b), nil
}

// decodeRule parses the JSON column format back into a rule.
func decodeRule(s string) (model.Rule, error) {
	var row ruleRow
	if err := json.Unmarshal([]byte(s), &row); err != nil {
		return model.Rule{}, fmt.Errorf("decoding rule: %w", err)
	}
	return rowToRule(row), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
