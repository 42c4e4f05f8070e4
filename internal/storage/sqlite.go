package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/notify"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/schedule"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

const scheduleDocumentKey = "schedule"

// SQLite stores everything the local deployment needs in one SQLite database:
// establishment records, the status, schedule and notification documents, and the audit trail.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	logger.Debug("database initialized", "path", path)
	return &SQLite{db: db}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS establishments (
			id TEXT PRIMARY KEY,
			bucket TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			municipality TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			website TEXT NOT NULL DEFAULT '',
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			accepts_lightning BOOLEAN NOT NULL DEFAULT 0,
			accepts_onchain BOOLEAN NOT NULL DEFAULT 0,
			map_id TEXT NOT NULL DEFAULT '',
			needs_update BOOLEAN NOT NULL DEFAULT 0,
			rejection_reason TEXT NOT NULL DEFAULT '',
			submitted_at TEXT NOT NULL,
			approved_at TEXT,
			rejected_at TEXT,
			synced_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			name TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			sort_key TEXT NOT NULL,
			time TEXT NOT NULL,
			category TEXT NOT NULL,
			user TEXT NOT NULL,
			description TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE INDEX IF NOT EXISTS idx_establishments_bucket ON establishments(bucket)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_sort_key ON audit_entries(sort_key)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_category ON audit_entries(category)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(query), err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const establishmentColumns = `id, bucket, name, description, address, municipality, phone, website,
	lat, lon, accepts_lightning, accepts_onchain, map_id, needs_update, rejection_reason,
	submitted_at, approved_at, rejected_at, synced_at`

// Establishment returns the record with the given ID.
func (s *SQLite) Establishment(ctx context.Context, id string) (*establishment.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+establishmentColumns+` FROM establishments WHERE id = ?`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", establishment.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading establishment: %w", err)
	}
	return &record, nil
}

// Establishments returns every record in the bucket, oldest first.
func (s *SQLite) Establishments(ctx context.Context, bucket establishment.Bucket) ([]establishment.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+establishmentColumns+` FROM establishments WHERE bucket = ?`, string(bucket))
	if err != nil {
		return nil, fmt.Errorf("querying establishments: %w", err)
	}
	defer rows.Close()

	records := []establishment.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("reading establishment: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating establishments: %w", err)
	}

	establishment.SortByBucket(records)
	return records, nil
}

// PutEstablishment creates or replaces a record.
func (s *SQLite) PutEstablishment(ctx context.Context, r establishment.Record) error {
	if r.ID == "" {
		return errors.New("establishment ID is required")
	}

	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO establishments (`+establishmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Bucket), r.Name, r.Description, r.Address, r.Municipality, r.Phone, r.Website,
		r.Lat, r.Lon, r.AcceptsLightning, r.AcceptsOnchain, r.MapID, r.NeedsUpdate, r.RejectionReason,
		formatTime(r.SubmittedAt), nullTime(r.ApprovedAt), nullTime(r.RejectedAt), nullTime(r.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("writing establishment: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (establishment.Record, error) {
	var (
		r                               establishment.Record
		bucket, submitted               string
		approved, rejected, syncedAtStr sql.NullString
	)

	err := row.Scan(
		&r.ID, &bucket, &r.Name, &r.Description, &r.Address, &r.Municipality, &r.Phone, &r.Website,
		&r.Lat, &r.Lon, &r.AcceptsLightning, &r.AcceptsOnchain, &r.MapID, &r.NeedsUpdate, &r.RejectionReason,
		&submitted, &approved, &rejected, &syncedAtStr,
	)
	if err != nil {
		return r, err
	}

	r.Bucket = establishment.Bucket(bucket)
	if r.SubmittedAt, err = time.Parse(time.RFC3339Nano, submitted); err != nil {
		return r, fmt.Errorf("parsing submitted_at: %w", err)
	}
	if r.ApprovedAt, err = parseNullTime(approved); err != nil {
		return r, fmt.Errorf("parsing approved_at: %w", err)
	}
	if r.RejectedAt, err = parseNullTime(rejected); err != nil {
		return r, fmt.Errorf("parsing rejected_at: %w", err)
	}
	if r.SyncedAt, err = parseNullTime(syncedAtStr); err != nil {
		return r, fmt.Errorf("parsing synced_at: %w", err)
	}
	return r, nil
}

// Status returns the stored sync status, or nil if none exists.
func (s *SQLite) Status(ctx context.Context) (*sync.Status, error) {
	var status sync.Status
	found, err := s.loadDocument(ctx, statusDocumentKey, &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

// SetStatus replaces the stored sync status.
func (s *SQLite) SetStatus(ctx context.Context, status sync.Status) error {
	return s.saveDocument(ctx, statusDocumentKey, status)
}

// ScheduleSettings returns the stored schedule settings, or nil if none exist.
func (s *SQLite) ScheduleSettings(ctx context.Context) (*schedule.Settings, error) {
	var settings schedule.Settings
	found, err := s.loadDocument(ctx, scheduleDocumentKey, &settings)
	if err != nil || !found {
		return nil, err
	}
	return &settings, nil
}

// SetScheduleSettings validates and stores the schedule settings.
func (s *SQLite) SetScheduleSettings(ctx context.Context, settings schedule.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return s.saveDocument(ctx, scheduleDocumentKey, settings)
}

// Notifications returns the stored notification list.
func (s *SQLite) Notifications(ctx context.Context) ([]notify.Notification, error) {
	var list []notify.Notification
	if _, err := s.loadDocument(ctx, notificationsDocumentKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetNotifications replaces the stored notification list.
func (s *SQLite) SetNotifications(ctx context.Context, notifications []notify.Notification) error {
	return s.saveDocument(ctx, notificationsDocumentKey, notifications)
}

func (s *SQLite) loadDocument(ctx context.Context, key string, v any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) saveDocument(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		key, string(data), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// AppendEntry stores a new audit entry.
func (s *SQLite) AppendEntry(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		return errors.New("audit entry ID is required")
	}

	details := entry.Details
	if details == nil {
		details = map[string]string{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, sort_key, time, category, user, description, details) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, sortKey(entry.Time, entry.ID), formatTime(entry.Time), string(entry.Category), entry.User, entry.Description, string(data),
	)
	if err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Entries returns matching audit entries, newest first.
func (s *SQLite) Entries(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.User != "" {
		where = append(where, "user = ?")
		args = append(args, filter.User)
	}
	if !filter.Since.IsZero() {
		where = append(where, "sort_key >= ?")
		args = append(args, filter.Since.UTC().Format(sortKeyLayout))
	}
	if !filter.Until.IsZero() {
		where = append(where, "sort_key < ?")
		args = append(args, filter.Until.UTC().Format(sortKeyLayout))
	}

	query := `SELECT id, time, category, user, description, details FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sort_key DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e               audit.Entry
			ts, cat, detail string
		)
		if err := rows.Scan(&e.ID, &ts, &cat, &e.User, &e.Description, &detail); err != nil {
			return nil, fmt.Errorf("reading audit entry: %w", err)
		}
		e.Category = audit.Category(cat)
		if e.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing audit time: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &e.Details); err != nil {
			return nil, fmt.Errorf("decoding audit details: %w", err)
		}
		if len(e.Details) == 0 {
			e.Details = nil
		}

		if !filter.Match(e) {
			continue
		}
		entries = append(entries, e)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// DeleteEntriesBefore removes audit entries older than cutoff.
func (s *SQLite) DeleteEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE sort_key < ?`, cutoff.UTC().Format(sortKeyLayout))
	if err != nil {
		return 0, fmt.Errorf("deleting audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted audit entries: %w", err)
	}
	return int(n), nil
}

// TrimEntries keeps only the newest maxEntries audit entries.
func (s *SQLite) TrimEntries(ctx context.Context, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_entries WHERE id NOT IN (
			SELECT id FROM audit_entries ORDER BY sort_key DESC LIMIT ?
		)`, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("trimming audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting trimmed audit entries: %w", err)
	}
	return int(n), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
