// Package audit records an append-only trail of administrative and sync activity.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

const (
	defaultMaxEntries = 10000
	defaultRetention  = 90 * 24 * time.Hour

	// SystemUser is the user recorded for automated activity.
	SystemUser = "system"
)

// Category groups audit entries.
type Category string

const (
	CategoryApproval    Category = "approval"
	CategoryMaintenance Category = "maintenance"
	CategoryMapSync     Category = "map_sync"
	CategoryRejection   Category = "rejection"
	CategorySettings    Category = "settings"
	CategorySubmission  Category = "submission"
)

// Entry is one audit record.
type Entry struct {
	// Category groups the entry.
	Category Category `json:"category"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Details holds structured context.
	Details map[string]string `json:"details,omitempty"`

	// ID is the entry identifier.
	ID string `json:"id"`

	// Time is when the activity happened.
	Time time.Time `json:"time"`

	// User is who performed the activity.
	User string `json:"user"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	// Category restricts results to one category.
	Category Category

	// Limit caps the number of results. Zero means no limit.
	Limit int

	// Since excludes entries before this time.
	Since time.Time

	// Text matches entries whose description or details contain it, case-insensitively.
	Text string

	// Until excludes entries at or after this time.
	Until time.Time

	// User restricts results to one user.
	User string
}

// Match reports whether the entry satisfies the filter, ignoring Limit.
func (f Filter) Match(e Entry) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.User != "" && e.User != f.User {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Time.Before(f.Until) {
		return false
	}
	if f.Text != "" {
		text := strings.ToLower(f.Text)
		if strings.Contains(strings.ToLower(e.Description), text) {
			return true
		}
		for _, v := range e.Details {
			if strings.Contains(strings.ToLower(v), text) {
				return true
			}
		}
		return false
	}
	return true
}

// Store persists audit entries.
type Store interface {
	// AppendEntry stores a new entry.
	AppendEntry(ctx context.Context, entry Entry) error

	// DeleteEntriesBefore removes entries older than t and returns how many were removed.
	DeleteEntriesBefore(ctx context.Context, t time.Time) (int, error)

	// Entries returns matching entries, newest first.
	Entries(ctx context.Context, filter Filter) ([]Entry, error)

	// TrimEntries keeps only the newest maxEntries entries and returns how many were removed.
	TrimEntries(ctx context.Context, maxEntries int) (int, error)
}

// Config holds the configuration for creating a Trail.
type Config struct {
	// Clock overrides the time source.
	Clock func() time.Time

	// Logger is the structured logger.
	Logger *slog.Logger

	// MaxEntries caps the number of retained entries. Defaults to 10000.
	MaxEntries int

	// Retention is how long entries are kept by Cleanup. Defaults to 90 days.
	Retention time.Duration

	// Store persists the entries.
	Store Store
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Store == nil {
		errs = append(errs, errors.New("audit store is required"))
	}
	if c.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("max entries cannot be negative, got %d", c.MaxEntries))
	}
	if c.Retention < 0 {
		errs = append(errs, fmt.Errorf("retention cannot be negative, got %v", c.Retention))
	}
	return errors.Join(errs...)
}

// Trail records audit entries.
type Trail struct {
	logger     *slog.Logger
	maxEntries int
	now        func() time.Time
	retention  time.Duration
	store      Store
}

// New creates an audit trail.
func New(cfg Config) (*Trail, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	t := &Trail{
		logger:     cfg.Logger,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Clock,
		retention:  cfg.Retention,
		store:      cfg.Store,
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.maxEntries == 0 {
		t.maxEntries = defaultMaxEntries
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.retention == 0 {
		t.retention = defaultRetention
	}

	return t, nil
}

// Record appends an entry and trims the trail to its maximum size.
func (t *Trail) Record(ctx context.Context, category Category, user string, description string, details map[string]string) (Entry, error) {
	if user == "" {
		user = SystemUser
	}

	entry := Entry{
		Category:    category,
		Description: description,
		Details:     details,
		ID:          uuid.NewString(),
		Time:        t.now().UTC(),
		User:        user,
	}

	if err := t.store.AppendEntry(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("appending audit entry: %w", err)
	}

	if _, err := t.store.TrimEntries(ctx, t.maxEntries); err != nil {
		return entry, fmt.Errorf("trimming audit trail: %w", err)
	}

	return entry, nil
}

// List returns matching entries, newest first.
func (t *Trail) List(ctx context.Context, filter Filter) ([]Entry, error) {
	entries, err := t.store.Entries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return entries, nil
}

// Cleanup removes entries older than the retention period and records the removal.
func (t *Trail) Cleanup(ctx context.Context) (int, error) {
	cutoff := t.now().UTC().Add(-t.retention)

	removed, err := t.store.DeleteEntriesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old audit entries: %w", err)
	}
	if removed == 0 {
		return 0, nil
	}

	days := int(t.retention / (24 * time.Hour))
	description := fmt.Sprintf("Removed %d audit entries older than %d days", removed, days)
	if _, err := t.Record(ctx, CategoryMaintenance, SystemUser, description, map[string]string{
		"removed": fmt.Sprint(removed),
		"cutoff":  cutoff.Format(time.RFC3339),
	}); err != nil {
		return removed, err
	}

	t.logger.Info("audit trail cleaned up", "removed", removed, "cutoff", cutoff)
	return removed, nil
}

// Listener returns a sync listener that records every status log line.
// The line that ends a run also carries the run outcome.
func (t *Trail) Listener() sync.Listener {
	return func(ctx context.Context, event sync.Event) {
		if event.Entry == nil {
			return
		}

		details := map[string]string{
			"severity": string(event.Entry.Severity),
		}
		if event.Status.RunID != "" {
			details["run_id"] = event.Status.RunID
		}
		if r := event.Result; r != nil {
			details["outcome"] = runOutcome(r)
			details["succeeded"] = fmt.Sprint(r.TotalSuccess)
			details["failed"] = fmt.Sprint(r.TotalFailed)
		}

		if _, err := t.Record(ctx, CategoryMapSync, SystemUser, event.Entry.Message, details); err != nil {
			t.logger.Error("failed to record sync audit entry", "error", err)
		}
	}
}

// NotifyApproval records an approval.
func (t *Trail) NotifyApproval(ctx context.Context, record establishment.Record) {
	if _, err := t.Record(ctx, CategoryApproval, "", fmt.Sprintf("Establishment approved: %s", record.Name), map[string]string{
		"establishment_id": record.ID,
	}); err != nil {
		t.logger.Error("failed to record approval", "establishment_id", record.ID, "error", err)
	}
}

// NotifyRejection records a rejection.
func (t *Trail) NotifyRejection(ctx context.Context, record establishment.Record, reason string) {
	if _, err := t.Record(ctx, CategoryRejection, "", fmt.Sprintf("Establishment rejected: %s", record.Name), map[string]string{
		"establishment_id": record.ID,
		"reason":           reason,
	}); err != nil {
		t.logger.Error("failed to record rejection", "establishment_id", record.ID, "error", err)
	}
}

// runOutcome maps a run result to success, partial or failed.
func runOutcome(r *sync.RunResult) string {
	switch {
	case r.Success:
		return "success"
	case r.TotalSuccess > 0:
		return "partial"
	default:
		return "failed"
	}
}
