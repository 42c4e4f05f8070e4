// Package sync pushes approved establishments to the external map service and tracks run status.
package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/mapapi"
)

// MaxLogEntries is the number of log lines kept in the status record.
const MaxLogEntries = 100

var (
	// ErrRunInProgress is reported when a run is requested while another one is active.
	ErrRunInProgress = errors.New("run already active")

	// ErrAPIUnreachable is reported when the health probe fails and the run is aborted.
	ErrAPIUnreachable = errors.New("API unavailable")

	// ErrNothingToRetry is reported when a retry is requested with no failed items.
	ErrNothingToRetry = errors.New("no failed items")
)

// Severity classifies a log line.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Outcome classifies how a run request ended.
type Outcome string

const (
	// OutcomeCompleted means every item was pushed.
	OutcomeCompleted Outcome = "completed"

	// OutcomePartial means at least one item failed.
	OutcomePartial Outcome = "partial"

	// OutcomeNothingToSync means there was no eligible item.
	OutcomeNothingToSync Outcome = "nothing_to_sync"

	// OutcomeAlreadyRunning means the request was rejected because a run is active.
	OutcomeAlreadyRunning Outcome = "already_running"

	// OutcomeAPIUnavailable means the run was aborted by a failed health probe.
	OutcomeAPIUnavailable Outcome = "api_unavailable"

	// OutcomeNothingToRetry means a retry was requested with an empty failed set.
	OutcomeNothingToRetry Outcome = "nothing_to_retry"

	// OutcomeFailed means the run was aborted by a store failure.
	OutcomeFailed Outcome = "failed"
)

// LogEntry is one human-readable line of the status log.
type LogEntry struct {
	// Message is the log text.
	Message string `json:"message"`

	// Severity is the log level.
	Severity Severity `json:"severity"`

	// Timestamp is when the line was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Status is the persisted state of the sync process. It is always replaced as a whole.
type Status struct {
	// FailedSync holds the IDs that failed in the last run, in run order.
	FailedSync []string `json:"failed_sync"`

	// InProgress is true while a run is active.
	InProgress bool `json:"in_progress"`

	// LastSync is when the last run completed.
	LastSync *time.Time `json:"last_sync,omitempty"`

	// Logs holds the most recent log lines, newest first.
	Logs []LogEntry `json:"logs"`

	// PendingSync holds the IDs not yet processed by the active run.
	PendingSync []string `json:"pending_sync"`

	// RunID identifies the active or last run.
	RunID string `json:"run_id,omitempty"`

	// RunStartedAt is when the active or last run started.
	RunStartedAt *time.Time `json:"run_started_at,omitempty"`

	// Success is the outcome of the last run. Nil until a run has finished.
	Success *bool `json:"success"`

	// TotalFailed is the number of items that failed in the current or last run.
	TotalFailed int `json:"total_failed"`

	// TotalProcessed is the number of items processed so far in the current or last run.
	TotalProcessed int `json:"total_processed"`

	// TotalSuccess is the number of items pushed in the current or last run.
	TotalSuccess int `json:"total_success"`
}

// Clone returns a deep copy of the status.
func (s Status) Clone() Status {
	out := s
	out.FailedSync = slices.Clone(s.FailedSync)
	out.PendingSync = slices.Clone(s.PendingSync)
	out.Logs = slices.Clone(s.Logs)
	if s.LastSync != nil {
		v := *s.LastSync
		out.LastSync = &v
	}
	if s.RunStartedAt != nil {
		v := *s.RunStartedAt
		out.RunStartedAt = &v
	}
	if s.Success != nil {
		v := *s.Success
		out.Success = &v
	}
	return out
}

// Stale reports whether an in-progress run started more than after ago and so belongs
// to a process that died mid-run. A run without a start time is never stale, and a
// negative after disables takeover.
func (s Status) Stale(now time.Time, after time.Duration) bool {
	if !s.InProgress || after < 0 || s.RunStartedAt == nil || s.RunStartedAt.IsZero() {
		return false
	}
	return now.Sub(*s.RunStartedAt) > after
}

// addLog prepends an entry and trims the log to MaxLogEntries.
func (s *Status) addLog(entry LogEntry) {
	s.Logs = append([]LogEntry{entry}, s.Logs...)
	if len(s.Logs) > MaxLogEntries {
		s.Logs = s.Logs[:MaxLogEntries]
	}
}

// ItemError describes the failure to push one establishment.
type ItemError struct {
	// EstablishmentID is the local record ID.
	EstablishmentID string

	// Err is the underlying failure.
	Err error

	// Name is the establishment name.
	Name string
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("syncing establishment %s (%s): %v", e.EstablishmentID, e.Name, e.Err)
}

// Unwrap returns the underlying failure.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// RunResult summarizes a StartRun or RetryFailedRun call.
type RunResult struct {
	// Err is the reason the run was rejected or aborted, if any.
	Err error

	// Errors holds one *ItemError per failed item.
	Errors []error

	// FailedSync holds the IDs that failed, in run order.
	FailedSync []string

	// Message is a human-readable summary.
	Message string

	// Outcome classifies how the request ended.
	Outcome Outcome

	// Retry is true for RetryFailedRun results.
	Retry bool

	// RunID identifies the run. Empty when the request was rejected.
	RunID string

	// Success reports whether the run finished with no failures.
	Success bool

	// TotalFailed is the number of failed items.
	TotalFailed int

	// TotalProcessed is the number of items processed.
	TotalProcessed int

	// TotalSuccess is the number of pushed items.
	TotalSuccess int
}

// ItemResult describes the outcome of pushing one establishment.
type ItemResult struct {
	// Created is true when the item was created on the map, false when updated.
	Created bool

	// EstablishmentID is the local record ID.
	EstablishmentID string

	// Err is the failure, nil on success.
	Err error

	// MapID is the map node ID after the push.
	MapID string
}

// Event is delivered to listeners after every status persist.
type Event struct {
	// Entry is the log line added by this change, if any.
	Entry *LogEntry

	// Item is set when the change records the outcome of one item.
	Item *ItemResult

	// Result is set on the change that ends a run.
	Result *RunResult

	// Status is a snapshot of the persisted record.
	Status Status
}

// Listener receives status change events synchronously.
type Listener func(ctx context.Context, event Event)

// StatusStore persists the status record.
type StatusStore interface {
	// SetStatus replaces the status record.
	SetStatus(ctx context.Context, status Status) error

	// Status returns the status record, or nil if none has been stored yet.
	Status(ctx context.Context) (*Status, error)
}

// MapClient defines the map service operations required by the tracker.
type MapClient interface {
	// CreateEstablishment adds a node and returns its map ID.
	CreateEstablishment(ctx context.Context, establishment *mapapi.Establishment) (string, error)

	// Health probes the service.
	Health(ctx context.Context) (*mapapi.Health, error)

	// UpdateEstablishment replaces an existing node.
	UpdateEstablishment(ctx context.Context, mapID string, establishment *mapapi.Establishment) error
}
