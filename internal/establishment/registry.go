package establishment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTransition is returned when a record is not in the bucket an operation requires.
	ErrInvalidTransition = errors.New("invalid bucket transition")

	// ErrInvalidRecord is returned when a submitted record fails validation.
	ErrInvalidRecord = errors.New("invalid establishment")
)

// Notifier is informed of approval decisions.
type Notifier interface {
	// NotifyApproval announces that a record was approved and is ready to sync.
	NotifyApproval(ctx context.Context, record Record)

	// NotifyRejection announces that a record was rejected.
	NotifyRejection(ctx context.Context, record Record, reason string)
}

// Registry implements the submit/approve/reject workflow over a Store.
type Registry struct {
	logger    *slog.Logger
	notifiers []Notifier
	now       func() time.Time
	store     Store
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNotifier adds a notifier informed of approvals and rejections.
func WithNotifier(n Notifier) RegistryOption {
	return func(r *Registry) {
		if n != nil {
			r.notifiers = append(r.notifiers, n)
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(store Store, opts ...RegistryOption) (*Registry, error) {
	if store == nil {
		return nil, errors.New("establishment store is required")
	}

	r := &Registry{
		logger: slog.Default(),
		now:    time.Now,
		store:  store,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Submit validates a new registration and stores it as pending. Returns the assigned ID.
func (r *Registry) Submit(ctx context.Context, record Record) (string, error) {
	record.Name = strings.TrimSpace(record.Name)
	if err := record.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	record.ID = uuid.NewString()
	record.Bucket = BucketPending
	record.SubmittedAt = r.now().UTC()
	record.ApprovedAt = nil
	record.RejectedAt = nil
	record.MapID = ""
	record.NeedsUpdate = false
	record.SyncedAt = nil

	if err := r.store.PutEstablishment(ctx, record); err != nil {
		return "", fmt.Errorf("storing establishment: %w", err)
	}

	r.logger.Info("establishment submitted", "id", record.ID, "name", record.Name)
	return record.ID, nil
}

// List returns the records in a bucket.
func (r *Registry) List(ctx context.Context, bucket Bucket) ([]Record, error) {
	switch bucket {
	case BucketPending, BucketApproved, BucketRejected:
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}

	records, err := r.store.Establishments(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("listing %s establishments: %w", bucket, err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Approve moves a pending record to the approved bucket, making it eligible for sync.
func (r *Registry) Approve(ctx context.Context, id string) (*Record, error) {
	record, err := r.pending(ctx, id)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	record.Bucket = BucketApproved
	record.ApprovedAt = &now

	if err := r.store.PutEstablishment(ctx, *record); err != nil {
		return nil, fmt.Errorf("storing establishment: %w", err)
	}

	r.logger.Info("establishment approved", "id", record.ID, "name", record.Name)
	for _, n := range r.notifiers {
		n.NotifyApproval(ctx, *record)
	}
	return record, nil
}

// Reject moves a pending record to the rejected bucket.
func (r *Registry) Reject(ctx context.Context, id string, reason string) (*Record, error) {
	record, err := r.pending(ctx, id)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	record.Bucket = BucketRejected
	record.RejectedAt = &now
	record.RejectionReason = strings.TrimSpace(reason)

	if err := r.store.PutEstablishment(ctx, *record); err != nil {
		return nil, fmt.Errorf("storing establishment: %w", err)
	}

	r.logger.Info("establishment rejected", "id", record.ID, "name", record.Name, "reason", record.RejectionReason)
	for _, n := range r.notifiers {
		n.NotifyRejection(ctx, *record, record.RejectionReason)
	}
	return record, nil
}

// RequestUpdate flags an approved, already-synced record so the next run pushes it again.
// Records never synced are already eligible and are left untouched.
func (r *Registry) RequestUpdate(ctx context.Context, id string) (*Record, error) {
	record, err := r.store.Establishment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting establishment: %w", err)
	}
	if record.Bucket != BucketApproved {
		return nil, fmt.Errorf("%w: %s is %s, not approved", ErrInvalidTransition, id, record.Bucket)
	}
	if record.MapID == "" || record.NeedsUpdate {
		return record, nil
	}

	record.NeedsUpdate = true
	if err := r.store.PutEstablishment(ctx, *record); err != nil {
		return nil, fmt.Errorf("storing establishment: %w", err)
	}

	r.logger.Info("establishment update requested", "id", record.ID, "map_id", record.MapID)
	return record, nil
}

func (r *Registry) pending(ctx context.Context, id string) (*Record, error) {
	record, err := r.store.Establishment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting establishment: %w", err)
	}
	if record.Bucket != BucketPending {
		return nil, fmt.Errorf("%w: %s is %s, not pending", ErrInvalidTransition, id, record.Bucket)
	}
	return record, nil
}
