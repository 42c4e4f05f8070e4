// Package establishment defines Bitcoin-accepting establishment records and their approval workflow.
package establishment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Bucket is the approval state an establishment record lives in.
type Bucket string

const (
	// BucketPending holds records awaiting admin review.
	BucketPending Bucket = "pending"

	// BucketApproved holds records accepted for publication on the map.
	BucketApproved Bucket = "approved"

	// BucketRejected holds records refused by an admin.
	BucketRejected Bucket = "rejected"
)

// ErrNotFound is returned when a record does not exist in the store.
var ErrNotFound = errors.New("establishment not found")

// Record is a merchant registration.
type Record struct {
	// AcceptsLightning indicates the merchant accepts Lightning payments.
	AcceptsLightning bool `json:"accepts_lightning"`

	// AcceptsOnchain indicates the merchant accepts on-chain payments.
	AcceptsOnchain bool `json:"accepts_onchain"`

	// Address is the free-form street address (optional).
	Address string `json:"address,omitempty"`

	// ApprovedAt is when an admin approved the record.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	// Bucket is the approval state.
	Bucket Bucket `json:"bucket"`

	// Description is a short merchant description (optional).
	Description string `json:"description,omitempty"`

	// ID is the local identifier.
	ID string `json:"id"`

	// Lat is the latitude in decimal degrees.
	Lat float64 `json:"lat"`

	// Lon is the longitude in decimal degrees.
	Lon float64 `json:"lon"`

	// MapID is the identifier assigned by the external map service. Empty until first synced.
	MapID string `json:"map_id,omitempty"`

	// Municipality is the city the merchant is in (optional).
	Municipality string `json:"municipality,omitempty"`

	// Name is the merchant name.
	Name string `json:"name"`

	// NeedsUpdate marks a synced record whose details changed since the last push.
	NeedsUpdate bool `json:"needs_update"`

	// Phone is a contact phone number (optional).
	Phone string `json:"phone,omitempty"`

	// RejectedAt is when an admin rejected the record.
	RejectedAt *time.Time `json:"rejected_at,omitempty"`

	// RejectionReason is the admin's reason for rejecting (optional).
	RejectionReason string `json:"rejection_reason,omitempty"`

	// SubmittedAt is when the merchant registered.
	SubmittedAt time.Time `json:"submitted_at"`

	// SyncedAt is when the record was last pushed to the map service.
	SyncedAt *time.Time `json:"synced_at,omitempty"`

	// Website is the merchant website (optional).
	Website string `json:"website,omitempty"`
}

// Eligible reports whether the record must be pushed to the map service:
// it has never been synced, or it has been synced and changed since.
func (r Record) Eligible() bool {
	return r.MapID == "" || r.NeedsUpdate
}

// Validate checks the fields required by the map service.
func (r Record) Validate() error {
	var errs []error

	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if r.Lat < -90 || r.Lat > 90 {
		errs = append(errs, fmt.Errorf("latitude must be between -90 and 90, got %v", r.Lat))
	}
	if r.Lon < -180 || r.Lon > 180 {
		errs = append(errs, fmt.Errorf("longitude must be between -180 and 180, got %v", r.Lon))
	}
	if r.Website != "" && !strings.HasPrefix(r.Website, "http://") && !strings.HasPrefix(r.Website, "https://") {
		errs = append(errs, errors.New("website must start with http:// or https://"))
	}

	return errors.Join(errs...)
}

// Store persists establishment records.
type Store interface {
	// Establishment returns the record with the given ID, or ErrNotFound.
	Establishment(ctx context.Context, id string) (*Record, error)

	// Establishments returns every record in the bucket, in store order.
	Establishments(ctx context.Context, bucket Bucket) ([]Record, error)

	// PutEstablishment creates or replaces a record.
	PutEstablishment(ctx context.Context, record Record) error
}

// SortByBucket orders records the way a store must return them: by the time each
// entered its bucket, oldest first, ties broken by ID.
func SortByBucket(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := bucketTime(records[i]), bucketTime(records[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return records[i].ID < records[j].ID
	})
}

func bucketTime(r Record) time.Time {
	switch r.Bucket {
	case BucketApproved:
		if r.ApprovedAt != nil {
			return *r.ApprovedAt
		}
	case BucketRejected:
		if r.RejectedAt != nil {
			return *r.RejectedAt
		}
	}
	return r.SubmittedAt
}
