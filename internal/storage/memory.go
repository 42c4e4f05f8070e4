package storage

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/schedule"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

// MemoryStatusStore keeps the sync status in memory.
// Used for dry-run mode and tests where nothing should outlive the process.
type MemoryStatusStore struct {
	mu     gosync.RWMutex
	status *sync.Status
}

// NewMemoryStatusStore creates an empty MemoryStatusStore.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{}
}

// Status returns a copy of the stored status, or nil if none was stored.
func (s *MemoryStatusStore) Status(_ context.Context) (*sync.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status == nil {
		return nil, nil
	}
	status := s.status.Clone()
	return &status, nil
}

// SetStatus replaces the stored status.
func (s *MemoryStatusStore) SetStatus(_ context.Context, status sync.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status = status.Clone()
	s.status = &status
	return nil
}

// MemoryEstablishmentStore keeps establishment records in memory.
type MemoryEstablishmentStore struct {
	mu      gosync.RWMutex
	records map[string]establishment.Record
}

// NewMemoryEstablishmentStore creates a store seeded with records.
func NewMemoryEstablishmentStore(records ...establishment.Record) *MemoryEstablishmentStore {
	s := &MemoryEstablishmentStore{records: make(map[string]establishment.Record, len(records))}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

// Establishment returns the record with the given ID.
func (s *MemoryEstablishmentStore) Establishment(_ context.Context, id string) (*establishment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", establishment.ErrNotFound, id)
	}
	return &r, nil
}

// Establishments returns the records in bucket, oldest first.
func (s *MemoryEstablishmentStore) Establishments(_ context.Context, bucket establishment.Bucket) ([]establishment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []establishment.Record{}
	for _, r := range s.records {
		if r.Bucket == bucket {
			out = append(out, r)
		}
	}
	establishment.SortByBucket(out)
	return out, nil
}

// PutEstablishment creates or replaces a record.
func (s *MemoryEstablishmentStore) PutEstablishment(_ context.Context, record establishment.Record) error {
	if record.ID == "" {
		return errors.New("establishment ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = record
	return nil
}

// MemoryScheduleStore keeps schedule settings in memory.
type MemoryScheduleStore struct {
	mu       gosync.RWMutex
	settings *schedule.Settings
}

// NewMemoryScheduleStore creates an empty MemoryScheduleStore.
func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{}
}

// ScheduleSettings returns the stored settings, or nil if none were stored.
func (s *MemoryScheduleStore) ScheduleSettings(_ context.Context) (*schedule.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, nil
	}
	settings := *s.settings
	return &settings, nil
}

// SetScheduleSettings replaces the stored settings.
func (s *MemoryScheduleStore) SetScheduleSettings(_ context.Context, settings schedule.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = &settings
	return nil
}
