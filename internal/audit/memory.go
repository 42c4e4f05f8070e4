package audit

import (
	"context"
	"slices"
	gosync "sync"
	"time"
)

// MemoryStore keeps audit entries in memory, newest first.
type MemoryStore struct {
	entries []Entry
	mu      gosync.RWMutex
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AppendEntry implements Store.
func (m *MemoryStore) AppendEntry(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Insert keeping newest-first order even for out-of-order timestamps.
	i := 0
	for i < len(m.entries) && m.entries[i].Time.After(entry.Time) {
		i++
	}
	m.entries = slices.Insert(m.entries, i, entry)
	return nil
}

// DeleteEntriesBefore implements Store.
func (m *MemoryStore) DeleteEntriesBefore(_ context.Context, t time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.entries)
	m.entries = slices.DeleteFunc(m.entries, func(e Entry) bool { return e.Time.Before(t) })
	return before - len(m.entries), nil
}

// Entries implements Store.
func (m *MemoryStore) Entries(_ context.Context, filter Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Entry{}
	for _, e := range m.entries {
		if !filter.Match(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// TrimEntries implements Store.
func (m *MemoryStore) TrimEntries(_ context.Context, maxEntries int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxEntries <= 0 || len(m.entries) <= maxEntries {
		return 0, nil
	}
	removed := len(m.entries) - maxEntries
	m.entries = m.entries[:maxEntries]
	return removed, nil
}
