package notify

import (
	"context"
	"slices"
	gosync "sync"
)

// MemoryStore keeps notifications in memory.
type MemoryStore struct {
	mu            gosync.RWMutex
	notifications []Notification
}

// NewMemoryStore creates an empty in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Notifications implements Store.
func (m *MemoryStore) Notifications(_ context.Context) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.notifications), nil
}

// SetNotifications implements Store.
func (m *MemoryStore) SetNotifications(_ context.Context, notifications []Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = slices.Clone(notifications)
	return nil
}
