// Package lock provides exclusive run locks for the sync tracker.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("lock already held")

// Locker grants an exclusive lock without waiting.
type Locker interface {
	// TryLock acquires the lock or returns ErrLocked immediately.
	// The returned function releases the lock and is safe to call more than once.
	TryLock(ctx context.Context) (func(), error)
}

// Local is an in-process lock.
type Local struct {
	mu sync.Mutex
}

// NewLocal creates an in-process lock.
func NewLocal() *Local {
	return &Local{}
}

// TryLock implements Locker.
func (l *Local) TryLock(_ context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}
