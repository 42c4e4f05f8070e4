// Package schedule runs sync automatically at a configured interval.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

const (
	// MinIntervalMinutes is the shortest allowed interval.
	MinIntervalMinutes = 5

	// MaxIntervalMinutes is the longest allowed interval (one day).
	MaxIntervalMinutes = 1440

	// DefaultIntervalMinutes is the interval used when none is configured.
	DefaultIntervalMinutes = 60
)

// Settings configures automatic sync.
type Settings struct {
	// Enabled turns automatic sync on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// IntervalMinutes is the minimum time between automatic runs.
	IntervalMinutes int `json:"interval_minutes" yaml:"interval_minutes"`
}

// DefaultSettings returns automatic sync disabled with a one-hour interval.
func DefaultSettings() Settings {
	return Settings{IntervalMinutes: DefaultIntervalMinutes}
}

// Validate checks the interval bounds.
func (s Settings) Validate() error {
	if s.IntervalMinutes < MinIntervalMinutes || s.IntervalMinutes > MaxIntervalMinutes {
		return fmt.Errorf("interval must be between %d and %d minutes, got %d",
			MinIntervalMinutes, MaxIntervalMinutes, s.IntervalMinutes)
	}
	return nil
}

// Interval returns the interval as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// Store persists the settings.
type Store interface {
	// ScheduleSettings returns the stored settings, or nil if none exist.
	ScheduleSettings(ctx context.Context) (*Settings, error)

	// SetScheduleSettings replaces the stored settings.
	SetScheduleSettings(ctx context.Context, settings Settings) error
}

// Load returns the stored settings, falling back to the defaults.
func Load(ctx context.Context, store Store) (Settings, error) {
	if store == nil {
		return Settings{}, errors.New("schedule store is required")
	}

	s, err := store.ScheduleSettings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("loading schedule settings: %w", err)
	}
	if s == nil {
		return DefaultSettings(), nil
	}
	return *s, nil
}

// Due reports whether an automatic run should start now: automatic sync is enabled,
// no live run is active, and the interval has elapsed since the last run started or
// completed. A run in progress for longer than staleAfter does not block.
func Due(settings Settings, status sync.Status, now time.Time, staleAfter time.Duration) bool {
	if !settings.Enabled {
		return false
	}
	if status.InProgress && !status.Stale(now, staleAfter) {
		return false
	}

	var last time.Time
	if status.LastSync != nil {
		last = *status.LastSync
	}
	if status.RunStartedAt != nil && status.RunStartedAt.After(last) {
		last = *status.RunStartedAt
	}
	if last.IsZero() {
		return true
	}
	return !now.Before(last.Add(settings.Interval()))
}
