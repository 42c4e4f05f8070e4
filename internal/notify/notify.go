// Package notify keeps the admin notification center.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

// MaxNotifications is the number of notifications kept.
const MaxNotifications = 50

// ErrNotFound is returned when a notification does not exist.
var ErrNotFound = errors.New("notification not found")

// Level is the importance of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one message for the admin.
type Notification struct {
	// ID is the notification identifier.
	ID string `json:"id"`

	// Level is the importance.
	Level Level `json:"level"`

	// Message is the body text.
	Message string `json:"message"`

	// Read is true once the admin has seen it.
	Read bool `json:"read"`

	// Time is when it was created.
	Time time.Time `json:"time"`

	// Title is the headline.
	Title string `json:"title"`
}

// Store persists the notification list as a whole.
type Store interface {
	// Notifications returns the stored list, newest first.
	Notifications(ctx context.Context) ([]Notification, error)

	// SetNotifications replaces the stored list.
	SetNotifications(ctx context.Context, notifications []Notification) error
}

// Option configures a Center.
type Option func(*Center)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Center) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Center) {
		if now != nil {
			c.now = now
		}
	}
}

// Center manages notifications.
type Center struct {
	logger *slog.Logger
	mu     gosync.Mutex
	now    func() time.Time
	store  Store
}

// NewCenter creates a notification center backed by store.
func NewCenter(store Store, opts ...Option) (*Center, error) {
	if store == nil {
		return nil, errors.New("notification store is required")
	}

	c := &Center{
		logger: slog.Default(),
		now:    time.Now,
		store:  store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Add creates a notification and keeps only the newest MaxNotifications.
func (c *Center) Add(ctx context.Context, level Level, title string, message string) (Notification, error) {
	n := Notification{
		ID:      uuid.NewString(),
		Level:   level,
		Message: message,
		Time:    c.now().UTC(),
		Title:   title,
	}

	err := c.update(ctx, func(list []Notification) ([]Notification, error) {
		list = append([]Notification{n}, list...)
		if len(list) > MaxNotifications {
			list = list[:MaxNotifications]
		}
		return list, nil
	})
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

// List returns every notification, newest first.
func (c *Center) List(ctx context.Context) ([]Notification, error) {
	list, err := c.store.Notifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading notifications: %w", err)
	}
	if list == nil {
		list = []Notification{}
	}
	return list, nil
}

// MarkRead marks one notification as read.
func (c *Center) MarkRead(ctx context.Context, id string) error {
	return c.update(ctx, func(list []Notification) ([]Notification, error) {
		for i := range list {
			if list[i].ID == id {
				list[i].Read = true
				return list, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
}

// MarkAllRead marks every notification as read.
func (c *Center) MarkAllRead(ctx context.Context) error {
	return c.update(ctx, func(list []Notification) ([]Notification, error) {
		for i := range list {
			list[i].Read = true
		}
		return list, nil
	})
}

// Remove deletes one notification.
func (c *Center) Remove(ctx context.Context, id string) error {
	return c.update(ctx, func(list []Notification) ([]Notification, error) {
		for i := range list {
			if list[i].ID == id {
				return append(list[:i], list[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
}

// Unread returns the number of unread notifications.
func (c *Center) Unread(ctx context.Context) (int, error) {
	list, err := c.List(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, n := range list {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

// Listener returns a sync listener that announces the end of every run.
func (c *Center) Listener() sync.Listener {
	return func(ctx context.Context, event sync.Event) {
		r := event.Result
		if r == nil {
			return
		}

		level, title := LevelSuccess, "Sync completed"
		switch {
		case r.Success:
		case r.TotalSuccess > 0:
			level, title = LevelWarning, "Sync completed with failures"
		default:
			level, title = LevelError, "Sync failed"
		}

		if _, err := c.Add(ctx, level, title, r.Message); err != nil {
			c.logger.Error("failed to add sync notification", "run_id", r.RunID, "error", err)
		}
	}
}

// NotifyApproval announces an approved establishment.
func (c *Center) NotifyApproval(ctx context.Context, record establishment.Record) {
	msg := fmt.Sprintf("%s was approved and will be published on the next sync.", record.Name)
	if _, err := c.Add(ctx, LevelSuccess, "Establishment approved", msg); err != nil {
		c.logger.Error("failed to add approval notification", "establishment_id", record.ID, "error", err)
	}
}

// NotifyRejection announces a rejected establishment.
func (c *Center) NotifyRejection(ctx context.Context, record establishment.Record, reason string) {
	msg := fmt.Sprintf("%s was rejected.", record.Name)
	if reason != "" {
		msg = fmt.Sprintf("%s was rejected: %s", record.Name, reason)
	}
	if _, err := c.Add(ctx, LevelWarning, "Establishment rejected", msg); err != nil {
		c.logger.Error("failed to add rejection notification", "establishment_id", record.ID, "error", err)
	}
}

// update applies fn to the stored list and saves the result.
func (c *Center) update(ctx context.Context, fn func([]Notification) ([]Notification, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	list, err := c.store.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("loading notifications: %w", err)
	}

	list, err = fn(list)
	if err != nil {
		return err
	}

	if err := c.store.SetNotifications(ctx, list); err != nil {
		return fmt.Errorf("saving notifications: %w", err)
	}
	return nil
}
