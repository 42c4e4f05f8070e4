package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

func newCenter(t *testing.T) *Center {
	t.Helper()

	now := time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)
	c, err := NewCenter(NewMemoryStore(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return c
}

func TestNewCenter(t *testing.T) {
	t.Parallel()

	_, err := NewCenter(nil)
	require.Error(t, err)

	c, err := NewCenter(NewMemoryStore(), WithLogger(nil), WithClock(nil))
	require.NoError(t, err)
	require.NotNil(t, c.logger)
	require.NotNil(t, c.now)
}

func TestCenter_AddAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCenter(t)

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
	require.NotNil(t, list)

	first, err := c.Add(ctx, LevelInfo, "First", "one")
	require.NoError(t, err)
	second, err := c.Add(ctx, LevelError, "Second", "two")
	require.NoError(t, err)

	list, err = c.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []Notification{second, first}, list)
}

func TestCenter_AddKeepsNewest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCenter(t)

	for i := range MaxNotifications + 5 {
		_, err := c.Add(ctx, LevelInfo, fmt.Sprintf("n%d", i), "")
		require.NoError(t, err)
	}

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, MaxNotifications)
	require.Equal(t, fmt.Sprintf("n%d", MaxNotifications+4), list[0].Title)
	require.Equal(t, "n5", list[len(list)-1].Title)
}

func TestCenter_MarkReadAndRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCenter(t)

	a, err := c.Add(ctx, LevelInfo, "A", "")
	require.NoError(t, err)
	b, err := c.Add(ctx, LevelInfo, "B", "")
	require.NoError(t, err)

	unread, err := c.Unread(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, unread)

	require.NoError(t, c.MarkRead(ctx, a.ID))
	unread, err = c.Unread(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, unread)

	err = c.MarkRead(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Remove(ctx, b.ID))
	require.ErrorIs(t, c.Remove(ctx, b.ID), ErrNotFound)

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, a.ID, list[0].ID)
	require.True(t, list[0].Read)

	_, err = c.Add(ctx, LevelInfo, "C", "")
	require.NoError(t, err)
	require.NoError(t, c.MarkAllRead(ctx))
	unread, err = c.Unread(ctx)
	require.NoError(t, err)
	require.Zero(t, unread)
}

func TestCenter_Listener(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		result    *sync.RunResult
		wantLevel Level
		wantTitle string
	}{
		"success": {
			result:    &sync.RunResult{Success: true, Message: "Sync completed: 2 succeeded, 0 failed"},
			wantLevel: LevelSuccess,
			wantTitle: "Sync completed",
		},
		"partial": {
			result:    &sync.RunResult{TotalSuccess: 1, TotalFailed: 1},
			wantLevel: LevelWarning,
			wantTitle: "Sync completed with failures",
		},
		"failed": {
			result:    &sync.RunResult{TotalFailed: 2},
			wantLevel: LevelError,
			wantTitle: "Sync failed",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			c := newCenter(t)
			listener := c.Listener()

			listener(ctx, sync.Event{Entry: &sync.LogEntry{Message: "progress"}})
			listener(ctx, sync.Event{Result: tc.result})

			list, err := c.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			require.Equal(t, tc.wantLevel, list[0].Level)
			require.Equal(t, tc.wantTitle, list[0].Title)
			require.Equal(t, tc.result.Message, list[0].Message)
		})
	}
}

func TestCenter_Notifier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newCenter(t)
	record := establishment.Record{ID: "e1", Name: "Açaí do Zé"}

	c.NotifyApproval(ctx, record)
	c.NotifyRejection(ctx, record, "")
	c.NotifyRejection(ctx, record, "closed")

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "Açaí do Zé was rejected: closed", list[0].Message)
	require.Equal(t, "Açaí do Zé was rejected.", list[1].Message)
	require.Equal(t, "Establishment approved", list[2].Title)
}

// brokenStore fails to load.
type brokenStore struct{}

func (brokenStore) Notifications(context.Context) ([]Notification, error) {
	return nil, errors.New("unavailable")
}

func (brokenStore) SetNotifications(context.Context, []Notification) error {
	return nil
}

func TestCenter_StoreError(t *testing.T) {
	t.Parallel()

	c, err := NewCenter(brokenStore{})
	require.NoError(t, err)

	_, err = c.Add(context.Background(), LevelInfo, "x", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "loading notifications")

	_, err = c.List(context.Background())
	require.Error(t, err)
}
