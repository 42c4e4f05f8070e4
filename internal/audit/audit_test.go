package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

var testNow = time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)

func newTrail(t *testing.T, store Store, maxEntries int) *Trail {
	t.Helper()

	trail, err := New(Config{
		Clock:      func() time.Time { return testNow },
		MaxEntries: maxEntries,
		Store:      store,
	})
	require.NoError(t, err)
	return trail
}

// failingStore fails every write.
type failingStore struct {
	MemoryStore
}

func (f *failingStore) AppendEntry(context.Context, Entry) error {
	return errors.New("disk full")
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg     Config
		wantErr string
	}{
		"missing store": {
			cfg:     Config{},
			wantErr: "audit store is required",
		},
		"negative max entries": {
			cfg:     Config{Store: NewMemoryStore(), MaxEntries: -1},
			wantErr: "max entries cannot be negative",
		},
		"negative retention": {
			cfg:     Config{Store: NewMemoryStore(), Retention: -time.Hour},
			wantErr: "retention cannot be negative",
		},
		"defaults": {
			cfg: Config{Store: NewMemoryStore()},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			trail, err := New(tc.cfg)

			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, defaultMaxEntries, trail.maxEntries)
			require.Equal(t, defaultRetention, trail.retention)
		})
	}
}

func TestTrail_Record(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	trail := newTrail(t, store, 0)

	entry, err := trail.Record(context.Background(), CategorySettings, "", "Schedule updated", map[string]string{"interval_minutes": "30"})

	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	require.Equal(t, SystemUser, entry.User)
	require.Equal(t, testNow, entry.Time)

	entries, err := trail.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Equal(t, []Entry{entry}, entries)
}

func TestTrail_RecordTrimsToMaxEntries(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	clock := testNow
	trail, err := New(Config{
		Clock:      func() time.Time { clock = clock.Add(time.Second); return clock },
		MaxEntries: 3,
		Store:      store,
	})
	require.NoError(t, err)

	for _, d := range []string{"one", "two", "three", "four", "five"} {
		_, err := trail.Record(context.Background(), CategorySubmission, "admin", d, nil)
		require.NoError(t, err)
	}

	entries, err := trail.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "five", entries[0].Description)
	require.Equal(t, "three", entries[2].Description)
}

func TestTrail_RecordStoreError(t *testing.T) {
	t.Parallel()

	trail := newTrail(t, &failingStore{}, 0)

	_, err := trail.Record(context.Background(), CategorySettings, "admin", "x", nil)

	require.Error(t, err)
	require.Contains(t, err.Error(), "appending audit entry")
}

func TestFilter_Match(t *testing.T) {
	t.Parallel()

	entry := Entry{
		Category:    CategoryApproval,
		Description: "Establishment approved: Café Satoshi",
		Details:     map[string]string{"establishment_id": "abc-123"},
		Time:        testNow,
		User:        "admin",
	}

	tests := map[string]struct {
		filter Filter
		want   bool
	}{
		"empty filter":        {filter: Filter{}, want: true},
		"category match":      {filter: Filter{Category: CategoryApproval}, want: true},
		"category mismatch":   {filter: Filter{Category: CategoryRejection}, want: false},
		"user mismatch":       {filter: Filter{User: "system"}, want: false},
		"text in description": {filter: Filter{Text: "SATOSHI"}, want: true},
		"text in details":     {filter: Filter{Text: "abc-1"}, want: true},
		"text missing":        {filter: Filter{Text: "pizza"}, want: false},
		"since inclusive":     {filter: Filter{Since: testNow}, want: true},
		"since after":         {filter: Filter{Since: testNow.Add(time.Second)}, want: false},
		"until exclusive":     {filter: Filter{Until: testNow}, want: false},
		"until after":         {filter: Filter{Until: testNow.Add(time.Second)}, want: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.filter.Match(entry))
		})
	}
}

func TestMemoryStore_EntriesLimitAndOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.AppendEntry(ctx, Entry{ID: "old", Time: testNow.Add(-time.Hour)}))
	require.NoError(t, store.AppendEntry(ctx, Entry{ID: "new", Time: testNow}))
	require.NoError(t, store.AppendEntry(ctx, Entry{ID: "middle", Time: testNow.Add(-time.Minute)}))

	all, err := store.Entries(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, []string{"new", "middle", "old"}, ids(all))

	limited, err := store.Entries(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"new", "middle"}, ids(limited))
}

func TestTrail_Cleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.AppendEntry(ctx, Entry{ID: "ancient", Time: testNow.Add(-100 * 24 * time.Hour)}))
	require.NoError(t, store.AppendEntry(ctx, Entry{ID: "recent", Time: testNow.Add(-24 * time.Hour)}))
	trail := newTrail(t, store, 0)

	removed, err := trail.Cleanup(ctx)

	require.NoError(t, err)
	require.Equal(t, 1, removed)

	entries, err := trail.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, CategoryMaintenance, entries[0].Category)
	require.Equal(t, "Removed 1 audit entries older than 90 days", entries[0].Description)
	require.Equal(t, "recent", entries[1].ID)

	removed, err = trail.Cleanup(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestTrail_Listener(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	trail := newTrail(t, store, 0)
	listener := trail.Listener()

	listener(ctx, sync.Event{Status: sync.Status{RunID: "run-1"}})
	listener(ctx, sync.Event{
		Entry:  &sync.LogEntry{Message: "Starting sync run", Severity: sync.SeverityInfo},
		Status: sync.Status{RunID: "run-1"},
	})
	listener(ctx, sync.Event{
		Entry:  &sync.LogEntry{Message: "Sync completed: 1 succeeded, 1 failed", Severity: sync.SeverityWarning},
		Result: &sync.RunResult{TotalSuccess: 1, TotalFailed: 1},
		Status: sync.Status{RunID: "run-1"},
	})

	entries, err := trail.List(ctx, Filter{Category: CategoryMapSync})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var final Entry
	for _, e := range entries {
		if e.Details["outcome"] != "" {
			final = e
		}
	}
	require.Equal(t, "partial", final.Details["outcome"])
	require.Equal(t, "1", final.Details["succeeded"])
	require.Equal(t, "1", final.Details["failed"])
	require.Equal(t, "run-1", final.Details["run_id"])
	require.Equal(t, SystemUser, final.User)
}

func TestRunOutcome(t *testing.T) {
	t.Parallel()

	require.Equal(t, "success", runOutcome(&sync.RunResult{Success: true}))
	require.Equal(t, "partial", runOutcome(&sync.RunResult{TotalSuccess: 2, TotalFailed: 1}))
	require.Equal(t, "failed", runOutcome(&sync.RunResult{TotalFailed: 3}))
}

func TestTrail_Notifier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail := newTrail(t, NewMemoryStore(), 0)
	record := establishment.Record{ID: "e1", Name: "Padaria Lightning"}

	trail.NotifyApproval(ctx, record)
	trail.NotifyRejection(ctx, record, "duplicate")

	approvals, err := trail.List(ctx, Filter{Category: CategoryApproval})
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	require.Equal(t, "Establishment approved: Padaria Lightning", approvals[0].Description)

	rejections, err := trail.List(ctx, Filter{Category: CategoryRejection})
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	require.Equal(t, "duplicate", rejections[0].Details["reason"])
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
