package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

// mockTracker implements tracker for testing.
type mockTracker struct {
	retryFunc func(ctx context.Context) (*sync.RunResult, error)
	startFunc func(ctx context.Context) (*sync.RunResult, error)
}

func (m *mockTracker) RetryFailedRun(ctx context.Context) (*sync.RunResult, error) {
	return m.retryFunc(ctx)
}

func (m *mockTracker) StartRun(ctx context.Context) (*sync.RunResult, error) {
	return m.startFunc(ctx)
}

// mockTicker implements ticker for testing.
type mockTicker struct {
	result *sync.RunResult
	err    error
}

func (m *mockTicker) Tick(context.Context) (*sync.RunResult, error) {
	return m.result, m.err
}

func TestHandler_Handle(t *testing.T) {
	t.Parallel()

	completed := &sync.RunResult{
		Message:        "Sync completed: 2 succeeded, 0 failed",
		Outcome:        sync.OutcomeCompleted,
		RunID:          "run-1",
		Success:        true,
		TotalProcessed: 2,
		TotalSuccess:   2,
	}
	rejected := &sync.RunResult{
		Err:     sync.ErrNothingToRetry,
		Message: "No failed items to retry",
		Outcome: sync.OutcomeNothingToRetry,
		Retry:   true,
	}

	tests := map[string]struct {
		action      string
		ticker      *mockTicker
		wantErr     string
		wantOutcome sync.Outcome
		wantSuccess bool
		wantError   string
	}{
		"sync": {
			action:      "sync",
			wantOutcome: sync.OutcomeCompleted,
			wantSuccess: true,
		},
		"retry with nothing failed": {
			action:      "retry",
			wantOutcome: sync.OutcomeNothingToRetry,
			wantError:   sync.ErrNothingToRetry.Error(),
		},
		"scheduled and due": {
			ticker:      &mockTicker{result: completed},
			wantOutcome: sync.OutcomeCompleted,
			wantSuccess: true,
		},
		"scheduled not due": {
			ticker:      &mockTicker{},
			wantSuccess: true,
		},
		"scheduled error": {
			ticker:  &mockTicker{err: errors.New("parameter store unavailable")},
			wantErr: "running scheduled: parameter store unavailable",
		},
		"unknown action": {
			action:  "reindex",
			wantErr: `unknown action "reindex"`,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			runner := tc.ticker
			if runner == nil {
				runner = &mockTicker{}
			}
			h := &handler{
				logger: slog.Default(),
				runner: runner,
				tracker: &mockTracker{
					retryFunc: func(context.Context) (*sync.RunResult, error) { return rejected, nil },
					startFunc: func(context.Context) (*sync.RunResult, error) { return completed, nil },
				},
			}

			resp, err := h.handle(context.Background(), Request{Action: tc.action})

			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantOutcome, resp.Outcome)
			require.Equal(t, tc.wantSuccess, resp.Success)
			require.Equal(t, tc.wantError, resp.Error)
		})
	}
}

func TestHandler_Cleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)

	h := &handler{logger: slog.Default()}
	resp, err := h.handle(ctx, Request{Action: "cleanup"})
	require.NoError(t, err)
	require.Equal(t, "Audit trail disabled", resp.Message)

	store := audit.NewMemoryStore()
	require.NoError(t, store.AppendEntry(ctx, audit.Entry{ID: "old", Time: now.AddDate(0, 0, -120)}))
	trail, err := audit.New(audit.Config{Clock: func() time.Time { return now }, Store: store})
	require.NoError(t, err)

	h.audit = trail
	resp, err = h.handle(ctx, Request{Action: "cleanup"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Removed)
	require.True(t, resp.Success)
}
