package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

func TestRecorder_Listener(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New()
	listener := r.Listener()

	listener(ctx, sync.Event{Status: sync.Status{InProgress: true}})
	require.Equal(t, float64(1), testutil.ToFloat64(r.inProgress))

	listener(ctx, sync.Event{Item: &sync.ItemResult{Created: true}, Status: sync.Status{InProgress: true}})
	listener(ctx, sync.Event{Item: &sync.ItemResult{}, Status: sync.Status{InProgress: true}})
	listener(ctx, sync.Event{Item: &sync.ItemResult{Err: errors.New("boom")}, Status: sync.Status{InProgress: true}})

	require.Equal(t, float64(1), testutil.ToFloat64(r.items.WithLabelValues("created")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.items.WithLabelValues("updated")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.items.WithLabelValues("failed")))

	lastSync := time.Unix(1717243200, 0).UTC()
	listener(ctx, sync.Event{
		Result: &sync.RunResult{Success: true, Outcome: sync.OutcomeCompleted},
		Status: sync.Status{LastSync: &lastSync},
	})

	require.Equal(t, float64(0), testutil.ToFloat64(r.inProgress))
	require.Equal(t, float64(1), testutil.ToFloat64(r.runs.WithLabelValues("completed")))
	require.Equal(t, float64(1717243200), testutil.ToFloat64(r.lastSuccess))
}

func TestRecorder_FailedRunKeepsLastSuccess(t *testing.T) {
	t.Parallel()

	r := New()
	lastSync := time.Unix(100, 0)

	r.Listener()(context.Background(), sync.Event{
		Result: &sync.RunResult{Outcome: sync.OutcomePartial},
		Status: sync.Status{LastSync: &lastSync},
	})

	require.Equal(t, float64(0), testutil.ToFloat64(r.lastSuccess))
	require.Equal(t, float64(1), testutil.ToFloat64(r.runs.WithLabelValues("partial")))
}

func TestRecorder_Handler(t *testing.T) {
	t.Parallel()

	r := New()
	r.SetEligible(3)
	r.ObserveResult(&sync.RunResult{Outcome: sync.OutcomeAlreadyRunning})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "mapsync_sync_eligible_establishments 3")
	require.Contains(t, body, `mapsync_sync_runs_total{outcome="already_running"} 1`)
	require.True(t, strings.Contains(body, "go_goroutines"))
}

func TestRecorder_Gather(t *testing.T) {
	t.Parallel()

	r := New()
	r.SetEligible(2)

	expected := `
# HELP mapsync_sync_eligible_establishments Approved establishments waiting to be pushed to the map.
# TYPE mapsync_sync_eligible_establishments gauge
mapsync_sync_eligible_establishments 2
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "mapsync_sync_eligible_establishments"))
}
