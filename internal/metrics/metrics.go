// Package metrics exposes sync activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

const namespace = "mapsync"

// Recorder holds the sync metrics and the registry they are exported from.
type Recorder struct {
	eligible    prometheus.Gauge
	inProgress  prometheus.Gauge
	items       *prometheus.CounterVec
	lastSuccess prometheus.Gauge
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including Go runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		eligible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_eligible_establishments",
			Help:      "Approved establishments waiting to be pushed to the map.",
		}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_run_in_progress",
			Help:      "1 while a sync run is active.",
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Establishments processed by result (created, updated, failed).",
		}, []string{"result"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_success_timestamp_seconds",
			Help:      "Unix time of the last fully successful sync run.",
		}),
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Finished or rejected sync runs by outcome.",
		}, []string{"outcome"}),
	}

	r.registry.MustRegister(
		r.eligible,
		r.inProgress,
		r.items,
		r.lastSuccess,
		r.runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Listener returns a sync listener that updates the metrics from status events.
func (r *Recorder) Listener() sync.Listener {
	return func(_ context.Context, event sync.Event) {
		if event.Status.InProgress {
			r.inProgress.Set(1)
		} else {
			r.inProgress.Set(0)
		}

		if item := event.Item; item != nil {
			switch {
			case item.Err != nil:
				r.items.WithLabelValues("failed").Inc()
			case item.Created:
				r.items.WithLabelValues("created").Inc()
			default:
				r.items.WithLabelValues("updated").Inc()
			}
		}

		if result := event.Result; result != nil {
			r.ObserveResult(result)
			if result.Success && event.Status.LastSync != nil {
				r.lastSuccess.Set(float64(event.Status.LastSync.Unix()))
			}
		}
	}
}

// ObserveResult counts a run by outcome. Rejected starts never reach listeners,
// so callers report them here directly.
func (r *Recorder) ObserveResult(result *sync.RunResult) {
	r.runs.WithLabelValues(string(result.Outcome)).Inc()
}

// SetEligible records the number of establishments waiting to be pushed.
func (r *Recorder) SetEligible(n int) {
	r.eligible.Set(float64(n))
}
