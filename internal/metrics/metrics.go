package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"PlumFinder/internal/domain"
)

// Recorder holds the collectors of one pipeline run. Each run gets its own
// registry so a push never carries totals from an earlier run.
type Recorder struct {
	registry *prometheus.Registry

	ItemsFetched    *prometheus.CounterVec
	QueryFailures   *prometheus.CounterVec
	ItemsDropped    *prometheus.CounterVec
	ItemsEnriched   prometheus.Counter
	ImagesAnalyzed  prometheus.Counter
	ItemsRanked     prometheus.Gauge
	ItemsDelivered  prometheus.Counter
	ItemsRecorded   prometheus.Counter
	RunDuration     prometheus.Gauge
	RunState        *prometheus.GaugeVec
	LastRunFinished prometheus.Gauge
}

// New registers the run collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ItemsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plumfinder_items_fetched_total",
			Help: "Normalized listings fetched per source before dedup.",
		}, []string{"source"}),
		QueryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plumfinder_query_failures_total",
			Help: "Source-query pairs that produced no results.",
		}, []string{"source", "kind"}),
		ItemsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plumfinder_items_dropped_total",
			Help: "Listings removed by a pipeline stage.",
		}, []string{"stage"}),
		ItemsEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plumfinder_items_enriched_total",
			Help: "Listings completed from their own page.",
		}),
		ImagesAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plumfinder_images_analyzed_total",
			Help: "Listing images decoded and scored.",
		}),
		ItemsRanked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plumfinder_items_ranked",
			Help: "Candidates left after threshold and top-K.",
		}),
		ItemsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plumfinder_items_delivered_total",
			Help: "Listings accepted by the delivery channel.",
		}),
		ItemsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plumfinder_items_recorded_total",
			Help: "New fingerprints written to the seen store.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plumfinder_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		RunState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plumfinder_run_state",
			Help: "1 for the final state of the last run.",
		}, []string{"state"}),
		LastRunFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plumfinder_last_run_finished_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	r.registry.MustRegister(
		r.ItemsFetched, r.QueryFailures, r.ItemsDropped, r.ItemsEnriched, r.ImagesAnalyzed,
		r.ItemsRanked, r.ItemsDelivered, r.ItemsRecorded,
		r.RunDuration, r.RunState, r.LastRunFinished,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Finish records the final state and duration.
func (r *Recorder) Finish(state domain.RunState, started, finished time.Time) {
	r.RunDuration.Set(finished.Sub(started).Seconds())
	r.RunState.WithLabelValues(string(state)).Set(1)
	r.LastRunFinished.Set(float64(finished.Unix()))
}

// Pusher sends a run's metrics to a Prometheus Pushgateway.
type Pusher struct {
	url string
	job string
}

// NewPusher returns nil when no gateway is configured.
func NewPusher(url, job string) *Pusher {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "plumfinder"
	}
	return &Pusher{url: url, job: job}
}

// Push replaces the job's metric group on the gateway. A nil Pusher is a
// no-op.
func (p *Pusher) Push(ctx context.Context, r *Recorder) error {
	if p == nil || r == nil {
		return nil
	}
	if err := push.New(p.url, p.job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
