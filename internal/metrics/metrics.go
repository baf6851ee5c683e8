// Package metrics exports commit and cache metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scheduler"

// Recorder owns a private registry. A nil *Recorder records nothing.
type Recorder struct {
	registry          *prometheus.Registry
	commits           *prometheus.CounterVec
	commitDuration    prometheus.Histogram
	conflicts         prometheus.Counter
	snapshots         *prometheus.CounterVec
	entities          *prometheus.GaugeVec
	repositoryVersion prometheus.Gauge
}

// New registers the scheduler metrics plus the Go and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Committed transactions by result.",
		}, []string{"result"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time spent inside the commit pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_warnings_total",
			Help:      "Allocation conflicts reported to callers.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot saves by result.",
		}, []string{"result"}),
		entities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_entities",
			Help:      "Entities held by the cache per type.",
		}, []string{"type"}),
		repositoryVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "repository_version",
			Help:      "Version of the last committed transaction.",
		}),
	}
	r.registry.MustRegister(
		r.commits,
		r.commitDuration,
		r.conflicts,
		r.snapshots,
		r.entities,
		r.repositoryVersion,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the registry for tests and additional collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveCommit records one pass through the commit pipeline. kind is the
// error label of a failed commit and empty on success.
func (r *Recorder) ObserveCommit(kind string, d time.Duration) {
	if r == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	r.commits.WithLabelValues(kind).Inc()
	r.commitDuration.Observe(d.Seconds())
}

// ObserveConflicts adds n reported conflicts.
func (r *Recorder) ObserveConflicts(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.conflicts.Add(float64(n))
}

// ObserveSnapshot records a snapshot save.
func (r *Recorder) ObserveSnapshot(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.snapshots.WithLabelValues(result).Inc()
}

// SetCacheState publishes the repository version and per-type counts.
func (r *Recorder) SetCacheState(version int64, counts map[string]int) {
	if r == nil {
		return
	}
	r.repositoryVersion.Set(float64(version))
	for t, n := range counts {
		r.entities.WithLabelValues(t).Set(float64(n))
	}
}
