// Package metrics exports sync-core counters and histograms in Prometheus format.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dgsync"

// Metrics holds the collectors for one process. Each instance owns its own
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	queueDrains     prometheus.Counter
	queueProcessed  prometheus.Counter
	queueFailed     prometheus.Counter
	queuePending    prometheus.Gauge
	syncDuration    *prometheus.HistogramVec
	syncErrors      *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	embedRequests   *prometheus.CounterVec
	embedDuration   prometheus.Histogram
	orphansDeleted  prometheus.Counter
	importedNodes   *prometheus.CounterVec
	missingConcepts prometheus.Counter
}

// New creates a Metrics instance registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		queueDrains: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drains_total",
			Help:      "Total number of change queue drains",
		}),
		queueProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Total number of queued paths synced successfully",
		}),
		queueFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_failed_total",
			Help:      "Total number of queued paths whose sync failed",
		}),
		queuePending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Number of paths waiting for the next drain",
		}),
		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
		}, []string{"operation"}),
		syncErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Total number of failed sync operations",
		}, []string{"operation"}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_rows_total",
			Help:      "Total number of rows sent to the remote store",
		}, []string{"kind"}),
		embedRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding HTTP requests by outcome",
		}, []string{"outcome"}),
		embedDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Duration of embedding HTTP requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		orphansDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_deleted_total",
			Help:      "Total number of remote nodes deleted because their file is gone",
		}),
		importedNodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_nodes_total",
			Help:      "Total number of nodes imported from other spaces by outcome",
		}, []string{"outcome"}),
		missingConcepts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_concept_dependencies_total",
			Help:      "Total number of concept dependencies absent from an upload batch",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordDrain records one queue drain.
func (m *Metrics) RecordDrain(processed, failed int) {
	if m == nil {
		return
	}
	m.queueDrains.Inc()
	m.queueProcessed.Add(float64(processed))
	m.queueFailed.Add(float64(failed))
}

// SetPending sets the number of paths waiting in the queue.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.queuePending.Set(float64(n))
}

// ObserveSync records the duration and outcome of a sync operation.
func (m *Metrics) ObserveSync(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.syncErrors.WithLabelValues(operation).Inc()
	}
}

// AddUploads records rows uploaded; kind is "content" or "concept".
func (m *Metrics) AddUploads(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.uploads.WithLabelValues(kind).Add(float64(n))
}

// ObserveEmbedding records one embedding HTTP attempt.
func (m *Metrics) ObserveEmbedding(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.embedRequests.WithLabelValues(outcome).Inc()
	m.embedDuration.Observe(d.Seconds())
}

// AddOrphansDeleted records remote nodes removed by orphan cleanup.
func (m *Metrics) AddOrphansDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphansDeleted.Add(float64(n))
}

// RecordImport records the outcome counts of an import run.
func (m *Metrics) RecordImport(success, failed int) {
	if m == nil {
		return
	}
	m.importedNodes.WithLabelValues("success").Add(float64(success))
	m.importedNodes.WithLabelValues("failed").Add(float64(failed))
}

// AddMissingDependencies records concept dependencies that could not be
// resolved within an upload batch.
func (m *Metrics) AddMissingDependencies(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.missingConcepts.Add(float64(n))
}
