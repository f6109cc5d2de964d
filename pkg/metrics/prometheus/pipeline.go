// Package prometheus holds the Prometheus implementations of the metrics
// interfaces consumed across the engine. Importing it registers the typed
// constructors with pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/pixelpipe/pkg/metrics"
	"github.com/marmos91/pixelpipe/pkg/pipeline"
)

func init() {
	metrics.RegisterPipelineMetricsConstructor(newPipelineMetrics)
	metrics.RegisterMemoryMetricsConstructor(newMemoryMetrics)
	metrics.RegisterStoreMetricsConstructor(newStoreMetrics)
}

// pipelineMetrics implements pipeline.Metrics.
type pipelineMetrics struct {
	requests      prometheus.Counter
	outcomes      *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	coalesced     prometheus.Counter
	cacheRequests *prometheus.CounterVec
}

func newPipelineMetrics() pipeline.Metrics {
	reg := metrics.GetRegistry()
	return &pipelineMetrics{
		requests: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pixelpipe_requests_total",
			Help: "Total number of image load requests",
		}),
		outcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelpipe_loads_total",
				Help: "Terminal load outcomes by result and origin",
			},
			[]string{"result", "origin"}, // result: completed|failed|cancelled
		),
		loadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelpipe_load_duration_seconds",
				Help:    "Wall time from request to terminal event",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"result", "origin"},
		),
		coalesced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pixelpipe_requests_coalesced_total",
			Help: "Requests that joined already in-flight work",
		}),
		cacheRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelpipe_cache_requests_total",
				Help: "Cache probes by tier and status",
			},
			[]string{"tier", "status"}, // status: hit|miss
		),
	}
}

func (m *pipelineMetrics) RecordRequest() {
	m.requests.Inc()
}

func (m *pipelineMetrics) RecordCompleted(origin pipeline.Origin, d time.Duration) {
	m.outcomes.WithLabelValues("completed", origin.String()).Inc()
	m.loadDuration.WithLabelValues("completed", origin.String()).Observe(d.Seconds())
}

func (m *pipelineMetrics) RecordFailed(d time.Duration) {
	m.outcomes.WithLabelValues("failed", "none").Inc()
	m.loadDuration.WithLabelValues("failed", "none").Observe(d.Seconds())
}

func (m *pipelineMetrics) RecordCancelled() {
	m.outcomes.WithLabelValues("cancelled", "none").Inc()
}

func (m *pipelineMetrics) RecordCoalesced() {
	m.coalesced.Inc()
}

func (m *pipelineMetrics) RecordCacheHit(tier string) {
	m.cacheRequests.WithLabelValues(tier, "hit").Inc()
}

func (m *pipelineMetrics) RecordCacheMiss(tier string) {
	m.cacheRequests.WithLabelValues(tier, "miss").Inc()
}
