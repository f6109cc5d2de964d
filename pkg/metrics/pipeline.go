package metrics

import (
	"github.com/marmos91/pixelpipe/pkg/pipeline"
)

// NewPipelineMetrics creates a Prometheus-backed pipeline.Metrics.
//
// Returns nil when metrics are not enabled (InitRegistry not called); pass
// the nil straight to pipeline.Config for zero overhead.
func NewPipelineMetrics() pipeline.Metrics {
	if !IsEnabled() || newPrometheusPipelineMetrics == nil {
		return nil
	}
	return newPrometheusPipelineMetrics()
}

// newPrometheusPipelineMetrics is implemented in pkg/metrics/prometheus.
// The indirection avoids an import cycle while keeping the API here.
var newPrometheusPipelineMetrics func() pipeline.Metrics

// RegisterPipelineMetricsConstructor registers the Prometheus constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterPipelineMetricsConstructor(constructor func() pipeline.Metrics) {
	newPrometheusPipelineMetrics = constructor
}
