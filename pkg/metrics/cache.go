package metrics

import (
	"github.com/marmos91/pixelpipe/pkg/cache"
)

// NewMemoryMetrics creates a Prometheus-backed cache.MemoryMetrics, or nil
// when metrics are not enabled.
func NewMemoryMetrics() cache.MemoryMetrics {
	if !IsEnabled() || newPrometheusMemoryMetrics == nil {
		return nil
	}
	return newPrometheusMemoryMetrics()
}

// NewStoreMetrics creates a Prometheus-backed cache.StoreMetrics, or nil
// when metrics are not enabled.
func NewStoreMetrics() cache.StoreMetrics {
	if !IsEnabled() || newPrometheusStoreMetrics == nil {
		return nil
	}
	return newPrometheusStoreMetrics()
}

var (
	newPrometheusMemoryMetrics func() cache.MemoryMetrics
	newPrometheusStoreMetrics  func() cache.StoreMetrics
)

// RegisterMemoryMetricsConstructor registers the Prometheus constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterMemoryMetricsConstructor(constructor func() cache.MemoryMetrics) {
	newPrometheusMemoryMetrics = constructor
}

// RegisterStoreMetricsConstructor registers the Prometheus constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterStoreMetricsConstructor(constructor func() cache.StoreMetrics) {
	newPrometheusStoreMetrics = constructor
}
