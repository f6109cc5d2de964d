package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/pixelpipe/pkg/cache"
	"github.com/marmos91/pixelpipe/pkg/metrics"
)

// memoryMetrics implements cache.MemoryMetrics.
type memoryMetrics struct {
	lookups   *prometheus.CounterVec
	evictions prometheus.Counter
	usageCost prometheus.Gauge
	usageLen  prometheus.Gauge
}

func newMemoryMetrics() cache.MemoryMetrics {
	reg := metrics.GetRegistry()
	return &memoryMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelpipe_memory_cache_lookups_total",
				Help: "Memory cache lookups by status",
			},
			[]string{"status"}, // hit|miss
		),
		evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pixelpipe_memory_cache_evictions_total",
			Help: "Entries evicted from the memory cache",
		}),
		usageCost: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pixelpipe_memory_cache_cost_bytes",
			Help: "Current total cost held by the memory cache",
		}),
		usageLen: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pixelpipe_memory_cache_entries",
			Help: "Current number of entries in the memory cache",
		}),
	}
}

func (m *memoryMetrics) RecordHit()  { m.lookups.WithLabelValues("hit").Inc() }
func (m *memoryMetrics) RecordMiss() { m.lookups.WithLabelValues("miss").Inc() }

func (m *memoryMetrics) RecordEviction(count int) {
	m.evictions.Add(float64(count))
}

func (m *memoryMetrics) RecordUsage(totalCost int64, count int) {
	m.usageCost.Set(float64(totalCost))
	m.usageLen.Set(float64(count))
}

// storeMetrics implements cache.StoreMetrics.
type storeMetrics struct {
	readBytes     prometheus.Histogram
	readDuration  prometheus.Histogram
	writeBytes    prometheus.Histogram
	writeDuration prometheus.Histogram
	flushDuration prometheus.Histogram
	sweepRemoved  prometheus.Counter
	sweepFreed    prometheus.Counter
}

var byteBuckets = []float64{
	1 << 10, // 1KB
	8 << 10,
	64 << 10,
	256 << 10,
	1 << 20, // 1MB
	4 << 20,
	16 << 20,
}

func newStoreMetrics() cache.StoreMetrics {
	reg := metrics.GetRegistry()
	return &storeMetrics{
		readBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelpipe_store_read_bytes",
			Help:    "Distribution of bytes read from the persistent store",
			Buckets: byteBuckets,
		}),
		readDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelpipe_store_read_duration_seconds",
			Help:    "Duration of persistent store reads",
			Buckets: prometheus.DefBuckets,
		}),
		writeBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelpipe_store_write_bytes",
			Help:    "Distribution of bytes staged for the persistent store",
			Buckets: byteBuckets,
		}),
		writeDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelpipe_store_write_duration_seconds",
			Help:    "Duration of persistent store write staging",
			Buckets: prometheus.DefBuckets,
		}),
		flushDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelpipe_store_flush_duration_seconds",
			Help:    "Duration of explicit persistent store flushes",
			Buckets: prometheus.DefBuckets,
		}),
		sweepRemoved: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pixelpipe_store_sweep_removed_total",
			Help: "Entries removed by size-limit sweeps",
		}),
		sweepFreed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pixelpipe_store_sweep_freed_bytes_total",
			Help: "Bytes freed by size-limit sweeps",
		}),
	}
}

func (m *storeMetrics) ObserveRead(bytes int64, d time.Duration) {
	m.readBytes.Observe(float64(bytes))
	m.readDuration.Observe(d.Seconds())
}

func (m *storeMetrics) ObserveWrite(bytes int64, d time.Duration) {
	m.writeBytes.Observe(float64(bytes))
	m.writeDuration.Observe(d.Seconds())
}

func (m *storeMetrics) RecordFlush(d time.Duration) {
	m.flushDuration.Observe(d.Seconds())
}

func (m *storeMetrics) RecordSweep(removed int, bytesFreed int64) {
	m.sweepRemoved.Add(float64(removed))
	m.sweepFreed.Add(float64(bytesFreed))
}
