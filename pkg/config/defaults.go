package config

import (
	"strings"
	"time"

	"github.com/marmos91/pixelpipe/internal/bytesize"
	"github.com/marmos91/pixelpipe/pkg/bufpool"
	"github.com/marmos91/pixelpipe/pkg/cache/memory"
	"github.com/marmos91/pixelpipe/pkg/codec"
	"github.com/marmos91/pixelpipe/pkg/pipeline"
	"github.com/marmos91/pixelpipe/pkg/ratelimit"
)

// GetDefaultConfig returns a complete configuration with every field set to
// its default.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills any zero-valued field with its default. Explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyPipelineDefaults(&cfg.Pipeline)
	applyMemoryCacheDefaults(&cfg.MemoryCache)
	applyDiskCacheDefaults(&cfg.DiskCache)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyHTTPDefaults(&cfg.HTTP)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyPipelineDefaults(cfg *PipelineConfig) {
	if cfg.LoadConcurrency == 0 {
		cfg.LoadConcurrency = pipeline.DefaultLoadConcurrency
	}
	if cfg.DecodeConcurrency == 0 {
		cfg.DecodeConcurrency = pipeline.DefaultDecodeConcurrency
	}
	if cfg.ProcessConcurrency == 0 {
		cfg.ProcessConcurrency = pipeline.DefaultProcessConcurrency
	}
	if cfg.EncodeConcurrency == 0 {
		cfg.EncodeConcurrency = pipeline.DefaultEncodeConcurrency
	}
	if cfg.EncodeFormat == "" {
		cfg.EncodeFormat = "png"
	}
	if cfg.EncodeQuality == 0 {
		cfg.EncodeQuality = codec.DefaultJPEGQuality
	}
}

func applyMemoryCacheDefaults(cfg *MemoryCacheConfig) {
	if cfg.CostLimit == 0 {
		cfg.CostLimit = bytesize.ByteSize(memory.DefaultCostLimit)
	}
	if cfg.CountLimit == 0 {
		cfg.CountLimit = memory.DefaultCountLimit
	}
}

func applyDiskCacheDefaults(cfg *DiskCacheConfig) {
	if cfg.SizeLimit == 0 {
		cfg.SizeLimit = bytesize.ByteSize(1 << 30)
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}
}

func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.Rate == 0 {
		cfg.Rate = ratelimit.DefaultRate
	}
	if cfg.Burst == 0 {
		cfg.Burst = ratelimit.DefaultBurst
	}
}

func applyHTTPDefaults(cfg *HTTPConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bytesize.ByteSize(bufpool.DefaultChunkSize)
	}
}
