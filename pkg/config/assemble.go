package config

import (
	"fmt"
	"image"

	"github.com/marmos91/pixelpipe/internal/logger"
	"github.com/marmos91/pixelpipe/pkg/cache/disk"
	"github.com/marmos91/pixelpipe/pkg/cache/memory"
	"github.com/marmos91/pixelpipe/pkg/codec"
	"github.com/marmos91/pixelpipe/pkg/metrics"
	"github.com/marmos91/pixelpipe/pkg/pipeline"
	"github.com/marmos91/pixelpipe/pkg/ratelimit"
	"github.com/marmos91/pixelpipe/pkg/transport/httploader"

	// Registers the Prometheus metrics constructors.
	_ "github.com/marmos91/pixelpipe/pkg/metrics/prometheus"
)

// Engine bundles an assembled pipeline with the resources it owns.
type Engine struct {
	Pipeline *pipeline.Pipeline

	// Memory is the decoded-artifact tier, nil when disabled.
	Memory *memory.Cache[image.Image]

	// Disk is the persistent tier, nil when disabled. Closed by Close.
	Disk *disk.Store
}

// Close flushes and releases the engine's owned resources.
func (e *Engine) Close() error {
	if e.Disk == nil {
		return nil
	}
	if err := e.Disk.Flush(); err != nil {
		logger.Warn("flush on close failed", logger.KeyError, err)
	}
	return e.Disk.Close()
}

// BuildEngine materializes a ready-to-use engine from cfg. When metrics are
// enabled the process-wide registry is initialized as a side effect.
func BuildEngine(cfg *Config) (*Engine, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	eng := &Engine{}

	if cfg.MemoryCache.Enabled {
		eng.Memory = memory.New[image.Image](memory.Config{
			CostLimit:  cfg.MemoryCache.CostLimit.Int64(),
			CountLimit: cfg.MemoryCache.CountLimit,
		}, metrics.NewMemoryMetrics())
	}

	if cfg.DiskCache.Enabled {
		store, err := disk.Open(disk.Config{
			Path:          cfg.DiskCache.Path,
			SizeLimit:     cfg.DiskCache.SizeLimit.Int64(),
			FlushInterval: cfg.DiskCache.FlushInterval,
			SweepInterval: cfg.DiskCache.SweepInterval,
		}, metrics.NewStoreMetrics())
		if err != nil {
			return nil, fmt.Errorf("failed to open disk cache: %w", err)
		}
		eng.Disk = store
	}

	encoder, err := codec.NewEncoder(cfg.Pipeline.EncodeFormat, cfg.Pipeline.EncodeQuality)
	if err != nil {
		return nil, err
	}

	pcfg := pipeline.Config{
		Transport: httploader.New(httploader.Config{
			UserAgent: cfg.HTTP.UserAgent,
			ChunkSize: int(cfg.HTTP.ChunkSize),
		}),
		Decoder:            codec.NewDecoder(),
		Encoder:            encoder,
		Metrics:            metrics.NewPipelineMetrics(),
		Limiter:            ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Burst),
		StoreOriginal:      cfg.Pipeline.StoreOriginal,
		StoreProcessed:     cfg.Pipeline.StoreProcessed,
		LoadConcurrency:    cfg.Pipeline.LoadConcurrency,
		DecodeConcurrency:  cfg.Pipeline.DecodeConcurrency,
		ProcessConcurrency: cfg.Pipeline.ProcessConcurrency,
		EncodeConcurrency:  cfg.Pipeline.EncodeConcurrency,
		ResumeEntries:      cfg.Pipeline.ResumeEntries,
	}
	if eng.Memory != nil {
		pcfg.Memory = eng.Memory
	}
	if eng.Disk != nil {
		pcfg.Disk = eng.Disk
	}

	p, err := pipeline.New(pcfg)
	if err != nil {
		if eng.Disk != nil {
			_ = eng.Disk.Close()
		}
		return nil, err
	}
	eng.Pipeline = p
	return eng, nil
}
