package commands

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/pixelpipe/internal/logger"
	"github.com/marmos91/pixelpipe/pkg/codec"
	"github.com/marmos91/pixelpipe/pkg/config"
	"github.com/marmos91/pixelpipe/pkg/metrics"
	"github.com/marmos91/pixelpipe/pkg/pipeline"
	"github.com/marmos91/pixelpipe/pkg/processors"
	"github.com/marmos91/pixelpipe/pkg/task"
)

var (
	fetchOutputDir string
	fetchFormat    string
	fetchQuality   int
	fetchPriority  string
	fetchTimeout   time.Duration

	fetchResize    string
	fetchThumbnail string
	fetchBlur      float64
	fetchGrayscale bool
	fetchSharpen   bool
	fetchRotate    int

	fetchServeMetrics bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch URL [URL...]",
	Short: "Fetch one or more images through the pipeline",
	Long: `Fetch images through the full pipeline: cache lookup, coalesced
download with resume support, decode, optional processing, and cache
population. Decoded results are written to the output directory.

Examples:
  # Fetch a single image
  pixelpipe fetch https://example.com/cat.jpg

  # Fetch thumbnails for a batch, as JPEG
  pixelpipe fetch --thumbnail 256x256 --format jpg https://example.com/a.png https://example.com/b.png

  # Grayscale and blur
  pixelpipe fetch --grayscale --blur 1.5 https://example.com/photo.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchOutputDir, "output", "o", ".", "Output directory")
	fetchCmd.Flags().StringVar(&fetchFormat, "format", "png", "Output format (png, jpg, gif, bmp, tiff)")
	fetchCmd.Flags().IntVar(&fetchQuality, "quality", 0, "JPEG quality (1-100)")
	fetchCmd.Flags().StringVar(&fetchPriority, "priority", "normal", "Load priority (very-low, low, normal, high, very-high)")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 2*time.Minute, "Overall timeout for the batch")

	fetchCmd.Flags().StringVar(&fetchResize, "resize", "", "Resize to WxH (0 preserves aspect ratio)")
	fetchCmd.Flags().StringVar(&fetchThumbnail, "thumbnail", "", "Scale and center-crop to WxH")
	fetchCmd.Flags().Float64Var(&fetchBlur, "blur", 0, "Gaussian blur sigma")
	fetchCmd.Flags().BoolVar(&fetchGrayscale, "grayscale", false, "Convert to grayscale")
	fetchCmd.Flags().BoolVar(&fetchSharpen, "sharpen", false, "Apply a sharpen kernel")
	fetchCmd.Flags().IntVar(&fetchRotate, "rotate", 0, "Rotate counter-clockwise (90, 180, 270)")

	fetchCmd.Flags().BoolVar(&fetchServeMetrics, "serve-metrics", false, "Expose Prometheus metrics while fetching")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	procs, err := buildProcessors()
	if err != nil {
		return err
	}
	pri, err := parsePriority(fetchPriority)
	if err != nil {
		return err
	}
	encoder, err := codec.NewEncoder(fetchFormat, fetchQuality)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(fetchOutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	engine, err := config.BuildEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("failed to close engine", logger.KeyError, err)
		}
	}()

	if fetchServeMetrics && cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Port)
	}

	var wg sync.WaitGroup
	var failures atomic.Int32

	for _, rawURL := range args {
		req := pipeline.NewRequest(rawURL,
			pipeline.WithProcessors(procs...),
			pipeline.WithPriority(pri),
		)
		wg.Add(1)
		engine.Pipeline.Load(req, func(ev pipeline.Event) {
			switch ev.Kind {
			case task.EventProgress:
				logger.Debug("downloading",
					logger.KeyURL, rawURL,
					logger.KeyBytes, ev.Progress.Completed,
					"total", ev.Progress.Total)
			case task.EventCompleted:
				defer wg.Done()
				out := outputPath(rawURL)
				if err := writeImage(encoder, ev.Value, out); err != nil {
					logger.Error("failed to write output", logger.KeyURL, rawURL, logger.KeyError, err)
					failures.Add(1)
					return
				}
				logger.Info("fetched",
					logger.KeyURL, rawURL,
					"output", out,
					"origin", ev.Value.Origin.String())
			case task.EventFailed:
				logger.Error("fetch failed", logger.KeyURL, rawURL, logger.KeyError, ev.Err)
				failures.Add(1)
				wg.Done()
			case task.EventCancelled:
				wg.Done()
			}
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(fetchTimeout):
		return fmt.Errorf("timed out after %s", fetchTimeout)
	}

	if n := failures.Load(); n > 0 {
		return fmt.Errorf("%d of %d fetches failed", n, len(args))
	}
	return nil
}

// buildProcessors assembles the processor chain from the fetch flags, in a
// fixed order: geometry first, then color, then convolution.
func buildProcessors() ([]pipeline.Processor, error) {
	var procs []pipeline.Processor

	if fetchResize != "" {
		w, h, err := parseSize(fetchResize)
		if err != nil {
			return nil, err
		}
		procs = append(procs, processors.Resize{Width: w, Height: h})
	}
	if fetchThumbnail != "" {
		w, h, err := parseSize(fetchThumbnail)
		if err != nil {
			return nil, err
		}
		procs = append(procs, processors.Thumbnail{Width: w, Height: h})
	}
	if fetchRotate != 0 {
		procs = append(procs, processors.Rotate{Degrees: fetchRotate})
	}
	if fetchGrayscale {
		procs = append(procs, processors.Grayscale{})
	}
	if fetchBlur > 0 {
		procs = append(procs, processors.GaussianBlur{Sigma: fetchBlur})
	}
	if fetchSharpen {
		procs = append(procs, processors.Sharpen{})
	}
	return procs, nil
}

func parseSize(s string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("invalid size %q, expected WxH", s)
	}
	return w, h, nil
}

func parsePriority(s string) (task.Priority, error) {
	switch strings.ToLower(s) {
	case "very-low":
		return task.PriorityVeryLow, nil
	case "low":
		return task.PriorityLow, nil
	case "normal", "":
		return task.PriorityNormal, nil
	case "high":
		return task.PriorityHigh, nil
	case "very-high":
		return task.PriorityVeryHigh, nil
	default:
		return 0, fmt.Errorf("invalid priority %q", s)
	}
}

// outputPath derives a filename from the URL path with the output format's
// extension.
func outputPath(rawURL string) string {
	name := "image"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = strings.TrimSuffix(base, path.Ext(base))
		}
	}
	ext := strings.TrimPrefix(strings.ToLower(fetchFormat), ".")
	return filepath.Join(fetchOutputDir, name+"."+ext)
}

func writeImage(encoder *codec.Encoder, resp *pipeline.Response, out string) error {
	data, err := encoder.Encode(resp.Image)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0644)
}

func serveMetrics(port int) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", logger.KeyError, err)
	}
}
