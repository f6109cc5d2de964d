// Package httploader implements the pipeline's Transport over net/http,
// streaming response bodies through pooled chunk buffers.
package httploader

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/marmos91/pixelpipe/pkg/bufpool"
	"github.com/marmos91/pixelpipe/pkg/pipeline"
	"github.com/marmos91/pixelpipe/pkg/resume"
)

// Config tunes the loader. The zero value is usable.
type Config struct {
	// Client overrides the HTTP client. Defaults to a dedicated client
	// with connection pooling and no whole-request timeout, since large
	// transfers are bounded by context cancellation instead.
	Client *http.Client

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// ChunkSize is the body read granularity.
	ChunkSize int
}

// Loader fetches bytes over HTTP. Safe for concurrent use.
type Loader struct {
	client    *http.Client
	userAgent string
	chunkSize int
	pool      *bufpool.Pool
}

var _ pipeline.Transport = (*Loader)(nil)

// New creates a loader from cfg.
func New(cfg Config) *Loader {
	if cfg.Client == nil {
		cfg.Client = defaultClient()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = bufpool.DefaultChunkSize
	}
	return &Loader{
		client:    cfg.Client,
		userAgent: cfg.UserAgent,
		chunkSize: cfg.ChunkSize,
		pool:      bufpool.NewPool(cfg.ChunkSize, bufpool.DefaultLargeSize),
	}
}

// Fetch performs one GET, streaming the body into sink chunk by chunk.
// Resume headers set by the caller (Range, If-Range) pass through untouched.
// The transfer aborts when ctx is cancelled.
func (l *Loader) Fetch(ctx context.Context, req pipeline.FetchRequest, sink pipeline.DataSink) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("httploader: build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if l.userAgent != "" {
		httpReq.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("httploader: %w", err)
	}
	defer resp.Body.Close()

	sink.OnResponse(&resume.ResponseMeta{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	})
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("httploader: unexpected status %s", resp.Status)
	}

	buf := l.pool.Get(l.chunkSize)
	defer l.pool.Put(buf)

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			sink.OnData(buf[:n])
		}
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return fmt.Errorf("httploader: read body: %w", err)
		}
	}
}

func defaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
