package pipeline

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/pixelpipe/pkg/resume"
)

// FetchRequest is the transport-level description of one transfer.
type FetchRequest struct {
	URL    string
	Header http.Header
}

// DataSink receives a transfer's response metadata and body chunks as they
// arrive. OnResponse is called once, before any OnData call. The chunk
// passed to OnData is only valid for the duration of the call; transports
// may reuse the backing buffer.
type DataSink interface {
	OnResponse(meta *resume.ResponseMeta)
	OnData(chunk []byte)
}

// Transport fetches bytes for a request, streaming them into sink. Fetch
// blocks until the transfer completes, fails, or ctx is cancelled.
type Transport interface {
	Fetch(ctx context.Context, req FetchRequest, sink DataSink) error
}

// Decoder turns encoded bytes into an image. final is false for progressive
// partial-data scans and true for the complete buffer.
type Decoder interface {
	Decode(data []byte, final bool) (image.Image, error)
}

// Encoder turns a decoded image back into bytes for persistent caching.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// Processor applies one transformation step to a decoded image.
//
// ID must be stable across processes and unique per configuration: it
// becomes part of the artifact cache key, so two processors that produce
// different output must never share an ID.
type Processor interface {
	ID() string
	Process(img image.Image) (image.Image, error)
}

// MemoryCache is the in-process artifact tier, keyed by cache key.
type MemoryCache interface {
	Get(key string) (image.Image, bool)
	Set(key string, img image.Image, cost int64)
}

// DiskCache is the persistent byte tier, keyed by hashed load or cache key.
type DiskCache interface {
	Data(key string) ([]byte, bool)
	SetData(key string, data []byte)
}

// Delegate observes the lifecycle of every load. All methods are invoked
// off the caller's goroutine; exactly one of TaskCompleted, TaskFailed, or
// TaskCancelled is invoked per load.
type Delegate interface {
	TaskCreated(id uuid.UUID, req Request)
	TaskProgress(id uuid.UUID, completed, total int64)
	TaskCompleted(id uuid.UUID, req Request, resp *Response)
	TaskFailed(id uuid.UUID, req Request, err error)
	TaskCancelled(id uuid.UUID, req Request)
}

// Cache tier labels used in metrics.
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Metrics receives pipeline-level counters. Implementations must be safe
// for concurrent use. A nil Metrics disables instrumentation.
type Metrics interface {
	RecordRequest()
	RecordCompleted(origin Origin, d time.Duration)
	RecordFailed(d time.Duration)
	RecordCancelled()
	RecordCoalesced()
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
}

type noopDelegate struct{}

func (noopDelegate) TaskCreated(uuid.UUID, Request)              {}
func (noopDelegate) TaskProgress(uuid.UUID, int64, int64)        {}
func (noopDelegate) TaskCompleted(uuid.UUID, Request, *Response) {}
func (noopDelegate) TaskFailed(uuid.UUID, Request, error)        {}
func (noopDelegate) TaskCancelled(uuid.UUID, Request)            {}
