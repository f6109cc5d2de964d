// Package pipeline orchestrates image loads across the cache tiers, the
// coalescing task graphs, and the staged decode/process/encode queues.
//
// Each load walks the same path: memory probe, artifact coalescing by cache
// key, optional persistent probe, transfer coalescing by load key, rate
// limited transport, decode, processor chain, cache population, delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/pixelpipe/internal/logger"
	"github.com/marmos91/pixelpipe/pkg/cache"
	"github.com/marmos91/pixelpipe/pkg/ratelimit"
	"github.com/marmos91/pixelpipe/pkg/resume"
	"github.com/marmos91/pixelpipe/pkg/task"
	"github.com/marmos91/pixelpipe/pkg/token"
)

// Stage concurrency defaults.
const (
	DefaultLoadConcurrency    = 6
	DefaultDecodeConcurrency  = 2
	DefaultProcessConcurrency = 2
	DefaultEncodeConcurrency  = 2

	// coordinationConcurrency bounds the graph coordination queue. Node
	// startup is non-blocking, so this is generous on purpose.
	coordinationConcurrency = 64
)

// Config assembles a pipeline from its collaborators. Transport and Decoder
// are required; everything else is optional and disables the corresponding
// behavior when nil.
type Config struct {
	Transport Transport
	Decoder   Decoder
	// Encoder is required when StoreProcessed is set.
	Encoder  Encoder
	Delegate Delegate
	Metrics  Metrics

	// Memory is the decoded-artifact tier; nil disables it.
	Memory MemoryCache
	// Disk is the persistent byte tier; nil disables it.
	Disk DiskCache
	// StoreOriginal persists fetched bytes keyed by load key. Defaults to
	// true when Disk is set and StoreProcessed is not.
	StoreOriginal bool
	// StoreProcessed persists encoded processed artifacts keyed by cache key.
	StoreProcessed bool

	// Limiter throttles transport admissions; defaults to the package
	// default token bucket.
	Limiter *ratelimit.Limiter

	LoadConcurrency    int
	DecodeConcurrency  int
	ProcessConcurrency int
	EncodeConcurrency  int

	// ResumeEntries bounds how many partial transfers are retained for
	// resumption between attempts.
	ResumeEntries int
}

// Pipeline coordinates image loads. Safe for concurrent use.
type Pipeline struct {
	cfg     Config
	limiter *ratelimit.Limiter
	resumes *resume.Storage

	coordQueue   *task.Queue
	loadQueue    *task.Queue
	decodeQueue  *task.Queue
	processQueue *task.Queue
	encodeQueue  *task.Queue

	// imageGraph coalesces by cache key (decoded artifacts); loadGraph
	// coalesces by load key (raw transfers). An image node subscribes to a
	// load node, so N artifact variants share one transfer.
	imageGraph *task.Graph[*Response]
	loadGraph  *task.Graph[*loadResult]
}

// loadResult is the outcome of a load node: the original encoded bytes.
type loadResult struct {
	data     []byte
	meta     *resume.ResponseMeta
	fromDisk bool
}

// New validates cfg and assembles a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Transport == nil {
		return nil, errors.New("pipeline: transport is required")
	}
	if cfg.Decoder == nil {
		return nil, errors.New("pipeline: decoder is required")
	}
	if cfg.StoreProcessed && cfg.Encoder == nil {
		return nil, errors.New("pipeline: encoder is required when storing processed artifacts")
	}

	if cfg.Delegate == nil {
		cfg.Delegate = noopDelegate{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.DefaultRate, ratelimit.DefaultBurst)
	}
	if cfg.Disk != nil && !cfg.StoreOriginal && !cfg.StoreProcessed {
		cfg.StoreOriginal = true
	}
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = DefaultLoadConcurrency
	}
	if cfg.DecodeConcurrency <= 0 {
		cfg.DecodeConcurrency = DefaultDecodeConcurrency
	}
	if cfg.ProcessConcurrency <= 0 {
		cfg.ProcessConcurrency = DefaultProcessConcurrency
	}
	if cfg.EncodeConcurrency <= 0 {
		cfg.EncodeConcurrency = DefaultEncodeConcurrency
	}

	p := &Pipeline{
		cfg:          cfg,
		limiter:      cfg.Limiter,
		resumes:      resume.NewStorage(cfg.ResumeEntries),
		coordQueue:   task.NewQueue(coordinationConcurrency),
		loadQueue:    task.NewQueue(cfg.LoadConcurrency),
		decodeQueue:  task.NewQueue(cfg.DecodeConcurrency),
		processQueue: task.NewQueue(cfg.ProcessConcurrency),
		encodeQueue:  task.NewQueue(cfg.EncodeConcurrency),
	}
	p.imageGraph = task.NewGraph[*Response](p.coordQueue)
	p.loadGraph = task.NewGraph[*loadResult](p.coordQueue)
	return p, nil
}

// Load starts (or joins) a load for req. Events are delivered to onEvent in
// order, always asynchronously relative to Load, ending with exactly one
// terminal event. The returned task cancels or reprioritizes this load
// without affecting other loads coalesced onto the same work.
func (p *Pipeline) Load(req Request, onEvent func(Event)) *Task {
	t := &Task{id: uuid.New(), req: req, source: token.NewSource()}
	started := time.Now()

	p.cfg.Delegate.TaskCreated(t.id, req)
	if m := p.cfg.Metrics; m != nil {
		m.RecordRequest()
	}

	cacheKey := req.CacheKey()
	if p.cfg.Memory != nil && !req.options.Contains(DisableMemoryCacheReads) {
		if img, ok := p.cfg.Memory.Get(cacheKey); ok {
			if m := p.cfg.Metrics; m != nil {
				m.RecordCacheHit(TierMemory)
			}
			resp := &Response{Image: img, Origin: OriginMemory}
			// Even a memory hit is delivered off the Load call stack, so
			// callers see one consistent ordering.
			go p.dispatch(t, onEvent, Event{Kind: task.EventCompleted, Value: resp}, started)
			return t
		}
		if m := p.cfg.Metrics; m != nil {
			m.RecordCacheMiss(TierMemory)
		}
	}

	sub, isNew := p.imageGraph.Subscribe(cacheKey, req.Priority(), t.source.Token(),
		func(ev Event) { p.dispatch(t, onEvent, ev, started) },
		func(prod *task.Producer[*Response]) { p.runImageNode(req, prod) },
	)
	if !isNew {
		if m := p.cfg.Metrics; m != nil {
			m.RecordCoalesced()
		}
	}
	t.sub = sub
	return t
}

// dispatch forwards one event to the delegate, the metrics, and the caller.
func (p *Pipeline) dispatch(t *Task, onEvent func(Event), ev Event, started time.Time) {
	switch ev.Kind {
	case task.EventProgress:
		p.cfg.Delegate.TaskProgress(t.id, ev.Progress.Completed, ev.Progress.Total)
	case task.EventCompleted:
		p.cfg.Delegate.TaskCompleted(t.id, t.req, ev.Value)
		if m := p.cfg.Metrics; m != nil {
			m.RecordCompleted(ev.Value.Origin, time.Since(started))
		}
	case task.EventFailed:
		p.cfg.Delegate.TaskFailed(t.id, t.req, ev.Err)
		if m := p.cfg.Metrics; m != nil {
			m.RecordFailed(time.Since(started))
		}
	case task.EventCancelled:
		p.cfg.Delegate.TaskCancelled(t.id, t.req)
		if m := p.cfg.Metrics; m != nil {
			m.RecordCancelled()
		}
	}
	if onEvent != nil {
		onEvent(ev)
	}
}

// runImageNode produces one decoded artifact: persistent processed-artifact
// probe first, then the full load path.
func (p *Pipeline) runImageNode(req Request, prod *task.Producer[*Response]) {
	if p.cfg.Disk != nil && p.cfg.StoreProcessed && !req.options.Contains(DisableDiskCacheReads) {
		key := diskKey(cache.ProcessedPrefix, req.CacheKey())
		if data, ok := p.cfg.Disk.Data(key); ok {
			if m := p.cfg.Metrics; m != nil {
				m.RecordCacheHit(TierDisk)
			}
			prod.Schedule(p.decodeQueue, func() {
				img, err := p.cfg.Decoder.Decode(data, true)
				if err != nil {
					// A cached artifact that no longer decodes is treated as
					// a miss; the load path rebuilds it.
					logger.Warn("discarding undecodable cached artifact",
						logger.KeyCacheKey, req.CacheKey(), logger.KeyError, err)
					p.startLoad(req, prod)
					return
				}
				p.finish(req, prod, img, OriginDisk)
			})
			return
		}
		if m := p.cfg.Metrics; m != nil {
			m.RecordCacheMiss(TierDisk)
		}
	}
	p.startLoad(req, prod)
}

// startLoad subscribes the image node to the shared transfer for its load
// key and continues with decode once bytes arrive. Priority changes on the
// image node are forwarded to the transfer subscription.
func (p *Pipeline) startLoad(req Request, prod *task.Producer[*Response]) {
	sub, _ := p.loadGraph.Subscribe(req.LoadKey(), prod.Priority(), prod.Token(),
		func(ev task.Event[*loadResult]) {
			switch ev.Kind {
			case task.EventProgress:
				prod.Progress(ev.Progress.Completed, ev.Progress.Total)
			case task.EventCompleted:
				p.decode(req, prod, ev.Value)
			case task.EventFailed:
				prod.Fail(ev.Err)
			case task.EventCancelled:
				// Own cancellation; the image node is already torn down.
			}
		},
		func(lp *task.Producer[*loadResult]) { p.runLoadNode(req, lp) },
	)
	prod.ObservePriority(sub.SetPriority)
}

// decode hops to the decode queue, then into the processor chain.
func (p *Pipeline) decode(req Request, prod *task.Producer[*Response], lr *loadResult) {
	prod.Schedule(p.decodeQueue, func() {
		img, err := p.cfg.Decoder.Decode(lr.data, true)
		if err != nil {
			prod.Fail(fmt.Errorf("%w: %w", ErrDecodingFailed, err))
			return
		}
		origin := OriginNetwork
		if lr.fromDisk {
			origin = OriginDisk
		}
		p.process(req, prod, img, origin)
	})
}

// process applies the request's processor chain in order, checking for
// cancellation between steps, then persists and delivers the artifact.
func (p *Pipeline) process(req Request, prod *task.Producer[*Response], img image.Image, origin Origin) {
	procs := req.Processors()
	if len(procs) == 0 {
		p.finish(req, prod, img, origin)
		return
	}
	prod.Schedule(p.processQueue, func() {
		out := img
		for _, proc := range procs {
			if prod.Cancelled() {
				return
			}
			var err error
			out, err = proc.Process(out)
			if err != nil {
				prod.Fail(&ProcessingError{Step: proc.ID(), Cause: err})
				return
			}
		}
		p.storeProcessed(req, out)
		p.finish(req, prod, out, origin)
	})
}

// storeProcessed encodes and persists a processed artifact off the delivery
// path. Failures are logged, never surfaced to subscribers.
func (p *Pipeline) storeProcessed(req Request, img image.Image) {
	if p.cfg.Disk == nil || !p.cfg.StoreProcessed || req.options.Contains(DisableDiskCacheWrites) {
		return
	}
	key := diskKey(cache.ProcessedPrefix, req.CacheKey())
	p.encodeQueue.Add(req.Priority(), func() {
		data, err := p.cfg.Encoder.Encode(img)
		if err != nil {
			logger.Warn("failed to encode artifact for persistent cache",
				logger.KeyCacheKey, req.CacheKey(), logger.KeyError, err)
			return
		}
		p.cfg.Disk.SetData(key, data)
	})
}

// finish populates the memory tier and delivers the artifact.
func (p *Pipeline) finish(req Request, prod *task.Producer[*Response], img image.Image, origin Origin) {
	if p.cfg.Memory != nil && !req.options.Contains(DisableMemoryCacheWrites) {
		p.cfg.Memory.Set(req.CacheKey(), img, imageCost(img))
	}
	prod.Deliver(&Response{Image: img, Origin: origin})
}

// runLoadNode produces original bytes for one load key: persistent probe
// first, then a rate-limited transport fetch on the load queue.
func (p *Pipeline) runLoadNode(req Request, prod *task.Producer[*loadResult]) {
	if p.cfg.Disk != nil && p.cfg.StoreOriginal && !req.options.Contains(DisableDiskCacheReads) {
		key := diskKey(cache.OriginalPrefix, req.LoadKey())
		if data, ok := p.cfg.Disk.Data(key); ok {
			if m := p.cfg.Metrics; m != nil {
				m.RecordCacheHit(TierDisk)
			}
			prod.Deliver(&loadResult{data: data, fromDisk: true})
			return
		}
		if m := p.cfg.Metrics; m != nil {
			m.RecordCacheMiss(TierDisk)
		}
	}
	prod.Schedule(p.loadQueue, func() { p.fetch(req, prod) })
}

// fetch holds one load-queue slot for the whole transfer, gating the start
// through the rate limiter. Cancellation while queued in the limiter
// releases the slot without running anything.
func (p *Pipeline) fetch(req Request, prod *task.Producer[*loadResult]) {
	tok := prod.Token()
	done := make(chan struct{})
	cancelled := make(chan struct{})
	tok.OnCancel(func() { close(cancelled) })

	p.limiter.Execute(tok, func(finish func(ran bool)) {
		if prod.Cancelled() {
			finish(false)
			close(done)
			return
		}
		go func() {
			defer close(done)
			finish(true)
			p.transfer(req, prod)
		}()
	})

	select {
	case <-done:
	case <-cancelled:
	}
}

// transfer runs the transport, salvaging a resumable buffer on failure and
// retrying once from the buffered offset before surfacing the error.
func (p *Pipeline) transfer(req Request, prod *task.Producer[*loadResult]) {
	ctx, stop := token.Context(context.Background(), prod.Token())
	defer stop()

	loadKey := req.LoadKey()
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if prod.Cancelled() {
			return
		}
		data, meta, salvaged, err := p.attemptFetch(ctx, loadKey, req, prod)
		if err == nil {
			p.storeOriginal(req, data)
			prod.Deliver(&loadResult{data: data, meta: meta})
			return
		}
		lastErr = err
		if !salvaged {
			break
		}
		logger.Debug("transfer failed with resumable buffer, retrying",
			logger.KeyLoadKey, loadKey, logger.KeyError, err)
	}
	if prod.Cancelled() {
		return
	}
	prod.Fail(lastErr)
}

// attemptFetch performs one transport round trip. On failure it stores any
// salvageable partial buffer for resumption and reports whether it did.
func (p *Pipeline) attemptFetch(ctx context.Context, loadKey string, req Request, prod *task.Producer[*loadResult]) ([]byte, *resume.ResponseMeta, bool, error) {
	freq := FetchRequest{URL: req.URL(), Header: make(http.Header)}
	partial := p.resumes.Take(loadKey)
	if partial != nil {
		partial.Resume(freq.Header)
	}

	sink := &collector{prod: prod, partial: partial}
	if err := p.cfg.Transport.Fetch(ctx, freq, sink); err != nil {
		salvaged := false
		if rd := resume.TryCreate(sink.meta, sink.buf.Bytes()); rd != nil {
			p.resumes.Store(loadKey, rd)
			salvaged = true
		}
		return nil, nil, salvaged, &TransferError{Cause: err}
	}
	if sink.meta != nil && sink.meta.StatusCode >= 400 {
		return nil, nil, false, &TransferError{
			Cause: fmt.Errorf("unexpected status %d", sink.meta.StatusCode),
		}
	}
	return sink.buf.Bytes(), sink.meta, false, nil
}

func (p *Pipeline) storeOriginal(req Request, data []byte) {
	if p.cfg.Disk == nil || !p.cfg.StoreOriginal || req.options.Contains(DisableDiskCacheWrites) {
		return
	}
	p.cfg.Disk.SetData(diskKey(cache.OriginalPrefix, req.LoadKey()), data)
}

// imageCost estimates the resident size of a decoded image for the memory
// tier's cost accounting.
func imageCost(img image.Image) int64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
