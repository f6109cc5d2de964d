package pipeline

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/marmos91/pixelpipe/pkg/task"
)

// Options are per-request cache policy flags.
type Options uint8

const (
	// DisableMemoryCacheReads skips the memory tier probe.
	DisableMemoryCacheReads Options = 1 << iota
	// DisableMemoryCacheWrites skips populating the memory tier.
	DisableMemoryCacheWrites
	// DisableDiskCacheReads skips the persistent tier probe.
	DisableDiskCacheReads
	// DisableDiskCacheWrites skips populating the persistent tier.
	DisableDiskCacheWrites
)

const (
	// DisableMemoryCache bypasses the memory tier entirely.
	DisableMemoryCache = DisableMemoryCacheReads | DisableMemoryCacheWrites
	// DisableDiskCache bypasses the persistent tier entirely.
	DisableDiskCache = DisableDiskCacheReads | DisableDiskCacheWrites
)

// Contains reports whether all the given flags are set.
func (o Options) Contains(flags Options) bool {
	return o&flags == flags
}

// Request describes one image load: a URL, an ordered processor chain, a
// priority, and cache policy flags. Requests are immutable values; derive
// variants with With.
type Request struct {
	url        string
	priority   task.Priority
	options    Options
	processors []Processor
	loadKey    string // explicit identity override for the transfer
	cacheKey   string // explicit identity override for the artifact
}

// RequestOption mutates a request under construction.
type RequestOption func(*Request)

// WithPriority sets the request's starting priority.
func WithPriority(p task.Priority) RequestOption {
	return func(r *Request) { r.priority = p }
}

// WithProcessors sets the ordered processor chain applied after decoding.
func WithProcessors(procs ...Processor) RequestOption {
	return func(r *Request) { r.processors = procs }
}

// WithOptions sets the request's cache policy flags.
func WithOptions(o Options) RequestOption {
	return func(r *Request) { r.options = o }
}

// WithLoadKey overrides the identity used for transfer coalescing and
// original-data caching. Use when the URL carries volatile components such
// as signed query parameters.
func WithLoadKey(key string) RequestOption {
	return func(r *Request) { r.loadKey = key }
}

// WithCacheKey overrides the identity used for artifact caching.
func WithCacheKey(key string) RequestOption {
	return func(r *Request) { r.cacheKey = key }
}

// NewRequest creates a request for url at the default priority.
func NewRequest(url string, opts ...RequestOption) Request {
	r := Request{url: url, priority: task.DefaultPriority}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// With returns a copy of the request with the given modifications applied.
// The receiver is left untouched.
func (r Request) With(opts ...RequestOption) Request {
	c := r
	c.processors = append([]Processor(nil), r.processors...)
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// URL returns the request's URL.
func (r Request) URL() string { return r.url }

// Priority returns the request's starting priority.
func (r Request) Priority() task.Priority { return r.priority }

// Options returns the request's cache policy flags.
func (r Request) Options() Options { return r.options }

// Processors returns the processor chain. The returned slice must not be
// mutated.
func (r Request) Processors() []Processor { return r.processors }

// LoadKey identifies the underlying transfer. Two requests with equal load
// keys share one transport execution. Explicit overrides live in a separate
// namespace from URL-derived keys, so the two can never collide.
func (r Request) LoadKey() string {
	if r.loadKey != "" {
		return "x:" + r.loadKey
	}
	return "u:" + r.url
}

// CacheKey identifies the final artifact: the load key plus the identifiers
// of every processor in order. Two requests with equal cache keys share one
// decoded result and one memory cache entry.
func (r Request) CacheKey() string {
	if r.cacheKey != "" {
		return "x:" + r.cacheKey
	}
	if len(r.processors) == 0 {
		return r.LoadKey()
	}
	var b strings.Builder
	b.WriteString(r.LoadKey())
	for _, p := range r.processors {
		b.WriteByte('|')
		b.WriteString(p.ID())
	}
	return b.String()
}

// diskKey maps a logical key into the bounded, collision-resistant keyspace
// used by the persistent store. The prefix namespaces original bytes apart
// from processed artifacts.
func diskKey(prefix, key string) string {
	sum := sha1.Sum([]byte(key))
	return prefix + hex.EncodeToString(sum[:])
}
