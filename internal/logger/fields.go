package logger

// Standard field keys used across the pipeline so log lines stay greppable.
const (
	KeyRequestID = "request_id"
	KeyURL       = "url"
	KeyLoadKey   = "load_key"
	KeyCacheKey  = "cache_key"
	KeyTier      = "tier"
	KeyStage     = "stage"
	KeyBytes     = "bytes"
	KeyDuration  = "duration_ms"
	KeyError     = "error"
)
