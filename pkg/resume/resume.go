// Package resume implements the protocol for restarting a partially
// received HTTP transfer from the byte offset already buffered, using
// conditional range semantics (Range + If-Range).
package resume

import (
	"fmt"
	"net/http"
	"strings"
)

// ResponseMeta is the HTTP-like response surface the pipeline consumes from
// a transport: a status code plus headers. It deliberately carries no body.
type ResponseMeta struct {
	StatusCode int
	Header     http.Header
}

// ContentLength returns the advertised body length, or -1 when unknown.
func (m *ResponseMeta) ContentLength() int64 {
	if m == nil {
		return -1
	}
	var n int64
	if _, err := fmt.Sscanf(m.Header.Get("Content-Length"), "%d", &n); err != nil {
		return -1
	}
	return n
}

// ResumableData holds the bytes received before a transfer failed, plus the
// validator needed to resume it safely.
type ResumableData struct {
	// Data is the previously received (non-empty) byte buffer.
	Data []byte

	validator string
}

// TryCreate builds a ResumableData from a failed transfer's last response
// and the bytes buffered so far. It returns nil unless all of:
//
//   - the response exists and has status 200 or 206
//   - the buffer is non-empty
//   - Accept-Ranges is present and not "none"
//   - a validator is present: ETag preferred, else Last-Modified
func TryCreate(meta *ResponseMeta, buffered []byte) *ResumableData {
	if meta == nil || len(buffered) == 0 {
		return nil
	}
	if meta.StatusCode != http.StatusOK && meta.StatusCode != http.StatusPartialContent {
		return nil
	}

	acceptRanges := meta.Header.Get("Accept-Ranges")
	if acceptRanges == "" || strings.EqualFold(acceptRanges, "none") {
		return nil
	}

	validator := meta.Header.Get("ETag")
	if validator == "" {
		validator = meta.Header.Get("Last-Modified")
	}
	if validator == "" {
		return nil
	}

	return &ResumableData{Data: buffered, validator: validator}
}

// Resume sets the conditional range headers on an outgoing request so the
// server continues from the buffered offset:
//
//	Range: bytes=<len(Data)>-
//	If-Range: <validator>
func (r *ResumableData) Resume(h http.Header) {
	h.Set("Range", fmt.Sprintf("bytes=%d-", len(r.Data)))
	h.Set("If-Range", r.validator)
}

// IsResumedResponse reports whether the server honored a resume request.
// Anything other than 206 means the buffered bytes must be discarded and the
// transfer restarted from zero.
func IsResumedResponse(meta *ResponseMeta) bool {
	return meta != nil && meta.StatusCode == http.StatusPartialContent
}
