package resume

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(status int, headers map[string]string) *ResponseMeta {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &ResponseMeta{StatusCode: status, Header: h}
}

func TestTryCreate(t *testing.T) {
	valid := map[string]string{
		"Accept-Ranges": "bytes",
		"ETag":          `"x"`,
	}

	tests := []struct {
		name     string
		meta     *ResponseMeta
		buffered []byte
		want     bool
	}{
		{"ok 200 with etag", meta(200, valid), []byte("abc"), true},
		{"ok 206 with etag", meta(206, valid), []byte("abc"), true},
		{"last-modified fallback", meta(200, map[string]string{
			"Accept-Ranges": "bytes",
			"Last-Modified": "Wed, 21 Oct 2015 07:28:00 GMT",
		}), []byte("abc"), true},
		{"status 304", meta(304, valid), []byte("abc"), false},
		{"status 404", meta(404, valid), []byte("abc"), false},
		{"missing accept-ranges", meta(200, map[string]string{"ETag": `"x"`}), []byte("abc"), false},
		{"accept-ranges none", meta(200, map[string]string{
			"Accept-Ranges": "None",
			"ETag":          `"x"`,
		}), []byte("abc"), false},
		{"no validator", meta(200, map[string]string{"Accept-Ranges": "bytes"}), []byte("abc"), false},
		{"empty buffer", meta(200, valid), nil, false},
		{"nil response", nil, []byte("abc"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TryCreate(tt.meta, tt.buffered)
			if tt.want {
				assert.NotNil(t, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestResumeSetsConditionalHeaders(t *testing.T) {
	buffered := make([]byte, 1000)
	r := TryCreate(meta(200, map[string]string{
		"Accept-Ranges": "bytes",
		"ETag":          `"x"`,
	}), buffered)
	require.NotNil(t, r)

	h := http.Header{}
	r.Resume(h)

	assert.Equal(t, "bytes=1000-", h.Get("Range"))
	assert.Equal(t, `"x"`, h.Get("If-Range"))
}

func TestETagPreferredOverLastModified(t *testing.T) {
	r := TryCreate(meta(200, map[string]string{
		"Accept-Ranges": "bytes",
		"ETag":          `"tag"`,
		"Last-Modified": "Wed, 21 Oct 2015 07:28:00 GMT",
	}), []byte("abc"))
	require.NotNil(t, r)

	h := http.Header{}
	r.Resume(h)
	assert.Equal(t, `"tag"`, h.Get("If-Range"))
}

func TestIsResumedResponse(t *testing.T) {
	assert.True(t, IsResumedResponse(meta(206, nil)))
	assert.False(t, IsResumedResponse(meta(200, nil)))
	assert.False(t, IsResumedResponse(nil))
}

func TestContentLength(t *testing.T) {
	assert.Equal(t, int64(4096), meta(200, map[string]string{"Content-Length": "4096"}).ContentLength())
	assert.Equal(t, int64(-1), meta(200, nil).ContentLength())
	var m *ResponseMeta
	assert.Equal(t, int64(-1), m.ContentLength())
}

func TestStorageTakeRemoves(t *testing.T) {
	s := NewStorage(4)
	data := &ResumableData{Data: []byte("abc"), validator: "v"}

	s.Store("k", data)
	assert.Same(t, data, s.Take("k"))
	assert.Nil(t, s.Take("k"), "take must remove the entry")
}

func TestStorageEvictsOldest(t *testing.T) {
	s := NewStorage(2)
	for i := 0; i < 3; i++ {
		s.Store(fmt.Sprintf("k%d", i), &ResumableData{Data: []byte{byte(i)}})
	}

	assert.Equal(t, 2, s.Len())
	assert.Nil(t, s.Take("k0"), "oldest entry must have been evicted")
	assert.NotNil(t, s.Take("k2"))
}
