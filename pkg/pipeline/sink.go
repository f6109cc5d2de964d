package pipeline

import (
	"bytes"

	"github.com/marmos91/pixelpipe/pkg/resume"
	"github.com/marmos91/pixelpipe/pkg/task"
)

// collector accumulates a transfer's body and forwards byte-level progress
// to the load node's subscribers. When a resume is honored (206) the
// previously buffered prefix is replayed first, so progress is monotonic
// across the restart; any other status discards the stale buffer.
type collector struct {
	prod    *task.Producer[*loadResult]
	partial *resume.ResumableData
	buf     bytes.Buffer
	meta    *resume.ResponseMeta
	total   int64
}

func (c *collector) OnResponse(meta *resume.ResponseMeta) {
	c.meta = meta
	c.total = meta.ContentLength()
	if c.partial != nil {
		if resume.IsResumedResponse(meta) {
			c.buf.Write(c.partial.Data)
			if c.total >= 0 {
				c.total += int64(len(c.partial.Data))
			}
		}
		c.partial = nil
	}
}

func (c *collector) OnData(chunk []byte) {
	c.buf.Write(chunk)
	c.prod.Progress(int64(c.buf.Len()), c.total)
}
