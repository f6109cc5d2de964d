package pipeline

import (
	"image"

	"github.com/google/uuid"

	"github.com/marmos91/pixelpipe/pkg/task"
	"github.com/marmos91/pixelpipe/pkg/token"
)

// Origin reports which tier produced a response.
type Origin int

const (
	// OriginNetwork means the image was produced from freshly fetched bytes.
	OriginNetwork Origin = iota
	// OriginMemory means the decoded artifact was served from the memory tier.
	OriginMemory
	// OriginDisk means the bytes were served from the persistent tier.
	OriginDisk
)

func (o Origin) String() string {
	switch o {
	case OriginNetwork:
		return "network"
	case OriginMemory:
		return "memory"
	case OriginDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Response is a successfully produced artifact.
type Response struct {
	Image  image.Image
	Origin Origin
}

// Event is a single notification for one load: zero or more progress
// samples followed by exactly one terminal event.
type Event = task.Event[*Response]

// Task is the caller-side handle for one load.
type Task struct {
	id     uuid.UUID
	req    Request
	source *token.Source
	sub    *task.Subscription[*Response] // nil when served from memory
}

// ID returns the load's unique identifier, as reported to the delegate.
func (t *Task) ID() uuid.UUID { return t.id }

// Request returns the request this task is serving.
func (t *Task) Request() Request { return t.req }

// Cancel detaches this load. The caller receives a cancelled terminal
// event; shared underlying work is cancelled only when no other load still
// needs it. Cancelling after delivery is a no-op.
func (t *Task) Cancel() {
	t.source.Cancel()
}

// SetPriority updates this load's priority. The change propagates through
// coalesced work as the maximum across all attached loads.
func (t *Task) SetPriority(p task.Priority) {
	if t.sub != nil {
		t.sub.SetPriority(p)
	}
}
