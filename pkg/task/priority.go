package task

// Priority ranks a subscriber's interest in a task. A node's effective
// priority is the maximum over its live subscribers.
type Priority int

const (
	PriorityVeryLow Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityVeryHigh
)

// DefaultPriority is the priority assigned when a request does not specify one.
const DefaultPriority = PriorityNormal

func (p Priority) String() string {
	switch p {
	case PriorityVeryLow:
		return "very_low"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityVeryHigh:
		return "very_high"
	default:
		return "unknown"
	}
}
