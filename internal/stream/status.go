package stream

// Status is the lifecycle state of a streaming session. A session moves from
// Starting to Streaming and then reaches exactly one of the terminal states.
// Streaming may be reported more than once as a progress ping (for example while
// the model runs a web search); such pings carry an advisory detail and do not
// change the formal state.
type Status int

const (
	StatusStarting Status = iota
	StatusStreaming
	StatusCompleted
	StatusError
	StatusTimeout
	StatusCancelled
)

// Terminal reports whether the status ends the session.
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
