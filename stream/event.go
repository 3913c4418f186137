package stream

import "github.com/jonwraymond/llmcore/chat"

// EventKind classifies an Event.
type EventKind int

const (
	// EventStart is emitted once, on the first data frame.
	EventStart EventKind = iota + 1
	// EventContentDelta carries a fragment of choice content.
	EventContentDelta
	// EventToolCallDelta carries a fragment of tool call arguments.
	EventToolCallDelta
	// EventFinish is emitted once per choice when its finish reason is set.
	EventFinish
	// EventUsage carries token usage from the terminal frame.
	EventUsage
	// EventDone marks the end-of-stream sentinel.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventContentDelta:
		return "content_delta"
	case EventToolCallDelta:
		return "tool_call_delta"
	case EventFinish:
		return "finish"
	case EventUsage:
		return "usage"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one incremental update produced from a frame. Which fields are
// set depends on Kind.
type Event struct {
	Kind  EventKind
	Index int // choice index

	// EventStart
	ID    string
	Model string

	// EventContentDelta
	Content string

	// EventToolCallDelta
	ToolCallID string
	ToolName   string
	Arguments  string

	// EventFinish
	FinishReason string

	// EventUsage
	Usage *chat.Usage
}
