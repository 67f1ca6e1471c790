package completion

import "parley/internal/message"

type EventType string

const (
	EventContent      EventType = "content"
	EventFunctionCall EventType = "function_call"
	EventEnd          EventType = "end"
	EventError        EventType = "error"
)

// Event is one semantic event of a completion cycle. Content is set for
// EventContent, FunctionCall for EventFunctionCall and Err for EventError.
type Event struct {
	Type         EventType
	Content      string
	FunctionCall *message.FunctionCall
	Err          error
}

// Terminal reports whether ev ends its cycle.
func (ev Event) Terminal() bool {
	return ev.Type == EventEnd || ev.Type == EventError
}
