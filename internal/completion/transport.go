package completion

import (
	"context"

	"parley/internal/entrypoint"
	"parley/internal/message"
)

// Request is the input of one completion cycle.
type Request struct {
	Messages  []message.Message
	Functions []entrypoint.FunctionSchema
	Headers   map[string]string // merged over transport defaults
	Body      map[string]any    // extension fields merged into the request body
}

// Frame is one decoded unit of the response stream. A frame carries a
// content delta, a function-call delta (Function set) or neither; Finish is
// non-empty when the service ended the response.
type Frame struct {
	Content           string
	Function          bool
	FunctionCallID    string
	FunctionName      string
	FunctionArguments string
	Finish            string
}

// Frames is an open response stream. Next returns io.EOF after the stream
// terminator. Close releases the connection and may be called at any time.
type Frames interface {
	Next() (Frame, error)
	Close() error
}

// Transport opens the underlying streaming request. Implementations must
// abort in-flight I/O when ctx is cancelled.
type Transport interface {
	Open(ctx context.Context, req Request) (Frames, error)
}
