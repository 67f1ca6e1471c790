package chat

import (
	"context"
	"maps"

	"parley/internal/entrypoint"
	"parley/internal/message"
)

type options struct {
	id       string
	initial  []message.Message
	headers  map[string]string
	body     map[string]any
	onResult func(context.Context, entrypoint.Result)
	recorder Recorder
}

type Option func(*options)

// WithID sets the conversation id. A random id is used otherwise.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithInitialMessages prepends msgs to every request. They are not part of
// the visible message sequence.
func WithInitialMessages(msgs ...message.Message) Option {
	return func(o *options) { o.initial = message.CloneAll(msgs) }
}

func WithHeaders(h map[string]string) Option {
	return func(o *options) { o.headers = maps.Clone(h) }
}

func WithBody(b map[string]any) Option {
	return func(o *options) { o.body = maps.Clone(b) }
}

// WithFunctionResults registers fn to receive the result of every entry point
// invoked after a function-call cycle.
func WithFunctionResults(fn func(context.Context, entrypoint.Result)) Option {
	return func(o *options) { o.onResult = fn }
}

func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}
