// Package completiontest provides a scripted completion.Transport for tests.
package completiontest

import (
	"context"
	"errors"
	"io"
	"sync"

	"parley/internal/completion"
)

// Script describes the stream returned by one Open.
type Script struct {
	// OpenErr fails the Open call itself.
	OpenErr error
	// Frames are returned in order before anything else.
	Frames []completion.Frame
	// Feed, when set, supplies frames after Frames until it is closed.
	Feed chan completion.Frame
	// Err is returned after the frames instead of io.EOF.
	Err error
	// Hold blocks after the frames until the request context is cancelled.
	Hold bool
}

// Content returns one content frame per chunk, followed by a stop frame.
func Content(chunks ...string) []completion.Frame {
	frames := make([]completion.Frame, 0, len(chunks)+1)
	for _, c := range chunks {
		frames = append(frames, completion.Frame{Content: c})
	}
	return append(frames, completion.Frame{Finish: "stop"})
}

// Call returns frames selecting function name with the given arguments,
// split into two fragments.
func Call(id, name, arguments string) []completion.Frame {
	half := len(arguments) / 2
	return []completion.Frame{
		{Function: true, FunctionCallID: id, FunctionName: name},
		{Function: true, FunctionArguments: arguments[:half]},
		{Function: true, FunctionArguments: arguments[half:]},
		{Function: true, Finish: "function_call"},
	}
}

var ErrNoScript = errors.New("completiontest: no script left")

// Transport serves one Script per Open, in order.
type Transport struct {
	mu       sync.Mutex
	scripts  []Script
	requests []completion.Request
	closed   int
}

func NewTransport(scripts ...Script) *Transport {
	return &Transport{scripts: scripts}
}

// Push queues another script.
func (t *Transport) Push(s Script) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts = append(t.scripts, s)
}

func (t *Transport) Open(ctx context.Context, req completion.Request) (completion.Frames, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, req)
	if len(t.scripts) == 0 {
		return nil, ErrNoScript
	}
	s := t.scripts[0]
	t.scripts = t.scripts[1:]
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &frames{ctx: ctx, script: s, transport: t}, nil
}

// Requests returns every request opened so far.
func (t *Transport) Requests() []completion.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]completion.Request(nil), t.requests...)
}

// Closed returns how many streams have been closed.
func (t *Transport) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type frames struct {
	ctx       context.Context
	script    Script
	pos       int
	transport *Transport
	closeOnce sync.Once
}

func (f *frames) Next() (completion.Frame, error) {
	if f.pos < len(f.script.Frames) {
		fr := f.script.Frames[f.pos]
		f.pos++
		return fr, nil
	}
	if f.script.Feed != nil {
		select {
		case fr, ok := <-f.script.Feed:
			if ok {
				return fr, nil
			}
		case <-f.ctx.Done():
			return completion.Frame{}, f.ctx.Err()
		}
	}
	if f.script.Hold {
		<-f.ctx.Done()
		return completion.Frame{}, f.ctx.Err()
	}
	if f.script.Err != nil {
		return completion.Frame{}, f.script.Err
	}
	return completion.Frame{}, io.EOF
}

func (f *frames) Close() error {
	f.closeOnce.Do(func() {
		f.transport.mu.Lock()
		f.transport.closed++
		f.transport.mu.Unlock()
	})
	return nil
}
