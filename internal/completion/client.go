// Package completion owns one request/response cycle with the completion
// service and demultiplexes its stream into typed events.
package completion

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"

	"parley/internal/message"
	"parley/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Client struct {
	transport Transport
}

func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// Stream returns the events of one cycle. Each range over the returned
// sequence opens exactly one request; the sequence ends with exactly one
// EventEnd or EventError, after which nothing else is yielded.
//
// Content deltas are yielded as they arrive. Function-call deltas are
// assembled and yielded as a single EventFunctionCall once the service
// finishes the call, followed directly by EventEnd: a function selection ends
// the content channel, so no further frames are read and the connection is
// closed.
//
// Cancelling ctx aborts the transport and ends the sequence with an
// EventError wrapping ErrAborted, even if frames were already buffered.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, span := trace.Tracer().Start(ctx, "completion.stream",
			oteltrace.WithAttributes(
				attribute.Int("completion.messages", len(req.Messages)),
				attribute.Int("completion.functions", len(req.Functions)),
			),
		)
		defer span.End()

		finish := func(ev Event) {
			span.SetAttributes(attribute.String("completion.outcome", string(ev.Type)))
			if ev.Err != nil && !errors.Is(ev.Err, ErrAborted) {
				span.RecordError(ev.Err)
				span.SetStatus(codes.Error, ev.Err.Error())
			}
			yield(ev)
		}
		fail := func(err error) {
			finish(Event{Type: EventError, Err: classify(ctx, err)})
		}

		frames, err := c.transport.Open(ctx, req)
		if err != nil {
			fail(err)
			return
		}
		defer func() {
			if err := frames.Close(); err != nil {
				slog.Debug("completion: closing stream", "error", err)
			}
		}()

		var call *callBuilder
		end := func() {
			if call != nil {
				span.SetAttributes(attribute.String("completion.function", call.name))
				if !yield(call.event()) {
					return
				}
			}
			finish(Event{Type: EventEnd})
		}

		for {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			f, err := frames.Next()
			if ctx.Err() != nil {
				fail(ctx.Err())
				return
			}
			if errors.Is(err, io.EOF) {
				end()
				return
			}
			if err != nil {
				fail(err)
				return
			}

			switch {
			case f.Content == "":
			case call == nil:
				if !yield(Event{Type: EventContent, Content: f.Content}) {
					return
				}
			case !f.Function:
				// Text after a function selection is not expected; the
				// selection wins.
				end()
				return
			default:
				slog.Debug("completion: dropping text inside function call", "function", call.name, "bytes", len(f.Content))
			}
			if f.Function {
				if call == nil {
					call = &callBuilder{}
				}
				call.add(f)
			}

			if f.Finish != "" {
				slog.Debug("completion: finished", "reason", f.Finish)
				end()
				return
			}
		}
	}
}

type callBuilder struct {
	id   string
	name string
	args strings.Builder
}

func (b *callBuilder) add(f Frame) {
	if f.FunctionCallID != "" {
		b.id = f.FunctionCallID
	}
	if f.FunctionName != "" {
		b.name = f.FunctionName
	}
	b.args.WriteString(f.FunctionArguments)
}

func (b *callBuilder) event() Event {
	return Event{
		Type: EventFunctionCall,
		FunctionCall: &message.FunctionCall{
			ID:        b.id,
			Name:      b.name,
			Arguments: b.args.String(),
		},
	}
}
