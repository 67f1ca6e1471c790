package entrypoint

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"parley/internal/message"
	"parley/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Invocation summarizes one resolved call, passed to the WithOnInvoke hook.
type Invocation struct {
	Name      string
	Arguments string
	Started   time.Time
	Duration  time.Duration
	Err       error
}

// invoke runs fn inside a span, recovering panics into an InvocationError.
func (r *Registry) invoke(ctx context.Context, fn AnnotatedFunction, call message.FunctionCall, args []any) (value any, err error) {
	ctx, span := trace.Tracer().Start(ctx, fn.Name,
		oteltrace.WithAttributes(
			attribute.String("openai.agents.span_type", "function"),
			attribute.String("gen_ai.tool.name", fn.Name),
			attribute.String("gen_ai.tool.input", call.Arguments),
		),
	)
	defer span.End()

	sc := span.SpanContext()
	slog.Debug("entry point span started", "function", fn.Name, "trace_id", sc.TraceID(), "span_id", sc.SpanID())

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			value = nil
			err = &InvocationError{Name: fn.Name, Err: &panicError{p: p}}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if r.opts.onInvoke != nil {
			r.opts.onInvoke(ctx, Invocation{
				Name:      fn.Name,
				Arguments: call.Arguments,
				Started:   start,
				Duration:  time.Since(start),
				Err:       err,
			})
		}
	}()

	value, err = fn.Implementation.Call(ctx, args)
	if err != nil {
		if errors.Is(err, ErrArgumentType) {
			return nil, &ArgumentParseError{Name: fn.Name, Arguments: call.Arguments, Err: err}
		}
		return nil, &InvocationError{Name: fn.Name, Err: err}
	}
	return value, nil
}
