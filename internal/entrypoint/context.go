package entrypoint

import (
	"context"

	"parley/internal/message"
)

type contextKey int

const (
	historyKey contextKey = iota
	callKey
)

// ContextWithHistory attaches the pre-call conversation history.
func ContextWithHistory(ctx context.Context, history []message.Message) context.Context {
	return context.WithValue(ctx, historyKey, history)
}

// HistoryFromContext returns the conversation history that preceded the
// function call being invoked, or nil outside an invocation.
func HistoryFromContext(ctx context.Context) []message.Message {
	if v, ok := ctx.Value(historyKey).([]message.Message); ok {
		return v
	}
	return nil
}

func ContextWithCall(ctx context.Context, call message.FunctionCall) context.Context {
	return context.WithValue(ctx, callKey, call)
}

func CallFromContext(ctx context.Context) (message.FunctionCall, bool) {
	v, ok := ctx.Value(callKey).(message.FunctionCall)
	return v, ok
}
