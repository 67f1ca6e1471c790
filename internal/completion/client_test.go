package completion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"parley/internal/completion"
	"parley/internal/completion/completiontest"
	"parley/internal/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ctx context.Context, tr completion.Transport) []completion.Event {
	t.Helper()
	var events []completion.Event
	for ev := range completion.NewClient(tr).Stream(ctx, completion.Request{
		Messages: []message.Message{message.New(message.RoleUser, "hi")},
	}) {
		events = append(events, ev)
	}
	return events
}

func types(events []completion.Event) []completion.EventType {
	out := make([]completion.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestStream_Content(t *testing.T) {
	tr := completiontest.NewTransport(completiontest.Script{Frames: completiontest.Content("He", "llo")})

	events := collect(t, context.Background(), tr)

	require.Equal(t, []completion.EventType{
		completion.EventContent, completion.EventContent, completion.EventEnd,
	}, types(events))
	assert.Equal(t, "He", events[0].Content)
	assert.Equal(t, "llo", events[1].Content)
	assert.Equal(t, 1, tr.Closed())
	require.Len(t, tr.Requests(), 1)
	assert.Equal(t, "hi", tr.Requests()[0].Messages[0].Content)
}

func TestStream_EOFWithoutFinishEnds(t *testing.T) {
	tr := completiontest.NewTransport(completiontest.Script{Frames: []completion.Frame{{Content: "x"}}})

	events := collect(t, context.Background(), tr)

	assert.Equal(t, []completion.EventType{completion.EventContent, completion.EventEnd}, types(events))
}

func TestStream_EmptyContentIsSkipped(t *testing.T) {
	tr := completiontest.NewTransport(completiontest.Script{Frames: []completion.Frame{{}, {Content: "a"}, {Finish: "stop"}}})

	events := collect(t, context.Background(), tr)

	assert.Equal(t, []completion.EventType{completion.EventContent, completion.EventEnd}, types(events))
}

func TestStream_FunctionCall(t *testing.T) {
	tr := completiontest.NewTransport(completiontest.Script{
		Frames: completiontest.Call("call_1", "get_weather", `{"city":"Paris"}`),
		Hold:   true,
	})

	events := collect(t, context.Background(), tr)

	require.Equal(t, []completion.EventType{completion.EventFunctionCall, completion.EventEnd}, types(events))
	fc := events[0].FunctionCall
	require.NotNil(t, fc)
	assert.Equal(t, "call_1", fc.ID)
	assert.Equal(t, "get_weather", fc.Name)
	assert.Equal(t, `{"city":"Paris"}`, fc.Arguments)
	assert.Equal(t, 1, tr.Closed())
}

func TestStream_ContentAfterFunctionCallEndsCycle(t *testing.T) {
	frames := []completion.Frame{
		{Function: true, FunctionName: "lookup", FunctionArguments: "{}"},
		{Content: "ignored"},
		{Content: "also ignored"},
	}
	tr := completiontest.NewTransport(completiontest.Script{Frames: frames})

	events := collect(t, context.Background(), tr)

	require.Equal(t, []completion.EventType{completion.EventFunctionCall, completion.EventEnd}, types(events))
	assert.Equal(t, "lookup", events[0].FunctionCall.Name)
}

func TestStream_TextInFunctionFrameIsYieldedFirst(t *testing.T) {
	frames := []completion.Frame{
		{Content: "Checking. ", Function: true, FunctionName: "lookup"},
		{Function: true, FunctionArguments: `{"q":1}`},
		{Finish: "function_call"},
	}
	tr := completiontest.NewTransport(completiontest.Script{Frames: frames})

	events := collect(t, context.Background(), tr)

	require.Equal(t, []completion.EventType{
		completion.EventContent, completion.EventFunctionCall, completion.EventEnd,
	}, types(events))
	assert.Equal(t, "Checking. ", events[0].Content)
	assert.Equal(t, "lookup", events[1].FunctionCall.Name)
	assert.Equal(t, `{"q":1}`, events[1].FunctionCall.Arguments)
}

func TestStream_OpenError(t *testing.T) {
	tr := completiontest.NewTransport(completiontest.Script{
		OpenErr: &completion.TransportError{StatusCode: 401, Err: errors.New("bad key")},
	})

	events := collect(t, context.Background(), tr)

	require.Equal(t, []completion.EventType{completion.EventError}, types(events))
	var te *completion.TransportError
	require.ErrorAs(t, events[0].Err, &te)
	assert.Equal(t, 401, te.StatusCode)
}

func TestStream_UntypedErrorBecomesTransportError(t *testing.T) {
	tr := completiontest.NewTransport(completiontest.Script{
		Frames: []completion.Frame{{Content: "a"}},
		Err:    errors.New("connection reset"),
	})

	events := collect(t, context.Background(), tr)

	require.Equal(t, []completion.EventType{completion.EventContent, completion.EventError}, types(events))
	var te *completion.TransportError
	require.ErrorAs(t, events[1].Err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestStream_MalformedFrame(t *testing.T) {
	tr := completiontest.NewTransport(completiontest.Script{
		Err: &completion.MalformedStreamError{Frame: "{oops", Err: errors.New("invalid JSON")},
	})

	events := collect(t, context.Background(), tr)

	require.Len(t, events, 1)
	var me *completion.MalformedStreamError
	assert.ErrorAs(t, events[0].Err, &me)
}

func TestStream_CancelledBeforeFramesAreRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := completiontest.NewTransport(completiontest.Script{Frames: completiontest.Content("queued", "frames")})

	events := collect(t, ctx, tr)

	require.Equal(t, []completion.EventType{completion.EventError}, types(events))
	assert.ErrorIs(t, events[0].Err, completion.ErrAborted)
}

func TestStream_CancelMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := make(chan completion.Frame, 1)
	tr := completiontest.NewTransport(completiontest.Script{Feed: feed, Hold: true})

	feed <- completion.Frame{Content: "partial"}
	var events []completion.Event
	for ev := range completion.NewClient(tr).Stream(ctx, completion.Request{}) {
		events = append(events, ev)
		if ev.Type == completion.EventContent {
			cancel()
		}
	}

	require.Equal(t, []completion.EventType{completion.EventContent, completion.EventError}, types(events))
	assert.ErrorIs(t, events[1].Err, completion.ErrAborted)
	assert.Equal(t, 1, tr.Closed())
}

func TestStream_DeadlineIsTransportError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	tr := completiontest.NewTransport(completiontest.Script{Hold: true})

	events := collect(t, ctx, tr)

	require.Len(t, events, 1)
	var te *completion.TransportError
	require.ErrorAs(t, events[0].Err, &te)
	assert.ErrorIs(t, events[0].Err, context.DeadlineExceeded)
	assert.NotErrorIs(t, events[0].Err, completion.ErrAborted)
}

func TestStream_ConsumerStopsEarly(t *testing.T) {
	tr := completiontest.NewTransport(completiontest.Script{Frames: completiontest.Content("a", "b", "c")})

	n := 0
	for range completion.NewClient(tr).Stream(context.Background(), completion.Request{}) {
		n++
		break
	}

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tr.Closed())
}

func TestEvent_Terminal(t *testing.T) {
	assert.True(t, completion.Event{Type: completion.EventEnd}.Terminal())
	assert.True(t, completion.Event{Type: completion.EventError}.Terminal())
	assert.False(t, completion.Event{Type: completion.EventContent}.Terminal())
	assert.False(t, completion.Event{Type: completion.EventFunctionCall}.Terminal())
}
