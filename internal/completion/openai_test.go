package completion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"parley/internal/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type responsesEvent struct {
	typ  string
	data string
}

type capturedRequest struct {
	path   string
	header http.Header
	body   []byte
}

func responsesServer(t *testing.T, events ...responsesEvent) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.body, _ = io.ReadAll(r.Body)
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.typ, ev.data)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestOpenAITransport_StreamsText(t *testing.T) {
	srv, req := responsesServer(t,
		responsesEvent{"response.created", `{"type":"response.created","response":{"id":"resp_1"}}`},
		responsesEvent{"response.output_text.delta", `{"type":"response.output_text.delta","delta":"He"}`},
		responsesEvent{"response.output_text.delta", `{"type":"response.output_text.delta","delta":""}`},
		responsesEvent{"response.output_text.delta", `{"type":"response.output_text.delta","delta":"llo"}`},
		responsesEvent{"response.completed", `{"type":"response.completed","response":{"id":"resp_1"}}`},
	)
	tr := NewOpenAI(srv.URL, "sk-test", "gpt-test")

	frames, err := tr.Open(context.Background(), Request{
		Messages: []message.Message{message.New(message.RoleUser, "hi")},
		Headers:  map[string]string{"X-Trace": "1"},
		Body:     map[string]any{"temperature": 0.5},
	})
	require.NoError(t, err)
	got, err := drain(t, frames)
	require.NoError(t, err)

	assert.Equal(t, []Frame{{Content: "He"}, {Content: "llo"}, {Finish: "stop"}}, got)

	assert.Equal(t, "/responses", req.path)
	assert.Equal(t, "Bearer sk-test", req.header.Get("Authorization"))
	assert.Equal(t, "1", req.header.Get("X-Trace"))
	parsed := gjson.ParseBytes(req.body)
	assert.Equal(t, "gpt-test", parsed.Get("model").String())
	assert.True(t, parsed.Get("stream").Bool())
	assert.Equal(t, 0.5, parsed.Get("temperature").Float())
	assert.Equal(t, "hi", parsed.Get("input.0.content").String())
	assert.Equal(t, "user", parsed.Get("input.0.role").String())
}

func TestOpenAITransport_FunctionCall(t *testing.T) {
	srv, _ := responsesServer(t,
		responsesEvent{"response.output_item.added", `{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"lookup","arguments":""}}`},
		responsesEvent{"response.function_call_arguments.delta", `{"type":"response.function_call_arguments.delta","item_id":"fc_1","delta":"{\"q\":"}`},
		responsesEvent{"response.function_call_arguments.delta", `{"type":"response.function_call_arguments.delta","item_id":"fc_1","delta":"1}"}`},
		responsesEvent{"response.output_item.done", `{"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"lookup","arguments":"{\"q\":1}"}}`},
	)

	var events []Event
	for ev := range NewClient(NewOpenAI(srv.URL, "", "m")).Stream(context.Background(), Request{}) {
		events = append(events, ev)
	}

	require.Len(t, events, 2)
	require.Equal(t, EventFunctionCall, events[0].Type)
	assert.Equal(t, &message.FunctionCall{ID: "call_1", Name: "lookup", Arguments: `{"q":1}`}, events[0].FunctionCall)
	assert.Equal(t, EventEnd, events[1].Type)
}

func TestOpenAITransport_FailureEvents(t *testing.T) {
	tests := []struct {
		name  string
		event responsesEvent
		want  string
	}{
		{
			name:  "response failed",
			event: responsesEvent{"response.failed", `{"type":"response.failed","response":{"id":"resp_1","error":{"code":"server_error","message":"model crashed"}}}`},
			want:  "model crashed",
		},
		{
			name:  "error event",
			event: responsesEvent{"error", `{"type":"error","code":"rate_limit","message":"slow down"}`},
			want:  "slow down",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := responsesServer(t,
				responsesEvent{"response.output_text.delta", `{"type":"response.output_text.delta","delta":"partial"}`},
				tt.event,
			)

			frames, err := NewOpenAI(srv.URL, "", "m").Open(context.Background(), Request{})
			require.NoError(t, err)
			got, err := drain(t, frames)

			assert.Equal(t, []Frame{{Content: "partial"}}, got)
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.EqualError(t, te.Err, tt.want)
		})
	}
}

func TestOpenAITransport_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewOpenAI(srv.URL, "sk-wrong", "m").Open(context.Background(), Request{})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
}

func TestResponsesInput(t *testing.T) {
	withCall := func(id string, fc *message.FunctionCall) message.Message {
		m := message.New(message.RoleAssistant, "")
		m.ID = id
		m.FunctionCall = fc
		return m
	}
	result := func(name, content string) message.Message {
		m := message.New(message.RoleFunction, content)
		m.Name = name
		return m
	}

	type item struct {
		kind    string
		role    string
		text    string
		callID  string
		fnName  string
		payload string
	}
	tests := []struct {
		name string
		msgs []message.Message
		want []item
	}{
		{
			name: "plain turns",
			msgs: []message.Message{
				message.New(message.RoleSystem, "be brief"),
				message.New(message.RoleUser, "hi"),
				message.New(message.RoleAssistant, "hello"),
			},
			want: []item{
				{kind: "message", role: "system", text: "be brief"},
				{kind: "message", role: "user", text: "hi"},
				{kind: "message", role: "assistant", text: "hello"},
			},
		},
		{
			name: "result pairs with call id",
			msgs: []message.Message{
				withCall("m1", &message.FunctionCall{ID: "call_7", Name: "lookup", Arguments: `{"q":1}`}),
				result("lookup", `"found"`),
			},
			want: []item{
				{kind: "function_call", callID: "call_7", fnName: "lookup", payload: `{"q":1}`},
				{kind: "function_call_output", callID: "call_7", payload: `"found"`},
			},
		},
		{
			name: "call without id falls back to message id",
			msgs: []message.Message{
				withCall("m1", &message.FunctionCall{Name: "lookup", Arguments: `{}`}),
				result("lookup", "ok"),
			},
			want: []item{
				{kind: "function_call", callID: "call_m1", fnName: "lookup", payload: `{}`},
				{kind: "function_call_output", callID: "call_m1", payload: "ok"},
			},
		},
		{
			name: "unpaired result becomes developer note",
			msgs: []message.Message{
				withCall("m1", &message.FunctionCall{ID: "call_1", Name: "lookup", Arguments: `{}`}),
				result("lookup", "first"),
				result("lookup", "second"),
			},
			want: []item{
				{kind: "function_call", callID: "call_1", fnName: "lookup", payload: `{}`},
				{kind: "function_call_output", callID: "call_1", payload: "first"},
				{kind: "message", role: "developer", text: "lookup returned: second"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := responsesInput(tt.msgs)

			got := make([]item, len(items))
			for i, it := range items {
				switch {
				case it.OfMessage != nil:
					got[i] = item{kind: "message", role: string(it.OfMessage.Role), text: it.OfMessage.Content.OfString.Value}
				case it.OfFunctionCall != nil:
					got[i] = item{kind: "function_call", callID: it.OfFunctionCall.CallID, fnName: it.OfFunctionCall.Name, payload: it.OfFunctionCall.Arguments}
				case it.OfFunctionCallOutput != nil:
					got[i] = item{kind: "function_call_output", callID: it.OfFunctionCallOutput.CallID, payload: it.OfFunctionCallOutput.Output.OfString.Value}
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
