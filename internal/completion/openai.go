package completion

import (
	"context"
	"errors"
	"io"
	"maps"
	"net/http"
	"slices"

	"parley/internal/message"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// OpenAITransport streams through the OpenAI Responses API.
type OpenAITransport struct {
	client *openai.Client
	model  string
}

func NewOpenAI(baseURL, apiKey, model string) *OpenAITransport {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, option.WithHTTPClient(&http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}))
	client := openai.NewClient(opts...)
	return &OpenAITransport{client: &client, model: model}
}

func (o *OpenAITransport) Open(ctx context.Context, req Request) (Frames, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(o.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responsesInput(req.Messages),
		},
	}
	for _, fn := range req.Functions {
		params.Tools = append(params.Tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        fn.Name,
				Description: openai.String(fn.Description),
				Parameters:  fn.Parameters.Map(),
				Strict:      openai.Bool(false),
			},
		})
	}

	var opts []option.RequestOption
	for k, v := range req.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	for _, k := range slices.Sorted(maps.Keys(req.Body)) {
		opts = append(opts, option.WithJSONSet(k, req.Body[k]))
	}

	stream := o.client.Responses.NewStreaming(ctx, params, opts...)
	if err := stream.Err(); err != nil {
		return nil, openAIError(err)
	}
	return &openAIFrames{stream: stream}, nil
}

// responsesInput converts the message sequence into Responses input items.
// Function results are paired with the most recent call of the same name.
func responsesInput(msgs []message.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(msgs))
	pending := map[string]string{}
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, "system"))
		case message.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, "user"))
		case message.RoleAssistant:
			if m.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, "assistant"))
			}
			if fc := m.FunctionCall; fc != nil {
				id := fc.ID
				if id == "" {
					id = "call_" + m.ID
				}
				pending[fc.Name] = id
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(fc.Arguments, id, fc.Name))
			}
		case message.RoleFunction:
			if id, ok := pending[m.Name]; ok {
				delete(pending, m.Name)
				items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(id, m.Content))
				continue
			}
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Name+" returned: "+m.Content, "developer"))
		}
	}
	return items
}

type openAIFrames struct {
	stream *ssestream.Stream[responses.ResponseStreamEventUnion]
}

func (f *openAIFrames) Next() (Frame, error) {
	for f.stream.Next() {
		event := f.stream.Current()

		switch event.Type {
		case "response.output_text.delta":
			if event.Delta != "" {
				return Frame{Content: event.Delta}, nil
			}
		case "response.output_item.added":
			if event.Item.Type == "function_call" {
				return Frame{
					Function:       true,
					FunctionCallID: event.Item.CallID,
					FunctionName:   event.Item.Name,
				}, nil
			}
		case "response.function_call_arguments.delta":
			return Frame{Function: true, FunctionArguments: event.Delta}, nil
		case "response.output_item.done":
			if event.Item.Type == "function_call" {
				return Frame{Function: true, Finish: "function_call"}, nil
			}
		case "response.completed":
			return Frame{Finish: "stop"}, nil
		case "response.failed":
			return Frame{}, &TransportError{Err: errors.New(event.Response.Error.Message)}
		case "error":
			return Frame{}, &TransportError{Err: errors.New(event.Message)}
		}
	}
	if err := f.stream.Err(); err != nil {
		return Frame{}, openAIError(err)
	}
	return Frame{}, io.EOF
}

func (f *openAIFrames) Close() error {
	return f.stream.Close()
}

func openAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &TransportError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return &TransportError{Err: err}
}
