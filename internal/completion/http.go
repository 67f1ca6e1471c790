package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"

	"parley/internal/entrypoint"
	"parley/internal/message"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const doneSentinel = "[DONE]"

// HTTPTransport streams from an OpenAI-compatible chat-completions endpoint
// over Server-Sent Events.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	model    string
	headers  map[string]string
	body     map[string]any
	client   *http.Client
}

type HTTPOption func(*HTTPTransport)

// WithDefaultHeaders sets headers sent with every request. Per-request
// headers take precedence.
func WithDefaultHeaders(h map[string]string) HTTPOption {
	return func(t *HTTPTransport) { t.headers = maps.Clone(h) }
}

// WithDefaultBody sets body extension fields sent with every request.
// Per-request extensions are applied after them.
func WithDefaultBody(b map[string]any) HTTPOption {
	return func(t *HTTPTransport) { t.body = maps.Clone(b) }
}

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

func NewHTTP(endpoint, apiKey, model string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type wireRequest struct {
	Model     string                      `json:"model,omitempty"`
	Stream    bool                        `json:"stream"`
	Messages  []message.Wire              `json:"messages"`
	Functions []entrypoint.FunctionSchema `json:"functions,omitempty"`
}

func (t *HTTPTransport) Open(ctx context.Context, req Request) (Frames, error) {
	body, err := t.encode(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: errors.New(errorMessage(raw, resp.Status))}
	}

	return &httpFrames{body: resp.Body, sse: newSSEReader(resp.Body)}, nil
}

// encode marshals the request and merges body extensions on top, transport
// defaults first. Keys are applied in sorted order; dotted keys address
// nested fields.
func (t *HTTPTransport) encode(req Request) ([]byte, error) {
	body, err := json.Marshal(wireRequest{
		Model:     t.model,
		Stream:    true,
		Messages:  message.ToWire(req.Messages),
		Functions: req.Functions,
	})
	if err != nil {
		return nil, err
	}
	for _, ext := range []map[string]any{t.body, req.Body} {
		for _, k := range slices.Sorted(maps.Keys(ext)) {
			body, err = sjson.SetBytes(body, k, ext[k])
			if err != nil {
				return nil, fmt.Errorf("merging body field %q: %w", k, err)
			}
		}
	}
	return body, nil
}

func errorMessage(raw []byte, status string) string {
	if msg := gjson.GetBytes(raw, "error.message").String(); msg != "" {
		return msg
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return status
}

type httpFrames struct {
	body io.ReadCloser
	sse  *sseReader
	done bool
}

func (f *httpFrames) Next() (Frame, error) {
	for !f.done {
		ev, err := f.sse.Next()
		if errors.Is(err, io.EOF) {
			f.done = true
			break
		}
		if err != nil {
			return Frame{}, &TransportError{Err: err}
		}

		data := strings.TrimSpace(ev.Data)
		if data == doneSentinel {
			f.done = true
			break
		}
		if data == "" {
			continue
		}
		frame, ok, err := decodeChunk(data)
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return frame, nil
		}
	}
	return Frame{}, io.EOF
}

func (f *httpFrames) Close() error {
	f.done = true
	return f.body.Close()
}

var errInvalidJSON = errors.New("invalid JSON")

// decodeChunk parses one chat-completions chunk. ok is false for chunks that
// carry nothing for the cycle, such as usage-only chunks.
func decodeChunk(data string) (frame Frame, ok bool, err error) {
	if !gjson.Valid(data) {
		return Frame{}, false, &MalformedStreamError{Frame: data, Err: errInvalidJSON}
	}
	root := gjson.Parse(data)
	if !root.IsObject() {
		return Frame{}, false, &MalformedStreamError{Frame: data, Err: errors.New("chunk is not an object")}
	}
	if e := root.Get("error"); present(e) {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.String()
		}
		return Frame{}, false, &TransportError{Err: errors.New(msg)}
	}

	choice := root.Get("choices.0")
	if !present(choice) {
		return Frame{}, false, nil
	}
	if !choice.IsObject() {
		return Frame{}, false, &MalformedStreamError{Frame: data, Err: errors.New("choice is not an object")}
	}

	delta := choice.Get("delta")
	frame.Content = delta.Get("content").String()
	if fc := delta.Get("function_call"); present(fc) {
		frame.Function = true
		frame.FunctionName = fc.Get("name").String()
		frame.FunctionArguments = fc.Get("arguments").String()
	} else if tc := delta.Get("tool_calls.0"); present(tc) {
		frame.Function = true
		frame.FunctionCallID = tc.Get("id").String()
		frame.FunctionName = tc.Get("function.name").String()
		frame.FunctionArguments = tc.Get("function.arguments").String()
	}
	frame.Finish = choice.Get("finish_reason").String()
	return frame, true, nil
}

// present reports whether r holds a value. Compatible servers send explicit
// nulls for absent fields.
func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}
