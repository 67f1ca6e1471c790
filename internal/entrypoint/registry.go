// Package entrypoint holds the application's callable entry points, compiles
// them into the function schema sent to the completion service, and resolves
// function calls returned by the service back to the right implementation.
package entrypoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"parley/internal/message"

	"github.com/google/jsonschema-go/jsonschema"
)

type registryOptions struct {
	validate bool
	onInvoke func(context.Context, Invocation)
}

// Option configures a Registry.
type Option func(*registryOptions)

// WithValidation validates call arguments against the compiled parameters
// schema before invoking. Without it the service is trusted to have
// populated required fields.
func WithValidation() Option {
	return func(o *registryOptions) { o.validate = true }
}

// WithOnInvoke sets a hook called after every invocation, successful or not.
func WithOnInvoke(fn func(context.Context, Invocation)) Option {
	return func(o *registryOptions) { o.onInvoke = fn }
}

type entry struct {
	fn       AnnotatedFunction
	schema   FunctionSchema
	resolved *jsonschema.Resolved
}

// Registry maps registration ids to entry points. Schema emission follows
// registration order so repeated compiles are stable. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	ids     []string
	entries map[string]*entry
	names   map[string]string // function name -> registration id
	opts    registryOptions
}

func NewRegistry(opts ...Option) *Registry {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		entries: make(map[string]*entry),
		names:   make(map[string]string),
		opts:    o,
	}
}

// Register adds fn under id. Registering an existing id replaces its entry in
// place. The argument annotations are copied, so later changes by the caller
// cannot desynchronize the schema from positional marshalling.
func (r *Registry) Register(id string, fn AnnotatedFunction) error {
	if id == "" {
		return fmt.Errorf("%w: empty registration id", ErrInvalidFunction)
	}
	if err := validateFunction(fn); err != nil {
		return err
	}
	fn.Arguments = slices.Clone(fn.Arguments)

	e := &entry{fn: fn, schema: Compile(fn)}
	if r.opts.validate {
		resolved, err := resolveParameters(e.schema.Parameters)
		if err != nil {
			return fmt.Errorf("compiling parameters schema for %s: %w", fn.Name, err)
		}
		e.resolved = resolved
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.names[fn.Name]; ok && owner != id {
		return fmt.Errorf("%w: %s (registered as %q)", ErrDuplicateName, fn.Name, owner)
	}
	if prev, ok := r.entries[id]; ok {
		delete(r.names, prev.fn.Name)
	} else {
		r.ids = append(r.ids, id)
	}
	r.entries[id] = e
	r.names[fn.Name] = id
	return nil
}

// Unregister removes the entry registered under id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)
	delete(r.names, e.fn.Name)
	r.ids = slices.DeleteFunc(r.ids, func(s string) bool { return s == id })
}

// Len returns the number of registered entry points.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Lookup returns the entry point registered with the given function name.
func (r *Registry) Lookup(name string) (AnnotatedFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	if !ok {
		return AnnotatedFunction{}, false
	}
	return r.entries[id].fn, true
}

// CompileSchema returns the function schemas of all registered entry points
// in registration order.
func (r *Registry) CompileSchema() []FunctionSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FunctionSchema, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.entries[id].schema)
	}
	return out
}

// Result is the outcome of ResolveAndInvoke. Invoked is false when the call
// named a function that is not registered.
type Result struct {
	Call    message.FunctionCall
	Invoked bool
	Value   any
}

// ResolveAndInvoke looks up call.Name, marshals the name-keyed arguments into
// registration order and invokes the implementation. An unknown name is not
// an error. history is the conversation that preceded the call; the
// implementation can read it with HistoryFromContext.
func (r *Registry) ResolveAndInvoke(ctx context.Context, history []message.Message, call message.FunctionCall) (Result, error) {
	res := Result{Call: call}

	r.mu.RLock()
	var e *entry
	if id, ok := r.names[call.Name]; ok {
		e = r.entries[id]
	}
	r.mu.RUnlock()
	if e == nil {
		slog.Debug("function call names no registered entry point", "function", call.Name)
		return res, nil
	}

	payload, err := parseArguments(call.Arguments)
	if err != nil {
		return res, &ArgumentParseError{Name: call.Name, Arguments: call.Arguments, Err: err}
	}
	if e.resolved != nil {
		if err := e.resolved.Validate(payload); err != nil {
			return res, &ArgumentParseError{Name: call.Name, Arguments: call.Arguments, Err: fmt.Errorf("%w: %v", ErrValidation, err)}
		}
	}

	fn := e.fn
	args := Positional(fn.Arguments, payload)

	ctx = ContextWithHistory(ctx, history)
	ctx = ContextWithCall(ctx, call)
	value, err := r.invoke(ctx, fn, call, args)
	if err != nil {
		return res, err
	}
	res.Invoked = true
	res.Value = value
	return res, nil
}

// Positional orders payload values by the annotation sequence. Missing
// arguments, required or not, yield nil.
func Positional(annotations []ArgumentAnnotation, payload map[string]any) []any {
	args := make([]any, len(annotations))
	for i, a := range annotations {
		args[i] = payload[a.Name]
	}
	return args
}

// parseArguments decodes a serialized name→value mapping. Blank input is an
// empty mapping, since services send "" for argument-less calls.
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("arguments must be a JSON object, got %s", raw)
	}
	return payload, nil
}

func validateFunction(fn AnnotatedFunction) error {
	if fn.Name == "" {
		return fmt.Errorf("%w: empty function name", ErrInvalidFunction)
	}
	if fn.Implementation == nil {
		return fmt.Errorf("%w: %s has no implementation", ErrInvalidFunction, fn.Name)
	}
	seen := make(map[string]bool, len(fn.Arguments))
	for _, a := range fn.Arguments {
		if a.Name == "" {
			return fmt.Errorf("%w: %s has an unnamed argument", ErrInvalidFunction, fn.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: %s declares argument %q twice", ErrInvalidFunction, fn.Name, a.Name)
		}
		seen[a.Name] = true
	}
	if arity := fn.Implementation.Arity(); arity >= 0 && arity != len(fn.Arguments) {
		return fmt.Errorf("%w: %s takes %d arguments, %d annotated", ErrArityMismatch, fn.Name, arity, len(fn.Arguments))
	}
	return nil
}
