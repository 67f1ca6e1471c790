package entrypoint

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// ArgumentAnnotation describes one positional argument of an entry point.
// Schema is the type metadata shown to the model; nil means "any value".
type ArgumentAnnotation struct {
	Name     string
	Required bool
	Schema   *jsonschema.Schema
}

// Arg returns a required argument annotation.
func Arg(name string, schema *jsonschema.Schema) ArgumentAnnotation {
	return ArgumentAnnotation{Name: name, Required: true, Schema: schema}
}

// OptionalArg returns an optional argument annotation.
func OptionalArg(name string, schema *jsonschema.Schema) ArgumentAnnotation {
	return ArgumentAnnotation{Name: name, Schema: schema}
}

// String is a shorthand for a string-typed schema fragment.
func String(description string, enum ...string) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "string", Description: description}
	for _, v := range enum {
		s.Enum = append(s.Enum, v)
	}
	return s
}

// Integer is a shorthand for an integer-typed schema fragment.
func Integer(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

// AnnotatedFunction is an entry point the model may ask to invoke. The order
// of Arguments defines positional invocation order.
type AnnotatedFunction struct {
	Name           string
	Description    string
	Arguments      []ArgumentAnnotation
	Implementation Implementation
}

// Implementation is the callable behind an entry point. Arity returns the
// fixed number of positional arguments, or -1 if any count is accepted.
type Implementation interface {
	Arity() int
	Call(ctx context.Context, args []any) (any, error)
}

// Func adapts a plain function over the positional argument list.
type Func func(ctx context.Context, args []any) (any, error)

func (f Func) Arity() int { return -1 }

func (f Func) Call(ctx context.Context, args []any) (any, error) {
	return f(ctx, args)
}

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

type reflected struct {
	fn       reflect.Value
	params   []reflect.Type
	withCtx  bool
	hasValue bool
	hasErr   bool
}

// Reflect adapts an ordinary Go function into an Implementation. The function
// may take a leading context.Context; its remaining parameters receive the
// positional arguments, converted from their JSON-decoded form. Supported
// results are (), (T), (error) and (T, error). Variadic functions are rejected;
// use Func for those.
func Reflect(fn any) (Implementation, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: implementation must be a non-nil func, got %T", ErrInvalidFunction, fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("%w: variadic func %s", ErrInvalidFunction, t)
	}

	r := &reflected{fn: v}
	start := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		r.withCtx = true
		start = 1
	}
	for i := start; i < t.NumIn(); i++ {
		r.params = append(r.params, t.In(i))
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			r.hasErr = true
		} else {
			r.hasValue = true
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("%w: second result of %s must be error", ErrInvalidFunction, t)
		}
		r.hasValue, r.hasErr = true, true
	default:
		return nil, fmt.Errorf("%w: too many results in %s", ErrInvalidFunction, t)
	}
	return r, nil
}

// MustReflect is like Reflect but panics on error. Intended for package-level
// registration of functions known to be well formed.
func MustReflect(fn any) Implementation {
	impl, err := Reflect(fn)
	if err != nil {
		panic(err)
	}
	return impl
}

func (r *reflected) Arity() int { return len(r.params) }

func (r *reflected) Call(ctx context.Context, args []any) (any, error) {
	if len(args) != len(r.params) {
		return nil, fmt.Errorf("%w: want %d arguments, got %d", ErrArityMismatch, len(r.params), len(args))
	}

	in := make([]reflect.Value, 0, len(args)+1)
	if r.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, a := range args {
		v, err := convertArg(a, r.params[i])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrArgumentType, i, err)
		}
		in = append(in, v)
	}

	out := r.fn.Call(in)
	var value any
	var err error
	if r.hasValue {
		value = out[0].Interface()
	}
	if r.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	return value, err
}

// convertArg maps a JSON-decoded value onto t. Absent values become t's zero
// value; anything not directly assignable goes through a JSON round trip.
func convertArg(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}
