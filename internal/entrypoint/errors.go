package entrypoint

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrInvalidFunction = errors.New("invalid entry point")
	ErrDuplicateName   = errors.New("function name already registered")
	ErrArityMismatch   = errors.New("implementation arity does not match argument annotations")
	ErrArgumentType    = errors.New("argument type mismatch")
	ErrValidation      = errors.New("arguments failed schema validation")
)

// ArgumentParseError reports function-call arguments that are not a valid
// name→value mapping (or that fail validation when it is enabled).
type ArgumentParseError struct {
	Name      string
	Arguments string
	Err       error
}

func (e *ArgumentParseError) Error() string {
	return fmt.Sprintf("parsing arguments for %s: %v", e.Name, e.Err)
}

func (e *ArgumentParseError) Unwrap() error { return e.Err }

// InvocationError wraps a failure raised by an entry point's implementation.
type InvocationError struct {
	Name string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoking %s: %v", e.Name, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
