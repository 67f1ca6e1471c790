package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrAborted is the terminal error of a cycle whose context was cancelled,
// typically through a Stop. Callers can use errors.Is to skip error UI.
var ErrAborted = errors.New("completion aborted")

// TransportError is a network, connection or non-2xx failure.
type TransportError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion transport: %d %s: %v", e.StatusCode, http.StatusText(e.StatusCode), e.Err)
	}
	return fmt.Sprintf("completion transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedStreamError reports a frame that could not be parsed.
type MalformedStreamError struct {
	Frame string
	Err   error
}

func (e *MalformedStreamError) Error() string {
	return fmt.Sprintf("malformed stream frame %q: %v", truncate(e.Frame, 120), e.Err)
}

func (e *MalformedStreamError) Unwrap() error { return e.Err }

// classify maps a failure to the cycle's terminal error. Context state wins
// over whatever the transport reported, so a Stop always surfaces as
// ErrAborted.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			return ErrAborted
		}
		return &TransportError{Err: ctxErr}
	}
	var te *TransportError
	var me *MalformedStreamError
	if errors.As(err, &te) || errors.As(err, &me) {
		return err
	}
	return &TransportError{Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
