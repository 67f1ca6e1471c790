package chat

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeEnd          Outcome = "end"
	OutcomeFunctionCall Outcome = "function_call"
	OutcomeAborted      Outcome = "aborted"
	OutcomeError        Outcome = "error"
)

// CycleRecord summarizes one finished cycle.
type CycleRecord struct {
	ConversationID string
	MessageID      string // empty when the cycle produced no output
	Outcome        Outcome
	Function       string
	ContentBytes   int
	Err            error
	Started        time.Time
	Duration       time.Duration
}

// Recorder receives a CycleRecord for every cycle. Failures are logged and
// otherwise ignored.
type Recorder interface {
	RecordCycle(ctx context.Context, rec CycleRecord) error
}
