package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoModel is the fatal error of a run started without a model.
	ErrNoModel = errors.New("agent: no model")

	// ErrRunFinished is returned to sources that emit after the terminal part.
	ErrRunFinished = errors.New("agent: run finished")

	// ErrApprovalNotFound is returned by ApprovalBroker when no request with
	// the given approval id is waiting.
	ErrApprovalNotFound = errors.New("agent: approval not found")

	// ErrEmitNotAllowed is returned when a tool emits a part that belongs to
	// the engine's own lifecycle.
	ErrEmitNotAllowed = errors.New("agent: part cannot be emitted by a tool")

	// ErrEmptyStream fails a streaming tool that produced no value.
	ErrEmptyStream = errors.New("agent: tool stream produced no output")

	// ErrAbandoned is recorded for tools still running when the abort grace
	// period expires.
	ErrAbandoned = errors.New("agent: tool did not stop after cancellation")

	// ErrNoOutput is returned by Result.Output when the last step produced
	// no text.
	ErrNoOutput = errors.New("agent: no output")
)

// PanicError is recorded when a tool handler panics.
type PanicError struct {
	Tool  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("agent: tool %s panicked: %v", e.Tool, e.Value)
}

// OutputError is returned when the answer of a run is not the JSON value
// that was asked for.
type OutputError struct {
	Text string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("agent: invalid output: %v", e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }
