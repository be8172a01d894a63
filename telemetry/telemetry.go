// Package telemetry records run, step and tool observations. Recorders are
// purely observational: they never influence the run.
package telemetry

import (
	"context"
	"time"

	ai "github.com/spetersoncode/braid"
)

// Run describes a run when it starts or ends.
type Run struct {
	RunID    string
	Model    string
	Provider string
	// Set when the run ended.
	Termination string
	TotalUsage  ai.Usage
	Steps       int
	Duration    time.Duration
	Err         error
}

// Step describes a finished model invocation.
type Step struct {
	RunID        string
	Step         int
	Model        string
	Provider     string
	FinishReason ai.FinishReason
	Usage        ai.Usage
	Start        time.Time
	Duration     time.Duration
}

// Tool describes a finished tool call.
type Tool struct {
	RunID      string
	Step       int
	ToolCallID string
	ToolName   string
	// Outcome is result, error or denied.
	Outcome  string
	Start    time.Time
	Duration time.Duration
	Err      error
}

// Recorder receives observations. RunStarted may return a derived context
// that is passed to the other calls for the same run.
type Recorder interface {
	RunStarted(ctx context.Context, r Run) context.Context
	StepFinished(ctx context.Context, s Step)
	ToolFinished(ctx context.Context, t Tool)
	RunFinished(ctx context.Context, r Run)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RunStarted(ctx context.Context, _ Run) context.Context { return ctx }
func (Noop) StepFinished(context.Context, Step)                     {}
func (Noop) ToolFinished(context.Context, Tool)                     {}
func (Noop) RunFinished(context.Context, Run)                       {}
