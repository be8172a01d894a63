package agent

import (
	"context"
	"log/slog"
	"time"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/assembler"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/model"
	"github.com/spetersoncode/braid/telemetry"
	"github.com/spetersoncode/braid/transform"
)

// PrepareStepInput is passed to the PrepareStep hook before every step.
type PrepareStepInput struct {
	// Step is the 1-indexed number of the step about to run.
	Step     int
	Steps    []StepResult
	Messages []ai.Message
	Model    model.Model
}

// PrepareStepResult overrides request settings for one step. Zero fields
// keep the run's settings.
type PrepareStepResult struct {
	Model       model.Model
	System      string
	Messages    []ai.Message
	ActiveTools []string
	ToolChoice  ai.ToolChoice
}

// PrepareStepFunc customizes a step. An error is fatal to the run.
type PrepareStepFunc func(ctx context.Context, in PrepareStepInput) (*PrepareStepResult, error)

// RunSummary is passed to OnFinish.
type RunSummary struct {
	RunID        string
	Steps        []StepResult
	TotalUsage   ai.Usage
	FinishReason ai.FinishReason
	Termination  event.Termination
	Response     Response
}

// Options contains configuration for a run.
type Options struct {
	// System is the system prompt sent with every step.
	System string

	// MaxSteps bounds the number of model invocations. Default is 10.
	MaxSteps int

	// StopWhen is checked after every step that produced tool results.
	// Any matching condition ends the run.
	StopWhen []StopCondition

	// Timeout sets a deadline for the entire run. Zero means none.
	Timeout time.Duration

	// HandlerTimeout bounds each tool execution. Default is 30 seconds;
	// zero disables it.
	HandlerTimeout time.Duration

	// AbortGrace is how long cancelled tools may take to unwind before
	// they are recorded as failed. Default is 5 seconds.
	AbortGrace time.Duration

	// Approver decides approval requests during the run. When nil, calls
	// needing approval are carried to the next run.
	Approver Approver

	ToolChoice  ai.ToolChoice
	ActiveTools []string
	PrepareStep PrepareStepFunc
	Repair      assembler.RepairFunc

	// Retry applies to opening the model stream.
	Retry ai.RetryConfig

	// CallOptions are the model settings sent with every request.
	CallOptions []ai.Option

	// ResponseFormat asks every step for a JSON answer, read back with
	// Result.Output.
	ResponseFormat *ai.ResponseFormat

	// IncludeRaw forwards raw provider events as raw parts.
	IncludeRaw bool

	// QueueSize bounds the parts buffered between producers and the result.
	QueueSize int

	Transforms []transform.Transform

	// Validate checks every part against the stream invariants. A
	// violation is fatal.
	Validate bool

	Logger   *slog.Logger
	Recorder telemetry.Recorder

	OnStepFinish func(StepResult)
	OnFinish     func(RunSummary)
	OnError      func(error)
	OnChunk      func(event.Event)
	OnAbort      func([]StepResult)
}

// Option is a functional option for configuring a run.
type Option func(*Options)

// DefaultRetryConfig is the retry policy used when none is set: three
// attempts with backoff starting at two seconds.
func DefaultRetryConfig() ai.RetryConfig {
	return ai.NewRetryConfig(3, 2*time.Second, 30*time.Second, 2.0, 0.1)
}

// WithSystem sets the system prompt.
func WithSystem(s string) Option {
	return func(o *Options) { o.System = s }
}

// WithMaxSteps sets the maximum number of steps.
// Default is 10.
func WithMaxSteps(n int) Option {
	return func(o *Options) { o.MaxSteps = n }
}

// WithStopWhen adds stop conditions.
func WithStopWhen(conds ...StopCondition) Option {
	return func(o *Options) { o.StopWhen = append(o.StopWhen, conds...) }
}

// WithTimeout sets a deadline for the entire run.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithHandlerTimeout sets the timeout for each tool execution.
// Default is 30 seconds. Set to 0 for no per-handler timeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *Options) { o.HandlerTimeout = d }
}

// WithAbortGrace sets how long cancelled tools may keep running.
func WithAbortGrace(d time.Duration) Option {
	return func(o *Options) { o.AbortGrace = d }
}

// WithApprover decides approval requests in-run.
func WithApprover(a Approver) Option {
	return func(o *Options) { o.Approver = a }
}

// WithToolChoice controls how the model uses tools.
func WithToolChoice(c ai.ToolChoice) Option {
	return func(o *Options) { o.ToolChoice = c }
}

// WithActiveTools narrows the tools offered to the model. Calls to other
// registered tools fail as unknown tools.
func WithActiveTools(names ...string) Option {
	return func(o *Options) { o.ActiveTools = names }
}

// WithPrepareStep sets the per-step hook.
func WithPrepareStep(fn PrepareStepFunc) Option {
	return func(o *Options) { o.PrepareStep = fn }
}

// WithRepair sets the hook consulted for tool calls with invalid input.
func WithRepair(fn assembler.RepairFunc) Option {
	return func(o *Options) { o.Repair = fn }
}

// WithRetry sets the retry policy for opening model streams.
func WithRetry(cfg ai.RetryConfig) Option {
	return func(o *Options) { o.Retry = cfg }
}

// WithCallOptions passes model settings through to every request.
func WithCallOptions(opts ...ai.Option) Option {
	return func(o *Options) { o.CallOptions = append(o.CallOptions, opts...) }
}

// WithResponseFormat asks the model for a JSON answer.
func WithResponseFormat(f *ai.ResponseFormat) Option {
	return func(o *Options) { o.ResponseFormat = f }
}

// WithOutput asks the model for a JSON answer matching the schema of T.
// Read it back with DecodeOutput.
func WithOutput[T any](name string) Option {
	return WithResponseFormat(ai.FormatFor[T](name, ""))
}

// WithMaxTokens is a convenience option to set max tokens for model calls.
func WithMaxTokens(n int) Option {
	return WithCallOptions(ai.WithMaxTokens(n))
}

// WithTemperature is a convenience option to set temperature for model calls.
func WithTemperature(t float64) Option {
	return WithCallOptions(ai.WithTemperature(t))
}

// WithRawParts forwards raw provider events.
func WithRawParts() Option {
	return func(o *Options) { o.IncludeRaw = true }
}

// WithQueueSize sets the bound of the part queue.
func WithQueueSize(n int) Option {
	return func(o *Options) { o.QueueSize = n }
}

// WithTransform adds stream transforms applied to model parts.
func WithTransform(t ...transform.Transform) Option {
	return func(o *Options) { o.Transforms = append(o.Transforms, t...) }
}

// WithValidation enables part sequence validation.
func WithValidation() Option {
	return func(o *Options) { o.Validate = true }
}

// WithLogger sets the logger. Runs log nothing by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r telemetry.Recorder) Option {
	return func(o *Options) { o.Recorder = r }
}

// OnStepFinish is called after every step.
func OnStepFinish(fn func(StepResult)) Option {
	return func(o *Options) { o.OnStepFinish = fn }
}

// OnFinish is called once when the run finishes without a fatal error
// and was not cancelled.
func OnFinish(fn func(RunSummary)) Option {
	return func(o *Options) { o.OnFinish = fn }
}

// OnError is called with the fatal error of a run.
func OnError(fn func(error)) Option {
	return func(o *Options) { o.OnError = fn }
}

// OnChunk is called for every part, in stream order.
func OnChunk(fn func(event.Event)) Option {
	return func(o *Options) { o.OnChunk = fn }
}

// OnAbort is called when the run is cancelled or times out.
func OnAbort(fn func([]StepResult)) Option {
	return func(o *Options) { o.OnAbort = fn }
}

// ApplyOptions applies functional options to an Options struct with defaults.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{
		MaxSteps:       10,
		HandlerTimeout: 30 * time.Second,
		AbortGrace:     5 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 10
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Recorder == nil {
		o.Recorder = telemetry.Noop{}
	}
	return o
}
