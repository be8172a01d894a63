package agent

import (
	"context"
	"iter"
	"strings"
	"sync"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/event"
)

// StepResult records one model invocation and the tool calls it produced.
type StepResult struct {
	Step      int
	Text      string
	Reasoning string
	// ToolCalls lists every call of the step, including invalid and
	// provider-executed ones.
	ToolCalls    []event.ToolCall
	ToolResults  []event.ToolResult
	ToolErrors   []event.ToolError
	Denied       []event.ToolOutputDenied
	FinishReason ai.FinishReason
	Usage        ai.Usage
	Request      event.RequestInfo
	Response     event.ResponseInfo
	Warnings     []string
}

func (s StepResult) summary() event.StepSummary {
	return event.StepSummary{
		Step:         s.Step,
		FinishReason: s.FinishReason,
		Usage:        s.Usage,
		ToolCalls:    len(s.ToolCalls),
	}
}

// Response is the metadata of the last step plus the messages the run
// added to the conversation.
type Response struct {
	event.ResponseInfo
	Messages []ai.Message
}

// Result is the handle of one run. The part stream and the futures are
// served by the same execution: the stream is recorded as it is produced,
// so it can be iterated any number of times, before or after the futures
// resolve, or never.
type Result struct {
	runID  string
	cancel context.CancelCauseFunc
	format *ai.ResponseFormat

	mu      sync.Mutex
	parts   []event.Event
	changed chan struct{}
	done    chan struct{}
	closed  bool

	err          error
	resumed      []event.ToolResult
	steps        []StepResult
	termination  event.Termination
	finishReason ai.FinishReason
	usage        ai.Usage
	response     Response
}

func newResult(runID string, cancel context.CancelCauseFunc, format *ai.ResponseFormat) *Result {
	return &Result{
		runID:        runID,
		cancel:       cancel,
		format:       format,
		changed:      make(chan struct{}),
		done:         make(chan struct{}),
		finishReason: ai.FinishReasonUnknown,
	}
}

// RunID identifies the run.
func (r *Result) RunID() string { return r.runID }

// Cancel aborts the run. The run still ends with a finish part whose
// termination is cancelled. Cancel after the run ended has no effect.
func (r *Result) Cancel() {
	r.cancel(context.Canceled)
}

// Done is closed once the terminal part was recorded.
func (r *Result) Done() <-chan struct{} { return r.done }

// Events replays the part stream from the first part. Each call returns
// an independent iterator; iteration blocks for parts not produced yet and
// ends after the terminal part or when ctx is done.
func (r *Result) Events(ctx context.Context) iter.Seq[event.Event] {
	return func(yield func(event.Event) bool) {
		for i := 0; ; i++ {
			e, ok := r.part(ctx, i)
			if !ok || !yield(e) {
				return
			}
		}
	}
}

func (r *Result) part(ctx context.Context, i int) (event.Event, bool) {
	for {
		r.mu.Lock()
		if i < len(r.parts) {
			e := r.parts[i]
			r.mu.Unlock()
			return e, true
		}
		closed := r.closed
		changed := r.changed
		r.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Wait blocks until the run ended and returns its fatal error, if any.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Text returns the text generated across all steps.
func (r *Result) Text(ctx context.Context) (string, error) {
	return await(ctx, r, func() string {
		var b strings.Builder
		for _, s := range r.steps {
			b.WriteString(s.Text)
		}
		return b.String()
	})
}

// ToolCalls returns the tool calls of all steps.
func (r *Result) ToolCalls(ctx context.Context) ([]event.ToolCall, error) {
	return await(ctx, r, func() []event.ToolCall {
		var calls []event.ToolCall
		for _, s := range r.steps {
			calls = append(calls, s.ToolCalls...)
		}
		return calls
	})
}

// ToolResults returns the final tool results of the run, starting with
// the results of calls resumed from an earlier run.
func (r *Result) ToolResults(ctx context.Context) ([]event.ToolResult, error) {
	return await(ctx, r, func() []event.ToolResult {
		results := append([]event.ToolResult(nil), r.resumed...)
		for _, s := range r.steps {
			results = append(results, s.ToolResults...)
		}
		return results
	})
}

// Steps returns every step of the run.
func (r *Result) Steps(ctx context.Context) ([]StepResult, error) {
	return await(ctx, r, func() []StepResult {
		return append([]StepResult(nil), r.steps...)
	})
}

// TotalUsage returns the usage summed over all steps.
func (r *Result) TotalUsage(ctx context.Context) (ai.Usage, error) {
	return await(ctx, r, func() ai.Usage { return r.usage })
}

// FinishReason returns the finish reason of the last step, or
// ai.FinishReasonCancelled when the run was cancelled or timed out.
func (r *Result) FinishReason(ctx context.Context) (ai.FinishReason, error) {
	return await(ctx, r, func() ai.FinishReason { return r.finishReason })
}

// Termination returns why the run ended.
func (r *Result) Termination(ctx context.Context) (event.Termination, error) {
	return await(ctx, r, func() event.Termination { return r.termination })
}

// Response returns the last response metadata and the added messages.
func (r *Result) Response(ctx context.Context) (Response, error) {
	return await(ctx, r, func() Response { return r.response })
}

func await[T any](ctx context.Context, r *Result, get func() T) (T, error) {
	var zero T
	if err := r.Wait(ctx); err != nil {
		return zero, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return get(), nil
}

func (r *Result) append(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parts = append(r.parts, e)
	close(r.changed)
	r.changed = make(chan struct{})
}

// outcome is the state the loop hands over before its terminal part.
type outcome struct {
	resumed      []event.ToolResult
	steps        []StepResult
	termination  event.Termination
	finishReason ai.FinishReason
	usage        ai.Usage
	response     Response
}

func (r *Result) settle(o outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.resumed = o.resumed
	r.steps = o.steps
	r.termination = o.termination
	r.finishReason = o.finishReason
	r.usage = o.usage
	r.response = o.response
}

func (r *Result) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Result) close(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.err = err
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
	close(r.done)
}

// summary snapshots the settled state for callbacks.
func (r *Result) summary() RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunSummary{
		RunID:        r.runID,
		Steps:        append([]StepResult(nil), r.steps...),
		TotalUsage:   r.usage,
		FinishReason: r.finishReason,
		Termination:  r.termination,
		Response:     r.response,
	}
}
