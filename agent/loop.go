package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/assembler"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/internal/retry"
	"github.com/spetersoncode/braid/internal/store"
	"github.com/spetersoncode/braid/merge"
	"github.com/spetersoncode/braid/model"
	"github.com/spetersoncode/braid/telemetry"
	"github.com/spetersoncode/braid/transform"
)

// run owns one execution: the loop goroutine writes parts into the merger,
// the drain goroutine records them into the Result. Neither side holds a
// reference to the other.
type run struct {
	agent  *Agent
	opts   *Options
	id     string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	// emitCtx outlives cancellation so the closing parts of a cancelled
	// run are still delivered.
	emitCtx      context.Context
	telemetryCtx context.Context

	merger  *merge.Merger
	out     *merge.Writer
	history *store.History
	result  *Result

	resumed []event.ToolResult
	steps   []StepResult
	usage   ai.Usage
	last    event.ResponseInfo
	start   time.Time
}

func (r *run) emit(e event.Event) error {
	return r.out.Emit(r.emitCtx, e)
}

func (r *run) emitTo(ctx context.Context, e event.Event) error {
	return r.out.Emit(ctx, e)
}

func (r *run) loop(resume []resumeCall) {
	defer r.out.Close()

	if err := r.emit(event.Start{RunID: r.id, MessageID: ai.GenerateMessageID(), Timestamp: r.start}); err != nil {
		return
	}
	if r.agent.model == nil {
		r.fail(ErrNoModel)
		return
	}
	if len(resume) > 0 {
		r.resume(resume)
	}

	for step := 1; ; step++ {
		if r.ctx.Err() != nil {
			r.finish(r.cancelled())
			return
		}
		if r.result.isClosed() {
			return
		}

		sr, rec, coord, err := r.step(step)
		if err != nil {
			if r.interrupted() {
				r.finish(r.cancelled())
				return
			}
			r.fail(err)
			return
		}
		r.steps = append(r.steps, sr)
		r.usage = r.usage.Add(sr.Usage)
		r.last = sr.Response
		r.history.Append(rec.messages(sr, coord)...)
		if r.opts.OnStepFinish != nil {
			r.opts.OnStepFinish(sr)
		}

		if term, done := r.decide(step, rec, coord); done {
			r.finish(term)
			return
		}
	}
}

// resume settles calls whose approval was answered after an earlier run
// stopped, before the first model step. Each call and its decision are
// replayed first so the stream carries the call its result refers to.
func (r *run) resume(calls []resumeCall) {
	coord := newCoordinator(r, 0, r.agent.tools.Subset(r.opts.ActiveTools...), r.history.Messages())
	for _, rc := range calls {
		replayed := []event.Event{
			event.ToolCall{ToolCallID: rc.call.ID, ToolName: rc.call.Name, Input: rc.call.Input},
			event.ToolApprovalResponse{
				ApprovalID: rc.approvalID,
				ToolCallID: rc.call.ID,
				Approved:   rc.approved,
				Reason:     rc.reason,
			},
		}
		for _, e := range replayed {
			if err := r.emit(e); err != nil {
				return
			}
		}
		if rc.approved {
			coord.start(rc.call, true)
		} else {
			coord.reject(rc.call, rc.reason)
		}
	}
	coord.wait(r.ctx)

	var results []ai.ToolResult
	for _, rc := range calls {
		st, ok := coord.lookup(rc.call.ID)
		if !ok {
			continue
		}
		if res, ok := st.modelResult(); ok {
			results = append(results, res)
		}
		if _, final := st.snapshot(); final != nil {
			if p, ok := final.(event.ToolResult); ok {
				r.resumed = append(r.resumed, p)
			}
		}
	}
	if len(results) > 0 {
		r.history.Append(ai.NewToolResultMessage(results...))
	}
	r.logger.Debug("resumed approved tool calls", "calls", len(calls))
}

func (r *run) step(n int) (StepResult, *stepRecord, *coordinator, error) {
	ctx := r.ctx
	m := r.agent.model
	system := r.opts.System
	msgs := r.history.Messages()
	active := r.opts.ActiveTools
	choice := r.opts.ToolChoice

	if r.opts.PrepareStep != nil {
		p, err := r.opts.PrepareStep(ctx, PrepareStepInput{
			Step:     n,
			Steps:    slices.Clone(r.steps),
			Messages: msgs,
			Model:    m,
		})
		if err != nil {
			return StepResult{}, nil, nil, fmt.Errorf("prepare step %d: %w", n, err)
		}
		if p != nil {
			if p.Model != nil {
				m = p.Model
			}
			if p.System != "" {
				system = p.System
			}
			if p.Messages != nil {
				msgs = p.Messages
			}
			if p.ActiveTools != nil {
				active = p.ActiveTools
			}
			if p.ToolChoice != "" {
				choice = p.ToolChoice
			}
		}
	}

	set := r.agent.tools.Subset(active...)
	info := event.RequestInfo{
		Model:       m.ModelID(),
		Provider:    m.Provider(),
		ActiveTools: set.Names(),
		ToolChoice:  choice,
		Messages:    len(msgs),
	}
	if err := r.emit(event.StartStep{Step: n, Request: info}); err != nil {
		return StepResult{}, nil, nil, err
	}
	r.logger.Debug("step started", "step", n, "model", info.Model, "tools", len(info.ActiveTools))
	started := time.Now()

	req := &model.Request{
		System:     system,
		Messages:   msgs,
		Tools:      set.Definitions(),
		ToolChoice: choice,
		Options:    *ai.ApplyOptions(r.opts.CallOptions...),
		IncludeRaw: r.opts.IncludeRaw,

		ResponseFormat: r.opts.ResponseFormat,
	}
	asm := assembler.New(assembler.Options{Tools: set, Repair: r.opts.Repair, IncludeRaw: r.opts.IncludeRaw})
	stage := transform.Chain(r.emitTo, r.opts.Transforms...)
	coord := newCoordinator(r, n, set, msgs)
	rec := &stepRecord{}

	forward := func(parts []event.Event) error {
		for _, p := range parts {
			if err := stage.Emit(r.emitCtx, p); err != nil {
				return err
			}
			rec.observe(p)
			if tc, ok := p.(event.ToolCall); ok && !tc.Invalid && !tc.ProviderExecuted {
				coord.start(ai.ToolCall{ID: tc.ToolCallID, Name: tc.ToolName, Input: tc.Input}, false)
			}
		}
		return nil
	}

	chunks, err := r.open(ctx, m, req, n)
	if err != nil && ctx.Err() == nil {
		return StepResult{}, nil, nil, fmt.Errorf("step %d: %w", n, err)
	}
	if err == nil {
		if err := r.consume(ctx, chunks, asm, forward); err != nil {
			return StepResult{}, nil, nil, fmt.Errorf("step %d: %w", n, err)
		}
	}
	if err := forward(asm.Flush(ctx)); err != nil {
		return StepResult{}, nil, nil, err
	}
	if err := stage.Flush(r.emitCtx); err != nil {
		return StepResult{}, nil, nil, err
	}
	coord.wait(ctx)

	sum := asm.Summary()
	err = r.emit(event.FinishStep{
		Step:         n,
		FinishReason: sum.FinishReason,
		Usage:        sum.Usage,
		Request:      info,
		Response:     sum.Response,
		Warnings:     sum.Warnings,
	})
	if err != nil {
		return StepResult{}, nil, nil, err
	}

	sr := rec.result(n, sum, info, coord)
	r.opts.Recorder.StepFinished(r.telemetryCtx, telemetry.Step{
		RunID:        r.id,
		Step:         n,
		Model:        info.Model,
		Provider:     info.Provider,
		FinishReason: sr.FinishReason,
		Usage:        sr.Usage,
		Start:        started,
		Duration:     time.Since(started),
	})
	r.logger.Debug("step finished", "step", n,
		"finish_reason", sr.FinishReason, "tool_calls", len(sr.ToolCalls), "tokens", sr.Usage.TotalTokens)
	return sr, rec, coord, nil
}

// open starts the model stream, retrying transient failures.
func (r *run) open(ctx context.Context, m model.Model, req *model.Request, step int) (<-chan model.Chunk, error) {
	observe := func(ev retry.Event) {
		if ev.Delay > 0 {
			r.logger.Warn("model call failed, retrying",
				"step", step, "attempt", ev.Attempt, "max_attempts", ev.MaxAttempts,
				"delay", ev.Delay, "error", ev.Err)
		}
	}
	return retry.Do(ctx, r.opts.Retry, observe, func(ctx context.Context) (<-chan model.Chunk, error) {
		ch, err := m.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		return peek(ctx, ch)
	})
}

// peek reads up to the first content chunk, so an error reported before
// any content counts as a failed call.
func peek(ctx context.Context, ch <-chan model.Chunk) (<-chan model.Chunk, error) {
	var head []model.Chunk
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return replay(ctx, head, nil), nil
			}
			if e, isErr := c.(model.Error); isErr {
				go drainChunks(ch)
				return nil, e.Err
			}
			head = append(head, c)
			switch c.(type) {
			case model.StreamStart, model.ResponseMetadata:
				continue
			}
			return replay(ctx, head, ch), nil
		case <-ctx.Done():
			go drainChunks(ch)
			return nil, ctx.Err()
		}
	}
}

func replay(ctx context.Context, head []model.Chunk, rest <-chan model.Chunk) <-chan model.Chunk {
	out := make(chan model.Chunk)
	go func() {
		defer close(out)
		for _, c := range head {
			if !model.Send(ctx, out, c) {
				drainChunks(rest)
				return
			}
		}
		if rest == nil {
			return
		}
		for c := range rest {
			if !model.Send(ctx, out, c) {
				drainChunks(rest)
				return
			}
		}
	}()
	return out
}

func drainChunks(ch <-chan model.Chunk) {
	if ch == nil {
		return
	}
	for range ch {
	}
}

func (r *run) consume(ctx context.Context, chunks <-chan model.Chunk, asm *assembler.Assembler, forward func([]event.Event) error) error {
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return nil
			}
			parts, err := asm.Push(ctx, c)
			if ferr := forward(parts); ferr != nil {
				return ferr
			}
			if err != nil {
				return err
			}
		case <-ctx.Done():
			go drainChunks(chunks)
			return nil
		}
	}
}

func (r *run) decide(n int, rec *stepRecord, coord *coordinator) (event.Termination, bool) {
	if r.ctx.Err() != nil {
		return r.cancelled(), true
	}
	approvals, clients := coord.pending()
	switch {
	case approvals > 0:
		return event.TerminationApprovalPending, true
	case clients > 0:
		return event.TerminationClientToolCall, true
	case !rec.hasLocalCalls():
		return event.TerminationComplete, true
	case AnyOf(r.opts.StopWhen...)(r.steps):
		return event.TerminationStopCondition, true
	case n >= r.opts.MaxSteps:
		return event.TerminationMaxSteps, true
	}
	return "", false
}

func (r *run) cancelled() event.Termination {
	if errors.Is(context.Cause(r.ctx), context.DeadlineExceeded) {
		return event.TerminationTimeout
	}
	return event.TerminationCancelled
}

// interrupted reports whether the caller or the run timeout aborted the
// run, as opposed to a fatal error tearing it down.
func (r *run) interrupted() bool {
	cause := context.Cause(r.ctx)
	return errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
}

func (r *run) outcome(term event.Termination) outcome {
	reason := ai.FinishReasonUnknown
	switch {
	case term == event.TerminationCancelled || term == event.TerminationTimeout:
		reason = ai.FinishReasonCancelled
	case len(r.steps) > 0:
		reason = r.steps[len(r.steps)-1].FinishReason
	}
	return outcome{
		resumed:      r.resumed,
		steps:        slices.Clone(r.steps),
		termination:  term,
		finishReason: reason,
		usage:        r.usage,
		response:     Response{ResponseInfo: r.last, Messages: r.history.Added()},
	}
}

func (r *run) finish(term event.Termination) {
	o := r.outcome(term)
	r.result.settle(o)

	summaries := make([]event.StepSummary, len(o.steps))
	for i, s := range o.steps {
		summaries[i] = s.summary()
	}
	r.logger.Debug("run finished", "termination", term, "steps", len(o.steps), "tokens", o.usage.TotalTokens)
	r.opts.Recorder.RunFinished(r.telemetryCtx, telemetry.Run{
		RunID:       r.id,
		Model:       r.agent.model.ModelID(),
		Provider:    r.agent.model.Provider(),
		Termination: string(term),
		TotalUsage:  o.usage,
		Steps:       len(o.steps),
		Duration:    time.Since(r.start),
	})
	_ = r.emit(event.Finish{
		FinishReason: o.finishReason,
		Termination:  term,
		TotalUsage:   o.usage,
		Steps:        summaries,
	})
}

func (r *run) fail(err error) {
	if r.result.isClosed() {
		return
	}
	r.result.settle(r.outcome(""))
	r.logger.Error("run failed", "error", err)
	obs := telemetry.Run{RunID: r.id, Steps: len(r.steps), TotalUsage: r.usage, Duration: time.Since(r.start), Err: err}
	if r.agent.model != nil {
		obs.Model, obs.Provider = r.agent.model.ModelID(), r.agent.model.Provider()
	}
	r.opts.Recorder.RunFinished(r.telemetryCtx, obs)
	r.cancel(err)
	_ = r.emit(event.NewError(err))
}

// drain moves parts from the merger into the Result. It runs whether or
// not anyone iterates the stream.
func (r *run) drain() {
	var v *event.Validator
	if r.opts.Validate {
		v = event.NewValidator()
	}
	for {
		e, err := r.merger.Next(context.Background())
		if err == nil && v != nil {
			if verr := v.Check(e); verr != nil {
				err = fmt.Errorf("agent: %w", verr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("agent: stream ended without a terminal part")
			}
			r.logger.Error("run aborted", "error", err)
			r.merger.Abort(err)
			r.cancel(err)
			r.terminate(event.NewError(err))
			return
		}
		if event.IsTerminal(e) {
			r.merger.Abort(ErrRunFinished)
			r.terminate(e)
			return
		}
		r.result.append(e)
		if r.opts.OnChunk != nil {
			r.opts.OnChunk(e)
		}
	}
}

func (r *run) terminate(e event.Event) {
	r.result.append(e)
	if r.opts.OnChunk != nil {
		r.opts.OnChunk(e)
	}

	var err error
	switch p := e.(type) {
	case event.Error:
		err = p.Err
		if err == nil {
			err = errors.New(p.Message)
		}
		if r.opts.OnError != nil {
			r.opts.OnError(err)
		}
	case event.Finish:
		switch p.Termination {
		case event.TerminationCancelled, event.TerminationTimeout:
			if r.opts.OnAbort != nil {
				r.opts.OnAbort(r.result.summary().Steps)
			}
		default:
			if r.opts.OnFinish != nil {
				r.opts.OnFinish(r.result.summary())
			}
		}
	}
	r.result.close(err)
	r.cancel(ErrRunFinished)
}
