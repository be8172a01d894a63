package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/merge"
	"github.com/spetersoncode/braid/telemetry"
	"github.com/spetersoncode/braid/tool"
)

type callStatus int

const (
	statusRunning callStatus = iota
	statusResult
	statusError
	statusDenied
	statusPendingApproval
	statusPendingClient
	statusProvider
)

func (s callStatus) String() string {
	switch s {
	case statusResult:
		return "result"
	case statusError:
		return "error"
	case statusDenied:
		return "denied"
	case statusPendingApproval:
		return "approval_pending"
	case statusPendingClient:
		return "client"
	case statusProvider:
		return "provider"
	}
	return "running"
}

// callState tracks one tool call. Exactly one goroutine wins settle; only
// the winner emits the terminal part.
type callState struct {
	call  ai.ToolCall
	start time.Time
	w     *merge.Writer

	mu         sync.Mutex
	status     callStatus
	tool       *tool.Tool
	approvalID string
	final      event.Event
	err        error
	// set while preliminary results are being forwarded
	stopForward func()
	forwarding  <-chan struct{}
}

func (st *callState) settle(status callStatus, final event.Event, err error) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status != statusRunning {
		return false
	}
	st.status = status
	st.final = final
	st.err = err
	return true
}

func (st *callState) snapshot() (callStatus, event.Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, st.final
}

// modelResult is the tool result sent back to the model. ok is false for
// calls that were not resolved locally.
func (st *callState) modelResult() (ai.ToolResult, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	res := ai.ToolResult{ToolCallID: st.call.ID, ToolName: st.call.Name}
	switch p := st.final.(type) {
	case event.ToolResult:
		content, err := st.tool.ModelOutput(p.Output)
		if err != nil {
			res.Content, res.IsError = err.Error(), true
			return res, true
		}
		res.Content = content
	case event.ToolError:
		res.Content, res.IsError = p.Error, true
	case event.ToolOutputDenied:
		res.Content, res.Denied = deniedContent(p.Reason), true
	default:
		return res, false
	}
	return res, true
}

func deniedContent(reason string) string {
	if reason == "" {
		return "tool call denied"
	}
	return "tool call denied: " + reason
}

// coordinator resolves the tool calls of one step. Every call runs in its
// own goroutine and writes to the merger through its own writer.
type coordinator struct {
	r        *run
	step     int
	set      *tool.Set
	messages []ai.Message

	wg    sync.WaitGroup
	mu    sync.Mutex
	calls []*callState
	byID  map[string]*callState
}

func newCoordinator(r *run, step int, set *tool.Set, messages []ai.Message) *coordinator {
	return &coordinator{
		r:        r,
		step:     step,
		set:      set,
		messages: messages,
		byID:     make(map[string]*callState),
	}
}

// start begins resolving a call whose tool-call part was already emitted.
// approved skips the approval gate.
func (c *coordinator) start(call ai.ToolCall, approved bool) {
	st := &callState{call: call, start: time.Now()}
	c.mu.Lock()
	c.calls = append(c.calls, st)
	c.byID[call.ID] = st
	c.mu.Unlock()

	// Tool-emitted parts overflow the merge when the consumer falls behind;
	// the call's own lifecycle parts wait for space.
	w, err := c.r.merger.Writer()
	if err != nil {
		// The run already ended.
		st.settle(statusError, nil, err)
		return
	}
	st.w = w
	c.wg.Add(1)
	go c.resolve(st, approved)
}

// reject records a denial decided before the run started.
func (c *coordinator) reject(call ai.ToolCall, reason string) {
	st := &callState{call: call, start: time.Now()}
	c.mu.Lock()
	c.calls = append(c.calls, st)
	c.byID[call.ID] = st
	c.mu.Unlock()

	part := event.ToolOutputDenied{ToolCallID: call.ID, ToolName: call.Name, Reason: reason}
	if st.settle(statusDenied, part, nil) {
		_ = c.r.emit(part)
		c.record(st, statusDenied, nil)
	}
}

func (c *coordinator) resolve(st *callState, approved bool) {
	defer c.wg.Done()
	defer st.w.Close()

	ctx := c.r.ctx
	t, err := c.set.Lookup(st.call.Name)
	if err != nil {
		c.fail(st, err)
		return
	}
	st.mu.Lock()
	st.tool = t
	st.mu.Unlock()

	switch {
	case t.ProviderExecuted:
		st.settle(statusProvider, nil, nil)
		return
	case t.IsClient():
		st.settle(statusPendingClient, nil, nil)
		return
	}

	call := tool.NewCall(st.call.ID, st.call.Name, st.call.Input, c.messages, c.emitter(st))
	if !approved && t.NeedsApproval != nil {
		need, err := t.NeedsApproval(ctx, call)
		if err != nil {
			c.fail(st, fmt.Errorf("approval check: %w", err))
			return
		}
		if need {
			d, ok := c.approve(ctx, st)
			if !ok {
				return
			}
			if !d.Approved {
				c.deny(st, d.Reason)
				return
			}
		}
	}
	c.execute(ctx, st, t, call)
}

// approve requests a decision. ok is false when the call was settled
// without one.
func (c *coordinator) approve(ctx context.Context, st *callState) (Decision, bool) {
	id := ai.GenerateID("approval")
	st.mu.Lock()
	st.approvalID = id
	st.mu.Unlock()

	req := event.ToolApprovalRequest{ApprovalID: id, ToolCallID: st.call.ID, ToolName: st.call.Name}
	if err := c.emit(st, req); err != nil {
		return Decision{}, false
	}

	approver := c.r.opts.Approver
	if approver == nil {
		st.settle(statusPendingApproval, nil, nil)
		c.r.logger.Debug("tool call awaiting approval",
			"step", c.step, "tool", st.call.Name, "tool_call_id", st.call.ID, "approval_id", id)
		return Decision{}, false
	}

	d, err := approver.Approve(ctx, ApprovalRequest{ApprovalID: id, ToolCall: st.call})
	if err != nil {
		c.fail(st, fmt.Errorf("approver: %w", err))
		return Decision{}, false
	}
	resp := event.ToolApprovalResponse{ApprovalID: id, ToolCallID: st.call.ID, Approved: d.Approved, Reason: d.Reason}
	if err := c.emit(st, resp); err != nil {
		return Decision{}, false
	}
	return d, true
}

func (c *coordinator) execute(ctx context.Context, st *callState, t *tool.Tool, call tool.Call) {
	if c.r.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.r.opts.HandlerTimeout)
		defer cancel()
	}

	out, err := invoke(ctx, t, call)
	if err == nil {
		if s, ok := out.(tool.Stream); ok {
			out, err = c.forward(ctx, st, s)
		}
	}
	if err != nil {
		c.fail(st, err)
		return
	}

	raw, err := marshalOutput(out)
	if err == nil {
		err = c.set.CheckOutput(t, raw)
	}
	if err != nil {
		c.fail(st, err)
		return
	}
	c.succeed(st, raw)
}

func invoke(ctx context.Context, t *tool.Tool, call tool.Call) (out any, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Tool: t.Name, Value: v}
		}
	}()
	return t.Execute(ctx, call)
}

func marshalOutput(out any) (json.RawMessage, error) {
	if raw, ok := out.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.New("tool output is not valid JSON")
		}
		return raw, nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return raw, nil
}

// forward surfaces every stream value as a preliminary result through a
// pull source registered with the merger, and returns the last value once
// all of them were accepted.
func (c *coordinator) forward(ctx context.Context, st *callState, s tool.Stream) (any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src := make(chan event.Event)
	done, err := c.r.merger.Add(src, cancel)
	if err != nil {
		close(src)
		return nil, err
	}
	st.mu.Lock()
	st.stopForward, st.forwarding = cancel, done
	st.mu.Unlock()

	var (
		last    json.RawMessage
		failure error
	)
	func() {
		defer close(src)
		for {
			select {
			case v, ok := <-s:
				if !ok {
					return
				}
				if err, isErr := v.(error); isErr {
					failure = err
					return
				}
				raw, err := marshalOutput(v)
				if err != nil {
					failure = err
					return
				}
				last = raw
				part := event.ToolResult{
					ToolCallID:  st.call.ID,
					ToolName:    st.call.Name,
					Input:       st.call.Input,
					Output:      raw,
					Preliminary: true,
				}
				select {
				case src <- part:
				case <-ctx.Done():
					failure = ctx.Err()
					return
				}
			case <-ctx.Done():
				failure = ctx.Err()
				return
			}
		}
	}()
	<-done

	if failure != nil {
		return nil, failure
	}
	if last == nil {
		return nil, ErrEmptyStream
	}
	return last, nil
}

func (c *coordinator) succeed(st *callState, output json.RawMessage) {
	part := event.ToolResult{ToolCallID: st.call.ID, ToolName: st.call.Name, Input: st.call.Input, Output: output}
	if st.settle(statusResult, part, nil) {
		_ = c.emit(st, part)
		c.record(st, statusResult, nil)
	}
}

func (c *coordinator) fail(st *callState, err error) {
	part := event.ToolError{ToolCallID: st.call.ID, ToolName: st.call.Name, Input: st.call.Input, Error: err.Error()}
	if st.settle(statusError, part, err) {
		_ = c.emit(st, part)
		c.r.logger.Warn("tool call failed",
			"step", c.step, "tool", st.call.Name, "tool_call_id", st.call.ID, "error", err)
		c.record(st, statusError, err)
	}
}

func (c *coordinator) deny(st *callState, reason string) {
	part := event.ToolOutputDenied{ToolCallID: st.call.ID, ToolName: st.call.Name, Reason: reason}
	if st.settle(statusDenied, part, nil) {
		_ = c.emit(st, part)
		c.record(st, statusDenied, nil)
	}
}

func (c *coordinator) record(st *callState, status callStatus, err error) {
	c.r.opts.Recorder.ToolFinished(c.r.telemetryCtx, telemetry.Tool{
		RunID:      c.r.id,
		Step:       c.step,
		ToolCallID: st.call.ID,
		ToolName:   st.call.Name,
		Outcome:    status.String(),
		Start:      st.start,
		Duration:   time.Since(st.start),
		Err:        err,
	})
}

func (c *coordinator) emit(st *callState, e event.Event) error {
	return st.w.Put(c.r.emitCtx, e)
}

// emitter lets a running tool push opaque parts attributed to its call.
func (c *coordinator) emitter(st *callState) tool.EmitFunc {
	return func(_ context.Context, e event.Event) error {
		switch v := e.(type) {
		case event.Data:
			if v.ToolCallID == "" {
				v.ToolCallID = st.call.ID
			}
			e = v
		case event.Source, event.File:
		default:
			return fmt.Errorf("%w: %s", ErrEmitNotAllowed, e.Type())
		}
		return st.w.Emit(c.r.emitCtx, e)
	}
}

// wait blocks until every call settled. Once ctx is done, calls get the
// abort grace period to unwind; the rest are recorded as failed.
func (c *coordinator) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	timer := time.NewTimer(c.r.opts.AbortGrace)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	c.mu.Lock()
	calls := append([]*callState(nil), c.calls...)
	c.mu.Unlock()
	for _, st := range calls {
		c.abandon(st)
	}
}

func (c *coordinator) abandon(st *callState) {
	part := event.ToolError{ToolCallID: st.call.ID, ToolName: st.call.Name, Input: st.call.Input, Error: ErrAbandoned.Error()}
	if !st.settle(statusError, part, ErrAbandoned) {
		return
	}
	st.mu.Lock()
	stop, forwarding := st.stopForward, st.forwarding
	st.mu.Unlock()
	if stop != nil {
		stop()
		<-forwarding
	}
	if st.w != nil {
		st.w.Close()
	}
	c.r.logger.Warn("abandoning tool call",
		slog.Int("step", c.step), slog.String("tool", st.call.Name), slog.String("tool_call_id", st.call.ID))
	_ = c.r.out.Emit(c.r.emitCtx, part)
	c.record(st, statusError, ErrAbandoned)
}

func (c *coordinator) lookup(id string) (*callState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.byID[id]
	return st, ok
}

// pending counts calls waiting for an approval or a client result.
func (c *coordinator) pending() (approvals, clients int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.calls {
		switch status, _ := st.snapshot(); status {
		case statusPendingApproval:
			approvals++
		case statusPendingClient:
			clients++
		}
	}
	return approvals, clients
}

// approvalRequests lists the calls carried to the next run.
func (c *coordinator) approvalRequests() []ai.ApprovalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var reqs []ai.ApprovalRequest
	for _, st := range c.calls {
		st.mu.Lock()
		if st.status == statusPendingApproval {
			reqs = append(reqs, ai.ApprovalRequest{ApprovalID: st.approvalID, ToolCallID: st.call.ID})
		}
		st.mu.Unlock()
	}
	return reqs
}
