package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/assembler"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/merge"
	"github.com/spetersoncode/braid/model"
	"github.com/spetersoncode/braid/model/modeltest"
	"github.com/spetersoncode/braid/tool"
	"github.com/spetersoncode/braid/transform"
)

type echoArgs struct {
	Msg string `json:"msg"`
}

func echoTool() tool.Tool {
	return tool.Func("echo", "Echo the message", func(_ context.Context, in echoArgs) (echoArgs, error) {
		return in, nil
	})
}

func registry(tools ...tool.Tool) *tool.Registry {
	return tool.NewRegistry().Add(tools...)
}

func toolCallStep(calls ...model.ToolCall) modeltest.Step {
	chunks := make([]model.Chunk, 0, len(calls)+1)
	for _, c := range calls {
		chunks = append(chunks, c)
	}
	return modeltest.Step{Chunks: append(chunks, modeltest.Finish(ai.FinishReasonToolCalls))}
}

func collect(t *testing.T, res *Result) []event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var parts []event.Event
	for e := range res.Events(ctx) {
		parts = append(parts, e)
	}
	require.NoError(t, ctx.Err(), "run did not finish")
	return parts
}

func ofType[T event.Event](parts []event.Event) []T {
	var out []T
	for _, p := range parts {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func finishOf(t *testing.T, parts []event.Event) event.Finish {
	t.Helper()
	require.NotEmpty(t, parts)
	f, ok := parts[len(parts)-1].(event.Finish)
	require.True(t, ok, "last part is %T", parts[len(parts)-1])
	return f
}

func TestAgent_EchoScenario(t *testing.T) {
	m := modeltest.New(
		modeltest.Step{Chunks: append(modeltest.Text("t1", "Hel", "lo"),
			model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":"hi"}`},
			modeltest.Finish(ai.FinishReasonToolCalls),
		)},
		modeltest.TextStep(""),
	)
	a := New(m, registry(echoTool()))
	ctx := context.Background()

	res := a.Stream(ctx, []ai.Message{ai.NewUserMessage("say hi")}, WithValidation())
	parts := collect(t, res)
	require.NoError(t, event.ValidateAll(parts))

	text, err := res.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	results, err := res.ToolResults(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.JSONEq(t, `{"msg":"hi"}`, string(results[0].Output))

	steps, err := res.Steps(ctx)
	require.NoError(t, err)
	assert.Len(t, steps, 2)

	reason, err := res.FinishReason(ctx)
	require.NoError(t, err)
	assert.Equal(t, ai.FinishReasonStop, reason)

	f := finishOf(t, parts)
	assert.Equal(t, event.TerminationComplete, f.Termination)
	assert.Len(t, f.Steps, 2)
	assert.Equal(t, 30, f.TotalUsage.TotalTokens)

	// The second request carries the tool result.
	reqs := m.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hello", msgs[1].Content)
	require.Len(t, msgs[1].ToolCalls, 1)
	require.Len(t, msgs[2].ToolResults, 1)
	assert.Equal(t, `{"msg":"hi"}`, msgs[2].ToolResults[0].Content)
}

func TestAgent_PartOrder(t *testing.T) {
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":"a"}`}),
		modeltest.TextStep("done"),
	)
	res := New(m, registry(echoTool())).Stream(context.Background(), nil)
	parts := collect(t, res)

	index := func(match func(event.Event) bool) int {
		for i, p := range parts {
			if match(p) {
				return i
			}
		}
		return -1
	}
	call := index(func(e event.Event) bool { _, ok := e.(event.ToolCall); return ok })
	result := index(func(e event.Event) bool { _, ok := e.(event.ToolResult); return ok })
	finishStep := index(func(e event.Event) bool { _, ok := e.(event.FinishStep); return ok })

	_, isStart := parts[0].(event.Start)
	assert.True(t, isStart)
	assert.Less(t, call, result)
	assert.Less(t, result, finishStep)
}

func TestAgent_DualConsumption(t *testing.T) {
	script := func() *modeltest.Model {
		return modeltest.New(
			modeltest.Step{Chunks: append(modeltest.Text("t1", "Hel", "lo"),
				model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":"x"}`},
				modeltest.Finish(ai.FinishReasonToolCalls),
			)},
			modeltest.TextStep(" world"),
		)
	}
	ctx := context.Background()

	// Futures only, stream never iterated.
	futuresOnly := New(script(), registry(echoTool())).Stream(ctx, nil)
	text1, err := futuresOnly.Text(ctx)
	require.NoError(t, err)
	usage1, err := futuresOnly.TotalUsage(ctx)
	require.NoError(t, err)
	calls1, err := futuresOnly.ToolCalls(ctx)
	require.NoError(t, err)

	// Stream first, then futures.
	streamed := New(script(), registry(echoTool())).Stream(ctx, nil)
	parts := collect(t, streamed)
	text2, err := streamed.Text(ctx)
	require.NoError(t, err)
	usage2, err := streamed.TotalUsage(ctx)
	require.NoError(t, err)
	calls2, err := streamed.ToolCalls(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Hello world", text1)
	assert.Equal(t, text1, text2)
	assert.Equal(t, usage1, usage2)
	assert.Equal(t, calls1, calls2)

	// The stream itself agrees with the futures.
	var fromStream strings.Builder
	for _, d := range ofType[event.TextDelta](parts) {
		fromStream.WriteString(d.Delta)
	}
	assert.Equal(t, text2, fromStream.String())

	// The untouched run recorded its stream too, and every iteration replays it.
	again := collect(t, futuresOnly)
	assert.Equal(t, again, collect(t, futuresOnly))
	assert.Equal(t, len(parts), len(again))
}

func TestAgent_ToolIsolation(t *testing.T) {
	var okRan atomic.Bool
	ok := tool.Func("ok", "", func(context.Context, struct{}) (string, error) {
		okRan.Store(true)
		return "fine", nil
	})
	boom := tool.Func("boom", "", func(context.Context, struct{}) (string, error) {
		panic("kaboom")
	})
	failing := tool.Func("failing", "", func(context.Context, struct{}) (string, error) {
		return "", errors.New("disk full")
	})
	m := modeltest.New(
		toolCallStep(
			model.ToolCall{ID: "c1", ToolName: "boom", Input: `{}`},
			model.ToolCall{ID: "c2", ToolName: "ok", Input: `{}`},
			model.ToolCall{ID: "c3", ToolName: "failing", Input: `{}`},
		),
		modeltest.TextStep("recovered"),
	)

	res, err := New(m, registry(ok, boom, failing)).Run(context.Background(), nil, WithValidation())
	require.NoError(t, err)
	assert.True(t, okRan.Load())

	steps, err := res.Steps(context.Background())
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Len(t, steps[0].ToolResults, 1)
	require.Len(t, steps[0].ToolErrors, 2)

	errs := map[string]string{}
	for _, te := range steps[0].ToolErrors {
		errs[te.ToolCallID] = te.Error
	}
	assert.Contains(t, errs["c1"], "kaboom")
	assert.Contains(t, errs["c3"], "disk full")

	// Errors are fed back to the model, not raised.
	tm := m.Requests()[1].Messages[1]
	require.Len(t, tm.ToolResults, 3)
	assert.True(t, tm.ToolResults[0].IsError)
	assert.False(t, tm.ToolResults[1].IsError)
	assert.True(t, tm.ToolResults[2].IsError)
}

type pathArgs struct {
	Path string `json:"path"`
}

func deleteTool(ran *atomic.Int32) tool.Tool {
	return tool.Func("delete", "Delete a file", func(_ context.Context, in pathArgs) (string, error) {
		ran.Add(1)
		return "deleted " + in.Path, nil
	}, tool.WithApproval(tool.Always()))
}

func TestAgent_ApprovalInRun(t *testing.T) {
	tests := []struct {
		name     string
		approver Approver
		executed int32
	}{
		{"approved", AutoApprove(), 1},
		{"rejected", AutoReject("not today"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ran atomic.Int32
			m := modeltest.New(
				toolCallStep(model.ToolCall{ID: "c1", ToolName: "delete", Input: `{"path":"/tmp/x"}`}),
				modeltest.TextStep("ok"),
			)
			res := New(m, registry(deleteTool(&ran))).Stream(context.Background(), nil,
				WithApprover(tt.approver), WithValidation())
			parts := collect(t, res)
			require.NoError(t, event.ValidateAll(parts))
			assert.Equal(t, tt.executed, ran.Load())

			reqs := ofType[event.ToolApprovalRequest](parts)
			resps := ofType[event.ToolApprovalResponse](parts)
			require.Len(t, reqs, 1)
			require.Len(t, resps, 1)
			assert.Equal(t, reqs[0].ApprovalID, resps[0].ApprovalID)

			if tt.executed == 0 {
				denied := ofType[event.ToolOutputDenied](parts)
				require.Len(t, denied, 1)
				assert.Equal(t, "not today", denied[0].Reason)
				assert.Empty(t, ofType[event.ToolResult](parts))
				tr := m.Requests()[1].Messages[1].ToolResults[0]
				assert.True(t, tr.Denied)
				assert.Equal(t, "tool call denied: not today", tr.Content)
			} else {
				assert.Len(t, ofType[event.ToolResult](parts), 1)
			}
		})
	}
}

func TestAgent_ApprovalNeverExecutesEarly(t *testing.T) {
	var ran atomic.Int32
	broker := NewApprovalBroker()
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "delete", Input: `{"path":"/etc"}`}),
		modeltest.TextStep("ok"),
	)
	res := New(m, registry(deleteTool(&ran))).Stream(context.Background(), nil, WithApprover(broker.Approver()))

	var pending []ApprovalRequest
	require.Eventually(t, func() bool {
		pending = broker.Pending()
		return len(pending) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
	assert.Equal(t, "c1", pending[0].ToolCall.ID)

	require.NoError(t, broker.Approve(pending[0].ApprovalID))
	require.NoError(t, res.Wait(context.Background()))
	assert.Equal(t, int32(1), ran.Load())
}

func TestAgent_ApprovalCarriedToNextRun(t *testing.T) {
	for _, approved := range []bool{true, false} {
		t.Run(fmt.Sprintf("approved=%v", approved), func(t *testing.T) {
			var ran atomic.Int32
			reg := registry(deleteTool(&ran))
			ctx := context.Background()
			input := []ai.Message{ai.NewUserMessage("clean up")}

			first := modeltest.New(toolCallStep(model.ToolCall{ID: "c1", ToolName: "delete", Input: `{"path":"/tmp/x"}`}))
			res, err := New(first, reg).Run(ctx, input, WithValidation())
			require.NoError(t, err)

			term, err := res.Termination(ctx)
			require.NoError(t, err)
			assert.Equal(t, event.TerminationApprovalPending, term)
			assert.Equal(t, int32(0), ran.Load())

			resp, err := res.Response(ctx)
			require.NoError(t, err)
			require.Len(t, resp.Messages, 1)
			assistant := resp.Messages[0]
			require.Len(t, assistant.ApprovalRequests, 1)
			assert.Equal(t, "c1", assistant.ApprovalRequests[0].ToolCallID)

			next := append(append(input, resp.Messages...), ai.NewApprovalResponseMessage(ai.ApprovalResponse{
				ApprovalID: assistant.ApprovalRequests[0].ApprovalID,
				Approved:   approved,
				Reason:     "policy",
			}))
			second := modeltest.New(modeltest.TextStep("done"))
			res2 := New(second, reg).Stream(ctx, next, WithValidation())
			parts := collect(t, res2)
			require.NoError(t, event.ValidateAll(parts))
			require.NoError(t, res2.Wait(ctx))

			// The carried call and its decision are replayed, then resolved
			// before the first step.
			call, ok := parts[1].(event.ToolCall)
			require.True(t, ok, "got %T", parts[1])
			assert.Equal(t, "c1", call.ToolCallID)
			assert.JSONEq(t, `{"path":"/tmp/x"}`, string(call.Input))
			decision, ok := parts[2].(event.ToolApprovalResponse)
			require.True(t, ok, "got %T", parts[2])
			assert.Equal(t, assistant.ApprovalRequests[0].ApprovalID, decision.ApprovalID)
			assert.Equal(t, approved, decision.Approved)

			if approved {
				assert.Equal(t, int32(1), ran.Load())
				r, ok := parts[3].(event.ToolResult)
				require.True(t, ok, "got %T", parts[3])
				assert.Equal(t, "c1", r.ToolCallID)
				results, err := res2.ToolResults(ctx)
				require.NoError(t, err)
				assert.Len(t, results, 1)
			} else {
				assert.Equal(t, int32(0), ran.Load())
				d, ok := parts[3].(event.ToolOutputDenied)
				require.True(t, ok, "got %T", parts[3])
				assert.Equal(t, "policy", d.Reason)
			}

			sent := second.Requests()[0].Messages
			last := sent[len(sent)-1]
			require.Len(t, last.ToolResults, 1)
			assert.Equal(t, "c1", last.ToolResults[0].ToolCallID)
			assert.Equal(t, !approved, last.ToolResults[0].Denied)
		})
	}
}

func TestAgent_ActiveToolsSuppressApproval(t *testing.T) {
	var ran atomic.Int32
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "delete", Input: `{"path":"/"}`}),
		modeltest.TextStep("ok"),
	)
	res := New(m, registry(echoTool(), deleteTool(&ran))).Stream(context.Background(), nil,
		WithActiveTools("echo"), WithValidation())
	parts := collect(t, res)

	assert.Empty(t, ofType[event.ToolApprovalRequest](parts))
	calls := ofType[event.ToolCall](parts)
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Invalid)
	errs := ofType[event.ToolError](parts)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "not found")
	assert.Contains(t, errs[0].Error, "echo")

	defs := m.Requests()[0].Tools
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
	assert.Equal(t, event.TerminationComplete, finishOf(t, parts).Termination)
}

func TestAgent_MaxSteps(t *testing.T) {
	m := &modeltest.Model{Dynamic: func(call int, _ *model.Request) modeltest.Step {
		return toolCallStep(model.ToolCall{ID: fmt.Sprintf("c%d", call), ToolName: "echo", Input: `{"msg":"again"}`})
	}}
	res, err := New(m, registry(echoTool())).Run(context.Background(), nil, WithMaxSteps(3), WithValidation())
	require.NoError(t, err)

	steps, err := res.Steps(context.Background())
	require.NoError(t, err)
	assert.Len(t, steps, 3)
	assert.Equal(t, 3, m.Calls())

	term, err := res.Termination(context.Background())
	require.NoError(t, err)
	assert.Equal(t, event.TerminationMaxSteps, term)
}

func TestAgent_StopConditions(t *testing.T) {
	newModel := func() *modeltest.Model {
		return &modeltest.Model{Dynamic: func(call int, _ *model.Request) modeltest.Step {
			return toolCallStep(model.ToolCall{ID: fmt.Sprintf("c%d", call), ToolName: "echo", Input: `{"msg":"x"}`})
		}}
	}
	tests := []struct {
		name  string
		cond  StopCondition
		steps int
	}{
		{"step count", StepCountIs(2), 2},
		{"tool call", HasToolCall("echo"), 1},
		{"any of", AnyOf(HasToolCall("other"), StepCountIs(4)), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(newModel(), registry(echoTool())).Run(context.Background(), nil, WithStopWhen(tt.cond))
			require.NoError(t, err)
			steps, _ := res.Steps(context.Background())
			assert.Len(t, steps, tt.steps)
			term, _ := res.Termination(context.Background())
			assert.Equal(t, event.TerminationStopCondition, term)
		})
	}
}

func TestAgent_Cancellation(t *testing.T) {
	started := make(chan struct{})
	observed := make(chan struct{})
	slow := tool.Func("slow", "", func(ctx context.Context, _ struct{}) (string, error) {
		close(started)
		<-ctx.Done()
		close(observed)
		return "", ctx.Err()
	})
	m := modeltest.New(toolCallStep(model.ToolCall{ID: "c1", ToolName: "slow", Input: `{}`}))

	var aborted atomic.Bool
	res := New(m, registry(slow)).Stream(context.Background(), nil,
		WithValidation(), OnAbort(func([]StepResult) { aborted.Store(true) }))
	<-started
	res.Cancel()

	parts := collect(t, res)
	require.NoError(t, res.Wait(context.Background()))
	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("tool did not observe cancellation")
	}
	require.NoError(t, event.ValidateAll(parts))
	finish := finishOf(t, parts)
	assert.Equal(t, event.TerminationCancelled, finish.Termination)
	assert.Equal(t, ai.FinishReasonCancelled, finish.FinishReason)
	reason, err := res.FinishReason(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ai.FinishReasonCancelled, reason)
	assert.Len(t, ofType[event.ToolError](parts), 1)
	assert.True(t, aborted.Load())
}

func TestAgent_CancelDuringPrepareStep(t *testing.T) {
	entered := make(chan struct{})
	prepare := func(ctx context.Context, _ PrepareStepInput) (*PrepareStepResult, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := modeltest.New(modeltest.TextStep("never"))

	res := New(m, nil).Stream(context.Background(), nil, WithPrepareStep(prepare), WithValidation())
	<-entered
	res.Cancel()

	parts := collect(t, res)
	require.NoError(t, res.Wait(context.Background()))
	require.NoError(t, event.ValidateAll(parts))
	assert.Empty(t, ofType[event.Error](parts))
	finish := finishOf(t, parts)
	assert.Equal(t, event.TerminationCancelled, finish.Termination)
	assert.Equal(t, ai.FinishReasonCancelled, finish.FinishReason)
}

func TestAgent_PrepareStepError(t *testing.T) {
	boom := errors.New("boom")
	prepare := func(context.Context, PrepareStepInput) (*PrepareStepResult, error) {
		return nil, boom
	}
	res, err := New(modeltest.New(modeltest.TextStep("never")), nil).
		Run(context.Background(), nil, WithPrepareStep(prepare))
	require.ErrorIs(t, err, boom)
	_, err = res.Termination(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestAgent_AbortGrace(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	stubborn := tool.Func("stubborn", "", func(context.Context, struct{}) (string, error) {
		close(started)
		<-release
		return "late", nil
	})
	m := modeltest.New(toolCallStep(model.ToolCall{ID: "c1", ToolName: "stubborn", Input: `{}`}))

	res := New(m, registry(stubborn)).Stream(context.Background(), nil,
		WithAbortGrace(20*time.Millisecond), WithValidation())
	<-started
	begin := time.Now()
	res.Cancel()
	parts := collect(t, res)

	assert.Less(t, time.Since(begin), 2*time.Second)
	require.NoError(t, event.ValidateAll(parts))
	errs := ofType[event.ToolError](parts)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrAbandoned.Error(), errs[0].Error)
	assert.Equal(t, event.TerminationCancelled, finishOf(t, parts).Termination)
}

func TestAgent_Timeout(t *testing.T) {
	m := modeltest.New(modeltest.Step{Chunks: modeltest.Text("t1", "partial")[:2], Block: true})
	res, err := New(m, nil).Run(context.Background(), nil, WithTimeout(50*time.Millisecond), WithValidation())
	require.NoError(t, err)

	term, err := res.Termination(context.Background())
	require.NoError(t, err)
	assert.Equal(t, event.TerminationTimeout, term)

	text, err := res.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "partial", text)
}

func TestAgent_HandlerTimeout(t *testing.T) {
	hang := tool.Func("hang", "", func(ctx context.Context, _ struct{}) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "hang", Input: `{}`}),
		modeltest.TextStep("moving on"),
	)
	res, err := New(m, registry(hang)).Run(context.Background(), nil, WithHandlerTimeout(20*time.Millisecond))
	require.NoError(t, err)

	steps, _ := res.Steps(context.Background())
	require.Len(t, steps, 2)
	require.Len(t, steps[0].ToolErrors, 1)
	assert.Contains(t, steps[0].ToolErrors[0].Error, "deadline exceeded")
}

func TestAgent_ModelErrors(t *testing.T) {
	fast := WithRetry(ai.NewRetryConfig(3, time.Millisecond, time.Millisecond, 1, 0))

	t.Run("transient errors are retried", func(t *testing.T) {
		m := modeltest.New(
			modeltest.Step{Err: ai.NewTransientError("overloaded", 503, nil)},
			modeltest.TextStep("ok"),
		)
		res, err := New(m, nil).Run(context.Background(), nil, fast)
		require.NoError(t, err)
		assert.Equal(t, 2, m.Calls())
		text, _ := res.Text(context.Background())
		assert.Equal(t, "ok", text)
	})

	t.Run("error chunk before content is retried", func(t *testing.T) {
		m := modeltest.New(
			modeltest.Step{Chunks: []model.Chunk{model.StreamStart{}, model.Error{Err: ai.NewTransientError("overloaded", 529, nil)}}},
			modeltest.TextStep("ok"),
		)
		_, err := New(m, nil).Run(context.Background(), nil, fast)
		require.NoError(t, err)
		assert.Equal(t, 2, m.Calls())
	})

	t.Run("permanent errors are fatal", func(t *testing.T) {
		var reported error
		m := modeltest.New(modeltest.Step{Err: ai.NewPermanentError("bad key", 401, nil)})
		res, err := New(m, nil).Run(context.Background(), nil, fast, OnError(func(err error) { reported = err }))
		require.Error(t, err)
		assert.True(t, ai.IsPermanent(err))
		assert.Equal(t, 1, m.Calls())
		assert.Equal(t, err, reported)

		_, ferr := res.Text(context.Background())
		assert.Equal(t, err, ferr)
		parts := collect(t, res)
		_, isErr := parts[len(parts)-1].(event.Error)
		assert.True(t, isErr)
		require.NoError(t, event.ValidateAll(parts))
	})

	t.Run("protocol errors are fatal", func(t *testing.T) {
		m := modeltest.New(modeltest.Step{Chunks: []model.Chunk{model.TextDelta{ID: "ghost", Delta: "boo"}}})
		_, err := New(m, nil).Run(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, assembler.ErrProtocol)
	})

	t.Run("no model", func(t *testing.T) {
		_, err := New(nil, nil).Run(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNoModel)
	})
}

func TestAgent_UnknownToolIsRecoverable(t *testing.T) {
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "nope", Input: `{}`}),
		modeltest.TextStep("sorry"),
	)
	res, err := New(m, registry(echoTool())).Run(context.Background(), nil, WithValidation())
	require.NoError(t, err)

	steps, _ := res.Steps(context.Background())
	require.Len(t, steps, 2)
	require.Len(t, steps[0].ToolErrors, 1)
	assert.True(t, steps[0].ToolCalls[0].Invalid)

	sent := m.Requests()[1].Messages
	assert.JSONEq(t, `{}`, string(sent[0].ToolCalls[0].Input))
	assert.True(t, sent[1].ToolResults[0].IsError)
}

func TestAgent_ClientTool(t *testing.T) {
	confirm := tool.Client("confirm", "Ask the user", json.RawMessage(`{"type":"object"}`))
	m := modeltest.New(toolCallStep(model.ToolCall{ID: "c1", ToolName: "confirm", Input: `{}`}))

	res := New(m, registry(confirm)).Stream(context.Background(), nil, WithValidation())
	parts := collect(t, res)
	assert.Equal(t, event.TerminationClientToolCall, finishOf(t, parts).Termination)
	assert.Empty(t, ofType[event.ToolResult](parts))
	assert.Empty(t, ofType[event.ToolError](parts))

	resp, err := res.Response(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "confirm", resp.Messages[0].ToolCalls[0].Name)
}

func TestAgent_ProviderExecutedTool(t *testing.T) {
	m := modeltest.New(modeltest.Step{Chunks: []model.Chunk{
		model.ToolCall{ID: "p1", ToolName: "web_search", Input: `{"q":"go"}`, ProviderExecuted: true},
		model.ToolResult{ToolCallID: "p1", ToolName: "web_search", Result: json.RawMessage(`["golang.org"]`)},
		modeltest.Text("t1", "found it")[0],
		modeltest.Text("t1", "found it")[1],
		modeltest.Text("t1", "found it")[2],
		modeltest.Finish(ai.FinishReasonStop),
	}})
	res, err := New(m, registry(tool.Provider("web_search", "Search"))).Run(context.Background(), nil, WithValidation())
	require.NoError(t, err)

	steps, _ := res.Steps(context.Background())
	require.Len(t, steps, 1)
	require.Len(t, steps[0].ToolResults, 1)
	assert.True(t, steps[0].ToolResults[0].ProviderExecuted)

	term, _ := res.Termination(context.Background())
	assert.Equal(t, event.TerminationComplete, term)
}

func TestAgent_StreamingTool(t *testing.T) {
	counter := tool.StreamFunc("count", "", func(ctx context.Context, _ struct{}, yield func(int) error) error {
		for i := 1; i <= 3; i++ {
			if err := yield(i); err != nil {
				return err
			}
		}
		return nil
	})
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "count", Input: `{}`}),
		modeltest.TextStep("counted"),
	)
	res := New(m, registry(counter)).Stream(context.Background(), nil, WithValidation())
	parts := collect(t, res)
	require.NoError(t, event.ValidateAll(parts))

	var outputs []string
	final := 0
	for _, r := range ofType[event.ToolResult](parts) {
		if r.Preliminary {
			outputs = append(outputs, string(r.Output))
			continue
		}
		final++
		assert.Equal(t, "3", string(r.Output))
	}
	assert.Equal(t, []string{"1", "2", "3"}, outputs)
	assert.Equal(t, 1, final)
}

func TestAgent_ToolEmitsData(t *testing.T) {
	progress := tool.FuncCall("progress", "", func(ctx context.Context, call tool.Call, _ struct{}) (string, error) {
		if err := call.Data(ctx, "progress", map[string]int{"pct": 50}); err != nil {
			return "", err
		}
		if err := call.Emit(ctx, event.Finish{}); !errors.Is(err, ErrEmitNotAllowed) {
			return "", fmt.Errorf("unexpected emit result: %v", err)
		}
		return "done", nil
	})
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "progress", Input: `{}`}),
		modeltest.TextStep(""),
	)
	res := New(m, registry(progress)).Stream(context.Background(), nil, WithValidation())
	parts := collect(t, res)

	data := ofType[event.Data](parts)
	require.Len(t, data, 1)
	assert.Equal(t, "c1", data[0].ToolCallID)
	assert.JSONEq(t, `{"pct":50}`, string(data[0].Value))
	assert.Len(t, ofType[event.ToolResult](parts), 1)
}

func TestAgent_ToolDataOverflow(t *testing.T) {
	emitErr := make(chan error, 1)
	chatty := tool.FuncCall("chatty", "", func(ctx context.Context, call tool.Call, _ struct{}) (string, error) {
		for i := range 200 {
			if err := call.Data(ctx, "tick", i); err != nil {
				emitErr <- err
				return "", err
			}
		}
		return "done", nil
	})
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "chatty", Input: `{}`}),
		modeltest.TextStep(""),
	)
	slow := OnChunk(func(event.Event) { time.Sleep(time.Millisecond) })

	res, err := New(m, registry(chatty)).Run(context.Background(), nil, WithQueueSize(2), slow)
	require.ErrorIs(t, err, merge.ErrOverflow)
	select {
	case err := <-emitErr:
		assert.ErrorIs(t, err, merge.ErrOverflow)
	case <-time.After(time.Second):
		t.Fatal("tool never saw the overflow")
	}

	parts := collect(t, res)
	assert.Less(t, len(ofType[event.Data](parts)), 200)
	_, isErr := parts[len(parts)-1].(event.Error)
	assert.True(t, isErr)
}

func TestAgent_ModelOutputShaping(t *testing.T) {
	shaped := tool.Func("lookup", "", func(context.Context, struct{}) (map[string]string, error) {
		return map[string]string{"city": "Paris"}, nil
	}, tool.WithModelOutput(func(out json.RawMessage) (string, error) {
		var v map[string]string
		if err := json.Unmarshal(out, &v); err != nil {
			return "", err
		}
		return "city=" + v["city"], nil
	}))
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "lookup", Input: `{}`}),
		modeltest.TextStep(""),
	)
	res := New(m, registry(shaped)).Stream(context.Background(), nil)
	parts := collect(t, res)

	results := ofType[event.ToolResult](parts)
	require.Len(t, results, 1)
	assert.JSONEq(t, `{"city":"Paris"}`, string(results[0].Output))
	assert.Equal(t, "city=Paris", m.Requests()[1].Messages[1].ToolResults[0].Content)
}

func TestAgent_PrepareStep(t *testing.T) {
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":"x"}`}),
		modeltest.TextStep("done"),
	)
	var seen []int
	prepare := func(_ context.Context, in PrepareStepInput) (*PrepareStepResult, error) {
		seen = append(seen, in.Step)
		if in.Step == 2 {
			return &PrepareStepResult{System: "be brief", ActiveTools: []string{"echo"}, ToolChoice: ai.ToolChoiceNone}, nil
		}
		return &PrepareStepResult{ToolChoice: ai.ToolChoiceTool("echo")}, nil
	}
	_, err := New(m, registry(echoTool(), deleteTool(new(atomic.Int32)))).Run(context.Background(), nil,
		WithSystem("default"), WithPrepareStep(prepare))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, seen)
	reqs := m.Requests()
	assert.Equal(t, "default", reqs[0].System)
	assert.Equal(t, ai.ToolChoiceTool("echo"), reqs[0].ToolChoice)
	assert.Len(t, reqs[0].Tools, 2)
	assert.Equal(t, "be brief", reqs[1].System)
	assert.Equal(t, ai.ToolChoiceNone, reqs[1].ToolChoice)
	assert.Len(t, reqs[1].Tools, 1)

	t.Run("error is fatal", func(t *testing.T) {
		failing := func(context.Context, PrepareStepInput) (*PrepareStepResult, error) {
			return nil, errors.New("no budget")
		}
		_, err := New(modeltest.New(), nil).Run(context.Background(), nil, WithPrepareStep(failing))
		assert.ErrorContains(t, err, "no budget")
	})
}

func TestAgent_Callbacks(t *testing.T) {
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":"x"}`}),
		modeltest.TextStep("done"),
	)
	var (
		stepsSeen int
		chunks    int
		summary   RunSummary
	)
	res, err := New(m, registry(echoTool())).Run(context.Background(), nil,
		OnStepFinish(func(StepResult) { stepsSeen++ }),
		OnChunk(func(event.Event) { chunks++ }),
		OnFinish(func(s RunSummary) { summary = s }),
	)
	require.NoError(t, err)

	parts := collect(t, res)
	assert.Equal(t, 2, stepsSeen)
	assert.Equal(t, len(parts), chunks)
	assert.Equal(t, event.TerminationComplete, summary.Termination)
	assert.Equal(t, res.RunID(), summary.RunID)
	assert.Len(t, summary.Steps, 2)
}

func TestAgent_SmoothTransform(t *testing.T) {
	m := modeltest.New(modeltest.Step{Chunks: append(
		modeltest.Text("t1", "the quick br", "own fox"),
		modeltest.Finish(ai.FinishReasonStop),
	)})
	res := New(m, nil).Stream(context.Background(), nil,
		WithTransform(transform.Smooth(transform.WithDelay(0))), WithValidation())
	parts := collect(t, res)
	require.NoError(t, event.ValidateAll(parts))

	var deltas []string
	for _, d := range ofType[event.TextDelta](parts) {
		deltas = append(deltas, d.Delta)
	}
	assert.Equal(t, []string{"the ", "quick ", "brown ", "fox"}, deltas)
	text, _ := res.Text(context.Background())
	assert.Equal(t, "the quick brown fox", text)
}
