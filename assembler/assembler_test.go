package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/model"
	"github.com/spetersoncode/braid/tool"
)

type echoArgs struct {
	Msg string `json:"msg"`
}

func echoTools() *tool.Set {
	return tool.NewSet(tool.Func("echo", "Echo", func(ctx context.Context, in echoArgs) (echoArgs, error) {
		return in, nil
	}))
}

func pushAll(t *testing.T, a *Assembler, chunks ...model.Chunk) []event.Event {
	t.Helper()
	var out []event.Event
	for _, c := range chunks {
		evs, err := a.Push(context.Background(), c)
		require.NoError(t, err)
		out = append(out, evs...)
	}
	return out
}

func TestAssembler_Text(t *testing.T) {
	a := New(Options{})
	out := pushAll(t, a,
		model.StreamStart{Warnings: []string{"seed unsupported"}},
		model.ResponseMetadata{ID: "resp-1", ModelID: "m"},
		model.TextStart{ID: "t1"},
		model.TextDelta{ID: "t1", Delta: "Hel"},
		model.TextDelta{ID: "t1", Delta: "lo"},
		model.TextEnd{ID: "t1"},
		model.Finish{FinishReason: ai.FinishReasonStop, Usage: ai.Usage{InputTokens: 3, OutputTokens: 2}},
	)

	assert.Equal(t, []event.Event{
		event.TextStart{ID: "t1"},
		event.TextDelta{ID: "t1", Delta: "Hel"},
		event.TextDelta{ID: "t1", Delta: "lo"},
		event.TextEnd{ID: "t1"},
	}, out)

	s := a.Summary()
	assert.Equal(t, "Hello", s.Text)
	assert.Equal(t, ai.FinishReasonStop, s.FinishReason)
	assert.Equal(t, 3, s.Usage.InputTokens)
	assert.Equal(t, "resp-1", s.Response.ID)
	assert.Equal(t, []string{"seed unsupported"}, s.Warnings)
	assert.True(t, s.Finished)
}

func TestAssembler_IDReuseAfterClose(t *testing.T) {
	a := New(Options{})
	out := pushAll(t, a,
		model.ReasoningStart{ID: "r"},
		model.ReasoningDelta{ID: "r", Delta: "think"},
		model.ReasoningEnd{ID: "r"},
		model.ReasoningStart{ID: "r"},
		model.ReasoningEnd{ID: "r"},
	)
	assert.Len(t, out, 5)
	assert.Equal(t, "think", a.Summary().Reasoning)
}

func TestAssembler_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		chunks []model.Chunk
		kind   string
	}{
		{"delta before start", []model.Chunk{model.TextDelta{ID: "x", Delta: "a"}}, KindUnopenedID},
		{"end before start", []model.Chunk{model.ReasoningEnd{ID: "x"}}, KindUnopenedID},
		{"duplicate text start", []model.Chunk{model.TextStart{ID: "x"}, model.TextStart{ID: "x"}}, KindDuplicateStart},
		{"tool delta before start", []model.Chunk{model.ToolInputDelta{ID: "c", Delta: "{"}}, KindUnopenedID},
		{"duplicate tool start", []model.Chunk{
			model.ToolInputStart{ID: "c", ToolName: "echo"},
			model.ToolInputStart{ID: "c", ToolName: "echo"},
		}, KindDuplicateStart},
		{"result for unknown call", []model.Chunk{model.ToolResult{ToolCallID: "c", ToolName: "search"}}, KindUnopenedID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(Options{})
			var err error
			for _, c := range tt.chunks {
				if _, err = a.Push(context.Background(), c); err != nil {
					break
				}
			}
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.kind, perr.Kind)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestAssembler_StreamError(t *testing.T) {
	a := New(Options{})
	cause := errors.New("overloaded")
	_, err := a.Push(context.Background(), model.Error{Err: cause})

	var serr *StreamError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, cause)
}

func TestAssembler_ToolInputStreaming(t *testing.T) {
	a := New(Options{Tools: echoTools()})
	out := pushAll(t, a,
		model.ToolInputStart{ID: "c1", ToolName: "echo"},
		model.ToolInputDelta{ID: "c1", Delta: `{"msg":`},
		model.ToolInputDelta{ID: "c1", Delta: `"hi"}`},
		model.ToolInputEnd{ID: "c1"},
		// adapters may repeat the finished call
		model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":"hi"}`},
	)

	require.Len(t, out, 5)
	assert.Equal(t, event.ToolInputEnd{ID: "c1"}, out[3])
	call := out[4].(event.ToolCall)
	assert.Equal(t, "c1", call.ToolCallID)
	assert.False(t, call.Invalid)
	assert.JSONEq(t, `{"msg":"hi"}`, string(call.Input))
}

func TestAssembler_ToolCallClosesOpenInput(t *testing.T) {
	a := New(Options{Tools: echoTools()})
	out := pushAll(t, a,
		model.ToolInputStart{ID: "c1", ToolName: "echo"},
		model.ToolInputDelta{ID: "c1", Delta: `{"ms`},
		model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":"full"}`},
	)
	require.Len(t, out, 4)
	assert.Equal(t, event.ToolInputEnd{ID: "c1"}, out[2])
	assert.JSONEq(t, `{"msg":"full"}`, string(out[3].(event.ToolCall).Input))
	require.NoError(t, event.ValidateAll(wrap(out)))
}

func TestAssembler_EmptyInput(t *testing.T) {
	a := New(Options{})
	out := pushAll(t, a, model.ToolCall{ID: "c1", ToolName: "now", Input: ""})
	require.Len(t, out, 1)
	assert.JSONEq(t, `{}`, string(out[0].(event.ToolCall).Input))
}

func TestAssembler_InvalidCalls(t *testing.T) {
	tests := []struct {
		name  string
		call  model.ToolCall
		match func(*testing.T, string)
	}{
		{"unknown tool", model.ToolCall{ID: "c1", ToolName: "nope", Input: `{}`}, func(t *testing.T, msg string) {
			assert.Contains(t, msg, "available: echo")
		}},
		{"unparsable input", model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":`}, func(t *testing.T, msg string) {
			assert.Contains(t, msg, "invalid input for echo")
		}},
		{"schema violation", model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":1}`}, func(t *testing.T, msg string) {
			assert.Contains(t, msg, "invalid input for echo")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(Options{Tools: echoTools()})
			out := pushAll(t, a, tt.call)
			require.Len(t, out, 2)

			call := out[0].(event.ToolCall)
			assert.True(t, call.Invalid)
			var raw string
			require.NoError(t, json.Unmarshal(call.Input, &raw))
			assert.Equal(t, tt.call.Input, raw)
			tt.match(t, call.Error)

			terr := out[1].(event.ToolError)
			assert.Equal(t, "c1", terr.ToolCallID)
			assert.Equal(t, call.Error, terr.Error)
		})
	}
}

func TestAssembler_Repair(t *testing.T) {
	var seen error
	a := New(Options{
		Tools: echoTools(),
		Repair: func(ctx context.Context, call ai.ToolCall, err error) (*ai.ToolCall, error) {
			seen = err
			call.Input = json.RawMessage(`{"msg":"fixed"}`)
			return &call, nil
		},
	})
	out := pushAll(t, a, model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":`})

	require.Len(t, out, 1)
	var invalid *tool.InvalidInputError
	assert.ErrorAs(t, seen, &invalid)
	assert.JSONEq(t, `{"msg":"fixed"}`, string(out[0].(event.ToolCall).Input))
}

func TestAssembler_RepairStillInvalid(t *testing.T) {
	a := New(Options{
		Tools: echoTools(),
		Repair: func(ctx context.Context, call ai.ToolCall, err error) (*ai.ToolCall, error) {
			call.Name = "missing"
			return &call, nil
		},
	})
	out := pushAll(t, a, model.ToolCall{ID: "c1", ToolName: "echo", Input: `nope`})
	require.Len(t, out, 2)
	assert.True(t, out[0].(event.ToolCall).Invalid)
	assert.Equal(t, "missing", out[0].(event.ToolCall).ToolName)
}

func TestAssembler_ProviderExecuted(t *testing.T) {
	a := New(Options{Tools: echoTools()})
	out := pushAll(t, a,
		model.ToolCall{ID: "s1", ToolName: "web_search", Input: `{"q":"go"}`, ProviderExecuted: true},
		model.ToolResult{ToolCallID: "s1", ToolName: "web_search", Result: json.RawMessage(`["a"]`)},
		model.ToolCall{ID: "s2", ToolName: "web_search", Input: `{}`, ProviderExecuted: true},
		model.ToolResult{ToolCallID: "s2", ToolName: "web_search", Result: json.RawMessage(`"quota"`), IsError: true},
	)

	require.Len(t, out, 4)
	assert.True(t, out[0].(event.ToolCall).ProviderExecuted)
	assert.False(t, out[0].(event.ToolCall).Invalid)
	res := out[1].(event.ToolResult)
	assert.True(t, res.ProviderExecuted)
	assert.JSONEq(t, `["a"]`, string(res.Output))
	assert.Equal(t, "quota", out[3].(event.ToolError).Error)
}

func TestAssembler_Flush(t *testing.T) {
	a := New(Options{Tools: echoTools()})
	out := pushAll(t, a,
		model.TextStart{ID: "t1"},
		model.TextDelta{ID: "t1", Delta: "partial"},
		model.ReasoningStart{ID: "r1"},
		model.ToolInputStart{ID: "c1", ToolName: "echo"},
		model.ToolInputDelta{ID: "c1", Delta: `{"msg":"h`},
	)
	out = append(out, a.Flush(context.Background())...)

	require.NoError(t, event.ValidateAll(wrap(out)))
	last := out[len(out)-1].(event.ToolError)
	assert.Contains(t, last.Error, ErrIncompleteInput.Error())
	assert.Empty(t, a.Flush(context.Background()))
	assert.Equal(t, ai.FinishReasonUnknown, a.Summary().FinishReason)
}

func TestAssembler_Raw(t *testing.T) {
	raw := model.Raw{Value: json.RawMessage(`{"vendor":true}`)}

	out := pushAll(t, New(Options{}), raw)
	assert.Empty(t, out)

	out = pushAll(t, New(Options{IncludeRaw: true}), raw)
	assert.Equal(t, []event.Event{event.Raw{Value: raw.Value}}, out)
}

func TestAssembler_Passthrough(t *testing.T) {
	out := pushAll(t, New(Options{}),
		model.Source{ID: "s", SourceType: "url", URL: "https://go.dev"},
		model.File{MediaType: "image/png", Data: []byte{1}},
	)
	require.Len(t, out, 2)
	assert.Equal(t, "https://go.dev", out[0].(event.Source).URL)
	assert.Equal(t, "image/png", out[1].(event.File).MediaType)
}

// wrap brackets step parts into a complete run for validation.
func wrap(parts []event.Event) []event.Event {
	out := []event.Event{event.Start{RunID: "run"}, event.StartStep{Step: 1}}
	out = append(out, parts...)
	return append(out, event.FinishStep{Step: 1}, event.Finish{})
}
