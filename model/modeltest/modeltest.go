// Package modeltest provides a scripted model.Model for tests.
package modeltest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/model"
)

// Step scripts one model invocation.
type Step struct {
	// Chunks are streamed in order.
	Chunks []model.Chunk
	// Err fails the call before any chunk is streamed.
	Err error
	// Delay is waited before each chunk.
	Delay time.Duration
	// Block keeps the stream open after the chunks until ctx is cancelled.
	Block bool
}

// Model replays scripted steps. Calls beyond the script repeat the last step.
type Model struct {
	// Dynamic, when set, produces the step for each call instead of the script.
	Dynamic func(call int, req *model.Request) Step

	mu       sync.Mutex
	steps    []Step
	requests []*model.Request
}

// New creates a model replaying steps.
func New(steps ...Step) *Model {
	return &Model{steps: steps}
}

// Provider implements model.Model.
func (m *Model) Provider() string { return "mock" }

// ModelID implements model.Model.
func (m *Model) ModelID() string { return "mock-model" }

// Calls returns the number of invocations so far.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns the recorded requests.
func (m *Model) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *Model) next(req *model.Request) Step {
	m.mu.Lock()
	call := len(m.requests)
	r := *req
	r.Messages = append([]ai.Message(nil), req.Messages...)
	m.requests = append(m.requests, &r)
	dynamic := m.Dynamic
	var step Step
	switch {
	case dynamic != nil:
	case len(m.steps) == 0:
		step = TextStep("")
	case call < len(m.steps):
		step = m.steps[call]
	default:
		step = m.steps[len(m.steps)-1]
	}
	m.mu.Unlock()
	if dynamic != nil {
		step = dynamic(call, &r)
	}
	return step
}

// Stream implements model.Model.
func (m *Model) Stream(ctx context.Context, req *model.Request) (<-chan model.Chunk, error) {
	step := m.next(req)
	if step.Err != nil {
		return nil, step.Err
	}
	ch := make(chan model.Chunk)
	go func() {
		defer close(ch)
		for _, c := range step.Chunks {
			if step.Delay > 0 {
				select {
				case <-time.After(step.Delay):
				case <-ctx.Done():
					return
				}
			}
			if !model.Send(ctx, ch, c) {
				return
			}
		}
		if step.Block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// Generate implements model.Model by aggregating the scripted chunks.
func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	step := m.next(req)
	if step.Err != nil {
		return nil, step.Err
	}
	resp := &model.Response{ModelID: m.ModelID()}
	var text, reasoning strings.Builder
	inputs := make(map[string]*strings.Builder)
	names := make(map[string]string)
	for _, c := range step.Chunks {
		switch v := c.(type) {
		case model.TextDelta:
			text.WriteString(v.Delta)
		case model.ReasoningDelta:
			reasoning.WriteString(v.Delta)
		case model.ToolInputStart:
			inputs[v.ID] = &strings.Builder{}
			names[v.ID] = v.ToolName
		case model.ToolInputDelta:
			if b, ok := inputs[v.ID]; ok {
				b.WriteString(v.Delta)
			}
		case model.ToolInputEnd:
			resp.ToolCalls = append(resp.ToolCalls, ai.ToolCall{ID: v.ID, Name: names[v.ID], Input: json.RawMessage(inputs[v.ID].String())})
		case model.ToolCall:
			resp.ToolCalls = append(resp.ToolCalls, ai.ToolCall{ID: v.ID, Name: v.ToolName, Input: json.RawMessage(v.Input)})
		case model.ResponseMetadata:
			resp.ID = v.ID
		case model.Finish:
			resp.FinishReason = v.FinishReason
			resp.Usage = v.Usage
		case model.Error:
			return nil, v.Err
		}
	}
	resp.Text = text.String()
	resp.Reasoning = reasoning.String()
	return resp, ctx.Err()
}

// Text returns chunks streaming deltas as one text part.
func Text(id string, deltas ...string) []model.Chunk {
	chunks := []model.Chunk{model.TextStart{ID: id}}
	for _, d := range deltas {
		chunks = append(chunks, model.TextDelta{ID: id, Delta: d})
	}
	return append(chunks, model.TextEnd{ID: id})
}

// Reasoning returns chunks streaming deltas as one reasoning part.
func Reasoning(id string, deltas ...string) []model.Chunk {
	chunks := []model.Chunk{model.ReasoningStart{ID: id}}
	for _, d := range deltas {
		chunks = append(chunks, model.ReasoningDelta{ID: id, Delta: d})
	}
	return append(chunks, model.ReasoningEnd{ID: id})
}

// ToolInput returns chunks streaming a tool call's input in pieces.
func ToolInput(id, name string, pieces ...string) []model.Chunk {
	chunks := []model.Chunk{model.ToolInputStart{ID: id, ToolName: name}}
	for _, p := range pieces {
		chunks = append(chunks, model.ToolInputDelta{ID: id, Delta: p})
	}
	return append(chunks, model.ToolInputEnd{ID: id})
}

// Finish returns a finish chunk with fixed usage.
func Finish(reason ai.FinishReason) model.Chunk {
	return model.Finish{FinishReason: reason, Usage: ai.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
}

// TextStep scripts a step answering with text.
func TextStep(text string) Step {
	var chunks []model.Chunk
	if text != "" {
		chunks = Text("text-1", text)
	}
	return Step{Chunks: append(chunks, Finish(ai.FinishReasonStop))}
}

// ToolStep scripts a step requesting the given tool calls. Each call's input
// is streamed in two pieces.
func ToolStep(calls ...ai.ToolCall) Step {
	var chunks []model.Chunk
	for _, c := range calls {
		input := string(c.Input)
		half := len(input) / 2
		chunks = append(chunks, ToolInput(c.ID, c.Name, input[:half], input[half:])...)
	}
	return Step{Chunks: append(chunks, Finish(ai.FinishReasonToolCalls))}
}

// Call builds a tool call with a JSON-encoded input.
func Call(id, name string, input any) ai.ToolCall {
	data, err := json.Marshal(input)
	if err != nil {
		panic(fmt.Sprintf("modeltest: marshal input: %v", err))
	}
	return ai.ToolCall{ID: id, Name: name, Input: data}
}

var _ model.Model = (*Model)(nil)
