package openai

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/openai/openai-go"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/model"
)

const textID = "text-0"

// processor turns chat completion chunks into stream chunks. Tool call
// deltas are keyed by their index; only the first delta of a call carries
// its id and name.
type processor struct {
	includeRaw bool
	started    bool
	textOpen   bool
	tools      map[int64]string
	order      []int64
	usage      ai.Usage
	reason     string
}

func newProcessor(includeRaw bool) *processor {
	return &processor{includeRaw: includeRaw, tools: make(map[int64]string)}
}

func (p *processor) handle(chunk openai.ChatCompletionChunk) []model.Chunk {
	var out []model.Chunk
	if p.includeRaw {
		out = append(out, model.Raw{Value: json.RawMessage(chunk.RawJSON())})
	}
	if !p.started {
		p.started = true
		out = append(out, model.ResponseMetadata{
			ID:        chunk.ID,
			ModelID:   chunk.Model,
			Timestamp: time.Unix(chunk.Created, 0),
		})
	}
	if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 {
		p.usage = usage(chunk.Usage)
	}
	if len(chunk.Choices) == 0 {
		return out
	}

	choice := chunk.Choices[0]
	if d := choice.Delta.Content; d != "" {
		if !p.textOpen {
			p.textOpen = true
			out = append(out, model.TextStart{ID: textID})
		}
		out = append(out, model.TextDelta{ID: textID, Delta: d})
	}
	for _, tc := range choice.Delta.ToolCalls {
		id, ok := p.tools[tc.Index]
		if !ok {
			if tc.ID == "" {
				continue
			}
			id = tc.ID
			p.tools[tc.Index] = id
			p.order = append(p.order, tc.Index)
			out = append(out, model.ToolInputStart{ID: id, ToolName: tc.Function.Name})
		}
		if tc.Function.Arguments != "" {
			out = append(out, model.ToolInputDelta{ID: id, Delta: tc.Function.Arguments})
		}
	}
	if choice.FinishReason != "" {
		p.reason = choice.FinishReason
	}
	return out
}

func (p *processor) finish() []model.Chunk {
	var out []model.Chunk
	if p.textOpen {
		out = append(out, model.TextEnd{ID: textID})
	}
	slices.Sort(p.order)
	for _, idx := range p.order {
		out = append(out, model.ToolInputEnd{ID: p.tools[idx]})
	}
	return append(out, model.Finish{FinishReason: finishReason(p.reason), Usage: p.usage})
}
