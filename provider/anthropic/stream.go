package anthropic

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/model"
)

type blockKind int

const (
	blockText blockKind = iota
	blockReasoning
	blockTool
	blockAnswer
)

type block struct {
	kind blockKind
	id   string
}

// processor turns Anthropic stream events into chunks. Content blocks are
// keyed by their index, which the API reuses only within one message.
//
// With answer set, calls to the answer tool are surfaced as text.
type processor struct {
	includeRaw bool
	answer     bool
	blocks     map[int64]block
	usage      ai.Usage
	reason     string
	answered   bool
	called     bool
}

func newProcessor(includeRaw, answer bool) *processor {
	return &processor{includeRaw: includeRaw, answer: answer, blocks: make(map[int64]block)}
}

func (p *processor) handle(ev anthropic.MessageStreamEventUnion) []model.Chunk {
	var out []model.Chunk
	if p.includeRaw {
		out = append(out, model.Raw{Value: json.RawMessage(ev.RawJSON())})
	}

	switch e := ev.AsAny().(type) {
	case anthropic.MessageStartEvent:
		p.usage.InputTokens = int(e.Message.Usage.InputTokens)
		p.usage.CachedInputTokens = int(e.Message.Usage.CacheReadInputTokens)
		out = append(out, model.ResponseMetadata{
			ID:        e.Message.ID,
			ModelID:   string(e.Message.Model),
			Timestamp: time.Now(),
		})

	case anthropic.ContentBlockStartEvent:
		out = append(out, p.start(e)...)

	case anthropic.ContentBlockDeltaEvent:
		b, ok := p.blocks[e.Index]
		if !ok {
			break
		}
		switch d := e.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				out = append(out, model.TextDelta{ID: b.id, Delta: d.Text})
			}
		case anthropic.ThinkingDelta:
			if d.Thinking != "" {
				out = append(out, model.ReasoningDelta{ID: b.id, Delta: d.Thinking})
			}
		case anthropic.InputJSONDelta:
			if d.PartialJSON == "" {
				break
			}
			if b.kind == blockAnswer {
				out = append(out, model.TextDelta{ID: b.id, Delta: d.PartialJSON})
			} else {
				out = append(out, model.ToolInputDelta{ID: b.id, Delta: d.PartialJSON})
			}
		}

	case anthropic.ContentBlockStopEvent:
		b, ok := p.blocks[e.Index]
		if !ok {
			break
		}
		delete(p.blocks, e.Index)
		switch b.kind {
		case blockText, blockAnswer:
			out = append(out, model.TextEnd{ID: b.id})
		case blockReasoning:
			out = append(out, model.ReasoningEnd{ID: b.id})
		case blockTool:
			out = append(out, model.ToolInputEnd{ID: b.id})
		}

	case anthropic.MessageDeltaEvent:
		if e.Delta.StopReason != "" {
			p.reason = string(e.Delta.StopReason)
		}
		p.usage.OutputTokens = int(e.Usage.OutputTokens)
		if e.Usage.InputTokens > 0 {
			p.usage.InputTokens = int(e.Usage.InputTokens)
		}
	}
	return out
}

func (p *processor) start(e anthropic.ContentBlockStartEvent) []model.Chunk {
	switch b := e.ContentBlock.AsAny().(type) {
	case anthropic.TextBlock:
		id := fmt.Sprintf("text-%d", e.Index)
		p.blocks[e.Index] = block{kind: blockText, id: id}
		out := []model.Chunk{model.TextStart{ID: id}}
		if b.Text != "" {
			out = append(out, model.TextDelta{ID: id, Delta: b.Text})
		}
		return out
	case anthropic.ThinkingBlock:
		id := fmt.Sprintf("reasoning-%d", e.Index)
		p.blocks[e.Index] = block{kind: blockReasoning, id: id}
		return []model.Chunk{model.ReasoningStart{ID: id}}
	case anthropic.RedactedThinkingBlock:
		id := fmt.Sprintf("reasoning-%d", e.Index)
		p.blocks[e.Index] = block{kind: blockReasoning, id: id}
		return []model.Chunk{model.ReasoningStart{ID: id}}
	case anthropic.ToolUseBlock:
		if p.answer && b.Name == answerToolName {
			id := fmt.Sprintf("text-%d", e.Index)
			p.blocks[e.Index] = block{kind: blockAnswer, id: id}
			p.answered = true
			return []model.Chunk{model.TextStart{ID: id}}
		}
		p.called = true
		p.blocks[e.Index] = block{kind: blockTool, id: b.ID}
		return []model.Chunk{model.ToolInputStart{ID: b.ID, ToolName: b.Name}}
	case anthropic.ServerToolUseBlock:
		p.blocks[e.Index] = block{kind: blockTool, id: b.ID}
		return []model.Chunk{model.ToolInputStart{ID: b.ID, ToolName: string(b.Name), ProviderExecuted: true}}
	case anthropic.WebSearchToolResultBlock:
		return []model.Chunk{model.ToolResult{
			ToolCallID: b.ToolUseID,
			ToolName:   "web_search",
			Result:     json.RawMessage(b.Content.RawJSON()),
		}}
	}
	return nil
}

func (p *processor) finish() model.Chunk {
	return model.Finish{FinishReason: answerReason(p.reason, p.answered, p.called), Usage: p.usage}
}

// answerReason reports a stop when the only call was the answer tool.
func answerReason(reason string, answered, called bool) ai.FinishReason {
	if reason == "tool_use" && answered && !called {
		return ai.FinishReasonStop
	}
	return finishReason(reason)
}
