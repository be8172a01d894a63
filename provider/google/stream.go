package google

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/model"
)

const textID = "text-0"

// processor turns streamed responses into chunks. Gemini delivers function
// calls whole, so no tool input deltas are produced.
type processor struct {
	includeRaw    bool
	started       bool
	textOpen      bool
	reasoningOpen bool
	reasoningN    int
	calledTools   bool
	sources       map[string]bool
	usage         ai.Usage
	reason        genai.FinishReason
}

func newProcessor(includeRaw bool) *processor {
	return &processor{includeRaw: includeRaw, sources: make(map[string]bool)}
}

func (p *processor) handle(resp *genai.GenerateContentResponse) []model.Chunk {
	var out []model.Chunk
	if p.includeRaw {
		if data, err := json.Marshal(resp); err == nil {
			out = append(out, model.Raw{Value: data})
		}
	}
	if !p.started {
		p.started = true
		ts := resp.CreateTime
		if ts.IsZero() {
			ts = time.Now()
		}
		out = append(out, model.ResponseMetadata{ID: resp.ResponseID, ModelID: resp.ModelVersion, Timestamp: ts})
	}
	if resp.UsageMetadata != nil {
		p.usage = usage(resp.UsageMetadata)
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			out = append(out, p.part(part)...)
		}
	}
	if gm := cand.GroundingMetadata; gm != nil {
		for _, gc := range gm.GroundingChunks {
			if gc.Web == nil || gc.Web.URI == "" || p.sources[gc.Web.URI] {
				continue
			}
			p.sources[gc.Web.URI] = true
			out = append(out, model.Source{
				ID:         ai.GenerateID("src"),
				SourceType: "url",
				URL:        gc.Web.URI,
				Title:      gc.Web.Title,
			})
		}
	}
	if cand.FinishReason != "" {
		p.reason = cand.FinishReason
	}
	return out
}

func (p *processor) part(part *genai.Part) []model.Chunk {
	var out []model.Chunk
	switch {
	case part.FunctionCall != nil:
		p.calledTools = true
		tc := toolCall(part.FunctionCall)
		out = append(out, model.ToolCall{ID: tc.ID, ToolName: tc.Name, Input: string(tc.Input)})
	case part.Thought && part.Text != "":
		if !p.reasoningOpen {
			p.reasoningOpen = true
			p.reasoningN++
			out = append(out, model.ReasoningStart{ID: p.reasoningID()})
		}
		out = append(out, model.ReasoningDelta{ID: p.reasoningID(), Delta: part.Text})
	case part.Text != "":
		if p.reasoningOpen {
			p.reasoningOpen = false
			out = append(out, model.ReasoningEnd{ID: p.reasoningID()})
		}
		if !p.textOpen {
			p.textOpen = true
			out = append(out, model.TextStart{ID: textID})
		}
		out = append(out, model.TextDelta{ID: textID, Delta: part.Text})
	case part.InlineData != nil:
		out = append(out, model.File{MediaType: part.InlineData.MIMEType, Data: part.InlineData.Data})
	}
	return out
}

func (p *processor) reasoningID() string { return fmt.Sprintf("reasoning-%d", p.reasoningN) }

func (p *processor) finish() []model.Chunk {
	var out []model.Chunk
	if p.reasoningOpen {
		out = append(out, model.ReasoningEnd{ID: p.reasoningID()})
	}
	if p.textOpen {
		out = append(out, model.TextEnd{ID: textID})
	}
	return append(out, model.Finish{FinishReason: finishReason(p.reason, p.calledTools), Usage: p.usage})
}
