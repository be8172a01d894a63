// Package assembler turns the chunk stream of one model invocation into
// well-formed canonical parts.
//
// The assembler tracks which text, reasoning and tool-input ids are open,
// buffers tool input until it closes, and validates the finished input
// against the active tools. Malformed upstream sequences are protocol
// errors; malformed tool input is not an error but an invalid tool call
// followed by a tool error, so the run can feed it back to the model.
package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/model"
)

// ToolSet validates tool call input. *tool.Set implements it.
type ToolSet interface {
	CheckInput(name, raw string) (json.RawMessage, error)
}

// RepairFunc may fix a tool call whose input failed validation. Returning a
// nil call or an error keeps the original failure.
type RepairFunc func(ctx context.Context, call ai.ToolCall, err error) (*ai.ToolCall, error)

// Options configures an Assembler.
type Options struct {
	// Tools validates tool input. When nil, input only has to be valid JSON.
	Tools ToolSet
	// Repair is consulted before a call is reported invalid.
	Repair RepairFunc
	// IncludeRaw forwards raw provider events as raw parts.
	IncludeRaw bool
}

// Summary is what the assembler learned about the step.
type Summary struct {
	Text         string
	Reasoning    string
	FinishReason ai.FinishReason
	Usage        ai.Usage
	Response     event.ResponseInfo
	Warnings     []string
	// Finished is set once the model sent its finish chunk.
	Finished bool
}

type toolInput struct {
	id               string
	name             string
	providerExecuted bool
	buf              strings.Builder
}

// Assembler is a state machine for one step. It is not safe for
// concurrent use.
type Assembler struct {
	opts Options

	text      []string
	reasoning []string
	inputs    []*toolInput
	// emitted holds every tool call id already reported.
	emitted map[string]bool

	textBuf      strings.Builder
	reasoningBuf strings.Builder
	summary      Summary
}

// New creates an assembler for one step.
func New(opts Options) *Assembler {
	return &Assembler{
		opts:    opts,
		emitted: make(map[string]bool),
		summary: Summary{FinishReason: ai.FinishReasonUnknown},
	}
}

// Push consumes one chunk and returns the parts it produces. A non-nil
// error is fatal: either a *ProtocolError or a *StreamError.
func (a *Assembler) Push(ctx context.Context, c model.Chunk) ([]event.Event, error) {
	switch c := c.(type) {
	case model.StreamStart:
		a.summary.Warnings = append(a.summary.Warnings, c.Warnings...)
	case model.ResponseMetadata:
		a.summary.Response = event.ResponseInfo{
			ID:        c.ID,
			ModelID:   c.ModelID,
			Timestamp: c.Timestamp,
			Headers:   c.Headers,
		}

	case model.TextStart:
		if slices.Contains(a.text, c.ID) {
			return nil, protocolError(KindDuplicateStart, event.TypeTextStart, c.ID)
		}
		a.text = append(a.text, c.ID)
		return one(event.TextStart{ID: c.ID})
	case model.TextDelta:
		if !slices.Contains(a.text, c.ID) {
			return nil, protocolError(KindUnopenedID, event.TypeTextDelta, c.ID)
		}
		a.textBuf.WriteString(c.Delta)
		return one(event.TextDelta{ID: c.ID, Delta: c.Delta})
	case model.TextEnd:
		if !slices.Contains(a.text, c.ID) {
			return nil, protocolError(KindUnopenedID, event.TypeTextEnd, c.ID)
		}
		a.text = remove(a.text, c.ID)
		return one(event.TextEnd{ID: c.ID})

	case model.ReasoningStart:
		if slices.Contains(a.reasoning, c.ID) {
			return nil, protocolError(KindDuplicateStart, event.TypeReasoningStart, c.ID)
		}
		a.reasoning = append(a.reasoning, c.ID)
		return one(event.ReasoningStart{ID: c.ID})
	case model.ReasoningDelta:
		if !slices.Contains(a.reasoning, c.ID) {
			return nil, protocolError(KindUnopenedID, event.TypeReasoningDelta, c.ID)
		}
		a.reasoningBuf.WriteString(c.Delta)
		return one(event.ReasoningDelta{ID: c.ID, Delta: c.Delta})
	case model.ReasoningEnd:
		if !slices.Contains(a.reasoning, c.ID) {
			return nil, protocolError(KindUnopenedID, event.TypeReasoningEnd, c.ID)
		}
		a.reasoning = remove(a.reasoning, c.ID)
		return one(event.ReasoningEnd{ID: c.ID})

	case model.ToolInputStart:
		if a.input(c.ID) != nil || a.emitted[c.ID] {
			return nil, protocolError(KindDuplicateStart, event.TypeToolInputStart, c.ID)
		}
		a.inputs = append(a.inputs, &toolInput{id: c.ID, name: c.ToolName, providerExecuted: c.ProviderExecuted})
		return one(event.ToolInputStart{ID: c.ID, ToolName: c.ToolName, ProviderExecuted: c.ProviderExecuted})
	case model.ToolInputDelta:
		in := a.input(c.ID)
		if in == nil {
			return nil, protocolError(KindUnopenedID, event.TypeToolInputDelta, c.ID)
		}
		in.buf.WriteString(c.Delta)
		return one(event.ToolInputDelta{ID: c.ID, Delta: c.Delta})
	case model.ToolInputEnd:
		in := a.input(c.ID)
		if in == nil {
			return nil, protocolError(KindUnopenedID, event.TypeToolInputEnd, c.ID)
		}
		a.closeInput(in)
		out := []event.Event{event.ToolInputEnd{ID: c.ID}}
		return append(out, a.call(ctx, in.id, in.name, in.buf.String(), in.providerExecuted)...), nil

	case model.ToolCall:
		if a.emitted[c.ID] {
			return nil, nil
		}
		var out []event.Event
		if in := a.input(c.ID); in != nil {
			a.closeInput(in)
			out = append(out, event.ToolInputEnd{ID: c.ID})
		}
		return append(out, a.call(ctx, c.ID, c.ToolName, c.Input, c.ProviderExecuted)...), nil

	case model.ToolResult:
		if !a.emitted[c.ToolCallID] {
			return nil, protocolError(KindUnopenedID, event.TypeToolResult, c.ToolCallID)
		}
		if c.IsError {
			return one(event.ToolError{
				ToolCallID:       c.ToolCallID,
				ToolName:         c.ToolName,
				Error:            errorText(c.Result),
				ProviderExecuted: true,
			})
		}
		return one(event.ToolResult{
			ToolCallID:       c.ToolCallID,
			ToolName:         c.ToolName,
			Output:           c.Result,
			ProviderExecuted: true,
		})

	case model.Source:
		return one(event.Source{ID: c.ID, SourceType: c.SourceType, URL: c.URL, Title: c.Title, MediaType: c.MediaType})
	case model.File:
		return one(event.File{MediaType: c.MediaType, Data: c.Data})

	case model.Finish:
		a.summary.FinishReason = c.FinishReason
		a.summary.Usage = c.Usage
		a.summary.Finished = true

	case model.Error:
		return nil, &StreamError{Err: c.Err}

	case model.Raw:
		if a.opts.IncludeRaw {
			return one(event.Raw{Value: c.Value})
		}
	}
	return nil, nil
}

// Flush closes everything still open at the end of the model stream. Open
// tool inputs become invalid calls failing with ErrIncompleteInput.
func (a *Assembler) Flush(ctx context.Context) []event.Event {
	var out []event.Event
	for _, id := range a.reasoning {
		out = append(out, event.ReasoningEnd{ID: id})
	}
	a.reasoning = nil
	for _, id := range a.text {
		out = append(out, event.TextEnd{ID: id})
	}
	a.text = nil

	inputs := a.inputs
	a.inputs = nil
	for _, in := range inputs {
		a.emitted[in.id] = true
		raw := in.buf.String()
		err := &invalidInput{name: in.name, err: ErrIncompleteInput}
		out = append(out, event.ToolInputEnd{ID: in.id})
		out = append(out, invalidCall(in.id, in.name, raw, in.providerExecuted, err)...)
	}
	return out
}

// Summary returns the aggregated state of the step so far.
func (a *Assembler) Summary() Summary {
	s := a.summary
	s.Text = a.textBuf.String()
	s.Reasoning = a.reasoningBuf.String()
	return s
}

func (a *Assembler) call(ctx context.Context, id, name, raw string, providerExecuted bool) []event.Event {
	a.emitted[id] = true

	if providerExecuted {
		input, err := parseInput(raw)
		if err != nil {
			input = quote(raw)
		}
		return []event.Event{event.ToolCall{ToolCallID: id, ToolName: name, Input: input, ProviderExecuted: true}}
	}

	input, err := a.check(name, raw)
	if err != nil && a.opts.Repair != nil {
		repaired, rerr := a.opts.Repair(ctx, ai.ToolCall{ID: id, Name: name, Input: json.RawMessage(raw)}, err)
		if rerr == nil && repaired != nil {
			name, raw = repaired.Name, string(repaired.Input)
			input, err = a.check(name, raw)
		}
	}
	if err != nil {
		return invalidCall(id, name, raw, false, err)
	}
	return []event.Event{event.ToolCall{ToolCallID: id, ToolName: name, Input: input}}
}

func (a *Assembler) check(name, raw string) (json.RawMessage, error) {
	if a.opts.Tools != nil {
		return a.opts.Tools.CheckInput(name, raw)
	}
	input, err := parseInput(raw)
	if err != nil {
		return nil, &invalidInput{name: name, err: err}
	}
	return input, nil
}

func (a *Assembler) input(id string) *toolInput {
	for _, in := range a.inputs {
		if in.id == id {
			return in
		}
	}
	return nil
}

func (a *Assembler) closeInput(in *toolInput) {
	if i := slices.Index(a.inputs, in); i >= 0 {
		a.inputs = slices.Delete(a.inputs, i, i+1)
	}
}

type invalidInput struct {
	name string
	err  error
}

func (e *invalidInput) Error() string {
	return fmt.Sprintf("invalid input for tool %s: %v", e.name, e.err)
}

func (e *invalidInput) Unwrap() error { return e.err }

func invalidCall(id, name, raw string, providerExecuted bool, err error) []event.Event {
	input := quote(raw)
	return []event.Event{
		event.ToolCall{
			ToolCallID:       id,
			ToolName:         name,
			Input:            input,
			ProviderExecuted: providerExecuted,
			Invalid:          true,
			Error:            err.Error(),
		},
		event.ToolError{
			ToolCallID:       id,
			ToolName:         name,
			Input:            input,
			Error:            err.Error(),
			ProviderExecuted: providerExecuted,
		},
	}
}

func parseInput(raw string) (json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(raw)) {
		var v any
		return nil, json.Unmarshal([]byte(raw), &v)
	}
	return json.RawMessage(raw), nil
}

func quote(raw string) json.RawMessage {
	data, _ := json.Marshal(raw)
	return data
}

func errorText(result json.RawMessage) string {
	var s string
	if err := json.Unmarshal(result, &s); err == nil {
		return s
	}
	return string(result)
}

func protocolError(kind string, chunk event.Type, id string) error {
	return &ProtocolError{Kind: kind, Chunk: string(chunk), ID: id}
}

func one(e event.Event) ([]event.Event, error) {
	return []event.Event{e}, nil
}

func remove(ids []string, id string) []string {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}
