package agui

import (
	"fmt"
	"iter"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/tool"
)

// Custom event names used for parts without an AG-UI equivalent.
const (
	CustomApprovalRequest  = "braid.tool_approval_request"
	CustomApprovalResponse = "braid.tool_approval_response"
	CustomToolProgress     = "braid.tool_progress"
	CustomSource           = "braid.source"
	CustomFile             = "braid.file"
	CustomData             = "braid.data"
	CustomFinish           = "braid.finish"
)

// Mapper converts canonical parts of one run to AG-UI events.
//
// Part ids are only unique within a step, while AG-UI message ids must be
// unique per thread, so the mapper allocates a message id for every text
// and reasoning span it opens.
//
// Create a new Mapper for each run using NewMapper. A Mapper is not safe
// for concurrent use.
type Mapper struct {
	threadID string
	runID    string

	messages map[string]string
	streamed map[string]bool
}

// NewMapper creates a mapper for a single run. Empty ids are generated.
func NewMapper(threadID, runID string) *Mapper {
	if threadID == "" {
		threadID = events.GenerateThreadID()
	}
	if runID == "" {
		runID = events.GenerateRunID()
	}
	return &Mapper{
		threadID: threadID,
		runID:    runID,
		messages: make(map[string]string),
		streamed: make(map[string]bool),
	}
}

// ThreadID returns the thread id used in lifecycle events.
func (m *Mapper) ThreadID() string { return m.threadID }

// RunID returns the run id used in lifecycle events.
func (m *Mapper) RunID() string { return m.runID }

// Map converts one part. Parts without a visible AG-UI effect map to no
// events; tool calls whose input was not streamed expand to a full
// start/args/end sequence.
func (m *Mapper) Map(e event.Event) []events.Event {
	switch p := e.(type) {
	case event.Start:
		return one(events.NewRunStartedEvent(m.threadID, m.runID))
	case event.Finish:
		return []events.Event{
			custom(CustomFinish, map[string]any{
				"finishReason": p.FinishReason,
				"termination":  p.Termination,
				"totalUsage":   p.TotalUsage,
			}),
			events.NewRunFinishedEvent(m.threadID, m.runID),
		}
	case event.Error:
		msg := p.Message
		if msg == "" {
			msg = "unknown error"
		}
		return one(events.NewRunErrorEvent(msg))

	case event.StartStep:
		return one(events.NewStepStartedEvent(stepName(p.Step)))
	case event.FinishStep:
		return one(events.NewStepFinishedEvent(stepName(p.Step)))

	case event.TextStart:
		return one(events.NewTextMessageStartEvent(m.open("text", p.ID), events.WithRole(RoleAssistant)))
	case event.TextDelta:
		if p.Delta == "" {
			return nil
		}
		return one(events.NewTextMessageContentEvent(m.messages["text:"+p.ID], p.Delta))
	case event.TextEnd:
		return one(events.NewTextMessageEndEvent(m.close("text", p.ID)))

	case event.ReasoningStart:
		m.open("reasoning", p.ID)
		return []events.Event{events.NewThinkingStartEvent(), events.NewThinkingTextMessageStartEvent()}
	case event.ReasoningDelta:
		if p.Delta == "" {
			return nil
		}
		return one(events.NewThinkingTextMessageContentEvent(p.Delta))
	case event.ReasoningEnd:
		m.close("reasoning", p.ID)
		return []events.Event{events.NewThinkingTextMessageEndEvent(), events.NewThinkingEndEvent()}

	case event.ToolInputStart:
		m.streamed[p.ID] = true
		return one(events.NewToolCallStartEvent(p.ID, p.ToolName))
	case event.ToolInputDelta:
		if p.Delta == "" {
			return nil
		}
		return one(events.NewToolCallArgsEvent(p.ID, p.Delta))
	case event.ToolInputEnd:
		return one(events.NewToolCallEndEvent(p.ID))
	case event.ToolCall:
		if m.streamed[p.ToolCallID] {
			return nil
		}
		out := []events.Event{events.NewToolCallStartEvent(p.ToolCallID, p.ToolName)}
		if len(p.Input) > 0 {
			out = append(out, events.NewToolCallArgsEvent(p.ToolCallID, string(p.Input)))
		}
		return append(out, events.NewToolCallEndEvent(p.ToolCallID))

	case event.ToolResult:
		if p.Preliminary {
			return one(custom(CustomToolProgress, map[string]any{
				"toolCallId": p.ToolCallID,
				"toolName":   p.ToolName,
				"output":     p.Output,
			}))
		}
		return one(events.NewToolCallResultEvent(events.GenerateMessageID(), p.ToolCallID, tool.DefaultModelOutput(p.Output)))
	case event.ToolError:
		return one(events.NewToolCallResultEvent(events.GenerateMessageID(), p.ToolCallID, "Error: "+p.Error))
	case event.ToolOutputDenied:
		content := "Tool execution denied"
		if p.Reason != "" {
			content += ": " + p.Reason
		}
		return one(events.NewToolCallResultEvent(events.GenerateMessageID(), p.ToolCallID, content))

	case event.ToolApprovalRequest:
		return one(custom(CustomApprovalRequest, p))
	case event.ToolApprovalResponse:
		return one(custom(CustomApprovalResponse, p))
	case event.Source:
		return one(custom(CustomSource, p))
	case event.File:
		return one(custom(CustomFile, p))
	case event.Data:
		return one(custom(CustomData, map[string]any{
			"name":       p.Name,
			"toolCallId": p.ToolCallID,
			"value":      p.Value,
		}))
	}
	return nil
}

// MapStream converts a whole part sequence.
//
// Example:
//
//	mapper := agui.NewMapper(threadID, runID)
//	for ev := range mapper.MapStream(result.Events(ctx)) {
//	    writeSSE(w, ev)
//	}
func (m *Mapper) MapStream(parts iter.Seq[event.Event]) iter.Seq[events.Event] {
	return func(yield func(events.Event) bool) {
		for p := range parts {
			for _, ev := range m.Map(p) {
				if !yield(ev) {
					return
				}
			}
		}
	}
}

func (m *Mapper) open(kind, id string) string {
	msgID := events.GenerateMessageID()
	m.messages[kind+":"+id] = msgID
	return msgID
}

func (m *Mapper) close(kind, id string) string {
	key := kind + ":" + id
	msgID := m.messages[key]
	delete(m.messages, key)
	return msgID
}

func stepName(step int) string {
	return fmt.Sprintf("step-%d", step)
}

func custom(name string, value any) events.Event {
	return events.NewCustomEvent(name, events.WithValue(value))
}

func one(e events.Event) []events.Event {
	return []events.Event{e}
}
