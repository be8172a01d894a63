package agent

import (
	"encoding/json"
	"slices"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/assembler"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/internal/store"
)

// stepRecord collects the tool parts the assembler produced for a step.
type stepRecord struct {
	calls []event.ToolCall
	// provider-executed results, provider errors and invalid-call errors
	results []event.ToolResult
	errors  []event.ToolError
}

func (s *stepRecord) observe(e event.Event) {
	switch p := e.(type) {
	case event.ToolCall:
		s.calls = append(s.calls, p)
	case event.ToolResult:
		if !p.Preliminary {
			s.results = append(s.results, p)
		}
	case event.ToolError:
		s.errors = append(s.errors, p)
	}
}

// hasLocalCalls reports whether the step produced calls the engine
// resolves itself, valid or not.
func (s *stepRecord) hasLocalCalls() bool {
	return slices.ContainsFunc(s.calls, func(tc event.ToolCall) bool { return !tc.ProviderExecuted })
}

func (s *stepRecord) result(step int, sum assembler.Summary, req event.RequestInfo, coord *coordinator) StepResult {
	sr := StepResult{
		Step:         step,
		Text:         sum.Text,
		Reasoning:    sum.Reasoning,
		ToolCalls:    slices.Clone(s.calls),
		ToolResults:  slices.Clone(s.results),
		ToolErrors:   slices.Clone(s.errors),
		FinishReason: sum.FinishReason,
		Usage:        sum.Usage,
		Request:      req,
		Response:     sum.Response,
		Warnings:     sum.Warnings,
	}
	for _, tc := range s.calls {
		st, ok := coord.lookup(tc.ToolCallID)
		if !ok {
			continue
		}
		_, final := st.snapshot()
		switch p := final.(type) {
		case event.ToolResult:
			sr.ToolResults = append(sr.ToolResults, p)
		case event.ToolError:
			sr.ToolErrors = append(sr.ToolErrors, p)
		case event.ToolOutputDenied:
			sr.Denied = append(sr.Denied, p)
		}
	}
	return sr
}

// messages converts a finished step into history: the assistant message
// and, when any call was resolved, the tool message answering it.
// Provider-executed calls stay out of the history.
func (s *stepRecord) messages(sr StepResult, coord *coordinator) []ai.Message {
	assistant := ai.Message{
		ID:               ai.GenerateMessageID(),
		Role:             ai.RoleAssistant,
		Content:          sr.Text,
		Reasoning:        sr.Reasoning,
		ApprovalRequests: coord.approvalRequests(),
	}
	var results []ai.ToolResult
	for _, tc := range s.calls {
		if tc.ProviderExecuted {
			continue
		}
		input := tc.Input
		if tc.Invalid {
			input = json.RawMessage(`{}`)
		}
		assistant.ToolCalls = append(assistant.ToolCalls, ai.ToolCall{ID: tc.ToolCallID, Name: tc.ToolName, Input: input})

		if tc.Invalid {
			results = append(results, ai.ToolResult{ToolCallID: tc.ToolCallID, ToolName: tc.ToolName, Content: tc.Error, IsError: true})
			continue
		}
		if st, ok := coord.lookup(tc.ToolCallID); ok {
			if res, ok := st.modelResult(); ok {
				results = append(results, res)
			}
		}
	}

	var msgs []ai.Message
	if assistant.Content != "" || assistant.Reasoning != "" || len(assistant.ToolCalls) > 0 {
		msgs = append(msgs, assistant)
	}
	if len(results) > 0 {
		msgs = append(msgs, ai.NewToolResultMessage(results...))
	}
	return msgs
}

// resumeCall is a call from an earlier run whose approval was answered in
// the last tool message.
type resumeCall struct {
	call       ai.ToolCall
	approvalID string
	approved   bool
	reason     string
}

func collectResume(h *store.History) (calls []resumeCall, unknown []string) {
	last, ok := h.Last()
	if !ok || last.Role != ai.RoleTool {
		return nil, nil
	}
	for _, resp := range last.ApprovalResponses {
		req, ok := h.FindApproval(resp.ApprovalID)
		if !ok {
			unknown = append(unknown, resp.ApprovalID)
			continue
		}
		if h.HasResult(req.ToolCallID) {
			continue
		}
		tc, ok := h.FindToolCall(req.ToolCallID)
		if !ok {
			unknown = append(unknown, resp.ApprovalID)
			continue
		}
		calls = append(calls, resumeCall{call: tc, approvalID: resp.ApprovalID, approved: resp.Approved, reason: resp.Reason})
	}
	return calls, unknown
}
