package braid

import (
	"encoding/json"
	"strings"
)

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	// Name is the unique identifier for the tool.
	Name string `json:"name"`
	// Description explains what the tool does (helps the model decide when to use it).
	Description string `json:"description,omitempty"`
	// InputSchema is a JSON Schema object defining the tool input.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	// ProviderExecuted marks tools that run inside the provider's infrastructure.
	ProviderExecuted bool `json:"providerExecuted,omitempty"`
}

// ToolCall represents a request from the model to invoke a tool.
type ToolCall struct {
	// ID is a unique identifier for this tool call (used to match results).
	ID string `json:"id"`
	// Name is the name of the tool to invoke.
	Name string `json:"name"`
	// Input is the JSON input to pass to the tool.
	Input json.RawMessage `json:"input"`
	// ProviderExecuted is true when the provider ran the tool itself.
	ProviderExecuted bool `json:"providerExecuted,omitempty"`
}

// ToolResult represents the result of executing a tool call, in the form
// that is sent back to the model.
type ToolResult struct {
	// ToolCallID matches the ID from the corresponding ToolCall.
	ToolCallID string `json:"toolCallId"`
	// ToolName is the name of the tool that produced the result.
	ToolName string `json:"toolName,omitempty"`
	// Content is the result content to return to the model.
	Content string `json:"content"`
	// IsError indicates if the result represents an error.
	IsError bool `json:"isError,omitempty"`
	// Denied is true when a human rejected the call.
	Denied bool `json:"denied,omitempty"`
}

// ApprovalRequest records that a tool call needs a human decision.
type ApprovalRequest struct {
	ApprovalID string `json:"approvalId"`
	ToolCallID string `json:"toolCallId"`
}

// ApprovalResponse is a human decision on an ApprovalRequest.
type ApprovalResponse struct {
	ApprovalID string `json:"approvalId"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

// ToolChoice controls how the model uses tools.
// Besides the constants, a specific tool can be forced with ToolChoiceTool.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide when to use tools (default).
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone disables tool use for the request.
	ToolChoiceNone ToolChoice = "none"
	// ToolChoiceRequired forces the model to use a tool.
	ToolChoiceRequired ToolChoice = "required"
)

const toolChoicePrefix = "tool:"

// ToolChoiceTool forces the model to call the named tool.
func ToolChoiceTool(name string) ToolChoice {
	return ToolChoice(toolChoicePrefix + name)
}

// ToolName returns the forced tool name, if any.
func (c ToolChoice) ToolName() (string, bool) {
	if name, ok := strings.CutPrefix(string(c), toolChoicePrefix); ok && name != "" {
		return name, true
	}
	return "", false
}
