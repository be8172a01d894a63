// Package event defines the canonical stream parts emitted during a run.
//
// Every provider stream, tool execution and step boundary is expressed as a
// value implementing [Event]. The set of part types is closed: each concrete
// type embeds no behavior beyond its payload and a [Type] tag, so consumers
// switch on the concrete type.
//
// Text, reasoning and tool-input parts follow a start, delta, end lifecycle
// keyed by id. A run ends with exactly one [Finish] or [Error] part.
package event

import (
	"encoding/json"
	"time"

	ai "github.com/spetersoncode/braid"
)

// Type identifies the kind of part.
type Type string

// Run and step boundaries
const (
	TypeStart      Type = "start"
	TypeStartStep  Type = "start-step"
	TypeFinishStep Type = "finish-step"
	TypeFinish     Type = "finish"
	TypeError      Type = "error"
)

// Text and reasoning lifecycles
const (
	TypeTextStart      Type = "text-start"
	TypeTextDelta      Type = "text-delta"
	TypeTextEnd        Type = "text-end"
	TypeReasoningStart Type = "reasoning-start"
	TypeReasoningDelta Type = "reasoning-delta"
	TypeReasoningEnd   Type = "reasoning-end"
)

// Tool lifecycle
const (
	TypeToolInputStart       Type = "tool-input-start"
	TypeToolInputDelta       Type = "tool-input-delta"
	TypeToolInputEnd         Type = "tool-input-end"
	TypeToolCall             Type = "tool-call"
	TypeToolResult           Type = "tool-result"
	TypeToolError            Type = "tool-error"
	TypeToolApprovalRequest  Type = "tool-approval-request"
	TypeToolApprovalResponse Type = "tool-approval-response"
	TypeToolOutputDenied     Type = "tool-output-denied"
)

// Opaque payloads
const (
	TypeSource Type = "source"
	TypeFile   Type = "file"
	TypeData   Type = "data"
	TypeRaw    Type = "raw"
)

// Event is a canonical stream part. The interface is sealed: only types in
// this package implement it.
type Event interface {
	Type() Type
	isEvent()
}

// Termination records why a run ended.
type Termination string

const (
	// TerminationComplete means the model stopped asking for tools.
	TerminationComplete Termination = "complete"
	// TerminationMaxSteps means the step bound was reached.
	TerminationMaxSteps Termination = "max_steps"
	// TerminationStopCondition means a caller stop condition matched.
	TerminationStopCondition Termination = "stop_condition"
	// TerminationClientToolCall means the run paused for client-side tools.
	TerminationClientToolCall Termination = "client_tool_call"
	// TerminationApprovalPending means tool calls await a human decision.
	TerminationApprovalPending Termination = "approval_pending"
	// TerminationCancelled means the caller cancelled the run.
	TerminationCancelled Termination = "cancelled"
	// TerminationTimeout means the run deadline expired.
	TerminationTimeout Termination = "timeout"
)

// Start opens a run.
type Start struct {
	RunID     string    `json:"runId"`
	MessageID string    `json:"messageId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StartStep opens one model invocation.
type StartStep struct {
	Step    int         `json:"step"`
	Request RequestInfo `json:"request"`
}

// RequestInfo describes the request sent for a step.
type RequestInfo struct {
	Model       string         `json:"model,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	ActiveTools []string       `json:"activeTools,omitempty"`
	ToolChoice  ai.ToolChoice  `json:"toolChoice,omitempty"`
	Messages    int            `json:"messages"`
	Body        map[string]any `json:"body,omitempty"`
}

// ResponseInfo describes the provider response of a step.
type ResponseInfo struct {
	ID        string            `json:"id,omitempty"`
	ModelID   string            `json:"modelId,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitzero"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// FinishStep closes one model invocation.
type FinishStep struct {
	Step         int             `json:"step"`
	FinishReason ai.FinishReason `json:"finishReason"`
	Usage        ai.Usage        `json:"usage"`
	Request      RequestInfo     `json:"request"`
	Response     ResponseInfo    `json:"response"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// StepSummary is the per-step record carried by Finish.
type StepSummary struct {
	Step         int             `json:"step"`
	FinishReason ai.FinishReason `json:"finishReason"`
	Usage        ai.Usage        `json:"usage"`
	ToolCalls    int             `json:"toolCalls"`
}

// Finish terminates a run normally. FinishReason is the last step's
// reason, or cancelled when Termination is cancelled or timeout.
type Finish struct {
	FinishReason ai.FinishReason `json:"finishReason"`
	Termination  Termination     `json:"termination"`
	TotalUsage   ai.Usage        `json:"totalUsage"`
	Steps        []StepSummary   `json:"steps,omitempty"`
}

// Error terminates a run with a fatal error.
type Error struct {
	Err     error  `json:"-"`
	Message string `json:"error"`
}

// NewError wraps err as a terminal error part.
func NewError(err error) Error {
	return Error{Err: err, Message: err.Error()}
}

// Unwrap returns the underlying error when the part was produced locally.
func (e Error) Unwrap() error { return e.Err }

type TextStart struct {
	ID string `json:"id"`
}

type TextDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

type TextEnd struct {
	ID string `json:"id"`
}

type ReasoningStart struct {
	ID string `json:"id"`
}

type ReasoningDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

type ReasoningEnd struct {
	ID string `json:"id"`
}

// ToolInputStart opens the streamed input of a tool call. ID is the tool call id.
type ToolInputStart struct {
	ID               string `json:"id"`
	ToolName         string `json:"toolName"`
	ProviderExecuted bool   `json:"providerExecuted,omitempty"`
}

type ToolInputDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

type ToolInputEnd struct {
	ID string `json:"id"`
}

// ToolCall is a complete tool invocation. When Invalid is set the input
// could not be parsed or validated, Input holds the raw text and a ToolError
// for the same call follows.
type ToolCall struct {
	ToolCallID       string          `json:"toolCallId"`
	ToolName         string          `json:"toolName"`
	Input            json.RawMessage `json:"input"`
	ProviderExecuted bool            `json:"providerExecuted,omitempty"`
	Invalid          bool            `json:"invalid,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// ToolResult carries a tool output. Preliminary results are partial outputs
// of streaming tools; at most one non-preliminary result exists per call.
type ToolResult struct {
	ToolCallID       string          `json:"toolCallId"`
	ToolName         string          `json:"toolName"`
	Input            json.RawMessage `json:"input,omitempty"`
	Output           json.RawMessage `json:"output"`
	ProviderExecuted bool            `json:"providerExecuted,omitempty"`
	Preliminary      bool            `json:"preliminary,omitempty"`
}

// ToolError is the terminal failure of a tool call.
type ToolError struct {
	ToolCallID       string          `json:"toolCallId"`
	ToolName         string          `json:"toolName"`
	Input            json.RawMessage `json:"input,omitempty"`
	Error            string          `json:"error"`
	ProviderExecuted bool            `json:"providerExecuted,omitempty"`
}

type ToolApprovalRequest struct {
	ApprovalID string `json:"approvalId"`
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

type ToolApprovalResponse struct {
	ApprovalID string `json:"approvalId"`
	ToolCallID string `json:"toolCallId"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

// ToolOutputDenied is the terminal state of a call whose approval was denied.
type ToolOutputDenied struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Reason     string `json:"reason,omitempty"`
}

// Source references a document or URL the model cited.
type Source struct {
	ID         string `json:"id"`
	SourceType string `json:"sourceType"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	MediaType  string `json:"mediaType,omitempty"`
}

// File is a generated file.
type File struct {
	MediaType string `json:"mediaType"`
	Data      []byte `json:"data"`
}

// Data is an application-defined payload. Name distinguishes kinds of data;
// ToolCallID is set when a tool produced it.
type Data struct {
	Name       string          `json:"name"`
	ID         string          `json:"id,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Value      json.RawMessage `json:"value"`
}

// Raw is an uninterpreted provider event.
type Raw struct {
	Value json.RawMessage `json:"value"`
}

func (Start) Type() Type                { return TypeStart }
func (StartStep) Type() Type            { return TypeStartStep }
func (FinishStep) Type() Type           { return TypeFinishStep }
func (Finish) Type() Type               { return TypeFinish }
func (Error) Type() Type                { return TypeError }
func (TextStart) Type() Type            { return TypeTextStart }
func (TextDelta) Type() Type            { return TypeTextDelta }
func (TextEnd) Type() Type              { return TypeTextEnd }
func (ReasoningStart) Type() Type       { return TypeReasoningStart }
func (ReasoningDelta) Type() Type       { return TypeReasoningDelta }
func (ReasoningEnd) Type() Type         { return TypeReasoningEnd }
func (ToolInputStart) Type() Type       { return TypeToolInputStart }
func (ToolInputDelta) Type() Type       { return TypeToolInputDelta }
func (ToolInputEnd) Type() Type         { return TypeToolInputEnd }
func (ToolCall) Type() Type             { return TypeToolCall }
func (ToolResult) Type() Type           { return TypeToolResult }
func (ToolError) Type() Type            { return TypeToolError }
func (ToolApprovalRequest) Type() Type  { return TypeToolApprovalRequest }
func (ToolApprovalResponse) Type() Type { return TypeToolApprovalResponse }
func (ToolOutputDenied) Type() Type     { return TypeToolOutputDenied }
func (Source) Type() Type               { return TypeSource }
func (File) Type() Type                 { return TypeFile }
func (Data) Type() Type                 { return TypeData }
func (Raw) Type() Type                  { return TypeRaw }

func (Start) isEvent()                {}
func (StartStep) isEvent()            {}
func (FinishStep) isEvent()           {}
func (Finish) isEvent()               {}
func (Error) isEvent()                {}
func (TextStart) isEvent()            {}
func (TextDelta) isEvent()            {}
func (TextEnd) isEvent()              {}
func (ReasoningStart) isEvent()       {}
func (ReasoningDelta) isEvent()       {}
func (ReasoningEnd) isEvent()         {}
func (ToolInputStart) isEvent()       {}
func (ToolInputDelta) isEvent()       {}
func (ToolInputEnd) isEvent()         {}
func (ToolCall) isEvent()             {}
func (ToolResult) isEvent()           {}
func (ToolError) isEvent()            {}
func (ToolApprovalRequest) isEvent()  {}
func (ToolApprovalResponse) isEvent() {}
func (ToolOutputDenied) isEvent()     {}
func (Source) isEvent()               {}
func (File) isEvent()                 {}
func (Data) isEvent()                 {}
func (Raw) isEvent()                  {}

// IsTerminal reports whether e ends a run.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Finish, Error:
		return true
	}
	return false
}

// ToolCallID returns the tool call id a part refers to, if any.
func ToolCallID(e Event) (string, bool) {
	switch v := e.(type) {
	case ToolInputStart:
		return v.ID, true
	case ToolInputDelta:
		return v.ID, true
	case ToolInputEnd:
		return v.ID, true
	case ToolCall:
		return v.ToolCallID, true
	case ToolResult:
		return v.ToolCallID, true
	case ToolError:
		return v.ToolCallID, true
	case ToolApprovalRequest:
		return v.ToolCallID, true
	case ToolApprovalResponse:
		return v.ToolCallID, true
	case ToolOutputDenied:
		return v.ToolCallID, true
	}
	return "", false
}
