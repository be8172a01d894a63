package model

import (
	"encoding/json"
	"time"

	ai "github.com/spetersoncode/braid"
)

// Chunk is a provider stream event. The set is closed; adapters translate
// vendor events into these types.
type Chunk interface {
	isChunk()
}

// StreamStart opens a stream and carries request warnings.
type StreamStart struct {
	Warnings []string
}

// ResponseMetadata identifies the provider response.
type ResponseMetadata struct {
	ID        string
	ModelID   string
	Timestamp time.Time
	Headers   map[string]string
}

type TextStart struct{ ID string }
type TextDelta struct{ ID, Delta string }
type TextEnd struct{ ID string }

type ReasoningStart struct{ ID string }
type ReasoningDelta struct{ ID, Delta string }
type ReasoningEnd struct{ ID string }

// ToolInputStart opens streamed tool input; ID is the tool call id.
type ToolInputStart struct {
	ID               string
	ToolName         string
	ProviderExecuted bool
}

type ToolInputDelta struct{ ID, Delta string }
type ToolInputEnd struct{ ID string }

// ToolCall is a complete tool call delivered in one event.
type ToolCall struct {
	ID               string
	ToolName         string
	Input            string
	ProviderExecuted bool
}

// ToolResult is the result of a provider-executed tool.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Result     json.RawMessage
	IsError    bool
}

type Source struct {
	ID         string
	SourceType string
	URL        string
	Title      string
	MediaType  string
}

type File struct {
	MediaType string
	Data      []byte
}

// Finish ends the response with usage and the stop reason.
type Finish struct {
	FinishReason ai.FinishReason
	Usage        ai.Usage
}

// Error reports a failure after the stream was opened.
type Error struct {
	Err error
}

// Raw is the untranslated provider event, emitted when Request.IncludeRaw is set.
type Raw struct {
	Value json.RawMessage
}

func (StreamStart) isChunk()      {}
func (ResponseMetadata) isChunk() {}
func (TextStart) isChunk()        {}
func (TextDelta) isChunk()        {}
func (TextEnd) isChunk()          {}
func (ReasoningStart) isChunk()   {}
func (ReasoningDelta) isChunk()   {}
func (ReasoningEnd) isChunk()     {}
func (ToolInputStart) isChunk()   {}
func (ToolInputDelta) isChunk()   {}
func (ToolInputEnd) isChunk()     {}
func (ToolCall) isChunk()         {}
func (ToolResult) isChunk()       {}
func (Source) isChunk()           {}
func (File) isChunk()             {}
func (Finish) isChunk()           {}
func (Error) isChunk()            {}
func (Raw) isChunk()              {}

// ChunksFromResponse expands an aggregated response into the chunk
// sequence a streaming call would have produced.
func ChunksFromResponse(resp *Response) []Chunk {
	chunks := []Chunk{
		StreamStart{Warnings: resp.Warnings},
		ResponseMetadata{ID: resp.ID, ModelID: resp.ModelID, Timestamp: resp.Timestamp, Headers: resp.Headers},
	}
	if resp.Reasoning != "" {
		chunks = append(chunks,
			ReasoningStart{ID: "reasoning-0"},
			ReasoningDelta{ID: "reasoning-0", Delta: resp.Reasoning},
			ReasoningEnd{ID: "reasoning-0"},
		)
	}
	if resp.Text != "" {
		chunks = append(chunks,
			TextStart{ID: "text-0"},
			TextDelta{ID: "text-0", Delta: resp.Text},
			TextEnd{ID: "text-0"},
		)
	}
	for _, tc := range resp.ToolCalls {
		chunks = append(chunks, ToolCall{
			ID:               tc.ID,
			ToolName:         tc.Name,
			Input:            string(tc.Input),
			ProviderExecuted: tc.ProviderExecuted,
		})
	}
	return append(chunks, Finish{FinishReason: resp.FinishReason, Usage: resp.Usage})
}
