// Package model defines the capability the engine drives: a language model
// that either returns an aggregated response or streams provider events.
//
// Adapters for concrete providers live under provider/. Cross-cutting
// behavior (default settings, rate limiting, simulated streaming) is added
// with [Middleware] rather than global state.
package model

import (
	"context"
	"time"

	ai "github.com/spetersoncode/braid"
)

// Model is a generative model that can be invoked once per step.
//
// Stream returns a channel of provider events for one invocation. The
// channel is closed when the response ends. Failures after the stream has
// been opened are delivered as an [Error] chunk. Implementations must stop
// sending and close the channel once ctx is cancelled.
type Model interface {
	Provider() string
	ModelID() string
	Generate(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// Request is one model invocation.
type Request struct {
	System     string
	Messages   []ai.Message
	Tools      []ai.ToolDefinition
	ToolChoice ai.ToolChoice
	Options    ai.Options
	// ResponseFormat asks for a JSON answer. Nil means free text.
	ResponseFormat *ai.ResponseFormat
	// IncludeRaw asks the adapter to emit Raw chunks for provider events.
	IncludeRaw bool
}

// Response is an aggregated, non-streaming model response.
type Response struct {
	ID           string
	ModelID      string
	Timestamp    time.Time
	Text         string
	Reasoning    string
	ToolCalls    []ai.ToolCall
	FinishReason ai.FinishReason
	Usage        ai.Usage
	Warnings     []string
	Headers      map[string]string
}

// Send delivers c on ch unless ctx is done first.
func Send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
