// Package store holds the message history of a run.
package store

import (
	"slices"
	"sync"

	ai "github.com/spetersoncode/braid"
)

// History is an append-mostly conversation history. It is safe for
// concurrent use; the step loop is its only writer.
type History struct {
	mu       sync.RWMutex
	messages []ai.Message
	initial  int
}

// NewHistory creates a history seeded with a copy of messages. Messages
// added later are reported by Added.
func NewHistory(messages []ai.Message) *History {
	return &History{messages: slices.Clone(messages), initial: len(messages)}
}

// Messages returns a copy of all messages.
func (h *History) Messages() []ai.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.messages)
}

// Append adds messages.
func (h *History) Append(msgs ...ai.Message) {
	if len(msgs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Added returns the messages appended after creation.
func (h *History) Added() []ai.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.messages[h.initial:])
}

// Last returns the last message.
func (h *History) Last() (ai.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return ai.Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// FindToolCall returns the assistant tool call with the given id, searching
// from the most recent message.
func (h *History) FindToolCall(id string) (ai.ToolCall, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.messages) - 1; i >= 0; i-- {
		for _, tc := range h.messages[i].ToolCalls {
			if tc.ID == id {
				return tc, true
			}
		}
	}
	return ai.ToolCall{}, false
}

// FindApproval returns the approval request with the given id.
func (h *History) FindApproval(approvalID string) (ai.ApprovalRequest, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.messages) - 1; i >= 0; i-- {
		for _, req := range h.messages[i].ApprovalRequests {
			if req.ApprovalID == approvalID {
				return req, true
			}
		}
	}
	return ai.ApprovalRequest{}, false
}

// HasResult reports whether any tool message already answers the call.
func (h *History) HasResult(toolCallID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range h.messages {
		for _, r := range m.ToolResults {
			if r.ToolCallID == toolCallID {
				return true
			}
		}
	}
	return false
}
