package agui

import (
	"encoding/json"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	ai "github.com/spetersoncode/braid"
)

// Role constants matching the AG-UI protocol.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ToMessages converts AG-UI messages to conversation messages.
func ToMessages(msgs []events.Message) []ai.Message {
	result := make([]ai.Message, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, ToMessage(msg))
	}
	return result
}

// ToMessage converts a single AG-UI message.
func ToMessage(msg events.Message) ai.Message {
	m := ai.Message{
		ID:   msg.ID,
		Role: toRole(msg.Role),
	}
	content := ""
	if msg.Content != nil {
		content = *msg.Content
	}

	if msg.ToolCallID != nil {
		m.ToolResults = []ai.ToolResult{{ToolCallID: *msg.ToolCallID, Content: content}}
		return m
	}
	m.Content = content

	for _, tc := range msg.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		m.ToolCalls = append(m.ToolCalls, ai.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return m
}

// FromMessages converts conversation messages to AG-UI messages, for
// example for a MESSAGES_SNAPSHOT event. A tool message carrying several
// results becomes one AG-UI message per result.
func FromMessages(msgs []ai.Message) []events.Message {
	result := make([]events.Message, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, FromMessage(msg)...)
	}
	return result
}

// FromMessage converts a single conversation message.
func FromMessage(msg ai.Message) []events.Message {
	if len(msg.ToolResults) > 0 {
		out := make([]events.Message, 0, len(msg.ToolResults))
		for _, r := range msg.ToolResults {
			out = append(out, events.Message{
				ID:         events.GenerateMessageID(),
				Role:       RoleTool,
				Content:    &r.Content,
				ToolCallID: &r.ToolCallID,
			})
		}
		return out
	}

	m := events.Message{ID: msg.ID, Role: fromRole(msg.Role)}
	if m.ID == "" {
		m.ID = events.GenerateMessageID()
	}
	if text := msg.Text(); text != "" {
		m.Content = &text
	}
	for _, tc := range msg.ToolCalls {
		if tc.ProviderExecuted {
			continue
		}
		m.ToolCalls = append(m.ToolCalls, events.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: events.Function{
				Name:      tc.Name,
				Arguments: string(tc.Input),
			},
		})
	}
	return []events.Message{m}
}

func toRole(role string) ai.Role {
	switch role {
	case RoleAssistant:
		return ai.RoleAssistant
	case RoleSystem:
		return ai.RoleSystem
	case RoleTool:
		return ai.RoleTool
	default:
		return ai.RoleUser
	}
}

func fromRole(role ai.Role) string {
	switch role {
	case ai.RoleAssistant:
		return RoleAssistant
	case ai.RoleSystem:
		return RoleSystem
	case ai.RoleTool:
		return RoleTool
	default:
		return RoleUser
	}
}
