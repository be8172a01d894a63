package braid

import "github.com/google/uuid"

// Role represents the role of a message sender in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPartType represents the type of content in a multimodal message part.
type ContentPartType string

const (
	ContentPartTypeText  ContentPartType = "text"
	ContentPartTypeImage ContentPartType = "image"
	ContentPartTypeFile  ContentPartType = "file"
)

// ContentPart represents a single part of multimodal content.
type ContentPart struct {
	// Type indicates the content type.
	Type ContentPartType `json:"type"`
	// Text contains the text content. Only used when Type is "text".
	Text string `json:"text,omitempty"`
	// URL points at remote image or file data. Mutually exclusive with Data.
	URL string `json:"url,omitempty"`
	// Data contains base64-encoded inline data.
	Data string `json:"data,omitempty"`
	// MediaType is the IANA media type of URL or Data (e.g. "image/png").
	MediaType string `json:"mediaType,omitempty"`
}

// NewTextPart creates a text content part.
func NewTextPart(text string) ContentPart {
	return ContentPart{Type: ContentPartTypeText, Text: text}
}

// NewImageURLPart creates an image content part from a URL.
func NewImageURLPart(url string) ContentPart {
	return ContentPart{Type: ContentPartTypeImage, URL: url}
}

// NewImageBase64Part creates an image content part from base64 data.
func NewImageBase64Part(base64Data, mediaType string) ContentPart {
	return ContentPart{Type: ContentPartTypeImage, Data: base64Data, MediaType: mediaType}
}

// Message represents a single message in a conversation.
type Message struct {
	// ID is an optional unique identifier for the message.
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// Parts contains multimodal content parts (text, images, files).
	// If populated, Content is ignored for providers that support multimodal.
	Parts []ContentPart `json:"parts,omitempty"`
	// Reasoning holds the model's reasoning text for an assistant message.
	Reasoning string `json:"reasoning,omitempty"`
	// ToolCalls contains tool invocation requests from an assistant message.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ApprovalRequests lists tool calls of an assistant message that are
	// waiting for a human decision.
	ApprovalRequests []ApprovalRequest `json:"approvalRequests,omitempty"`
	// ToolResults contains results from tool executions.
	// Only populated when Role is RoleTool.
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	// ApprovalResponses answers earlier approval requests.
	// Only populated when Role is RoleTool.
	ApprovalResponses []ApprovalResponse `json:"approvalResponses,omitempty"`
}

// GenerateID creates a unique identifier with the given prefix.
func GenerateID(prefix string) string {
	if prefix == "" {
		return uuid.New().String()
	}
	return prefix + "-" + uuid.New().String()
}

// GenerateMessageID creates a unique message identifier.
func GenerateMessageID() string {
	return GenerateID("msg")
}

// HasParts returns true if the message has multimodal content parts.
func (m Message) HasParts() bool {
	return len(m.Parts) > 0
}

// Text returns the message text, joining text parts when Parts is populated.
func (m Message) Text() string {
	if !m.HasParts() {
		return m.Content
	}
	var text string
	for _, p := range m.Parts {
		if p.Type == ContentPartTypeText {
			text += p.Text
		}
	}
	return text
}

// NewUserMessage creates a user message with text content.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewToolResultMessage creates a message containing tool results.
// This is a convenience function for returning client tool results to the model.
func NewToolResultMessage(results ...ToolResult) Message {
	return Message{
		Role:        RoleTool,
		ToolResults: results,
	}
}

// NewApprovalResponseMessage creates a tool message answering approval requests
// from a previous run. Passing it in the next run's messages resumes the
// pending calls.
func NewApprovalResponseMessage(responses ...ApprovalResponse) Message {
	return Message{
		Role:              RoleTool,
		ApprovalResponses: responses,
	}
}
