package braid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleConstants(t *testing.T) {
	assert.Equal(t, Role("user"), RoleUser)
	assert.Equal(t, Role("assistant"), RoleAssistant)
	assert.Equal(t, Role("system"), RoleSystem)
	assert.Equal(t, Role("tool"), RoleTool)
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected string
	}{
		{"plain content", NewUserMessage("hello"), "hello"},
		{
			name: "joins text parts",
			msg: Message{Role: RoleUser, Content: "ignored", Parts: []ContentPart{
				NewTextPart("a"), NewImageURLPart("https://example.com/x.png"), NewTextPart("b"),
			}},
			expected: "ab",
		},
		{"empty", Message{Role: RoleUser}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.msg.Text())
		})
	}
}

func TestGenerateID(t *testing.T) {
	id := GenerateID("call")
	assert.True(t, strings.HasPrefix(id, "call-"))
	assert.NotEqual(t, id, GenerateID("call"))
	assert.True(t, strings.HasPrefix(GenerateMessageID(), "msg-"))
	assert.Len(t, GenerateID(""), 36)
}

func TestNewApprovalResponseMessage(t *testing.T) {
	msg := NewApprovalResponseMessage(
		ApprovalResponse{ApprovalID: "a1", Approved: true},
		ApprovalResponse{ApprovalID: "a2", Approved: false, Reason: "no"},
	)
	assert.Equal(t, RoleTool, msg.Role)
	assert.Len(t, msg.ApprovalResponses, 2)
	assert.Empty(t, msg.ToolResults)
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 5}
	b := Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 6, ReasoningTokens: 1}

	sum := a.Add(b)
	assert.Equal(t, 13, sum.InputTokens)
	assert.Equal(t, 7, sum.OutputTokens)
	assert.Equal(t, 21, sum.TotalTokens)
	assert.Equal(t, 1, sum.ReasoningTokens)

	assert.Equal(t, a.Add(Usage{}).TotalTokens, 15)
}
