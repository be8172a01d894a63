package agui

import (
	"encoding/json"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/agent"
)

// ApprovalInput is an approval decision sent by an AG-UI frontend in answer
// to a braid.tool_approval_request custom event.
type ApprovalInput struct {
	ApprovalID string `json:"approvalId"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

// ParseApprovalInput parses an approval decision from JSON.
func ParseApprovalInput(data []byte) (*ApprovalInput, error) {
	var input ApprovalInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return &input, nil
}

// Decision converts the input for an ApprovalBroker.
func (a *ApprovalInput) Decision() agent.Decision {
	return agent.Decision{Approved: a.Approved, Reason: a.Reason}
}

// Response converts the input to an approval response for resuming a
// paused run.
func (a *ApprovalInput) Response() ai.ApprovalResponse {
	return ai.ApprovalResponse{ApprovalID: a.ApprovalID, Approved: a.Approved, Reason: a.Reason}
}

// HandleApproval routes a decision to a run waiting on broker.
func HandleApproval(broker *agent.ApprovalBroker, input *ApprovalInput) error {
	return broker.Decide(input.ApprovalID, input.Decision())
}

// HandleApprovalJSON is HandleApproval for a JSON-encoded input.
func HandleApprovalJSON(broker *agent.ApprovalBroker, data []byte) error {
	input, err := ParseApprovalInput(data)
	if err != nil {
		return err
	}
	return HandleApproval(broker, input)
}

// ApprovalMessage builds the tool message that resumes a run which ended
// with approval_pending.
func ApprovalMessage(inputs ...ApprovalInput) ai.Message {
	responses := make([]ai.ApprovalResponse, len(inputs))
	for i := range inputs {
		responses[i] = inputs[i].Response()
	}
	return ai.NewApprovalResponseMessage(responses...)
}
