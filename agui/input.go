package agui

import (
	"encoding/json"
	"errors"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/tool"
)

// RunAgentInput is the AG-UI request for running an agent.
type RunAgentInput struct {
	ThreadID       string           `json:"thread_id"`
	RunID          string           `json:"run_id"`
	Messages       []events.Message `json:"messages"`
	Tools          []any            `json:"tools,omitempty"`
	Context        []any            `json:"context,omitempty"`
	State          any              `json:"state,omitempty"`
	ForwardedProps any              `json:"forwarded_props,omitempty"`
}

// PreparedInput is validated input ready for a run.
type PreparedInput struct {
	ThreadID string
	RunID    string
	Messages []ai.Message
	// Tools are the frontend tools, to be registered as client tools.
	Tools     []Tool
	ToolNames []string
	// Approvals answer approval requests of the previous run. They are
	// already appended to Messages as a tool message.
	Approvals []ApprovalInput
	State     any
}

// ErrNoMessages is returned when the input contains no messages.
var ErrNoMessages = errors.New("no messages provided")

type forwardedProps struct {
	Approvals []ApprovalInput `json:"approvals"`
}

// Prepare validates the input and converts it. Approval decisions can be
// forwarded as {"approvals": [...]} in forwarded_props.
func (r *RunAgentInput) Prepare() (*PreparedInput, error) {
	messages := ToMessages(r.Messages)
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}

	result := &PreparedInput{
		ThreadID: r.ThreadID,
		RunID:    r.RunID,
		Messages: messages,
		State:    r.State,
	}

	if len(r.Tools) > 0 {
		tools, err := ParseTools(r.Tools)
		if err != nil {
			return nil, err
		}
		result.Tools = tools
		result.ToolNames = ToolNames(tools)
	}

	if r.ForwardedProps != nil {
		props, err := decode[forwardedProps](r.ForwardedProps)
		if err != nil {
			return nil, err
		}
		if len(props.Approvals) > 0 {
			result.Approvals = props.Approvals
			result.Messages = append(result.Messages, ApprovalMessage(props.Approvals...))
		}
	}
	return result, nil
}

// ClientTools converts the frontend tools to client tools.
func (p *PreparedInput) ClientTools() []tool.Tool {
	return ClientTools(p.Tools)
}

// RegisterTools adds the frontend tools to reg and returns a function that
// removes them again.
func (p *PreparedInput) RegisterTools(reg *tool.Registry) (func(), error) {
	var added []string
	cleanup := func() {
		for _, name := range added {
			reg.Unregister(name)
		}
	}
	for _, t := range p.ClientTools() {
		if err := reg.Register(t); err != nil {
			cleanup()
			return func() {}, err
		}
		added = append(added, t.Name)
	}
	return cleanup, nil
}

// DecodeState decodes the raw frontend state into T. A nil state decodes
// to the zero value.
func DecodeState[T any](input *PreparedInput) (T, error) {
	if input.State == nil {
		var zero T
		return zero, nil
	}
	return decode[T](input.State)
}

func decode[T any](v any) (T, error) {
	var result T
	data, err := json.Marshal(v)
	if err != nil {
		return result, err
	}
	err = json.Unmarshal(data, &result)
	return result, err
}
