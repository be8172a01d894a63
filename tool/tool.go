package tool

import (
	"context"
	"encoding/json"
	"fmt"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/event"
)

// ExecuteFunc runs a tool call. The returned value is marshaled to JSON as
// the tool output, unless it is a [Stream].
type ExecuteFunc func(ctx context.Context, call Call) (any, error)

// ApprovalFunc decides whether a call must be approved by a human before it
// executes.
type ApprovalFunc func(ctx context.Context, call Call) (bool, error)

// Stream is an incremental tool output. Every value is surfaced as a
// preliminary result and the last one also becomes the final result. An
// error value fails the call.
type Stream <-chan any

// EmitFunc forwards a part from a running tool into the run's stream.
type EmitFunc func(ctx context.Context, e event.Event) error

// Tool is a capability the model can call.
type Tool struct {
	Name        string
	Description string
	// InputSchema is the JSON Schema the call input must satisfy.
	InputSchema json.RawMessage
	// OutputSchema, when set, is checked against the tool output.
	OutputSchema json.RawMessage
	// Execute runs the tool. A nil Execute makes this a client tool.
	Execute ExecuteFunc
	// NeedsApproval gates execution behind a human decision.
	NeedsApproval ApprovalFunc
	// ToModelOutput shapes the output sent back to the model. Parts
	// surfaced to the consumer always carry the unshaped output.
	ToModelOutput func(output json.RawMessage) (string, error)
	// ProviderExecuted marks tools run inside the provider.
	ProviderExecuted bool
}

// Definition returns the description sent to the model.
func (t *Tool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:             t.Name,
		Description:      t.Description,
		InputSchema:      t.InputSchema,
		ProviderExecuted: t.ProviderExecuted,
	}
}

// IsClient reports whether calls are resolved by the caller.
func (t *Tool) IsClient() bool {
	return t.Execute == nil && !t.ProviderExecuted
}

// ModelOutput converts a tool output into the content of the tool result
// message. JSON strings are unquoted; other values are passed as JSON text.
func (t *Tool) ModelOutput(output json.RawMessage) (string, error) {
	if t != nil && t.ToModelOutput != nil {
		return t.ToModelOutput(output)
	}
	return DefaultModelOutput(output), nil
}

// DefaultModelOutput renders output as text for the model.
func DefaultModelOutput(output json.RawMessage) string {
	var s string
	if err := json.Unmarshal(output, &s); err == nil {
		return s
	}
	return string(output)
}

// Client creates a tool that is executed by the caller.
func Client(name, description string, inputSchema json.RawMessage) Tool {
	return Tool{Name: name, Description: description, InputSchema: inputSchema}
}

// Provider creates a tool that the model provider executes itself.
func Provider(name, description string) Tool {
	return Tool{Name: name, Description: description, ProviderExecuted: true}
}

// Call is one invocation of a tool.
type Call struct {
	ID    string
	Name  string
	Input json.RawMessage
	// Messages is the conversation that led to the call.
	Messages []ai.Message

	emit EmitFunc
}

// NewCall creates a call. emit may be nil.
func NewCall(id, name string, input json.RawMessage, messages []ai.Message, emit EmitFunc) Call {
	return Call{ID: id, Name: name, Input: input, Messages: messages, emit: emit}
}

// Bind decodes the call input into v.
func (c Call) Bind(v any) error {
	input := c.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("tool %s: decode input: %w", c.Name, err)
	}
	return nil
}

// Emit pushes a part into the run's stream while the tool is running.
func (c Call) Emit(ctx context.Context, e event.Event) error {
	if c.emit == nil {
		return nil
	}
	return c.emit(ctx, e)
}

// Data emits an application data part attributed to this call.
func (c Call) Data(ctx context.Context, name string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tool %s: marshal data: %w", c.Name, err)
	}
	return c.Emit(ctx, event.Data{Name: name, ToolCallID: c.ID, Value: value})
}

// Always requires approval for every call.
func Always() ApprovalFunc {
	return func(context.Context, Call) (bool, error) { return true, nil }
}

// Never requires no approval.
func Never() ApprovalFunc {
	return func(context.Context, Call) (bool, error) { return false, nil }
}

// When requires approval for calls matching pred.
func When(pred func(Call) bool) ApprovalFunc {
	return func(_ context.Context, c Call) (bool, error) { return pred(c), nil }
}
