package event

import (
	"errors"
	"fmt"
)

// ErrInvalidSequence is wrapped by every ViolationError.
var ErrInvalidSequence = errors.New("invalid part sequence")

// ViolationError describes a part that breaks the stream invariants.
type ViolationError struct {
	Part   Type
	ID     string
	Reason string
}

func (e *ViolationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Part, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Part, e.ID, e.Reason)
}

func (e *ViolationError) Unwrap() error { return ErrInvalidSequence }

type callState struct {
	terminal bool
	gated    bool
}

// Validator checks a part sequence incrementally. The zero value is not
// usable; create one with NewValidator. A Validator is not safe for
// concurrent use.
type Validator struct {
	seen       int
	started    bool
	terminated bool
	stepOpen   bool

	text      map[string]bool
	reasoning map[string]bool
	toolInput map[string]bool

	calls     map[string]*callState
	approvals map[string]string
	responded map[string]bool
}

// NewValidator creates a validator for one run.
func NewValidator() *Validator {
	return &Validator{
		text:      make(map[string]bool),
		reasoning: make(map[string]bool),
		toolInput: make(map[string]bool),
		calls:     make(map[string]*callState),
		approvals: make(map[string]string),
		responded: make(map[string]bool),
	}
}

// Expect registers tool call ids that were emitted by an earlier run, so
// results for them are accepted without a preceding tool-call part.
func (v *Validator) Expect(toolCallIDs ...string) {
	for _, id := range toolCallIDs {
		if _, ok := v.calls[id]; !ok {
			v.calls[id] = &callState{}
		}
	}
}

// Check validates the next part and updates the state. After a violation
// the validator state is unspecified.
func (v *Validator) Check(e Event) error {
	if v.terminated {
		return v.violation(e, "", "part after terminal part")
	}
	v.seen++

	switch p := e.(type) {
	case Start:
		if v.started || v.seen > 1 {
			return v.violation(e, p.RunID, "start must be the first part")
		}
		v.started = true

	case StartStep:
		if v.stepOpen {
			return v.violation(e, "", "step already open")
		}
		v.stepOpen = true
	case FinishStep:
		if !v.stepOpen {
			return v.violation(e, "", "no open step")
		}
		v.stepOpen = false

	case TextStart:
		return open(v, e, v.text, p.ID)
	case TextDelta:
		return requireOpen(v, e, v.text, p.ID)
	case TextEnd:
		return closeID(v, e, v.text, p.ID)
	case ReasoningStart:
		return open(v, e, v.reasoning, p.ID)
	case ReasoningDelta:
		return requireOpen(v, e, v.reasoning, p.ID)
	case ReasoningEnd:
		return closeID(v, e, v.reasoning, p.ID)
	case ToolInputStart:
		return open(v, e, v.toolInput, p.ID)
	case ToolInputDelta:
		return requireOpen(v, e, v.toolInput, p.ID)
	case ToolInputEnd:
		return closeID(v, e, v.toolInput, p.ID)

	case ToolCall:
		if _, ok := v.calls[p.ToolCallID]; ok {
			return v.violation(e, p.ToolCallID, "duplicate tool call")
		}
		v.calls[p.ToolCallID] = &callState{}

	case ToolResult:
		return v.settle(e, p.ToolCallID, !p.Preliminary)
	case ToolError:
		return v.settle(e, p.ToolCallID, true)
	case ToolOutputDenied:
		return v.settle(e, p.ToolCallID, true)

	case ToolApprovalRequest:
		if err := v.settle(e, p.ToolCallID, false); err != nil {
			return err
		}
		if _, ok := v.approvals[p.ApprovalID]; ok {
			return v.violation(e, p.ApprovalID, "duplicate approval id")
		}
		v.approvals[p.ApprovalID] = p.ToolCallID
		v.calls[p.ToolCallID].gated = true
	case ToolApprovalResponse:
		callID, ok := v.approvals[p.ApprovalID]
		if !ok {
			// A decision on an approval requested by an earlier run follows
			// its replayed tool call.
			c, known := v.calls[p.ToolCallID]
			if p.ToolCallID == "" || !known || c.terminal || c.gated {
				return v.violation(e, p.ApprovalID, "unknown approval id")
			}
			c.gated = true
			callID = p.ToolCallID
			v.approvals[p.ApprovalID] = callID
		}
		if v.responded[p.ApprovalID] {
			return v.violation(e, p.ApprovalID, "approval already answered")
		}
		if p.ToolCallID != "" && p.ToolCallID != callID {
			return v.violation(e, p.ApprovalID, "approval answered for a different tool call")
		}
		v.responded[p.ApprovalID] = true

	case Finish:
		if v.stepOpen {
			return v.violation(e, "", "finish inside an open step")
		}
		v.terminated = true
	case Error:
		v.terminated = true
	}
	return nil
}

// Terminated reports whether a finish or error part was checked.
func (v *Validator) Terminated() bool { return v.terminated }

// Pending returns the tool call ids that have no terminal part yet.
func (v *Validator) Pending() []string {
	var ids []string
	for id, c := range v.calls {
		if !c.terminal {
			ids = append(ids, id)
		}
	}
	return ids
}

func (v *Validator) settle(e Event, callID string, terminal bool) error {
	c, ok := v.calls[callID]
	if !ok {
		return v.violation(e, callID, "unknown tool call")
	}
	if c.terminal {
		return v.violation(e, callID, "tool call already settled")
	}
	if terminal {
		c.terminal = true
	}
	return nil
}

func (v *Validator) violation(e Event, id, reason string) error {
	return &ViolationError{Part: e.Type(), ID: id, Reason: reason}
}

func open(v *Validator, e Event, set map[string]bool, id string) error {
	if set[id] {
		return v.violation(e, id, "id already open")
	}
	set[id] = true
	return nil
}

func requireOpen(v *Validator, e Event, set map[string]bool, id string) error {
	if !set[id] {
		return v.violation(e, id, "id not open")
	}
	return nil
}

func closeID(v *Validator, e Event, set map[string]bool, id string) error {
	if !set[id] {
		return v.violation(e, id, "id not open")
	}
	delete(set, id)
	return nil
}

// ValidateAll checks a complete sequence and requires it to end with exactly
// one terminal part.
func ValidateAll(events []Event) error {
	v := NewValidator()
	for i, e := range events {
		if err := v.Check(e); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	if !v.Terminated() {
		return &ViolationError{Part: TypeFinish, Reason: "missing terminal part"}
	}
	return nil
}
