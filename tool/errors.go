package tool

import (
	"errors"
	"fmt"
	"strings"
)

// ErrToolNotFound is matched by every NoSuchToolError.
var ErrToolNotFound = errors.New("tool: not found")

// NoSuchToolError is returned when a call names a tool that is not active.
type NoSuchToolError struct {
	Name      string
	Available []string
}

func (e *NoSuchToolError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("tool: not found: %s (no tools available)", e.Name)
	}
	return fmt.Sprintf("tool: not found: %s (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *NoSuchToolError) Unwrap() error { return ErrToolNotFound }

// InvalidInputError is returned when call input is not valid JSON or does
// not satisfy the tool's input schema.
type InvalidInputError struct {
	Name  string
	Input string
	Err   error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("tool: invalid input for %s: %v", e.Name, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// InvalidOutputError is returned when a tool output does not satisfy the
// tool's output schema.
type InvalidOutputError struct {
	Name string
	Err  error
}

func (e *InvalidOutputError) Error() string {
	return fmt.Sprintf("tool: invalid output from %s: %v", e.Name, e.Err)
}

func (e *InvalidOutputError) Unwrap() error { return e.Err }

// ErrToolAlreadyRegistered is returned when registering a tool with a duplicate name.
type ErrToolAlreadyRegistered struct {
	Name string
}

func (e *ErrToolAlreadyRegistered) Error() string {
	return fmt.Sprintf("tool: already registered: %s", e.Name)
}

// ErrInvalidTool is returned when registering a tool without a name.
var ErrInvalidTool = errors.New("tool: name is required")
