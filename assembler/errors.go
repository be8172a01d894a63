package assembler

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is matched by every ProtocolError.
	ErrProtocol = errors.New("assembler: protocol violation")
	// ErrIncompleteInput is the cause of a tool call whose input stream
	// ended without being closed.
	ErrIncompleteInput = errors.New("tool input stream ended before completion")
)

// Protocol violation kinds.
const (
	KindUnopenedID     = "unopened id"
	KindDuplicateStart = "duplicate start"
)

// ProtocolError reports a malformed provider event sequence. It is fatal to
// the run.
type ProtocolError struct {
	Kind  string
	Chunk string
	ID    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("assembler: %s: %s %q", e.Kind, e.Chunk, e.ID)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// StreamError carries a failure the model reported inside its stream.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return "model stream: " + e.Err.Error() }

func (e *StreamError) Unwrap() error { return e.Err }
