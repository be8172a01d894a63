package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	ai "github.com/spetersoncode/braid"
)

// Registry manages the tools available to a run.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*Tool
	validator *Validator
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]*Tool),
		validator: NewValidator(),
	}
}

// Register adds a tool. Returns an error if a tool with the same name is
// already registered.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return ErrInvalidTool
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return &ErrToolAlreadyRegistered{Name: t.Name}
	}
	r.tools[t.Name] = &t
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Add registers tools and returns the registry for chaining.
// Panics if any tool fails to register.
//
// Example:
//
//	registry := tool.NewRegistry().Add(
//	    tool.Func("weather", "Get weather", getWeather),
//	    tool.Client("confirm", "Ask the user to confirm", confirmSchema),
//	)
func (r *Registry) Add(tools ...Tool) *Registry {
	for _, t := range tools {
		r.MustRegister(t)
	}
	return r
}

// Clone returns a registry holding the same tools. Tools registered on
// the clone do not affect r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := &Registry{tools: make(map[string]*Tool, len(r.tools)), validator: r.validator}
	for name, t := range r.tools {
		c.tools[name] = t
	}
	return c
}

// Unregister removes a tool. Returns true if the tool was found and removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return false
	}
	delete(r.tools, name)
	return true
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Definitions returns the definitions of all registered tools, sorted by name.
func (r *Registry) Definitions() []ai.ToolDefinition {
	return r.Subset().Definitions()
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Subset snapshots the named tools as the active set of a step. With no
// names every registered tool is active. Unknown names are ignored.
func (r *Registry) Subset(names ...string) *Set {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &Set{tools: make(map[string]*Tool), validator: r.validator}
	if len(names) == 0 {
		for name, t := range r.tools {
			s.tools[name] = t
		}
	} else {
		for _, name := range names {
			if t, ok := r.tools[name]; ok {
				s.tools[name] = t
			}
		}
	}
	for name := range s.tools {
		s.names = append(s.names, name)
	}
	slices.Sort(s.names)
	return s
}

// Set is an immutable snapshot of active tools. A nil Set has no tools.
type Set struct {
	tools     map[string]*Tool
	names     []string
	validator *Validator
}

// NewSet creates a set from tools without a registry.
func NewSet(tools ...Tool) *Set {
	r := NewRegistry().Add(tools...)
	return r.Subset()
}

// Lookup resolves a tool by name.
func (s *Set) Lookup(name string) (*Tool, error) {
	if s != nil {
		if t, ok := s.tools[name]; ok {
			return t, nil
		}
	}
	return nil, &NoSuchToolError{Name: name, Available: s.Names()}
}

// Names returns the sorted tool names.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.names)
}

// Len returns the number of tools in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Definitions returns the tool definitions sent to the model.
func (s *Set) Definitions() []ai.ToolDefinition {
	if s == nil {
		return nil
	}
	defs := make([]ai.ToolDefinition, 0, len(s.names))
	for _, name := range s.names {
		defs = append(defs, s.tools[name].Definition())
	}
	return defs
}

// CheckInput resolves the tool and validates raw call input against its
// input schema. Empty input is treated as an empty object. It returns the
// compacted input.
func (s *Set) CheckInput(name, raw string) (json.RawMessage, error) {
	t, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, &InvalidInputError{Name: name, Input: raw, Err: fmt.Errorf("parse: %w", err)}
	}
	input := json.RawMessage(buf.Bytes())
	if err := s.validator.Validate(t.InputSchema, input); err != nil {
		return nil, &InvalidInputError{Name: name, Input: raw, Err: err}
	}
	return input, nil
}

// CheckOutput validates a tool output against the tool's output schema.
func (s *Set) CheckOutput(t *Tool, output json.RawMessage) error {
	if len(t.OutputSchema) == 0 {
		return nil
	}
	if err := s.validator.Validate(t.OutputSchema, output); err != nil {
		return &InvalidOutputError{Name: t.Name, Err: err}
	}
	return nil
}
