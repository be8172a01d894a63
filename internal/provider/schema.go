package provider

import (
	"encoding/json"
	"fmt"
)

// SchemaMap decodes a JSON schema into a generic map, defaulting to an
// empty object schema.
func SchemaMap(schema json.RawMessage) (map[string]any, error) {
	out := map[string]any{"type": "object", "properties": map[string]any{}}
	if len(schema) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(schema, &out); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return out, nil
}

// InputMap decodes tool call input for SDKs that want a structured value.
// Input that is not a JSON object is wrapped as {"input": value}.
func InputMap(input json.RawMessage) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(input, &m); err == nil && m != nil {
		return m
	}
	var v any
	if err := json.Unmarshal(input, &v); err == nil {
		return map[string]any{"input": v}
	}
	return map[string]any{"input": string(input)}
}
