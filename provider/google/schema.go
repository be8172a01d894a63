package google

import (
	"encoding/json"

	"google.golang.org/genai"
)

// convertSchema translates the JSON Schema subset Gemini understands.
// Unsupported keywords are dropped.
func convertSchema(raw json.RawMessage) *genai.Schema {
	if len(raw) == 0 {
		return nil
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	return schemaObject(schema)
}

var schemaTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

func schemaObject(schema map[string]any) *genai.Schema {
	out := &genai.Schema{}
	switch t := schema["type"].(type) {
	case string:
		out.Type = schemaTypes[t]
	case []any:
		// ["string", "null"] style nullable types.
		for _, v := range t {
			if s, ok := v.(string); ok {
				if s == "null" {
					out.Nullable = genai.Ptr(true)
				} else {
					out.Type = schemaTypes[s]
				}
			}
		}
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				out.Properties[name] = schemaObject(pm)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = schemaObject(items)
	}
	return out
}
