package braid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherInput struct {
	City  string `json:"city" jsonschema:"description=City name"`
	Units string `json:"units,omitempty" jsonschema:"enum=metric,enum=imperial"`
}

func TestSchemaFor(t *testing.T) {
	raw := SchemaFor[weatherInput]()

	var schema map[string]any
	require.NoError(t, json.Unmarshal(raw, &schema))

	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	city, ok := props["city"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", city["type"])
	assert.Equal(t, "City name", city["description"])

	units := props["units"].(map[string]any)
	assert.ElementsMatch(t, []any{"metric", "imperial"}, units["enum"])

	assert.Equal(t, []any{"city"}, schema["required"])
}

func TestSchemaFor_UnnamedTypes(t *testing.T) {
	tests := []struct {
		name     string
		schema   json.RawMessage
		wantType string
		wantProp string
	}{
		{"empty struct", SchemaFor[struct{}](), "object", ""},
		{"anonymous struct", SchemaFor[struct {
			Path string `json:"path"`
		}](), "object", "path"},
		{"map", SchemaFor[map[string]any](), "object", ""},
		{"string", SchemaFor[string](), "string", ""},
		{"pointer to named struct", SchemaFor[*weatherInput](), "object", "city"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var schema map[string]any
			require.NoError(t, json.Unmarshal(tt.schema, &schema))
			assert.Equal(t, tt.wantType, schema["type"])
			assert.NotContains(t, schema, "$schema")
			assert.NotContains(t, schema, "$defs")
			if tt.wantProp != "" {
				props, ok := schema["properties"].(map[string]any)
				require.True(t, ok)
				assert.Contains(t, props, tt.wantProp)
			}
		})
	}
}

func TestFormatFor(t *testing.T) {
	f := FormatFor[weatherInput]("weather", "A forecast request")

	assert.Equal(t, "weather", f.Name)
	assert.Equal(t, "A forecast request", f.Description)
	assert.False(t, f.Strict)
	assert.JSONEq(t, string(SchemaFor[weatherInput]()), string(f.Schema))
}
