package braid

import "encoding/json"

// ResponseFormat asks the model to answer with JSON. A nil Schema requests
// any JSON value; otherwise the answer should validate against Schema.
type ResponseFormat struct {
	Name        string
	Description string
	Schema      json.RawMessage
	// Strict asks providers that support it to enforce the schema while
	// decoding. Strict schemas may not have optional properties.
	Strict bool
}

// FormatFor returns a ResponseFormat whose schema is generated from T.
func FormatFor[T any](name, description string) *ResponseFormat {
	return &ResponseFormat{Name: name, Description: description, Schema: SchemaFor[T]()}
}
