package braid

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

// SchemaFor generates a JSON Schema for T from its json and jsonschema
// struct tags. Field descriptions come from the
// `jsonschema:"description=..."` tag. Named structs are expanded in
// place; unnamed structs, maps and scalars are reflected inline.
func SchemaFor[T any]() json.RawMessage {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r := &jsonschema.Reflector{
		// Expanding needs a definition name to pull from.
		ExpandedStruct: t.Kind() == reflect.Struct && t.Name() != "",
		DoNotReference: true,
		Anonymous:      true,
	}
	s := r.ReflectFromType(t)
	s.Version = ""
	s.ID = ""
	s.Definitions = nil
	data, err := json.Marshal(s)
	if err != nil {
		// Reflected schemas always marshal; keep the signature simple.
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
