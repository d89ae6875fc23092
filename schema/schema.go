// Package schema renders and validates function parameter schemas.
//
// A FunctionManifest's parametersSchema is either a raw JSON Schema document
// (a map[string]any the author wrote by hand) or a Go type whose schema is
// derived via jsonschema-go's reflection support. Both forms resolve to the
// same Validator, which the registry calls before dispatching to a handler.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator wraps a resolved JSON Schema ready to validate inbound params.
type Validator struct {
	raw      *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// FromMap builds a Validator from a raw JSON-Schema-shaped map, the form a
// manifest author writes directly (spec.md's `parametersSchema`).
func FromMap(doc map[string]any) (*Validator, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal raw schema: %w", err)
	}
	s := new(jsonschema.Schema)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("schema: parse raw schema: %w", err)
	}
	return fromSchema(s)
}

// For derives a Validator from a Go type, the path taken when a handler
// registers a typed parameter struct instead of a hand-written schema.
func For[T any]() (*Validator, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("schema: derive schema for %T: %w", *new(T), err)
	}
	return fromSchema(s)
}

func fromSchema(s *jsonschema.Schema) (*Validator, error) {
	resolved, err := s.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, fmt.Errorf("schema: resolve: %w", err)
	}
	return &Validator{raw: s, resolved: resolved}, nil
}

// Validate checks v (typically a json.RawMessage-decoded map[string]any or a
// struct pointer) against the schema. A non-nil error is a user error: bad
// request parameters, not a system fault.
func (v *Validator) Validate(value any) error {
	return v.resolved.Validate(value)
}

// ApplyDefaults fills in schema-declared defaults on value in place.
func (v *Validator) ApplyDefaults(value any) error {
	return v.resolved.ApplyDefaults(value)
}

// JSONSchema returns the underlying *jsonschema.Schema, the form persisted
// verbatim into a PersistedManifest's `config.parametersSchema` field.
func (v *Validator) JSONSchema() *jsonschema.Schema {
	return v.raw
}
