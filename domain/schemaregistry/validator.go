package schemaregistry

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
)

// Validator is a compiled type schema.
type Validator struct {
	Kind         Kind
	TypeName     string
	Version      int
	Multiplicity Multiplicity

	resolved *jsonschema.Resolved
}

// Compile resolves the JSON schema of s. An empty schema accepts any properties.
func Compile(s *TypeSchema) (*Validator, error) {
	v := &Validator{
		Kind:         s.Kind,
		TypeName:     s.TypeName,
		Version:      s.Version,
		Multiplicity: ManyToMany,
	}
	if s.Multiplicity != nil {
		v.Multiplicity = *s.Multiplicity
	}

	resolved, err := resolve(s.JSONSchema)
	if err != nil {
		return nil, err
	}
	v.resolved = resolved
	return v, nil
}

// Permissive returns a validator that accepts anything, for unregistered types.
func Permissive(kind Kind, typeName string) *Validator {
	return &Validator{Kind: kind, TypeName: typeName, Multiplicity: ManyToMany}
}

func resolve(raw json.RawMessage) (*jsonschema.Resolved, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse json schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve json schema: %w", err)
	}
	return resolved, nil
}

// Validate checks properties against the schema. Failures are apperror.ErrValidation.
func (v *Validator) Validate(props map[string]any) error {
	if v == nil || v.resolved == nil {
		return nil
	}

	// Round-trip through JSON so Go-typed values (ints, structs) validate the
	// same way as values decoded from a request body.
	instance, err := normalize(props)
	if err != nil {
		return apperror.NewValidation("properties are not valid JSON", map[string]string{
			"type": v.TypeName,
		}).WithInternal(err)
	}

	if err := v.resolved.Validate(instance); err != nil {
		return apperror.NewValidation(
			fmt.Sprintf("properties do not match schema for %s %q", v.Kind, v.TypeName),
			map[string]string{
				"type":           v.TypeName,
				"schema_version": fmt.Sprint(v.Version),
				"reason":         err.Error(),
			},
		)
	}
	return nil
}

func normalize(props map[string]any) (any, error) {
	if props == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
