package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/emergent-company/emergent.graph/domain/schemaregistry"
)

// schemaFile is the YAML layout accepted by `graphctl schema load`:
//
//	schemas:
//	  - kind: object
//	    type: Person
//	    schema:
//	      type: object
//	      required: [name]
//	  - kind: relationship
//	    type: married_to
//	    multiplicity: one_to_one
type schemaFile struct {
	Schemas []schemaEntry `yaml:"schemas"`
}

type schemaEntry struct {
	Kind         string         `yaml:"kind"`
	Type         string         `yaml:"type"`
	Description  string         `yaml:"description"`
	Multiplicity string         `yaml:"multiplicity"`
	Schema       map[string]any `yaml:"schema"`
}

// parseSchemaFile decodes and checks a schema file. Entries are returned in
// file order; duplicate kind/type pairs are rejected since only the last one
// would survive registration.
func parseSchemaFile(r io.Reader) ([]schemaregistry.RegisterInput, error) {
	var f schemaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("schema file is empty")
		}
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	if len(f.Schemas) == 0 {
		return nil, fmt.Errorf("schema file declares no schemas")
	}

	seen := make(map[string]int, len(f.Schemas))
	inputs := make([]schemaregistry.RegisterInput, 0, len(f.Schemas))
	for i, e := range f.Schemas {
		kind, err := schemaregistry.ParseKind(e.Kind)
		if err != nil {
			return nil, fmt.Errorf("schemas[%d]: %w", i, err)
		}
		typeName := strings.TrimSpace(e.Type)
		if typeName == "" {
			return nil, fmt.Errorf("schemas[%d]: type is required", i)
		}
		id := string(kind) + "/" + typeName
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("schemas[%d]: %s already declared at schemas[%d]", i, id, prev)
		}
		seen[id] = i

		in := schemaregistry.RegisterInput{
			Kind:         kind,
			TypeName:     typeName,
			Multiplicity: e.Multiplicity,
		}
		if e.Description != "" {
			desc := e.Description
			in.Description = &desc
		}
		if e.Schema != nil {
			raw, err := json.Marshal(e.Schema)
			if err != nil {
				return nil, fmt.Errorf("schemas[%d]: encode schema: %w", i, err)
			}
			in.JSONSchema = raw
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
