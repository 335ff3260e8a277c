package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/emergent.graph/domain/schemaregistry"
)

const sampleSchemas = `
schemas:
  - kind: object
    type: Person
    description: A human being
    schema:
      type: object
      properties:
        name: {type: string}
        age: {type: integer, minimum: 0}
      required: [name]
  - kind: relationship
    type: married_to
    multiplicity: one_to_one
  - kind: relationship
    type: knows
`

func TestParseSchemaFile(t *testing.T) {
	inputs, err := parseSchemaFile(strings.NewReader(sampleSchemas))
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	person := inputs[0]
	assert.Equal(t, schemaregistry.KindObject, person.Kind)
	assert.Equal(t, "Person", person.TypeName)
	require.NotNil(t, person.Description)
	assert.Equal(t, "A human being", *person.Description)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(person.JSONSchema, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, []any{"name"}, doc["required"])

	// The produced document must compile like one posted over HTTP.
	v, err := schemaregistry.Compile(&schemaregistry.TypeSchema{Kind: person.Kind, TypeName: person.TypeName, JSONSchema: person.JSONSchema})
	require.NoError(t, err)
	assert.NoError(t, v.Validate(map[string]any{"name": "Ada", "age": 36}))
	assert.Error(t, v.Validate(map[string]any{"age": 36}))

	assert.Equal(t, schemaregistry.KindRelationship, inputs[1].Kind)
	assert.Equal(t, "one_to_one", inputs[1].Multiplicity)
	assert.Nil(t, inputs[1].JSONSchema)
	assert.Nil(t, inputs[2].Description)
}

func TestParseSchemaFileRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "empty"},
		{"no schemas", "schemas: []\n", "no schemas"},
		{"unknown kind", "schemas:\n  - kind: edge\n    type: x\n", "schemas[0]"},
		{"missing type", "schemas:\n  - kind: object\n", "type is required"},
		{"duplicate", "schemas:\n  - {kind: object, type: A}\n  - {kind: object, type: A}\n", "already declared"},
		{"unknown field", "schemas:\n  - {kind: object, type: A, typo: 1}\n", "parse schema file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSchemaFile(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"migrate", "version"},
		{"audit"},
		{"schema", "load"},
		{"schema", "list"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestSchemaLoadDryRun(t *testing.T) {
	path := t.TempDir() + "/schemas.yaml"
	require.NoError(t, os.WriteFile(path, []byte(sampleSchemas), 0o600))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"schema", "load", path, "--project", "6f1c7c1e-7d1c-4d59-9a51-3f6b0f0f2a10", "--dry-run"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "3 schema(s) parsed")
}

func TestOutputFormatChecked(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"audit", "-o", "xml"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}
