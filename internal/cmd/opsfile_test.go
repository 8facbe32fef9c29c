package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
)

func TestParseOperations(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		asYAML bool
	}{
		{
			name: "json array",
			data: `[{"type":"add","target":"phase","data":{"id":"docs","name":"Docs"}}]`,
		},
		{
			name: "json wrapper",
			data: `{"operations":[{"type":"add","target":"phase","data":{"id":"docs","name":"Docs"}}]}`,
		},
		{
			name: "yaml array",
			data: `
- type: add
  target: phase
  data:
    id: docs
    name: Docs
`,
			asYAML: true,
		},
		{
			name: "yaml wrapper",
			data: `
operations:
  - type: add
    target: phase
    data: {id: docs, name: Docs}
`,
			asYAML: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := parseOperations([]byte(tt.data), tt.asYAML)
			require.NoError(t, err)
			require.Len(t, ops, 1)
			add, ok := ops[0].(operations.AddPhase)
			require.True(t, ok, "got %T", ops[0])
			assert.Equal(t, "docs", add.ID)
			assert.Equal(t, "Docs", add.Name)
		})
	}
}

func TestParseOperations_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		asYAML bool
	}{
		{"not json", `nope`, false},
		{"wrapper without operations", `{"ops":[]}`, false},
		{"bad yaml", "- type: add\n  target: [", true},
		{"unknown target", `[{"type":"add","target":"action","data":{}}]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOperations([]byte(tt.data), tt.asYAML)
			require.Error(t, err)
			assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
		})
	}
}

func TestReadOperations(t *testing.T) {
	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ops.yml")
		require.NoError(t, os.WriteFile(path, []byte("- {type: delete, target: metadata, data: {key: owner}}\n"), 0644))

		ops, err := readOperations(path, nil)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, operations.DeleteMetadata{Key: "owner"}, ops[0])
	})

	t.Run("stdin", func(t *testing.T) {
		in := strings.NewReader(`[{"type":"add","target":"metadata","data":{"key":"owner","value":"infra"}}]`)
		ops, err := readOperations("-", in)
		require.NoError(t, err)
		assert.Equal(t, []operations.Operation{operations.AddMetadata{Key: "owner", Value: "infra"}}, ops)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readOperations(filepath.Join(t.TempDir(), "none.json"), nil)
		require.Error(t, err)
	})
}

func TestParseActions(t *testing.T) {
	actions, err := parseActions([]string{"create:src/a.go", "verify:go test ./..."})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "create", actions[0].Type)
	assert.Equal(t, "src/a.go", actions[0].Target)
	assert.Equal(t, "go test ./...", actions[1].Target)

	for _, bad := range []string{"create", ":src/a.go", "create:"} {
		_, err := parseActions([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels([]string{"owner=infra", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "infra", "empty": ""}, labels)

	_, err = parseLabels([]string{"=value"})
	assert.Error(t, err)
	_, err = parseLabels([]string{"novalue"})
	assert.Error(t, err)
}
