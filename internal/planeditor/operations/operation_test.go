package operations

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/planstore/internal/errors"
)

func TestDecodeOperation(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Operation
	}{
		{
			name: "add phase",
			json: `{"type":"add","target":"phase","data":{"id":"phase-2-backend","name":"Backend","dependencies":["phase-1-setup"]}}`,
			want: AddPhase{ID: "phase-2-backend", Name: "Backend", Dependencies: []string{"phase-1-setup"}},
		},
		{
			name: "update phase",
			json: `{"type":"update","target":"phase","data":{"id":"phase-1-setup","name":"Setup"}}`,
			want: UpdatePhase{ID: "phase-1-setup", Name: ptr("Setup")},
		},
		{
			name: "reorder phases",
			json: `{"type":"update","target":"phase","data":{"order":["b","a"]}}`,
			want: ReorderPhases{Order: []string{"b", "a"}},
		},
		{
			name: "remove task with force",
			json: `{"type":"delete","target":"task","data":{"phaseId":"p","id":"t","force":true}}`,
			want: RemoveTask{PhaseID: "p", ID: "t", Force: true},
		},
		{
			name: "reorder tasks",
			json: `{"type":"update","target":"task","data":{"phaseId":"p","order":["t2","t1"]}}`,
			want: ReorderTasks{PhaseID: "p", Order: []string{"t2", "t1"}},
		},
		{
			name: "delete metadata",
			json: `{"type":"delete","target":"metadata","data":{"key":"owner"}}`,
			want: DeleteMetadata{Key: "owner"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := DecodeOperation([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.want, op)
		})
	}
}

func TestDecodeOperation_RejectsUnknownFields(t *testing.T) {
	_, err := DecodeOperation([]byte(`{"type":"update","target":"task","data":{"phaseId":"p","id":"t","status":"completed"}}`))
	require.Error(t, err)

	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "data", verr.Field)
	require.Len(t, verr.Issues, 1)
	assert.Contains(t, verr.Issues[0], `unknown field "status"`)
}

func TestDecodeOperation_UnknownTypeAndTarget(t *testing.T) {
	_, err := DecodeOperation([]byte(`{"type":"rename","target":"phase","data":{}}`))
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	assert.Contains(t, err.Error(), `unknown operation type "rename"`)

	_, err = DecodeOperation([]byte(`{"type":"add","target":"action","data":{}}`))
	assert.Contains(t, err.Error(), `unknown target "action"`)

	_, err = DecodeOperation([]byte(`{"type":"add","target":"phase","data":{},"extra":1}`))
	assert.Contains(t, err.Error(), "malformed operation envelope")
}

func TestDecodeOperations_CollectsEveryFailure(t *testing.T) {
	data := `[
		{"type":"add","target":"metadata","data":{"key":"owner","value":"platform"}},
		{"type":"add","target":"phase","data":{"name":"x","bogus":1}},
		{"type":"remove","target":"task","data":{}}
	]`
	_, err := DecodeOperations([]byte(data))
	require.Error(t, err)

	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Error(), "2 of 3 operations could not be decoded")
	require.Len(t, verr.Issues, 2)
	assert.Contains(t, verr.Issues[0], "operations[1]")
	assert.Contains(t, verr.Issues[1], "operations[2]")
}

func TestEncodeOperation_RoundTripsThroughEnvelope(t *testing.T) {
	op := UpdateTask{PhaseID: "p", ID: "t", EstimatedTokens: ptr(500)}
	env, err := EncodeOperation(op)
	require.NoError(t, err)
	assert.Equal(t, KindUpdate, env.Type)
	assert.Equal(t, TargetTask, env.Target)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	decoded, err := DecodeOperation(data)
	require.NoError(t, err)
	assert.Equal(t, op, decoded)
}

func TestSortByPriority(t *testing.T) {
	ops := []Operation{
		AddTask{PhaseID: "a", Name: "first task"},
		AddPhase{Name: "first phase"},
		UpdateMetadata{Name: ptr("renamed")},
		RemoveTask{PhaseID: "a", ID: "t"},
		RemovePhase{ID: "b"},
		AddMetadata{Key: "k"},
	}

	sorted := SortByPriority(ops)
	var order []int
	for _, s := range sorted {
		order = append(order, s.Index)
	}
	assert.Equal(t, []int{2, 5, 1, 4, 0, 3}, order)
}

func TestValidateAll(t *testing.T) {
	t.Run("empty batch", func(t *testing.T) {
		err := ValidateAll(nil)
		assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	})

	t.Run("collects all problems", func(t *testing.T) {
		err := ValidateAll([]Operation{
			AddPhase{Name: ""},
			UpdatePhase{ID: "p"},
			RemoveTask{PhaseID: "p", ID: "t"},
			nil,
		})
		require.Error(t, err)

		var verr *errors.ValidationError
		require.True(t, errors.As(err, &verr))
		require.Len(t, verr.Issues, 3)
		assert.Contains(t, verr.Issues[0], "operations[0]")
		assert.Contains(t, verr.Issues[0], "name is required")
		assert.Contains(t, verr.Issues[1], "at least one field must be set")
		assert.Equal(t, "operations[3]: missing operation", verr.Issues[2])
	})

	t.Run("valid batch", func(t *testing.T) {
		assert.NoError(t, ValidateAll([]Operation{
			AddMetadata{Key: "owner", Value: "platform"},
			ReorderPhases{Order: []string{"a"}},
		}))
	})
}

func TestValidate_Shapes(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		want string
	}{
		{"phase id not a slug", AddPhase{ID: "Phase One", Name: "x"}, "not a valid slug"},
		{"phase self dependency", AddPhase{ID: "a", Name: "x", Dependencies: []string{"a"}}, "cannot depend on itself"},
		{"duplicate dependency", UpdatePhase{ID: "a", Dependencies: &[]string{"b", "b"}}, `lists "b" more than once`},
		{"bad phase type", UpdatePhase{ID: "a", Type: ptr("serial")}, "type must be sequential or parallel"},
		{"negative index", AddTask{PhaseID: "a", Name: "x", Index: ptr(-1)}, "index must not be negative"},
		{"label key whitespace", AddMetadata{Key: " owner"}, "leading or trailing whitespace"},
		{"empty reorder", ReorderTasks{PhaseID: "a"}, "order is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRemovalsOf(t *testing.T) {
	phases, tasks := RemovalsOf([]Operation{
		RemovePhase{ID: "a"},
		AddPhase{Name: "x"},
		RemoveTask{PhaseID: "b", ID: "t1"},
	})
	assert.Equal(t, []string{"a"}, phases)
	assert.Equal(t, []string{"b/t1"}, tasks)
}

func ptr[T any](v T) *T { return &v }
