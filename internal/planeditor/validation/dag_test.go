package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/planstore/internal/errors"
)

func TestValidatePhaseDependencies_Dangling(t *testing.T) {
	tree := validTree()
	tree.Plan.Phases[1].Dependencies = []string{"phase-1-setup", "phase-9-missing"}

	result := ValidatePhaseDependencies(tree.Plan)
	require.False(t, result.Valid)

	dangling := result.ForRule(RuleDanglingDependency)
	require.Len(t, dangling, 1)
	assert.Equal(t, "phase-2-backend", dangling[0].ItemID)
	assert.Equal(t, []string{"phase-9-missing"}, dangling[0].Related)
}

func TestValidatePhaseDependencies_Cycle(t *testing.T) {
	tree := validTree()
	tree.Plan.Phases[0].Dependencies = []string{"phase-2-backend"}

	result := ValidatePhaseDependencies(tree.Plan)
	cycles := result.ForRule(RuleDependencyCycle)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"phase-1-setup", "phase-2-backend", "phase-1-setup"}, cycles[0].Related)
}

func TestFindCycle(t *testing.T) {
	tests := []struct {
		name string
		g    Graph
		want []string
	}{
		{
			name: "acyclic",
			g:    Graph{Nodes: []string{"a", "b", "c"}, Deps: map[string][]string{"b": {"a"}, "c": {"a", "b"}}},
			want: nil,
		},
		{
			name: "self loop",
			g:    Graph{Nodes: []string{"a"}, Deps: map[string][]string{"a": {"a"}}},
			want: []string{"a", "a"},
		},
		{
			name: "three node cycle",
			g:    Graph{Nodes: []string{"a", "b", "c"}, Deps: map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}}},
			want: []string{"a", "b", "c", "a"},
		},
		{
			name: "dangling edge ignored",
			g:    Graph{Nodes: []string{"a"}, Deps: map[string][]string{"a": {"zzz"}}},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.g.FindCycle())
		})
	}
}

func TestTopologicalOrder(t *testing.T) {
	g := Graph{
		Nodes: []string{"deploy", "build", "setup", "docs"},
		Deps: map[string][]string{
			"deploy": {"build"},
			"build":  {"setup"},
		},
	}
	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"setup", "build", "deploy", "docs"}, order)

	g.Deps["setup"] = []string{"deploy"}
	_, err = g.TopologicalOrder()
	assert.True(t, errors.Is(err, errors.ErrDependencyCycle))
}

func TestWouldCreateCycle(t *testing.T) {
	g := Graph{Nodes: []string{"a", "b", "c"}, Deps: map[string][]string{"b": {"a"}, "c": {"b"}}}

	assert.True(t, g.WouldCreateCycle("a", "c"), "a depending on c closes a -> c -> b -> a")
	assert.True(t, g.WouldCreateCycle("a", "a"))
	assert.False(t, g.WouldCreateCycle("c", "a"))
}

func TestValidateTaskDependencies_CrossPhaseReference(t *testing.T) {
	doc := validTree().Phases["phase-2-backend"]
	doc.Tasks[0].Dependencies = []string{"task-1-init"} // lives in phase-1-setup

	result := ValidateTaskDependencies(doc)
	assert.Len(t, result.ForRule(RuleDanglingDependency), 1)
}
