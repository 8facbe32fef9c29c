package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/plan"
)

// Graph is a dependency graph: Deps[id] lists the ids that id depends on.
// Nodes keeps document order for deterministic output.
type Graph struct {
	Nodes []string
	Deps  map[string][]string
}

// PhaseGraph builds the phase dependency graph of p.
func PhaseGraph(p *plan.Plan) Graph {
	g := Graph{Deps: make(map[string][]string, len(p.Phases))}
	for _, ref := range p.Phases {
		g.Nodes = append(g.Nodes, ref.ID)
		g.Deps[ref.ID] = ref.Dependencies
	}
	return g
}

// TaskGraph builds the task dependency graph of one phase.
func TaskGraph(doc *plan.PhaseDocument) Graph {
	g := Graph{Deps: make(map[string][]string, len(doc.Tasks))}
	for _, task := range doc.Tasks {
		g.Nodes = append(g.Nodes, task.ID)
		g.Deps[task.ID] = task.Dependencies
	}
	return g
}

// Dangling returns, per node, the dependencies that name no node.
func (g Graph) Dangling() map[string][]string {
	known := make(map[string]bool, len(g.Nodes))
	for _, id := range g.Nodes {
		known[id] = true
	}
	out := make(map[string][]string)
	for _, id := range g.Nodes {
		for _, dep := range g.Deps[id] {
			if !known[dep] {
				out[id] = append(out[id], dep)
			}
		}
	}
	return out
}

// FindCycle returns a cycle as a closed path (first id repeated at the end),
// or nil if the graph is acyclic. Edges to unknown ids are ignored.
// Uses DFS with coloring: white (unvisited), gray (in progress), black (done).
func (g Graph) FindCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	known := make(map[string]bool, len(g.Nodes))
	for _, id := range g.Nodes {
		known[id] = true
	}

	color := make(map[string]int)
	parent := make(map[string]string)

	var dfs func(node string) []string
	dfs = func(node string) []string {
		color[node] = gray
		for _, next := range g.Deps[node] {
			if !known[next] {
				continue
			}
			if color[next] == gray {
				// Walk parents back from node to next to recover the cycle
				cycle := []string{next, node}
				cur := node
				for cur != next {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[next] == white {
				parent[next] = node
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	for _, id := range g.Nodes {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalOrder returns the nodes ordered so that every node follows its
// dependencies, taking the earliest node in document order whenever several
// are ready (Kahn's algorithm). Fails with ErrDependencyCycle if the graph has a cycle.
func (g Graph) TopologicalOrder() ([]string, error) {
	position := make(map[string]int, len(g.Nodes))
	for i, id := range g.Nodes {
		position[id] = i
	}

	inDegree := make(map[string]int, len(g.Nodes))
	dependents := make(map[string][]string, len(g.Nodes))
	for _, id := range g.Nodes {
		for _, dep := range g.Deps[id] {
			if _, ok := position[dep]; !ok {
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for _, id := range g.Nodes {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		cycle := g.FindCycle()
		return nil, fmt.Errorf("%w: %s", errors.ErrDependencyCycle, strings.Join(cycle, " -> "))
	}
	return order, nil
}

// ValidatePhaseDependencies reports dangling phase dependencies and
// dependency cycles.
func ValidatePhaseDependencies(p *plan.Plan) *ValidationResult {
	return validateGraph(PhaseGraph(p), "phase")
}

// ValidateTaskDependencies reports task dependencies that leave the phase or
// name no task, and task dependency cycles.
func ValidateTaskDependencies(doc *plan.PhaseDocument) *ValidationResult {
	return validateGraph(TaskGraph(doc), "task")
}

func validateGraph(g Graph, kind string) *ValidationResult {
	result := NewValidationResult()

	dangling := g.Dangling()
	for _, id := range g.Nodes {
		for _, dep := range dangling[id] {
			result.Add(issuef(RuleDanglingDependency, id, "dependencies", "%s %s depends on unknown %s %q", kind, id, kind, dep).
				relate(dep).
				suggest(fmt.Sprintf("remove %q from dependencies or add the missing %s", dep, kind)))
		}
	}

	if cycle := g.FindCycle(); cycle != nil {
		result.Add(issuef(RuleDependencyCycle, cycle[0], "dependencies", "%s dependency cycle: %s", kind, strings.Join(cycle, " -> ")).
			relate(cycle...))
	}
	return result
}

// WouldCreateCycle reports whether adding the edge from -> to (from depends
// on to) closes a cycle in g.
func (g Graph) WouldCreateCycle(from, to string) bool {
	if from == to {
		return true
	}
	// A cycle appears iff from is reachable from to along dependency edges.
	visited := make(map[string]bool)
	stack := []string{to}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == from {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, g.Deps[id]...)
	}
	return false
}
