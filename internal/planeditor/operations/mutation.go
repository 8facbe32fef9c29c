package operations

import (
	"slices"
	"time"

	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/plan"
)

// ApplyOptions carries batch-level context into a single operation.
type ApplyOptions struct {
	// Force lets mutations of completed items proceed with a warning. It
	// never unlocks in-progress items.
	Force bool
}

// RemovalsOf collects the phase ids and phase/task keys removed by ops.
func RemovalsOf(ops []Operation) (phases, tasks []string) {
	for _, op := range ops {
		switch o := op.(type) {
		case RemovePhase:
			phases = append(phases, o.ID)
		case RemoveTask:
			tasks = append(tasks, plan.TaskKey(o.PhaseID, o.ID))
		}
	}
	return phases, tasks
}

// mutation is the working state of one operation being applied to a
// private copy of the tree.
type mutation struct {
	tree *plan.Tree
	opts ApplyOptions
	now  time.Time

	targetID string
	before   any
	after    any
	warnings []string
}

func (m *mutation) force(opForce bool) bool {
	return m.opts.Force || opForce
}

func (m *mutation) warn(ws ...string) {
	m.warnings = append(m.warnings, ws...)
}

func (m *mutation) phase(id string) (*plan.PhaseRef, *plan.PhaseDocument, error) {
	ref, ok := m.tree.Plan.Phase(id)
	if !ok {
		return nil, nil, errors.NewNotFoundError("phase", id)
	}
	doc, ok := m.tree.Phases[id]
	if !ok {
		return nil, nil, errors.NewNotFoundError("phase", id).
			WithCause(errors.New("phase document is not loaded"))
	}
	return ref, doc, nil
}

func (m *mutation) task(phaseID, taskID string) (*plan.PhaseDocument, *plan.Task, error) {
	_, doc, err := m.phase(phaseID)
	if err != nil {
		return nil, nil, err
	}
	task, ok := doc.Task(taskID)
	if !ok {
		return nil, nil, errors.NewNotFoundError("task", plan.TaskKey(phaseID, taskID))
	}
	return doc, task, nil
}

// PhaseSnapshot is the audit image of a phase.
type PhaseSnapshot struct {
	Ref      plan.PhaseRef       `json:"ref"`
	Document *plan.PhaseDocument `json:"document,omitempty"`
}

// MetadataSnapshot is the audit image of the plan-level fields.
type MetadataSnapshot struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Version     string               `json:"version"`
	Execution   plan.ExecutionConfig `json:"execution"`
	Labels      map[string]string    `json:"labels,omitempty"`
}

func snapshotPhase(ref *plan.PhaseRef, doc *plan.PhaseDocument) PhaseSnapshot {
	s := PhaseSnapshot{Ref: *ref}
	s.Ref.Dependencies = slices.Clone(ref.Dependencies)
	if doc != nil {
		d := *doc
		d.Tasks = slices.Clone(doc.Tasks)
		s.Document = &d
	}
	return s
}

func cloneTask(t *plan.Task) plan.Task {
	c := *t
	c.Dependencies = slices.Clone(t.Dependencies)
	c.Actions = slices.Clone(t.Actions)
	return c
}

// Moved returns the ids whose position differs between before and after.
func Moved(before, after []string) []string {
	var out []string
	for i := range after {
		if i >= len(before) || before[i] != after[i] {
			out = append(out, after[i])
		}
	}
	return out
}

// permutationIssues describes how order fails to be a permutation of
// current. It returns nil when order is a permutation.
func permutationIssues(current, order []string) []string {
	var issues []string
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		switch {
		case seen[id]:
			issues = append(issues, "duplicate id "+id)
		case !have[id]:
			issues = append(issues, "unknown id "+id)
		}
		seen[id] = true
	}
	for _, id := range current {
		if !seen[id] {
			issues = append(issues, "missing id "+id)
		}
	}
	return issues
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
