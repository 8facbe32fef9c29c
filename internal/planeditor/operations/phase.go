package operations

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/plan/ids"
	"github.com/Iron-Ham/planstore/internal/planeditor/validation"
)

// AddPhase inserts a new phase and creates its phase document. ID is
// derived from Name when empty. Index defaults to appending.
type AddPhase struct {
	ID                string            `json:"id,omitempty"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Type              string            `json:"type,omitempty"`
	Dependencies      []string          `json:"dependencies,omitempty"`
	EstimatedTokens   int               `json:"estimatedTokens,omitempty"`
	EstimatedDuration string            `json:"estimatedDuration,omitempty"`
	Config            *plan.PhaseConfig `json:"config,omitempty"`
	Tasks             []plan.Task       `json:"tasks,omitempty"`
	Index             *int              `json:"index,omitempty"`
}

func (AddPhase) Kind() Kind { return KindAdd }
func (AddPhase) Target() Target { return TargetPhase }
func (AddPhase) Priority() int { return TargetPhase.Priority() }
func (o AddPhase) TargetID() string { return o.ID }

func (o AddPhase) Describe() string {
	if o.ID != "" {
		return "add phase " + o.ID
	}
	return fmt.Sprintf("add phase %q", o.Name)
}

func (o AddPhase) Validate() error {
	var c checker
	c.check(strings.TrimSpace(o.Name) != "", "name is required")
	if o.ID != "" {
		c.check(ids.ValidSlug(o.ID), "id %q is not a valid slug", o.ID)
	}
	if o.Type != "" {
		c.check(o.Type == plan.PhaseTypeSequential || o.Type == plan.PhaseTypeParallel,
			"type must be sequential or parallel")
	}
	c.checkIDList("dependencies", o.Dependencies)
	if o.ID != "" {
		c.check(!slices.Contains(o.Dependencies, o.ID), "phase cannot depend on itself")
	}
	c.check(o.EstimatedTokens >= 0, "estimatedTokens must not be negative")
	if o.Index != nil {
		c.check(*o.Index >= 0, "index must not be negative")
	}
	for i, t := range o.Tasks {
		c.check(strings.TrimSpace(t.Name) != "", "tasks[%d].name is required", i)
	}
	return c.err("add phase")
}

func (o AddPhase) apply(m *mutation) error {
	p := m.tree.Plan

	id := o.ID
	if id == "" {
		id = ids.GeneratePhaseID(o.Name, p.PhaseIDs())
	}
	if _, exists := p.Phase(id); exists {
		return errors.NewConflictError("phase", id, "phase id already exists")
	}

	index := len(p.Phases)
	if o.Index != nil {
		if *o.Index > len(p.Phases) {
			return errors.NewValidationError(fmt.Sprintf("index %d is out of range", *o.Index)).
				WithField("index").WithValue(*o.Index).
				WithIssues(fmt.Sprintf("index must be between 0 and %d", len(p.Phases)))
		}
		index = *o.Index
	}

	phaseType := o.Type
	if phaseType == "" {
		phaseType = plan.PhaseTypeSequential
	}

	tasks := make([]plan.Task, 0, len(o.Tasks))
	for _, t := range o.Tasks {
		tasks = append(tasks, newTask(t, taskIDs(tasks)))
	}
	doc := &plan.PhaseDocument{
		ID:          id,
		Name:        o.Name,
		Description: o.Description,
		Type:        phaseType,
		Status:      plan.StatusPending,
		Tasks:       tasks,
	}
	if o.Config != nil {
		doc.Config = *o.Config
	}

	estimate := o.EstimatedTokens
	if estimate == 0 {
		estimate = doc.EstimatedTokens()
	}
	doc.Metrics.EstimatedTokens = estimate

	ref := plan.PhaseRef{
		ID:                id,
		Name:              o.Name,
		File:              plan.PhaseFile(id),
		Type:              phaseType,
		Dependencies:      nonNil(slices.Clone(o.Dependencies)),
		Status:            plan.StatusPending,
		EstimatedTokens:   estimate,
		EstimatedDuration: o.EstimatedDuration,
	}

	p.Phases = slices.Insert(p.Phases, index, ref)
	m.tree.Phases[id] = doc
	m.tree.MarkDirty(id)

	m.targetID = id
	m.after = snapshotPhase(&ref, doc)
	return nil
}

// UpdatePhase edits the allow-listed fields of an existing phase. Nil
// fields are left unchanged.
type UpdatePhase struct {
	ID                string            `json:"id"`
	Name              *string           `json:"name,omitempty"`
	Description       *string           `json:"description,omitempty"`
	Type              *string           `json:"type,omitempty"`
	Dependencies      *[]string         `json:"dependencies,omitempty"`
	EstimatedTokens   *int              `json:"estimatedTokens,omitempty"`
	EstimatedDuration *string           `json:"estimatedDuration,omitempty"`
	Config            *plan.PhaseConfig `json:"config,omitempty"`
	Force             bool              `json:"force,omitempty"`
}

func (UpdatePhase) Kind() Kind { return KindUpdate }
func (UpdatePhase) Target() Target { return TargetPhase }
func (UpdatePhase) Priority() int { return TargetPhase.Priority() }
func (o UpdatePhase) TargetID() string { return o.ID }
func (o UpdatePhase) Describe() string { return "update phase " + o.ID }

func (o UpdatePhase) Validate() error {
	var c checker
	c.check(o.ID != "", "id is required")
	c.check(o.Name != nil || o.Description != nil || o.Type != nil || o.Dependencies != nil ||
		o.EstimatedTokens != nil || o.EstimatedDuration != nil || o.Config != nil,
		"at least one field must be set")
	if o.Name != nil {
		c.check(strings.TrimSpace(*o.Name) != "", "name must not be empty")
	}
	if o.Type != nil {
		c.check(*o.Type == plan.PhaseTypeSequential || *o.Type == plan.PhaseTypeParallel,
			"type must be sequential or parallel")
	}
	if o.Dependencies != nil {
		c.checkIDList("dependencies", *o.Dependencies)
		c.check(!slices.Contains(*o.Dependencies, o.ID), "phase cannot depend on itself")
	}
	if o.EstimatedTokens != nil {
		c.check(*o.EstimatedTokens >= 0, "estimatedTokens must not be negative")
	}
	return c.err("update phase")
}

func (o UpdatePhase) apply(m *mutation) error {
	ref, doc, err := m.phase(o.ID)
	if err != nil {
		return err
	}
	check := validation.CheckMutation("phase", o.ID, m.tree.PhaseStatus(o.ID), nil, m.force(o.Force))
	if err := check.Err("phase", o.ID); err != nil {
		return err
	}
	m.warn(check.Warnings...)

	m.targetID = o.ID
	m.before = snapshotPhase(ref, doc)

	if o.Name != nil {
		ref.Name = *o.Name
		doc.Name = *o.Name
	}
	if o.Description != nil {
		doc.Description = *o.Description
	}
	if o.Type != nil {
		ref.Type = *o.Type
		doc.Type = *o.Type
	}
	if o.Dependencies != nil {
		deps := nonNil(slices.Clone(*o.Dependencies))
		g := validation.PhaseGraph(m.tree.Plan)
		for _, dep := range deps {
			if g.WouldCreateCycle(o.ID, dep) {
				return errors.NewValidationError(fmt.Sprintf("depending on %s would create a cycle", dep)).
					WithField("dependencies").WithValue(dep).
					WithIssues(fmt.Sprintf("%s already depends on %s", dep, o.ID))
			}
		}
		ref.Dependencies = deps
	}
	if o.EstimatedTokens != nil {
		ref.EstimatedTokens = *o.EstimatedTokens
		doc.Metrics.EstimatedTokens = *o.EstimatedTokens
	}
	if o.EstimatedDuration != nil {
		ref.EstimatedDuration = *o.EstimatedDuration
	}
	if o.Config != nil {
		doc.Config = *o.Config
	}

	m.tree.MarkDirty(o.ID)
	m.after = snapshotPhase(ref, doc)
	return nil
}

// RemovePhase deletes a phase, its execution-state entries, and its phase
// document.
type RemovePhase struct {
	ID    string `json:"id"`
	Force bool   `json:"force,omitempty"`
}

func (RemovePhase) Kind() Kind { return KindDelete }
func (RemovePhase) Target() Target { return TargetPhase }
func (RemovePhase) Priority() int { return TargetPhase.Priority() }
func (o RemovePhase) TargetID() string { return o.ID }
func (o RemovePhase) Describe() string { return "remove phase " + o.ID }

func (o RemovePhase) Validate() error {
	var c checker
	c.check(o.ID != "", "id is required")
	return c.err("remove phase")
}

func (o RemovePhase) apply(m *mutation) error {
	check := validation.CanDeletePhase(o.ID, m.tree, validation.DeleteOptions{Force: m.force(o.Force)})
	if err := check.Err("phase", o.ID); err != nil {
		return err
	}
	m.warn(check.Warnings...)

	p := m.tree.Plan
	idx := p.PhaseIndex(o.ID)
	ref := p.Phases[idx]
	m.targetID = o.ID
	m.before = snapshotPhase(&ref, m.tree.Phases[o.ID])

	p.Phases = slices.Delete(p.Phases, idx, idx+1)
	m.tree.DropPhase(ref)
	if m.tree.State.CurrentPhase == o.ID {
		m.tree.State.CurrentPhase = ""
	}
	return nil
}

// ReorderPhases replaces the phase order. Order must be an exact
// permutation of the existing phase ids.
type ReorderPhases struct {
	Order []string `json:"order"`
	Force bool     `json:"force,omitempty"`
}

func (ReorderPhases) Kind() Kind { return KindUpdate }
func (ReorderPhases) Target() Target { return TargetPhase }
func (ReorderPhases) Priority() int { return TargetPhase.Priority() }
func (ReorderPhases) TargetID() string { return "" }
func (ReorderPhases) Describe() string { return "reorder phases" }

func (o ReorderPhases) Validate() error {
	var c checker
	c.check(len(o.Order) > 0, "order is required")
	return c.err("reorder phases")
}

func (o ReorderPhases) apply(m *mutation) error {
	p := m.tree.Plan
	current := p.PhaseIDs()
	if issues := permutationIssues(current, o.Order); len(issues) > 0 {
		return errors.NewConflictError("phase", "",
			"new order must be a permutation of the existing phase ids: "+strings.Join(issues, ", "))
	}

	for _, id := range Moved(current, o.Order) {
		check := validation.CheckMutation("phase", id, m.tree.PhaseStatus(id), nil, m.force(o.Force))
		if err := check.Err("phase", id); err != nil {
			return err
		}
		m.warn(check.Warnings...)
	}

	reordered := make([]plan.PhaseRef, 0, len(p.Phases))
	position := make(map[string]int, len(o.Order))
	for i, id := range o.Order {
		ref, _ := p.Phase(id)
		reordered = append(reordered, *ref)
		position[id] = i
	}
	for i, ref := range reordered {
		for _, dep := range ref.Dependencies {
			if pos, ok := position[dep]; ok && pos > i {
				m.warn(fmt.Sprintf("phase %s now precedes its dependency %s", ref.ID, dep))
			}
		}
	}
	p.Phases = reordered

	m.before = current
	m.after = slices.Clone(o.Order)
	return nil
}
