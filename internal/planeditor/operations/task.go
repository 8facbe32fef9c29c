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

// defaultTaskType is assigned to new tasks that name no type.
const defaultTaskType = "implementation"

// newTask normalizes a task for insertion: a generated id when missing, a
// default type, non-nil lists, pending status, and no prior execution record.
func newTask(t plan.Task, existing []string) plan.Task {
	if t.ID == "" {
		t.ID = ids.GenerateTaskID(t.Name, existing)
	}
	if t.Type == "" {
		t.Type = defaultTaskType
	}
	t.Status = plan.StatusPending
	t.Dependencies = nonNil(slices.Clone(t.Dependencies))
	t.Actions = slices.Clone(t.Actions)
	if t.Actions == nil {
		t.Actions = []plan.Action{}
	}
	t.Output = nil
	t.Result = nil
	return t
}

func taskIDs(tasks []plan.Task) []string {
	out := make([]string, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].ID
	}
	return out
}

// AddTask inserts a new task into a phase. ID is derived from Name when
// empty. Index defaults to appending.
type AddTask struct {
	PhaseID         string        `json:"phaseId"`
	ID              string        `json:"id,omitempty"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Type            string        `json:"type,omitempty"`
	Dependencies    []string      `json:"dependencies,omitempty"`
	EstimatedTokens int           `json:"estimatedTokens,omitempty"`
	Actions         []plan.Action `json:"actions,omitempty"`
	Index           *int          `json:"index,omitempty"`
}

func (AddTask) Kind() Kind { return KindAdd }
func (AddTask) Target() Target { return TargetTask }
func (AddTask) Priority() int { return TargetTask.Priority() }

func (o AddTask) TargetID() string {
	if o.ID == "" {
		return ""
	}
	return plan.TaskKey(o.PhaseID, o.ID)
}

func (o AddTask) Describe() string {
	if o.ID != "" {
		return fmt.Sprintf("add task %s to phase %s", o.ID, o.PhaseID)
	}
	return fmt.Sprintf("add task %q to phase %s", o.Name, o.PhaseID)
}

func (o AddTask) Validate() error {
	var c checker
	c.check(o.PhaseID != "", "phaseId is required")
	c.check(strings.TrimSpace(o.Name) != "", "name is required")
	if o.ID != "" {
		c.check(ids.ValidSlug(o.ID), "id %q is not a valid slug", o.ID)
		c.check(!slices.Contains(o.Dependencies, o.ID), "task cannot depend on itself")
	}
	c.checkIDList("dependencies", o.Dependencies)
	c.check(o.EstimatedTokens >= 0, "estimatedTokens must not be negative")
	if o.Index != nil {
		c.check(*o.Index >= 0, "index must not be negative")
	}
	return c.err("add task")
}

func (o AddTask) apply(m *mutation) error {
	_, doc, err := m.phase(o.PhaseID)
	if err != nil {
		return err
	}
	if o.ID != "" {
		if _, exists := doc.Task(o.ID); exists {
			return errors.NewConflictError("task", plan.TaskKey(o.PhaseID, o.ID), "task id already exists in phase")
		}
	}

	index := len(doc.Tasks)
	if o.Index != nil {
		if *o.Index > len(doc.Tasks) {
			return errors.NewValidationError(fmt.Sprintf("index %d is out of range", *o.Index)).
				WithField("index").WithValue(*o.Index).
				WithIssues(fmt.Sprintf("index must be between 0 and %d", len(doc.Tasks)))
		}
		index = *o.Index
	}

	task := newTask(plan.Task{
		ID:              o.ID,
		Name:            o.Name,
		Description:     o.Description,
		Type:            o.Type,
		Dependencies:    o.Dependencies,
		EstimatedTokens: o.EstimatedTokens,
		Actions:         o.Actions,
	}, doc.TaskIDs())

	doc.Tasks = slices.Insert(doc.Tasks, index, task)
	m.tree.MarkDirty(o.PhaseID)

	m.targetID = plan.TaskKey(o.PhaseID, task.ID)
	m.after = task
	return nil
}

// UpdateTask edits the allow-listed fields of an existing task. Nil fields
// are left unchanged.
type UpdateTask struct {
	PhaseID         string         `json:"phaseId"`
	ID              string         `json:"id"`
	Name            *string        `json:"name,omitempty"`
	Description     *string        `json:"description,omitempty"`
	Type            *string        `json:"type,omitempty"`
	Dependencies    *[]string      `json:"dependencies,omitempty"`
	EstimatedTokens *int           `json:"estimatedTokens,omitempty"`
	Actions         *[]plan.Action `json:"actions,omitempty"`
	Force           bool           `json:"force,omitempty"`
}

func (UpdateTask) Kind() Kind { return KindUpdate }
func (UpdateTask) Target() Target { return TargetTask }
func (UpdateTask) Priority() int { return TargetTask.Priority() }
func (o UpdateTask) TargetID() string { return plan.TaskKey(o.PhaseID, o.ID) }

func (o UpdateTask) Describe() string {
	return fmt.Sprintf("update task %s in phase %s", o.ID, o.PhaseID)
}

func (o UpdateTask) Validate() error {
	var c checker
	c.check(o.PhaseID != "", "phaseId is required")
	c.check(o.ID != "", "id is required")
	c.check(o.Name != nil || o.Description != nil || o.Type != nil || o.Dependencies != nil ||
		o.EstimatedTokens != nil || o.Actions != nil,
		"at least one field must be set")
	if o.Name != nil {
		c.check(strings.TrimSpace(*o.Name) != "", "name must not be empty")
	}
	if o.Dependencies != nil {
		c.checkIDList("dependencies", *o.Dependencies)
		c.check(!slices.Contains(*o.Dependencies, o.ID), "task cannot depend on itself")
	}
	if o.EstimatedTokens != nil {
		c.check(*o.EstimatedTokens >= 0, "estimatedTokens must not be negative")
	}
	return c.err("update task")
}

func (o UpdateTask) apply(m *mutation) error {
	doc, task, err := m.task(o.PhaseID, o.ID)
	if err != nil {
		return err
	}
	key := plan.TaskKey(o.PhaseID, o.ID)
	check := validation.CheckMutation("task", key, m.tree.TaskStatus(o.PhaseID, o.ID), nil, m.force(o.Force))
	if err := check.Err("task", key); err != nil {
		return err
	}
	m.warn(check.Warnings...)

	m.targetID = key
	m.before = cloneTask(task)

	if o.Name != nil {
		task.Name = *o.Name
	}
	if o.Description != nil {
		task.Description = *o.Description
	}
	if o.Type != nil {
		task.Type = *o.Type
	}
	if o.Dependencies != nil {
		deps := nonNil(slices.Clone(*o.Dependencies))
		g := validation.TaskGraph(doc)
		for _, dep := range deps {
			if g.WouldCreateCycle(o.ID, dep) {
				return errors.NewValidationError(fmt.Sprintf("depending on %s would create a cycle", dep)).
					WithField("dependencies").WithValue(dep).
					WithIssues(fmt.Sprintf("%s already depends on %s", dep, o.ID))
			}
		}
		task.Dependencies = deps
	}
	if o.EstimatedTokens != nil {
		task.EstimatedTokens = *o.EstimatedTokens
	}
	if o.Actions != nil {
		task.Actions = slices.Clone(*o.Actions)
		if task.Actions == nil {
			task.Actions = []plan.Action{}
		}
	}

	m.tree.MarkDirty(o.PhaseID)
	m.after = cloneTask(task)
	return nil
}

// RemoveTask deletes a task and its execution-state entry.
type RemoveTask struct {
	PhaseID string `json:"phaseId"`
	ID      string `json:"id"`
	Force   bool   `json:"force,omitempty"`
}

func (RemoveTask) Kind() Kind { return KindDelete }
func (RemoveTask) Target() Target { return TargetTask }
func (RemoveTask) Priority() int { return TargetTask.Priority() }
func (o RemoveTask) TargetID() string { return plan.TaskKey(o.PhaseID, o.ID) }

func (o RemoveTask) Describe() string {
	return fmt.Sprintf("remove task %s from phase %s", o.ID, o.PhaseID)
}

func (o RemoveTask) Validate() error {
	var c checker
	c.check(o.PhaseID != "", "phaseId is required")
	c.check(o.ID != "", "id is required")
	return c.err("remove task")
}

func (o RemoveTask) apply(m *mutation) error {
	check := validation.CanDeleteTask(o.PhaseID, o.ID, m.tree, validation.DeleteOptions{Force: m.force(o.Force)})
	if check.Code == validation.CodeNotFound {
		if _, ok := m.tree.Phases[o.PhaseID]; !ok {
			return errors.NewNotFoundError("phase", o.PhaseID)
		}
	}
	key := plan.TaskKey(o.PhaseID, o.ID)
	if err := check.Err("task", key); err != nil {
		return err
	}
	m.warn(check.Warnings...)

	doc := m.tree.Phases[o.PhaseID]
	idx := doc.TaskIndex(o.ID)
	m.targetID = key
	m.before = cloneTask(&doc.Tasks[idx])

	doc.Tasks = slices.Delete(doc.Tasks, idx, idx+1)
	m.tree.MarkDirty(o.PhaseID)
	return nil
}

// ReorderTasks replaces a phase's task order. Order must be an exact
// permutation of the phase's task ids.
type ReorderTasks struct {
	PhaseID string   `json:"phaseId"`
	Order   []string `json:"order"`
	Force   bool     `json:"force,omitempty"`
}

func (ReorderTasks) Kind() Kind { return KindUpdate }
func (ReorderTasks) Target() Target { return TargetTask }
func (ReorderTasks) Priority() int { return TargetTask.Priority() }
func (ReorderTasks) TargetID() string { return "" }
func (o ReorderTasks) Describe() string { return "reorder tasks in phase " + o.PhaseID }

func (o ReorderTasks) Validate() error {
	var c checker
	c.check(o.PhaseID != "", "phaseId is required")
	c.check(len(o.Order) > 0, "order is required")
	return c.err("reorder tasks")
}

func (o ReorderTasks) apply(m *mutation) error {
	_, doc, err := m.phase(o.PhaseID)
	if err != nil {
		return err
	}
	current := doc.TaskIDs()
	if issues := permutationIssues(current, o.Order); len(issues) > 0 {
		return errors.NewConflictError("task", o.PhaseID,
			"new order must be a permutation of the phase's task ids: "+strings.Join(issues, ", "))
	}

	for _, id := range Moved(current, o.Order) {
		key := plan.TaskKey(o.PhaseID, id)
		check := validation.CheckMutation("task", key, m.tree.TaskStatus(o.PhaseID, id), nil, m.force(o.Force))
		if err := check.Err("task", key); err != nil {
			return err
		}
		m.warn(check.Warnings...)
	}

	reordered := make([]plan.Task, 0, len(doc.Tasks))
	position := make(map[string]int, len(o.Order))
	for i, id := range o.Order {
		task, _ := doc.Task(id)
		reordered = append(reordered, *task)
		position[id] = i
	}
	for i, task := range reordered {
		for _, dep := range task.Dependencies {
			if pos, ok := position[dep]; ok && pos > i {
				m.warn(fmt.Sprintf("task %s now precedes its dependency %s", task.ID, dep))
			}
		}
	}
	doc.Tasks = reordered
	m.tree.MarkDirty(o.PhaseID)

	m.targetID = o.PhaseID
	m.before = current
	m.after = slices.Clone(o.Order)
	return nil
}
