package execstate

import (
	"strings"

	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/planeditor/validation"
)

// OperationSafety is the classification of one operation in a batch.
type OperationSafety struct {
	Index         int               `json:"index"`
	Kind          operations.Kind   `json:"type"`
	Target        operations.Target `json:"target"`
	TargetID      string            `json:"targetId,omitempty"`
	Description   string            `json:"description"`
	Code          string            `json:"code,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	RequiresForce bool              `json:"requiresForce,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// SafetyReport splits a batch into operations that may run against the
// current execution state and operations that are blocked.
type SafetyReport struct {
	Safe     []OperationSafety `json:"safe"`
	Blocked  []OperationSafety `json:"blocked"`
	Warnings []string          `json:"warnings,omitempty"`
}

// HasBlocked reports whether any operation is blocked.
func (r *SafetyReport) HasBlocked() bool {
	return len(r.Blocked) > 0
}

// BlockedWith returns the blocked entries carrying code.
func (r *SafetyReport) BlockedWith(code string) []OperationSafety {
	var out []OperationSafety
	for _, b := range r.Blocked {
		if b.Code == code {
			out = append(out, b)
		}
	}
	return out
}

// SafeOperations returns the operations of ops classified safe, in
// submission order.
func (r *SafetyReport) SafeOperations(ops []operations.Operation) []operations.Operation {
	out := make([]operations.Operation, 0, len(r.Safe))
	for _, s := range r.Safe {
		out = append(out, ops[s.Index])
	}
	return out
}

// Classify decides, without mutating anything, which operations of ops may
// run against tree. Adds and metadata operations are always safe. Every
// other operation goes through the same precedence the handlers enforce:
// in-progress items are blocked regardless of force, items with active
// dependents cannot be removed, and completed items need force.
//
// Operations whose target does not exist are classified safe; the handler
// reports them as not found.
//
// A removal does not count against its dependency when the dependent is
// removed in the same batch, but only while that removal is itself safe.
// Blocked removals leave the exemption set and the batch is classified
// again until the set stops shrinking.
func Classify(t *plan.Tree, ops []operations.Operation, force bool) *SafetyReport {
	removingPhases, removingTasks := operations.RemovalsOf(ops)
	for {
		report := classifyAll(t, ops, force, removingPhases, removingTasks)
		phases, tasks := exemptRemovals(ops, report, removingPhases, removingTasks)
		if len(phases) == len(removingPhases) && len(tasks) == len(removingTasks) {
			return report
		}
		removingPhases, removingTasks = phases, tasks
	}
}

func classifyAll(t *plan.Tree, ops []operations.Operation, force bool, removingPhases, removingTasks []string) *SafetyReport {
	report := &SafetyReport{Safe: []OperationSafety{}, Blocked: []OperationSafety{}}
	for i, op := range ops {
		entry := OperationSafety{
			Index:       i,
			Kind:        op.Kind(),
			Target:      op.Target(),
			TargetID:    op.TargetID(),
			Description: op.Describe(),
		}

		check := classify(t, op, force, removingPhases, removingTasks)
		entry.Warnings = check.Warnings
		report.Warnings = append(report.Warnings, check.Warnings...)
		if check.CanProceed || check.Code == validation.CodeNotFound {
			report.Safe = append(report.Safe, entry)
			continue
		}
		entry.Code = check.Code
		entry.Reason = check.Reason
		entry.RequiresForce = check.RequiresForce
		report.Blocked = append(report.Blocked, entry)
	}
	return report
}

// exemptRemovals drops the removals report blocked from the exemption sets.
func exemptRemovals(ops []operations.Operation, report *SafetyReport, phases, tasks []string) ([]string, []string) {
	blockedPhases := make(map[string]bool)
	blockedTasks := make(map[string]bool)
	for _, b := range report.Blocked {
		switch o := ops[b.Index].(type) {
		case operations.RemovePhase:
			blockedPhases[o.ID] = true
		case operations.RemoveTask:
			blockedTasks[plan.TaskKey(o.PhaseID, o.ID)] = true
		}
	}
	keep := func(ids []string, blocked map[string]bool) []string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if !blocked[id] {
				out = append(out, id)
			}
		}
		return out
	}
	return keep(phases, blockedPhases), keep(tasks, blockedTasks)
}

// CanSafelyUpdate loads the plan at planDir and classifies ops against its
// execution state.
func CanSafelyUpdate(planDir string, ops []operations.Operation, force bool) (*SafetyReport, error) {
	tree, err := load(planDir)
	if err != nil {
		return nil, err
	}
	return Classify(tree, ops, force), nil
}

func classify(t *plan.Tree, op operations.Operation, force bool, removingPhases, removingTasks []string) validation.SafetyCheck {
	proceed := validation.SafetyCheck{CanProceed: true}

	switch o := op.(type) {
	case operations.UpdatePhase:
		if _, ok := t.Plan.Phase(o.ID); !ok {
			return notFound()
		}
		return validation.CheckMutation("phase", o.ID, t.PhaseStatus(o.ID), nil, force || o.Force)

	case operations.RemovePhase:
		return validation.CanDeletePhase(o.ID, t, validation.DeleteOptions{
			Force:    force || o.Force,
			Removing: removingPhases,
		})

	case operations.ReorderPhases:
		current := t.Plan.PhaseIDs()
		if len(current) != len(o.Order) {
			return proceed
		}
		return firstBlocked(operations.Moved(current, o.Order), func(id string) validation.SafetyCheck {
			if _, ok := t.Plan.Phase(id); !ok {
				return notFound()
			}
			return validation.CheckMutation("phase", id, t.PhaseStatus(id), nil, force || o.Force)
		})

	case operations.UpdateTask:
		if !taskExists(t, o.PhaseID, o.ID) {
			return notFound()
		}
		key := plan.TaskKey(o.PhaseID, o.ID)
		return validation.CheckMutation("task", key, t.TaskStatus(o.PhaseID, o.ID), nil, force || o.Force)

	case operations.RemoveTask:
		return validation.CanDeleteTask(o.PhaseID, o.ID, t, validation.DeleteOptions{
			Force:    force || o.Force,
			Removing: tasksIn(o.PhaseID, removingTasks),
		})

	case operations.ReorderTasks:
		doc, ok := t.Phases[o.PhaseID]
		if !ok {
			return notFound()
		}
		current := doc.TaskIDs()
		if len(current) != len(o.Order) {
			return proceed
		}
		return firstBlocked(operations.Moved(current, o.Order), func(id string) validation.SafetyCheck {
			if !taskExists(t, o.PhaseID, id) {
				return notFound()
			}
			key := plan.TaskKey(o.PhaseID, id)
			return validation.CheckMutation("task", key, t.TaskStatus(o.PhaseID, id), nil, force || o.Force)
		})
	}

	return proceed
}

// firstBlocked runs check over ids and returns the first blocking result,
// or a passing result carrying every warning.
func firstBlocked(ids []string, check func(string) validation.SafetyCheck) validation.SafetyCheck {
	out := validation.SafetyCheck{CanProceed: true}
	for _, id := range ids {
		c := check(id)
		if !c.CanProceed {
			return c
		}
		out.Warnings = append(out.Warnings, c.Warnings...)
	}
	return out
}

func notFound() validation.SafetyCheck {
	return validation.SafetyCheck{Code: validation.CodeNotFound}
}

func taskExists(t *plan.Tree, phaseID, taskID string) bool {
	doc, ok := t.Phases[phaseID]
	if !ok {
		return false
	}
	_, ok = doc.Task(taskID)
	return ok
}

// tasksIn returns the task ids of keys that belong to phaseID.
func tasksIn(phaseID string, keys []string) []string {
	var out []string
	for _, key := range keys {
		if p, id, ok := strings.Cut(key, "/"); ok && p == phaseID {
			out = append(out, id)
		}
	}
	return out
}
