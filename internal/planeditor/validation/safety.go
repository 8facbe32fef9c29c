package validation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/plan"
)

// Block codes reported by the safety checks.
const (
	CodeInProgress             = "IN_PROGRESS"
	CodeHasDependents          = "HAS_DEPENDENTS"
	CodeCompletedRequiresForce = "COMPLETED_REQUIRES_FORCE"
	CodeNotFound               = "NOT_FOUND"
)

// SafetyCheck is the outcome of a mutation or deletion safety check.
type SafetyCheck struct {
	CanProceed    bool     `json:"canProceed"`
	Reason        string   `json:"reason,omitempty"`
	Code          string   `json:"code,omitempty"`
	RequiresForce bool     `json:"requiresForce,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Err returns nil when the check passed, otherwise a
// *errors.BlockedOperationError carrying the reason and code.
func (c SafetyCheck) Err(targetType, targetID string) error {
	if c.CanProceed {
		return nil
	}
	if c.Code == CodeNotFound {
		return errors.NewNotFoundError(targetType, targetID)
	}
	return errors.NewBlockedOperationError(targetType, targetID, c.Code, c.Reason, c.RequiresForce)
}

// CheckMutation applies the single precedence rule used for every mutation
// of an existing phase or task:
//
//  1. in-progress items are never mutated, force or not
//  2. items with active dependents cannot be removed
//  3. completed items require force, and proceed with a warning under force
//  4. anything else may proceed
//
// activeDependents is only meaningful for deletions; pass nil otherwise.
func CheckMutation(kind, id string, status plan.Status, activeDependents []string, force bool) SafetyCheck {
	switch {
	case status == plan.StatusInProgress:
		return SafetyCheck{
			Reason: fmt.Sprintf("%s %s is in progress and cannot be modified until it finishes", kind, id),
			Code:   CodeInProgress,
		}

	case len(activeDependents) > 0:
		return SafetyCheck{
			Reason: fmt.Sprintf("%s %s is a dependency of %s", kind, id, strings.Join(activeDependents, ", ")),
			Code:   CodeHasDependents,
		}

	case status == plan.StatusCompleted && !force:
		return SafetyCheck{
			Reason:        fmt.Sprintf("%s %s is already completed", kind, id),
			Code:          CodeCompletedRequiresForce,
			RequiresForce: true,
		}

	case status == plan.StatusCompleted:
		return SafetyCheck{
			CanProceed: true,
			Warnings:   []string{fmt.Sprintf("%s %s is completed; modifying it under force discards its execution record", kind, id)},
		}

	case status == plan.StatusFailed:
		return SafetyCheck{
			CanProceed: true,
			Warnings:   []string{fmt.Sprintf("%s %s previously failed", kind, id)},
		}
	}
	return SafetyCheck{CanProceed: true}
}

// DeleteOptions configures a deletion safety check.
type DeleteOptions struct {
	Force bool
	// Removing lists ids removed in the same batch; dependents among them do
	// not block the deletion.
	Removing []string
}

// CanDeletePhase decides whether phase id can be removed from the plan.
func CanDeletePhase(id string, t *plan.Tree, opts DeleteOptions) SafetyCheck {
	if _, ok := t.Plan.Phase(id); !ok {
		return SafetyCheck{Reason: fmt.Sprintf("phase %s not found", id), Code: CodeNotFound}
	}

	var active []string
	for _, dep := range t.Plan.Dependents(id) {
		if !slices.Contains(opts.Removing, dep) {
			active = append(active, dep)
		}
	}

	check := CheckMutation("phase", id, t.PhaseStatus(id), active, opts.Force)
	if !check.CanProceed {
		return check
	}

	// A completed phase may still hold in-progress tasks if the executor
	// reported them late; those block the deletion too.
	if doc, ok := t.Phases[id]; ok {
		for _, task := range doc.Tasks {
			if t.TaskStatus(id, task.ID) == plan.StatusInProgress {
				return SafetyCheck{
					Reason: fmt.Sprintf("phase %s has task %s in progress", id, task.ID),
					Code:   CodeInProgress,
				}
			}
		}
	}
	return check
}

// CanDeleteTask decides whether task taskID can be removed from phaseID.
func CanDeleteTask(phaseID, taskID string, t *plan.Tree, opts DeleteOptions) SafetyCheck {
	doc, ok := t.Phases[phaseID]
	if !ok {
		return SafetyCheck{Reason: fmt.Sprintf("phase %s not found", phaseID), Code: CodeNotFound}
	}
	if _, ok := doc.Task(taskID); !ok {
		return SafetyCheck{Reason: fmt.Sprintf("task %s not found in phase %s", taskID, phaseID), Code: CodeNotFound}
	}

	var active []string
	for _, dep := range doc.Dependents(taskID) {
		if !slices.Contains(opts.Removing, dep) {
			active = append(active, dep)
		}
	}

	return CheckMutation("task", taskID, t.TaskStatus(phaseID, taskID), active, opts.Force)
}
