// Package execstate reads and records the live execution state of a plan.
//
// The execution state document is the only record of whether a phase or
// task already ran. This package derives safety facts from it for the
// update paths, records status transitions reported by an external
// executor, and watches the document for changes made by other processes.
package execstate

import (
	"time"

	"github.com/Iron-Ham/planstore/internal/plan"
)

// Summary is a read-only view of a plan's execution state. Phase lists
// follow plan order and task lists hold phase/task keys in document order,
// so two summaries of the same state compare equal.
type Summary struct {
	PlanID       string      `json:"planId"`
	Status       plan.Status `json:"status"`
	HasStarted   bool        `json:"hasStarted"`
	IsExecuting  bool        `json:"isExecuting"`
	IsComplete   bool        `json:"isComplete"`
	CurrentPhase string      `json:"currentPhase,omitempty"`

	CompletedPhases  []string `json:"completedPhases"`
	InProgressPhases []string `json:"inProgressPhases"`
	FailedPhases     []string `json:"failedPhases"`
	PendingPhases    []string `json:"pendingPhases"`

	CompletedTasks  []string `json:"completedTasks"`
	InProgressTasks []string `json:"inProgressTasks"`
	FailedTasks     []string `json:"failedTasks"`
	PendingTasks    []string `json:"pendingTasks"`

	Errors      []plan.ExecutionError `json:"errors,omitempty"`
	StartedAt   *time.Time            `json:"startedAt,omitempty"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
	LastUpdated *time.Time            `json:"lastUpdated,omitempty"`
	Progress    plan.Progress         `json:"progress"`
}

// Summarize derives a Summary from an in-memory tree.
func Summarize(t *plan.Tree) *Summary {
	s := &Summary{
		PlanID:           t.Plan.ID,
		Status:           t.Plan.Status,
		HasStarted:       t.State.HasStarted(),
		CurrentPhase:     t.State.CurrentPhase,
		CompletedPhases:  []string{},
		InProgressPhases: []string{},
		FailedPhases:     []string{},
		PendingPhases:    []string{},
		CompletedTasks:   []string{},
		InProgressTasks:  []string{},
		FailedTasks:      []string{},
		PendingTasks:     []string{},
		Errors:           t.State.Errors,
		StartedAt:        t.State.StartedAt,
		CompletedAt:      t.State.CompletedAt,
		LastUpdated:      t.State.LastUpdated,
	}

	for _, ref := range t.Plan.Phases {
		switch t.PhaseStatus(ref.ID) {
		case plan.StatusCompleted:
			s.CompletedPhases = append(s.CompletedPhases, ref.ID)
		case plan.StatusInProgress:
			s.InProgressPhases = append(s.InProgressPhases, ref.ID)
		case plan.StatusFailed:
			s.FailedPhases = append(s.FailedPhases, ref.ID)
		default:
			s.PendingPhases = append(s.PendingPhases, ref.ID)
		}

		doc, ok := t.Phases[ref.ID]
		if !ok {
			continue
		}
		for _, task := range doc.Tasks {
			key := plan.TaskKey(ref.ID, task.ID)
			switch t.TaskStatus(ref.ID, task.ID) {
			case plan.StatusCompleted:
				s.CompletedTasks = append(s.CompletedTasks, key)
			case plan.StatusInProgress:
				s.InProgressTasks = append(s.InProgressTasks, key)
			case plan.StatusFailed:
				s.FailedTasks = append(s.FailedTasks, key)
			default:
				s.PendingTasks = append(s.PendingTasks, key)
			}
		}
	}

	s.IsExecuting = len(s.InProgressPhases) > 0 || len(s.InProgressTasks) > 0
	s.IsComplete = len(t.Plan.Phases) > 0 && len(s.CompletedPhases) == len(t.Plan.Phases)
	if s.CurrentPhase == "" && len(s.InProgressPhases) > 0 {
		s.CurrentPhase = s.InProgressPhases[0]
	}

	s.Progress = t.ComputeProgress()
	return s
}

// GetExecutionState loads the plan at planDir and summarizes its execution
// state. It never writes.
func GetExecutionState(planDir string) (*Summary, error) {
	tree, err := load(planDir)
	if err != nil {
		return nil, err
	}
	return Summarize(tree), nil
}

// TaskOutcomes maps every task's phase/task key to its resolved status.
func TaskOutcomes(t *plan.Tree) map[string]plan.Status {
	out := make(map[string]plan.Status)
	for _, ref := range t.Plan.Phases {
		doc, ok := t.Phases[ref.ID]
		if !ok {
			continue
		}
		for _, task := range doc.Tasks {
			out[plan.TaskKey(ref.ID, task.ID)] = t.TaskStatus(ref.ID, task.ID)
		}
	}
	return out
}

// Counts tallies task outcomes by status.
func Counts(outcomes map[string]plan.Status) map[plan.Status]int {
	counts := map[plan.Status]int{
		plan.StatusPending:    0,
		plan.StatusInProgress: 0,
		plan.StatusCompleted:  0,
		plan.StatusFailed:     0,
	}
	for _, st := range outcomes {
		counts[st]++
	}
	return counts
}

func load(planDir string) (*plan.Tree, error) {
	dir, err := plan.Open(planDir)
	if err != nil {
		return nil, err
	}
	return dir.Load()
}
