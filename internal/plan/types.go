// Package plan defines the persisted plan model: the orchestration document,
// its phase documents, and the execution state ledger, plus the helpers that
// keep them consistent with each other.
package plan

import (
	"time"
)

// Status is the lifecycle status shared by plans, phases, and tasks.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if the status is completed or failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Execution strategies.
const (
	StrategySequential      = "sequential"
	StrategyParallel        = "parallel"
	StrategyDependencyBased = "dependency-based"
)

// Phase types.
const (
	PhaseTypeSequential = "sequential"
	PhaseTypeParallel   = "parallel"
)

// Plan is the orchestration document (orchestration.json).
type Plan struct {
	ID               string            `json:"id" validate:"required,slug"`
	Name             string            `json:"name" validate:"required"`
	Description      string            `json:"description,omitempty"`
	Status           Status            `json:"status" validate:"required,status"`
	Version          string            `json:"version" validate:"required"`
	Created          time.Time         `json:"created"`
	Modified         time.Time         `json:"modified"`
	Phases           []PhaseRef        `json:"phases" validate:"min=1,dive"`
	Execution        ExecutionConfig   `json:"execution"`
	Progress         Progress          `json:"progress"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ExecutionHistory []HistoryEntry    `json:"executionHistory,omitempty"`
}

// ExecutionConfig controls how the scheduler runs a plan.
type ExecutionConfig struct {
	Strategy          string      `json:"strategy" validate:"required,oneof=sequential parallel dependency-based"`
	MaxParallelPhases int         `json:"maxParallelPhases" validate:"min=1,max=32"`
	TokenBudget       TokenBudget `json:"tokenBudget"`
	RetryPolicy       RetryPolicy `json:"retryPolicy"`
}

// TokenBudget bounds token spend. Zero Total means unlimited.
type TokenBudget struct {
	Total            int     `json:"total" validate:"min=0"`
	PerPhase         int     `json:"perPhase" validate:"min=0"`
	WarningThreshold float64 `json:"warningThreshold" validate:"min=0,max=1"`
}

// RetryPolicy bounds scheduler-level retries of a failed phase.
type RetryPolicy struct {
	MaxAttempts int `json:"maxAttempts" validate:"min=0,max=10"`
	BackoffMs   int `json:"backoffMs" validate:"min=0"`
}

// Progress is the derived progress snapshot stored on the plan.
type Progress struct {
	TotalPhases     int    `json:"totalPhases" validate:"min=0"`
	CompletedPhases int    `json:"completedPhases" validate:"min=0,ltefield=TotalPhases"`
	CurrentPhase    string `json:"currentPhase,omitempty"`
	TotalTasks      int    `json:"totalTasks" validate:"min=0"`
	CompletedTasks  int    `json:"completedTasks" validate:"min=0,ltefield=TotalTasks"`
}

// PhaseRef is a phase's entry in the orchestration document.
type PhaseRef struct {
	ID                string   `json:"id" validate:"required,slug"`
	Name              string   `json:"name" validate:"required"`
	File              string   `json:"file" validate:"required"`
	Type              string   `json:"type" validate:"required,oneof=sequential parallel"`
	Dependencies      []string `json:"dependencies" validate:"dive,required"`
	Status            Status   `json:"status" validate:"required,status"`
	EstimatedTokens   int      `json:"estimatedTokens" validate:"min=0"`
	EstimatedDuration string   `json:"estimatedDuration,omitempty"`
	RetryCount        int      `json:"retryCount" validate:"min=0"`
}

// PhaseDocument is the per-phase document (phases/<id>.json).
type PhaseDocument struct {
	ID          string       `json:"id" validate:"required,slug"`
	Name        string       `json:"name" validate:"required"`
	Description string       `json:"description,omitempty"`
	Type        string       `json:"type" validate:"required,oneof=sequential parallel"`
	Status      Status       `json:"status" validate:"required,status"`
	Config      PhaseConfig  `json:"config"`
	Tasks       []Task       `json:"tasks" validate:"dive"`
	Metrics     PhaseMetrics `json:"metrics"`
}

// PhaseConfig is per-phase execution configuration.
type PhaseConfig struct {
	MaxParallelTasks int `json:"maxParallelTasks" validate:"min=0"`
	TimeoutMinutes   int `json:"timeoutMinutes" validate:"min=0"`
}

// PhaseMetrics records estimated and observed cost of a phase.
type PhaseMetrics struct {
	EstimatedTokens int        `json:"estimatedTokens" validate:"min=0"`
	ActualTokens    int        `json:"actualTokens" validate:"min=0"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	SuccessRate     float64    `json:"successRate" validate:"min=0,max=1"`
}

// Task is the smallest schedulable unit, scoped to its phase.
type Task struct {
	ID              string      `json:"id" validate:"required,slug"`
	Name            string      `json:"name" validate:"required"`
	Description     string      `json:"description,omitempty"`
	Type            string      `json:"type" validate:"required,oneof=implementation testing configuration documentation research review deployment other"`
	Status          Status      `json:"status" validate:"required,status"`
	Dependencies    []string    `json:"dependencies" validate:"dive,required"`
	EstimatedTokens int         `json:"estimatedTokens" validate:"min=0"`
	Actions         []Action    `json:"actions" validate:"dive"`
	Output          *TaskOutput `json:"output,omitempty"`
	Result          *TaskResult `json:"result,omitempty"`
}

// Action is one side effect a task performs. The engine only records it.
type Action struct {
	Type        string          `json:"type" validate:"required,oneof=create modify delete execute verify"`
	Target      string          `json:"target" validate:"required"`
	Description string          `json:"description,omitempty"`
	Validation  *ValidationSpec `json:"validation,omitempty"`
}

// ValidationSpec describes how the executor should verify an action.
type ValidationSpec struct {
	Type     string `json:"type" validate:"required"`
	Command  string `json:"command,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// TaskOutput lists what a task touched.
type TaskOutput struct {
	Files     []string `json:"files,omitempty"`
	Logs      []string `json:"logs,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// TaskResult is the executor's summary of a finished task.
type TaskResult struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecutionState is the live status ledger (execution-state.json). It is the
// single source of truth for whether an item already ran.
type ExecutionState struct {
	PlanID        string                       `json:"planId"`
	CurrentPhase  string                       `json:"currentPhase,omitempty"`
	PhaseStatuses map[string]Status            `json:"phaseStatuses"`
	TaskStatuses  map[string]map[string]Status `json:"taskStatuses"`
	Errors        []ExecutionError             `json:"errors,omitempty"`
	StartedAt     *time.Time                   `json:"startedAt,omitempty"`
	CompletedAt   *time.Time                   `json:"completedAt,omitempty"`
	LastUpdated   *time.Time                   `json:"lastUpdated,omitempty"`
}

// ExecutionError is an error reported by the executor.
type ExecutionError struct {
	PhaseID   string    `json:"phaseId,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry preserves a plan's progress across a rollback-and-replan.
type HistoryEntry struct {
	ReplannedAt    time.Time         `json:"replannedAt"`
	Reason         string            `json:"reason,omitempty"`
	PreviousStatus Status            `json:"previousStatus"`
	Progress       Progress          `json:"progress"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	TaskOutcomes   map[string]Status `json:"taskOutcomes"`
	Counts         map[Status]int    `json:"counts"`
	BackupPath     string            `json:"backupPath,omitempty"`
	LogsBackupPath string            `json:"logsBackupPath,omitempty"`
}

// TaskKey renders the phase-scoped key used in HistoryEntry.TaskOutcomes.
func TaskKey(phaseID, taskID string) string {
	return phaseID + "/" + taskID
}

// NewExecutionState returns an empty, not-yet-started state for planID.
func NewExecutionState(planID string) *ExecutionState {
	return &ExecutionState{
		PlanID:        planID,
		PhaseStatuses: make(map[string]Status),
		TaskStatuses:  make(map[string]map[string]Status),
	}
}

// HasStarted reports whether execution has begun.
func (s *ExecutionState) HasStarted() bool {
	if s == nil {
		return false
	}
	if s.StartedAt != nil {
		return true
	}
	for _, st := range s.PhaseStatuses {
		if st != StatusPending {
			return true
		}
	}
	for _, tasks := range s.TaskStatuses {
		for _, st := range tasks {
			if st != StatusPending {
				return true
			}
		}
	}
	return false
}

// PhaseIndex returns the position of phase id in p.Phases, or -1.
func (p *Plan) PhaseIndex(id string) int {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return i
		}
	}
	return -1
}

// Phase returns the PhaseRef for id.
func (p *Plan) Phase(id string) (*PhaseRef, bool) {
	if i := p.PhaseIndex(id); i >= 0 {
		return &p.Phases[i], true
	}
	return nil, false
}

// PhaseIDs returns phase ids in plan order.
func (p *Plan) PhaseIDs() []string {
	ids := make([]string, len(p.Phases))
	for i := range p.Phases {
		ids[i] = p.Phases[i].ID
	}
	return ids
}

// Dependents returns the ids of phases that depend directly on id, in plan order.
func (p *Plan) Dependents(id string) []string {
	var out []string
	for i := range p.Phases {
		for _, dep := range p.Phases[i].Dependencies {
			if dep == id {
				out = append(out, p.Phases[i].ID)
				break
			}
		}
	}
	return out
}

// TaskIndex returns the position of task id in d.Tasks, or -1.
func (d *PhaseDocument) TaskIndex(id string) int {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// Task returns the task with the given id.
func (d *PhaseDocument) Task(id string) (*Task, bool) {
	if i := d.TaskIndex(id); i >= 0 {
		return &d.Tasks[i], true
	}
	return nil, false
}

// TaskIDs returns task ids in document order.
func (d *PhaseDocument) TaskIDs() []string {
	ids := make([]string, len(d.Tasks))
	for i := range d.Tasks {
		ids[i] = d.Tasks[i].ID
	}
	return ids
}

// Dependents returns the ids of tasks in this phase that depend directly on id.
func (d *PhaseDocument) Dependents(id string) []string {
	var out []string
	for i := range d.Tasks {
		for _, dep := range d.Tasks[i].Dependencies {
			if dep == id {
				out = append(out, d.Tasks[i].ID)
				break
			}
		}
	}
	return out
}

// Targets returns the distinct action targets declared by the phase's tasks.
func (d *PhaseDocument) Targets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range d.Tasks {
		for _, a := range t.Actions {
			if !seen[a.Target] {
				seen[a.Target] = true
				out = append(out, a.Target)
			}
		}
	}
	return out
}

// EstimatedTokens sums task estimates, falling back to the metrics estimate.
func (d *PhaseDocument) EstimatedTokens() int {
	total := 0
	for _, t := range d.Tasks {
		total += t.EstimatedTokens
	}
	if total == 0 {
		return d.Metrics.EstimatedTokens
	}
	return total
}
