package execstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/Iron-Ham/planstore/internal/plan"
)

// Recorder applies status transitions reported by an executor. Allowed
// transitions are pending -> in-progress, in-progress -> completed or
// failed, and failed -> in-progress for a retry. Anything else is a
// *errors.ConflictError and leaves the plan unchanged.
//
// Each transition takes the plan lock, reloads the plan, and writes the
// execution state together with the structural status mirrors.
type Recorder struct {
	dir    *plan.Dir
	logger *logging.Logger
	now    func() time.Time

	mu sync.Mutex
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the Recorder's logger.
func WithRecorderLogger(l *logging.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logging.OrNop(l) }
}

// WithRecorderClock overrides the clock used for timestamps.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a Recorder for the plan at planDir.
func NewRecorder(planDir string, opts ...RecorderOption) (*Recorder, error) {
	dir, err := plan.Open(planDir)
	if err != nil {
		return nil, err
	}
	r := &Recorder{dir: dir, logger: logging.NopLogger(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func allowed(from, to plan.Status) bool {
	switch to {
	case plan.StatusInProgress:
		return from == plan.StatusPending || from == plan.StatusFailed
	case plan.StatusCompleted, plan.StatusFailed:
		return from == plan.StatusInProgress
	}
	return false
}

func transitionError(kind, id string, from, to plan.Status) error {
	return errors.NewConflictError(kind, id, fmt.Sprintf("cannot move from %s to %s", from, to))
}

// StartPhase marks a phase in progress and makes it the current phase.
func (r *Recorder) StartPhase(phaseID string) error {
	return r.update(func(t *plan.Tree, now time.Time) error {
		ref, doc, err := r.phase(t, phaseID, plan.StatusInProgress)
		if err != nil {
			return err
		}
		setPhaseStatus(t, ref, doc, plan.StatusInProgress)
		doc.Metrics.StartTime = &now
		doc.Metrics.EndTime = nil
		t.State.CurrentPhase = phaseID
		if t.State.StartedAt == nil {
			t.State.StartedAt = &now
		}
		t.State.CompletedAt = nil
		t.Plan.Status = plan.StatusInProgress
		r.logger.Info("phase started", "phase_id", phaseID)
		return nil
	})
}

// CompletePhase marks a phase completed and records its actual token
// spend. When every phase is completed the plan is completed too.
func (r *Recorder) CompletePhase(phaseID string, actualTokens int) error {
	return r.update(func(t *plan.Tree, now time.Time) error {
		ref, doc, err := r.phase(t, phaseID, plan.StatusCompleted)
		if err != nil {
			return err
		}
		setPhaseStatus(t, ref, doc, plan.StatusCompleted)
		doc.Metrics.EndTime = &now
		doc.Metrics.ActualTokens = actualTokens
		doc.Metrics.SuccessRate = successRate(t, phaseID, doc)
		if t.State.CurrentPhase == phaseID {
			t.State.CurrentPhase = ""
		}

		if allPhases(t, plan.StatusCompleted) {
			t.State.CompletedAt = &now
			t.Plan.Status = plan.StatusCompleted
		}
		r.logger.Info("phase completed", "phase_id", phaseID, "actual_tokens", actualTokens)
		return nil
	})
}

// FailPhase marks a phase failed and records message in the state's error
// list. The plan stays in progress so the phase can be retried.
func (r *Recorder) FailPhase(phaseID, message string) error {
	return r.update(func(t *plan.Tree, now time.Time) error {
		ref, doc, err := r.phase(t, phaseID, plan.StatusFailed)
		if err != nil {
			return err
		}
		setPhaseStatus(t, ref, doc, plan.StatusFailed)
		ref.RetryCount++
		doc.Metrics.EndTime = &now
		doc.Metrics.SuccessRate = successRate(t, phaseID, doc)
		t.State.Errors = append(t.State.Errors, plan.ExecutionError{
			PhaseID:   phaseID,
			Message:   message,
			Timestamp: now,
		})
		r.logger.Warn("phase failed", "phase_id", phaseID, "error", message)
		return nil
	})
}

// StartTask marks a task in progress.
func (r *Recorder) StartTask(phaseID, taskID string) error {
	return r.update(func(t *plan.Tree, now time.Time) error {
		task, err := r.task(t, phaseID, taskID, plan.StatusInProgress)
		if err != nil {
			return err
		}
		setTaskStatus(t, phaseID, task, plan.StatusInProgress)
		task.Result = nil
		if t.State.StartedAt == nil {
			t.State.StartedAt = &now
		}
		if t.Plan.Status == plan.StatusPending {
			t.Plan.Status = plan.StatusInProgress
		}
		return nil
	})
}

// CompleteTask marks a task completed with its output and result summary.
func (r *Recorder) CompleteTask(phaseID, taskID string, output *plan.TaskOutput, summary string) error {
	return r.update(func(t *plan.Tree, _ time.Time) error {
		task, err := r.task(t, phaseID, taskID, plan.StatusCompleted)
		if err != nil {
			return err
		}
		setTaskStatus(t, phaseID, task, plan.StatusCompleted)
		task.Output = output
		task.Result = &plan.TaskResult{Success: true, Summary: summary}
		return nil
	})
}

// FailTask marks a task failed and records message.
func (r *Recorder) FailTask(phaseID, taskID, message string) error {
	return r.update(func(t *plan.Tree, now time.Time) error {
		task, err := r.task(t, phaseID, taskID, plan.StatusFailed)
		if err != nil {
			return err
		}
		setTaskStatus(t, phaseID, task, plan.StatusFailed)
		task.Result = &plan.TaskResult{Success: false, Error: message}
		t.State.Errors = append(t.State.Errors, plan.ExecutionError{
			PhaseID:   phaseID,
			TaskID:    taskID,
			Message:   message,
			Timestamp: now,
		})
		return nil
	})
}

// FinishPlan stamps the end of a run. A run that left any phase
// unfinished marks the plan failed.
func (r *Recorder) FinishPlan() error {
	return r.update(func(t *plan.Tree, now time.Time) error {
		t.State.CurrentPhase = ""
		t.State.CompletedAt = &now
		if allPhases(t, plan.StatusCompleted) {
			t.Plan.Status = plan.StatusCompleted
		} else {
			t.Plan.Status = plan.StatusFailed
		}
		return nil
	})
}

func (r *Recorder) update(fn func(t *plan.Tree, now time.Time) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, err := docstore.Lock(r.dir.Path)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	tree, err := r.dir.Load()
	if err != nil {
		return err
	}
	tree.Reconcile()

	now := r.now().UTC()
	if err := fn(tree, now); err != nil {
		return err
	}
	tree.State.LastUpdated = &now
	tree.RefreshProgress()
	return r.dir.Save(tree)
}

func (r *Recorder) phase(t *plan.Tree, phaseID string, to plan.Status) (*plan.PhaseRef, *plan.PhaseDocument, error) {
	ref, ok := t.Plan.Phase(phaseID)
	if !ok {
		return nil, nil, errors.NewNotFoundError("phase", phaseID)
	}
	doc, ok := t.Phases[phaseID]
	if !ok {
		return nil, nil, errors.NewNotFoundError("phase", phaseID)
	}
	if from := t.PhaseStatus(phaseID); !allowed(from, to) {
		return nil, nil, transitionError("phase", phaseID, from, to)
	}
	return ref, doc, nil
}

func (r *Recorder) task(t *plan.Tree, phaseID, taskID string, to plan.Status) (*plan.Task, error) {
	doc, ok := t.Phases[phaseID]
	if !ok {
		return nil, errors.NewNotFoundError("phase", phaseID)
	}
	task, ok := doc.Task(taskID)
	if !ok {
		return nil, errors.NewNotFoundError("task", plan.TaskKey(phaseID, taskID))
	}
	if from := t.TaskStatus(phaseID, taskID); !allowed(from, to) {
		return nil, transitionError("task", plan.TaskKey(phaseID, taskID), from, to)
	}
	return task, nil
}

// setPhaseStatus writes status to the execution state and mirrors it onto
// the structural documents.
func setPhaseStatus(t *plan.Tree, ref *plan.PhaseRef, doc *plan.PhaseDocument, status plan.Status) {
	t.State.PhaseStatuses[ref.ID] = status
	ref.Status = status
	doc.Status = status
	t.MarkDirty(ref.ID)
}

func setTaskStatus(t *plan.Tree, phaseID string, task *plan.Task, status plan.Status) {
	if t.State.TaskStatuses[phaseID] == nil {
		t.State.TaskStatuses[phaseID] = make(map[string]plan.Status)
	}
	t.State.TaskStatuses[phaseID][task.ID] = status
	task.Status = status
	t.MarkDirty(phaseID)
}

func successRate(t *plan.Tree, phaseID string, doc *plan.PhaseDocument) float64 {
	if len(doc.Tasks) == 0 {
		return 1
	}
	completed := 0
	for _, task := range doc.Tasks {
		if t.TaskStatus(phaseID, task.ID) == plan.StatusCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(doc.Tasks))
}

func allPhases(t *plan.Tree, status plan.Status) bool {
	for _, ref := range t.Plan.Phases {
		if t.PhaseStatus(ref.ID) != status {
			return false
		}
	}
	return len(t.Plan.Phases) > 0
}
