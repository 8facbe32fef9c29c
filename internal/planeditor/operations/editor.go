package operations

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/planstore/internal/audit"
	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/Iron-Ham/planstore/internal/metrics"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/planeditor/validation"
	"github.com/Iron-Ham/planstore/internal/result"
)

// ModeDirect is the audit mode of standalone handler calls.
const ModeDirect = "direct"

// Change describes one applied operation.
type Change struct {
	Kind        Kind     `json:"kind"`
	Target      Target   `json:"target"`
	TargetID    string   `json:"targetId,omitempty"`
	Description string   `json:"description"`
	Before      any      `json:"before,omitempty"`
	After       any      `json:"after,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`

	// Reconciled lists the execution-state entries seeded and pruned.
	Reconciled plan.ReconcileReport `json:"-"`
}

// persistError marks a failure that happened while writing documents, after
// which the plan directory may hold a partial write.
type persistError struct {
	err error
}

func (e *persistError) Error() string { return e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

// IsPersistError reports whether err came from writing plan documents. Such
// failures always require restoring a backup.
func IsPersistError(err error) bool {
	var pe *persistError
	return errors.As(err, &pe)
}

// Editor applies operations to one plan directory.
//
// Apply is the batch primitive: it validates, mutates a private copy of the
// tree, re-validates the whole plan, and only then writes. The handler
// methods (AddPhase, RemovePhase, ...) wrap Apply with the plan lock, a
// per-call backup, and an audit entry.
type Editor struct {
	dir  *plan.Dir
	tree *plan.Tree

	logger     *logging.Logger
	audit      *audit.Logger
	metrics    *metrics.Recorder
	backupRoot string
	actor      string
	source     string
	now        func() time.Time

	pruneBackups bool
}

// Option configures an Editor.
type Option func(*Editor)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Editor) { e.logger = logging.OrNop(l) }
}

// WithAudit sets the audit logger used by the handler methods. Nil disables
// auditing.
func WithAudit(a *audit.Logger) Option {
	return func(e *Editor) { e.audit = a }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Editor) { e.metrics = r }
}

// WithBackupRoot sets where per-call backups are created. Empty places them
// next to the plan directory.
func WithBackupRoot(root string) Option {
	return func(e *Editor) { e.backupRoot = root }
}

// WithPruneBackups deletes the per-call backup after a successful call.
func WithPruneBackups(prune bool) Option {
	return func(e *Editor) { e.pruneBackups = prune }
}

// WithActor sets the actor and source recorded in audit entries.
func WithActor(actor, source string) Option {
	return func(e *Editor) {
		e.actor = actor
		e.source = source
	}
}

// WithClock overrides the clock used to stamp modifications.
func WithClock(now func() time.Time) Option {
	return func(e *Editor) { e.now = now }
}

// NewEditor returns an Editor over an already loaded tree. It does not
// audit; the caller owns the batch audit trail.
func NewEditor(dir *plan.Dir, tree *plan.Tree, opts ...Option) *Editor {
	e := &Editor{
		dir:    dir,
		tree:   tree,
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open returns an Editor for the plan directory at planDir, auditing to its
// update-history.jsonl unless overridden with WithAudit.
func Open(planDir string, opts ...Option) (*Editor, error) {
	dir, err := plan.Open(planDir)
	if err != nil {
		return nil, err
	}
	tree, err := dir.Load()
	if err != nil {
		return nil, err
	}
	defaults := []Option{WithAudit(audit.NewLogger(dir.Path, audit.Options{}))}
	return NewEditor(dir, tree, append(defaults, opts...)...), nil
}

// Tree returns the editor's current tree. It reflects every successful Apply.
func (e *Editor) Tree() *plan.Tree {
	return e.tree
}

// Dir returns the plan directory handle.
func (e *Editor) Dir() *plan.Dir {
	return e.dir
}

// Apply applies op and persists the result. On any error the editor's tree
// and the plan directory are unchanged, except after a persist error (see
// IsPersistError), when the caller must restore its backup.
func (e *Editor) Apply(op Operation, opts ApplyOptions) (*Change, error) {
	change, next, err := e.mutate(op, opts)
	if err != nil {
		return nil, err
	}
	if err := e.dir.Save(next); err != nil {
		return nil, &persistError{err: errors.NewOperationError(op.Describe(), change.TargetID, "failed to write plan documents", err)}
	}
	e.tree = next
	e.logger.Debug("applied operation",
		"operation", change.Description,
		"target_id", change.TargetID,
		"warnings", len(change.Warnings))
	return change, nil
}

// Simulate applies op to the in-memory tree without writing anything. A
// batch of simulations shows what a run would do.
func (e *Editor) Simulate(op Operation, opts ApplyOptions) (*Change, error) {
	change, next, err := e.mutate(op, opts)
	if err != nil {
		return nil, err
	}
	e.tree = next
	return change, nil
}

func (e *Editor) mutate(op Operation, opts ApplyOptions) (*Change, *plan.Tree, error) {
	if err := op.Validate(); err != nil {
		return nil, nil, err
	}

	next, err := e.tree.Clone()
	if err != nil {
		return nil, nil, errors.NewOperationError(op.Describe(), op.TargetID(), "failed to copy plan", err)
	}

	now := e.now().UTC()
	m := &mutation{tree: next, opts: opts, now: now, targetID: op.TargetID()}
	if err := op.apply(m); err != nil {
		return nil, nil, err
	}

	report := next.Reconcile()
	next.Plan.Modified = now

	res := validation.ValidateTree(next)
	if !res.IsValid() {
		return nil, nil, res.Err(fmt.Sprintf("%s would leave the plan invalid", op.Describe()))
	}
	m.warnings = append(m.warnings, res.WarningMessages()...)

	return &Change{
		Kind:        op.Kind(),
		Target:      op.Target(),
		TargetID:    m.targetID,
		Description: op.Describe(),
		Before:      m.before,
		After:       m.after,
		Warnings:    m.warnings,
		Reconciled:  report,
	}, next, nil
}

// Run applies op as a standalone call: it takes the plan lock, reloads the
// tree, backs up the plan directory, applies, and audits. The backup is
// restored if a write fails.
func (e *Editor) Run(op Operation) *result.Result {
	if err := op.Validate(); err != nil {
		return result.FromError(err)
	}

	lock, err := docstore.Lock(e.dir.Path)
	if err != nil {
		return result.FromError(errors.NewOperationError(op.Describe(), op.TargetID(), "failed to lock plan", err))
	}
	defer func() { _ = lock.Unlock() }()

	tree, err := e.dir.Load()
	if err != nil {
		return result.FromError(err)
	}
	e.tree = tree

	backup, err := docstore.CreateBackup(e.dir.Path, e.backupRoot)
	e.metrics.IncBackup(err == nil)
	if err != nil {
		e.logger.Error("backup failed", "plan_dir", e.dir.Path, "error", err)
		return result.FromError(err)
	}

	change, err := e.Apply(op, ApplyOptions{})
	if err != nil && IsPersistError(err) {
		restoreErr := docstore.RestoreFromBackup(backup, e.dir.Path)
		e.metrics.IncRollback(restoreErr == nil)
		if restoreErr != nil {
			e.logger.Error("restore failed", "backup", backup, "error", restoreErr)
			err = errors.Join(restoreErr, err)
		}
	}

	e.record(op, change, err)
	e.metrics.ObserveOperation(string(op.Target()), string(op.Kind()), err == nil)

	if err != nil {
		e.logger.Warn("operation failed", "operation", op.Describe(), "code", errors.CodeOf(err), "error", err)
		return result.FromError(err).WithBackup(backup)
	}
	if e.pruneBackups {
		if err := docstore.RemoveBackup(backup); err != nil {
			e.logger.Warn("backup pruning failed", "backup", backup, "error", err)
		} else {
			backup = ""
		}
	}
	return result.OK(change.Description, change).
		WithWarnings(change.Warnings...).
		WithBackup(backup)
}

func (e *Editor) record(op Operation, change *Change, err error) {
	rec := audit.Record{
		PlanID:        e.tree.Plan.ID,
		OperationType: string(op.Kind()),
		Target:        string(op.Target()),
		TargetID:      op.TargetID(),
		Actor:         e.actor,
		Err:           err,
		Metadata:      audit.Metadata{Mode: ModeDirect, Source: e.source},
	}
	if change != nil {
		rec.TargetID = change.TargetID
		rec.Before = change.Before
		rec.After = change.After
	}
	if _, aerr := e.audit.LogOperation(rec); aerr != nil {
		e.logger.Warn("audit append failed", "error", aerr)
	}
}

// AddPhase adds a phase.
func (e *Editor) AddPhase(op AddPhase) *result.Result { return e.Run(op) }

// RemovePhase removes a phase after the deletion safety check.
func (e *Editor) RemovePhase(op RemovePhase) *result.Result { return e.Run(op) }

// UpdatePhaseMetadata edits a phase's allow-listed fields.
func (e *Editor) UpdatePhaseMetadata(op UpdatePhase) *result.Result { return e.Run(op) }

// ReorderPhases replaces the phase order.
func (e *Editor) ReorderPhases(op ReorderPhases) *result.Result { return e.Run(op) }

// AddTask adds a task to a phase.
func (e *Editor) AddTask(op AddTask) *result.Result { return e.Run(op) }

// RemoveTask removes a task after the deletion safety check.
func (e *Editor) RemoveTask(op RemoveTask) *result.Result { return e.Run(op) }

// UpdateTask edits a task's allow-listed fields.
func (e *Editor) UpdateTask(op UpdateTask) *result.Result { return e.Run(op) }

// ReorderTasks replaces a phase's task order.
func (e *Editor) ReorderTasks(op ReorderTasks) *result.Result { return e.Run(op) }

// UpdateMetadata edits plan-level fields.
func (e *Editor) UpdateMetadata(op UpdateMetadata) *result.Result { return e.Run(op) }

// AddMetadata adds a plan label.
func (e *Editor) AddMetadata(op AddMetadata) *result.Result { return e.Run(op) }

// DeleteMetadata removes a plan label.
func (e *Editor) DeleteMetadata(op DeleteMetadata) *result.Result { return e.Run(op) }
