// Package orchestrator applies batches of update operations to a plan
// directory as one unit.
//
// A batch is validated in full before anything runs, backed up once, and
// applied metadata first, then phases, then tasks. By default the first
// failure restores the backup so the directory is exactly as it was; with
// ContinueOnError the batch keeps going and reports a partial result.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/planstore/internal/audit"
	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/execstate"
	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/Iron-Ham/planstore/internal/metrics"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/plan/ids"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/planeditor/validation"
	"github.com/Iron-Ham/planstore/internal/result"
)

// ModeBatch is the default audit mode of an orchestrated batch.
const ModeBatch = "batch"

// ExecuteOptions controls one batch.
type ExecuteOptions struct {
	// DryRun simulates the batch in memory and writes nothing.
	DryRun bool
	// ContinueOnError keeps applying after a failed operation and skips the
	// rollback. The zero value stops at the first failure.
	ContinueOnError bool
	// Force lets mutations of completed items proceed with a warning.
	Force bool

	Actor  string
	Source string
	// Mode is recorded on audit entries; empty means ModeBatch.
	Mode string
}

// OperationOutcome reports what happened to one operation of a batch.
type OperationOutcome struct {
	Index       int               `json:"index"`
	Kind        operations.Kind   `json:"type"`
	Target      operations.Target `json:"target"`
	TargetID    string            `json:"targetId,omitempty"`
	Description string            `json:"description"`
	Error       string            `json:"error,omitempty"`
	Code        string            `json:"code,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// BatchReport is the Data of every batch result.
type BatchReport struct {
	BatchID       string             `json:"batchId"`
	DryRun        bool               `json:"dryRun,omitempty"`
	Operations    int                `json:"operations"`
	Completed     []OperationOutcome `json:"completed"`
	Failed        []OperationOutcome `json:"failed"`
	Skipped       []OperationOutcome `json:"skipped,omitempty"`
	RolledBack    bool               `json:"rolledBack,omitempty"`
	RollbackError string             `json:"rollbackError,omitempty"`
	DurationMs    int64              `json:"durationMs"`
}

// Orchestrator runs update batches.
type Orchestrator struct {
	logger     *logging.Logger
	metrics    *metrics.Recorder
	backupRoot string
	auditOpts  audit.Options
	now        func() time.Time

	pruneBackups bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithBackupRoot sets where batch backups are created.
func WithBackupRoot(root string) Option {
	return func(o *Orchestrator) { o.backupRoot = root }
}

// WithAuditOptions configures the audit logger of each plan.
func WithAuditOptions(opts audit.Options) Option {
	return func(o *Orchestrator) { o.auditOpts = opts }
}

// WithPruneBackups deletes the backup of every batch that fully applies.
func WithPruneBackups(prune bool) Option {
	return func(o *Orchestrator) { o.pruneBackups = prune }
}

// WithClock overrides the clock used to stamp modifications.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteUpdate runs ops against the plan at planDir with a default
// Orchestrator.
func ExecuteUpdate(ctx context.Context, planDir string, ops []operations.Operation, opts ExecuteOptions) *result.Result {
	return New().ExecuteUpdate(ctx, planDir, ops, opts)
}

// ExecuteUpdate validates ops, takes the plan lock, and runs the batch.
func (o *Orchestrator) ExecuteUpdate(ctx context.Context, planDir string, ops []operations.Operation, opts ExecuteOptions) *result.Result {
	if err := operations.ValidateAll(ops); err != nil {
		return result.FromError(err)
	}

	dir, err := plan.Open(planDir)
	if err != nil {
		return result.FromError(err)
	}
	lock, err := docstore.LockContext(ctx, dir.Path)
	if err != nil {
		return result.FromError(errors.NewOperationError("execute update", planDir, "failed to lock plan", err))
	}
	defer func() { _ = lock.Unlock() }()

	tree, err := dir.Load()
	if err != nil {
		return result.FromError(err)
	}
	return o.ExecuteLocked(ctx, dir, tree, ops, opts)
}

// batch is the state of one ExecuteLocked call.
type batch struct {
	o      *Orchestrator
	opts   ExecuteOptions
	mode   string
	logger *logging.Logger
	audit  *audit.Logger
	planID string
	report *BatchReport
	start  time.Time

	// rejectErr is the block of the first operation rejected before the
	// batch started.
	rejectErr error
}

// ExecuteLocked runs ops against tree, which must be the current contents
// of dir. The caller holds the plan lock.
func (o *Orchestrator) ExecuteLocked(ctx context.Context, dir *plan.Dir, tree *plan.Tree, ops []operations.Operation, opts ExecuteOptions) *result.Result {
	if err := operations.ValidateAll(ops); err != nil {
		return result.FromError(err)
	}
	if err := ctx.Err(); err != nil {
		return result.FromError(err)
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeBatch
	}
	batchID := ids.GenerateBatchID()
	b := &batch{
		o:      o,
		opts:   opts,
		mode:   mode,
		logger: o.logger.WithPlan(dir.Path).WithBatch(batchID),
		planID: tree.Plan.ID,
		start:  o.now(),
		report: &BatchReport{
			BatchID:    batchID,
			DryRun:     opts.DryRun,
			Operations: len(ops),
			Completed:  []OperationOutcome{},
			Failed:     []OperationOutcome{},
		},
	}

	// In-progress items are rejected before anything is written.
	rejected := make(map[int]bool)
	safety := execstate.Classify(tree, ops, opts.Force)
	for _, blocked := range safety.BlockedWith(validation.CodeInProgress) {
		rejected[blocked.Index] = true
		b.report.Failed = append(b.report.Failed, OperationOutcome{
			Index:       blocked.Index,
			Kind:        blocked.Kind,
			Target:      blocked.Target,
			TargetID:    blocked.TargetID,
			Description: blocked.Description,
			Error:       blocked.Reason,
			Code:        validation.CodeInProgress,
		})
		o.metrics.IncBlocked(validation.CodeInProgress)
	}
	if len(rejected) > 0 {
		first := safety.BlockedWith(validation.CodeInProgress)[0]
		b.rejectErr = errors.NewBlockedOperationError(string(first.Target), first.TargetID, first.Code, first.Reason, first.RequiresForce)
		b.logger.Warn("operations rejected", "blocked", len(rejected), "error", b.rejectErr)
	}
	if b.rejectErr != nil && !opts.ContinueOnError {
		b.skipAll(ops, rejected)
		return b.finish(b.rejectErr).WithMessage(fmt.Sprintf("%d operation(s) target items that are in progress", len(rejected)))
	}

	if opts.DryRun {
		return b.simulate(dir, tree, ops, rejected)
	}
	return b.apply(ctx, dir, tree, ops, rejected)
}

func (b *batch) applyOptions() operations.ApplyOptions {
	return operations.ApplyOptions{Force: b.opts.Force}
}

func (b *batch) simulate(dir *plan.Dir, tree *plan.Tree, ops []operations.Operation, rejected map[int]bool) *result.Result {
	editor := operations.NewEditor(dir, tree, operations.WithLogger(b.logger), operations.WithClock(b.o.now))
	applyOpts := b.applyOptions()

	var firstErr error
	sorted := operations.OrderForApply(ops, tree)
	for i, item := range sorted {
		if rejected[item.Index] {
			continue
		}
		change, err := editor.Simulate(item.Op, applyOpts)
		if err != nil {
			b.fail(item, err)
			if firstErr == nil {
				firstErr = err
			}
			if !b.opts.ContinueOnError {
				b.skip(sorted[i+1:], rejected)
				break
			}
			continue
		}
		b.complete(item, change)
	}

	if err := b.batchError(firstErr); err != nil {
		return b.finish(err)
	}
	return b.finish(nil).WithMessage(fmt.Sprintf("dry run: %d operation(s) would apply", len(b.report.Completed)))
}

func (b *batch) apply(ctx context.Context, dir *plan.Dir, tree *plan.Tree, ops []operations.Operation, rejected map[int]bool) *result.Result {
	backup, err := docstore.CreateBackup(dir.Path, b.o.backupRoot)
	b.o.metrics.IncBackup(err == nil)
	if err != nil {
		b.logger.Error("backup failed", "error", err)
		b.skipAll(ops, rejected)
		return b.finish(err)
	}

	b.audit = audit.NewLogger(dir.Path, b.o.auditOpts)
	if _, aerr := b.audit.LogBatchStart(b.planID, b.report.BatchID, b.opts.Actor, audit.Metadata{
		Mode:           b.mode,
		Force:          b.opts.Force,
		Source:         b.opts.Source,
		OperationCount: len(ops),
		BackupPath:     backup,
	}); aerr != nil {
		b.logger.Warn("audit append failed", "error", aerr)
	}
	b.logger.Info("batch started", "operations", len(ops), "backup", backup)

	editor := operations.NewEditor(dir, tree, operations.WithLogger(b.logger), operations.WithClock(b.o.now))
	applyOpts := b.applyOptions()

	var firstErr error
	rollback := false
	sorted := operations.OrderForApply(ops, tree)
	for i, item := range sorted {
		if rejected[item.Index] {
			continue
		}
		if err := ctx.Err(); err != nil {
			firstErr = err
			rollback = true
			b.skip(sorted[i:], rejected)
			break
		}

		change, err := editor.Apply(item.Op, applyOpts)
		b.record(item.Op, change, err)
		if err != nil {
			b.fail(item, err)
			if firstErr == nil {
				firstErr = err
			}
			if !b.opts.ContinueOnError || operations.IsPersistError(err) {
				rollback = true
				b.skip(sorted[i+1:], rejected)
				break
			}
			continue
		}
		b.complete(item, change)
	}

	batchErr := b.batchError(firstErr)
	if rollback {
		if restoreErr := docstore.RestoreFromBackup(backup, dir.Path); restoreErr != nil {
			b.o.metrics.IncRollback(false)
			b.report.RollbackError = restoreErr.Error()
			b.logger.Error("rollback failed", "backup", backup, "error", restoreErr)
			batchErr = errors.Join(restoreErr, batchErr)
		} else {
			b.o.metrics.IncRollback(true)
			b.report.RolledBack = true
			b.logger.Warn("batch rolled back", "backup", backup, "error", firstErr)
		}
	}

	if batchErr == nil && b.o.pruneBackups {
		if err := docstore.RemoveBackup(backup); err != nil {
			b.logger.Warn("backup pruning failed", "backup", backup, "error", err)
		} else {
			b.logger.Debug("backup pruned", "backup", backup)
			backup = ""
		}
	}

	res := b.finish(batchErr).WithBackup(backup)
	if batchErr == nil {
		res.WithMessage(fmt.Sprintf("applied %d operation(s)", len(b.report.Completed)))
	}
	return res
}

// batchError is the error of a batch whose first apply failure was err. A
// stopped batch reports err itself. A partial batch is an operation
// failure naming how many operations failed.
func (b *batch) batchError(err error) error {
	if len(b.report.Failed) == 0 {
		return err
	}
	if b.opts.ContinueOnError && len(b.report.Completed) > 0 {
		msg := fmt.Sprintf("%d of %d operations failed", len(b.report.Failed), b.report.Operations)
		return errors.NewOperationError("batch", b.report.BatchID, msg, nil)
	}
	if err == nil {
		return b.rejectErr
	}
	return err
}

func (b *batch) record(op operations.Operation, change *operations.Change, err error) {
	rec := audit.Record{
		PlanID:        b.planID,
		OperationType: string(op.Kind()),
		Target:        string(op.Target()),
		TargetID:      op.TargetID(),
		Actor:         b.opts.Actor,
		Err:           err,
		Metadata: audit.Metadata{
			BatchID: b.report.BatchID,
			Mode:    b.mode,
			Force:   b.opts.Force,
			Source:  b.opts.Source,
		},
	}
	if change != nil {
		rec.TargetID = change.TargetID
		rec.Before = change.Before
		rec.After = change.After
	}
	if _, aerr := b.audit.LogOperation(rec); aerr != nil {
		b.logger.Warn("audit append failed", "error", aerr)
	}
	b.o.metrics.ObserveOperation(string(op.Target()), string(op.Kind()), err == nil)
}

func (b *batch) complete(item operations.Indexed, change *operations.Change) {
	b.report.Completed = append(b.report.Completed, OperationOutcome{
		Index:       item.Index,
		Kind:        change.Kind,
		Target:      change.Target,
		TargetID:    change.TargetID,
		Description: change.Description,
		Warnings:    change.Warnings,
	})
}

func (b *batch) fail(item operations.Indexed, err error) {
	code := errors.CodeOf(err)
	var blocked *errors.BlockedOperationError
	if errors.As(err, &blocked) {
		b.o.metrics.IncBlocked(code)
	}
	b.report.Failed = append(b.report.Failed, outcome(item, err.Error(), code))
	b.logger.Debug("operation failed", "operation", item.Op.Describe(), "code", code, "error", err)
}

func (b *batch) skip(items []operations.Indexed, rejected map[int]bool) {
	for _, item := range items {
		if !rejected[item.Index] {
			b.report.Skipped = append(b.report.Skipped, outcome(item, "", ""))
		}
	}
}

func (b *batch) skipAll(ops []operations.Operation, rejected map[int]bool) {
	b.skip(operations.SortByPriority(ops), rejected)
}

func outcome(item operations.Indexed, msg, code string) OperationOutcome {
	return OperationOutcome{
		Index:       item.Index,
		Kind:        item.Op.Kind(),
		Target:      item.Op.Target(),
		TargetID:    item.Op.TargetID(),
		Description: item.Op.Describe(),
		Error:       msg,
		Code:        code,
	}
}

// finish closes the audit bracket, records metrics, and builds the result.
func (b *batch) finish(err error) *result.Result {
	elapsed := b.o.now().Sub(b.start)
	b.report.DurationMs = elapsed.Milliseconds()

	if b.audit != nil {
		if _, aerr := b.audit.LogBatchComplete(b.planID, b.report.BatchID, b.opts.Actor, err, audit.Metadata{
			Mode:           b.mode,
			Force:          b.opts.Force,
			Source:         b.opts.Source,
			DurationMs:     b.report.DurationMs,
			OperationCount: b.report.Operations,
			Completed:      len(b.report.Completed),
			Failed:         len(b.report.Failed),
			RolledBack:     b.report.RolledBack,
		}); aerr != nil {
			b.logger.Warn("audit append failed", "error", aerr)
		}
	}
	if !b.opts.DryRun {
		b.o.metrics.ObserveBatch(b.mode, err == nil, elapsed)
	}

	var warnings []string
	for _, c := range b.report.Completed {
		warnings = append(warnings, c.Warnings...)
	}

	if err == nil {
		b.logger.Info("batch finished", "completed", len(b.report.Completed), "duration_ms", b.report.DurationMs)
		return result.OK("", b.report).WithWarnings(warnings...)
	}
	b.logger.Info("batch failed",
		"completed", len(b.report.Completed),
		"failed", len(b.report.Failed),
		"rolled_back", b.report.RolledBack,
		"code", errors.CodeOf(err))
	return result.FromError(err).WithData(b.report).WithWarnings(warnings...)
}
