package recovery

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/execstate"
	"github.com/Iron-Ham/planstore/internal/orchestrator"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/result"
)

// SelectiveOptions controls SelectiveUpdate.
type SelectiveOptions struct {
	DryRun bool
	// Force lets operations on completed items through. It never unlocks
	// in-progress items.
	Force bool
	// SkipBlocked applies the safe subset instead of failing the call when
	// any operation is blocked.
	SkipBlocked bool

	Actor  string
	Source string
}

// SelectiveReport is the Data of a SelectiveUpdate result.
type SelectiveReport struct {
	Blocked   []execstate.OperationSafety `json:"blocked"`
	SafeCount int                         `json:"safeCount"`
	Started   bool                        `json:"started"`
	// Batch is the orchestrated run of the safe subset, with indices
	// referring to the submitted operations.
	Batch *orchestrator.BatchReport `json:"batch,omitempty"`
}

// SelectiveUpdate runs ops against the plan at planDir with a default
// Recovery.
func SelectiveUpdate(ctx context.Context, planDir string, ops []operations.Operation, opts SelectiveOptions) *result.Result {
	return New().SelectiveUpdate(ctx, planDir, ops, opts)
}

// SelectiveUpdate applies the subset of ops that is safe against the
// plan's execution state. If any operation is blocked and SkipBlocked is
// unset, nothing is applied and the result lists every blocked operation.
// The safe subset runs as one stop-on-error batch, after which the
// execution state is re-synchronized with the new structure.
func (r *Recovery) SelectiveUpdate(ctx context.Context, planDir string, ops []operations.Operation, opts SelectiveOptions) *result.Result {
	res := r.selectiveUpdate(ctx, planDir, ops, opts)
	if !opts.DryRun {
		r.metrics.IncRecovery(WorkflowSelective, res.Success)
	}
	return res
}

func (r *Recovery) selectiveUpdate(ctx context.Context, planDir string, ops []operations.Operation, opts SelectiveOptions) *result.Result {
	if err := operations.ValidateAll(ops); err != nil {
		return result.FromError(err)
	}

	dir, err := plan.Open(planDir)
	if err != nil {
		return result.FromError(err)
	}
	lock, err := docstore.LockContext(ctx, dir.Path)
	if err != nil {
		return result.FromError(errors.NewOperationError("selective update", planDir, "failed to lock plan", err))
	}
	defer func() { _ = lock.Unlock() }()

	tree, err := dir.Load()
	if err != nil {
		return result.FromError(err)
	}
	logger := r.logger.WithPlan(dir.Path)

	safety := execstate.Classify(tree, ops, opts.Force)
	report := &SelectiveReport{
		Blocked:   safety.Blocked,
		SafeCount: len(safety.Safe),
		Started:   tree.State.HasStarted(),
	}

	var warnings []string
	if report.Started {
		warnings = append(warnings, startedDisclaimer)
	}

	if safety.HasBlocked() && !opts.SkipBlocked {
		first := safety.Blocked[0]
		err := errors.NewBlockedOperationError(string(first.Target), first.TargetID, first.Code, first.Reason, first.RequiresForce)
		logger.Warn("selective update blocked", "blocked", len(safety.Blocked), "safe", len(safety.Safe))
		return result.FromError(err).
			WithData(report).
			WithWarnings(warnings...).
			WithMessage(fmt.Sprintf("%d operation(s) blocked; %d would have been safe", len(safety.Blocked), len(safety.Safe)))
	}
	for _, b := range safety.Blocked {
		warnings = append(warnings, fmt.Sprintf("skipped %s: %s", b.Description, b.Reason))
	}

	safe := safety.SafeOperations(ops)
	if len(safe) == 0 {
		return result.OK("no safe operations to apply", report).WithWarnings(warnings...)
	}

	res := r.orchestrator().ExecuteLocked(ctx, dir, tree, safe, orchestrator.ExecuteOptions{
		DryRun: opts.DryRun,
		Force:  opts.Force,
		Actor:  opts.Actor,
		Source: opts.Source,
		Mode:   WorkflowSelective,
	})
	if batch, ok := res.Data.(*orchestrator.BatchReport); ok {
		remap(batch, safety.Safe)
		report.Batch = batch
	}
	res.WithData(report).WithWarnings(warnings...)

	if res.Success && !opts.DryRun {
		if _, err := execstate.SyncLocked(dir); err != nil {
			logger.Error("execution state sync failed", "error", err)
			return result.FromError(err).WithData(report).WithBackup(res.BackupPath).WithWarnings(res.Warnings...)
		}
		res.WithMessage(fmt.Sprintf("applied %d of %d operation(s)", len(safe), len(ops)))
	}
	return res
}

// remap rewrites batch indices, which refer to the safe subset, into
// indices of the submitted operations.
func remap(batch *orchestrator.BatchReport, safe []execstate.OperationSafety) {
	for _, list := range [][]orchestrator.OperationOutcome{batch.Completed, batch.Failed, batch.Skipped} {
		for i := range list {
			if idx := list[i].Index; idx >= 0 && idx < len(safe) {
				list[i].Index = safe[idx].Index
			}
		}
	}
}
