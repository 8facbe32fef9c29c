package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/execstate"
	"github.com/Iron-Ham/planstore/internal/orchestrator"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/result"
)

// Files written into each logs-backup generation.
const (
	logsBackupPrefix = "logs-"
	SummaryFile      = "summary.json"
	logsTimeFormat   = "20060102T150405.000000000Z"
)

// ReplanOptions controls RollbackAndReplan.
type ReplanOptions struct {
	// DryRun reports what would be reset and simulates ops without writing.
	DryRun bool
	// PreserveCompleted keeps the output and result recorded on tasks.
	PreserveCompleted bool
	// Reason is stored on the execution history entry.
	Reason string

	Actor  string
	Source string
}

// ResetSummary counts what a replan reset.
type ResetSummary struct {
	Phases          int  `json:"phases"`
	Tasks           int  `json:"tasks"`
	CompletedTasks  int  `json:"completedTasks"`
	InProgressTasks int  `json:"inProgressTasks"`
	FailedTasks     int  `json:"failedTasks"`
	PreservedOutput bool `json:"preservedOutput"`
}

// Guidance is the Data of a RollbackAndReplan result: what was reset,
// where the backups and history live, and what to do next.
type Guidance struct {
	Reset          ResetSummary              `json:"reset"`
	BackupPath     string                    `json:"backupPath,omitempty"`
	LogsBackupPath string                    `json:"logsBackupPath,omitempty"`
	HistoryIndex   int                       `json:"historyIndex"`
	Batch          *orchestrator.BatchReport `json:"batch,omitempty"`
	NextSteps      []string                  `json:"nextSteps"`
}

// RollbackAndReplan runs the replan workflow with a default Recovery.
func RollbackAndReplan(ctx context.Context, planDir string, ops []operations.Operation, opts ReplanOptions) *result.Result {
	return New().RollbackAndReplan(ctx, planDir, ops, opts)
}

// RollbackAndReplan resets a started plan to pending and applies ops.
//
// The whole directory is backed up first, and the execution state plus a
// summary of it are copied into a new .logs-backup generation. The
// previous run is appended to the plan's execution history, which is the
// only place completed-task provenance survives the reset. If ops fail
// the plan stays reset and the result names the backup to restore.
func (r *Recovery) RollbackAndReplan(ctx context.Context, planDir string, ops []operations.Operation, opts ReplanOptions) *result.Result {
	res := r.rollbackAndReplan(ctx, planDir, ops, opts)
	if !opts.DryRun {
		r.metrics.IncRecovery(WorkflowReplan, res.Success)
	}
	return res
}

func (r *Recovery) rollbackAndReplan(ctx context.Context, planDir string, ops []operations.Operation, opts ReplanOptions) *result.Result {
	if len(ops) > 0 {
		if err := operations.ValidateAll(ops); err != nil {
			return result.FromError(err)
		}
	}

	dir, err := plan.Open(planDir)
	if err != nil {
		return result.FromError(err)
	}
	lock, err := docstore.LockContext(ctx, dir.Path)
	if err != nil {
		return result.FromError(errors.NewOperationError("rollback and replan", planDir, "failed to lock plan", err))
	}
	defer func() { _ = lock.Unlock() }()

	tree, err := dir.Load()
	if err != nil {
		return result.FromError(err)
	}
	tree.Reconcile()
	if !tree.State.HasStarted() {
		return result.FromError(errors.NewOperationError("rollback and replan", tree.Plan.ID,
			"nothing to roll back; apply the changes with a regular update instead", errors.ErrNotStarted))
	}

	logger := r.logger.WithPlan(dir.Path)
	now := r.now().UTC()
	guidance := &Guidance{}

	next, err := tree.Clone()
	if err != nil {
		return result.FromError(errors.NewOperationError("rollback and replan", tree.Plan.ID, "failed to copy plan", err))
	}

	if opts.DryRun {
		guidance.Reset = reset(next, opts.PreserveCompleted, now)
		guidance.HistoryIndex = len(next.Plan.ExecutionHistory)
		guidance.NextSteps = []string{"run again without dry run to reset the plan"}
		if len(ops) == 0 {
			return result.OK("dry run: plan would be reset to pending", guidance)
		}
		res := r.orchestrator().ExecuteLocked(ctx, dir, next, ops, orchestrator.ExecuteOptions{
			DryRun: true,
			Actor:  opts.Actor,
			Source: opts.Source,
			Mode:   WorkflowReplan,
		})
		guidance.Batch, _ = res.Data.(*orchestrator.BatchReport)
		res.WithData(guidance)
		if res.Success {
			res.WithMessage("dry run: plan would be reset to pending and the operations would apply")
		}
		return res
	}

	backup, err := docstore.CreateBackup(dir.Path, r.backupRoot)
	r.metrics.IncBackup(err == nil)
	if err != nil {
		logger.Error("backup failed", "error", err)
		return result.FromError(err)
	}
	guidance.BackupPath = backup

	logsBackup, err := r.backupLogs(dir, tree, now)
	if err != nil {
		logger.Error("logs backup failed", "error", err)
		return result.FromError(errors.NewBackupError(dir.Path, err)).WithBackup(backup)
	}
	guidance.LogsBackupPath = logsBackup

	outcomes := execstate.TaskOutcomes(tree)
	next.Plan.ExecutionHistory = append(next.Plan.ExecutionHistory, plan.HistoryEntry{
		ReplannedAt:    now,
		Reason:         opts.Reason,
		PreviousStatus: tree.Plan.Status,
		Progress:       tree.ComputeProgress(),
		StartedAt:      tree.State.StartedAt,
		TaskOutcomes:   outcomes,
		Counts:         execstate.Counts(outcomes),
		BackupPath:     backup,
		LogsBackupPath: logsBackup,
	})
	guidance.HistoryIndex = len(next.Plan.ExecutionHistory) - 1
	guidance.Reset = reset(next, opts.PreserveCompleted, now)

	if err := dir.Save(next); err != nil {
		restoreErr := docstore.RestoreFromBackup(backup, dir.Path)
		r.metrics.IncRollback(restoreErr == nil)
		if restoreErr != nil {
			err = errors.Join(errors.NewRestoreError(backup, restoreErr), err)
		}
		logger.Error("replan reset failed", "error", err)
		return result.FromError(errors.NewOperationError("rollback and replan", tree.Plan.ID, "failed to write reset plan", err)).
			WithBackup(backup)
	}
	logger.Info("plan reset to pending",
		"phases", guidance.Reset.Phases,
		"tasks", guidance.Reset.Tasks,
		"backup", backup,
		"logs_backup", logsBackup)

	var warnings []string
	if len(ops) > 0 {
		res := r.orchestrator().ExecuteLocked(ctx, dir, next, ops, orchestrator.ExecuteOptions{
			Actor:  opts.Actor,
			Source: opts.Source,
			Mode:   WorkflowReplan,
		})
		guidance.Batch, _ = res.Data.(*orchestrator.BatchReport)
		if !res.Success {
			guidance.NextSteps = []string{
				"the plan was reset but the operations were not applied; fix them and run an update",
				fmt.Sprintf("restore %s to return to the state before the replan", backup),
			}
			return res.WithData(guidance).
				WithBackup(backup).
				WithMessage("plan reset to pending; operations failed and were rolled back")
		}
		warnings = res.Warnings
	}

	guidance.NextSteps = nextSteps(guidance)
	return result.OK(fmt.Sprintf("plan reset to pending (%d phases, %d tasks)", guidance.Reset.Phases, guidance.Reset.Tasks), guidance).
		WithWarnings(warnings...).
		WithBackup(backup)
}

// reset moves every phase and task of t back to pending and clears the
// run's timestamps and errors. Task output and result survive when
// preserve is set.
func reset(t *plan.Tree, preserve bool, now time.Time) ResetSummary {
	summary := ResetSummary{PreservedOutput: preserve}

	for i := range t.Plan.Phases {
		ref := &t.Plan.Phases[i]
		ref.Status = plan.StatusPending
		ref.RetryCount = 0
		t.State.PhaseStatuses[ref.ID] = plan.StatusPending
		summary.Phases++

		doc, ok := t.Phases[ref.ID]
		if !ok {
			continue
		}
		doc.Status = plan.StatusPending
		doc.Metrics.ActualTokens = 0
		doc.Metrics.StartTime = nil
		doc.Metrics.EndTime = nil
		doc.Metrics.SuccessRate = 0

		statuses := make(map[string]plan.Status, len(doc.Tasks))
		for j := range doc.Tasks {
			task := &doc.Tasks[j]
			switch t.TaskStatus(ref.ID, task.ID) {
			case plan.StatusCompleted:
				summary.CompletedTasks++
			case plan.StatusInProgress:
				summary.InProgressTasks++
			case plan.StatusFailed:
				summary.FailedTasks++
			}
			task.Status = plan.StatusPending
			if !preserve {
				task.Output = nil
				task.Result = nil
			}
			statuses[task.ID] = plan.StatusPending
			summary.Tasks++
		}
		t.State.TaskStatuses[ref.ID] = statuses
	}

	t.State.CurrentPhase = ""
	t.State.Errors = nil
	t.State.StartedAt = nil
	t.State.CompletedAt = nil
	t.State.LastUpdated = &now
	t.Plan.Status = plan.StatusPending
	t.Plan.Modified = now
	t.MarkAllDirty()
	t.RefreshProgress()
	return summary
}

func nextSteps(g *Guidance) []string {
	steps := []string{
		"review the plan and run the executor from the first phase",
		fmt.Sprintf("the previous run is recorded in executionHistory[%d]", g.HistoryIndex),
	}
	if g.LogsBackupPath != "" {
		steps = append(steps, "execution logs of the previous run are in "+g.LogsBackupPath)
	}
	steps = append(steps, fmt.Sprintf("restore %s to undo the replan", g.BackupPath))
	return steps
}

// backupLogs copies the execution state and a summary of it into a new
// .logs-backup generation, then prunes generations beyond the retention.
func (r *Recovery) backupLogs(dir *plan.Dir, t *plan.Tree, now time.Time) (string, error) {
	root := filepath.Join(dir.Path, plan.LogsBackupDir)
	dest := filepath.Join(root, logsBackupPrefix+now.Format(logsTimeFormat))
	for i := 1; docstore.Exists(dest); i++ {
		dest = filepath.Join(root, fmt.Sprintf("%s%s-%d", logsBackupPrefix, now.Format(logsTimeFormat), i))
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", err
	}

	if err := docstore.WriteDocument(filepath.Join(dest, plan.ExecutionStateFile), t.State); err != nil {
		return "", err
	}
	if err := docstore.WriteDocument(filepath.Join(dest, SummaryFile), execstate.Summarize(t)); err != nil {
		return "", err
	}

	if err := pruneLogsBackups(root, r.retention); err != nil {
		r.logger.Warn("logs backup pruning failed", "dir", root, "error", err)
	}
	return dest, nil
}

// pruneLogsBackups removes the oldest generations under root until at most
// keep remain. Generation names sort in creation order.
func pruneLogsBackups(root string, keep int) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	var gens []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), logsBackupPrefix) {
			gens = append(gens, e.Name())
		}
	}
	sort.Strings(gens)
	for len(gens) > keep {
		if err := os.RemoveAll(filepath.Join(root, gens[0])); err != nil {
			return err
		}
		gens = gens[1:]
	}
	return nil
}
