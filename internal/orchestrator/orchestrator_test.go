package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/planstore/internal/audit"
	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/plan/plantest"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/planeditor/validation"
	"github.com/Iron-Ham/planstore/internal/result"
)

var batchTime = time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)

func testOrchestrator() *Orchestrator {
	return New(WithClock(func() time.Time { return batchTime }))
}

func pendingTree() *plan.Tree {
	return plantest.NewTree("checkout",
		plantest.Phase("setup").WithTasks(plantest.Task("scaffold")),
		plantest.Phase("api", "setup").WithTasks(plantest.Task("routes")),
	)
}

func report(t *testing.T, res *result.Result) *BatchReport {
	t.Helper()
	r, ok := res.Data.(*BatchReport)
	require.True(t, ok, "result data is %T", res.Data)
	return r
}

func auditEntries(t *testing.T, dir string) []audit.Entry {
	t.Helper()
	entries, err := audit.NewLogger(dir, audit.Options{}).Query(audit.Filter{})
	require.NoError(t, err)
	return entries
}

func backups(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(dir + ".backup-*")
	require.NoError(t, err)
	return matches
}

func TestExecuteUpdate_AppliesInPriorityOrder(t *testing.T) {
	dir := plantest.WriteDir(t, pendingTree())
	name := "Checkout v2"
	ops := []operations.Operation{
		operations.AddTask{PhaseID: "setup", ID: "lint", Name: "Lint"},
		operations.UpdateMetadata{Name: &name},
		operations.AddPhase{ID: "docs", Name: "Docs", Dependencies: []string{"api"}},
	}

	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{Actor: "tester", Source: "unit"})
	require.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.BackupPath)
	assert.DirExists(t, res.BackupPath)

	rep := report(t, res)
	require.Len(t, rep.Completed, 3)
	assert.Equal(t, 1, rep.Completed[0].Index)
	assert.Equal(t, 2, rep.Completed[1].Index)
	assert.Equal(t, 0, rep.Completed[2].Index)
	assert.Empty(t, rep.Failed)

	got := plantest.Load(t, dir)
	assert.Equal(t, "Checkout v2", got.Plan.Name)
	assert.Equal(t, []string{"setup", "api", "docs"}, got.Plan.PhaseIDs())
	assert.Equal(t, []string{"scaffold", "lint"}, got.Phases["setup"].TaskIDs())
	assert.Equal(t, plan.StatusPending, got.State.PhaseStatuses["docs"])
	assert.True(t, validation.ValidateTree(got).IsValid())
	assert.True(t, batchTime.Equal(got.Plan.Modified))

	entries := auditEntries(t, dir)
	require.Len(t, entries, 5)
	assert.Equal(t, audit.TypeBatchStart, entries[0].OperationType)
	assert.Equal(t, audit.TypeBatchComplete, entries[4].OperationType)
	for _, e := range entries {
		assert.Equal(t, rep.BatchID, e.Metadata.BatchID)
		assert.Equal(t, "tester", e.Actor)
		assert.True(t, e.Success)
	}
	assert.Equal(t, "metadata", entries[1].Target)
	assert.Equal(t, "docs", entries[2].TargetID)
	assert.Equal(t, "setup/lint", entries[3].TargetID)
	assert.Equal(t, 3, entries[4].Metadata.Completed)
}

func TestExecuteUpdate_FailureRestoresDirectory(t *testing.T) {
	dir := plantest.WriteDir(t, pendingTree())
	before := plantest.Snapshot(t, dir)
	ops := []operations.Operation{
		operations.AddPhase{ID: "docs", Name: "Docs"},
		operations.UpdatePhase{ID: "missing", Name: ptr("x")},
		operations.AddTask{PhaseID: "setup", Name: "Lint"},
	}

	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{})
	require.False(t, res.Success)
	assert.Equal(t, errors.CodeNotFound, res.Code)
	assert.NotEmpty(t, res.BackupPath)
	assert.Equal(t, before, plantest.Snapshot(t, dir))

	rep := report(t, res)
	assert.True(t, rep.RolledBack)
	require.Len(t, rep.Completed, 1)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, 1, rep.Failed[0].Index)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, 2, rep.Skipped[0].Index)

	entries := auditEntries(t, dir)
	last := entries[len(entries)-1]
	assert.Equal(t, audit.TypeBatchComplete, last.OperationType)
	assert.False(t, last.Success)
	assert.True(t, last.Metadata.RolledBack)
}

func TestExecuteUpdate_PruneBackups(t *testing.T) {
	o := New(WithClock(func() time.Time { return batchTime }), WithPruneBackups(true))

	t.Run("success removes the backup", func(t *testing.T) {
		dir := plantest.WriteDir(t, pendingTree())
		res := o.ExecuteUpdate(context.Background(), dir, []operations.Operation{
			operations.AddPhase{ID: "docs", Name: "Docs"},
		}, ExecuteOptions{})
		require.True(t, res.Success, res.Error)
		assert.Empty(t, res.BackupPath)
		assert.Empty(t, backups(t, dir))
	})

	t.Run("failure keeps the backup", func(t *testing.T) {
		dir := plantest.WriteDir(t, pendingTree())
		res := o.ExecuteUpdate(context.Background(), dir, []operations.Operation{
			operations.UpdatePhase{ID: "missing", Name: ptr("x")},
		}, ExecuteOptions{})
		require.False(t, res.Success)
		assert.NotEmpty(t, res.BackupPath)
		assert.DirExists(t, res.BackupPath)
	})
}

func TestExecuteUpdate_ContinueOnErrorKeepsSuccesses(t *testing.T) {
	dir := plantest.WriteDir(t, pendingTree())
	ops := []operations.Operation{
		operations.AddPhase{ID: "docs", Name: "Docs"},
		operations.UpdatePhase{ID: "missing", Name: ptr("x")},
	}

	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{ContinueOnError: true})
	require.False(t, res.Success)
	assert.Equal(t, errors.CodeOperationFailed, res.Code)
	assert.Contains(t, res.Error, "1 of 2 operations failed")

	rep := report(t, res)
	assert.False(t, rep.RolledBack)
	assert.Len(t, rep.Completed, 1)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, errors.CodeNotFound, rep.Failed[0].Code)

	got := plantest.Load(t, dir)
	assert.Contains(t, got.Plan.PhaseIDs(), "docs")
}

func TestExecuteUpdate_RejectsInProgressBeforeBackup(t *testing.T) {
	tree := pendingTree()
	plantest.SetPhaseStatus(tree, "setup", plan.StatusInProgress)
	dir := plantest.WriteDir(t, tree)
	before := plantest.Snapshot(t, dir)

	ops := []operations.Operation{
		operations.AddPhase{ID: "docs", Name: "Docs"},
		operations.UpdatePhase{ID: "setup", Name: ptr("x"), Force: true},
	}
	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{Force: true})
	require.False(t, res.Success)
	assert.Equal(t, validation.CodeInProgress, res.Code)
	assert.Empty(t, res.BackupPath)
	assert.Empty(t, backups(t, dir))
	assert.Equal(t, before, plantest.Snapshot(t, dir))

	rep := report(t, res)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "setup", rep.Failed[0].TargetID)
	assert.Len(t, rep.Skipped, 1)
}

func TestExecuteUpdate_ContinueOnErrorAppliesAroundInProgress(t *testing.T) {
	tree := pendingTree()
	plantest.SetPhaseStatus(tree, "setup", plan.StatusInProgress)
	dir := plantest.WriteDir(t, tree)

	ops := []operations.Operation{
		operations.RemovePhase{ID: "setup"},
		operations.AddPhase{ID: "docs", Name: "Docs"},
	}
	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{ContinueOnError: true})
	require.False(t, res.Success)
	assert.Equal(t, errors.CodeOperationFailed, res.Code)

	rep := report(t, res)
	require.Len(t, rep.Completed, 1)
	assert.Equal(t, 1, rep.Completed[0].Index)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, validation.CodeInProgress, rep.Failed[0].Code)

	got := plantest.Load(t, dir)
	assert.Equal(t, []string{"setup", "api", "docs"}, got.Plan.PhaseIDs())
}

func TestExecuteUpdate_CompletedItemsNeedForce(t *testing.T) {
	tree := pendingTree()
	plantest.SetPhaseStatus(tree, "setup", plan.StatusCompleted)
	plantest.SetTaskStatus(tree, "setup", "scaffold", plan.StatusCompleted)
	dir := plantest.WriteDir(t, tree)
	ops := []operations.Operation{operations.UpdateTask{PhaseID: "setup", ID: "scaffold", Name: ptr("Scaffold again")}}

	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{})
	require.False(t, res.Success)
	assert.Equal(t, validation.CodeCompletedRequiresForce, res.Code)
	assert.True(t, report(t, res).RolledBack)

	res = testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{Force: true})
	require.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.Warnings)

	got := plantest.Load(t, dir)
	task, _ := got.Phases["setup"].Task("scaffold")
	assert.Equal(t, "Scaffold again", task.Name)
}

func removalTree() *plan.Tree {
	return plantest.NewTree("checkout",
		plantest.Phase("setup").WithTasks(
			plantest.Task("scaffold"),
			plantest.Task("config", "scaffold"),
		),
		plantest.Phase("api", "setup").WithTasks(plantest.Task("routes")),
		plantest.Phase("docs").WithTasks(plantest.Task("readme")),
	)
}

func failedCodes(rep *BatchReport) map[int]string {
	codes := make(map[int]string, len(rep.Failed))
	for _, f := range rep.Failed {
		codes[f.Index] = f.Code
	}
	return codes
}

func TestExecuteUpdate_RemovesDependentsFirst(t *testing.T) {
	dir := plantest.WriteDir(t, removalTree())
	ops := []operations.Operation{
		operations.RemovePhase{ID: "setup"},
		operations.RemovePhase{ID: "api"},
	}

	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{})
	require.True(t, res.Success, res.Error)

	rep := report(t, res)
	require.Len(t, rep.Completed, 2)
	assert.Equal(t, 1, rep.Completed[0].Index)
	assert.Equal(t, 0, rep.Completed[1].Index)
	assert.Equal(t, []string{"docs"}, plantest.Load(t, dir).Plan.PhaseIDs())
}

func TestExecuteUpdate_FailedDependentRemovalKeepsEdges(t *testing.T) {
	tests := []struct {
		name      string
		apiStatus plan.Status
		opts      ExecuteOptions
		apiCode   string
	}{
		{
			name:      "in-progress dependent under force",
			apiStatus: plan.StatusInProgress,
			opts:      ExecuteOptions{ContinueOnError: true, Force: true},
			apiCode:   validation.CodeInProgress,
		},
		{
			name:      "completed dependent without force",
			apiStatus: plan.StatusCompleted,
			opts:      ExecuteOptions{ContinueOnError: true},
			apiCode:   validation.CodeCompletedRequiresForce,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := removalTree()
			plantest.SetPhaseStatus(tree, "setup", plan.StatusCompleted)
			plantest.SetPhaseStatus(tree, "api", tt.apiStatus)
			dir := plantest.WriteDir(t, tree)
			ops := []operations.Operation{
				operations.RemovePhase{ID: "setup"},
				operations.RemovePhase{ID: "api"},
			}

			res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, tt.opts)
			require.False(t, res.Success)

			rep := report(t, res)
			assert.Empty(t, rep.Completed)
			assert.Equal(t, map[int]string{
				0: validation.CodeHasDependents,
				1: tt.apiCode,
			}, failedCodes(rep))

			got := plantest.Load(t, dir)
			assert.Equal(t, []string{"setup", "api", "docs"}, got.Plan.PhaseIDs())
			api, ok := got.Plan.Phase("api")
			require.True(t, ok)
			assert.Equal(t, []string{"setup"}, api.Dependencies)
			assert.Equal(t, tt.apiStatus, got.PhaseStatus("api"))
		})
	}
}

func TestExecuteUpdate_FailedDependentTaskRemovalKeepsEdges(t *testing.T) {
	tree := removalTree()
	plantest.SetTaskStatus(tree, "setup", "config", plan.StatusInProgress)
	dir := plantest.WriteDir(t, tree)
	ops := []operations.Operation{
		operations.RemoveTask{PhaseID: "setup", ID: "scaffold"},
		operations.RemoveTask{PhaseID: "setup", ID: "config"},
	}

	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{ContinueOnError: true, Force: true})
	require.False(t, res.Success)
	assert.Equal(t, map[int]string{
		0: validation.CodeHasDependents,
		1: validation.CodeInProgress,
	}, failedCodes(report(t, res)))

	got := plantest.Load(t, dir)
	assert.Equal(t, []string{"scaffold", "config"}, got.Phases["setup"].TaskIDs())
	config, ok := got.Phases["setup"].Task("config")
	require.True(t, ok)
	assert.Equal(t, []string{"scaffold"}, config.Dependencies)
}

func TestExecuteUpdate_RemovesDependentTasksFirst(t *testing.T) {
	dir := plantest.WriteDir(t, removalTree())
	ops := []operations.Operation{
		operations.RemoveTask{PhaseID: "setup", ID: "scaffold"},
		operations.RemoveTask{PhaseID: "setup", ID: "config"},
		operations.AddTask{PhaseID: "setup", ID: "lint", Name: "Lint"},
	}

	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"lint"}, plantest.Load(t, dir).Phases["setup"].TaskIDs())
}

func TestExecuteUpdate_DryRunWritesNothing(t *testing.T) {
	dir := plantest.WriteDir(t, pendingTree())
	before := plantest.Snapshot(t, dir)
	ops := []operations.Operation{
		operations.AddPhase{ID: "docs", Name: "Docs", Dependencies: []string{"api"}},
		operations.RemovePhase{ID: "api"},
	}

	res := testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{DryRun: true})
	require.False(t, res.Success)
	assert.Equal(t, validation.CodeHasDependents, res.Code)

	ops = ops[:1]
	res = testOrchestrator().ExecuteUpdate(context.Background(), dir, ops, ExecuteOptions{DryRun: true})
	require.True(t, res.Success, res.Error)
	assert.True(t, report(t, res).DryRun)
	assert.Contains(t, res.Message, "dry run")
	assert.Empty(t, res.BackupPath)

	assert.Equal(t, before, plantest.Snapshot(t, dir))
	assert.Empty(t, backups(t, dir))
	assert.NoFileExists(t, filepath.Join(dir, "update-history.jsonl"))
}

func TestExecuteUpdate_RejectsInvalidBatch(t *testing.T) {
	dir := plantest.WriteDir(t, pendingTree())

	res := ExecuteUpdate(context.Background(), dir, nil, ExecuteOptions{})
	assert.Equal(t, errors.CodeValidation, res.Code)

	res = ExecuteUpdate(context.Background(), dir, []operations.Operation{
		operations.AddPhase{},
		operations.ReorderPhases{},
	}, ExecuteOptions{})
	require.Equal(t, errors.CodeValidation, res.Code)
	detail, ok := res.Data.(result.ValidationDetail)
	require.True(t, ok)
	assert.Len(t, detail.Issues, 2)
	assert.Empty(t, backups(t, dir))
}

func TestExecuteUpdate_MissingPlan(t *testing.T) {
	res := ExecuteUpdate(context.Background(), filepath.Join(t.TempDir(), "nope"),
		[]operations.Operation{operations.AddPhase{Name: "Docs"}}, ExecuteOptions{})
	assert.Equal(t, errors.CodeNotFound, res.Code)
}

func TestExecuteUpdate_CancelledContext(t *testing.T) {
	dir := plantest.WriteDir(t, pendingTree())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := ExecuteUpdate(ctx, dir, []operations.Operation{operations.AddPhase{Name: "Docs"}}, ExecuteOptions{})
	assert.False(t, res.Success)
	_, err := os.Stat(filepath.Join(dir, "phases", "phase-3-docs.json"))
	assert.True(t, os.IsNotExist(err))
}

func ptr[T any](v T) *T { return &v }
