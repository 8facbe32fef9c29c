// Package plantest builds plan directories for tests.
package plantest

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/plan"
)

// Epoch is the fixed creation time stamped on fixture plans.
var Epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// PhaseFixture pairs a PhaseRef with its document.
type PhaseFixture struct {
	Ref plan.PhaseRef
	Doc *plan.PhaseDocument
}

// Phase returns a pending sequential phase with the given dependencies.
func Phase(id string, deps ...string) PhaseFixture {
	if deps == nil {
		deps = []string{}
	}
	return PhaseFixture{
		Ref: plan.PhaseRef{
			ID:              id,
			Name:            "Phase " + id,
			File:            plan.PhaseFile(id),
			Type:            plan.PhaseTypeSequential,
			Dependencies:    deps,
			Status:          plan.StatusPending,
			EstimatedTokens: 1000,
		},
		Doc: &plan.PhaseDocument{
			ID:     id,
			Name:   "Phase " + id,
			Type:   plan.PhaseTypeSequential,
			Status: plan.StatusPending,
			Tasks:  []plan.Task{},
		},
	}
}

// WithTasks sets the phase's tasks.
func (f PhaseFixture) WithTasks(tasks ...plan.Task) PhaseFixture {
	f.Doc.Tasks = tasks
	return f
}

// WithTokens sets the phase's estimated tokens.
func (f PhaseFixture) WithTokens(n int) PhaseFixture {
	f.Ref.EstimatedTokens = n
	f.Doc.Metrics.EstimatedTokens = n
	return f
}

// Task returns a pending implementation task that modifies src/<id>.go.
func Task(id string, deps ...string) plan.Task {
	if deps == nil {
		deps = []string{}
	}
	return plan.Task{
		ID:           id,
		Name:         "Task " + id,
		Type:         "implementation",
		Status:       plan.StatusPending,
		Dependencies: deps,
		Actions: []plan.Action{
			{Type: "modify", Target: "src/" + id + ".go"},
		},
	}
}

// NewTree returns a valid, not-started plan tree containing phases.
func NewTree(planID string, phases ...PhaseFixture) *plan.Tree {
	p := &plan.Plan{
		ID:       planID,
		Name:     "Plan " + planID,
		Status:   plan.StatusPending,
		Version:  "1.0.0",
		Created:  Epoch,
		Modified: Epoch,
		Phases:   []plan.PhaseRef{},
		Execution: plan.ExecutionConfig{
			Strategy:          plan.StrategyDependencyBased,
			MaxParallelPhases: 3,
			TokenBudget:       plan.TokenBudget{Total: 100000, PerPhase: 10000, WarningThreshold: 0.8},
			RetryPolicy:       plan.RetryPolicy{MaxAttempts: 2, BackoffMs: 0},
		},
	}
	docs := make(map[string]*plan.PhaseDocument, len(phases))
	for _, f := range phases {
		p.Phases = append(p.Phases, f.Ref)
		docs[f.Ref.ID] = f.Doc
	}

	tree := plan.NewTree(p, docs, plan.NewExecutionState(planID))
	tree.Reconcile()
	tree.MarkAllDirty()
	return tree
}

// SetPhaseStatus records status for a phase in the execution state and marks
// the plan as started when status is not pending.
func SetPhaseStatus(tree *plan.Tree, phaseID string, status plan.Status) {
	tree.State.PhaseStatuses[phaseID] = status
	markStarted(tree, status)
	tree.RefreshProgress()
}

// SetTaskStatus records status for a task in the execution state.
func SetTaskStatus(tree *plan.Tree, phaseID, taskID string, status plan.Status) {
	if tree.State.TaskStatuses[phaseID] == nil {
		tree.State.TaskStatuses[phaseID] = make(map[string]plan.Status)
	}
	tree.State.TaskStatuses[phaseID][taskID] = status
	markStarted(tree, status)
	tree.RefreshProgress()
}

func markStarted(tree *plan.Tree, status plan.Status) {
	if status != plan.StatusPending && tree.State.StartedAt == nil {
		started := Epoch.Add(time.Hour)
		tree.State.StartedAt = &started
	}
}

// WriteDir writes tree into a fresh directory under t.TempDir() and returns
// its path.
func WriteDir(t testing.TB, tree *plan.Tree) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), tree.Plan.ID)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("create plan dir: %v", err)
	}
	tree.MarkAllDirty()
	if err := (&plan.Dir{Path: path}).Save(tree); err != nil {
		t.Fatalf("write plan dir: %v", err)
	}
	return path
}

// Load reads the plan directory at path.
func Load(t testing.TB, path string) *plan.Tree {
	t.Helper()
	dir, err := plan.Open(path)
	if err != nil {
		t.Fatalf("open plan dir: %v", err)
	}
	tree, err := dir.Load()
	if err != nil {
		t.Fatalf("load plan dir: %v", err)
	}
	return tree
}

// Snapshot returns the contents of every file under dir keyed by relative
// path, skipping the audit trail and the lock file.
func Snapshot(t testing.TB, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == docstore.LockFileName || strings.HasPrefix(rel, docstore.AuditLogName) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot %s: %v", dir, err)
	}
	return out
}
