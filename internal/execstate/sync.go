package execstate

import (
	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/plan"
)

// Sync reconciles the execution state at planDir with the plan's structure:
// ids missing from the state are seeded pending, ids no longer in the plan
// are pruned, and the progress snapshot is refreshed. Nothing is written
// when the state is already in agreement.
func Sync(planDir string) (plan.ReconcileReport, error) {
	lock, err := docstore.Lock(planDir)
	if err != nil {
		return plan.ReconcileReport{}, err
	}
	defer func() { _ = lock.Unlock() }()

	dir, err := plan.Open(planDir)
	if err != nil {
		return plan.ReconcileReport{}, err
	}
	return SyncLocked(dir)
}

// SyncLocked is Sync for callers that already hold the plan lock.
func SyncLocked(dir *plan.Dir) (plan.ReconcileReport, error) {
	tree, err := dir.Load()
	if err != nil {
		return plan.ReconcileReport{}, err
	}
	before := tree.Plan.Progress
	report := tree.Reconcile()
	if !report.Changed() && before == tree.Plan.Progress {
		return report, nil
	}
	return report, dir.Save(tree)
}
