package operations

import (
	"sort"

	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/planeditor/validation"
)

// OrderForApply sorts ops by priority and then reorders the removals so
// that every dependent is removed before the phase or task it depends on.
// A dependency is only removable once its dependents are gone; when a
// dependent's removal fails, the dependency keeps it and stays blocked.
func OrderForApply(ops []Operation, t *plan.Tree) []Indexed {
	sorted := SortByPriority(ops)

	var slots []int
	for i, item := range sorted {
		if _, ok := removalKey(item.Op); ok {
			slots = append(slots, i)
		}
	}
	if len(slots) < 2 {
		return sorted
	}

	rank := removalRanks(t)
	removals := make([]Indexed, len(slots))
	for i, s := range slots {
		removals[i] = sorted[s]
	}
	sort.SliceStable(removals, func(i, j int) bool {
		a, b := removals[i].Op, removals[j].Op
		if a.Priority() != b.Priority() {
			return a.Priority() < b.Priority()
		}
		return rankOf(rank, a) > rankOf(rank, b)
	})
	for i, s := range slots {
		sorted[s] = removals[i]
	}
	return sorted
}

func removalKey(op Operation) (string, bool) {
	switch o := op.(type) {
	case RemovePhase:
		return "phase:" + o.ID, true
	case RemoveTask:
		return "task:" + plan.TaskKey(o.PhaseID, o.ID), true
	}
	return "", false
}

// rankOf returns the topological position of op's target, or -1 when the
// target is unknown.
func rankOf(rank map[string]int, op Operation) int {
	key, _ := removalKey(op)
	if r, ok := rank[key]; ok {
		return r
	}
	return -1
}

// removalRanks maps every phase and task to its position in the
// dependency order of its graph. Graphs with a cycle are left unranked.
func removalRanks(t *plan.Tree) map[string]int {
	rank := make(map[string]int)
	if order, err := validation.PhaseGraph(t.Plan).TopologicalOrder(); err == nil {
		for i, id := range order {
			rank["phase:"+id] = i
		}
	}
	for phaseID, doc := range t.Phases {
		order, err := validation.TaskGraph(doc).TopologicalOrder()
		if err != nil {
			continue
		}
		for i, id := range order {
			rank["task:"+plan.TaskKey(phaseID, id)] = i
		}
	}
	return rank
}
