package scheduler

import (
	"fmt"
	"slices"

	"github.com/Iron-Ham/planstore/internal/plan"
)

// DefaultBudgetHeadroom is the multiple of the per-phase token budget that
// two phases running together may estimate in total.
const DefaultBudgetHeadroom = 1.5

// PhaseInfo is what the parallel check needs to know about a phase.
type PhaseInfo struct {
	ID              string
	Dependencies    []string
	Targets         []string
	EstimatedTokens int
}

// InfoFor describes phase id of t. The estimate comes from the phase
// reference, falling back to the phase document.
func InfoFor(t *plan.Tree, id string) PhaseInfo {
	info := PhaseInfo{ID: id}
	if ref, ok := t.Plan.Phase(id); ok {
		info.Dependencies = ref.Dependencies
		info.EstimatedTokens = ref.EstimatedTokens
	}
	if doc, ok := t.Phases[id]; ok {
		info.Targets = doc.Targets()
		if info.EstimatedTokens == 0 {
			info.EstimatedTokens = doc.EstimatedTokens()
		}
	}
	return info
}

// CanRunInParallel reports whether a and b may run at the same time:
// neither depends directly on the other, their action targets do not
// intersect, and their combined estimate stays within headroom times the
// per-phase budget. A perPhaseBudget of zero disables the token check.
//
// Targets compare literally, so this is a heuristic. Two spellings of one
// path are not detected.
func CanRunInParallel(a, b PhaseInfo, perPhaseBudget int, headroom float64) bool {
	return parallelConflict(a, b, perPhaseBudget, headroom) == ""
}

// parallelConflict returns why a and b cannot run together, or "".
func parallelConflict(a, b PhaseInfo, perPhaseBudget int, headroom float64) string {
	if slices.Contains(a.Dependencies, b.ID) || slices.Contains(b.Dependencies, a.ID) {
		return fmt.Sprintf("%s and %s depend on each other", a.ID, b.ID)
	}
	for _, target := range a.Targets {
		if slices.Contains(b.Targets, target) {
			return fmt.Sprintf("%s and %s both act on %s", a.ID, b.ID, target)
		}
	}
	if perPhaseBudget > 0 {
		limit := headroom * float64(perPhaseBudget)
		if float64(a.EstimatedTokens+b.EstimatedTokens) > limit {
			return fmt.Sprintf("%s and %s together estimate %d tokens, above %.0f", a.ID, b.ID,
				a.EstimatedTokens+b.EstimatedTokens, limit)
		}
	}
	return ""
}

// Conflict names two phases of one level that cannot share a group.
type Conflict struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Reason string `json:"reason"`
}

// LevelConflicts lists every pair of ids that CanRunInParallel rejects,
// in level order.
func LevelConflicts(t *plan.Tree, ids []string, perPhaseBudget int, headroom float64) []Conflict {
	infos := make([]PhaseInfo, len(ids))
	for i, id := range ids {
		infos[i] = InfoFor(t, id)
	}
	var out []Conflict
	for i := range infos {
		for j := i + 1; j < len(infos); j++ {
			if reason := parallelConflict(infos[i], infos[j], perPhaseBudget, headroom); reason != "" {
				out = append(out, Conflict{A: infos[i].ID, B: infos[j].ID, Reason: reason})
			}
		}
	}
	return out
}
