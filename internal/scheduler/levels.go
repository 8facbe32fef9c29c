// Package scheduler groups a plan's phases into dependency levels and runs
// them level by level.
//
// A phase's level is one more than the highest level among its
// dependencies; phases without dependencies are level 0. Phases sharing a
// level have no dependency path between them, so they may run in parallel.
// Levels run strictly in order. Within a level the [Coordinator] runs
// groups of compatible phases as a join: every phase of a group finishes
// before the next group starts.
package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/planeditor/validation"
)

// Levels is the level assignment of a plan's phases.
type Levels struct {
	// ByPhase maps each phase id to its level.
	ByPhase map[string]int `json:"byPhase"`
	// Groups lists the phase ids of each level in plan order.
	Groups [][]string `json:"groups"`
}

// Level returns the phase ids at level n, or nil.
func (l *Levels) Level(n int) []string {
	if n < 0 || n >= len(l.Groups) {
		return nil
	}
	return l.Groups[n]
}

// ComputeLevels assigns a level to every phase of p. It fails if a
// dependency names an unknown phase or the dependencies form a cycle.
func ComputeLevels(p *plan.Plan) (*Levels, error) {
	g := validation.PhaseGraph(p)
	if dangling := g.Dangling(); len(dangling) > 0 {
		ids := make([]string, 0, len(dangling))
		for id := range dangling {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return nil, fmt.Errorf("%w: phase %s depends on %s",
			errors.ErrDanglingDependency, ids[0], strings.Join(dangling[ids[0]], ", "))
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	levels := &Levels{ByPhase: make(map[string]int, len(order))}
	for _, id := range order {
		level := 0
		for _, dep := range g.Deps[id] {
			level = max(level, levels.ByPhase[dep]+1)
		}
		levels.ByPhase[id] = level
	}

	for _, id := range p.PhaseIDs() {
		level := levels.ByPhase[id]
		for len(levels.Groups) <= level {
			levels.Groups = append(levels.Groups, nil)
		}
		levels.Groups[level] = append(levels.Groups[level], id)
	}
	return levels, nil
}
