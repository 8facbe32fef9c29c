package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planstore/internal/cmd/output"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/result"
	"github.com/Iron-Ham/planstore/internal/scheduler"
)

func (a *app) levelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "levels",
		Short: "Show the phases grouped by dependency level",
		Long: `Group the phases into levels: a phase's level is one more than the
highest level among its dependencies. Phases of one level may run in
parallel, subject to shared targets and the token budget. Pairs of
same-level phases that would be split into separate groups are listed
under their level; scheduler.budget_headroom sets how far above the
per-phase budget two phases may estimate together.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			tree, err := loadTree(a.planDir())
			if err != nil {
				return a.print(result.FromError(err))
			}
			levels, err := scheduler.ComputeLevels(tree.Plan)
			if err != nil {
				return a.print(result.FromError(err))
			}
			view := output.NewLevelsView(tree, levels, a.cfg.Scheduler.BudgetHeadroom)
			if view.MaxParallel == 0 {
				view.MaxParallel = a.cfg.Scheduler.DefaultMaxParallel
			}
			return a.out.Levels(view)
		}),
	}
}

// loadTree reads the plan at planDir and reconciles its state in memory.
func loadTree(planDir string) (*plan.Tree, error) {
	dir, err := plan.Open(planDir)
	if err != nil {
		return nil, err
	}
	tree, err := dir.Load()
	if err != nil {
		return nil, err
	}
	tree.Reconcile()
	return tree, nil
}
