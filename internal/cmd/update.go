package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planstore/internal/orchestrator"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/recovery"
	"github.com/Iron-Ham/planstore/internal/result"
)

const opsFlagHelp = "operations file (JSON or YAML, - for stdin)"

func (a *app) loadOps(cmd *cobra.Command) ([]operations.Operation, error) {
	path, _ := cmd.Flags().GetString("ops")
	return readOperations(path, cmd.InOrStdin())
}

func (a *app) updateCommand() *cobra.Command {
	var opts orchestrator.ExecuteOptions
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply a batch of operations to a plan",
		Long: `Apply a batch of operations as one transaction.

The plan is locked and backed up, the operations are applied in order, and
the plan is written once at the end. By default the first failure restores
the backup and stops the batch; --continue-on-error applies every valid
operation instead and reports the failures.

Started plans reject operations that touch in-progress work. Operations on
completed work need --force. See "planstore selective" to apply only the
safe part of a batch.`,
		Example: `  planstore update --ops changes.json
  planstore update --ops changes.yaml --dry-run
  cat changes.json | planstore update --ops -`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ops, err := a.loadOps(cmd)
			if err != nil {
				return a.print(result.FromError(err))
			}
			opts.Actor = a.cfg.Plan.Actor
			opts.Source = source
			return a.print(a.orchestrator().ExecuteUpdate(cmd.Context(), a.planDir(), ops, opts))
		}),
	}
	cmd.Flags().String("ops", "", opsFlagHelp)
	_ = cmd.MarkFlagRequired("ops")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate the batch without writing")
	cmd.Flags().BoolVar(&opts.ContinueOnError, "continue-on-error", false, "apply every valid operation instead of stopping at the first failure")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "allow changes to completed phases and tasks")
	return cmd
}

func (a *app) selectiveCommand() *cobra.Command {
	var opts recovery.SelectiveOptions
	cmd := &cobra.Command{
		Use:   "selective",
		Short: "Apply only the operations that are safe against the execution state",
		Long: `Classify each operation against the live execution state and apply the
safe ones.

Operations on in-progress work are always blocked. Operations on completed
work, or that remove something other items depend on, are blocked unless
--force is given. Without --skip-blocked any blocked operation fails the
whole call and nothing is written.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ops, err := a.loadOps(cmd)
			if err != nil {
				return a.print(result.FromError(err))
			}
			opts.Actor = a.cfg.Plan.Actor
			opts.Source = source
			return a.print(a.recovery().SelectiveUpdate(cmd.Context(), a.planDir(), ops, opts))
		}),
	}
	cmd.Flags().String("ops", "", opsFlagHelp)
	_ = cmd.MarkFlagRequired("ops")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "classify and simulate without writing")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "allow changes to completed work")
	cmd.Flags().BoolVar(&opts.SkipBlocked, "skip-blocked", false, "apply the safe operations even when some are blocked")
	return cmd
}

func (a *app) replanCommand() *cobra.Command {
	var opts recovery.ReplanOptions
	cmd := &cobra.Command{
		Use:   "replan",
		Short: "Reset a started plan to pending and apply operations",
		Long: `Roll a started plan back to pending and optionally apply a batch.

The plan directory is backed up and the execution state is copied into
.logs-backup before anything changes. The previous run is appended to the
plan's execution history. With --preserve-completed the output recorded on
completed tasks is kept.`,
		Example: `  planstore replan --reason "split the api phase"
  planstore replan --ops new-phases.yaml --preserve-completed`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			var ops []operations.Operation
			if cmd.Flags().Changed("ops") {
				var err error
				if ops, err = a.loadOps(cmd); err != nil {
					return a.print(result.FromError(err))
				}
			}
			opts.Actor = a.cfg.Plan.Actor
			opts.Source = source
			return a.print(a.recovery().RollbackAndReplan(cmd.Context(), a.planDir(), ops, opts))
		}),
	}
	cmd.Flags().String("ops", "", opsFlagHelp)
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would be reset without writing")
	cmd.Flags().BoolVar(&opts.PreserveCompleted, "preserve-completed", false, "keep the output of completed tasks")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded in the execution history")
	return cmd
}
