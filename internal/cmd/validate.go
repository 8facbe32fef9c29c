package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/planeditor/validation"
	"github.com/Iron-Ham/planstore/internal/result"
)

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a plan against the schema and its dependency rules",
		Long: `Validate the orchestration document, every phase document and the
dependency graphs of phases and tasks. Exits non-zero when any error is
found; warnings alone do not fail.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			dir, err := plan.Open(a.planDir())
			if err != nil {
				return a.print(result.FromError(err))
			}
			tree, err := dir.Load()
			if err != nil {
				return a.print(result.FromError(err))
			}
			res := validation.ValidateTree(tree)
			if err := a.out.Validation(dir.Path, res); err != nil {
				return err
			}
			if !res.IsValid() {
				return ErrResultFailed
			}
			return nil
		}),
	}
}
