package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/result"
)

func (a *app) metaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Edit plan-level fields and labels",
	}
	cmd.AddCommand(a.metaSetCommand(), a.metaAddCommand(), a.metaDeleteCommand())
	return cmd
}

func (a *app) metaSetCommand() *cobra.Command {
	var labels []string
	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Update plan fields and existing labels",
		Example: `  planstore meta set --max-parallel 2 --label owner=platform`,
		Args:    cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			op := operations.UpdateMetadata{
				Name:        changedString(fs, "name"),
				Description: changedString(fs, "description"),
				Version:     changedString(fs, "version"),
			}
			patch := &operations.ExecutionPatch{
				Strategy:          changedString(fs, "strategy"),
				MaxParallelPhases: changedInt(fs, "max-parallel"),
			}
			if patch.Strategy != nil || patch.MaxParallelPhases != nil {
				op.Execution = patch
			}
			if len(labels) > 0 {
				parsed, err := parseLabels(labels)
				if err != nil {
					return err
				}
				op.Labels = parsed
			}
			return a.edit(func(e *operations.Editor) *result.Result { return e.UpdateMetadata(op) })
		}),
	}
	fs := cmd.Flags()
	fs.String("name", "", "plan name")
	fs.String("description", "", "plan description")
	fs.String("version", "", "plan version")
	fs.String("strategy", "", "execution strategy: sequential, parallel or dependency-based")
	fs.Int("max-parallel", 0, "maximum phases run in parallel")
	fs.StringArrayVar(&labels, "label", nil, "change an existing label as key=value; repeatable")
	return cmd
}

func (a *app) metaAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <key> <value>",
		Short: "Add a label",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			op := operations.AddMetadata{Key: args[0], Value: args[1]}
			return a.edit(func(e *operations.Editor) *result.Result { return e.AddMetadata(op) })
		}),
	}
}

func (a *app) metaDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a label",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			op := operations.DeleteMetadata{Key: args[0]}
			return a.edit(func(e *operations.Editor) *result.Result { return e.DeleteMetadata(op) })
		}),
	}
}
