package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/result"
)

func (a *app) phaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Add, remove, update or reorder phases",
	}
	cmd.AddCommand(
		a.phaseAddCommand(),
		a.phaseRemoveCommand(),
		a.phaseUpdateCommand(),
		a.phaseReorderCommand(),
	)
	return cmd
}

func (a *app) phaseAddCommand() *cobra.Command {
	var op operations.AddPhase
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a phase",
		Example: `  planstore phase add --name "API layer" --depends-on setup --tokens 12000
  planstore phase add --id docs --name Docs --index 0`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			op.Index = changedInt(cmd.Flags(), "index")
			return a.edit(func(e *operations.Editor) *result.Result { return e.AddPhase(op) })
		}),
	}
	fs := cmd.Flags()
	fs.StringVar(&op.ID, "id", "", "phase id (generated from the name when empty)")
	fs.StringVar(&op.Name, "name", "", "phase name")
	fs.StringVar(&op.Description, "description", "", "phase description")
	fs.StringVar(&op.Type, "type", "", "phase type")
	fs.StringSliceVar(&op.Dependencies, "depends-on", nil, "ids of phases this phase depends on")
	fs.IntVar(&op.EstimatedTokens, "tokens", 0, "estimated tokens")
	fs.StringVar(&op.EstimatedDuration, "duration", "", "estimated duration, e.g. 30m")
	fs.Int("index", 0, "position in the phase list (default is the end)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) phaseRemoveCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "remove <phase-id>",
		Short: "Remove a phase and its document",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			op := operations.RemovePhase{ID: args[0], Force: force}
			return a.edit(func(e *operations.Editor) *result.Result { return e.RemovePhase(op) })
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove a completed phase")
	return cmd
}

func (a *app) phaseUpdateCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "update <phase-id>",
		Short: "Update phase fields",
		Long: `Update the fields given as flags. Fields without a flag keep their value.
Passing --depends-on "" clears the dependencies.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			op := operations.UpdatePhase{
				ID:                args[0],
				Name:              changedString(fs, "name"),
				Description:       changedString(fs, "description"),
				Type:              changedString(fs, "type"),
				Dependencies:      changedStrings(fs, "depends-on"),
				EstimatedTokens:   changedInt(fs, "tokens"),
				EstimatedDuration: changedString(fs, "duration"),
				Force:             force,
			}
			return a.edit(func(e *operations.Editor) *result.Result { return e.UpdatePhaseMetadata(op) })
		}),
	}
	fs := cmd.Flags()
	fs.String("name", "", "phase name")
	fs.String("description", "", "phase description")
	fs.String("type", "", "phase type")
	fs.StringSlice("depends-on", nil, "replace the phase dependencies")
	fs.Int("tokens", 0, "estimated tokens")
	fs.String("duration", "", "estimated duration")
	fs.BoolVar(&force, "force", false, "update a completed phase")
	return cmd
}

func (a *app) phaseReorderCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reorder <phase-id>...",
		Short: "Set the order of the phase list",
		Long: `Reorder the phases. The arguments must name every phase exactly once.
A phase placed ahead of one of its dependencies is reported as a warning.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			op := operations.ReorderPhases{Order: args, Force: force}
			return a.edit(func(e *operations.Editor) *result.Result { return e.ReorderPhases(op) })
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "move completed phases")
	return cmd
}
