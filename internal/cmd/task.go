package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/result"
)

func (a *app) taskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Add, remove, update or reorder the tasks of a phase",
	}
	cmd.AddCommand(
		a.taskAddCommand(),
		a.taskRemoveCommand(),
		a.taskUpdateCommand(),
		a.taskReorderCommand(),
	)
	return cmd
}

func (a *app) taskAddCommand() *cobra.Command {
	var (
		op      operations.AddTask
		actions []string
	)
	cmd := &cobra.Command{
		Use:     "add <phase-id>",
		Short:   "Add a task to a phase",
		Example: `  planstore task add api --name "Add handler" --action create:internal/api/handler.go`,
		Args:    cobra.ExactArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			parsed, err := parseActions(actions)
			if err != nil {
				return err
			}
			op.PhaseID = args[0]
			op.Actions = parsed
			op.Index = changedInt(cmd.Flags(), "index")
			return a.edit(func(e *operations.Editor) *result.Result { return e.AddTask(op) })
		}),
	}
	fs := cmd.Flags()
	fs.StringVar(&op.ID, "id", "", "task id (generated from the name when empty)")
	fs.StringVar(&op.Name, "name", "", "task name")
	fs.StringVar(&op.Description, "description", "", "task description")
	fs.StringVar(&op.Type, "type", "", "task type")
	fs.StringSliceVar(&op.Dependencies, "depends-on", nil, "ids of tasks in the same phase this task depends on")
	fs.IntVar(&op.EstimatedTokens, "tokens", 0, "estimated tokens")
	fs.StringArrayVar(&actions, "action", nil, "action as type:target; repeatable")
	fs.Int("index", 0, "position in the task list (default is the end)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) taskRemoveCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "remove <phase-id> <task-id>",
		Short: "Remove a task",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			op := operations.RemoveTask{PhaseID: args[0], ID: args[1], Force: force}
			return a.edit(func(e *operations.Editor) *result.Result { return e.RemoveTask(op) })
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove a completed task")
	return cmd
}

func (a *app) taskUpdateCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "update <phase-id> <task-id>",
		Short: "Update task fields",
		Long: `Update the fields given as flags. Fields without a flag keep their value.
Any --action flag replaces the whole action list.`,
		Args: cobra.ExactArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			op := operations.UpdateTask{
				PhaseID:         args[0],
				ID:              args[1],
				Name:            changedString(fs, "name"),
				Description:     changedString(fs, "description"),
				Type:            changedString(fs, "type"),
				Dependencies:    changedStrings(fs, "depends-on"),
				EstimatedTokens: changedInt(fs, "tokens"),
				Force:           force,
			}
			if fs.Changed("action") {
				specs, _ := fs.GetStringArray("action")
				parsed, err := parseActions(specs)
				if err != nil {
					return err
				}
				op.Actions = &parsed
			}
			return a.edit(func(e *operations.Editor) *result.Result { return e.UpdateTask(op) })
		}),
	}
	fs := cmd.Flags()
	fs.String("name", "", "task name")
	fs.String("description", "", "task description")
	fs.String("type", "", "task type")
	fs.StringSlice("depends-on", nil, "replace the task dependencies")
	fs.Int("tokens", 0, "estimated tokens")
	fs.StringArray("action", nil, "replace the actions; type:target, repeatable")
	fs.BoolVar(&force, "force", false, "update a completed task")
	return cmd
}

func (a *app) taskReorderCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reorder <phase-id> <task-id>...",
		Short: "Set the order of a phase's tasks",
		Args:  cobra.MinimumNArgs(2),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			op := operations.ReorderTasks{PhaseID: args[0], Order: args[1:], Force: force}
			return a.edit(func(e *operations.Editor) *result.Result { return e.ReorderTasks(op) })
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "move completed tasks")
	return cmd
}

