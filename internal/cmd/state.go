package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planstore/internal/execstate"
	"github.com/Iron-Ham/planstore/internal/result"
	"github.com/Iron-Ham/planstore/internal/util"
)

func (a *app) stateCommand() *cobra.Command {
	var (
		watch    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the execution state of a plan",
		Long: `Show the plan status, progress, and the phases and tasks by status.

With --watch the summary is printed again every time another process
changes the execution state, until interrupted.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			if !watch {
				s, err := execstate.GetExecutionState(a.planDir())
				if err != nil {
					return a.print(result.FromError(err))
				}
				return a.out.Summary(s)
			}
			return a.watchState(cmd, debounce)
		}),
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print the state again whenever it changes")
	cmd.Flags().DurationVar(&debounce, "debounce", 50*time.Millisecond, "how long to wait for writes to settle")
	cmd.AddCommand(a.stateSyncCommand())
	return cmd
}

func (a *app) watchState(cmd *cobra.Command, debounce time.Duration) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	changes := make(chan *execstate.Summary, 1)
	w, err := execstate.NewWatcher(a.planDir(), func(s *execstate.Summary) {
		select {
		case changes <- s:
		default:
			// Drop the stale summary so the newest one is printed.
			select {
			case <-changes:
			default:
			}
			changes <- s
		}
	}, execstate.WithWatcherLogger(a.logger), execstate.WithDebounce(debounce))
	if err != nil {
		return a.print(result.FromError(err))
	}
	defer w.Stop()

	if s := w.Last(); s != nil {
		if err := a.out.Summary(s); err != nil {
			return err
		}
	}
	w.Start()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-changes:
			if !a.out.JSONMode() {
				fmt.Fprintln(a.out.Writer())
			}
			if err := a.out.Summary(s); err != nil {
				return err
			}
		}
	}
}

func (a *app) stateSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the execution state with the plan structure",
		Long: `Seed missing phases and tasks as pending and prune entries for phases and
tasks that no longer exist. Existing statuses are never changed.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			report, err := execstate.Sync(a.planDir())
			if err != nil {
				return a.print(result.FromError(err))
			}
			if !report.Changed() {
				return a.print(result.OK("execution state already in sync", report))
			}
			msg := fmt.Sprintf("seeded %s and %s, pruned %s and %s",
				util.Plural(len(report.AddedPhases), "phase"), util.Plural(len(report.AddedTasks), "task"),
				util.Plural(len(report.PrunedPhases), "phase"), util.Plural(len(report.PrunedTasks), "task"))
			return a.print(result.OK(msg, report))
		}),
	}
}
