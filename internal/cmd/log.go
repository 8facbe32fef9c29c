package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Iron-Ham/planstore/internal/audit"
	"github.com/Iron-Ham/planstore/internal/result"
)

func (a *app) logCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Query, summarize and export the audit log",
		Long: `Every change to a plan is appended to update-history.jsonl in the plan
directory. Rotated generations are read transparently.`,
	}
	cmd.AddCommand(a.logQueryCommand(), a.logStatsCommand(), a.logExportCommand())
	return cmd
}

// addFilterFlags registers the flags shared by query and export.
func addFilterFlags(fs *pflag.FlagSet) {
	fs.String("since", "", "only entries at or after this time (RFC 3339, or a duration such as 24h)")
	fs.String("until", "", "only entries before this time (RFC 3339, or a duration)")
	fs.String("type", "", "operation type: add, update, delete, batch-start, batch-complete")
	fs.String("target", "", "target: phase, task, metadata, batch")
	fs.String("id", "", "target id")
	fs.Bool("failed", false, "only failed entries")
	fs.Bool("succeeded", false, "only successful entries")
	fs.Int("offset", 0, "skip this many matching entries")
	fs.Int("limit", 0, "return at most this many entries (0 is unlimited)")
}

func filterFromFlags(fs *pflag.FlagSet, now time.Time) (audit.Filter, error) {
	var f audit.Filter
	var err error
	since, _ := fs.GetString("since")
	if f.Start, err = parseTime(since, now); err != nil {
		return f, fmt.Errorf("invalid --since: %w", err)
	}
	until, _ := fs.GetString("until")
	if f.End, err = parseTime(until, now); err != nil {
		return f, fmt.Errorf("invalid --until: %w", err)
	}
	f.OperationType, _ = fs.GetString("type")
	f.Target, _ = fs.GetString("target")
	f.TargetID, _ = fs.GetString("id")
	f.Offset, _ = fs.GetInt("offset")
	f.Limit, _ = fs.GetInt("limit")

	failed, _ := fs.GetBool("failed")
	succeeded, _ := fs.GetBool("succeeded")
	switch {
	case failed && succeeded:
		return f, fmt.Errorf("--failed and --succeeded are mutually exclusive")
	case failed:
		f.Success = new(bool)
	case succeeded:
		ok := true
		f.Success = &ok
	}
	return f, nil
}

// parseTime accepts an RFC 3339 timestamp, a date, or a duration counted
// back from now. Empty means no bound.
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func (a *app) queryLog(fs *pflag.FlagSet) ([]audit.Entry, error) {
	f, err := filterFromFlags(fs, time.Now())
	if err != nil {
		return nil, err
	}
	log, err := a.auditLogger()
	if err != nil {
		return nil, err
	}
	return log.Query(f)
}

func (a *app) logQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "query",
		Short:   "List audit entries",
		Example: `  planstore log query --since 24h --target phase --failed`,
		Args:    cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			entries, err := a.queryLog(cmd.Flags())
			if err != nil {
				return a.print(result.FromError(err))
			}
			format := audit.FormatNarrative
			if a.out.JSONMode() {
				format = audit.FormatJSON
			}
			return audit.Export(a.out.Writer(), entries, format)
		}),
	}
	addFilterFlags(cmd.Flags())
	return cmd
}

func (a *app) logStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the audit log",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			log, err := a.auditLogger()
			if err != nil {
				return a.print(result.FromError(err))
			}
			stats, err := log.Stats()
			if err != nil {
				return a.print(result.FromError(err))
			}
			return a.out.Stats(stats)
		}),
	}
}

func (a *app) logExportCommand() *cobra.Command {
	var (
		format string
		dest   string
	)
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Export audit entries as JSON, CSV or narrative text",
		Example: `  planstore log export --format csv --output history.csv`,
		Args:    cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			f, err := audit.ParseFormat(format)
			if err != nil {
				return err
			}
			entries, err := a.queryLog(cmd.Flags())
			if err != nil {
				return a.print(result.FromError(err))
			}

			var w io.Writer = a.out.Writer()
			if dest != "" && dest != "-" {
				file, err := os.Create(dest)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", dest, err)
				}
				defer file.Close()
				w = file
			}
			if err := audit.Export(w, entries, f); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			if w != a.out.Writer() {
				a.logger.Info("audit log exported", "entries", len(entries), "format", f, "path", dest)
			}
			return nil
		}),
	}
	addFilterFlags(cmd.Flags())
	cmd.Flags().StringVarP(&format, "format", "f", string(audit.FormatJSON), "json, csv or narrative")
	cmd.Flags().StringVarP(&dest, "output", "o", "", "write to this file instead of stdout")
	return cmd
}
