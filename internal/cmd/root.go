// Package cmd implements the planstore command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/planstore/internal/cmd/output"
	"github.com/Iron-Ham/planstore/internal/config"
	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/Iron-Ham/planstore/internal/metrics"
)

// ErrResultFailed is returned by a command whose result was printed but
// reported failure. Callers exit non-zero without printing it again.
var ErrResultFailed = errors.New("command failed")

// Execute runs the planstore command line.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Each call has its own viper
// instance, so tests can execute several trees in one process.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "planstore",
		Short: "Edit and recover file-backed execution plans",
		Long: `planstore edits execution plans stored as a directory of JSON documents:
an orchestration document, one document per phase, and the live execution
state. Every change is validated, backed up, locked and audited.

Plans that have already started executing can be updated selectively,
applying only the changes that are safe against the current state, or
rolled back to pending and replanned.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/planstore/config.yaml)")
	flags.StringP("plan-dir", "p", "", "plan directory (default is the current directory)")
	flags.Bool("json", false, "print results as JSON")
	flags.String("metrics-textfile", "", "write Prometheus metrics to this file on exit")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("plan.dir", flags.Lookup("plan-dir"))
	_ = a.v.BindPFlag("json", flags.Lookup("json"))
	_ = a.v.BindPFlag("metrics_textfile", flags.Lookup("metrics-textfile"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))

	root.AddCommand(
		a.updateCommand(),
		a.selectiveCommand(),
		a.replanCommand(),
		a.phaseCommand(),
		a.taskCommand(),
		a.metaCommand(),
		a.stateCommand(),
		a.levelsCommand(),
		a.logCommand(),
		a.validateCommand(),
		a.configCommand(),
	)
	return root
}

// app carries the state shared by every command of one tree.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Recorder
	out     *output.Printer
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	a.initConfig()

	cfg, err := config.LoadFrom(a.v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Logging.LoggerOptions())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.logger = logger
	a.metrics = metrics.NewRecorder()
	a.out = output.New(cmd.OutOrStdout(), a.v.GetBool("json"))
	return nil
}

func (a *app) initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaultsOn(a.v)

	if cfgFile := a.v.GetString("config"); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(config.ConfigDir())
		a.v.AddConfigPath("$HOME/.config/planstore")
		a.v.AddConfigPath(".")
	}

	a.v.AutomaticEnv()
	a.v.SetEnvPrefix("PLANSTORE")
	// e.g. PLANSTORE_AUDIT_MAX_SIZE_BYTES for audit.max_size_bytes
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = a.v.ReadInConfig()
}

// run wraps a command body so metrics are written and the log is closed
// whether or not the body fails.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if terr := a.teardown(); terr != nil && err == nil {
				err = terr
			}
		}()
		return fn(cmd, args)
	}
}

func (a *app) teardown() error {
	var errs []error
	if path := a.v.GetString("metrics_textfile"); path != "" && a.metrics != nil {
		if err := a.metrics.WriteTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
