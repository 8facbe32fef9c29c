package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/planstore/internal/audit"
	"github.com/Iron-Ham/planstore/internal/orchestrator"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/recovery"
	"github.com/Iron-Ham/planstore/internal/result"
)

// source is recorded on audit entries written by the command line.
const source = "cli"

func (a *app) planDir() string {
	if a.cfg.Plan.Dir == "" {
		return "."
	}
	return a.cfg.Plan.Dir
}

func (a *app) auditOptions() audit.Options {
	return audit.Options{
		Rotation:         a.cfg.Audit.AuditRotation(),
		MaxSnapshotBytes: a.cfg.Audit.MaxSnapshotBytes,
	}
}

func (a *app) auditLogger() (*audit.Logger, error) {
	dir, err := plan.Open(a.planDir())
	if err != nil {
		return nil, err
	}
	return audit.NewLogger(dir.Path, a.auditOptions()), nil
}

func (a *app) editor() (*operations.Editor, error) {
	log, err := a.auditLogger()
	if err != nil {
		return nil, err
	}
	return operations.Open(a.planDir(),
		operations.WithLogger(a.logger),
		operations.WithAudit(log),
		operations.WithMetrics(a.metrics),
		operations.WithBackupRoot(a.cfg.Backup.Dir),
		operations.WithPruneBackups(a.cfg.Backup.PruneOnSuccess),
		operations.WithActor(a.cfg.Plan.Actor, source),
	)
}

func (a *app) orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(
		orchestrator.WithLogger(a.logger),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithBackupRoot(a.cfg.Backup.Dir),
		orchestrator.WithPruneBackups(a.cfg.Backup.PruneOnSuccess),
		orchestrator.WithAuditOptions(a.auditOptions()),
	)
}

func (a *app) recovery() *recovery.Recovery {
	return recovery.New(
		recovery.WithLogger(a.logger),
		recovery.WithMetrics(a.metrics),
		recovery.WithBackupRoot(a.cfg.Backup.Dir),
		recovery.WithPruneBackups(a.cfg.Backup.PruneOnSuccess),
		recovery.WithAuditOptions(a.auditOptions()),
		recovery.WithLogsBackupRetention(a.cfg.Recovery.LogsBackupRetention),
	)
}

// edit opens an editor, runs fn against it and prints the result.
func (a *app) edit(fn func(e *operations.Editor) *result.Result) error {
	e, err := a.editor()
	if err != nil {
		return a.print(result.FromError(err))
	}
	return a.print(fn(e))
}

// print writes res and maps a failed result to ErrResultFailed.
func (a *app) print(res *result.Result) error {
	if err := a.out.Result(res); err != nil {
		return err
	}
	if !res.Success {
		return ErrResultFailed
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
