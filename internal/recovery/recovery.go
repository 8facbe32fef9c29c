// Package recovery edits plans that have already started executing.
//
// SelectiveUpdate applies only the operations that are safe against the
// live execution state. RollbackAndReplan resets every status to pending,
// preserving the previous run in the plan's execution history, and then
// applies the caller's operations.
package recovery

import (
	"time"

	"github.com/Iron-Ham/planstore/internal/audit"
	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/Iron-Ham/planstore/internal/metrics"
	"github.com/Iron-Ham/planstore/internal/orchestrator"
)

// Workflow names used in audit modes and metrics.
const (
	WorkflowSelective = "selective"
	WorkflowReplan    = "replan"
)

// DefaultLogsBackupRetention is how many .logs-backup generations are kept.
const DefaultLogsBackupRetention = 5

// startedDisclaimer is attached to every selective update of a started plan.
const startedDisclaimer = "plan execution has already started; pending phases may rely on ordering or outputs that this update changes"

// Recovery runs the recovery workflows.
type Recovery struct {
	logger     *logging.Logger
	metrics    *metrics.Recorder
	backupRoot string
	auditOpts  audit.Options
	retention  int
	now        func() time.Time

	pruneBackups bool
}

// Option configures a Recovery.
type Option func(*Recovery)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Recovery) { r.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Recovery) { r.metrics = m }
}

// WithBackupRoot sets where whole-directory backups are created.
func WithBackupRoot(root string) Option {
	return func(r *Recovery) { r.backupRoot = root }
}

// WithAuditOptions configures the audit logger of each plan.
func WithAuditOptions(opts audit.Options) Option {
	return func(r *Recovery) { r.auditOpts = opts }
}

// WithLogsBackupRetention sets how many logs-backup generations are kept.
// Values below one fall back to DefaultLogsBackupRetention.
func WithLogsBackupRetention(n int) Option {
	return func(r *Recovery) { r.retention = n }
}

// WithPruneBackups deletes the backup of every inner batch that fully
// applies. The backup a replan takes before resetting is always kept.
func WithPruneBackups(prune bool) Option {
	return func(r *Recovery) { r.pruneBackups = prune }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(r *Recovery) { r.now = now }
}

// New returns a Recovery.
func New(opts ...Option) *Recovery {
	r := &Recovery{
		logger:    logging.NopLogger(),
		retention: DefaultLogsBackupRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retention < 1 {
		r.retention = DefaultLogsBackupRetention
	}
	return r
}

func (r *Recovery) orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(
		orchestrator.WithLogger(r.logger),
		orchestrator.WithMetrics(r.metrics),
		orchestrator.WithBackupRoot(r.backupRoot),
		orchestrator.WithAuditOptions(r.auditOpts),
		orchestrator.WithClock(r.now),
		orchestrator.WithPruneBackups(r.pruneBackups),
	)
}
