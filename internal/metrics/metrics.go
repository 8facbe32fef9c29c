// Package metrics records Prometheus metrics for update batches, individual
// operations, recovery workflows, and the phase scheduler.
//
// A Recorder owns a private registry so tests and the CLI never share the
// process-global default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "planstore"

// Recorder records planstore metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	batchesTotal    *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	operationsTotal *prometheus.CounterVec
	blockedTotal    *prometheus.CounterVec
	rollbacksTotal  *prometheus.CounterVec
	backupsTotal    *prometheus.CounterVec
	recoveryTotal   *prometheus.CounterVec
	phaseRunsTotal  *prometheus.CounterVec
	phaseDuration   prometheus.Histogram
	tokensScheduled prometheus.Counter
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		batchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Update batches executed, by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Wall-clock duration of update batches",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Operations applied, by target, kind, and outcome",
			},
			[]string{"target", "kind", "outcome"},
		),
		blockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_blocked_total",
				Help:      "Operations refused by an execution-state safety check, by block code",
			},
			[]string{"code"},
		),
		rollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Backup restores performed after a failed batch, by outcome",
			},
			[]string{"outcome"},
		),
		backupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backups_total",
				Help:      "Plan directory backups taken, by outcome",
			},
			[]string{"outcome"},
		),
		recoveryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_runs_total",
				Help:      "Recovery workflow runs, by workflow and outcome",
			},
			[]string{"workflow", "outcome"},
		),
		phaseRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_phase_runs_total",
				Help:      "Phase executions started by the scheduler, by outcome",
			},
			[]string{"outcome"},
		),
		phaseDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_phase_duration_seconds",
				Help:      "Duration of a single phase execution attempt",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		),
		tokensScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_tokens_admitted_total",
				Help:      "Estimated tokens admitted by the scheduler's budget check",
			},
		),
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// ObserveBatch records a finished batch.
func (r *Recorder) ObserveBatch(mode string, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	if mode == "" {
		mode = "direct"
	}
	r.batchesTotal.WithLabelValues(mode, outcome(success)).Inc()
	r.batchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveOperation records one applied operation.
func (r *Recorder) ObserveOperation(target, kind string, success bool) {
	if r == nil {
		return
	}
	r.operationsTotal.WithLabelValues(target, kind, outcome(success)).Inc()
}

// IncBlocked records an operation refused with the given block code.
func (r *Recorder) IncBlocked(code string) {
	if r == nil {
		return
	}
	r.blockedTotal.WithLabelValues(code).Inc()
}

// IncRollback records a restore after a failed batch.
func (r *Recorder) IncRollback(success bool) {
	if r == nil {
		return
	}
	r.rollbacksTotal.WithLabelValues(outcome(success)).Inc()
}

// IncBackup records a backup attempt.
func (r *Recorder) IncBackup(success bool) {
	if r == nil {
		return
	}
	r.backupsTotal.WithLabelValues(outcome(success)).Inc()
}

// IncRecovery records a recovery workflow run.
func (r *Recorder) IncRecovery(workflow string, success bool) {
	if r == nil {
		return
	}
	r.recoveryTotal.WithLabelValues(workflow, outcome(success)).Inc()
}

// ObservePhaseRun records one phase execution attempt.
func (r *Recorder) ObservePhaseRun(success bool, duration time.Duration) {
	if r == nil {
		return
	}
	r.phaseRunsTotal.WithLabelValues(outcome(success)).Inc()
	r.phaseDuration.Observe(duration.Seconds())
}

// AddTokensAdmitted records tokens admitted by the budget check.
func (r *Recorder) AddTokensAdmitted(tokens int) {
	if r == nil || tokens <= 0 {
		return
	}
	r.tokensScheduled.Add(float64(tokens))
}

// Registry returns the recorder's registry, for exposition.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WriteTextfile writes every collected metric to path in the Prometheus text
// format, for pickup by a node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
