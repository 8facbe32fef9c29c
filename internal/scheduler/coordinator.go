package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/planstore/internal/execstate"
	"github.com/Iron-Ham/planstore/internal/filelock"
	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/Iron-Ham/planstore/internal/metrics"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/scheduler/budget"
	"github.com/Iron-Ham/planstore/internal/scheduler/retry"
)

// Codes of NotScheduled entries.
const (
	ReasonBudget     = "BUDGET_EXCEEDED"
	ReasonDependency = "DEPENDENCY_NOT_MET"
	ReasonInProgress = "IN_PROGRESS"
	ReasonCancelled  = "CANCELLED"
)

// DefaultMaxParallel is used when a plan does not set maxParallelPhases.
const DefaultMaxParallel = 3

// PhaseResult is what an executor reports for one attempt of a phase.
type PhaseResult struct {
	ActualTokens int
}

// Executor performs the tasks of a phase. The Coordinator marks the phase
// in progress before calling it and completed or failed afterwards; the
// executor reports task transitions through rec.
type Executor interface {
	ExecutePhase(ctx context.Context, phase *plan.PhaseDocument, rec *execstate.Recorder) (PhaseResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, phase *plan.PhaseDocument, rec *execstate.Recorder) (PhaseResult, error)

// ExecutePhase calls f.
func (f ExecutorFunc) ExecutePhase(ctx context.Context, phase *plan.PhaseDocument, rec *execstate.Recorder) (PhaseResult, error) {
	return f(ctx, phase, rec)
}

// NotScheduled is a phase the run never started, with the reason.
type NotScheduled struct {
	PhaseID string `json:"phaseId"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

// PhaseFailure is a phase that failed after exhausting its retries.
type PhaseFailure struct {
	PhaseID  string `json:"phaseId"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// RunReport summarizes a Coordinator run.
type RunReport struct {
	Levels           *Levels             `json:"levels"`
	Groups           [][]string          `json:"groups"`
	Completed        []string            `json:"completed"`
	AlreadyCompleted []string            `json:"alreadyCompleted,omitempty"`
	Failed           []PhaseFailure      `json:"failed,omitempty"`
	NotScheduled     []NotScheduled      `json:"notScheduled,omitempty"`
	Retries          []*retry.PhaseState `json:"retries,omitempty"`
	Budget           budget.Usage        `json:"budget"`
	DurationMs       int64               `json:"durationMs"`
}

// Success reports whether every phase of the plan is completed.
func (r *RunReport) Success() bool {
	return len(r.Failed) == 0 && len(r.NotScheduled) == 0
}

// Coordinator runs a plan's phases level by level.
type Coordinator struct {
	logger          *logging.Logger
	metrics         *metrics.Recorder
	headroom        float64
	maxParallel     int
	budgetCallbacks budget.Callbacks
	now             func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithBudgetHeadroom sets the multiple of the per-phase budget two
// parallel phases may estimate together.
func WithBudgetHeadroom(h float64) Option {
	return func(c *Coordinator) {
		if h > 0 {
			c.headroom = h
		}
	}
}

// WithDefaultMaxParallel sets the group size used when the plan sets none.
func WithDefaultMaxParallel(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// WithBudgetCallbacks sets callbacks for budget events.
func WithBudgetCallbacks(cb budget.Callbacks) Option {
	return func(c *Coordinator) { c.budgetCallbacks = cb }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator returns a Coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:      logging.NopLogger(),
		headroom:    DefaultBudgetHeadroom,
		maxParallel: DefaultMaxParallel,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run is the state of one Coordinator.Run call.
type run struct {
	c           *Coordinator
	tree        *plan.Tree
	exec        Executor
	rec         *execstate.Recorder
	logger      *logging.Logger
	budget      *budget.Manager
	retries     *retry.Manager
	claims      *filelock.Registry
	maxParallel int
	perPhase    int

	mu      sync.Mutex
	report  *RunReport
	done    map[string]bool
	started bool
}

// Run executes the pending and failed phases of the plan at planDir.
//
// Phases already completed are skipped. A phase runs only once all of its
// dependencies are completed; phases whose dependencies failed or were not
// scheduled are reported as NotScheduled, as are phases the token budget
// cannot cover. Failed phases are retried according to the plan's retry
// policy before they count as failed.
//
// The returned error covers setup failures and cancellation; phase
// failures are reported in the RunReport.
func (c *Coordinator) Run(ctx context.Context, planDir string, exec Executor) (*RunReport, error) {
	dir, err := plan.Open(planDir)
	if err != nil {
		return nil, err
	}
	tree, err := dir.Load()
	if err != nil {
		return nil, err
	}
	tree.Reconcile()

	levels, err := ComputeLevels(tree.Plan)
	if err != nil {
		return nil, err
	}
	rec, err := execstate.NewRecorder(dir.Path,
		execstate.WithRecorderLogger(c.logger),
		execstate.WithRecorderClock(c.now))
	if err != nil {
		return nil, err
	}

	cfg := tree.Plan.Execution
	r := &run{
		c:           c,
		tree:        tree,
		exec:        exec,
		rec:         rec,
		logger:      c.logger.WithPlan(dir.Path),
		budget:      budget.NewManager(budget.ConfigFromPlan(cfg.TokenBudget), c.budgetCallbacks, c.logger),
		retries:     retry.NewManager(retry.PolicyFromPlan(cfg.RetryPolicy)),
		claims:      filelock.NewRegistry(filelock.WithLogger(c.logger), filelock.WithClock(c.now)),
		maxParallel: cfg.MaxParallelPhases,
		perPhase:    cfg.TokenBudget.PerPhase,
		report:      &RunReport{Levels: levels, Completed: []string{}},
		done:        make(map[string]bool),
	}
	if r.maxParallel < 1 {
		r.maxParallel = c.maxParallel
	}
	if cfg.Strategy == plan.StrategySequential {
		r.maxParallel = 1
	}

	start := c.now()
	r.logger.Info("scheduler run started",
		"levels", len(levels.Groups),
		"phases", len(tree.Plan.Phases),
		"strategy", cfg.Strategy,
		"max_parallel", r.maxParallel)

	runErr := r.runLevels(ctx)

	if r.started {
		if err := rec.FinishPlan(); err != nil {
			r.logger.Error("failed to record end of run", "error", err)
		}
	}
	r.report.Retries = r.retries.States()
	r.report.Budget = r.budget.Usage()
	r.report.DurationMs = c.now().Sub(start).Milliseconds()

	r.logger.Info("scheduler run finished",
		"completed", len(r.report.Completed),
		"failed", len(r.report.Failed),
		"not_scheduled", len(r.report.NotScheduled),
		"duration_ms", r.report.DurationMs)
	return r.report, runErr
}

func (r *run) runLevels(ctx context.Context) error {
	for level, ids := range r.report.Levels.Groups {
		var ready []string
		for _, id := range ids {
			switch r.tree.PhaseStatus(id) {
			case plan.StatusCompleted:
				r.done[id] = true
				r.report.AlreadyCompleted = append(r.report.AlreadyCompleted, id)
			case plan.StatusInProgress:
				r.notScheduled(id, ReasonInProgress, "phase is already in progress")
			default:
				if dep := r.unmetDependency(id); dep != "" {
					r.notScheduled(id, ReasonDependency, fmt.Sprintf("dependency %s did not complete", dep))
					continue
				}
				ready = append(ready, id)
			}
		}

		for len(ready) > 0 {
			if err := ctx.Err(); err != nil {
				r.cancelFrom(level, ready)
				return err
			}
			var group []string
			group, ready = r.nextGroup(ready)
			if len(group) > 0 {
				r.runGroup(ctx, group)
			}
		}
	}
	return nil
}

// cancelFrom reports ready and every phase above level as cancelled.
func (r *run) cancelFrom(level int, ready []string) {
	for _, id := range ready {
		r.notScheduled(id, ReasonCancelled, "run was cancelled")
	}
	for _, ids := range r.report.Levels.Groups[level+1:] {
		for _, id := range ids {
			if r.tree.PhaseStatus(id) != plan.StatusCompleted {
				r.notScheduled(id, ReasonCancelled, "run was cancelled")
			}
		}
	}
}

func (r *run) unmetDependency(id string) string {
	ref, _ := r.tree.Plan.Phase(id)
	if ref == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range ref.Dependencies {
		if !r.done[dep] {
			return dep
		}
	}
	return ""
}

// nextGroup picks, in order, the ready phases that fit one group: at most
// maxParallel of them, pairwise compatible, holding disjoint target claims,
// and admitted by the budget. Phases the budget rejects leave the run; the
// rest wait for a later group. The first ready phase always fits an empty
// group, so every call makes progress.
func (r *run) nextGroup(ready []string) (group, rest []string) {
	var infos []PhaseInfo
	for _, id := range ready {
		info := InfoFor(r.tree, id)
		if len(group) >= r.maxParallel || !r.compatible(info, infos) {
			rest = append(rest, id)
			continue
		}
		if err := r.claims.ClaimAll(id, info.Targets); err != nil {
			r.logger.Debug("phase deferred by target claim", "phase_id", id, "error", err)
			rest = append(rest, id)
			continue
		}
		decision := r.budget.Admit(id, info.EstimatedTokens)
		if !decision.Admitted {
			r.claims.ReleaseAll(id)
			r.notScheduled(id, ReasonBudget, decision.Reason)
			continue
		}
		r.c.metrics.AddTokensAdmitted(info.EstimatedTokens)
		group = append(group, id)
		infos = append(infos, info)
	}
	return group, rest
}

func (r *run) compatible(info PhaseInfo, group []PhaseInfo) bool {
	for _, other := range group {
		if reason := parallelConflict(other, info, r.perPhase, r.c.headroom); reason != "" {
			r.logger.Debug("phase deferred", "phase_id", info.ID, "reason", reason)
			return false
		}
	}
	return true
}

// runGroup runs every phase of group concurrently and waits for all of them.
func (r *run) runGroup(ctx context.Context, group []string) {
	r.report.Groups = append(r.report.Groups, group)
	r.logger.Info("phase group started", "phases", group)

	p := pool.New().WithMaxGoroutines(len(group))
	for _, id := range group {
		p.Go(func() { r.runPhase(ctx, id) })
	}
	p.Wait()

	for _, id := range group {
		r.claims.ReleaseAll(id)
	}
}

// runPhase runs one phase until it completes or runs out of retries.
func (r *run) runPhase(ctx context.Context, id string) {
	logger := r.logger.WithPhase(id)
	doc := r.tree.Phases[id]
	r.retries.GetOrCreateState(id)
	spent := 0

	for {
		if err := r.rec.StartPhase(id); err != nil {
			r.budget.Settle(id, spent)
			r.fail(id, err.Error())
			return
		}
		r.mu.Lock()
		r.started = true
		r.mu.Unlock()

		start := r.c.now()
		res, err := r.exec.ExecutePhase(ctx, doc, r.rec)
		elapsed := r.c.now().Sub(start)
		spent += res.ActualTokens
		r.c.metrics.ObservePhaseRun(err == nil, elapsed)

		if err == nil {
			r.retries.RecordAttempt(id, true, elapsed, "")
			r.budget.Settle(id, spent)
			if err := r.rec.CompletePhase(id, res.ActualTokens); err != nil {
				logger.Error("failed to record phase completion", "error", err)
				r.fail(id, err.Error())
				return
			}
			r.complete(id)
			return
		}

		r.retries.RecordAttempt(id, false, elapsed, err.Error())
		if recErr := r.rec.FailPhase(id, err.Error()); recErr != nil {
			logger.Error("failed to record phase failure", "error", recErr)
			r.budget.Settle(id, spent)
			r.fail(id, err.Error())
			return
		}
		if !r.retries.ShouldRetry(id) || ctx.Err() != nil {
			r.budget.Settle(id, spent)
			r.fail(id, err.Error())
			return
		}

		delay := r.retries.Delay(id)
		logger.Warn("retrying phase", "error", err, "delay", delay)
		if !sleep(ctx, delay) {
			r.budget.Settle(id, spent)
			r.fail(id, err.Error())
			return
		}
	}
}

func (r *run) complete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[id] = true
	r.report.Completed = append(r.report.Completed, id)
}

func (r *run) fail(id, msg string) {
	attempts := 0
	if s := r.retries.State(id); s != nil {
		attempts = s.Attempts
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Failed = append(r.report.Failed, PhaseFailure{PhaseID: id, Error: msg, Attempts: attempts})
}

func (r *run) notScheduled(id, code, reason string) {
	r.logger.Warn("phase not scheduled", "phase_id", id, "code", code, "reason", reason)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.NotScheduled = append(r.report.NotScheduled, NotScheduled{PhaseID: id, Code: code, Reason: reason})
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
