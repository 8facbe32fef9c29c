// Package output renders command results for a terminal or as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/Iron-Ham/planstore/internal/audit"
	"github.com/Iron-Ham/planstore/internal/execstate"
	"github.com/Iron-Ham/planstore/internal/orchestrator"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
	"github.com/Iron-Ham/planstore/internal/planeditor/validation"
	"github.com/Iron-Ham/planstore/internal/recovery"
	"github.com/Iron-Ham/planstore/internal/result"
	"github.com/Iron-Ham/planstore/internal/scheduler"
	"github.com/Iron-Ham/planstore/internal/util"
)

// maxCellWidth bounds free-text columns such as descriptions and reasons.
const maxCellWidth = 72

// Printer writes command output. In JSON mode every value is encoded as
// indented JSON; otherwise values are rendered as text, styled only when
// the destination is a terminal.
type Printer struct {
	w      io.Writer
	json   bool
	styled bool
}

// New returns a Printer writing to w.
func New(w io.Writer, asJSON bool) *Printer {
	return &Printer{w: w, json: asJSON, styled: !asJSON && IsTerminal(w)}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// JSONMode reports whether the printer emits JSON.
func (p *Printer) JSONMode() bool {
	return p.json
}

// Writer returns the destination.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) paint(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

func (p *Printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) section(title string) {
	if p.styled {
		fmt.Fprintln(p.w, Section.Render(title))
		return
	}
	p.line("%s", title)
	p.line("%s", strings.Repeat("─", lipgloss.Width(title)))
}

func (p *Printer) status(s plan.Status) string {
	return p.paint(StatusStyle(s), StatusIcon(s)+" "+string(s))
}

// Result renders the uniform result of a plan operation.
func (p *Printer) Result(res *result.Result) error {
	if p.json {
		return p.JSON(res)
	}

	if res.Success {
		msg := res.Message
		if msg == "" {
			msg = "done"
		}
		p.line("%s %s", p.paint(Success, "✓"), msg)
	} else {
		code := ""
		if res.Code != "" {
			code = " " + p.paint(Muted, "["+res.Code+"]")
		}
		p.line("%s %s%s", p.paint(Error, "✗"), res.Error, code)
		if res.Message != "" {
			p.line("  %s", res.Message)
		}
	}

	p.data(res.Data)

	for _, w := range res.Warnings {
		p.line("%s %s", p.paint(Warning, "!"), util.FitWidth(w, maxCellWidth*2))
	}
	if res.BackupPath != "" {
		p.line("%s %s", p.paint(Muted, "backup:"), res.BackupPath)
	}
	return nil
}

func (p *Printer) data(v any) {
	switch d := v.(type) {
	case result.ValidationDetail:
		for _, issue := range d.Issues {
			p.line("  - %s", issue)
		}
	case result.BlockedDetail:
		force := ""
		if d.RequiresForce {
			force = " (retry with --force)"
		}
		p.line("  %s %s: %s%s", d.TargetType, d.TargetID, d.Reason, force)
	case *operations.Change:
		if d != nil && d.TargetID != "" {
			p.line("  %s %s", p.paint(Muted, string(d.Target)), d.TargetID)
		}
	case *orchestrator.BatchReport:
		p.batch(d)
	case *recovery.SelectiveReport:
		p.selective(d)
	case *recovery.Guidance:
		p.guidance(d)
	}
}

func (p *Printer) batch(b *orchestrator.BatchReport) {
	if b == nil {
		return
	}
	mode := ""
	if b.DryRun {
		mode = " (dry run)"
	}
	p.line("  %s %s%s, %s", p.paint(Muted, "batch"), b.BatchID, mode,
		util.Plural(b.Operations, "operation"))
	for _, o := range b.Completed {
		p.line("    %s [%d] %s", p.paint(Success, "✓"), o.Index, util.FitWidth(o.Description, maxCellWidth))
	}
	for _, o := range b.Failed {
		p.line("    %s [%d] %s: %s", p.paint(Error, "✗"), o.Index, o.Description, util.FitWidth(o.Error, maxCellWidth))
	}
	for _, o := range b.Skipped {
		p.line("    %s [%d] %s", p.paint(Muted, "-"), o.Index, util.FitWidth(o.Description, maxCellWidth))
	}
	if b.RolledBack {
		p.line("  %s", p.paint(Warning, "rolled back to the pre-batch backup"))
	}
	if b.RollbackError != "" {
		p.line("  %s %s", p.paint(Error, "rollback failed:"), b.RollbackError)
	}
}

func (p *Printer) selective(r *recovery.SelectiveReport) {
	if r == nil {
		return
	}
	p.line("  %d safe, %d blocked", r.SafeCount, len(r.Blocked))
	for _, b := range r.Blocked {
		p.line("    %s [%d] %s: %s %s", p.paint(Warning, "⊘"), b.Index, b.Description,
			util.FitWidth(b.Reason, maxCellWidth), p.paint(Muted, "["+b.Code+"]"))
	}
	p.batch(r.Batch)
}

func (p *Printer) guidance(g *recovery.Guidance) {
	if g == nil {
		return
	}
	p.line("  reset %s and %s (%d completed, %d in progress, %d failed)",
		util.Plural(g.Reset.Phases, "phase"), util.Plural(g.Reset.Tasks, "task"),
		g.Reset.CompletedTasks, g.Reset.InProgressTasks, g.Reset.FailedTasks)
	if g.LogsBackupPath != "" {
		p.line("  %s %s", p.paint(Muted, "logs backup:"), g.LogsBackupPath)
	}
	p.batch(g.Batch)
	if len(g.NextSteps) > 0 {
		p.line("  next steps:")
		for i, step := range g.NextSteps {
			p.line("    %d. %s", i+1, step)
		}
	}
}

// Summary renders the execution state of a plan.
func (p *Printer) Summary(s *execstate.Summary) error {
	if p.json {
		return p.JSON(s)
	}

	p.section("Plan " + s.PlanID)
	p.line("Status:   %s", p.status(s.Status))
	if s.CurrentPhase != "" {
		p.line("Current:  %s", s.CurrentPhase)
	}
	p.line("Phases:   %d/%d completed", s.Progress.CompletedPhases, s.Progress.TotalPhases)
	p.line("Tasks:    %d/%d completed", s.Progress.CompletedTasks, s.Progress.TotalTasks)
	if s.StartedAt != nil {
		p.line("Started:  %s (%s)", s.StartedAt.Format(time.DateTime), humanize.Time(*s.StartedAt))
	}
	if s.CompletedAt != nil {
		p.line("Finished: %s", s.CompletedAt.Format(time.DateTime))
	}
	if s.LastUpdated != nil {
		p.line("Updated:  %s", humanize.Time(*s.LastUpdated))
	}

	lists := []struct {
		label  string
		status plan.Status
		ids    []string
	}{
		{"in progress", plan.StatusInProgress, s.InProgressTasks},
		{"failed", plan.StatusFailed, s.FailedTasks},
	}
	for _, l := range lists {
		if len(l.ids) > 0 {
			p.line("%s %s", p.paint(StatusStyle(l.status), l.label+":"), util.JoinLimited(l.ids, 8))
		}
	}
	if len(s.Errors) > 0 {
		p.line("")
		p.section("Errors")
		for _, e := range s.Errors {
			where := e.PhaseID
			if e.TaskID != "" {
				where = plan.TaskKey(e.PhaseID, e.TaskID)
			}
			p.line("%s %s: %s", p.paint(Muted, e.Timestamp.Format(time.DateTime)), where,
				util.FitWidth(e.Message, maxCellWidth))
		}
	}
	return nil
}

// LevelsView is the JSON form of the levels command.
type LevelsView struct {
	Strategy       string         `json:"strategy"`
	MaxParallel    int            `json:"maxParallelPhases"`
	PerPhaseBudget int            `json:"perPhaseBudget,omitempty"`
	BudgetHeadroom float64        `json:"budgetHeadroom"`
	Levels         [][]PhaseBrief `json:"levels"`
	// Conflicts lists, per level, the pairs of phases that would be split
	// into separate groups.
	Conflicts [][]scheduler.Conflict `json:"conflicts"`
}

// PhaseBrief describes one phase in the levels view.
type PhaseBrief struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Status          plan.Status `json:"status"`
	EstimatedTokens int         `json:"estimatedTokens"`
	Dependencies    []string    `json:"dependencies,omitempty"`
}

// NewLevelsView describes the levels of t and the same-level conflicts
// under headroom.
func NewLevelsView(t *plan.Tree, levels *scheduler.Levels, headroom float64) LevelsView {
	perPhase := t.Plan.Execution.TokenBudget.PerPhase
	view := LevelsView{
		Strategy:       t.Plan.Execution.Strategy,
		MaxParallel:    t.Plan.Execution.MaxParallelPhases,
		PerPhaseBudget: perPhase,
		BudgetHeadroom: headroom,
		Levels:         make([][]PhaseBrief, len(levels.Groups)),
		Conflicts:      make([][]scheduler.Conflict, len(levels.Groups)),
	}
	for i, ids := range levels.Groups {
		view.Conflicts[i] = scheduler.LevelConflicts(t, ids, perPhase, headroom)
		for _, id := range ids {
			info := scheduler.InfoFor(t, id)
			brief := PhaseBrief{
				ID:              id,
				Status:          t.PhaseStatus(id),
				EstimatedTokens: info.EstimatedTokens,
				Dependencies:    info.Dependencies,
			}
			if ref, ok := t.Plan.Phase(id); ok {
				brief.Name = ref.Name
			}
			view.Levels[i] = append(view.Levels[i], brief)
		}
	}
	return view
}

// Levels renders the dependency levels of a plan.
func (p *Printer) Levels(view LevelsView) error {
	if p.json {
		return p.JSON(view)
	}

	p.section("Execution levels")
	p.line("Strategy: %s, up to %d phases in parallel", view.Strategy, view.MaxParallel)
	if view.PerPhaseBudget > 0 {
		p.line("Pairs may estimate up to %s tokens (%.2g× the per-phase budget)",
			humanize.Comma(int64(view.BudgetHeadroom*float64(view.PerPhaseBudget))), view.BudgetHeadroom)
	}
	for i, phases := range view.Levels {
		p.line("")
		p.line("%s", p.paint(Title, fmt.Sprintf("Level %d", i)))
		for _, ph := range phases {
			deps := ""
			if len(ph.Dependencies) > 0 {
				deps = p.paint(Muted, " ← "+strings.Join(ph.Dependencies, ", "))
			}
			p.line("  %s %-24s %8s tokens%s", p.status(ph.Status),
				util.FitWidth(ph.ID, 24), humanize.Comma(int64(ph.EstimatedTokens)), deps)
		}
		if i < len(view.Conflicts) {
			for _, c := range view.Conflicts[i] {
				p.line("  %s %s", p.paint(Warning, "split:"), p.paint(Muted, c.Reason))
			}
		}
	}
	return nil
}

// Validation renders a validation result.
func (p *Printer) Validation(planDir string, r *validation.ValidationResult) error {
	if p.json {
		return p.JSON(struct {
			PlanDir string `json:"planDir"`
			*validation.ValidationResult
		}{planDir, r})
	}

	if r.IsValid() {
		p.line("%s %s is valid", p.paint(Success, "✓"), planDir)
	} else {
		p.line("%s %s has %s", p.paint(Error, "✗"), planDir, util.Plural(r.ErrorCount, "error"))
	}
	for _, e := range r.Issues {
		marker := p.paint(Error, "error")
		if e.IsWarning() {
			marker = p.paint(Warning, "warn ")
		}
		p.line("  %s %s %s", marker, e.String(), p.paint(Muted, "("+e.Rule+")"))
		if e.Suggestion != "" {
			p.line("        %s", p.paint(Muted, e.Suggestion))
		}
	}
	return nil
}

// Stats renders audit log statistics.
func (p *Printer) Stats(s *audit.Stats) error {
	if p.json {
		return p.JSON(s)
	}

	p.section("Audit log")
	p.line("Entries:  %s (%s succeeded, %s failed)", humanize.Comma(int64(s.TotalEntries)),
		humanize.Comma(int64(s.Succeeded)), humanize.Comma(int64(s.Failed)))
	p.line("Batches:  %s", humanize.Comma(int64(s.Batches)))
	if s.First != nil && s.Last != nil {
		p.line("Span:     %s to %s", s.First.Format(time.DateTime), s.Last.Format(time.DateTime))
	}
	if s.Malformed > 0 {
		p.line("%s %s skipped", p.paint(Warning, "Malformed:"), util.Plural(s.Malformed, "line"))
	}

	p.line("")
	p.section("By operation")
	for _, k := range audit.SortedKeys(s.ByOperationType) {
		p.line("  %-16s %s", k, humanize.Comma(int64(s.ByOperationType[k])))
	}
	p.line("")
	p.section("By target")
	for _, k := range audit.SortedKeys(s.ByTarget) {
		p.line("  %-16s %s", k, humanize.Comma(int64(s.ByTarget[k])))
	}

	p.line("")
	p.section("Generations")
	for _, g := range s.Generations {
		gz := ""
		if g.Compressed {
			gz = p.paint(Muted, " (gzip)")
		}
		p.line("  %-40s %8s%s", util.FitWidth(g.Path, 40), g.HumanSize, gz)
	}
	p.line("  %-40s %8s", "total", s.HumanTotalSize)
	return nil
}
