package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/orchestrator"
	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/plan/plantest"
	"github.com/Iron-Ham/planstore/internal/result"
	"github.com/Iron-Ham/planstore/internal/scheduler"
)

func TestNew_BufferIsNotStyled(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, false)
	assert.False(t, p.styled)
	assert.False(t, p.JSONMode())
	assert.False(t, IsTerminal(&buf))
}

func TestResult_Success(t *testing.T) {
	var buf bytes.Buffer
	res := result.OK("added phase docs", &orchestrator.BatchReport{
		BatchID:    "b1",
		Operations: 2,
		Completed:  []orchestrator.OperationOutcome{{Index: 0, Description: "add phase docs"}},
		Skipped:    []orchestrator.OperationOutcome{{Index: 1, Description: "add task lint to phase docs"}},
	}).WithWarnings("phase docs has no tasks").WithBackup("/tmp/plan.backup-1")

	require.NoError(t, New(&buf, false).Result(res))

	out := buf.String()
	assert.Contains(t, out, "✓ added phase docs")
	assert.Contains(t, out, "batch b1, 2 operations")
	assert.Contains(t, out, "[1] add task lint")
	assert.Contains(t, out, "! phase docs has no tasks")
	assert.Contains(t, out, "backup: /tmp/plan.backup-1")
}

func TestResult_Blocked(t *testing.T) {
	var buf bytes.Buffer
	err := errors.NewBlockedOperationError("phase", "setup", "COMPLETED_REQUIRES_FORCE", "phase is completed", true)

	require.NoError(t, New(&buf, false).Result(result.FromError(err)))

	out := buf.String()
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "[COMPLETED_REQUIRES_FORCE]")
	assert.Contains(t, out, "retry with --force")
}

func TestResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, true).Result(result.OK("done", nil)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "done", got["message"])
}

func TestLevels(t *testing.T) {
	tree := plantest.NewTree("diamond",
		plantest.Phase("a").WithTokens(1500),
		plantest.Phase("b", "a"),
		plantest.Phase("c", "a"),
	)
	plantest.SetPhaseStatus(tree, "a", plan.StatusCompleted)
	levels, err := scheduler.ComputeLevels(tree.Plan)
	require.NoError(t, err)

	view := NewLevelsView(tree, levels, scheduler.DefaultBudgetHeadroom)
	require.Len(t, view.Levels, 2)
	assert.Equal(t, plan.StatusCompleted, view.Levels[0][0].Status)
	assert.Equal(t, 1500, view.Levels[0][0].EstimatedTokens)
	assert.Equal(t, []string{"a"}, view.Levels[1][1].Dependencies)

	var buf bytes.Buffer
	require.NoError(t, New(&buf, false).Levels(view))
	out := buf.String()
	assert.Contains(t, out, "Level 0")
	assert.Contains(t, out, "1,500 tokens")
	assert.Contains(t, out, "← a")
}

func TestLevels_ListsSplitPairs(t *testing.T) {
	tree := plantest.NewTree("p",
		plantest.Phase("a").WithTokens(600),
		plantest.Phase("b").WithTokens(600),
	)
	tree.Plan.Execution.TokenBudget.PerPhase = 1000
	levels, err := scheduler.ComputeLevels(tree.Plan)
	require.NoError(t, err)

	view := NewLevelsView(tree, levels, 1.0)
	require.Len(t, view.Conflicts, 1)
	require.Len(t, view.Conflicts[0], 1)
	assert.Equal(t, "a", view.Conflicts[0][0].A)
	assert.Equal(t, "b", view.Conflicts[0][0].B)

	var buf bytes.Buffer
	require.NoError(t, New(&buf, false).Levels(view))
	out := buf.String()
	assert.Contains(t, out, "up to 1,000 tokens")
	assert.Contains(t, out, "a and b together estimate 1200 tokens, above 1000")

	assert.Empty(t, NewLevelsView(tree, levels, scheduler.DefaultBudgetHeadroom).Conflicts[0])
}

func TestStatusIcon(t *testing.T) {
	tests := map[plan.Status]string{
		plan.StatusCompleted:  "✓",
		plan.StatusInProgress: "●",
		plan.StatusFailed:     "✗",
		plan.StatusPending:    "○",
	}
	for status, want := range tests {
		assert.Equal(t, want, StatusIcon(status), status)
	}
}
