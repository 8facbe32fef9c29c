package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.ObserveBatch("selective", true, 20*time.Millisecond)
	r.ObserveBatch("selective", false, 10*time.Millisecond)
	r.ObserveBatch("", true, time.Millisecond)
	r.ObserveOperation("phase", "add", true)
	r.ObserveOperation("phase", "add", true)
	r.IncBlocked("IN_PROGRESS")
	r.IncRollback(true)
	r.IncBackup(true)
	r.IncRecovery("replan", true)
	r.ObservePhaseRun(false, time.Second)
	r.AddTokensAdmitted(1500)
	r.AddTokensAdmitted(-5)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchesTotal.WithLabelValues("selective", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchesTotal.WithLabelValues("selective", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchesTotal.WithLabelValues("direct", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.operationsTotal.WithLabelValues("phase", "add", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.blockedTotal.WithLabelValues("IN_PROGRESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rollbacksTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.backupsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.recoveryTotal.WithLabelValues("replan", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.phaseRunsTotal.WithLabelValues("failure")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(r.tokensScheduled))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveBatch("x", true, time.Second)
	r.ObserveOperation("task", "delete", false)
	r.IncBlocked("HAS_DEPENDENTS")
	r.IncRollback(false)
	r.IncBackup(false)
	r.IncRecovery("selective", false)
	r.ObservePhaseRun(true, time.Second)
	r.AddTokensAdmitted(10)
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveOperation("task", "update", true)

	path := filepath.Join(t.TempDir(), "planstore.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `planstore_operations_total{kind="update",outcome="success",target="task"} 1`))
}
