package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/logging"
)

// fakeClock returns successive timestamps one second apart.
func fakeClock() func() time.Time {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestLogger(t *testing.T, opts Options) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	if opts.Now == nil {
		opts.Now = fakeClock()
	}
	return NewLogger(dir, opts), dir
}

func TestLogger_AppendsBracketedBatch(t *testing.T) {
	l, dir := newTestLogger(t, Options{})

	_, err := l.LogBatchStart("demo", "batch-1", "cli", Metadata{Mode: "direct", OperationCount: 2})
	require.NoError(t, err)
	_, err = l.LogOperation(Record{
		PlanID: "demo", OperationType: "add", Target: "phase", TargetID: "phase-2-api",
		Actor: "cli", After: map[string]string{"id": "phase-2-api"},
		Metadata: Metadata{BatchID: "batch-1"},
	})
	require.NoError(t, err)
	_, err = l.LogOperation(Record{
		PlanID: "demo", OperationType: "delete", Target: "task", TargetID: "phase-1/t1",
		Actor: "cli", Err: errors.New("task t1 is in progress"),
		Metadata: Metadata{BatchID: "batch-1"},
	})
	require.NoError(t, err)
	_, err = l.LogBatchComplete("demo", "batch-1", "cli", nil, Metadata{Completed: 1, Failed: 1, DurationMs: 12})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, docstore.AuditLogName), l.Path())

	entries, err := l.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, TypeBatchStart, entries[0].OperationType)
	assert.Equal(t, TypeBatchComplete, entries[3].OperationType)
	assert.Equal(t, "batch-1", entries[3].Metadata.BatchID)
	assert.False(t, entries[2].Success)
	assert.Equal(t, "task t1 is in progress", entries[2].Error)
	assert.True(t, strings.HasPrefix(entries[0].ID, "entry-"))

	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].Timestamp.After(entries[i-1].Timestamp), "entries must be chronological")
	}
}

func TestLogger_TruncatesOversizedSnapshots(t *testing.T) {
	l, _ := newTestLogger(t, Options{MaxSnapshotBytes: 64})

	big := map[string]string{"description": strings.Repeat("x", 500)}
	e, err := l.LogOperation(Record{
		PlanID: "demo", OperationType: "update", Target: "phase", TargetID: "p",
		Before: map[string]string{"name": "small"}, After: big,
	})
	require.NoError(t, err)

	require.NotNil(t, e.Before)
	assert.False(t, e.Before.Truncated)
	assert.JSONEq(t, `{"name":"small"}`, string(e.Before.Value))

	require.NotNil(t, e.After)
	assert.True(t, e.After.Truncated)
	assert.Nil(t, e.After.Value)
	assert.Greater(t, e.After.OriginalSize, 500)
	assert.LessOrEqual(t, len([]rune(e.After.Preview)), 64)
}

func TestLogger_RotatesBeforeAppend(t *testing.T) {
	l, dir := newTestLogger(t, Options{
		Rotation: logging.RotationConfig{MaxSizeBytes: 300, MaxBackups: 3},
	})

	for i := 0; i < 3; i++ {
		_, err := l.LogOperation(Record{PlanID: "demo", OperationType: "add", Target: "phase", TargetID: "p"})
		require.NoError(t, err)
	}

	live := filepath.Join(dir, docstore.AuditLogName)
	_, err := os.Stat(live + ".1")
	require.NoError(t, err, "first generation should exist after the threshold is crossed")

	data, err := os.ReadFile(live)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"), "the live file holds only the newest entry")

	entries, err := l.Query(Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 3, "query spans every generation")
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].Timestamp.After(entries[i-1].Timestamp))
	}
}

func TestLogger_Query(t *testing.T) {
	l, _ := newTestLogger(t, Options{})
	fail := errors.New("boom")
	records := []Record{
		{OperationType: "add", Target: "phase", TargetID: "a"},
		{OperationType: "update", Target: "phase", TargetID: "a"},
		{OperationType: "add", Target: "task", TargetID: "a/t1"},
		{OperationType: "delete", Target: "phase", TargetID: "b", Err: fail},
		{OperationType: "add", Target: "phase", TargetID: "c"},
	}
	for _, r := range records {
		r.PlanID = "demo"
		_, err := l.LogOperation(r)
		require.NoError(t, err)
	}

	no := false
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"a", "a", "a/t1", "b", "c"}},
		{"by type", Filter{OperationType: "add"}, []string{"a", "a/t1", "c"}},
		{"by target", Filter{Target: "task"}, []string{"a/t1"}},
		{"by target id", Filter{TargetID: "a"}, []string{"a", "a"}},
		{"failures", Filter{Success: &no}, []string{"b"}},
		{"offset and limit", Filter{Target: "phase", Offset: 1, Limit: 2}, []string{"a", "b"}},
		{"start", Filter{Start: time.Date(2025, 3, 1, 12, 0, 4, 0, time.UTC)}, []string{"b", "c"}},
		{"end", Filter{End: time.Date(2025, 3, 1, 12, 0, 2, 0, time.UTC)}, []string{"a", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.Query(tt.filter)
			require.NoError(t, err)
			var got []string
			for _, e := range entries {
				got = append(got, e.TargetID)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	first, err := l.Query(Filter{})
	require.NoError(t, err)
	second, err := l.Query(Filter{})
	require.NoError(t, err)
	assert.Equal(t, first, second, "repeated queries without writes are identical")
}

func TestLogger_QuerySkipsMalformedLines(t *testing.T) {
	l, _ := newTestLogger(t, Options{})
	_, err := l.LogOperation(Record{PlanID: "demo", OperationType: "add", Target: "phase", TargetID: "a"})
	require.NoError(t, err)

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := l.Query(Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	st, err := l.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalEntries)
	assert.Equal(t, 1, st.Malformed)
}

func TestLogger_Stats(t *testing.T) {
	l, _ := newTestLogger(t, Options{})
	_, _ = l.LogBatchStart("demo", "batch-1", "cli", Metadata{})
	_, _ = l.LogOperation(Record{PlanID: "demo", OperationType: "add", Target: "phase", TargetID: "a"})
	_, _ = l.LogOperation(Record{PlanID: "demo", OperationType: "add", Target: "task", TargetID: "a/t", Err: errors.New("x")})
	_, _ = l.LogBatchComplete("demo", "batch-1", "cli", errors.New("x"), Metadata{})

	st, err := l.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalEntries)
	assert.Equal(t, 2, st.Succeeded)
	assert.Equal(t, 2, st.Failed)
	assert.Equal(t, 1, st.Batches)
	assert.Equal(t, 2, st.ByOperationType["add"])
	assert.Equal(t, 2, st.ByTarget[TargetBatch])
	require.NotNil(t, st.First)
	require.NotNil(t, st.Last)
	assert.Equal(t, 3*time.Second, st.Last.Sub(*st.First))
	require.Len(t, st.Generations, 1)
	assert.Greater(t, st.TotalSize, int64(0))
	assert.NotEmpty(t, st.HumanTotalSize)

	assert.Equal(t, []string{TargetBatch, "phase", "task"}, SortedKeys(st.ByTarget))
}

func TestNilLogger(t *testing.T) {
	var l *Logger
	e, err := l.LogOperation(Record{})
	assert.Nil(t, e)
	assert.NoError(t, err)
	entries, err := l.Query(Filter{})
	assert.NoError(t, err)
	assert.Empty(t, entries)
	st, err := l.Stats()
	assert.NoError(t, err)
	assert.Zero(t, st.TotalEntries)
}

func sampleEntries() []Entry {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Entry{
		{ID: "entry-1", Timestamp: ts, PlanID: "demo", OperationType: TypeBatchStart, Target: TargetBatch,
			TargetID: "batch-1", Actor: "cli", Success: true, Metadata: Metadata{BatchID: "batch-1", Mode: "selective", OperationCount: 1}},
		{ID: "entry-2", Timestamp: ts.Add(time.Second), PlanID: "demo", OperationType: "add", Target: "phase",
			TargetID: "phase-2-api", Actor: "cli", Success: true, Metadata: Metadata{BatchID: "batch-1", Force: true}},
		{ID: "entry-3", Timestamp: ts.Add(2 * time.Second), PlanID: "demo", OperationType: TypeBatchComplete, Target: TargetBatch,
			TargetID: "batch-1", Actor: "cli", Success: false, Error: "disk full",
			Metadata: Metadata{BatchID: "batch-1", DurationMs: 1500, Completed: 0, Failed: 1, RolledBack: true}},
	}
}

func TestExport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, sampleEntries(), FormatJSON))

	var decoded []Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 3)

	buf.Reset()
	require.NoError(t, Export(&buf, nil, FormatJSON))
	assert.Equal(t, "[]\n", buf.String())
}

func TestExport_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, sampleEntries(), FormatCSV))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "phase-2-api", rows[2][5])
	assert.Equal(t, "true", rows[2][11])
	assert.Equal(t, "disk full", rows[3][8])
}

func TestExport_Narrative(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, sampleEntries(), FormatNarrative))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "2025-03-01 12:00:00 UTC  cli started batch batch-1 with 1 operation (selective)", lines[0])
	assert.Equal(t, "2025-03-01 12:00:01 UTC  cli added phase phase-2-api (forced)", lines[1])
	assert.Equal(t, "2025-03-01 12:00:02 UTC  batch batch-1 failed in 1.5s: 0 applied, 1 failed, rolled back: disk full", lines[2])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
	assert.Error(t, Export(&bytes.Buffer{}, nil, Format("xml")))
}
