package audit

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Iron-Ham/planstore/internal/docstore"
	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/Iron-Ham/planstore/internal/plan/ids"
)

// Default limits, matching the config defaults.
const (
	DefaultMaxSizeBytes     = 10 * 1024 * 1024
	DefaultMaxGenerations   = 5
	DefaultMaxSnapshotBytes = 10 * 1024
)

// Options configures a Logger.
type Options struct {
	Rotation         logging.RotationConfig
	MaxSnapshotBytes int
	// Now overrides the clock. Tests use it to pin timestamps.
	Now func() time.Time
}

// Logger appends entries to a plan's update-history.jsonl. A nil *Logger
// records nothing, so components can run without an audit trail.
type Logger struct {
	path     string
	rotation logging.RotationConfig
	maxSnap  int
	now      func() time.Time

	mu sync.Mutex
}

// NewLogger returns a Logger for the plan directory planDir. Zero-valued
// options fall back to the defaults.
func NewLogger(planDir string, opts Options) *Logger {
	rotation := opts.Rotation
	if rotation.MaxSizeBytes == 0 && rotation.MaxSizeMB == 0 {
		rotation.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if rotation.MaxBackups == 0 {
		rotation.MaxBackups = DefaultMaxGenerations
	}
	maxSnap := opts.MaxSnapshotBytes
	if maxSnap == 0 {
		maxSnap = DefaultMaxSnapshotBytes
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Logger{
		path:     filepath.Join(planDir, docstore.AuditLogName),
		rotation: rotation,
		maxSnap:  maxSnap,
		now:      now,
	}
}

// Path returns the live log file path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record describes one operation to log.
type Record struct {
	PlanID        string
	OperationType string
	Target        string
	TargetID      string
	Actor         string
	Before        any
	After         any
	// Err is nil for a successful operation.
	Err      error
	Metadata Metadata
}

// LogOperation appends an entry for a single operation.
func (l *Logger) LogOperation(rec Record) (*Entry, error) {
	if l == nil {
		return nil, nil
	}
	e := &Entry{
		PlanID:        rec.PlanID,
		OperationType: rec.OperationType,
		Target:        rec.Target,
		TargetID:      rec.TargetID,
		Actor:         rec.Actor,
		Before:        newSnapshot(rec.Before, l.maxSnap),
		After:         newSnapshot(rec.After, l.maxSnap),
		Success:       rec.Err == nil,
		Metadata:      rec.Metadata,
	}
	if rec.Err != nil {
		e.Error = rec.Err.Error()
	}
	return e, l.append(e)
}

// LogBatchStart appends the opening bracket of a batch.
func (l *Logger) LogBatchStart(planID, batchID, actor string, meta Metadata) (*Entry, error) {
	if l == nil {
		return nil, nil
	}
	meta.BatchID = batchID
	e := &Entry{
		PlanID:        planID,
		OperationType: TypeBatchStart,
		Target:        TargetBatch,
		TargetID:      batchID,
		Actor:         actor,
		Success:       true,
		Metadata:      meta,
	}
	return e, l.append(e)
}

// LogBatchComplete appends the closing bracket of a batch. err is the
// batch's failure, or nil.
func (l *Logger) LogBatchComplete(planID, batchID, actor string, err error, meta Metadata) (*Entry, error) {
	if l == nil {
		return nil, nil
	}
	meta.BatchID = batchID
	e := &Entry{
		PlanID:        planID,
		OperationType: TypeBatchComplete,
		Target:        TargetBatch,
		TargetID:      batchID,
		Actor:         actor,
		Success:       err == nil,
		Metadata:      meta,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e, l.append(e)
}

// append stamps e and writes it as one line. Rotation happens inside the
// writer, before the line is written.
func (l *Logger) append(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.ID = ids.GenerateEntryID()
	e.Timestamp = l.now().UTC()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	w, err := logging.NewRotatingWriter(l.path, l.rotation)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := w.Write(line); err != nil {
		_ = w.Close()
		return fmt.Errorf("append audit entry: %w", err)
	}
	return w.Close()
}
