// Package audit maintains a plan's append-only update history: one JSONL file
// per plan directory, rotated by size into numbered generations, with query,
// statistics, and export over every generation.
package audit

import (
	"encoding/json"
	"time"

	"github.com/Iron-Ham/planstore/internal/util"
)

// Operation types that are not plain add/update/delete.
const (
	TypeBatchStart    = "batch-start"
	TypeBatchComplete = "batch-complete"
)

// TargetBatch is the target recorded on batch bracket entries.
const TargetBatch = "batch"

// previewRunes bounds the preview kept for an oversized snapshot.
const previewRunes = 512

// Entry is one line of the audit log.
type Entry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	PlanID        string    `json:"planId"`
	OperationType string    `json:"operationType"`
	Target        string    `json:"target"`
	TargetID      string    `json:"targetId,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	Before        *Snapshot `json:"before,omitempty"`
	After         *Snapshot `json:"after,omitempty"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Metadata      Metadata  `json:"metadata"`
}

// Metadata carries the batch context of an entry.
type Metadata struct {
	BatchID        string `json:"batchId,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Force          bool   `json:"force,omitempty"`
	Source         string `json:"source,omitempty"`
	DurationMs     int64  `json:"durationMs,omitempty"`
	OperationCount int    `json:"operationCount,omitempty"`
	Completed      int    `json:"completed,omitempty"`
	Failed         int    `json:"failed,omitempty"`
	RolledBack     bool   `json:"rolledBack,omitempty"`
	BackupPath     string `json:"backupPath,omitempty"`
}

// Snapshot is a before/after image of the entity an operation touched.
// Values larger than the logger's cap are replaced by a preview.
type Snapshot struct {
	Value        json.RawMessage `json:"value,omitempty"`
	Truncated    bool            `json:"truncated,omitempty"`
	Preview      string          `json:"preview,omitempty"`
	OriginalSize int             `json:"originalSize,omitempty"`
}

// newSnapshot marshals v and caps it at maxBytes. A nil v yields nil.
func newSnapshot(v any, maxBytes int) *Snapshot {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return &Snapshot{Truncated: true, Preview: "unserializable: " + err.Error()}
	}
	if string(data) == "null" {
		return nil
	}
	if maxBytes <= 0 || len(data) <= maxBytes {
		return &Snapshot{Value: data}
	}

	limit := previewRunes
	if maxBytes < limit {
		limit = maxBytes
	}
	return &Snapshot{
		Truncated:    true,
		Preview:      util.Preview(string(data), limit),
		OriginalSize: len(data),
	}
}
