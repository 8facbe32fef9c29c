package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Format is an export format.
type Format string

const (
	FormatJSON      Format = "json"
	FormatCSV       Format = "csv"
	FormatNarrative Format = "narrative"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatCSV, FormatNarrative:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json, csv, or narrative)", s)
}

var csvHeader = []string{
	"id", "timestamp", "planId", "operationType", "target", "targetId", "actor",
	"success", "error", "batchId", "mode", "force", "source",
}

// Export renders entries to w in the given format.
func Export(w io.Writer, entries []Entry, format Format) error {
	switch format {
	case FormatJSON:
		if entries == nil {
			entries = []Entry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, e := range entries {
			row := []string{
				e.ID,
				e.Timestamp.Format(time.RFC3339Nano),
				e.PlanID,
				e.OperationType,
				e.Target,
				e.TargetID,
				e.Actor,
				strconv.FormatBool(e.Success),
				e.Error,
				e.Metadata.BatchID,
				e.Metadata.Mode,
				strconv.FormatBool(e.Metadata.Force),
				e.Metadata.Source,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case FormatNarrative:
		for _, e := range entries {
			if _, err := fmt.Fprintln(w, Narrate(e)); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown export format %q", format)
}

var pastTense = map[string]string{
	"add":    "added",
	"update": "updated",
	"delete": "deleted",
}

// Narrate renders one entry as a sentence.
func Narrate(e Entry) string {
	actor := e.Actor
	if actor == "" {
		actor = "someone"
	}
	ts := e.Timestamp.UTC().Format("2006-01-02 15:04:05 MST")

	var b strings.Builder
	b.WriteString(ts)
	b.WriteString("  ")

	switch e.OperationType {
	case TypeBatchStart:
		fmt.Fprintf(&b, "%s started batch %s", actor, e.TargetID)
		if e.Metadata.OperationCount > 0 {
			fmt.Fprintf(&b, " with %s", pluralOps(e.Metadata.OperationCount))
		}
		if e.Metadata.Mode != "" {
			fmt.Fprintf(&b, " (%s)", e.Metadata.Mode)
		}
	case TypeBatchComplete:
		verb := "completed"
		if !e.Success {
			verb = "failed"
		}
		fmt.Fprintf(&b, "batch %s %s", e.TargetID, verb)
		if e.Metadata.DurationMs > 0 {
			d := time.Duration(e.Metadata.DurationMs) * time.Millisecond
			fmt.Fprintf(&b, " in %s", d)
		}
		fmt.Fprintf(&b, ": %d applied, %d failed", e.Metadata.Completed, e.Metadata.Failed)
		if e.Metadata.RolledBack {
			b.WriteString(", rolled back")
		}
	default:
		verb, ok := pastTense[e.OperationType]
		if !ok {
			verb = e.OperationType
		}
		if !e.Success {
			fmt.Fprintf(&b, "%s failed to %s %s", actor, e.OperationType, e.Target)
		} else {
			fmt.Fprintf(&b, "%s %s %s", actor, verb, e.Target)
		}
		if e.TargetID != "" {
			fmt.Fprintf(&b, " %s", e.TargetID)
		}
		if e.Metadata.Force {
			b.WriteString(" (forced)")
		}
	}

	if e.Error != "" {
		fmt.Fprintf(&b, ": %s", e.Error)
	}
	return b.String()
}

func pluralOps(n int) string {
	return humanize.Comma(int64(n)) + " " + plural(n, "operation")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
