package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"github.com/Iron-Ham/planstore/internal/logging"
)

// maxLineBytes bounds a single audit line when scanning.
const maxLineBytes = 16 * 1024 * 1024

// Filter selects entries in Query. Zero fields match everything.
type Filter struct {
	Start         time.Time
	End           time.Time
	OperationType string
	Target        string
	TargetID      string
	Success       *bool
	Offset        int
	// Limit caps the number of entries returned; zero means no cap.
	Limit int
}

func (f Filter) match(e *Entry) bool {
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if f.OperationType != "" && e.OperationType != f.OperationType {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.TargetID != "" && e.TargetID != f.TargetID {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

// Query returns matching entries from every generation, oldest first.
// Malformed lines are skipped.
func (l *Logger) Query(f Filter) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	skipped := 0
	err := l.scan(func(line []byte) bool {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return true
		}
		if !f.match(&e) {
			return true
		}
		if skipped < f.Offset {
			skipped++
			return true
		}
		out = append(out, e)
		return f.Limit <= 0 || len(out) < f.Limit
	})
	return out, err
}

// scan feeds every line of every generation to fn, oldest first, until fn
// returns false. The caller holds l.mu.
func (l *Logger) scan(fn func(line []byte) bool) error {
	for _, gen := range logging.Generations(l.path, l.rotation.MaxBackups) {
		more, err := scanGeneration(gen, fn)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func scanGeneration(gen logging.Generation, fn func(line []byte) bool) (bool, error) {
	r, err := logging.OpenGeneration(gen)
	if err != nil {
		return false, fmt.Errorf("open audit generation %s: %w", gen.Path, err)
	}
	defer func() { _ = r.Close() }()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !fn(line) {
			return false, nil
		}
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return false, fmt.Errorf("read audit generation %s: %w", gen.Path, err)
	}
	return true, nil
}

// GenerationStat describes one file of the log family.
type GenerationStat struct {
	Path       string `json:"path"`
	Index      int    `json:"index"`
	Compressed bool   `json:"compressed,omitempty"`
	Size       int64  `json:"size"`
	HumanSize  string `json:"humanSize"`
}

// Stats summarizes the whole audit log.
type Stats struct {
	TotalEntries    int              `json:"totalEntries"`
	Succeeded       int              `json:"succeeded"`
	Failed          int              `json:"failed"`
	Batches         int              `json:"batches"`
	ByOperationType map[string]int   `json:"byOperationType"`
	ByTarget        map[string]int   `json:"byTarget"`
	First           *time.Time       `json:"first,omitempty"`
	Last            *time.Time       `json:"last,omitempty"`
	Malformed       int              `json:"malformed,omitempty"`
	Generations     []GenerationStat `json:"generations"`
	TotalSize       int64            `json:"totalSize"`
	HumanTotalSize  string           `json:"humanTotalSize"`
}

// Stats reads every generation and summarizes it. Fields are pulled from the
// raw lines without decoding whole entries.
func (l *Logger) Stats() (*Stats, error) {
	st := &Stats{
		ByOperationType: make(map[string]int),
		ByTarget:        make(map[string]int),
		Generations:     []GenerationStat{},
	}
	if l == nil {
		st.HumanTotalSize = humanize.IBytes(0)
		return st, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, gen := range logging.Generations(l.path, l.rotation.MaxBackups) {
		st.Generations = append(st.Generations, GenerationStat{
			Path:       gen.Path,
			Index:      gen.Index,
			Compressed: gen.Compressed,
			Size:       gen.Size,
			HumanSize:  humanize.IBytes(uint64(gen.Size)),
		})
		st.TotalSize += gen.Size
	}
	st.HumanTotalSize = humanize.IBytes(uint64(st.TotalSize))

	err := l.scan(func(line []byte) bool {
		if !gjson.ValidBytes(line) {
			st.Malformed++
			return true
		}
		fields := gjson.GetManyBytes(line, "operationType", "target", "success", "timestamp")
		st.TotalEntries++
		st.ByOperationType[fields[0].String()]++
		st.ByTarget[fields[1].String()]++
		if fields[2].Bool() {
			st.Succeeded++
		} else {
			st.Failed++
		}
		if fields[0].String() == TypeBatchStart {
			st.Batches++
		}
		if ts := fields[3].Time(); !ts.IsZero() {
			if st.First == nil || ts.Before(*st.First) {
				first := ts
				st.First = &first
			}
			if st.Last == nil || ts.After(*st.Last) {
				last := ts
				st.Last = &last
			}
		}
		return true
	})
	return st, err
}

// SortedKeys returns the keys of a count map in descending count order, ties
// broken by name.
func SortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
