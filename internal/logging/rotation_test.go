package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingWriter_AppendsAndCreatesParents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "plans", ".logs", "planstore.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath, []byte("earlier\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if got := rw.CurrentSize(); got != int64(len("earlier\n")) {
		t.Errorf("CurrentSize() = %d, want size of the existing file", got)
	}
	if _, err := rw.Write([]byte("later\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = rw.Close()

	got, _ := os.ReadFile(logPath)
	if string(got) != "earlier\nlater\n" {
		t.Errorf("content = %q", got)
	}

	nested := filepath.Join(t.TempDir(), "a", "b", "c.log")
	rw2, err := NewRotatingWriter(nested, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter(nested): %v", err)
	}
	_ = rw2.Close()
	if _, err := os.Stat(nested); err != nil {
		t.Errorf("nested log not created: %v", err)
	}
}

func TestRotatingWriter_ZeroBackupsTruncates(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "history.jsonl")
	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeBytes: 4})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer func() { _ = rw.Close() }()

	for _, rec := range []string{"one\n", "two\n"} {
		if _, err := rw.Write([]byte(rec)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	live, _ := os.ReadFile(logPath)
	if string(live) != "two\n" {
		t.Errorf("live content = %q", live)
	}
	if len(Generations(logPath, 3)) != 1 {
		t.Error("no rotated generations should be kept")
	}
}

func TestRotatingWriter_RotatesBeforeWrite(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "history.jsonl")
	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeBytes: 32, MaxBackups: 3})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	first := strings.Repeat("a", 30) + "\n"
	second := strings.Repeat("b", 10) + "\n"

	if _, err := rw.Write([]byte(first)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := rw.Write([]byte(second)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	rotated, err := os.ReadFile(logPath + ".1")
	if err != nil {
		t.Fatalf("expected .1 generation: %v", err)
	}
	if string(rotated) != first {
		t.Errorf(".1 content = %q, want %q", rotated, first)
	}
	live, _ := os.ReadFile(logPath)
	if string(live) != second {
		t.Errorf("live content = %q, want only the new record", live)
	}
	if rw.Rotations() != 1 {
		t.Errorf("Rotations() = %d, want 1", rw.Rotations())
	}
}

func TestRotatingWriter_DropsOldestGeneration(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "history.jsonl")
	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeBytes: 4, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	for _, rec := range []string{"one\n", "two\n", "tre\n", "for\n"} {
		if _, err := rw.Write([]byte(rec)); err != nil {
			t.Fatalf("Write(%q) failed: %v", rec, err)
		}
	}

	checks := map[string]string{
		logPath:        "for\n",
		logPath + ".1": "tre\n",
		logPath + ".2": "two\n",
	}
	for path, want := range checks {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", filepath.Base(path), got, want)
		}
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("generation beyond MaxBackups should not exist")
	}
}

func TestRotatingWriter_OversizedRecordOnEmptyFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "history.jsonl")
	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeBytes: 4, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	if _, err := rw.Write([]byte("much longer than four bytes\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rw.Rotations() != 0 {
		t.Error("an empty file should not be rotated")
	}
}

func TestGenerations_OldestFirstAndCompressed(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "history.jsonl")
	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeBytes: 4, MaxBackups: 3, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	for _, rec := range []string{"one\n", "two\n", "tre\n"} {
		if _, err := rw.Write([]byte(rec)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	_ = rw.Close()

	gens := Generations(logPath, 3)
	if len(gens) != 3 {
		t.Fatalf("len(Generations) = %d, want 3", len(gens))
	}
	wantOrder := []string{"one\n", "two\n", "tre\n"}
	for i, g := range gens {
		rc, err := OpenGeneration(g)
		if err != nil {
			t.Fatalf("OpenGeneration(%s): %v", g.Path, err)
		}
		data, _ := io.ReadAll(rc)
		_ = rc.Close()
		if string(data) != wantOrder[i] {
			t.Errorf("generation %d = %q, want %q", i, data, wantOrder[i])
		}
	}
	if !gens[0].Compressed || gens[2].Compressed {
		t.Error("rotated generations should be compressed and the live file not")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "x.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	_ = rw.Close()
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
