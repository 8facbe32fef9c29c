package docstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/planstore/internal/errors"
)

type sample struct {
	ID    string   `json:"id"`
	Items []string `json:"items"`
}

func TestWriteReadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases", "phase-1-setup.json")

	in := sample{ID: "phase-1-setup", Items: []string{"a", "b"}}
	if err := WriteDocument(path, in); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}

	var out sample
	if err := ReadDocument(path, &out); err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if out.ID != in.ID || len(out.Items) != 2 {
		t.Errorf("round trip mismatch: got %+v", out)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after a successful write")
	}
}

func TestWriteDocument_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestration.json")
	if err := WriteDocument(path, sample{ID: "old"}); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	if err := WriteDocument(path, sample{ID: "new"}); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}

	var out sample
	if err := ReadDocument(path, &out); err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if out.ID != "new" {
		t.Errorf("ID = %q, want new", out.ID)
	}
}

func TestWriteDocument_UnmarshalableValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := WriteDocument(path, map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected marshal error")
	}
	if Exists(path) {
		t.Error("no file should be created when marshaling fails")
	}
}

func TestReadDocument_NotFound(t *testing.T) {
	var out sample
	err := ReadDocument(filepath.Join(t.TempDir(), "missing.json"), &out)

	var nf *errors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
	if errors.CodeOf(err) != errors.CodeNotFound {
		t.Errorf("CodeOf = %q", errors.CodeOf(err))
	}
}

func TestReadDocument_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	var out sample
	err := ReadDocument(path, &out)

	var pe *errors.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want ParseError", err)
	}
	if pe.Path != path {
		t.Errorf("Path = %q, want %q", pe.Path, path)
	}
}
