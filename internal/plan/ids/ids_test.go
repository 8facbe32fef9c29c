package ids

import (
	"sort"
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Backend API", "backend-api"},
		{"  Set up   CI / CD ", "set-up-ci-cd"},
		{"Café & Crème", "caf-crme"},
		{"already-slugged", "already-slugged"},
		{"!!!", ""},
		{"a very long phase name that keeps going and going", "a-very-long-phase-name-that-ke"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGeneratePhaseID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		existing []string
		want     string
	}{
		{"first phase", "Setup", nil, "phase-1-setup"},
		{"appends ordinal", "Backend", []string{"phase-1-setup"}, "phase-2-backend"},
		{"skips taken ordinal", "Backend", []string{"phase-1-setup", "phase-2-backend"}, "phase-3-backend"},
		{"increments past collision", "Setup", []string{"phase-2-setup"}, "phase-3-setup"},
		{"empty name", "", []string{"phase-1-setup"}, "phase-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GeneratePhaseID(tt.input, tt.existing); got != tt.want {
				t.Errorf("GeneratePhaseID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateTaskID(t *testing.T) {
	got := GenerateTaskID("Write tests", []string{"task-1-setup"})
	if got != "task-2-write-tests" {
		t.Errorf("GenerateTaskID() = %q", got)
	}
	if !ValidSlug(got) {
		t.Errorf("generated id %q should be a valid slug", got)
	}
}

func TestValidSlug(t *testing.T) {
	valid := []string{"phase-1-setup", "a", "v1.2", "snake_case"}
	invalid := []string{"", "Upper", "has space", "-leading", "trailing-", "double--dash", "../escape", "a/b"}
	for _, s := range valid {
		if !ValidSlug(s) {
			t.Errorf("ValidSlug(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if ValidSlug(s) {
			t.Errorf("ValidSlug(%q) = true, want false", s)
		}
	}
}

func TestEntryAndBatchIDs(t *testing.T) {
	seen := make(map[string]bool)
	var entries []string
	for range 100 {
		id := GenerateEntryID()
		if !strings.HasPrefix(id, "entry-") {
			t.Fatalf("entry id %q missing prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate entry id %q", id)
		}
		seen[id] = true
		entries = append(entries, id)
	}

	// UUIDv7 ids generated in sequence sort in generation order.
	if !sort.StringsAreSorted(entries) {
		t.Error("entry ids should be time-sortable")
	}

	if b := GenerateBatchID(); !strings.HasPrefix(b, "batch-") {
		t.Errorf("batch id %q missing prefix", b)
	}
}
