package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxRunes int
		expected string
	}{
		{name: "short string unchanged", input: "hello", maxRunes: 10, expected: "hello"},
		{name: "exact length unchanged", input: "hello", maxRunes: 5, expected: "hello"},
		{name: "long string truncated", input: "hello world", maxRunes: 8, expected: "hello..."},
		{name: "tiny limit returns ellipsis", input: "hello", maxRunes: 3, expected: "..."},
		{name: "zero limit returns ellipsis", input: "hello", maxRunes: 0, expected: "..."},
		{name: "whitespace collapsed", input: "{\n  \"id\": \"a\"\n}", maxRunes: 50, expected: `{ "id": "a" }`},
		{name: "runes not bytes", input: "日本語テキスト", maxRunes: 5, expected: "日本..."},
		{name: "empty", input: "", maxRunes: 10, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.input, tt.maxRunes); got != tt.expected {
				t.Errorf("Preview(%q, %d) = %q, want %q", tt.input, tt.maxRunes, got, tt.expected)
			}
		})
	}
}

func TestFitWidth(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("completed phase")

	tests := []struct {
		name  string
		input string
		width int
		check func(t *testing.T, got string)
	}{
		{
			name:  "plain fits",
			input: "api",
			width: 10,
			check: func(t *testing.T, got string) {
				if got != "api" {
					t.Errorf("got %q", got)
				}
			},
		},
		{
			name:  "plain truncated",
			input: "setup-environment",
			width: 8,
			check: func(t *testing.T, got string) {
				if got != "setup..." {
					t.Errorf("got %q, want %q", got, "setup...")
				}
			},
		},
		{
			name:  "styled truncated to visual width",
			input: styled,
			width: 10,
			check: func(t *testing.T, got string) {
				if w := lipgloss.Width(got); w > 10 {
					t.Errorf("width = %d, want <= 10", w)
				}
			},
		},
		{
			name:  "wide characters",
			input: "日本語日本語",
			width: 7,
			check: func(t *testing.T, got string) {
				if w := lipgloss.Width(got); w > 7 {
					t.Errorf("width = %d, want <= 7", w)
				}
			},
		},
		{
			name:  "tiny width",
			input: "anything",
			width: 2,
			check: func(t *testing.T, got string) {
				if got != "..." {
					t.Errorf("got %q", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, FitWidth(tt.input, tt.width))
		})
	}
}

func TestPlural(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0 operations"},
		{1, "1 operation"},
		{2, "2 operations"},
	}
	for _, tt := range tests {
		if got := Plural(tt.n, "operation"); got != tt.want {
			t.Errorf("Plural(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestJoinLimited(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	if got := JoinLimited(items, 2); got != "a, b (+2 more)" {
		t.Errorf("JoinLimited(2) = %q", got)
	}
	if got := JoinLimited(items, 4); got != "a, b, c, d" {
		t.Errorf("JoinLimited(4) = %q", got)
	}
	if got := JoinLimited(items, 0); got != "a, b, c, d" {
		t.Errorf("JoinLimited(0) = %q", got)
	}
}
