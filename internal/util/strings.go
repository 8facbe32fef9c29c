// Package util provides small string helpers shared by the audit trail and
// the command line output.
package util

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// Preview shortens s to at most maxRunes runes for display, ending it with
// "..." when something was cut. Runs of whitespace, including newlines,
// collapse to a single space first so that indented JSON previews stay on
// one line.
func Preview(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxRunes <= len(ellipsis) {
		return ellipsis
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes-len(ellipsis)]) + ellipsis
}

// FitWidth truncates s to width terminal columns. Escape sequences and
// wide characters are measured the way the terminal renders them.
func FitWidth(s string, width int) string {
	if width <= len(ellipsis) {
		return ellipsis
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	// ansi.Truncate counts the tail toward width.
	return ansi.Truncate(s, width, ellipsis)
}

// Plural formats n with word, adding an "s" unless n is one.
func Plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// JoinLimited joins up to limit items with ", " and reports how many more
// were left out, e.g. "a, b (+3 more)".
func JoinLimited(items []string, limit int) string {
	if limit <= 0 || len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(items[:limit], ", "), len(items)-limit)
}
