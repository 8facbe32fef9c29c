// Package ids generates identifiers for phases, tasks, audit entries, and
// batches.
package ids

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// maxSlugLen bounds the name-derived part of an id.
const maxSlugLen = 30

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:[-_.][a-z0-9]+)*$`)

// ValidSlug reports whether s is a usable id: lowercase ASCII letters and
// digits separated by single '-', '_' or '.' characters.
func ValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}

// Slugify converts text to a slug suitable for identifiers. It lowercases the
// text, turns whitespace and punctuation into single dashes, drops other
// characters, and limits the length.
func Slugify(text string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(text) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/' || r == '.':
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}

	s := b.String()
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	return strings.TrimRight(s, "-")
}

// GeneratePhaseID returns phase-{n}-{slug} for name, unique among existing.
// n starts at len(existing)+1 and increments until the id is free.
func GeneratePhaseID(name string, existing []string) string {
	return generate("phase", name, existing)
}

// GenerateTaskID returns task-{n}-{slug} for name, unique among existing.
func GenerateTaskID(name string, existing []string) string {
	return generate("task", name, existing)
}

func generate(prefix, name string, existing []string) string {
	taken := make(map[string]bool, len(existing))
	for _, id := range existing {
		taken[id] = true
	}

	slug := Slugify(name)
	for n := len(existing) + 1; ; n++ {
		id := fmt.Sprintf("%s-%d", prefix, n)
		if slug != "" {
			id += "-" + slug
		}
		if !taken[id] {
			return id
		}
	}
}

// GenerateEntryID returns a time-sortable, collision-resistant audit entry id.
func GenerateEntryID() string {
	return "entry-" + newV7()
}

// GenerateBatchID returns a time-sortable, collision-resistant batch id.
func GenerateBatchID() string {
	return "batch-" + newV7()
}

func newV7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}
