// Package validation checks plan documents before anything is persisted.
//
// Every check returns a *ValidationResult instead of failing fast, so a
// caller sees every problem with a document at once. The package also owns
// the execution-state safety rules that decide whether a phase or task may
// be mutated or deleted.
package validation

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/planstore/internal/errors"
)

// Severity grades an Issue. Only errors make a document invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule names reported in Issue.Rule.
const (
	RuleSchema             = "schema"
	RuleUniqueIDs          = "unique_ids"
	RuleProgress           = "progress"
	RulePhaseFile          = "phase_file"
	RuleDocumentMismatch   = "document_mismatch"
	RuleDanglingDependency = "dangling_dependency"
	RuleDependencyCycle    = "dependency_cycle"
	RuleBudget             = "budget"
)

// Issue is one problem found in a plan document.
type Issue struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	// ItemID is the phase or task at fault; empty for plan-level issues.
	ItemID string `json:"itemId,omitempty"`
	// Field is the JSON path of the offending field.
	Field      string   `json:"field,omitempty"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	Related    []string `json:"relatedIds,omitempty"`
}

// issuef builds an error-severity Issue.
func issuef(rule, itemID, field, format string, args ...any) Issue {
	return Issue{
		Rule:     rule,
		Severity: SeverityError,
		ItemID:   itemID,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	}
}

func (i Issue) warning() Issue {
	i.Severity = SeverityWarning
	return i
}

func (i Issue) suggest(s string) Issue {
	i.Suggestion = s
	return i
}

func (i Issue) relate(ids ...string) Issue {
	i.Related = ids
	return i
}

// IsWarning reports whether the issue leaves the document valid.
func (i Issue) IsWarning() bool { return i.Severity == SeverityWarning }

// String renders "item: field: message", omitting empty parts.
func (i Issue) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{i.ItemID, i.Field} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(append(parts, i.Message), ": ")
}

// ValidationResult collects the issues of one or more checks.
type ValidationResult struct {
	Valid        bool    `json:"valid"`
	Issues       []Issue `json:"issues"`
	ErrorCount   int     `json:"errorCount"`
	WarningCount int     `json:"warningCount"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true, Issues: []Issue{}}
}

// Add records issues and updates the counts.
func (r *ValidationResult) Add(issues ...Issue) {
	for _, i := range issues {
		r.Issues = append(r.Issues, i)
		if i.IsWarning() {
			r.WarningCount++
		} else {
			r.ErrorCount++
		}
	}
	r.Valid = r.ErrorCount == 0
}

// Merge adds other's issues to r. A nil other is ignored.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Add(other.Issues...)
	}
}

func (r *ValidationResult) IsValid() bool     { return r.ErrorCount == 0 }
func (r *ValidationResult) HasWarnings() bool { return r.WarningCount > 0 }

func (r *ValidationResult) filter(keep func(Issue) bool) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}

// Errors returns the error-severity issues.
func (r *ValidationResult) Errors() []Issue {
	return r.filter(func(i Issue) bool { return !i.IsWarning() })
}

// ForItem returns the issues about one phase or task.
func (r *ValidationResult) ForItem(id string) []Issue {
	return r.filter(func(i Issue) bool { return i.ItemID == id })
}

// ForRule returns the issues raised by one rule.
func (r *ValidationResult) ForRule(rule string) []Issue {
	return r.filter(func(i Issue) bool { return i.Rule == rule })
}

// WarningMessages renders the warnings for a result's Warnings list.
func (r *ValidationResult) WarningMessages() []string {
	var out []string
	for _, i := range r.filter(Issue.IsWarning) {
		out = append(out, i.String())
	}
	return out
}

// Err folds the error-severity issues into one *errors.ValidationError
// with the given message, or returns nil when r is valid.
func (r *ValidationResult) Err(message string) error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	verr := errors.NewValidationError(message)
	for _, i := range errs {
		verr.WithIssues(i.String())
	}
	if errs[0].Field != "" {
		verr.WithField(errs[0].Field)
	}
	return verr
}
