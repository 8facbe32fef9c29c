package validation

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Iron-Ham/planstore/internal/plan"
	"github.com/Iron-Ham/planstore/internal/plan/ids"
)

// schemaValidate holds the struct-tag rules declared on the plan types.
var schemaValidate *validator.Validate

func init() {
	schemaValidate = validator.New()

	// Report JSON field names so paths match the documents on disk.
	schemaValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = schemaValidate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return ids.ValidSlug(fl.Field().String())
	})
	_ = schemaValidate.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return plan.Status(fl.Field().String()).Valid()
	})
}

// ValidateOrchestration checks the orchestration document's required fields,
// enum domains, numeric ranges, id uniqueness, and progress counters.
func ValidateOrchestration(p *plan.Plan) *ValidationResult {
	result := NewValidationResult()
	if p == nil {
		result.Add(issuef(RuleSchema, "", "", "orchestration document is missing"))
		return result
	}

	result.Add(structIssues(p, "")...)

	seen := make(map[string]bool, len(p.Phases))
	for _, ref := range p.Phases {
		if seen[ref.ID] {
			result.Add(issuef(RuleUniqueIDs, ref.ID, "phases", "duplicate phase id %q", ref.ID))
		}
		seen[ref.ID] = true

		if ref.File != "" && !filepath.IsLocal(filepath.FromSlash(ref.File)) {
			result.Add(issuef(RulePhaseFile, ref.ID, "file",
				"phase file %q must be a relative path inside the plan directory", ref.File))
		}
	}

	if p.Progress.TotalPhases != len(p.Phases) {
		result.Add(issuef(RuleProgress, "", "progress.totalPhases",
			"progress.totalPhases is %d but the plan has %d phases", p.Progress.TotalPhases, len(p.Phases)))
	}

	budget := p.Execution.TokenBudget
	if budget.Total > 0 && budget.PerPhase > budget.Total {
		result.Add(issuef(RuleBudget, "", "execution.tokenBudget.perPhase",
			"perPhase budget %d exceeds total budget %d", budget.PerPhase, budget.Total).warning())
	}

	return result
}

// ValidatePhaseDocument checks a phase document's schema, task id
// uniqueness, and task dependency graph. Task dependencies must stay inside
// the phase.
func ValidatePhaseDocument(doc *plan.PhaseDocument) *ValidationResult {
	result := NewValidationResult()
	if doc == nil {
		result.Add(issuef(RuleSchema, "", "", "phase document is missing"))
		return result
	}

	result.Add(structIssues(doc, doc.ID)...)

	seen := make(map[string]bool, len(doc.Tasks))
	for _, task := range doc.Tasks {
		if seen[task.ID] {
			result.Add(issuef(RuleUniqueIDs, task.ID, "tasks", "duplicate task id %q in phase %s", task.ID, doc.ID))
		}
		seen[task.ID] = true
	}

	result.Merge(ValidateTaskDependencies(doc))
	return result
}

// ValidateTree validates a whole plan: the orchestration document, its phase
// dependency graph, every phase document, and the agreement between each
// PhaseRef and its document.
func ValidateTree(t *plan.Tree) *ValidationResult {
	result := ValidateOrchestration(t.Plan)
	result.Merge(ValidatePhaseDependencies(t.Plan))

	for _, ref := range t.Plan.Phases {
		doc, ok := t.Phases[ref.ID]
		if !ok {
			result.Add(issuef(RulePhaseFile, ref.ID, "file", "phase %s has no document at %s", ref.ID, ref.File))
			continue
		}
		if doc.ID != ref.ID {
			result.Add(issuef(RuleDocumentMismatch, ref.ID, "id",
				"phase document id %q does not match reference %q", doc.ID, ref.ID))
		}
		result.Merge(ValidatePhaseDocument(doc))
	}
	return result
}

func structIssues(v any, itemID string) []Issue {
	err := schemaValidate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return []Issue{issuef(RuleSchema, itemID, "", "%s", err.Error())}
	}

	out := make([]Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, issuef(RuleSchema, itemID, fieldPath(fe), "%s", describe(fe)))
	}
	return out
}

// fieldPath drops the root type name from the namespace, leaving the JSON
// path, e.g. "phases[0].id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "slug":
		return fmt.Sprintf("%q is not a valid id (lowercase letters, digits, and single separators)", fe.Value())
	case "status":
		return fmt.Sprintf("%q is not a valid status", fe.Value())
	case "oneof":
		return fmt.Sprintf("%v must be one of: %s", fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s (got %v)", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("must be at most %s (got %v)", fe.Param(), fe.Value())
	case "ltefield":
		return fmt.Sprintf("must not exceed %s (got %v)", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
