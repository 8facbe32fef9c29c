package operations

import (
	"fmt"
	"maps"
	"strings"

	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/plan"
)

// metadataTargetID is the TargetID of plan-level updates.
const metadataTargetID = "plan"

// AddMetadata adds a free-form label to the plan. It fails if the key
// already exists.
type AddMetadata struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (AddMetadata) Kind() Kind { return KindAdd }
func (AddMetadata) Target() Target { return TargetMetadata }
func (AddMetadata) Priority() int { return TargetMetadata.Priority() }
func (o AddMetadata) TargetID() string { return o.Key }
func (o AddMetadata) Describe() string { return fmt.Sprintf("add metadata label %q", o.Key) }
func (o AddMetadata) Validate() error { return validateLabelKey(o.Key, "add metadata") }

func (o AddMetadata) apply(m *mutation) error {
	p := m.tree.Plan
	if _, ok := p.Metadata[o.Key]; ok {
		return errors.NewConflictError("metadata", o.Key, "label already exists; use an update to change it")
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	p.Metadata[o.Key] = o.Value
	m.targetID = o.Key
	m.after = map[string]string{o.Key: o.Value}
	return nil
}

// DeleteMetadata removes a label. It fails if the key is missing.
type DeleteMetadata struct {
	Key string `json:"key"`
}

func (DeleteMetadata) Kind() Kind { return KindDelete }
func (DeleteMetadata) Target() Target { return TargetMetadata }
func (DeleteMetadata) Priority() int { return TargetMetadata.Priority() }
func (o DeleteMetadata) TargetID() string { return o.Key }
func (o DeleteMetadata) Describe() string { return fmt.Sprintf("delete metadata label %q", o.Key) }
func (o DeleteMetadata) Validate() error { return validateLabelKey(o.Key, "delete metadata") }

func (o DeleteMetadata) apply(m *mutation) error {
	p := m.tree.Plan
	old, ok := p.Metadata[o.Key]
	if !ok {
		return errors.NewNotFoundError("metadata", o.Key)
	}
	delete(p.Metadata, o.Key)
	m.targetID = o.Key
	m.before = map[string]string{o.Key: old}
	return nil
}

func validateLabelKey(key, what string) error {
	var c checker
	c.check(key != "", "key is required")
	c.check(strings.TrimSpace(key) == key, "key must not have leading or trailing whitespace")
	return c.err(what)
}

// ExecutionPatch replaces parts of the execution config. Nil fields are
// left unchanged.
type ExecutionPatch struct {
	Strategy          *string           `json:"strategy,omitempty"`
	MaxParallelPhases *int              `json:"maxParallelPhases,omitempty"`
	TokenBudget       *plan.TokenBudget `json:"tokenBudget,omitempty"`
	RetryPolicy       *plan.RetryPolicy `json:"retryPolicy,omitempty"`
}

func (p *ExecutionPatch) empty() bool {
	return p == nil || (p.Strategy == nil && p.MaxParallelPhases == nil && p.TokenBudget == nil && p.RetryPolicy == nil)
}

// UpdateMetadata edits plan-level fields. Labels may only change existing
// keys; AddMetadata and DeleteMetadata manage the key set.
type UpdateMetadata struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Version     *string           `json:"version,omitempty"`
	Execution   *ExecutionPatch   `json:"execution,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

func (UpdateMetadata) Kind() Kind { return KindUpdate }
func (UpdateMetadata) Target() Target { return TargetMetadata }
func (UpdateMetadata) Priority() int { return TargetMetadata.Priority() }
func (UpdateMetadata) TargetID() string { return metadataTargetID }
func (UpdateMetadata) Describe() string { return "update plan metadata" }

func (o UpdateMetadata) Validate() error {
	var c checker
	c.check(o.Name != nil || o.Description != nil || o.Version != nil || !o.Execution.empty() || len(o.Labels) > 0,
		"at least one field must be set")
	if o.Name != nil {
		c.check(strings.TrimSpace(*o.Name) != "", "name must not be empty")
	}
	if o.Version != nil {
		c.check(strings.TrimSpace(*o.Version) != "", "version must not be empty")
	}
	return c.err("update metadata")
}

func (o UpdateMetadata) apply(m *mutation) error {
	p := m.tree.Plan
	m.targetID = metadataTargetID
	m.before = snapshotMetadata(p)

	for key := range o.Labels {
		if _, ok := p.Metadata[key]; !ok {
			return errors.NewNotFoundError("metadata", key)
		}
	}

	if o.Name != nil {
		p.Name = *o.Name
	}
	if o.Description != nil {
		p.Description = *o.Description
	}
	if o.Version != nil {
		p.Version = *o.Version
	}
	if e := o.Execution; e != nil {
		if e.Strategy != nil {
			p.Execution.Strategy = *e.Strategy
		}
		if e.MaxParallelPhases != nil {
			p.Execution.MaxParallelPhases = *e.MaxParallelPhases
		}
		if e.TokenBudget != nil {
			p.Execution.TokenBudget = *e.TokenBudget
		}
		if e.RetryPolicy != nil {
			p.Execution.RetryPolicy = *e.RetryPolicy
		}
	}
	for key, value := range o.Labels {
		p.Metadata[key] = value
	}

	m.after = snapshotMetadata(p)
	return nil
}

func snapshotMetadata(p *plan.Plan) MetadataSnapshot {
	return MetadataSnapshot{
		Name:        p.Name,
		Description: p.Description,
		Version:     p.Version,
		Execution:   p.Execution,
		Labels:      maps.Clone(p.Metadata),
	}
}
