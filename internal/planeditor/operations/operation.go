// Package operations defines the update operations that mutate a plan and the
// Editor that applies them.
//
// An Operation is a closed tagged union: one concrete type per
// (kind, target) pair, each carrying a typed data record. Records are
// decoded strictly, so unknown fields are rejected before anything runs.
package operations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Iron-Ham/planstore/internal/errors"
)

// Kind is the verb of an operation.
type Kind string

const (
	KindAdd    Kind = "add"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Target is the entity class an operation mutates.
type Target string

const (
	TargetMetadata Target = "metadata"
	TargetPhase    Target = "phase"
	TargetTask     Target = "task"
)

// Priority returns the fixed application rank of the target: metadata
// first, then phases, then tasks.
func (t Target) Priority() int {
	switch t {
	case TargetMetadata:
		return 0
	case TargetPhase:
		return 1
	case TargetTask:
		return 2
	}
	return 3
}

// Operation is one update in a batch.
type Operation interface {
	Kind() Kind
	Target() Target
	Priority() int
	// TargetID names the entity: a phase id, a phase/task key, a label key,
	// or "plan" for metadata updates. Empty for adds whose id is generated.
	TargetID() string
	// Validate checks the operation's own shape without looking at a plan.
	Validate() error
	Describe() string

	apply(m *mutation) error
}

// Indexed pairs an operation with its position in the submitted batch.
type Indexed struct {
	Index int
	Op    Operation
}

// SortByPriority orders ops metadata, phase, task. Operations of the same
// target keep their submitted order.
func SortByPriority(ops []Operation) []Indexed {
	out := make([]Indexed, len(ops))
	for i, op := range ops {
		out[i] = Indexed{Index: i, Op: op}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Op.Priority() < out[j].Op.Priority()
	})
	return out
}

// ValidateAll validates every operation and returns one
// *errors.ValidationError listing all problems, or nil.
func ValidateAll(ops []Operation) error {
	if len(ops) == 0 {
		return errors.NewValidationError("batch contains no operations")
	}
	var issues []string
	for i, op := range ops {
		if op == nil {
			issues = append(issues, fmt.Sprintf("operations[%d]: missing operation", i))
			continue
		}
		if err := op.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("operations[%d] (%s): %s", i, op.Describe(), issueText(err)))
		}
	}
	if len(issues) > 0 {
		return errors.NewValidationError(fmt.Sprintf("%d of %d operations are invalid", len(issues), len(ops))).
			WithIssues(issues...)
	}
	return nil
}

// issueText flattens a validation error into its issue list.
func issueText(err error) string {
	var verr *errors.ValidationError
	if errors.As(err, &verr) && len(verr.Issues) > 0 {
		return strings.Join(verr.Issues, "; ")
	}
	return err.Error()
}

// Envelope is the wire form of an operation: {type, target, data}.
type Envelope struct {
	Type   Kind            `json:"type"`
	Target Target          `json:"target"`
	Data   json.RawMessage `json:"data"`
}

// DecodeOperation decodes one JSON envelope.
func DecodeOperation(data []byte) (Operation, error) {
	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return nil, errors.NewValidationError("malformed operation envelope").WithIssues(err.Error())
	}
	return env.Operation()
}

// DecodeOperations decodes a JSON array of envelopes. Every entry is
// decoded; the returned error lists all failures.
func DecodeOperations(data []byte) ([]Operation, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, errors.NewValidationError("operations must be a JSON array").WithIssues(err.Error())
	}

	ops := make([]Operation, 0, len(raws))
	var issues []string
	for i, raw := range raws {
		op, err := DecodeOperation(raw)
		if err != nil {
			issues = append(issues, fmt.Sprintf("operations[%d]: %s", i, issueText(err)))
			continue
		}
		ops = append(ops, op)
	}
	if len(issues) > 0 {
		return nil, errors.NewValidationError(fmt.Sprintf("%d of %d operations could not be decoded", len(issues), len(raws))).
			WithIssues(issues...)
	}
	return ops, nil
}

// Operation decodes the envelope's data into the concrete operation type.
// An update of a phase or task whose data carries "order" is a reorder.
func (e Envelope) Operation() (Operation, error) {
	data := e.Data
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		data = json.RawMessage("{}")
	}

	switch e.Target {
	case TargetMetadata:
		switch e.Type {
		case KindAdd:
			return decodeInto[AddMetadata](data)
		case KindUpdate:
			return decodeInto[UpdateMetadata](data)
		case KindDelete:
			return decodeInto[DeleteMetadata](data)
		}
	case TargetPhase:
		switch e.Type {
		case KindAdd:
			return decodeInto[AddPhase](data)
		case KindUpdate:
			if hasKey(data, "order") {
				return decodeInto[ReorderPhases](data)
			}
			return decodeInto[UpdatePhase](data)
		case KindDelete:
			return decodeInto[RemovePhase](data)
		}
	case TargetTask:
		switch e.Type {
		case KindAdd:
			return decodeInto[AddTask](data)
		case KindUpdate:
			if hasKey(data, "order") {
				return decodeInto[ReorderTasks](data)
			}
			return decodeInto[UpdateTask](data)
		case KindDelete:
			return decodeInto[RemoveTask](data)
		}
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown target %q", e.Target)).
			WithField("target").WithValue(string(e.Target)).
			WithIssues("target must be one of: metadata, phase, task")
	}
	return nil, errors.NewValidationError(fmt.Sprintf("unknown operation type %q", e.Type)).
		WithField("type").WithValue(string(e.Type)).
		WithIssues("type must be one of: add, update, delete")
}

// EncodeOperation returns the wire envelope for op.
func EncodeOperation(op Operation) (Envelope, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", op.Describe(), err)
	}
	return Envelope{Type: op.Kind(), Target: op.Target(), Data: data}, nil
}

func decodeInto[T Operation](data json.RawMessage) (Operation, error) {
	var v T
	if err := strictUnmarshal(data, &v); err != nil {
		return nil, errors.NewValidationError("invalid operation data").
			WithField("data").WithIssues(err.Error())
	}
	return v, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

func hasKey(data json.RawMessage, key string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, ok := fields[key]
	return ok
}

// checker accumulates shape problems for Validate.
type checker struct {
	issues []string
}

func (c *checker) check(ok bool, format string, args ...any) {
	if !ok {
		c.issues = append(c.issues, fmt.Sprintf(format, args...))
	}
}

func (c *checker) err(what string) error {
	if len(c.issues) == 0 {
		return nil
	}
	return errors.NewValidationError(what + " is invalid").WithIssues(c.issues...)
}

// checkIDList reports empty, malformed, and duplicate ids in list.
func (c *checker) checkIDList(field string, list []string) {
	seen := make(map[string]bool, len(list))
	for _, id := range list {
		c.check(id != "", "%s contains an empty id", field)
		if id == "" {
			continue
		}
		c.check(!seen[id], "%s lists %q more than once", field, id)
		seen[id] = true
	}
}
