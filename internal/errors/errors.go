// Package errors defines the error taxonomy shared by the document store,
// the plan editor, the update orchestrator and the recovery workflows.
//
// Every taxonomy error carries a stable code, returned by CodeOf, that is
// copied into result payloads. Structural errors (ValidationError,
// NotFoundError, ConflictError, BlockedOperationError) mean the request
// cannot be honored as given and nothing was written. Failure errors
// (OperationError, ParseError, BackupError, RestoreError) mean something
// broke while honoring it; BackupError and RestoreError are fatal because
// the safety net itself failed.
//
//	var blocked *errors.BlockedOperationError
//	if errors.As(err, &blocked) && blocked.RequiresForce { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard library helpers, so callers need only this package.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// Stable error codes carried in result payloads.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeBlocked         = "BLOCKED"
	CodeOperationFailed = "OPERATION_FAILED"
	CodeParse           = "PARSE_ERROR"
	CodeBackupFailed    = "BACKUP_FAILED"
	CodeRestoreFailed   = "RESTORE_FAILED"
	CodeInternal        = "INTERNAL_ERROR"
)

var (
	ErrPlanNotFound       = New("plan not found")
	ErrPhaseNotFound      = New("phase not found")
	ErrTaskNotFound       = New("task not found")
	ErrDependencyCycle    = New("dependency cycle detected")
	ErrDanglingDependency = New("dependency references unknown id")
	// ErrNotStarted is returned by recovery workflows on a plan that never ran.
	ErrNotStarted = New("plan execution has not started")

	ErrInvalidInput    = New("invalid input")
	ErrOperationFailed = New("operation failed")
)

// coder is implemented by every error in the taxonomy.
type coder interface {
	error
	Code() string
}

// CodeOf returns the code of the first taxonomy error in err's chain,
// CodeInternal for any other error and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var c coder
	if As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}

// IsFatal reports whether err means a backup could not be taken or
// restored.
func IsFatal(err error) bool {
	var be *BackupError
	var re *RestoreError
	return As(err, &be) || As(err, &re)
}

// Wrap prefixes err with message, returning nil for a nil err.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// withCause renders msg followed by the cause, if any.
func withCause(msg string, cause error) string {
	if cause == nil {
		return msg
	}
	return msg + ": " + cause.Error()
}

// ValidationError is a schema or dependency-graph violation. Issues lists
// every problem found, not only the first.
type ValidationError struct {
	Message string
	Field   string
	Value   any
	Issues  []string
	cause   error
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) WithIssues(issues ...string) *ValidationError {
	e.Issues = append(e.Issues, issues...)
	return e
}

func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

func (e *ValidationError) Code() string  { return CodeValidation }
func (e *ValidationError) Unwrap() error { return e.cause }

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation error")
	var ctx []string
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if e.Value != nil {
		ctx = append(ctx, fmt.Sprintf("value=%v", e.Value))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(ctx, ", "))
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Issues) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Issues, "; "))
	}
	return withCause(b.String(), e.cause)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NotFoundError names a missing plan, phase, task or document.
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Code() string  { return CodeNotFound }
func (e *NotFoundError) Unwrap() error { return e.cause }

func (e *NotFoundError) Error() string {
	return withCause(fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID), e.cause)
}

var notFoundSentinels = map[string]error{
	"plan":  ErrPlanNotFound,
	"phase": ErrPhaseNotFound,
	"task":  ErrTaskNotFound,
}

func (e *NotFoundError) Is(target error) bool {
	s, ok := notFoundSentinels[e.ResourceType]
	return ok && target == s
}

// ConflictError is an id collision or a reorder that is not a permutation.
type ConflictError struct {
	ResourceType string
	ResourceID   string
	Message      string
}

func NewConflictError(resourceType, resourceID, message string) *ConflictError {
	return &ConflictError{ResourceType: resourceType, ResourceID: resourceID, Message: message}
}

func (e *ConflictError) Code() string { return CodeConflict }

func (e *ConflictError) Error() string {
	if e.ResourceID == "" {
		return fmt.Sprintf("conflict [%s]: %s", e.ResourceType, e.Message)
	}
	return fmt.Sprintf("conflict [%s=%s]: %s", e.ResourceType, e.ResourceID, e.Message)
}

// BlockedOperationError is a mutation refused because of live execution
// state. BlockCode is one of the validation package's block codes.
type BlockedOperationError struct {
	TargetType    string
	TargetID      string
	Reason        string
	BlockCode     string
	RequiresForce bool
}

func NewBlockedOperationError(targetType, targetID, code, reason string, requiresForce bool) *BlockedOperationError {
	return &BlockedOperationError{
		TargetType:    targetType,
		TargetID:      targetID,
		Reason:        reason,
		BlockCode:     code,
		RequiresForce: requiresForce,
	}
}

// Code is the block code, or CodeBlocked when none was given.
func (e *BlockedOperationError) Code() string {
	if e.BlockCode == "" {
		return CodeBlocked
	}
	return e.BlockCode
}

func (e *BlockedOperationError) Error() string {
	msg := fmt.Sprintf("blocked [%s=%s, code=%s]: %s", e.TargetType, e.TargetID, e.Code(), e.Reason)
	if e.RequiresForce {
		msg += " (retry with force)"
	}
	return msg
}

// OperationError is a handler failure tagged with the operation and target.
type OperationError struct {
	Op       string
	TargetID string
	Message  string
	cause    error
}

func NewOperationError(op, targetID, message string, cause error) *OperationError {
	return &OperationError{Op: op, TargetID: targetID, Message: message, cause: cause}
}

// Code is the code of the wrapped taxonomy error, if any, else
// CodeOperationFailed.
func (e *OperationError) Code() string {
	var c coder
	if e.cause != nil && As(e.cause, &c) {
		return c.Code()
	}
	return CodeOperationFailed
}

func (e *OperationError) Unwrap() error { return e.cause }

func (e *OperationError) Error() string {
	op := e.Op
	if e.TargetID != "" {
		op += " (" + e.TargetID + ")"
	}
	return withCause(op+": "+e.Message, e.cause)
}

func (e *OperationError) Is(target error) bool {
	return target == ErrOperationFailed
}

// ParseError is a document that exists but is not valid JSON for its type.
type ParseError struct {
	Path  string
	cause error
}

func NewParseError(path string, cause error) *ParseError {
	return &ParseError{Path: path, cause: cause}
}

func (e *ParseError) Code() string  { return CodeParse }
func (e *ParseError) Unwrap() error { return e.cause }
func (e *ParseError) Error() string {
	return withCause(fmt.Sprintf("parse error [%s]", e.Path), e.cause)
}

// BackupError means the pre-batch backup of Path could not be taken.
type BackupError struct {
	Path  string
	cause error
}

func NewBackupError(path string, cause error) *BackupError {
	return &BackupError{Path: path, cause: cause}
}

func (e *BackupError) Code() string  { return CodeBackupFailed }
func (e *BackupError) Unwrap() error { return e.cause }
func (e *BackupError) Error() string {
	return withCause(fmt.Sprintf("backup error [%s]: failed to create backup", e.Path), e.cause)
}

// RestoreError means a backup could not be copied back. The plan
// directory may be inconsistent; BackupPath is left for manual recovery.
type RestoreError struct {
	BackupPath string
	cause      error
}

func NewRestoreError(backupPath string, cause error) *RestoreError {
	return &RestoreError{BackupPath: backupPath, cause: cause}
}

func (e *RestoreError) Code() string  { return CodeRestoreFailed }
func (e *RestoreError) Unwrap() error { return e.cause }
func (e *RestoreError) Error() string {
	return withCause(fmt.Sprintf("restore error [%s]: failed to restore backup", e.BackupPath), e.cause)
}
