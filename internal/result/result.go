// Package result defines the uniform outcome returned by every plan
// operation: {success, message|error, data, warnings, backupPath}.
package result

import (
	"github.com/Iron-Ham/planstore/internal/errors"
)

// Result is the uniform outcome of a plan operation.
type Result struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message,omitempty"`
	Error      string   `json:"error,omitempty"`
	Code       string   `json:"code,omitempty"`
	Data       any      `json:"data,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	BackupPath string   `json:"backupPath,omitempty"`

	// Err is the underlying error of a failed result, kept for errors.Is/As.
	Err error `json:"-"`
}

// BlockedDetail is the Data of a result that failed on a safety block.
type BlockedDetail struct {
	TargetType    string `json:"targetType"`
	TargetID      string `json:"targetId"`
	Reason        string `json:"reason"`
	Code          string `json:"code"`
	RequiresForce bool   `json:"requiresForce"`
}

// ValidationDetail is the Data of a result that failed validation.
type ValidationDetail struct {
	Field  string   `json:"field,omitempty"`
	Issues []string `json:"issues"`
}

// OK returns a successful result.
func OK(message string, data any) *Result {
	return &Result{
		Success: true,
		Message: message,
		Data:    data,
	}
}

// FromError returns a failed result describing err. Blocked and validation
// failures carry structured detail in Data.
func FromError(err error) *Result {
	if err == nil {
		return OK("", nil)
	}
	r := &Result{
		Success: false,
		Error:   err.Error(),
		Code:    errors.CodeOf(err),
		Err:     err,
	}

	var blocked *errors.BlockedOperationError
	var invalid *errors.ValidationError
	switch {
	case errors.As(err, &blocked):
		r.Data = BlockedDetail{
			TargetType:    blocked.TargetType,
			TargetID:      blocked.TargetID,
			Reason:        blocked.Reason,
			Code:          blocked.Code(),
			RequiresForce: blocked.RequiresForce,
		}
	case errors.As(err, &invalid):
		r.Data = ValidationDetail{Field: invalid.Field, Issues: invalid.Issues}
	}
	return r
}

// WithData sets Data and returns r.
func (r *Result) WithData(data any) *Result {
	r.Data = data
	return r
}

// WithWarnings appends warnings and returns r.
func (r *Result) WithWarnings(warnings ...string) *Result {
	r.Warnings = append(r.Warnings, warnings...)
	return r
}

// WithBackup records the backup path available for recovery and returns r.
func (r *Result) WithBackup(path string) *Result {
	r.BackupPath = path
	return r
}

// WithMessage sets Message and returns r.
func (r *Result) WithMessage(msg string) *Result {
	r.Message = msg
	return r
}

// Unwrap returns the underlying error of a failed result.
func (r *Result) Unwrap() error {
	return r.Err
}

// AsError returns nil for a successful result and the underlying error otherwise.
func (r *Result) AsError() error {
	if r.Success {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	return errors.New(r.Error)
}
