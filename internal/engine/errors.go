package engine

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"voteline/internal/engine/auth"
	"voteline/internal/repo"
)

// ErrorKind classifies rejected operations.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation_failed"
	KindWorkflow   ErrorKind = "workflow_violation"
	KindConflict   ErrorKind = "concurrency_conflict"
	KindCascade    ErrorKind = "cascade_failure"
	KindForbidden  ErrorKind = "forbidden"
	KindNotFound   ErrorKind = "not_found"
	KindInternal   ErrorKind = "internal"
)

// FieldError names one violated rule.
type FieldError struct {
	Field string
	Value any
	Rule  string
}

func (e FieldError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Rule)
	}
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Rule, e.Value)
}

// ValidationError carries every field violation found on one issue.
type ValidationError struct {
	IssueID string
	Fields  []FieldError
	errs    error
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.errs.Error()
}

func (e *ValidationError) Unwrap() []error { return multierr.Errors(e.errs) }

func (e *ValidationError) Kind() ErrorKind { return KindValidation }

// HasRule reports whether any field error matches field and rule.
func (e *ValidationError) HasRule(field, rule string) bool {
	for _, f := range e.Fields {
		if f.Field == field && f.Rule == rule {
			return true
		}
	}
	return false
}

type validator struct {
	fields []FieldError
	errs   error
}

func (v *validator) add(field string, value any, rule string) {
	fe := FieldError{Field: field, Value: value, Rule: rule}
	v.fields = append(v.fields, fe)
	v.errs = multierr.Append(v.errs, fe)
}

func (v *validator) err(issueID string) error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{IssueID: issueID, Fields: v.fields, errs: v.errs}
}

// WorkflowError rejects a status outside the roles' transition table.
type WorkflowError struct {
	IssueID string
	From    string
	To      string
	Roles   []string
}

func (e *WorkflowError) Error() string {
	roles := strings.Join(e.Roles, ",")
	if roles == "" {
		roles = "none"
	}
	return fmt.Sprintf("transition %s -> %s not allowed for roles [%s]", e.From, e.To, roles)
}

func (e *WorkflowError) Kind() ErrorKind { return KindWorkflow }

// ConflictError reports a stale lock version; the caller should reload and retry.
type ConflictError struct {
	IssueID  string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	if e.Actual < 0 {
		return fmt.Sprintf("issue %s was modified concurrently (lock version %d)", e.IssueID, e.Expected)
	}
	return fmt.Sprintf("issue %s was modified concurrently (lock version %d, now %d)", e.IssueID, e.Expected, e.Actual)
}

func (e *ConflictError) Kind() ErrorKind { return KindConflict }

// CascadeError reports a dependent issue that could not follow the change.
type CascadeError struct {
	IssueID     string
	DependentID string
	Err         error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("cascade from %s failed on %s: %v", e.IssueID, e.DependentID, e.Err)
}

func (e *CascadeError) Unwrap() error { return e.Err }

func (e *CascadeError) Kind() ErrorKind { return KindCascade }

// KindOf classifies err. Cascade failures take precedence over the error
// they wrap.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *CascadeError
	if errors.As(err, &ce) {
		return KindCascade
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var we *WorkflowError
	if errors.As(err, &we) {
		return KindWorkflow
	}
	var cf *ConflictError
	if errors.As(err, &cf) {
		return KindConflict
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return KindForbidden
	}
	if errors.Is(err, repo.ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}
