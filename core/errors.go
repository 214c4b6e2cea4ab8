// Package core holds the types shared by every layer of the fixture store: the
// error taxonomy and the Issue shape used to report validation problems.
package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a schema, record or collection does not exist.
	ErrNotFound = errors.New("anansi: not found")

	// ErrConflict is returned when a schema name is already registered or a
	// unique field value is already taken.
	ErrConflict = errors.New("anansi: conflict")

	// ErrInvalidDefinition is returned when a schema definition is malformed.
	ErrInvalidDefinition = errors.New("anansi: invalid schema definition")

	// ErrValidation is returned when a record does not satisfy its schema.
	ErrValidation = errors.New("anansi: validation failed")

	// ErrInvalidID is returned when an identity string is not well formed.
	ErrInvalidID = errors.New("anansi: invalid id")

	// ErrReservedFieldName is returned when a dynamic field uses a name owned by the store.
	ErrReservedFieldName = errors.New("anansi: reserved field name")

	// ErrNoneAvailable is returned when a claim finds no unconsumed record.
	ErrNoneAvailable = errors.New("anansi: no unconsumed record available")
)

// Issue represents a validation or operational issue.
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
	Severity string `json:"severity,omitempty"` // e.g., "error", "warning"
}

// ValidationError carries the issues that made a schema or record invalid.
// It unwraps to ErrInvalidDefinition or ErrValidation.
type ValidationError struct {
	Cause  error
	Issues []Issue
}

// NewValidationError builds a ValidationError. A nil cause defaults to ErrValidation.
func NewValidationError(cause error, issues []Issue) *ValidationError {
	if cause == nil {
		cause = ErrValidation
	}
	return &ValidationError{Cause: cause, Issues: issues}
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Cause.Error()
	}
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return fmt.Sprintf("%s: %s", e.Cause.Error(), strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Fields returns the distinct paths named by the issues, in order of appearance.
func (e *ValidationError) Fields() []string {
	seen := make(map[string]struct{}, len(e.Issues))
	var fields []string
	for _, issue := range e.Issues {
		if issue.Path == "" {
			continue
		}
		if _, ok := seen[issue.Path]; ok {
			continue
		}
		seen[issue.Path] = struct{}{}
		fields = append(fields, issue.Path)
	}
	return fields
}
