package application

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/example/resource-scheduler/internal/entity"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidCredentials is returned for an unknown user or a wrong password.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrConflict is matched by every ConflictError.
	ErrConflict = errors.New("application: concurrent modification")
	// ErrReferenceNotFound is matched by every ReferenceNotFoundError.
	ErrReferenceNotFound = errors.New("application: reference not found")
	// ErrTransactionClosed is returned when a committed or aborted transaction is reused.
	ErrTransactionClosed = errors.New("application: transaction closed")
)

// ConflictError reports an entity that changed after the transaction read it.
type ConflictError struct {
	ID       entity.ID
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("application: %s changed concurrently (read version %d, stored version %d)", e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ReferenceNotFoundError reports a reference that would not resolve after the
// commit: From points at To, which is unknown or being removed.
type ReferenceNotFoundError struct {
	From entity.ID
	To   entity.ID
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("application: %s references missing %s", e.From, e.To)
}

func (e *ReferenceNotFoundError) Is(target error) bool { return target == ErrReferenceNotFound }

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v.FieldErrors))
	for _, field := range slices.Sorted(maps.Keys(v.FieldErrors)) {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// orNil keeps a nil *ValidationError from turning into a non-nil error.
func (v *ValidationError) orNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}
