package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks against the typed errors below.
var (
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("version conflict")
	ErrNotFound        = errors.New("not found")
	ErrExternalService = errors.New("external service error")
)

// ValidationError reports malformed input: a spec document without
// checklist items, a colliding task identity, or an undecodable branch.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError is returned when a write carries a stale version token.
// Expected is what the writer observed; Actual is what the store holds
// ("" when the key is absent).
type ConflictError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	switch {
	case e.Expected == "":
		return fmt.Sprintf("conflict on %q: create expected an absent key, found version %s", e.Key, short(e.Actual))
	case e.Actual == "":
		return fmt.Sprintf("conflict on %q: expected version %s, key is absent", e.Key, short(e.Expected))
	default:
		return fmt.Sprintf("conflict on %q: expected version %s, found %s", e.Key, short(e.Expected), short(e.Actual))
	}
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError reports an absent document or key.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ExternalServiceError wraps a failure from a collaborator such as the
// GitHub CLI or the git binary. Transient failures may be retried.
type ExternalServiceError struct {
	Service   string
	Op        string
	Transient bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Is matches ErrExternalService.
func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// IsTransient reports whether err is a retryable external service failure.
func IsTransient(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext) && ext.Transient
}

func short(version string) string {
	if len(version) > 12 {
		return version[:12]
	}
	if version == "" {
		return "<none>"
	}
	return version
}
