package donation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAlreadyResolved means a conditional update matched no pending row:
	// another writer resolved it first. Callers treat it as a no-op.
	ErrAlreadyResolved = errors.New("donation request already resolved")
	// ErrReferenceCollision is an insert that hit the reference_id unique index.
	ErrReferenceCollision = errors.New("reference id collision")
	// ErrExternalIDConflict is an update that hit the external_donation_id unique index.
	ErrExternalIDConflict = errors.New("external donation id already linked to another request")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrForbidden          = errors.New("forbidden")
)

type ValidationError struct {
	Details map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Details[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Details: map[string]string{field: msg}}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ReferenceGenerationError is returned after every reference attempt collided.
type ReferenceGenerationError struct {
	Attempts int
	Err      error
}

func (e *ReferenceGenerationError) Error() string {
	return fmt.Sprintf("could not mint a unique reference after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ReferenceGenerationError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
