package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the service layer. Handlers map these onto
// HTTP statuses with errors.Is instead of matching message text.
var (
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden marks a valid credential scoped to a different resource.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict marks an operation invalid for the entity's current state,
	// such as completing an already-terminal run.
	ErrConflict = errors.New("conflict")
)

// ValidationError rejects a request before any write, naming the offending
// fields.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid fields: %s", strings.Join(e.Fields, ", "))
}

// Invalid builds a ValidationError for the given field names.
func Invalid(fields ...string) error {
	return &ValidationError{Fields: fields}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
