package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrNetworkFailure    = errors.New("network failure")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAdmissionConflict = errors.New("admission conflict")
	ErrMalformedResponse = errors.New("malformed response")
	ErrEntryNotFound     = errors.New("entry not found")
)

// ValidationError is a field-level rejection reported by the record store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("validation rejected: %s", e.Field)
	}
	return fmt.Sprintf("validation rejected: %s: %s", e.Field, e.Message)
}

func ValidationRejected(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// RejectedField returns the offending field when err carries a ValidationError.
func RejectedField(err error) (string, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Field, true
	}
	return "", false
}
