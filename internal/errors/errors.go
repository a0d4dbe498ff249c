package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrInvalidInput - malformed record, key or request payload (reject, do not retry)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - case, category or record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict - concurrent modification of the same resource (retry)
	ErrConflict = errors.New("conflict")

	// ErrPermissionDenied - mailbox or SMTP credentials rejected
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTransient - network, timeout or rate limit failure (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrInvalidModelOutput - classification model returned malformed structured output
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrInvalidTransition - case event is not defined for the current state
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDuplicateCategory - reason category id already present in the catalog
	ErrDuplicateCategory = errors.New("duplicate category")

	// ErrInternal - unexpected failure
	ErrInternal = errors.New("internal error")
)

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
