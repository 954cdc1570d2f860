package remote

import (
	"errors"
	"fmt"

	"github.com/matheus3301/offsync/internal/conflict"
)

// ValidationError is a terminal rejection (4xx other than 409). Retrying
// the same request cannot succeed.
type ValidationError struct {
	Status  int
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rejected (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("rejected (%d): %s", e.Status, e.Message)
}

// ConflictError reports that the server copy changed since the version the
// request was based on. Remote is the current server version.
type ConflictError struct {
	Remote  conflict.Version
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s (remote v%d): %s", e.Remote.ID, e.Remote.Version, e.Message)
}

// TransientError is a failure worth retrying: timeouts, refused
// connections, 5xx and 429 responses.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient failure (%d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AsConflict extracts a ConflictError from err.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	ok := errors.As(err, &ce)
	return ce, ok
}

// IsValidation reports whether err is a terminal rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
