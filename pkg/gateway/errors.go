package gateway

import (
	"errors"
	"fmt"
)

// TransientError marks a failure that is safe to retry: a transport error,
// a 5xx, or a 429 from the gateway.
type TransientError struct {
	Operation  string
	StatusCode int // 0 for transport-level failures
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: transient failure (status %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: transient failure: %v", e.Operation, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a definitive business-rule rejection (4xx), e.g. a
// malformed phone number or a declined card. Never retried.
type PermanentError struct {
	Operation  string
	StatusCode int
	Code       string
	Detail     string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("gateway %s: %s (%s, status %d)", e.Operation, e.Detail, e.Code, e.StatusCode)
}

// AlreadyExistsError reports a duplicate resource. The gateway includes the
// id of the existing resource in the error payload; callers treat this as
// success and recover that id.
type AlreadyExistsError struct {
	Operation  string
	ExistingID string
	Detail     string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("gateway %s: resource already exists (%s): %s", e.Operation, e.ExistingID, e.Detail)
}

// IsTransient reports whether err is retry-eligible. This is the classifier
// handed to the retry policy.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a definitive gateway rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// AsAlreadyExists extracts an AlreadyExistsError if err carries one.
func AsAlreadyExists(err error) (*AlreadyExistsError, bool) {
	var ae *AlreadyExistsError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
