package renew

import "errors"

var (
	// ErrRecordNotFound is returned when no subscription record exists for
	// the given account or gateway customer id.
	ErrRecordNotFound = errors.New("subscription record not found")

	// ErrStoreUnavailable is returned (wrapped) when the persistent store is
	// unreachable. Store implementations never retry internally; callers
	// decide.
	ErrStoreUnavailable = errors.New("subscription store unavailable")

	// ErrInvalidStatus is returned for a status value outside the closed set.
	ErrInvalidStatus = errors.New("invalid subscription status")

	// ErrTrialUsed is returned when a trial activation is attempted for an
	// account that has ever had one.
	ErrTrialUsed = errors.New("free trial already used")

	// ErrNotEligible is returned when a renewal is attempted for a record
	// without complete payment details.
	ErrNotEligible = errors.New("record not eligible for renewal")

	// ErrConflict is returned by optimistic-concurrency backends when a
	// guarded update lost the race and was not applied.
	ErrConflict = errors.New("concurrent record modification")
)
