package renew

import (
	"context"
	"time"
)

// Store defines the persistence contract for subscription records. All
// methods use concrete types from this package to avoid import cycles.
//
// The renewal sweep and the webhook reconciler are the only writers, and
// both mutate through UpdateRecord so backends can make the
// read-modify-write atomic (row lock, transaction, or version check).
//
// Implementations must index GatewayCustomerID for GetRecordByCustomerID
// and SubscriptionEndDate for the two range selections; without those
// indexes the sweep degrades to a full scan.
type Store interface {
	// GetRecord retrieves the record for an account.
	// Returns ErrRecordNotFound when none exists.
	GetRecord(ctx context.Context, accountID string) (*Record, error)

	// GetRecordByCustomerID retrieves the record linked to a gateway
	// customer id. Returns ErrRecordNotFound when none exists.
	GetRecordByCustomerID(ctx context.Context, customerID string) (*Record, error)

	// PutRecord creates or fully replaces a record.
	PutRecord(ctx context.Context, rec *Record) error

	// UpdateRecord applies mutate to the current record under whatever
	// atomicity the backend provides and persists the result. If mutate
	// returns an error nothing is written and that error is returned.
	// Returns the record as persisted.
	UpdateRecord(ctx context.Context, accountID string, mutate func(*Record) error) (*Record, error)

	// ListExpiring returns active records with complete payment details
	// whose end date falls in (now, now+window].
	ListExpiring(ctx context.Context, now time.Time, window time.Duration) ([]*Record, error)

	// ListExpired returns active and free-trial records whose end date is at
	// or before now.
	ListExpired(ctx context.Context, now time.Time) ([]*Record, error)
}
