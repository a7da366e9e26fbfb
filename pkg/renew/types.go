package renew

import (
	"fmt"
	"time"
)

// Status is the subscription lifecycle state. It is a closed set; use
// ParseStatus when accepting external input so illegal states never reach
// the store.
type Status string

const (
	// StatusInactive is the state of a freshly created account, or one that
	// cancelled its subscription.
	StatusInactive Status = "inactive"
	// StatusPending means gateway linking is done but no payment has
	// completed yet.
	StatusPending Status = "pending"
	// StatusActive means the current paid or trial period has not lapsed.
	StatusActive Status = "active"
	// StatusExpired means the renewal sweep found the period lapsed and no
	// successful renewal happened.
	StatusExpired Status = "expired"
	// StatusFreeTrial means the account is inside its one-time trial window.
	StatusFreeTrial Status = "free_trial"
)

// Valid reports whether s is one of the five known states.
func (s Status) Valid() bool {
	switch s {
	case StatusInactive, StatusPending, StatusActive, StatusExpired, StatusFreeTrial:
		return true
	}
	return false
}

// ParseStatus converts a raw string into a Status, rejecting unknown values.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// MethodKind identifies the kind of payment instrument on file.
type MethodKind string

const (
	MethodCard   MethodKind = "card"
	MethodWallet MethodKind = "wallet"
)

// PaymentStatus tracks the outcome of the most recent charge attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentDetails is the gateway-facing sub-record of a subscription. Both
// gateway ids must be non-empty before the record is eligible for automatic
// renewal.
type PaymentDetails struct {
	GatewayCustomerID      string
	GatewayPaymentMethodID string
	GatewayPaymentIntentID string
	MethodKind             MethodKind
	// Amount is in minor currency units (e.g. centavos), never floats.
	Amount          int64
	Currency        string
	PaymentStatus   PaymentStatus
	LastPaymentDate *time.Time
	NextBillingDate *time.Time
}

// Record is the per-account subscription record. It is owned by the Store
// and mutated only through lifecycle methods so both writers (renewal sweep
// and webhook reconciler) produce consistent state.
type Record struct {
	AccountID string
	Status    Status

	TrialStartDate *time.Time
	TrialEndDate   *time.Time
	// TrialUsed stays true forever once a trial has been granted, so a trial
	// can never be re-activated.
	TrialUsed bool

	// SubscriptionEndDate marks when the current paid/trial period lapses.
	// Zero means no period has ever been granted.
	SubscriptionEndDate time.Time

	// PromoMonthsRemaining is a simple decrement counter; while positive the
	// sweep charges the promotional amount.
	PromoMonthsRemaining int

	Payment *PaymentDetails

	UpdatedAt time.Time
	// Version supports optimistic concurrency in backends that have no
	// native row locking. Backends that lock ignore it.
	Version int64
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing the Payment pointer.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.TrialStartDate = copyTime(r.TrialStartDate)
	cp.TrialEndDate = copyTime(r.TrialEndDate)
	if r.Payment != nil {
		p := *r.Payment
		p.LastPaymentDate = copyTime(r.Payment.LastPaymentDate)
		p.NextBillingDate = copyTime(r.Payment.NextBillingDate)
		cp.Payment = &p
	}
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
