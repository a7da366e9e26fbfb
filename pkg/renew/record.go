package renew

import "time"

// NewRecord creates the initial record for a freshly registered account.
func NewRecord(accountID string, now time.Time) *Record {
	return &Record{
		AccountID: accountID,
		Status:    StatusInactive,
		UpdatedAt: now.UTC(),
	}
}

// StartTrial activates the one-time free trial. The trial flag is permanent:
// once set, a second activation fails with ErrTrialUsed even after the trial
// expired or the account cancelled.
func (r *Record) StartTrial(now time.Time, length time.Duration) error {
	if r.TrialUsed {
		return ErrTrialUsed
	}
	now = now.UTC()
	end := now.Add(length)
	r.Status = StatusFreeTrial
	r.TrialStartDate = &now
	r.TrialEndDate = &end
	r.TrialUsed = true
	r.SubscriptionEndDate = end
	r.UpdatedAt = now
	return nil
}

// RenewalEligible reports whether the record carries everything the sweep
// needs to charge it: payment details with both gateway ids present.
func (r *Record) RenewalEligible() bool {
	return r.Payment != nil &&
		r.Payment.GatewayCustomerID != "" &&
		r.Payment.GatewayPaymentMethodID != ""
}

// MarkRenewed applies a successful payment: the record becomes active and
// the billing dates advance one period from now, not from the old due date,
// so an outage never compounds drift. Safe to re-apply for the same payment:
// a duplicate webhook recomputes the same dates and the record converges.
func (r *Record) MarkRenewed(now time.Time, period time.Duration, intentID string, amount int64) {
	now = now.UTC()
	next := now.Add(period)
	r.Status = StatusActive
	r.SubscriptionEndDate = next
	if r.Payment == nil {
		r.Payment = &PaymentDetails{}
	}
	if intentID != "" {
		r.Payment.GatewayPaymentIntentID = intentID
	}
	if amount > 0 {
		r.Payment.Amount = amount
	}
	r.Payment.PaymentStatus = PaymentCompleted
	r.Payment.LastPaymentDate = &now
	r.Payment.NextBillingDate = &next
	r.UpdatedAt = now
}

// MarkExpired flips the record to expired. Only the renewal sweep calls
// this; a failed webhook never does.
func (r *Record) MarkExpired(now time.Time) {
	r.Status = StatusExpired
	r.UpdatedAt = now.UTC()
}

// MarkPaymentFailed records a declined charge without touching the
// subscription status; the stale SubscriptionEndDate keeps the account in
// the next sweep's expired set (the grace period).
func (r *Record) MarkPaymentFailed(now time.Time) {
	if r.Payment != nil {
		r.Payment.PaymentStatus = PaymentFailed
	}
	r.UpdatedAt = now.UTC()
}

// Cancel deactivates the subscription, clearing billing dates. Payment
// history (LastPaymentDate, gateway ids) is kept for reconciliation.
func (r *Record) Cancel(now time.Time) {
	r.Status = StatusInactive
	r.SubscriptionEndDate = time.Time{}
	if r.Payment != nil {
		r.Payment.NextBillingDate = nil
		r.Payment.GatewayPaymentIntentID = ""
	}
	r.UpdatedAt = now.UTC()
}

// SetGatewayLink persists the identifiers obtained by the linking flow.
// Amount and currency are the configured renewal price for this account. An
// inactive record moves to pending; a trial or active record keeps its
// state, since linking alone is not a payment.
func (r *Record) SetGatewayLink(customerID, paymentMethodID string, kind MethodKind, amount int64, currency string, now time.Time) {
	if r.Payment == nil {
		r.Payment = &PaymentDetails{PaymentStatus: PaymentPending}
	}
	if r.Status == StatusInactive {
		r.Status = StatusPending
	}
	r.Payment.GatewayCustomerID = customerID
	r.Payment.GatewayPaymentMethodID = paymentMethodID
	r.Payment.MethodKind = kind
	r.Payment.Amount = amount
	r.Payment.Currency = currency
	r.UpdatedAt = now.UTC()
}
