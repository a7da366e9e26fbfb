package renew

import "context"

// Notifier is the boundary to the email/notification dispatcher. Sends are
// fire-and-forget from the engine's point of view: a failed send is logged
// by the caller and never blocks or rolls back a state transition.
//
// The account holder only ever sees two billing outcomes - "renewed
// successfully" or "payment failed, update your method" - plus the
// expiring-soon reminder. Transient infrastructure trouble is deliberately
// invisible.
type Notifier interface {
	// SendRenewalReminder tells the account holder their subscription is
	// expiring soon.
	SendRenewalReminder(ctx context.Context, rec *Record) error

	// SendRenewalSuccess confirms a completed renewal payment.
	SendRenewalSuccess(ctx context.Context, rec *Record) error

	// SendPaymentFailed advises the account holder to update their payment
	// method after a declined charge.
	SendPaymentFailed(ctx context.Context, rec *Record) error
}

// NoopNotifier is a no-op implementation of the Notifier interface.
type NoopNotifier struct{}

func (n *NoopNotifier) SendRenewalReminder(ctx context.Context, rec *Record) error { return nil }
func (n *NoopNotifier) SendRenewalSuccess(ctx context.Context, rec *Record) error  { return nil }
func (n *NoopNotifier) SendPaymentFailed(ctx context.Context, rec *Record) error   { return nil }
