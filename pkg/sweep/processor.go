// Package sweep implements the periodic renewal pass: remind accounts that
// are expiring soon, charge accounts whose period has lapsed, and expire
// the ones that cannot be charged. It is invoked by an external scheduler
// and has no network-facing surface of its own.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhaprace/gorenew/pkg/gateway"
	"github.com/rhaprace/gorenew/pkg/renew"
)

// Outcome classifies what happened to one account during a sweep.
type Outcome string

const (
	// OutcomeReminded means an expiring-soon reminder was dispatched.
	OutcomeReminded Outcome = "reminded"
	// OutcomeRenewed means the charge succeeded and the period advanced.
	OutcomeRenewed Outcome = "renewed"
	// OutcomeDeferred means transient gateway trouble exhausted the retry
	// budget; the record is untouched and the next sweep will retry.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeFailed means the gateway declined the charge (or the store
	// write failed); the subscription stays active on its stale end date
	// until a later sweep.
	OutcomeFailed Outcome = "failed"
	// OutcomeExpired means the record had nothing chargeable (lapsed trial,
	// missing payment details) and was flipped to expired.
	OutcomeExpired Outcome = "expired"
)

// AccountResult is the per-account entry in the sweep summary.
type AccountResult struct {
	AccountID string  `json:"accountId"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`
}

// Summary is returned to the scheduler for observability.
type Summary struct {
	TotalProcessed int             `json:"totalProcessed"`
	Reminded       int             `json:"reminded"`
	Renewed        int             `json:"renewed"`
	Deferred       int             `json:"deferred"`
	Failed         int             `json:"failed"`
	Expired        int             `json:"expired"`
	Results        []AccountResult `json:"perAccountResults"`
}

// Gateway is the subset of gateway operations the processor needs.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req gateway.CreatePaymentIntentRequest) (*gateway.PaymentIntent, error)
	AttachPaymentIntent(ctx context.Context, req gateway.AttachPaymentIntentRequest) (*gateway.PaymentIntent, error)
}

// Config holds processor configuration.
type Config struct {
	Store    renew.Store
	Gateway  Gateway
	Notifier renew.Notifier

	// Retry wraps each gateway call. Zero value means the 3-attempt /
	// 2s-base default: a background job defers to the next sweep rather
	// than hang.
	Retry renew.Policy

	// BillingPeriod is how far a successful renewal advances the end date.
	// Default: 30 days.
	BillingPeriod time.Duration

	// ReminderWindow selects the expiring-soon set. Default: 3 days.
	ReminderWindow time.Duration

	// Concurrency bounds the per-account worker pool. Default: 4.
	Concurrency int

	// AccountTimeout caps one account's renewal attempt; a stuck account is
	// skipped and left for the next sweep, never hanging the batch.
	// Default: 45s.
	AccountTimeout time.Duration

	// Amount is the standard renewal price in minor units; PromoAmount is
	// charged while the record still has promotional months remaining.
	Amount      int64
	PromoAmount int64
	Currency    string

	Logger  renew.Logger
	Metrics renew.Metrics

	// Now is the clock, overridable in tests. Default: time.Now.
	Now func() time.Time
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Gateway == nil {
		return fmt.Errorf("gateway is required")
	}
	if c.Amount <= 0 {
		return fmt.Errorf("renewal amount must be positive")
	}
	if c.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	return nil
}

// Processor runs renewal sweeps.
type Processor struct {
	config Config
}

// New creates a Processor from config.
func New(config Config) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Notifier == nil {
		config.Notifier = &renew.NoopNotifier{}
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = renew.SweepPolicy(gateway.IsTransient)
	}
	if config.Retry.Classify == nil {
		config.Retry.Classify = gateway.IsTransient
	}
	if config.BillingPeriod <= 0 {
		config.BillingPeriod = 30 * 24 * time.Hour
	}
	if config.ReminderWindow <= 0 {
		config.ReminderWindow = 3 * 24 * time.Hour
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.AccountTimeout <= 0 {
		config.AccountTimeout = 45 * time.Second
	}
	if config.Logger == nil {
		config.Logger = &renew.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &renew.NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Processor{config: config}, nil
}

// Run executes one sweep. Accounts are processed independently: one
// account's failure or timeout never aborts the rest. The returned error is
// reserved for store-level failures of the selection queries themselves.
func (p *Processor) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	now := p.config.Now()
	summary := &Summary{}

	expiring, err := p.config.Store.ListExpiring(ctx, now, p.config.ReminderWindow)
	if err != nil {
		return nil, fmt.Errorf("select expiring records: %w", err)
	}
	for _, rec := range expiring {
		p.remind(ctx, rec, summary)
	}

	expired, err := p.config.Store.ListExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("select expired records: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)
	for _, rec := range expired {
		rec := rec
		g.Go(func() error {
			actx, cancel := context.WithTimeout(gctx, p.config.AccountTimeout)
			defer cancel()

			result := p.processExpired(actx, rec, now)

			mu.Lock()
			defer mu.Unlock()
			summary.add(result)
			p.config.Metrics.RecordSweepAccount(string(result.Outcome))
			return nil
		})
	}
	_ = g.Wait()

	p.config.Metrics.RecordSweepDuration(time.Since(start))
	p.config.Logger.Info("renewal sweep finished",
		renew.Field{Key: "total", Value: summary.TotalProcessed},
		renew.Field{Key: "reminded", Value: summary.Reminded},
		renew.Field{Key: "renewed", Value: summary.Renewed},
		renew.Field{Key: "deferred", Value: summary.Deferred},
		renew.Field{Key: "failed", Value: summary.Failed},
		renew.Field{Key: "expired", Value: summary.Expired},
		renew.Field{Key: "duration", Value: time.Since(start)},
	)
	return summary, nil
}

func (s *Summary) add(r AccountResult) {
	s.TotalProcessed++
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case OutcomeReminded:
		s.Reminded++
	case OutcomeRenewed:
		s.Renewed++
	case OutcomeDeferred:
		s.Deferred++
	case OutcomeFailed:
		s.Failed++
	case OutcomeExpired:
		s.Expired++
	}
}

// remind dispatches an expiring-soon notification. Best effort: a failed
// send is logged and nothing else happens, no charge is made yet.
func (p *Processor) remind(ctx context.Context, rec *renew.Record, summary *Summary) {
	if err := p.config.Notifier.SendRenewalReminder(ctx, rec); err != nil {
		p.config.Logger.Warn("renewal reminder failed",
			renew.Field{Key: "account_id", Value: rec.AccountID},
			renew.Field{Key: "error", Value: err},
		)
	}
	summary.add(AccountResult{AccountID: rec.AccountID, Outcome: OutcomeReminded})
	p.config.Metrics.RecordSweepAccount(string(OutcomeReminded))
}

// processExpired handles one lapsed account.
func (p *Processor) processExpired(ctx context.Context, rec *renew.Record, now time.Time) AccountResult {
	// Lapsed trials and records without usable payment details cannot be
	// charged; they expire.
	if rec.Status == renew.StatusFreeTrial || !rec.RenewalEligible() {
		return p.expire(ctx, rec, now)
	}

	amount := p.renewalAmount(rec)
	intent, err := p.charge(ctx, rec, amount)

	switch {
	case err == nil:
		return p.applyRenewal(ctx, rec, intent, amount)

	case gateway.IsTransient(err) || ctx.Err() != nil:
		// Infrastructure trouble or per-account deadline: leave the record
		// untouched and let the next sweep retry. No notification - a
		// condition that will likely self-heal must not alarm the user.
		p.config.Logger.Warn("renewal deferred to next sweep",
			renew.Field{Key: "account_id", Value: rec.AccountID},
			renew.Field{Key: "error", Value: err},
		)
		return AccountResult{AccountID: rec.AccountID, Outcome: OutcomeDeferred, Error: err.Error()}

	case gateway.IsPermanent(err):
		// Declined. The subscription stays active for a grace period: the
		// old end date is already in the past, so the next sweep re-selects
		// it. The user is told to update their payment method.
		if _, uerr := p.config.Store.UpdateRecord(ctx, rec.AccountID, func(r *renew.Record) error {
			r.MarkPaymentFailed(now)
			return nil
		}); uerr != nil {
			p.config.Logger.Error("record payment-failed update lost",
				renew.Field{Key: "account_id", Value: rec.AccountID},
				renew.Field{Key: "error", Value: uerr},
			)
		}
		p.notify(ctx, rec, p.config.Notifier.SendPaymentFailed, "payment failed")
		return AccountResult{AccountID: rec.AccountID, Outcome: OutcomeFailed, Error: err.Error()}

	default:
		return AccountResult{AccountID: rec.AccountID, Outcome: OutcomeFailed, Error: err.Error()}
	}
}

func (p *Processor) expire(ctx context.Context, rec *renew.Record, now time.Time) AccountResult {
	_, err := p.config.Store.UpdateRecord(ctx, rec.AccountID, func(r *renew.Record) error {
		r.MarkExpired(now)
		return nil
	})
	if err != nil {
		return AccountResult{AccountID: rec.AccountID, Outcome: OutcomeFailed, Error: err.Error()}
	}
	return AccountResult{AccountID: rec.AccountID, Outcome: OutcomeExpired}
}

// renewalAmount picks the promotional price while the record still has
// promo months remaining.
func (p *Processor) renewalAmount(rec *renew.Record) int64 {
	if rec.PromoMonthsRemaining > 0 && p.config.PromoAmount > 0 {
		return p.config.PromoAmount
	}
	return p.config.Amount
}

// charge creates and attaches a payment intent, each call under its own
// retry budget so an attach retry never creates a second intent.
func (p *Processor) charge(ctx context.Context, rec *renew.Record, amount int64) (*gateway.PaymentIntent, error) {
	intent, err := renew.DoValue(ctx, p.config.Retry, func(ctx context.Context) (*gateway.PaymentIntent, error) {
		return p.config.Gateway.CreatePaymentIntent(ctx, gateway.CreatePaymentIntentRequest{
			Amount:      amount,
			Currency:    p.config.Currency,
			CustomerID:  rec.Payment.GatewayCustomerID,
			Description: "subscription renewal",
		})
	})
	if err != nil {
		return nil, err
	}

	attached, err := renew.DoValue(ctx, p.config.Retry, func(ctx context.Context) (*gateway.PaymentIntent, error) {
		return p.config.Gateway.AttachPaymentIntent(ctx, gateway.AttachPaymentIntentRequest{
			IntentID:        intent.ID,
			PaymentMethodID: rec.Payment.GatewayPaymentMethodID,
		})
	})
	if err != nil {
		return nil, err
	}
	// Accepted-but-settling intents count as paid; a failed settlement is
	// reconciled later by the payment.failed webhook.
	if !attached.Succeeded() {
		return nil, &gateway.PermanentError{
			Operation: "attach_payment_intent",
			Code:      "payment_not_completed",
			Detail:    fmt.Sprintf("payment intent %s ended in status %q", attached.ID, attached.Status),
		}
	}
	return attached, nil
}

func (p *Processor) applyRenewal(ctx context.Context, rec *renew.Record, intent *gateway.PaymentIntent, amount int64) AccountResult {
	// Dates advance from the moment of success, not the old due date, so a
	// multi-day outage never compounds drift.
	paidAt := p.config.Now()
	updated, err := p.config.Store.UpdateRecord(ctx, rec.AccountID, func(r *renew.Record) error {
		r.MarkRenewed(paidAt, p.config.BillingPeriod, intent.ID, amount)
		if r.PromoMonthsRemaining > 0 {
			r.PromoMonthsRemaining--
		}
		return nil
	})
	if err != nil {
		// The charge went through but the record write did not; surfacing
		// the error makes the operator reconcile rather than double-charge.
		p.config.Logger.Error("renewal persisted at gateway but record write failed",
			renew.Field{Key: "account_id", Value: rec.AccountID},
			renew.Field{Key: "intent_id", Value: intent.ID},
			renew.Field{Key: "error", Value: err},
		)
		return AccountResult{AccountID: rec.AccountID, Outcome: OutcomeFailed, Error: err.Error()}
	}

	p.notify(ctx, updated, p.config.Notifier.SendRenewalSuccess, "renewal success")
	return AccountResult{AccountID: rec.AccountID, Outcome: OutcomeRenewed}
}

func (p *Processor) notify(ctx context.Context, rec *renew.Record, send func(context.Context, *renew.Record) error, kind string) {
	if err := send(ctx, rec); err != nil {
		p.config.Logger.Warn(kind+" notification failed",
			renew.Field{Key: "account_id", Value: rec.AccountID},
			renew.Field{Key: "error", Value: err},
		)
	}
}
