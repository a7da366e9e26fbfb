// Package linking provisions a gateway customer and payment method for an
// account and persists the resulting identifiers on the subscription
// record. It runs once per account, or again when the payment method
// changes.
package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rhaprace/gorenew/pkg/gateway"
	"github.com/rhaprace/gorenew/pkg/renew"
)

// ErrInvalidPhone is returned when the contact phone cannot be normalized.
// It aborts the flow before any gateway call, like any other permanent
// validation failure.
var ErrInvalidPhone = errors.New("invalid contact phone")

// Gateway is the subset of gateway operations the linker needs.
type Gateway interface {
	CreateCustomer(ctx context.Context, req gateway.CreateCustomerRequest) (*gateway.Customer, error)
	CreatePaymentMethod(ctx context.Context, req gateway.CreatePaymentMethodRequest) (*gateway.PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
}

// Config holds linker configuration.
type Config struct {
	Gateway Gateway
	Store   renew.Store

	// Retry wraps each gateway step individually, never the whole flow, so
	// a later step cannot redo an already-succeeded earlier one. Zero value
	// means the 5-attempt / 1s-base default.
	Retry renew.Policy

	// DefaultCountryCode rewrites national-format phone numbers, e.g. "63".
	DefaultCountryCode string

	// Amount and Currency are the configured renewal price recorded on the
	// subscription record at link time, in minor units.
	Amount   int64
	Currency string

	// Now supplies the clock for persisted timestamps. Default: time.Now.
	Now func() time.Time

	Logger  renew.Logger
	Metrics renew.Metrics
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	if c.Gateway == nil {
		return fmt.Errorf("gateway is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	return nil
}

// Request is the application-facing entry point payload.
type Request struct {
	AccountID string
	Name      string
	Phone     string
	Email     string

	// MethodKind is "card" or "wallet"; Card is required for cards.
	MethodKind renew.MethodKind
	Card       *gateway.CardDetails
}

// Result reports the identifiers obtained. Warning is set when the flow
// succeeded with a caveat (see the attach step).
type Result struct {
	GatewayCustomerID      string
	GatewayPaymentMethodID string
	Warning                string
}

// Linker orchestrates the multi-step gateway provisioning sequence.
type Linker struct {
	config Config
}

// New creates a Linker from config.
func New(config Config) (*Linker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = renew.LinkerPolicy(gateway.IsTransient)
	}
	if config.Retry.Classify == nil {
		config.Retry.Classify = gateway.IsTransient
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = &renew.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &renew.NoopMetrics{}
	}
	return &Linker{config: config}, nil
}

// Link provisions gateway resources for the account and persists the ids.
//
// Permanent errors from phone normalization, customer creation, or payment
// method creation abort immediately. The attach step is special: when its
// retries exhaust on transient failures the flow still returns success with
// a warning, because the gateway frequently completes the attachment
// server-side despite the timed-out response, and hard failure here would
// block an account that is actually linked.
func (l *Linker) Link(ctx context.Context, req Request) (*Result, error) {
	log := l.config.Logger

	phone, err := NormalizePhone(req.Phone, l.config.DefaultCountryCode)
	if err != nil {
		l.config.Metrics.RecordLinkAttempt("error")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}

	customerID, err := l.ensureCustomer(ctx, req, phone)
	if err != nil {
		l.config.Metrics.RecordLinkAttempt("error")
		return nil, err
	}

	method, err := renew.DoValue(ctx, l.config.Retry, func(ctx context.Context) (*gateway.PaymentMethod, error) {
		return l.config.Gateway.CreatePaymentMethod(ctx, gateway.CreatePaymentMethodRequest{
			Kind:         string(req.MethodKind),
			Card:         req.Card,
			BillingName:  req.Name,
			BillingPhone: phone,
			BillingEmail: req.Email,
		})
	})
	if err != nil {
		l.config.Metrics.RecordLinkAttempt("error")
		return nil, err
	}

	result := &Result{
		GatewayCustomerID:      customerID,
		GatewayPaymentMethodID: method.ID,
	}

	err = renew.Do(ctx, l.config.Retry, func(ctx context.Context) error {
		return l.config.Gateway.AttachPaymentMethod(ctx, customerID, method.ID)
	})
	switch {
	case err == nil:
	case gateway.IsTransient(err):
		// Retries exhausted on infrastructure failures. The attachment is
		// often accepted server-side despite the timed-out response, so the
		// flow proceeds with the ids already obtained and flags the
		// ambiguity for reconciliation.
		result.Warning = fmt.Sprintf("payment method attachment unconfirmed after retries: %v", err)
		log.Warn("attach payment method unconfirmed, proceeding with link",
			renew.Field{Key: "account_id", Value: req.AccountID},
			renew.Field{Key: "customer_id", Value: customerID},
			renew.Field{Key: "error", Value: err},
		)
	default:
		l.config.Metrics.RecordLinkAttempt("error")
		return nil, err
	}

	if err := l.persist(ctx, req, result); err != nil {
		l.config.Metrics.RecordLinkAttempt("error")
		return nil, err
	}

	if result.Warning != "" {
		l.config.Metrics.RecordLinkAttempt("warning")
	} else {
		l.config.Metrics.RecordLinkAttempt("success")
	}
	log.Info("account linked to gateway",
		renew.Field{Key: "account_id", Value: req.AccountID},
		renew.Field{Key: "customer_id", Value: customerID},
		renew.Field{Key: "payment_method_id", Value: method.ID},
	)
	return result, nil
}

// ensureCustomer creates the gateway customer, adopting the existing id
// when the gateway reports a duplicate.
func (l *Linker) ensureCustomer(ctx context.Context, req Request, phone string) (string, error) {
	customer, err := renew.DoValue(ctx, l.config.Retry, func(ctx context.Context) (*gateway.Customer, error) {
		return l.config.Gateway.CreateCustomer(ctx, gateway.CreateCustomerRequest{
			Name:  req.Name,
			Phone: phone,
			Email: req.Email,
		})
	})
	if err == nil {
		return customer.ID, nil
	}
	if ae, ok := gateway.AsAlreadyExists(err); ok && ae.ExistingID != "" {
		l.config.Logger.Debug("gateway customer already provisioned, reusing",
			renew.Field{Key: "account_id", Value: req.AccountID},
			renew.Field{Key: "customer_id", Value: ae.ExistingID},
		)
		return ae.ExistingID, nil
	}
	return "", err
}

func (l *Linker) persist(ctx context.Context, req Request, result *Result) error {
	now := l.config.Now()
	_, err := l.config.Store.UpdateRecord(ctx, req.AccountID, func(rec *renew.Record) error {
		rec.SetGatewayLink(result.GatewayCustomerID, result.GatewayPaymentMethodID,
			req.MethodKind, l.config.Amount, l.config.Currency, now)
		return nil
	})
	if errors.Is(err, renew.ErrRecordNotFound) {
		rec := renew.NewRecord(req.AccountID, now)
		rec.SetGatewayLink(result.GatewayCustomerID, result.GatewayPaymentMethodID,
			req.MethodKind, l.config.Amount, l.config.Currency, now)
		return l.config.Store.PutRecord(ctx, rec)
	}
	return err
}
