// Package smtp provides an SMTP implementation of the renew.Notifier
// interface, built on gomail.
package smtp

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/rhaprace/gorenew/pkg/renew"
)

// AddressResolver maps an account id to the holder's email address. Return
// renew.ErrRecordNotFound when no address is on file; the send is skipped
// without error.
type AddressResolver func(ctx context.Context, accountID string) (string, error)

// Config holds SMTP notifier configuration.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// From is the sender address, e.g. "billing@example.com".
	From string

	// ProductName appears in subjects and bodies. Default: "your subscription".
	ProductName string

	// Resolve maps account ids to recipient addresses. Required.
	Resolve AddressResolver
}

// Notifier implements renew.Notifier by sending templated plain-text emails
// over SMTP.
type Notifier struct {
	dialer  *gomail.Dialer
	from    string
	product string
	resolve AddressResolver
}

// New creates a new SMTP notifier.
func New(config Config) (*Notifier, error) {
	if config.Host == "" || config.Port == 0 {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if config.From == "" {
		return nil, fmt.Errorf("from address is required")
	}
	if config.Resolve == nil {
		return nil, fmt.Errorf("address resolver is required")
	}
	if config.ProductName == "" {
		config.ProductName = "your subscription"
	}
	return &Notifier{
		dialer:  gomail.NewDialer(config.Host, config.Port, config.Username, config.Password),
		from:    config.From,
		product: config.ProductName,
		resolve: config.Resolve,
	}, nil
}

// SendRenewalReminder implements renew.Notifier.
func (n *Notifier) SendRenewalReminder(ctx context.Context, rec *renew.Record) error {
	subject := fmt.Sprintf("Reminder: %s renews soon", n.product)
	body := fmt.Sprintf(
		"Your subscription is due for renewal on %s.\r\n\r\n"+
			"No action is needed if your payment method is up to date.\r\n",
		rec.SubscriptionEndDate.Format("January 2, 2006"))
	return n.send(ctx, rec.AccountID, subject, body)
}

// SendRenewalSuccess implements renew.Notifier.
func (n *Notifier) SendRenewalSuccess(ctx context.Context, rec *renew.Record) error {
	subject := fmt.Sprintf("Payment received for %s", n.product)
	body := fmt.Sprintf(
		"Your renewal payment went through. Your subscription is active until %s.\r\n",
		rec.SubscriptionEndDate.Format("January 2, 2006"))
	if p := rec.Payment; p != nil && p.Amount > 0 {
		body = fmt.Sprintf("Amount charged: %s %.2f.\r\n\r\n", p.Currency, float64(p.Amount)/100) + body
	}
	return n.send(ctx, rec.AccountID, subject, body)
}

// SendPaymentFailed implements renew.Notifier.
func (n *Notifier) SendPaymentFailed(ctx context.Context, rec *renew.Record) error {
	subject := fmt.Sprintf("Action needed: payment for %s failed", n.product)
	body := "We could not charge your payment method for the latest renewal.\r\n\r\n" +
		"Please update your payment details to keep your subscription active.\r\n"
	return n.send(ctx, rec.AccountID, subject, body)
}

func (n *Notifier) send(ctx context.Context, accountID, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to, err := n.resolve(ctx, accountID)
	if err != nil {
		if err == renew.ErrRecordNotFound {
			return nil
		}
		return fmt.Errorf("resolve address for %s: %w", accountID, err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", n.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetHeader("Date", time.Now().Format(time.RFC1123Z))
	msg.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send %q to %s: %w", subject, to, err)
	}
	return nil
}

var _ renew.Notifier = (*Notifier)(nil)
