// Package handler holds the transport-independent request and response
// shapes for the renewal engine's HTTP surface, shared by the per-framework
// adapters in the subpackages.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rhaprace/gorenew/pkg/gateway"
	"github.com/rhaprace/gorenew/pkg/linking"
	"github.com/rhaprace/gorenew/pkg/renew"
	"github.com/rhaprace/gorenew/pkg/sweep"
)

// CardInput is the inbound card payload for account linking.
type CardInput struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
	CVC      string `json:"cvc"`
}

// LinkRequest is the inbound payload for POST /accounts/link.
type LinkRequest struct {
	AccountID  string     `json:"accountId"`
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	Email      string     `json:"email"`
	MethodKind string     `json:"methodKind"`
	Card       *CardInput `json:"card,omitempty"`
}

// LinkResponse reports the gateway identifiers obtained by a link flow.
type LinkResponse struct {
	GatewayCustomerID      string `json:"gatewayCustomerId"`
	GatewayPaymentMethodID string `json:"gatewayPaymentMethodId"`
	Warning                string `json:"warning,omitempty"`
}

// ErrorResponse is the JSON error body used across all adapters.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Service bundles the engine entry points an HTTP surface exposes.
type Service struct {
	Linker  *linking.Linker
	Sweeper *sweep.Processor

	// Webhook serves POST /webhooks/gateway. It is already an http.Handler;
	// non-stdlib adapters wrap it.
	Webhook http.Handler
}

// ValidationError marks a request rejected before any gateway call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Link validates and runs a link flow.
func (s *Service) Link(ctx context.Context, req LinkRequest) (*LinkResponse, error) {
	if req.AccountID == "" {
		return nil, &ValidationError{Message: "accountId is required"}
	}
	kind := renew.MethodKind(req.MethodKind)
	if kind != renew.MethodCard && kind != renew.MethodWallet {
		return nil, &ValidationError{Message: `methodKind must be "card" or "wallet"`}
	}
	if kind == renew.MethodCard && req.Card == nil {
		return nil, &ValidationError{Message: "card details are required for card method"}
	}

	var card *gateway.CardDetails
	if req.Card != nil {
		card = &gateway.CardDetails{
			Number:   req.Card.Number,
			ExpMonth: req.Card.ExpMonth,
			ExpYear:  req.Card.ExpYear,
			CVC:      req.Card.CVC,
		}
	}

	result, err := s.Linker.Link(ctx, linking.Request{
		AccountID:  req.AccountID,
		Name:       req.Name,
		Phone:      req.Phone,
		Email:      req.Email,
		MethodKind: kind,
		Card:       card,
	})
	if err != nil {
		return nil, err
	}
	return &LinkResponse{
		GatewayCustomerID:      result.GatewayCustomerID,
		GatewayPaymentMethodID: result.GatewayPaymentMethodID,
		Warning:                result.Warning,
	}, nil
}

// Sweep runs one renewal sweep.
func (s *Service) Sweep(ctx context.Context) (*sweep.Summary, error) {
	return s.Sweeper.Run(ctx)
}

// StatusFor maps a Link error to an HTTP status code. Validation problems
// and declined gateway operations are the caller's fault; transient gateway
// trouble maps to 502 so clients know to retry.
func StatusFor(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, linking.ErrInvalidPhone):
		return http.StatusBadRequest
	case gateway.IsPermanent(err):
		return http.StatusUnprocessableEntity
	case gateway.IsTransient(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
