// Package gateway provides a typed HTTP client for the external payment
// gateway (customer, payment method, payment intent, and source resources).
// The client holds no state beyond its configuration; every call is a
// single outbound request with the outcome mapped onto the transient /
// permanent / already-exists error taxonomy.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rhaprace/gorenew/pkg/renew"
)

const (
	defaultHTTPTimeout = 10 * time.Second

	opCreateCustomer      = "create_customer"
	opCreatePaymentMethod = "create_payment_method"
	opAttachPaymentMethod = "attach_payment_method"
	opCreatePaymentIntent = "create_payment_intent"
	opAttachPaymentIntent = "attach_payment_intent"
	opQueryPaymentIntent  = "query_payment_intent"
	opQuerySource         = "query_source"

	codeResourceExists = "resource_exists"
)

// Config holds gateway client configuration.
type Config struct {
	// BaseURL is the gateway API root, e.g. "https://api.gateway.example/v1".
	BaseURL string

	// SecretKey authenticates outbound calls (HTTP basic, key as username).
	SecretKey string

	// HTTPClient is an optional HTTP client. If nil, a default client with
	// a 10s timeout is used. Allows custom timeouts, proxies, or
	// instrumentation.
	HTTPClient *http.Client

	// Logger is optional; nil means no logging.
	Logger renew.Logger

	// Metrics is optional; nil means metrics are silently ignored.
	Metrics renew.Metrics
}

// Client is a typed payment gateway client.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
	logger     renew.Logger
	metrics    renew.Metrics
}

// New creates a gateway client from config.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("gateway secret key is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = &renew.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &renew.NoopMetrics{}
	}

	return &Client{
		baseURL:    config.BaseURL,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(config.SecretKey+":")),
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// envelope is the gateway's JSON:API-style wire format.
type envelope struct {
	Data struct {
		ID         string                 `json:"id"`
		Attributes map[string]interface{} `json:"attributes"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

type apiError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Meta   struct {
		ResourceID string `json:"resource_id"`
	} `json:"meta"`
}

// CreateCustomer provisions a gateway customer. A duplicate (same email or
// phone already provisioned) surfaces as *AlreadyExistsError carrying the
// existing customer id.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	body := map[string]interface{}{
		"name":  req.Name,
		"phone": req.Phone,
	}
	if req.Email != "" {
		body["email"] = req.Email
	}

	env, err := c.do(ctx, opCreateCustomer, http.MethodPost, "/customers", body)
	if err != nil {
		return nil, err
	}
	return &Customer{
		ID:    env.Data.ID,
		Name:  stringAttr(env, "name"),
		Phone: stringAttr(env, "phone"),
		Email: stringAttr(env, "email"),
	}, nil
}

// CreatePaymentMethod creates a payment instrument with billing details.
func (c *Client) CreatePaymentMethod(ctx context.Context, req CreatePaymentMethodRequest) (*PaymentMethod, error) {
	attrs := map[string]interface{}{
		"type": req.Kind,
		"billing": map[string]interface{}{
			"name":  req.BillingName,
			"phone": req.BillingPhone,
			"email": req.BillingEmail,
		},
	}
	if req.Card != nil {
		attrs["details"] = map[string]interface{}{
			"card_number": req.Card.Number,
			"exp_month":   req.Card.ExpMonth,
			"exp_year":    req.Card.ExpYear,
			"cvc":         req.Card.CVC,
		}
	}

	env, err := c.do(ctx, opCreatePaymentMethod, http.MethodPost, "/payment_methods", attrs)
	if err != nil {
		return nil, err
	}
	return &PaymentMethod{ID: env.Data.ID, Kind: stringAttr(env, "type")}, nil
}

// AttachPaymentMethod binds a payment method to a customer. In practice
// this is the call most prone to transient 500s; callers decide how to
// treat retry exhaustion.
func (c *Client) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	path := fmt.Sprintf("/customers/%s/payment_methods", customerID)
	_, err := c.do(ctx, opAttachPaymentMethod, http.MethodPost, path, map[string]interface{}{
		"payment_method_id": paymentMethodID,
	})
	return err
}

// CreatePaymentIntent starts a charge for the given amount in minor
// currency units.
func (c *Client) CreatePaymentIntent(ctx context.Context, req CreatePaymentIntentRequest) (*PaymentIntent, error) {
	env, err := c.do(ctx, opCreatePaymentIntent, http.MethodPost, "/payment_intents", map[string]interface{}{
		"amount":      req.Amount,
		"currency":    req.Currency,
		"customer_id": req.CustomerID,
		"description": req.Description,
	})
	if err != nil {
		return nil, err
	}
	return intentFromEnvelope(env), nil
}

// AttachPaymentIntent binds the payment method to the intent, triggering
// the actual charge.
func (c *Client) AttachPaymentIntent(ctx context.Context, req AttachPaymentIntentRequest) (*PaymentIntent, error) {
	path := fmt.Sprintf("/payment_intents/%s/attach", req.IntentID)
	env, err := c.do(ctx, opAttachPaymentIntent, http.MethodPost, path, map[string]interface{}{
		"payment_method_id": req.PaymentMethodID,
	})
	if err != nil {
		return nil, err
	}
	return intentFromEnvelope(env), nil
}

// QueryPaymentIntentStatus fetches the current state of an intent.
func (c *Client) QueryPaymentIntentStatus(ctx context.Context, intentID string) (*PaymentIntent, error) {
	env, err := c.do(ctx, opQueryPaymentIntent, http.MethodGet, "/payment_intents/"+intentID, nil)
	if err != nil {
		return nil, err
	}
	return intentFromEnvelope(env), nil
}

// QuerySourceStatus fetches the current state of a wallet source.
func (c *Client) QuerySourceStatus(ctx context.Context, sourceID string) (*SourceStatus, error) {
	env, err := c.do(ctx, opQuerySource, http.MethodGet, "/sources/"+sourceID, nil)
	if err != nil {
		return nil, err
	}
	return &SourceStatus{ID: env.Data.ID, Status: stringAttr(env, "status")}, nil
}

func intentFromEnvelope(env *envelope) *PaymentIntent {
	return &PaymentIntent{
		ID:       env.Data.ID,
		Status:   stringAttr(env, "status"),
		Amount:   int64Attr(env, "amount"),
		Currency: stringAttr(env, "currency"),
	}
}

// do executes one gateway request and maps the outcome onto the error
// taxonomy.
func (c *Client) do(ctx context.Context, op, method, path string, attrs map[string]interface{}) (*envelope, error) {
	start := time.Now()

	var reqBody io.Reader = http.NoBody
	if attrs != nil {
		payload, err := json.Marshal(map[string]interface{}{
			"data": map[string]interface{}{"attributes": attrs},
		})
		if err != nil {
			return nil, fmt.Errorf("gateway %s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	if attrs != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordGatewayCall(op, "transport_error")
		c.metrics.RecordGatewayCallDuration(op, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransientError{Operation: op, Err: err}
	}
	defer res.Body.Close()

	c.metrics.RecordGatewayCall(op, strconv.Itoa(res.StatusCode))
	c.metrics.RecordGatewayCallDuration(op, time.Since(start))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &TransientError{Operation: op, StatusCode: res.StatusCode, Err: err}
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("gateway %s: decode response: %w", op, err)
		}
		return &env, nil
	}

	return nil, c.mapError(op, res.StatusCode, body)
}

func (c *Client) mapError(op string, status int, body []byte) error {
	// 5xx and 429 are infrastructure trouble; safe to retry.
	if status >= 500 || status == http.StatusTooManyRequests {
		c.logger.Warn("gateway transient failure",
			renew.Field{Key: "operation", Value: op},
			renew.Field{Key: "status", Value: status},
		)
		return &TransientError{
			Operation:  op,
			StatusCode: status,
			Err:        fmt.Errorf("gateway returned status %d", status),
		}
	}

	var env envelope
	_ = json.Unmarshal(body, &env)

	code, detail := "unknown", string(body)
	var resourceID string
	if len(env.Errors) > 0 {
		code = env.Errors[0].Code
		detail = env.Errors[0].Detail
		resourceID = env.Errors[0].Meta.ResourceID
	}

	// Duplicate resources are recoverable: the payload names the existing
	// id so the caller can adopt it.
	if status == http.StatusConflict || code == codeResourceExists {
		return &AlreadyExistsError{Operation: op, ExistingID: resourceID, Detail: detail}
	}

	return &PermanentError{Operation: op, StatusCode: status, Code: code, Detail: detail}
}

func stringAttr(env *envelope, key string) string {
	if env.Data.Attributes == nil {
		return ""
	}
	if v, ok := env.Data.Attributes[key].(string); ok {
		return v
	}
	return ""
}

func int64Attr(env *envelope, key string) int64 {
	if env.Data.Attributes == nil {
		return 0
	}
	switch v := env.Data.Attributes[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
