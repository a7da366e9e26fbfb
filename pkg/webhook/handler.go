// Package webhook reconciles asynchronous payment outcomes delivered by the
// gateway with the durable subscription record. Delivery may be duplicated
// or arrive concurrently with a renewal sweep for the same account; every
// transition applied here is idempotent, so a replay converges to the same
// record.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rhaprace/gorenew/pkg/renew"
)

const (
	// HeaderSignature carries hex(HMAC-SHA256(secret, ts + "." + body)).
	HeaderSignature = "Gateway-Signature"
	// HeaderTimestamp is the sender's unix-seconds timestamp.
	HeaderTimestamp = "Gateway-Timestamp"
	// HeaderEventID is the gateway's delivery id, logged for tracing.
	HeaderEventID = "Gateway-Event-Id"

	// EventPaymentSucceeded confirms a completed charge.
	EventPaymentSucceeded = "payment.succeeded"
	// EventPaymentFailed reports a declined or abandoned charge.
	EventPaymentFailed = "payment.failed"

	defaultMaxBodyBytes = 256 * 1024
	defaultTolerance    = 5 * time.Minute
)

// Config holds webhook handler configuration.
type Config struct {
	Store    renew.Store
	Notifier renew.Notifier

	// Secret is the shared webhook secret used to verify authenticity.
	Secret string

	// BillingPeriod is how far a confirmed payment advances the end date;
	// it must match the renewal processor's period. Default: 30 days.
	BillingPeriod time.Duration

	// Tolerance bounds the accepted clock skew on the timestamp header.
	// Default: 5 minutes.
	Tolerance time.Duration

	// MaxBodyBytes caps the request body. Default: 256KB.
	MaxBodyBytes int64

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
	if c.Secret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	return nil
}

// Handler is the inbound webhook endpoint. Mount it at the path registered
// with the gateway.
type Handler struct {
	config Config
	secret []byte
}

// New creates a Handler from config.
func New(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Notifier == nil {
		config.Notifier = &renew.NoopNotifier{}
	}
	if config.BillingPeriod <= 0 {
		config.BillingPeriod = 30 * 24 * time.Hour
	}
	if config.Tolerance <= 0 {
		config.Tolerance = defaultTolerance
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.Logger == nil {
		config.Logger = &renew.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &renew.NoopMetrics{}
	}
	return &Handler{config: config, secret: []byte(config.Secret)}, nil
}

// eventPayload is the gateway's webhook body.
type eventPayload struct {
	Type string `json:"type"`
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Metadata struct {
				AccountID  string `json:"accountId"`
				CustomerID string `json:"customerId"`
			} `json:"metadata"`
		} `json:"attributes"`
	} `json:"data"`
}

// ServeHTTP implements http.Handler.
//
// 200 means the event was durably handled, including business no-ops, so
// the gateway's retry loop stops. 400 is reserved for protocol failures the
// sender caused (bad signature, stale timestamp); 500 for store outages
// where a redelivery can actually help.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		h.config.Metrics.RecordWebhookError("invalid_payload")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// Authenticity is settled before the body is parsed or the store is
	// touched.
	if code, reason := h.verify(r, body); code != 0 {
		h.config.Metrics.RecordWebhookError("auth_failed")
		h.config.Logger.Warn("webhook rejected",
			renew.Field{Key: "reason", Value: reason},
			renew.Field{Key: "event_id", Value: r.Header.Get(HeaderEventID)},
		)
		writeJSON(w, code, map[string]string{"error": reason})
		return
	}

	var event eventPayload
	if err := json.Unmarshal(body, &event); err != nil {
		h.config.Metrics.RecordWebhookError("invalid_payload")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event body"})
		return
	}

	eventType := event.Type
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := h.process(r.Context(), &event); err != nil {
		// Store outages are the one case where the gateway retrying the
		// delivery helps.
		h.config.Metrics.RecordWebhookEvent(eventType, "error")
		h.config.Metrics.RecordWebhookError("store_error")
		h.config.Metrics.RecordWebhookProcessingDuration(eventType, time.Since(start))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reconciliation failed"})
		return
	}

	h.config.Metrics.RecordWebhookEvent(eventType, "success")
	h.config.Metrics.RecordWebhookProcessingDuration(eventType, time.Since(start))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// readBody reads the raw payload under the size cap, without interpreting
// it.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("unreadable body")
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return body, nil
}

// verify checks the authenticity headers. Returns (0, "") when the request
// is genuine, otherwise the response code and reason.
func (h *Handler) verify(r *http.Request, body []byte) (int, string) {
	sig := r.Header.Get(HeaderSignature)
	ts := r.Header.Get(HeaderTimestamp)
	if sig == "" || ts == "" {
		return http.StatusBadRequest, "missing authenticity headers"
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return http.StatusBadRequest, "malformed timestamp"
	}
	now := h.config.Now
	if now == nil {
		now = time.Now
	}
	age := now().Sub(time.Unix(unix, 0))
	if age > h.config.Tolerance || age < -h.config.Tolerance {
		return http.StatusBadRequest, "timestamp outside tolerance"
	}

	if !verifySignature(h.secret, ts, body, sig) {
		return http.StatusBadRequest, "invalid signature"
	}
	return 0, ""
}

// process applies the event's business effect. Unknown event types are
// acknowledged and ignored for forward compatibility.
func (h *Handler) process(ctx context.Context, event *eventPayload) error {
	switch event.Type {
	case EventPaymentSucceeded:
		return h.handlePaymentSucceeded(ctx, event)
	case EventPaymentFailed:
		return h.handlePaymentFailed(ctx, event)
	default:
		h.config.Logger.Debug("ignoring webhook event type",
			renew.Field{Key: "type", Value: event.Type},
		)
		return nil
	}
}

// handlePaymentSucceeded applies the successful-payment transition. Safe to
// receive twice: re-applying to an already-active record only rewrites the
// dates with equivalent values.
func (h *Handler) handlePaymentSucceeded(ctx context.Context, event *eventPayload) error {
	rec, err := h.lookup(ctx, event)
	if err != nil {
		if errors.Is(err, renew.ErrRecordNotFound) {
			// Not a sender error: acknowledge so the gateway does not
			// retry-loop an event this engine can never apply.
			h.config.Logger.Warn("payment.succeeded for unknown customer",
				renew.Field{Key: "customer_id", Value: event.Data.Attributes.Metadata.CustomerID},
				renew.Field{Key: "intent_id", Value: event.Data.ID},
			)
			return nil
		}
		return err
	}

	now := h.config.Now
	if now == nil {
		now = time.Now
	}
	paidAt := now()
	updated, err := h.config.Store.UpdateRecord(ctx, rec.AccountID, func(r *renew.Record) error {
		r.MarkRenewed(paidAt, h.config.BillingPeriod, event.Data.ID, event.Data.Attributes.Amount)
		return nil
	})
	if err != nil {
		return err
	}

	if err := h.config.Notifier.SendRenewalSuccess(ctx, updated); err != nil {
		h.config.Logger.Warn("renewal success notification failed",
			renew.Field{Key: "account_id", Value: updated.AccountID},
			renew.Field{Key: "error", Value: err},
		)
	}
	return nil
}

// handlePaymentFailed notifies the account holder. A failed webhook alone
// never deactivates an active subscription; only the renewal sweep's expiry
// pass does that.
func (h *Handler) handlePaymentFailed(ctx context.Context, event *eventPayload) error {
	rec, err := h.lookup(ctx, event)
	if err != nil {
		if errors.Is(err, renew.ErrRecordNotFound) {
			h.config.Logger.Warn("payment.failed for unknown customer",
				renew.Field{Key: "customer_id", Value: event.Data.Attributes.Metadata.CustomerID},
			)
			return nil
		}
		return err
	}

	if err := h.config.Notifier.SendPaymentFailed(ctx, rec); err != nil {
		h.config.Logger.Warn("payment failed notification failed",
			renew.Field{Key: "account_id", Value: rec.AccountID},
			renew.Field{Key: "error", Value: err},
		)
	}
	return nil
}

// lookup maps the event back to an account: by gateway customer id first,
// then by the account id the gateway echoes back in metadata.
func (h *Handler) lookup(ctx context.Context, event *eventPayload) (*renew.Record, error) {
	meta := event.Data.Attributes.Metadata
	if meta.CustomerID != "" {
		rec, err := h.config.Store.GetRecordByCustomerID(ctx, meta.CustomerID)
		if err == nil || !errors.Is(err, renew.ErrRecordNotFound) {
			return rec, err
		}
	}
	if meta.AccountID != "" {
		return h.config.Store.GetRecord(ctx, meta.AccountID)
	}
	return nil, renew.ErrRecordNotFound
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
