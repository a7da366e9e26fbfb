package webhook_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhaprace/gorenew/pkg/renew"
	"github.com/rhaprace/gorenew/pkg/webhook"
	"github.com/rhaprace/gorenew/storage/memory"
)

const testSecret = "whsec_test"

var hookNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// countingStore wraps a store and counts every access, so tests can assert
// that rejected requests never touch persistence.
type countingStore struct {
	renew.Store
	accesses atomic.Int64
}

func (c *countingStore) GetRecord(ctx context.Context, accountID string) (*renew.Record, error) {
	c.accesses.Add(1)
	return c.Store.GetRecord(ctx, accountID)
}

func (c *countingStore) GetRecordByCustomerID(ctx context.Context, customerID string) (*renew.Record, error) {
	c.accesses.Add(1)
	return c.Store.GetRecordByCustomerID(ctx, customerID)
}

func (c *countingStore) PutRecord(ctx context.Context, rec *renew.Record) error {
	c.accesses.Add(1)
	return c.Store.PutRecord(ctx, rec)
}

func (c *countingStore) UpdateRecord(ctx context.Context, accountID string, mutate func(*renew.Record) error) (*renew.Record, error) {
	c.accesses.Add(1)
	return c.Store.UpdateRecord(ctx, accountID, mutate)
}

func newTestHandler(t *testing.T, store renew.Store) *webhook.Handler {
	t.Helper()
	h, err := webhook.New(webhook.Config{
		Store:  store,
		Secret: testSecret,
		Now:    func() time.Time { return hookNow },
	})
	if err != nil {
		t.Fatalf("create handler: %v", err)
	}
	return h
}

// seedLinked stores an active record linked to cus_1.
func seedLinked(t *testing.T, store renew.Store) {
	t.Helper()
	rec := renew.NewRecord("acct_1", hookNow.Add(-30*24*time.Hour))
	rec.SetGatewayLink("cus_1", "pm_1", renew.MethodCard, 49900, "PHP", rec.UpdatedAt)
	rec.MarkRenewed(hookNow.Add(-29*24*time.Hour), 30*24*time.Hour, "pi_old", 49900)
	if err := store.PutRecord(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func eventBody(eventType, intentID, customerID string) string {
	return fmt.Sprintf(`{
		"type": %q,
		"data": {
			"id": %q,
			"attributes": {
				"amount": 49900,
				"currency": "PHP",
				"metadata": {"customerId": %q}
			}
		}
	}`, eventType, intentID, customerID)
}

// signedRequest builds a POST with valid authenticity headers for body.
func signedRequest(body string) *http.Request {
	ts := strconv.FormatInt(hookNow.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))
	req.Header.Set(webhook.HeaderTimestamp, ts)
	req.Header.Set(webhook.HeaderSignature, webhook.ComputeSignature([]byte(testSecret), ts, []byte(body)))
	req.Header.Set(webhook.HeaderEventID, "evt_1")
	return req
}

func TestWebhookPaymentSucceeded(t *testing.T) {
	store := memory.New()
	seedLinked(t, store)
	h := newTestHandler(t, store)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(eventBody(webhook.EventPaymentSucceeded, "pi_new", "cus_1")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rec, err := store.GetRecord(context.Background(), "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != renew.StatusActive {
		t.Errorf("expected active, got %s", rec.Status)
	}
	wantEnd := hookNow.Add(30 * 24 * time.Hour)
	if !rec.SubscriptionEndDate.Equal(wantEnd) {
		t.Errorf("expected end %v, got %v", wantEnd, rec.SubscriptionEndDate)
	}
	if rec.Payment.GatewayPaymentIntentID != "pi_new" {
		t.Errorf("intent id not recorded: %+v", rec.Payment)
	}
}

func TestWebhookDuplicateDeliveryConverges(t *testing.T) {
	store := memory.New()
	seedLinked(t, store)
	h := newTestHandler(t, store)

	body := eventBody(webhook.EventPaymentSucceeded, "pi_new", "cus_1")
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, signedRequest(body))
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	rec, err := store.GetRecord(context.Background(), "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	wantEnd := hookNow.Add(30 * 24 * time.Hour)
	if !rec.SubscriptionEndDate.Equal(wantEnd) {
		t.Errorf("duplicate delivery drifted the end date: %v", rec.SubscriptionEndDate)
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	store := &countingStore{Store: memory.New()}
	h := newTestHandler(t, store)

	body := eventBody(webhook.EventPaymentSucceeded, "pi_new", "cus_1")
	req := signedRequest(body)
	req.Header.Set(webhook.HeaderSignature, "deadbeef")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := store.accesses.Load(); got != 0 {
		t.Errorf("rejected request must not touch the store, got %d accesses", got)
	}
}

func TestWebhookMissingHeaders(t *testing.T) {
	store := &countingStore{Store: memory.New()}
	h := newTestHandler(t, store)

	body := eventBody(webhook.EventPaymentSucceeded, "pi_new", "cus_1")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := store.accesses.Load(); got != 0 {
		t.Errorf("rejected request must not touch the store, got %d accesses", got)
	}
}

func TestWebhookStaleTimestamp(t *testing.T) {
	store := &countingStore{Store: memory.New()}
	h := newTestHandler(t, store)

	body := eventBody(webhook.EventPaymentSucceeded, "pi_new", "cus_1")
	stale := strconv.FormatInt(hookNow.Add(-10*time.Minute).Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))
	req.Header.Set(webhook.HeaderTimestamp, stale)
	req.Header.Set(webhook.HeaderSignature, webhook.ComputeSignature([]byte(testSecret), stale, []byte(body)))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := store.accesses.Load(); got != 0 {
		t.Errorf("rejected request must not touch the store, got %d accesses", got)
	}
}

func TestWebhookUnknownCustomerAcknowledged(t *testing.T) {
	store := memory.New()
	h := newTestHandler(t, store)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(eventBody(webhook.EventPaymentSucceeded, "pi_new", "cus_unknown")))

	// 200 so the gateway stops redelivering an event this engine can never
	// apply.
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookPaymentFailedKeepsStatus(t *testing.T) {
	store := memory.New()
	seedLinked(t, store)
	h := newTestHandler(t, store)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(eventBody(webhook.EventPaymentFailed, "pi_new", "cus_1")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rec, err := store.GetRecord(context.Background(), "acct_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != renew.StatusActive {
		t.Errorf("payment.failed alone must not deactivate, got %s", rec.Status)
	}
}

func TestWebhookUnknownEventTypeIgnored(t *testing.T) {
	store := memory.New()
	h := newTestHandler(t, store)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(eventBody("customer.updated", "obj_1", "cus_1")))

	if rr.Code != http.StatusOK {
		t.Fatalf("unknown event types are acknowledged, got %d", rr.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, memory.New())

	req := httptest.NewRequest(http.MethodGet, "/webhooks/gateway", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	h := newTestHandler(t, memory.New())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest("{not json"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

// failingStore simulates a store outage after verification.
type failingStore struct {
	renew.Store
}

func (f *failingStore) GetRecordByCustomerID(ctx context.Context, customerID string) (*renew.Record, error) {
	return nil, renew.ErrStoreUnavailable
}

func TestWebhookStoreOutageIsRetryable(t *testing.T) {
	h := newTestHandler(t, &failingStore{Store: memory.New()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(eventBody(webhook.EventPaymentSucceeded, "pi_new", "cus_1")))

	// 500 invites the gateway to redeliver once the store is back.
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
