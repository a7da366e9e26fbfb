package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rhaprace/gorenew/pkg/gateway"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*gateway.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gateway.New(gateway.Config{
		BaseURL:   server.URL,
		SecretKey: "sk_test",
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client, server
}

func dataResponse(id string, attrs map[string]interface{}) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"data": map[string]interface{}{"id": id, "attributes": attrs},
	})
	return string(payload)
}

func errorResponse(code, detail, resourceID string) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"errors": []map[string]interface{}{{
			"code":   code,
			"detail": detail,
			"meta":   map[string]string{"resource_id": resourceID},
		}},
	})
	return string(payload)
}

func TestCreateCustomer(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, dataResponse("cus_1", map[string]interface{}{
			"name": "Juan", "phone": "+639171234567",
		}))
	})

	customer, err := client.CreateCustomer(context.Background(), gateway.CreateCustomerRequest{
		Name: "Juan", Phone: "+639171234567",
	})
	if err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	if customer.ID != "cus_1" {
		t.Errorf("expected cus_1, got %s", customer.ID)
	}
	if gotPath != "/customers" {
		t.Errorf("expected /customers, got %s", gotPath)
	}
	// Basic auth, secret key as username with empty password.
	if gotAuth != "Basic c2tfdGVzdDo=" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
	data, _ := gotBody["data"].(map[string]interface{})
	attrs, _ := data["attributes"].(map[string]interface{})
	if attrs["phone"] != "+639171234567" {
		t.Errorf("request body missing phone: %v", gotBody)
	}
}

func TestCreateCustomerDuplicate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, errorResponse("resource_exists", "phone already registered", "cus_existing"))
	})

	_, err := client.CreateCustomer(context.Background(), gateway.CreateCustomerRequest{Name: "Juan", Phone: "+639171234567"})
	ae, ok := gateway.AsAlreadyExists(err)
	if !ok {
		t.Fatalf("expected AlreadyExistsError, got %v", err)
	}
	if ae.ExistingID != "cus_existing" {
		t.Errorf("expected the existing id, got %q", ae.ExistingID)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	for _, status := range []int{500, 502, 503, 429} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})
			_, err := client.CreatePaymentIntent(context.Background(), gateway.CreatePaymentIntentRequest{
				Amount: 49900, Currency: "PHP", CustomerID: "cus_1",
			})
			if !gateway.IsTransient(err) {
				t.Errorf("status %d must be transient, got %v", status, err)
			}
			if gateway.IsPermanent(err) {
				t.Errorf("status %d misclassified as permanent", status)
			}
		})
	}
}

func TestClientErrorIsPermanent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, errorResponse("invalid_card", "card number check failed", ""))
	})

	_, err := client.CreatePaymentMethod(context.Background(), gateway.CreatePaymentMethodRequest{
		Kind: "card",
		Card: &gateway.CardDetails{Number: "4", ExpMonth: 1, ExpYear: 2030, CVC: "000"},
	})
	if !gateway.IsPermanent(err) {
		t.Fatalf("expected a permanent error, got %v", err)
	}
	var perm *gateway.PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected *PermanentError, got %T", err)
	}
	if perm.Code != "invalid_card" {
		t.Errorf("expected code invalid_card, got %s", perm.Code)
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.CreateCustomer(context.Background(), gateway.CreateCustomerRequest{Name: "x", Phone: "+1"})
	if !gateway.IsTransient(err) {
		t.Fatalf("connection refused must be transient, got %v", err)
	}
}

func TestContextCancellationIsNotTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.CreateCustomer(ctx, gateway.CreateCustomerRequest{Name: "x", Phone: "+1"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if gateway.IsTransient(err) {
		t.Errorf("context expiry must not be retried as transient, got %v", err)
	}
}

func TestAttachPaymentIntent(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, dataResponse("pi_1", map[string]interface{}{
			"status": "succeeded", "amount": float64(49900), "currency": "PHP",
		}))
	})

	intent, err := client.AttachPaymentIntent(context.Background(), gateway.AttachPaymentIntentRequest{
		IntentID: "pi_1", PaymentMethodID: "pm_1",
	})
	if err != nil {
		t.Fatalf("AttachPaymentIntent failed: %v", err)
	}
	if gotPath != "/payment_intents/pi_1/attach" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if !intent.Succeeded() {
		t.Errorf("expected a succeeded intent, got %+v", intent)
	}
	if intent.Amount != 49900 {
		t.Errorf("expected amount 49900, got %d", intent.Amount)
	}
}

func TestQueryPaymentIntentStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		fmt.Fprint(w, dataResponse("pi_1", map[string]interface{}{"status": "processing"}))
	})

	intent, err := client.QueryPaymentIntentStatus(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("QueryPaymentIntentStatus failed: %v", err)
	}
	if intent.Status != "processing" {
		t.Errorf("expected processing, got %s", intent.Status)
	}
	// Processing counts as success for renewal purposes.
	if !intent.Succeeded() {
		t.Error("processing intent must count as succeeded")
	}
}

func TestQuerySourceStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dataResponse("src_1", map[string]interface{}{"status": "chargeable"}))
	})

	src, err := client.QuerySourceStatus(context.Background(), "src_1")
	if err != nil {
		t.Fatalf("QuerySourceStatus failed: %v", err)
	}
	if src.Status != "chargeable" {
		t.Errorf("expected chargeable, got %s", src.Status)
	}
}
