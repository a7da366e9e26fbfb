//go:build integration

package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/rhaprace/gorenew/pkg/renew"
)

// setupTestStore connects to the Firestore emulator. Requires
// FIRESTORE_EMULATOR_HOST; skipped otherwise.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "gorenew-test")
	if err != nil {
		t.Skipf("Skipping test: failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store, err := New(client, Config{Collection: "subscription_records_test"})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	// Clear the test collection.
	docs, err := client.Collection("subscription_records_test").Documents(ctx).GetAll()
	if err != nil {
		t.Fatalf("list test collection: %v", err)
	}
	for _, doc := range docs {
		if _, err := doc.Ref.Delete(ctx); err != nil {
			t.Fatalf("clear test collection: %v", err)
		}
	}
	return store
}

var baseTime = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

func linkedRecord(accountID, customerID string) *renew.Record {
	rec := renew.NewRecord(accountID, baseTime)
	rec.SetGatewayLink(customerID, "pm_"+accountID, renew.MethodCard, 49900, "PHP", baseTime)
	return rec
}

func TestPutGetRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := linkedRecord("acct_1", "cus_1")
	rec.MarkRenewed(baseTime, 30*24*time.Hour, "pi_1", 49900)
	if err := store.PutRecord(ctx, rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	got, err := store.GetRecord(ctx, "acct_1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Status != renew.StatusActive {
		t.Errorf("expected active, got %s", got.Status)
	}
	if got.Payment == nil || got.Payment.GatewayCustomerID != "cus_1" {
		t.Errorf("payment details lost: %+v", got.Payment)
	}
	if !got.SubscriptionEndDate.Equal(rec.SubscriptionEndDate) {
		t.Errorf("end date drifted: want %v got %v", rec.SubscriptionEndDate, got.SubscriptionEndDate)
	}

	if _, err := store.GetRecord(ctx, "missing"); err != renew.ErrRecordNotFound {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestGetRecordByCustomerID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.PutRecord(ctx, linkedRecord("acct_1", "cus_1")); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRecordByCustomerID(ctx, "cus_1")
	if err != nil {
		t.Fatalf("GetRecordByCustomerID failed: %v", err)
	}
	if got.AccountID != "acct_1" {
		t.Errorf("expected acct_1, got %s", got.AccountID)
	}

	if _, err := store.GetRecordByCustomerID(ctx, "cus_unknown"); err != renew.ErrRecordNotFound {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestUpdateRecordTransactional(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.PutRecord(ctx, linkedRecord("acct_1", "cus_1")); err != nil {
		t.Fatal(err)
	}

	updated, err := store.UpdateRecord(ctx, "acct_1", func(r *renew.Record) error {
		r.MarkRenewed(baseTime, 30*24*time.Hour, "pi_1", 49900)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}
	if updated.Version != 1 {
		t.Errorf("expected version 1, got %d", updated.Version)
	}

	if _, err := store.UpdateRecord(ctx, "missing", func(r *renew.Record) error { return nil }); err != renew.ErrRecordNotFound {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestListSelections(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := baseTime

	expiring := linkedRecord("acct_expiring", "cus_expiring")
	expiring.MarkRenewed(now.Add(-28*24*time.Hour), 30*24*time.Hour, "pi_1", 49900)
	if err := store.PutRecord(ctx, expiring); err != nil {
		t.Fatal(err)
	}

	lapsed := linkedRecord("acct_lapsed", "cus_lapsed")
	lapsed.MarkRenewed(now.Add(-31*24*time.Hour), 30*24*time.Hour, "pi_2", 49900)
	if err := store.PutRecord(ctx, lapsed); err != nil {
		t.Fatal(err)
	}

	trial := renew.NewRecord("acct_trial", now.Add(-10*24*time.Hour))
	if err := trial.StartTrial(now.Add(-10*24*time.Hour), 7*24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := store.PutRecord(ctx, trial); err != nil {
		t.Fatal(err)
	}

	got, err := store.ListExpiring(ctx, now, 3*24*time.Hour)
	if err != nil {
		t.Fatalf("ListExpiring failed: %v", err)
	}
	if len(got) != 1 || got[0].AccountID != "acct_expiring" {
		t.Errorf("expected only acct_expiring, got %v", got)
	}

	expired, err := store.ListExpired(ctx, now)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	ids := make(map[string]bool, len(expired))
	for _, rec := range expired {
		ids[rec.AccountID] = true
	}
	if !ids["acct_lapsed"] || !ids["acct_trial"] || len(ids) != 2 {
		t.Errorf("expected lapsed account and trial, got %v", ids)
	}
}
