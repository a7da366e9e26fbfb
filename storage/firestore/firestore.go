// Package firestore provides a Firestore implementation of the renew.Store
// interface. Guarded updates run inside a Firestore transaction, so the
// renewal sweep and the webhook reconciler serialize on the document.
//
// The range selections need single-field indexes on subscriptionEndDate and
// on payment.gatewayCustomerId; ListExpiring additionally needs the
// composite index (status ASC, subscriptionEndDate ASC), which the console
// link in the returned error will offer to create on first use.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rhaprace/gorenew/pkg/renew"
)

// Config holds Firestore store configuration.
type Config struct {
	// Collection is the Firestore collection for subscription records.
	// Default: "subscription_records"
	Collection string
}

// Store implements renew.Store using Google Cloud Firestore.
type Store struct {
	client     *firestore.Client
	collection string
}

// New creates a new Firestore store adapter.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.Collection == "" {
		config.Collection = "subscription_records"
	}
	return &Store{client: client, collection: config.Collection}, nil
}

func (s *Store) doc(accountID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(accountID)
}

// GetRecord implements renew.Store.
func (s *Store) GetRecord(ctx context.Context, accountID string) (*renew.Record, error) {
	snap, err := s.doc(accountID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, renew.ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	if !snap.Exists() {
		return nil, renew.ErrRecordNotFound
	}
	return recordFromData(snap.Ref.ID, snap.Data())
}

// GetRecordByCustomerID implements renew.Store.
func (s *Store) GetRecordByCustomerID(ctx context.Context, customerID string) (*renew.Record, error) {
	iter := s.client.Collection(s.collection).
		Where("payment.gatewayCustomerId", "==", customerID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, renew.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return recordFromData(snap.Ref.ID, snap.Data())
}

// PutRecord implements renew.Store.
func (s *Store) PutRecord(ctx context.Context, rec *renew.Record) error {
	if rec == nil || rec.AccountID == "" {
		return fmt.Errorf("invalid record")
	}
	if !rec.Status.Valid() {
		return renew.ErrInvalidStatus
	}
	if _, err := s.doc(rec.AccountID).Set(ctx, recordToData(rec)); err != nil {
		return fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return nil
}

// UpdateRecord implements renew.Store. Firestore transactions retry on
// contention, so concurrent writers of the same document serialize.
func (s *Store) UpdateRecord(ctx context.Context, accountID string, mutate func(*renew.Record) error) (*renew.Record, error) {
	var updated *renew.Record
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.doc(accountID))
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return renew.ErrRecordNotFound
			}
			return err
		}
		if !snap.Exists() {
			return renew.ErrRecordNotFound
		}

		rec, err := recordFromData(snap.Ref.ID, snap.Data())
		if err != nil {
			return err
		}
		if err := mutate(rec); err != nil {
			return err
		}
		if !rec.Status.Valid() {
			return renew.ErrInvalidStatus
		}
		rec.Version++
		updated = rec
		return tx.Set(s.doc(accountID), recordToData(rec))
	})
	if err != nil {
		switch err {
		case renew.ErrRecordNotFound, renew.ErrInvalidStatus:
			return nil, err
		}
		if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
			return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
		}
		return nil, err
	}
	return updated, nil
}

// ListExpiring implements renew.Store.
func (s *Store) ListExpiring(ctx context.Context, now time.Time, window time.Duration) ([]*renew.Record, error) {
	iter := s.client.Collection(s.collection).
		Where("status", "==", string(renew.StatusActive)).
		Where("subscriptionEndDate", ">", now).
		Where("subscriptionEndDate", "<=", now.Add(window)).
		Documents(ctx)
	recs, err := s.collect(iter)
	if err != nil {
		return nil, err
	}
	// Payment presence cannot be expressed in the query; filter here.
	out := recs[:0]
	for _, rec := range recs {
		if rec.Payment != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListExpired implements renew.Store. Firestore's "in" operator covers the
// two sweepable states in one query.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*renew.Record, error) {
	iter := s.client.Collection(s.collection).
		Where("status", "in", []string{string(renew.StatusActive), string(renew.StatusFreeTrial)}).
		Where("subscriptionEndDate", "<=", now).
		Documents(ctx)
	recs, err := s.collect(iter)
	if err != nil {
		return nil, err
	}
	// A zero end date means no period was ever granted.
	out := recs[:0]
	for _, rec := range recs {
		if !rec.SubscriptionEndDate.IsZero() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) collect(iter *firestore.DocumentIterator) ([]*renew.Record, error) {
	defer iter.Stop()
	var out []*renew.Record
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
		}
		rec, err := recordFromData(snap.Ref.ID, snap.Data())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func recordToData(rec *renew.Record) map[string]interface{} {
	data := map[string]interface{}{
		"status":               string(rec.Status),
		"trialUsed":            rec.TrialUsed,
		"promoMonthsRemaining": rec.PromoMonthsRemaining,
		"updatedAt":            rec.UpdatedAt,
		"version":              rec.Version,
	}
	if rec.TrialStartDate != nil {
		data["trialStartDate"] = *rec.TrialStartDate
	}
	if rec.TrialEndDate != nil {
		data["trialEndDate"] = *rec.TrialEndDate
	}
	if !rec.SubscriptionEndDate.IsZero() {
		data["subscriptionEndDate"] = rec.SubscriptionEndDate
	}
	if p := rec.Payment; p != nil {
		payment := map[string]interface{}{
			"gatewayCustomerId":      p.GatewayCustomerID,
			"gatewayPaymentMethodId": p.GatewayPaymentMethodID,
			"gatewayPaymentIntentId": p.GatewayPaymentIntentID,
			"methodKind":             string(p.MethodKind),
			"amount":                 p.Amount,
			"currency":               p.Currency,
			"paymentStatus":          string(p.PaymentStatus),
		}
		if p.LastPaymentDate != nil {
			payment["lastPaymentDate"] = *p.LastPaymentDate
		}
		if p.NextBillingDate != nil {
			payment["nextBillingDate"] = *p.NextBillingDate
		}
		data["payment"] = payment
	}
	return data
}

func recordFromData(accountID string, data map[string]interface{}) (*renew.Record, error) {
	parsed, err := renew.ParseStatus(getString(data, "status"))
	if err != nil {
		return nil, err
	}

	rec := &renew.Record{
		AccountID:            accountID,
		Status:               parsed,
		TrialUsed:            getBool(data, "trialUsed"),
		SubscriptionEndDate:  getTime(data, "subscriptionEndDate"),
		PromoMonthsRemaining: getInt(data, "promoMonthsRemaining"),
		UpdatedAt:            getTime(data, "updatedAt"),
		Version:              getInt64(data, "version"),
	}
	rec.TrialStartDate = getTimePtr(data, "trialStartDate")
	rec.TrialEndDate = getTimePtr(data, "trialEndDate")

	if raw, ok := data["payment"].(map[string]interface{}); ok {
		rec.Payment = &renew.PaymentDetails{
			GatewayCustomerID:      getString(raw, "gatewayCustomerId"),
			GatewayPaymentMethodID: getString(raw, "gatewayPaymentMethodId"),
			GatewayPaymentIntentID: getString(raw, "gatewayPaymentIntentId"),
			MethodKind:             renew.MethodKind(getString(raw, "methodKind")),
			Amount:                 getInt64(raw, "amount"),
			Currency:               getString(raw, "currency"),
			PaymentStatus:          renew.PaymentStatus(getString(raw, "paymentStatus")),
			LastPaymentDate:        getTimePtr(raw, "lastPaymentDate"),
			NextBillingDate:        getTimePtr(raw, "nextBillingDate"),
		}
	}
	return rec, nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt(data map[string]interface{}, key string) int {
	return int(getInt64(data, key))
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok && !v.IsZero() {
		return &v
	}
	return nil
}

var _ renew.Store = (*Store)(nil)
