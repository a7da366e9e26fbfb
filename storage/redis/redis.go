// Package redis provides a Redis implementation of the renew.Store
// interface. Records are stored as JSON values with two secondary indexes:
// a plain key per gateway customer id and a sorted set keyed by
// subscription end date, which gives the sweep's range selections without a
// full scan. All writes go through Lua scripts so the record and its
// indexes change atomically, and guarded updates use a version check
// retried on conflict.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhaprace/gorenew/pkg/renew"
)

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gorenew:").
	KeyPrefix string

	// MaxRetries is the number of optimistic-concurrency retries for
	// UpdateRecord (default: 3).
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "gorenew:",
		MaxRetries: 3,
	}
}

// Store implements renew.Store using Redis.
type Store struct {
	client redis.UniversalClient
	config Config
	write  *redis.Script
}

// New creates a new Redis store adapter. The client can be *redis.Client,
// *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "gorenew:"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	return &Store{
		client: client,
		config: config,
		// KEYS: record, end-date zset, new customer index, old customer index
		// ARGV: expected version (-1 skips the check), record JSON,
		//       account id, end-date unix score (0 removes from the zset),
		//       new customer id, old customer id
		write: redis.NewScript(`
			local cur = redis.call('GET', KEYS[1])
			if tonumber(ARGV[1]) >= 0 then
				if not cur then return -2 end
				local decoded = cjson.decode(cur)
				if tonumber(decoded['version']) ~= tonumber(ARGV[1]) then return -1 end
			end
			redis.call('SET', KEYS[1], ARGV[2])
			if tonumber(ARGV[4]) > 0 then
				redis.call('ZADD', KEYS[2], ARGV[4], ARGV[3])
			else
				redis.call('ZREM', KEYS[2], ARGV[3])
			end
			if ARGV[6] ~= '' and ARGV[6] ~= ARGV[5] then
				redis.call('DEL', KEYS[4])
			end
			if ARGV[5] ~= '' then
				redis.call('SET', KEYS[3], ARGV[3])
			end
			return 1
		`),
	}, nil
}

func (s *Store) recordKey(accountID string) string {
	return s.config.KeyPrefix + "record:" + accountID
}

func (s *Store) customerKey(customerID string) string {
	return s.config.KeyPrefix + "customer:" + customerID
}

func (s *Store) endDateKey() string {
	return s.config.KeyPrefix + "by_end_date"
}

// GetRecord implements renew.Store.
func (s *Store) GetRecord(ctx context.Context, accountID string) (*renew.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, renew.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return decodeRecord([]byte(raw))
}

// GetRecordByCustomerID implements renew.Store.
func (s *Store) GetRecordByCustomerID(ctx context.Context, customerID string) (*renew.Record, error) {
	accountID, err := s.client.Get(ctx, s.customerKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, renew.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return s.GetRecord(ctx, accountID)
}

// PutRecord implements renew.Store.
func (s *Store) PutRecord(ctx context.Context, rec *renew.Record) error {
	if rec == nil || rec.AccountID == "" {
		return fmt.Errorf("invalid record")
	}
	if !rec.Status.Valid() {
		return renew.ErrInvalidStatus
	}

	old, err := s.GetRecord(ctx, rec.AccountID)
	if err != nil && !errors.Is(err, renew.ErrRecordNotFound) {
		return err
	}
	return s.writeRecord(ctx, rec, old, -1)
}

// UpdateRecord implements renew.Store using a version-checked write,
// retried on conflict.
func (s *Store) UpdateRecord(ctx context.Context, accountID string, mutate func(*renew.Record) error) (*renew.Record, error) {
	var lastErr error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		current, err := s.GetRecord(ctx, accountID)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			return nil, err
		}
		if !next.Status.Valid() {
			return nil, renew.ErrInvalidStatus
		}
		next.Version = current.Version + 1

		err = s.writeRecord(ctx, next, current, current.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, renew.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Store) writeRecord(ctx context.Context, rec, old *renew.Record, expectVersion int64) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	var newCustomer, oldCustomer string
	if rec.Payment != nil {
		newCustomer = rec.Payment.GatewayCustomerID
	}
	if old != nil && old.Payment != nil {
		oldCustomer = old.Payment.GatewayCustomerID
	}

	var score int64
	// Only records the sweep can select belong in the end-date index.
	if !rec.SubscriptionEndDate.IsZero() &&
		(rec.Status == renew.StatusActive || rec.Status == renew.StatusFreeTrial) {
		score = rec.SubscriptionEndDate.Unix()
	}

	newCustomerKey := s.customerKey(newCustomer)
	oldCustomerKey := s.customerKey(oldCustomer)
	if oldCustomer == "" {
		oldCustomerKey = newCustomerKey
	}

	res, err := s.write.Run(ctx, s.client,
		[]string{s.recordKey(rec.AccountID), s.endDateKey(), newCustomerKey, oldCustomerKey},
		expectVersion, string(payload), rec.AccountID, score, newCustomer, oldCustomer,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return renew.ErrConflict
	case -2:
		return renew.ErrRecordNotFound
	default:
		return fmt.Errorf("unexpected write script result %d", res)
	}
}

// ListExpiring implements renew.Store via a range query on the end-date
// index.
func (s *Store) ListExpiring(ctx context.Context, now time.Time, window time.Duration) ([]*renew.Record, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.endDateKey(), &redis.ZRangeBy{
		Min: "(" + fmt.Sprint(now.Unix()),
		Max: fmt.Sprint(now.Add(window).Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return s.fetchFiltered(ctx, ids, func(rec *renew.Record) bool {
		return rec.Status == renew.StatusActive && rec.Payment != nil
	})
}

// ListExpired implements renew.Store.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*renew.Record, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.endDateKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return s.fetchFiltered(ctx, ids, func(rec *renew.Record) bool {
		return rec.Status == renew.StatusActive || rec.Status == renew.StatusFreeTrial
	})
}

func (s *Store) fetchFiltered(ctx context.Context, accountIDs []string, keep func(*renew.Record) bool) ([]*renew.Record, error) {
	var out []*renew.Record
	for _, id := range accountIDs {
		rec, err := s.GetRecord(ctx, id)
		if errors.Is(err, renew.ErrRecordNotFound) {
			continue // index entry outlived the record
		}
		if err != nil {
			return nil, err
		}
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// redisRecord is the JSON shape persisted in Redis.
type redisRecord struct {
	AccountID            string     `json:"accountId"`
	Status               string     `json:"status"`
	TrialStartDate       *time.Time `json:"trialStartDate,omitempty"`
	TrialEndDate         *time.Time `json:"trialEndDate,omitempty"`
	TrialUsed            bool       `json:"trialUsed"`
	SubscriptionEndDate  *time.Time `json:"subscriptionEndDate,omitempty"`
	PromoMonthsRemaining int        `json:"promoMonthsRemaining"`
	Payment              *redisPay  `json:"paymentDetails,omitempty"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	Version              int64      `json:"version"`
}

type redisPay struct {
	GatewayCustomerID      string     `json:"gatewayCustomerId"`
	GatewayPaymentMethodID string     `json:"gatewayPaymentMethodId"`
	GatewayPaymentIntentID string     `json:"gatewayPaymentIntentId,omitempty"`
	MethodKind             string     `json:"paymentMethodKind"`
	Amount                 int64      `json:"amount"`
	Currency               string     `json:"currency"`
	PaymentStatus          string     `json:"paymentStatus"`
	LastPaymentDate        *time.Time `json:"lastPaymentDate,omitempty"`
	NextBillingDate        *time.Time `json:"nextBillingDate,omitempty"`
}

func encodeRecord(rec *renew.Record) ([]byte, error) {
	dto := redisRecord{
		AccountID:            rec.AccountID,
		Status:               string(rec.Status),
		TrialStartDate:       rec.TrialStartDate,
		TrialEndDate:         rec.TrialEndDate,
		TrialUsed:            rec.TrialUsed,
		PromoMonthsRemaining: rec.PromoMonthsRemaining,
		UpdatedAt:            rec.UpdatedAt,
		Version:              rec.Version,
	}
	if !rec.SubscriptionEndDate.IsZero() {
		end := rec.SubscriptionEndDate
		dto.SubscriptionEndDate = &end
	}
	if rec.Payment != nil {
		dto.Payment = &redisPay{
			GatewayCustomerID:      rec.Payment.GatewayCustomerID,
			GatewayPaymentMethodID: rec.Payment.GatewayPaymentMethodID,
			GatewayPaymentIntentID: rec.Payment.GatewayPaymentIntentID,
			MethodKind:             string(rec.Payment.MethodKind),
			Amount:                 rec.Payment.Amount,
			Currency:               rec.Payment.Currency,
			PaymentStatus:          string(rec.Payment.PaymentStatus),
			LastPaymentDate:        rec.Payment.LastPaymentDate,
			NextBillingDate:        rec.Payment.NextBillingDate,
		}
	}
	payload, err := json.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return payload, nil
}

func decodeRecord(payload []byte) (*renew.Record, error) {
	var dto redisRecord
	if err := json.Unmarshal(payload, &dto); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	status, err := renew.ParseStatus(dto.Status)
	if err != nil {
		return nil, err
	}

	rec := &renew.Record{
		AccountID:            dto.AccountID,
		Status:               status,
		TrialStartDate:       dto.TrialStartDate,
		TrialEndDate:         dto.TrialEndDate,
		TrialUsed:            dto.TrialUsed,
		PromoMonthsRemaining: dto.PromoMonthsRemaining,
		UpdatedAt:            dto.UpdatedAt,
		Version:              dto.Version,
	}
	if dto.SubscriptionEndDate != nil {
		rec.SubscriptionEndDate = *dto.SubscriptionEndDate
	}
	if dto.Payment != nil {
		rec.Payment = &renew.PaymentDetails{
			GatewayCustomerID:      dto.Payment.GatewayCustomerID,
			GatewayPaymentMethodID: dto.Payment.GatewayPaymentMethodID,
			GatewayPaymentIntentID: dto.Payment.GatewayPaymentIntentID,
			MethodKind:             renew.MethodKind(dto.Payment.MethodKind),
			Amount:                 dto.Payment.Amount,
			Currency:               dto.Payment.Currency,
			PaymentStatus:          renew.PaymentStatus(dto.Payment.PaymentStatus),
			LastPaymentDate:        dto.Payment.LastPaymentDate,
			NextBillingDate:        dto.Payment.NextBillingDate,
		}
	}
	return rec, nil
}

var _ renew.Store = (*Store)(nil)
