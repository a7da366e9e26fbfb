// Package postgres provides a PostgreSQL implementation of the renew.Store
// interface. Guarded updates run inside a transaction with
// SELECT ... FOR UPDATE, so the renewal sweep and the webhook reconciler
// serialize on the row rather than racing. The schema carries btree indexes
// on gateway_customer_id and subscription_end_date; the sweep's range
// selections depend on the latter.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhaprace/gorenew/pkg/renew"
)

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Table is the records table name (default: "subscription_records").
	Table string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table:           "subscription_records",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store implements renew.Store using PostgreSQL.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// New creates a new PostgreSQL store adapter and verifies connectivity.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Table == "" {
		config.Table = "subscription_records"
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}

	return &Store{pool: pool, table: config.Table}, nil
}

// NewWithPool wraps an existing pool (used by tests and callers that manage
// their own pool lifecycle).
func NewWithPool(pool *pgxpool.Pool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "subscription_records"
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the records table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			account_id                TEXT PRIMARY KEY,
			status                    TEXT NOT NULL,
			trial_start_date          TIMESTAMPTZ,
			trial_end_date            TIMESTAMPTZ,
			trial_used                BOOLEAN NOT NULL DEFAULT FALSE,
			subscription_end_date     TIMESTAMPTZ,
			promo_months_remaining    INTEGER NOT NULL DEFAULT 0,
			gateway_customer_id       TEXT,
			gateway_payment_method_id TEXT,
			gateway_payment_intent_id TEXT,
			payment_method_kind       TEXT,
			amount                    BIGINT,
			currency                  TEXT,
			payment_status            TEXT,
			last_payment_date         TIMESTAMPTZ,
			next_billing_date         TIMESTAMPTZ,
			updated_at                TIMESTAMPTZ NOT NULL,
			version                   BIGINT NOT NULL DEFAULT 0
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_customer_idx ON %s (gateway_customer_id)
			WHERE gateway_customer_id IS NOT NULL`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_end_date_idx ON %s (subscription_end_date)
			WHERE subscription_end_date IS NOT NULL`, s.table, s.table),
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
		}
	}
	return nil
}

const recordColumns = `account_id, status, trial_start_date, trial_end_date, trial_used,
	subscription_end_date, promo_months_remaining,
	gateway_customer_id, gateway_payment_method_id, gateway_payment_intent_id,
	payment_method_kind, amount, currency, payment_status,
	last_payment_date, next_billing_date, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

// GetRecord implements renew.Store.
func (s *Store) GetRecord(ctx context.Context, accountID string) (*renew.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE account_id = $1`, recordColumns, s.table)
	return s.queryOne(ctx, s.pool, query, accountID)
}

// GetRecordByCustomerID implements renew.Store.
func (s *Store) GetRecordByCustomerID(ctx context.Context, customerID string) (*renew.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE gateway_customer_id = $1`, recordColumns, s.table)
	return s.queryOne(ctx, s.pool, query, customerID)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) queryOne(ctx context.Context, q queryer, query string, arg any) (*renew.Record, error) {
	rec, err := scanRecord(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, renew.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// PutRecord implements renew.Store as an upsert.
func (s *Store) PutRecord(ctx context.Context, rec *renew.Record) error {
	if rec == nil || rec.AccountID == "" {
		return fmt.Errorf("invalid record")
	}
	if !rec.Status.Valid() {
		return renew.ErrInvalidStatus
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (account_id) DO UPDATE SET
			status = EXCLUDED.status,
			trial_start_date = EXCLUDED.trial_start_date,
			trial_end_date = EXCLUDED.trial_end_date,
			trial_used = EXCLUDED.trial_used,
			subscription_end_date = EXCLUDED.subscription_end_date,
			promo_months_remaining = EXCLUDED.promo_months_remaining,
			gateway_customer_id = EXCLUDED.gateway_customer_id,
			gateway_payment_method_id = EXCLUDED.gateway_payment_method_id,
			gateway_payment_intent_id = EXCLUDED.gateway_payment_intent_id,
			payment_method_kind = EXCLUDED.payment_method_kind,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			payment_status = EXCLUDED.payment_status,
			last_payment_date = EXCLUDED.last_payment_date,
			next_billing_date = EXCLUDED.next_billing_date,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version`, s.table, recordColumns)

	if _, err := s.pool.Exec(ctx, query, recordArgs(rec)...); err != nil {
		return fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return nil
}

// UpdateRecord implements renew.Store with a row lock held for the whole
// read-modify-write.
func (s *Store) UpdateRecord(ctx context.Context, accountID string, mutate func(*renew.Record) error) (*renew.Record, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE account_id = $1 FOR UPDATE`, recordColumns, s.table)
	rec, err := s.queryOne(ctx, tx, query, accountID)
	if err != nil {
		return nil, err
	}

	if err := mutate(rec); err != nil {
		return nil, err
	}
	if !rec.Status.Valid() {
		return nil, renew.ErrInvalidStatus
	}
	rec.Version++

	update := fmt.Sprintf(`UPDATE %s SET
			status = $2, trial_start_date = $3, trial_end_date = $4, trial_used = $5,
			subscription_end_date = $6, promo_months_remaining = $7,
			gateway_customer_id = $8, gateway_payment_method_id = $9, gateway_payment_intent_id = $10,
			payment_method_kind = $11, amount = $12, currency = $13, payment_status = $14,
			last_payment_date = $15, next_billing_date = $16, updated_at = $17, version = $18
		WHERE account_id = $1`, s.table)
	if _, err := tx.Exec(ctx, update, recordArgs(rec)...); err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// ListExpiring implements renew.Store.
func (s *Store) ListExpiring(ctx context.Context, now time.Time, window time.Duration) ([]*renew.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE status = $1 AND payment_status IS NOT NULL
		  AND subscription_end_date > $2 AND subscription_end_date <= $3
		ORDER BY subscription_end_date`, recordColumns, s.table)
	return s.queryMany(ctx, query, renew.StatusActive, now, now.Add(window))
}

// ListExpired implements renew.Store.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*renew.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE status = ANY($1) AND subscription_end_date IS NOT NULL
		  AND subscription_end_date <= $2
		ORDER BY subscription_end_date`, recordColumns, s.table)
	return s.queryMany(ctx, query, []string{string(renew.StatusActive), string(renew.StatusFreeTrial)}, now)
}

func (s *Store) queryMany(ctx context.Context, query string, args ...any) ([]*renew.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*renew.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", renew.ErrStoreUnavailable, err)
	}
	return out, nil
}

// recordArgs flattens a record into the column order of recordColumns.
func recordArgs(rec *renew.Record) []any {
	var (
		endDate                                  *time.Time
		customerID, methodID, intentID           *string
		methodKind, currency, payStatus          *string
		amount                                   *int64
		lastPayment, nextBilling                 *time.Time
	)
	if !rec.SubscriptionEndDate.IsZero() {
		endDate = &rec.SubscriptionEndDate
	}
	if p := rec.Payment; p != nil {
		customerID = nullable(p.GatewayCustomerID)
		methodID = nullable(p.GatewayPaymentMethodID)
		intentID = nullable(p.GatewayPaymentIntentID)
		methodKind = nullable(string(p.MethodKind))
		currency = nullable(p.Currency)
		payStatus = nullable(string(p.PaymentStatus))
		amount = &p.Amount
		lastPayment = p.LastPaymentDate
		nextBilling = p.NextBillingDate
	}
	return []any{
		rec.AccountID, string(rec.Status), rec.TrialStartDate, rec.TrialEndDate, rec.TrialUsed,
		endDate, rec.PromoMonthsRemaining,
		customerID, methodID, intentID,
		methodKind, amount, currency, payStatus,
		lastPayment, nextBilling, rec.UpdatedAt, rec.Version,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanRecord(row rowScanner) (*renew.Record, error) {
	var (
		rec                             renew.Record
		status                          string
		endDate                         *time.Time
		customerID, methodID, intentID  *string
		methodKind, currency, payStatus *string
		amount                          *int64
		lastPayment, nextBilling        *time.Time
	)
	err := row.Scan(
		&rec.AccountID, &status, &rec.TrialStartDate, &rec.TrialEndDate, &rec.TrialUsed,
		&endDate, &rec.PromoMonthsRemaining,
		&customerID, &methodID, &intentID,
		&methodKind, &amount, &currency, &payStatus,
		&lastPayment, &nextBilling, &rec.UpdatedAt, &rec.Version,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := renew.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = parsed
	if endDate != nil {
		rec.SubscriptionEndDate = *endDate
	}
	if payStatus != nil || customerID != nil || methodID != nil {
		p := &renew.PaymentDetails{
			LastPaymentDate: lastPayment,
			NextBillingDate: nextBilling,
		}
		if customerID != nil {
			p.GatewayCustomerID = *customerID
		}
		if methodID != nil {
			p.GatewayPaymentMethodID = *methodID
		}
		if intentID != nil {
			p.GatewayPaymentIntentID = *intentID
		}
		if methodKind != nil {
			p.MethodKind = renew.MethodKind(*methodKind)
		}
		if currency != nil {
			p.Currency = *currency
		}
		if payStatus != nil {
			p.PaymentStatus = renew.PaymentStatus(*payStatus)
		}
		if amount != nil {
			p.Amount = *amount
		}
		rec.Payment = p
	}
	return &rec, nil
}

var _ renew.Store = (*Store)(nil)
