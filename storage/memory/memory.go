// Package memory provides an in-memory implementation of the renew.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rhaprace/gorenew/pkg/renew"
)

// Store implements renew.Store using in-memory maps.
type Store struct {
	mu         sync.RWMutex
	records    map[string]*renew.Record // accountID -> record
	byCustomer map[string]string        // gatewayCustomerID -> accountID
}

// New creates a new in-memory store adapter.
func New() *Store {
	return &Store{
		records:    make(map[string]*renew.Record),
		byCustomer: make(map[string]string),
	}
}

// GetRecord implements renew.Store.
func (s *Store) GetRecord(ctx context.Context, accountID string) (*renew.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[accountID]
	if !ok {
		return nil, renew.ErrRecordNotFound
	}
	// Return a copy to prevent external mutations.
	return rec.Clone(), nil
}

// GetRecordByCustomerID implements renew.Store.
func (s *Store) GetRecordByCustomerID(ctx context.Context, customerID string) (*renew.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.byCustomer[customerID]
	if !ok {
		return nil, renew.ErrRecordNotFound
	}
	rec, ok := s.records[accountID]
	if !ok {
		return nil, renew.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// PutRecord implements renew.Store.
func (s *Store) PutRecord(ctx context.Context, rec *renew.Record) error {
	if rec == nil || rec.AccountID == "" {
		return fmt.Errorf("invalid record")
	}
	if !rec.Status.Valid() {
		return renew.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(rec)
	return nil
}

// UpdateRecord implements renew.Store. The whole read-modify-write runs
// under one lock, so concurrent writers serialize.
func (s *Store) UpdateRecord(ctx context.Context, accountID string, mutate func(*renew.Record) error) (*renew.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[accountID]
	if !ok {
		return nil, renew.ErrRecordNotFound
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if !next.Status.Valid() {
		return nil, renew.ErrInvalidStatus
	}
	next.Version = current.Version + 1
	s.put(next)
	return next.Clone(), nil
}

// put stores a copy and maintains the customer-id index. Caller holds the
// write lock.
func (s *Store) put(rec *renew.Record) {
	if old, ok := s.records[rec.AccountID]; ok && old.Payment != nil && old.Payment.GatewayCustomerID != "" {
		delete(s.byCustomer, old.Payment.GatewayCustomerID)
	}
	cp := rec.Clone()
	s.records[rec.AccountID] = cp
	if cp.Payment != nil && cp.Payment.GatewayCustomerID != "" {
		s.byCustomer[cp.Payment.GatewayCustomerID] = cp.AccountID
	}
}

// ListExpiring implements renew.Store.
func (s *Store) ListExpiring(ctx context.Context, now time.Time, window time.Duration) ([]*renew.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(window)
	var out []*renew.Record
	for _, rec := range s.records {
		if rec.Status != renew.StatusActive || rec.Payment == nil {
			continue
		}
		end := rec.SubscriptionEndDate
		if end.After(now) && !end.After(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// ListExpired implements renew.Store.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*renew.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*renew.Record
	for _, rec := range s.records {
		if rec.Status != renew.StatusActive && rec.Status != renew.StatusFreeTrial {
			continue
		}
		if rec.SubscriptionEndDate.IsZero() || rec.SubscriptionEndDate.After(now) {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

var _ renew.Store = (*Store)(nil)
