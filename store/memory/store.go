// Package memory provides an in-process Store. It honors the same
// conditional-update semantics as the database backends and exposes fault
// injection so tests can exercise store failures.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/txn"
)

var _ store.Store = (*Store)(nil)

// Operation names passed to a Fault.
const (
	OpCreate            = "create"
	OpGet               = "get"
	OpGetByIdempotency  = "get_by_idempotency_key"
	OpUpdate            = "update"
	OpDelete            = "delete"
	OpListByUser        = "list_by_user"
	OpListByBeneficiary = "list_by_beneficiary"
	OpListByRefState    = "list_by_ref_state"
	OpListByRefType     = "list_by_ref_type"
	OpListExpired       = "list_expired_holds"
	OpListCreatedBefore = "list_created_before"
	OpArchive           = "archive"
)

// Fault is consulted before every operation. A non-nil return fails the
// operation with that error. t is the row being written for create and
// archive, and nil otherwise.
type Fault func(op string, t *txn.Transaction) error

type Store struct {
	mu sync.RWMutex

	rows     map[string]*txn.Transaction
	byKey    map[string]string
	archived map[string]*txn.Transaction

	disabledIndexes map[string]bool
	fault           Fault
	closed          bool
}

func New() *Store {
	return &Store{
		rows:            make(map[string]*txn.Transaction),
		byKey:           make(map[string]string),
		archived:        make(map[string]*txn.Transaction),
		disabledIndexes: make(map[string]bool),
	}
}

// SetFault installs f; nil removes it.
func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// DisableIndex makes queries that need the named index (see txn.Index*)
// fail with ErrIndexUnavailable, as a store whose index is still building.
func (s *Store) DisableIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabledIndexes[name] = true
}

// Seed stores rows as given, bypassing every check. Tests use it to plant
// rows the engine would never write, such as holds without state.
func (s *Store) Seed(rows ...*txn.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range rows {
		s.rows[t.ID.String()] = t.Clone()
		if t.IdempotencyKey != "" {
			s.byKey[t.IdempotencyKey] = t.ID.String()
		}
	}
}

// Archived returns a copy of an archived row.
func (s *Store) Archived(txID id.TransactionID) (*txn.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.archived[txID.String()]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Len returns the number of live rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// check must be called with s.mu held.
func (s *Store) check(op string, t *txn.Transaction) error {
	if s.closed {
		return tokenledger.ErrStoreClosed
	}
	if s.fault != nil {
		return s.fault(op, t)
	}
	return nil
}

func (s *Store) Create(_ context.Context, t *txn.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpCreate, t); err != nil {
		return err
	}
	if _, exists := s.rows[t.ID.String()]; exists {
		return tokenledger.ErrAlreadyExists
	}
	if t.IdempotencyKey != "" {
		if _, exists := s.byKey[t.IdempotencyKey]; exists {
			return tokenledger.ErrAlreadyExists
		}
		s.byKey[t.IdempotencyKey] = t.ID.String()
	}

	s.rows[t.ID.String()] = t.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, txID id.TransactionID) (*txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(OpGet, nil); err != nil {
		return nil, err
	}
	if t, ok := s.rows[txID.String()]; ok {
		return t.Clone(), nil
	}
	return nil, tokenledger.ErrNotFound
}

func (s *Store) GetByIdempotencyKey(_ context.Context, key string) (*txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(OpGetByIdempotency, nil); err != nil {
		return nil, err
	}
	if txID, ok := s.byKey[key]; ok {
		if t, ok := s.rows[txID]; ok {
			return t.Clone(), nil
		}
	}
	return nil, tokenledger.ErrNotFound
}

func (s *Store) Update(_ context.Context, txID id.TransactionID, m txn.Mutation, c txn.Condition) (*txn.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpUpdate, nil); err != nil {
		return nil, err
	}
	t, ok := s.rows[txID.String()]
	if !ok {
		return nil, tokenledger.ErrNotFound
	}
	if !c.Matches(t) {
		return nil, tokenledger.ErrConditionFailed
	}

	m.Apply(t)
	return t.Clone(), nil
}

func (s *Store) Delete(_ context.Context, txID id.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpDelete, nil); err != nil {
		return err
	}
	t, ok := s.rows[txID.String()]
	if !ok {
		return tokenledger.ErrNotFound
	}
	if t.IdempotencyKey != "" {
		delete(s.byKey, t.IdempotencyKey)
	}
	delete(s.rows, txID.String())
	return nil
}

func (s *Store) ListByUser(_ context.Context, userID string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	return s.list(OpListByUser, opts, byCreated, func(t *txn.Transaction) bool {
		return t.UserID == userID
	})
}

func (s *Store) ListByBeneficiary(_ context.Context, beneficiaryID string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	return s.list(OpListByBeneficiary, opts, byCreated, func(t *txn.Transaction) bool {
		return t.BeneficiaryID == beneficiaryID
	})
}

func (s *Store) ListByRefAndState(_ context.Context, refID string, state txn.State) ([]*txn.Transaction, error) {
	s.mu.RLock()
	disabled := s.disabledIndexes[txn.IndexRefState]
	s.mu.RUnlock()
	if disabled {
		return nil, tokenledger.ErrIndexUnavailable
	}

	return s.list(OpListByRefState, txn.ListOpts{}, byCreated, func(t *txn.Transaction) bool {
		return t.RefID == refID && t.State == state
	})
}

func (s *Store) ListByRefAndType(_ context.Context, refID string, typ txn.Type) ([]*txn.Transaction, error) {
	return s.list(OpListByRefType, txn.ListOpts{}, byCreated, func(t *txn.Transaction) bool {
		return t.RefID == refID && t.Type == typ
	})
}

func (s *Store) ListExpiredHolds(_ context.Context, before time.Time, limit int) ([]*txn.Transaction, error) {
	return s.list(OpListExpired, txn.ListOpts{Limit: limit}, byExpiry, func(t *txn.Transaction) bool {
		return t.Type == txn.TypeHold && t.State == txn.StateOpen && t.ExpiresAt.Before(before)
	})
}

func (s *Store) ListCreatedBefore(_ context.Context, before time.Time, limit int) ([]*txn.Transaction, error) {
	return s.list(OpListCreatedBefore, txn.ListOpts{Limit: limit}, byCreated, func(t *txn.Transaction) bool {
		return t.CreatedAt.Before(before)
	})
}

func (s *Store) Archive(_ context.Context, t *txn.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpArchive, t); err != nil {
		return err
	}
	s.archived[t.ID.String()] = t.Clone()
	return nil
}

func byCreated(a, b *txn.Transaction) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func byExpiry(a, b *txn.Transaction) bool {
	if a.ExpiresAt.Equal(b.ExpiresAt) {
		return byCreated(a, b)
	}
	return a.ExpiresAt.Before(b.ExpiresAt)
}

func (s *Store) list(op string, opts txn.ListOpts, less func(a, b *txn.Transaction) bool, match func(*txn.Transaction) bool) ([]*txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(op, nil); err != nil {
		return nil, err
	}

	result := make([]*txn.Transaction, 0)
	for _, t := range s.rows {
		if match(t) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	page := make([]*txn.Transaction, 0, end-start)
	for _, t := range result[start:end] {
		page = append(page, t.Clone())
	}
	return page, nil
}

// Core methods

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return tokenledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
