// Package breaker wraps a Store in a circuit breaker. Once the backend keeps
// failing, calls fail fast with tokenledger.ErrStoreUnavailable until the
// breaker lets a probe through again.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/txn"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Defaults for the breaker settings.
const (
	DefaultName                = "tokenledger-store"
	DefaultConsecutiveFailures = 5
	DefaultOpenTimeout         = 30 * time.Second
	DefaultHalfOpenRequests    = 1
)

// Option configures the breaker.
type Option func(*config)

type config struct {
	name        string
	failures    uint32
	openTimeout time.Duration
	halfOpen    uint32
	logger      *slog.Logger
}

// WithName sets the breaker name reported in logs.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithConsecutiveFailures sets how many failures in a row trip the breaker.
func WithConsecutiveFailures(n uint32) Option {
	return func(c *config) { c.failures = n }
}

// WithOpenTimeout sets how long the breaker stays open before probing.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *config) { c.openTimeout = d }
}

// WithHalfOpenRequests sets how many probes the half-open breaker admits.
func WithHalfOpenRequests(n uint32) Option {
	return func(c *config) { c.halfOpen = n }
}

// WithLogger sets the logger for state changes.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Store guards every call to the wrapped store.
type Store struct {
	next store.Store
	cb   *gobreaker.CircuitBreaker
}

// New wraps next.
func New(next store.Store, opts ...Option) *Store {
	cfg := config{
		name:        DefaultName,
		failures:    DefaultConsecutiveFailures,
		openTimeout: DefaultOpenTimeout,
		halfOpen:    DefaultHalfOpenRequests,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	settings := gobreaker.Settings{
		Name:        cfg.name,
		MaxRequests: cfg.halfOpen,
		Timeout:     cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cfg.logger.Warn("store circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: isSuccessful,
	}

	return &Store{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// State reports the breaker state: closed, open or half-open.
func (s *Store) State() string { return s.cb.State().String() }

// isSuccessful keeps answers the store gave on purpose from counting as
// backend failures.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, tokenledger.ErrNotFound) ||
		errors.Is(err, tokenledger.ErrAlreadyExists) ||
		errors.Is(err, tokenledger.ErrConditionFailed) ||
		errors.Is(err, tokenledger.ErrIndexUnavailable) ||
		errors.Is(err, context.Canceled)
}

func call[T any](s *Store, fn func() (T, error)) (T, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", tokenledger.ErrStoreUnavailable, err)
		}
		if out == nil {
			return zero, err
		}
		return out.(T), err
	}
	return out.(T), nil
}

func exec(s *Store, fn func() error) error {
	_, err := call(s, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (s *Store) Create(ctx context.Context, t *txn.Transaction) error {
	return exec(s, func() error { return s.next.Create(ctx, t) })
}

func (s *Store) Get(ctx context.Context, txID id.TransactionID) (*txn.Transaction, error) {
	return call(s, func() (*txn.Transaction, error) { return s.next.Get(ctx, txID) })
}

func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*txn.Transaction, error) {
	return call(s, func() (*txn.Transaction, error) { return s.next.GetByIdempotencyKey(ctx, key) })
}

func (s *Store) Update(ctx context.Context, txID id.TransactionID, m txn.Mutation, c txn.Condition) (*txn.Transaction, error) {
	return call(s, func() (*txn.Transaction, error) { return s.next.Update(ctx, txID, m, c) })
}

func (s *Store) Delete(ctx context.Context, txID id.TransactionID) error {
	return exec(s, func() error { return s.next.Delete(ctx, txID) })
}

func (s *Store) ListByUser(ctx context.Context, userID string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	return call(s, func() ([]*txn.Transaction, error) { return s.next.ListByUser(ctx, userID, opts) })
}

func (s *Store) ListByBeneficiary(ctx context.Context, beneficiaryID string, opts txn.ListOpts) ([]*txn.Transaction, error) {
	return call(s, func() ([]*txn.Transaction, error) { return s.next.ListByBeneficiary(ctx, beneficiaryID, opts) })
}

func (s *Store) ListByRefAndState(ctx context.Context, refID string, state txn.State) ([]*txn.Transaction, error) {
	return call(s, func() ([]*txn.Transaction, error) { return s.next.ListByRefAndState(ctx, refID, state) })
}

func (s *Store) ListByRefAndType(ctx context.Context, refID string, typ txn.Type) ([]*txn.Transaction, error) {
	return call(s, func() ([]*txn.Transaction, error) { return s.next.ListByRefAndType(ctx, refID, typ) })
}

func (s *Store) ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]*txn.Transaction, error) {
	return call(s, func() ([]*txn.Transaction, error) { return s.next.ListExpiredHolds(ctx, before, limit) })
}

func (s *Store) ListCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*txn.Transaction, error) {
	return call(s, func() ([]*txn.Transaction, error) { return s.next.ListCreatedBefore(ctx, before, limit) })
}

func (s *Store) Archive(ctx context.Context, t *txn.Transaction) error {
	return exec(s, func() error { return s.next.Archive(ctx, t) })
}

// Migrate and Close bypass the breaker. Ping goes through it so health
// checks see an open breaker.
func (s *Store) Migrate(ctx context.Context) error { return s.next.Migrate(ctx) }

func (s *Store) Ping(ctx context.Context) error {
	return exec(s, func() error { return s.next.Ping(ctx) })
}

func (s *Store) Close() error { return s.next.Close() }
