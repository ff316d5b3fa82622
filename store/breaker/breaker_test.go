package breaker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/store/breaker"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/txn"
)

var errBackend = errors.New("connection reset")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	mem := memory.New()
	var calls atomic.Int32
	mem.SetFault(func(op string, _ *txn.Transaction) error {
		calls.Add(1)
		return errBackend
	})

	s := breaker.New(mem, breaker.WithConsecutiveFailures(3), breaker.WithOpenTimeout(time.Hour))
	ctx := context.Background()

	for range 3 {
		_, err := s.Get(ctx, id.NewTransactionID())
		require.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, "open", s.State())

	_, err := s.ListByUser(ctx, "u1", txn.ListOpts{})
	require.ErrorIs(t, err, tokenledger.ErrStoreUnavailable)
	assert.True(t, tokenledger.IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load(), "open breaker must not reach the store")
}

func TestBreakerIgnoresExpectedOutcomes(t *testing.T) {
	mem := memory.New()
	s := breaker.New(mem, breaker.WithConsecutiveFailures(2))
	ctx := context.Background()

	for range 5 {
		_, err := s.Get(ctx, id.NewTransactionID())
		require.ErrorIs(t, err, tokenledger.ErrNotFound)
	}
	assert.Equal(t, "closed", s.State())
}

func TestBreakerPassesResultsThrough(t *testing.T) {
	mem := memory.New()
	s := breaker.New(mem)
	ctx := context.Background()

	now := time.Now().UTC()
	row := &txn.Transaction{
		ID:            id.NewTransactionID(),
		UserID:        "u1",
		BeneficiaryID: txn.SystemBeneficiary,
		Type:          txn.TypeCreditPaid,
		Amount:        10,
		RefID:         "r1",
		ExpiresAt:     txn.NeverExpires,
		Version:       1,
	}
	row.CreatedAt, row.UpdatedAt = now, now

	require.NoError(t, s.Create(ctx, row))
	require.ErrorIs(t, s.Create(ctx, row), tokenledger.ErrAlreadyExists)

	got, err := s.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.Amount, got.Amount)

	rows, err := s.ListByUser(ctx, "u1", txn.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Ping(ctx), tokenledger.ErrStoreClosed)
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	mem := memory.New()
	var failing atomic.Bool
	failing.Store(true)
	mem.SetFault(func(string, *txn.Transaction) error {
		if failing.Load() {
			return errBackend
		}
		return nil
	})

	s := breaker.New(mem, breaker.WithConsecutiveFailures(1), breaker.WithOpenTimeout(20*time.Millisecond))
	ctx := context.Background()

	_, err := s.ListByUser(ctx, "u1", txn.ListOpts{})
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, "open", s.State())

	failing.Store(false)
	require.Eventually(t, func() bool {
		_, err := s.ListByUser(ctx, "u1", txn.ListOpts{})
		return err == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "closed", s.State())
}
