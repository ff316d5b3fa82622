package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

var base = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func row(userID string, offset time.Duration) *txn.Transaction {
	return &txn.Transaction{
		Entity:        types.NewEntityAt(base.Add(offset)),
		ID:            id.NewTransactionID(),
		UserID:        userID,
		BeneficiaryID: txn.SystemBeneficiary,
		Type:          txn.TypeCreditPaid,
		Amount:        1,
		RefID:         "ref",
		ExpiresAt:     txn.NeverExpires,
		Version:       1,
	}
}

func TestCreateRejectsDuplicateKeys(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	a := row("alice", 0)
	a.IdempotencyKey = "k"
	require.NoError(t, s.Create(ctx, a))
	assert.ErrorIs(t, s.Create(ctx, a), tokenledger.ErrAlreadyExists)

	b := row("alice", 0)
	b.IdempotencyKey = "k"
	assert.ErrorIs(t, s.Create(ctx, b), tokenledger.ErrAlreadyExists)

	got, err := s.GetByIdempotencyKey(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestUpdateIsConditional(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	h := row("alice", 0)
	h.Type = txn.TypeHold
	h.State = txn.StateOpen
	require.NoError(t, s.Create(ctx, h))

	open := txn.StatePtr(txn.StateOpen)
	m := txn.Mutation{State: txn.StatePtr(txn.StateCaptured), Version: 2, UpdatedAt: base}

	updated, err := s.Update(ctx, h.ID, m, txn.Condition{Version: 1, State: open})
	require.NoError(t, err)
	assert.Equal(t, txn.StateCaptured, updated.State)

	_, err = s.Update(ctx, h.ID, m, txn.Condition{Version: 1, State: open})
	assert.ErrorIs(t, err, tokenledger.ErrConditionFailed)

	_, err = s.Update(ctx, id.NewTransactionID(), m, txn.Condition{Version: 1})
	assert.ErrorIs(t, err, tokenledger.ErrNotFound)
}

func TestReturnedRowsAreCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	r := row("alice", 0)
	require.NoError(t, s.Create(ctx, r))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	got.Amount = 999

	again, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Amount)
}

func TestListPagesOldestFirst(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	third, first, second := row("alice", 3*time.Minute), row("alice", time.Minute), row("alice", 2*time.Minute)
	s.Seed(third, first, second, row("bob", 0))

	page, err := s.ListByUser(ctx, "alice", txn.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, first.ID, page[0].ID)
	assert.Equal(t, second.ID, page[1].ID)

	page, err = s.ListByUser(ctx, "alice", txn.ListOpts{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, third.ID, page[0].ID)
}

func TestDisabledIndex(t *testing.T) {
	s := memory.New()
	s.DisableIndex(txn.IndexRefState)

	_, err := s.ListByRefAndState(context.Background(), "ref", txn.StateOpen)
	assert.ErrorIs(t, err, tokenledger.ErrIndexUnavailable)

	_, err = s.ListByRefAndType(context.Background(), "ref", txn.TypeHold)
	assert.NoError(t, err)
}

func TestDeleteFreesIdempotencyKey(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	r := row("alice", 0)
	r.IdempotencyKey = "k"
	require.NoError(t, s.Create(ctx, r))
	require.NoError(t, s.Archive(ctx, r))
	require.NoError(t, s.Delete(ctx, r.ID))

	_, err := s.GetByIdempotencyKey(ctx, "k")
	assert.ErrorIs(t, err, tokenledger.ErrNotFound)
	_, ok := s.Archived(r.ID)
	assert.True(t, ok)
	assert.ErrorIs(t, s.Delete(ctx, r.ID), tokenledger.ErrNotFound)
}

func TestClosedStore(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(context.Background()), tokenledger.ErrStoreClosed)
	assert.ErrorIs(t, s.Create(context.Background(), row("alice", 0)), tokenledger.ErrStoreClosed)
}
