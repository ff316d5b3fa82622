package tokenledger_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

func TestAddTransactionWritesFirstVersion(t *testing.T) {
	h := newHarness(t)

	row, err := h.ledger.AddTransaction(context.Background(), tokenledger.AddTransactionInput{
		UserID:        "alice",
		BeneficiaryID: txn.SystemBeneficiary,
		Type:          txn.TypeCreditPaid,
		Amount:        100,
		Purpose:       "purchase",
		Metadata:      types.MustMetadata(map[string]any{"order": "o-1"}),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), row.Version)
	assert.Equal(t, txn.StateNone, row.State)
	assert.True(t, strings.HasPrefix(row.RefID, txn.RefPrefixGenerated))
	assert.Equal(t, txn.NeverExpires, row.ExpiresAt)
	assert.Equal(t, epoch, row.CreatedAt)

	stored := h.get(t, row.ID)
	assert.Equal(t, row.Amount, stored.Amount)
	assert.True(t, types.Equal(row.Metadata, stored.Metadata))
}

func TestAddTransactionRejectsInvalidInput(t *testing.T) {
	valid := tokenledger.AddTransactionInput{
		UserID:        "alice",
		BeneficiaryID: "bob",
		Type:          txn.TypeDebit,
		Amount:        10,
	}

	tests := []struct {
		name   string
		mutate func(*tokenledger.AddTransactionInput)
		field  string
	}{
		{"missing user", func(in *tokenledger.AddTransactionInput) { in.UserID = "" }, "user_id"},
		{"blank beneficiary", func(in *tokenledger.AddTransactionInput) { in.BeneficiaryID = "   " }, "beneficiary_id"},
		{"unknown type", func(in *tokenledger.AddTransactionInput) { in.Type = "REFUND" }, "type"},
		{"zero amount", func(in *tokenledger.AddTransactionInput) { in.Amount = 0 }, "amount"},
		{"negative amount", func(in *tokenledger.AddTransactionInput) { in.Amount = -5 }, "amount"},
		{"amount above safe range", func(in *tokenledger.AddTransactionInput) { in.Amount = types.MaxSafeAmount + 1 }, "amount"},
		{"state on a debit", func(in *tokenledger.AddTransactionInput) { in.State = txn.StateOpen }, "state"},
		{"forbidden metadata key", func(in *tokenledger.AddTransactionInput) {
			in.Metadata = types.Metadata(`{"__proto__":{"admin":true}}`)
		}, "metadata"},
		{"hold expiring in the past", func(in *tokenledger.AddTransactionInput) {
			in.Type = txn.TypeHold
			in.ExpiresAt = epoch.Add(-time.Minute)
		}, "expires_at"},
		{"hold written settled", func(in *tokenledger.AddTransactionInput) {
			in.Type = txn.TypeHold
			in.State = txn.StateCaptured
		}, "state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			in := valid
			tt.mutate(&in)

			_, err := h.ledger.AddTransaction(context.Background(), in)
			require.Error(t, err)
			assert.True(t, tokenledger.IsValidation(err))

			var ve *tokenledger.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Zero(t, h.store.Len())
		})
	}
}

func TestAddTransactionIdempotentReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := tokenledger.AddTransactionInput{
		UserID:         "alice",
		BeneficiaryID:  "bob",
		Type:           txn.TypeTip,
		Amount:         5,
		RefID:          "stream-42",
		IdempotencyKey: "tip-1",
	}

	first, err := h.ledger.AddTransaction(ctx, in)
	require.NoError(t, err)
	second, err := h.ledger.AddTransaction(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.store.Len())

	in.Amount = 6
	_, err = h.ledger.AddTransaction(ctx, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenledger.ErrIdempotencyMismatch)
	assert.True(t, tokenledger.IsValidation(err))
	assert.Equal(t, 1, h.store.Len())
}

func TestAddTransactionStoreFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("connection reset")
	h.store.SetFault(func(op string, _ *txn.Transaction) error {
		if op == memory.OpCreate {
			return boom
		}
		return nil
	})

	_, err := h.ledger.AddTransaction(context.Background(), tokenledger.AddTransactionInput{
		UserID:        "alice",
		BeneficiaryID: txn.SystemBeneficiary,
		Type:          txn.TypeCreditFree,
		Amount:        20,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenledger.ErrStore)
	assert.ErrorIs(t, err, boom)
	assert.True(t, tokenledger.IsRetryable(err))
	assert.Zero(t, h.store.Len())
}

func TestAddTransactionHoldDefaults(t *testing.T) {
	h := newHarness(t, tokenledger.WithDefaultHoldTTL(10*time.Minute))

	row, err := h.ledger.AddTransaction(context.Background(), tokenledger.AddTransactionInput{
		UserID:        "alice",
		BeneficiaryID: "bob",
		Type:          txn.TypeHold,
		Amount:        15,
		RefID:         "call-1",
	})
	require.NoError(t, err)

	assert.Equal(t, txn.StateOpen, row.State)
	assert.Equal(t, epoch.Add(10*time.Minute), row.ExpiresAt)
}

func TestGetTransaction(t *testing.T) {
	h := newHarness(t)
	row := h.credit(t, "alice", 50)

	got, err := h.ledger.GetTransaction(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)

	_, err = h.ledger.GetTransaction(context.Background(), seedHold("x", txn.StateOpen, 1).ID)
	assert.True(t, tokenledger.IsNotFound(err))
}

func TestGenerateRefID(t *testing.T) {
	a, b := tokenledger.GenerateRefID(), tokenledger.GenerateRefID()
	assert.True(t, strings.HasPrefix(a, txn.RefPrefixGenerated))
	assert.NotEqual(t, a, b)
}
