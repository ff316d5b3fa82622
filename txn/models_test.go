package txn_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

func TestTypeValid(t *testing.T) {
	for _, typ := range []txn.Type{txn.TypeCreditPaid, txn.TypeCreditFree, txn.TypeDebit, txn.TypeTip, txn.TypeHold} {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, txn.Type("REFUND").Valid())
	assert.False(t, txn.Type("").Valid())
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, txn.StateNone.Terminal())
	assert.False(t, txn.StateOpen.Terminal())
	assert.True(t, txn.StateCaptured.Terminal())
	assert.True(t, txn.StateReversed.Terminal())
}

func TestConditionMatches(t *testing.T) {
	row := &txn.Transaction{Version: 2, State: txn.StateOpen}

	assert.True(t, txn.Condition{Version: 2}.Matches(row))
	assert.True(t, txn.Condition{Version: 2, State: txn.StatePtr(txn.StateOpen)}.Matches(row))
	assert.False(t, txn.Condition{Version: 1, State: txn.StatePtr(txn.StateOpen)}.Matches(row))
	assert.False(t, txn.Condition{Version: 2, State: txn.StatePtr(txn.StateCaptured)}.Matches(row))
}

func TestMutationApplyLeavesNilFieldsAlone(t *testing.T) {
	expires := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	row := &txn.Transaction{
		ID:        id.NewTransactionID(),
		State:     txn.StateOpen,
		Metadata:  types.Metadata(`{"a":1}`),
		ExpiresAt: expires,
		Version:   1,
	}
	updated := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	txn.Mutation{Version: 2, UpdatedAt: updated}.Apply(row)

	assert.Equal(t, txn.StateOpen, row.State)
	assert.Equal(t, `{"a":1}`, string(row.Metadata))
	assert.Equal(t, expires, row.ExpiresAt)
	assert.Nil(t, row.SettledAt)
	assert.Equal(t, int64(2), row.Version)
	assert.Equal(t, updated, row.UpdatedAt)

	txn.Mutation{State: txn.StatePtr(txn.StateCaptured), SettledAt: &updated, Version: 3, UpdatedAt: updated}.Apply(row)
	assert.Equal(t, txn.StateCaptured, row.State)
	assert.Equal(t, updated, *row.SettledAt)
}

func TestCloneIsDeep(t *testing.T) {
	at := time.Now()
	row := &txn.Transaction{Metadata: types.Metadata(`{"a":1}`), SettledAt: &at}

	c := row.Clone()
	c.Metadata[2] = 'b'
	*c.SettledAt = at.Add(time.Hour)

	assert.Equal(t, `{"a":1}`, string(row.Metadata))
	assert.Equal(t, at, *row.SettledAt)
}

func TestExpired(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	row := &txn.Transaction{ExpiresAt: at}

	assert.False(t, row.Expired(at))
	assert.True(t, row.Expired(at.Add(time.Nanosecond)))
}
