package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/tokenledger/txn"
)

func TestExpiredHoldsFilter(t *testing.T) {
	before := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	filter := expiredHoldsFilter(before)

	assert.Equal(t, string(txn.TypeHold), filter[txn.AttrType])
	assert.Equal(t, string(txn.StateOpen), filter[txn.AttrState])
	assert.Equal(t, bson.M{"$lt": before.UTC()}, filter[txn.AttrExpiresAt])
}

func TestMigrationIndexes(t *testing.T) {
	indexes := migrationIndexes()
	require.Len(t, indexes[txn.Table], 7)
	require.Len(t, indexes[txn.ArchiveTable], 1)

	var stateExpires bson.D
	for _, idx := range indexes[txn.Table] {
		keys, ok := idx.Keys.(bson.D)
		require.True(t, ok)
		assert.NotNil(t, idx.Options)
		if keys[0].Key == txn.AttrState {
			stateExpires = keys
		}
	}
	assert.Equal(t, bson.D{{Key: txn.AttrState, Value: 1}, {Key: txn.AttrExpiresAt, Value: 1}}, stateExpires)
}
