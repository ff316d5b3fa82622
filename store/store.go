package store

import (
	"context"

	"github.com/xraph/tokenledger/txn"
)

// Store is the unified storage interface the ledger engine runs on: the
// transaction contract plus lifecycle methods.
type Store interface {
	txn.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
