package tokenledger

import (
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

// Re-export common types so callers rarely need the txn and types packages.

// ID is the identifier type of ledger rows.
type ID = id.ID

// Transaction is re-exported from the txn package.
type Transaction = txn.Transaction

// Metadata is re-exported from the types package.
type Metadata = types.Metadata

// Re-export row types and hold states
const (
	TypeCreditPaid = txn.TypeCreditPaid
	TypeCreditFree = txn.TypeCreditFree
	TypeDebit      = txn.TypeDebit
	TypeTip        = txn.TypeTip
	TypeHold       = txn.TypeHold

	StateOpen     = txn.StateOpen
	StateCaptured = txn.StateCaptured
	StateReversed = txn.StateReversed

	SystemBeneficiary = txn.SystemBeneficiary
)

// Re-export metadata constructors
var (
	NewMetadata  = types.NewMetadata
	MustMetadata = types.MustMetadata
)
