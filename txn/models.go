// Package txn defines the ledger transaction row and the store contract
// the engine reads and writes it through.
package txn

import (
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/types"
)

// Type classifies a ledger row.
type Type string

const (
	TypeCreditPaid Type = "CREDIT_PAID"
	TypeCreditFree Type = "CREDIT_FREE"
	TypeDebit      Type = "DEBIT"
	TypeTip        Type = "TIP"
	TypeHold       Type = "HOLD"
)

// Valid reports whether t is one of the known transaction types.
func (t Type) Valid() bool {
	switch t {
	case TypeCreditPaid, TypeCreditFree, TypeDebit, TypeTip, TypeHold:
		return true
	}
	return false
}

// State is the lifecycle state of a HOLD row. Other row types carry
// StateNone.
type State string

const (
	StateNone     State = ""
	StateOpen     State = "OPEN"
	StateCaptured State = "CAPTURED"
	StateReversed State = "REVERSED"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateCaptured || s == StateReversed
}

// SystemBeneficiary marks rows whose counterparty is the platform itself.
const SystemBeneficiary = "SYSTEM"

// RefPrefixGenerated prefixes refIds the ledger generates when the caller
// supplies none.
const RefPrefixGenerated = "no_ref_"

// NeverExpires is the expiry sentinel for rows that do not expire.
var NeverExpires = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Transaction is one immutable ledger row. Only State, Version, Metadata,
// ExpiresAt, SettledAt and UpdatedAt change after the row is written, and
// only through conditional updates.
type Transaction struct {
	types.Entity
	ID             id.TransactionID `json:"id"`
	UserID         string           `json:"user_id"`
	BeneficiaryID  string           `json:"beneficiary_id"`
	Type           Type             `json:"type"`
	Amount         int64            `json:"amount"`
	Purpose        string           `json:"purpose"`
	RefID          string           `json:"ref_id"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Metadata       types.Metadata   `json:"metadata,omitempty"`
	ExpiresAt      time.Time        `json:"expires_at"`
	State          State            `json:"state,omitempty"`
	Version        int64            `json:"version"`
	SettledAt      *time.Time       `json:"settled_at,omitempty"`
}

// IsHold reports whether the row is a HOLD.
func (t *Transaction) IsHold() bool {
	return t.Type == TypeHold
}

// Expired reports whether the row's expiry is strictly before at.
func (t *Transaction) Expired(at time.Time) bool {
	return t.ExpiresAt.Before(at)
}

// Clone returns a deep copy of t.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = append(types.Metadata(nil), t.Metadata...)
	}
	if t.SettledAt != nil {
		at := *t.SettledAt
		c.SettledAt = &at
	}
	return &c
}
