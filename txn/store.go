package txn

import (
	"context"
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/types"
)

// Store persists ledger rows. Implementations return the tokenledger
// sentinel errors: ErrNotFound, ErrAlreadyExists, ErrConditionFailed and
// ErrIndexUnavailable.
type Store interface {
	// Create writes a new row. A duplicate ID or idempotency key fails
	// with ErrAlreadyExists.
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, txID id.TransactionID) (*Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// Update applies m only when the stored row still matches c, and
	// returns the row as written.
	Update(ctx context.Context, txID id.TransactionID, m Mutation, c Condition) (*Transaction, error)
	Delete(ctx context.Context, txID id.TransactionID) error

	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]*Transaction, error)
	ListByBeneficiary(ctx context.Context, beneficiaryID string, opts ListOpts) ([]*Transaction, error)

	// ListByRefAndState may fail with ErrIndexUnavailable when the backing
	// index has not been built; callers fall back to ListByRefAndType.
	ListByRefAndState(ctx context.Context, refID string, state State) ([]*Transaction, error)
	ListByRefAndType(ctx context.Context, refID string, typ Type) ([]*Transaction, error)

	// ListExpiredHolds returns OPEN holds whose expiry is strictly before
	// the given time, oldest expiry first.
	ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
	// ListCreatedBefore returns rows written strictly before the given
	// time, oldest first.
	ListCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)

	// Archive copies a row into the archive table.
	Archive(ctx context.Context, t *Transaction) error
}

// ListOpts pages index queries. Rows come back oldest first.
type ListOpts struct {
	Limit  int
	Offset int
}

// Mutation lists the mutable fields an Update writes. Nil fields are left
// unchanged. Version and UpdatedAt are always written.
type Mutation struct {
	State     *State
	Metadata  types.Metadata
	ExpiresAt *time.Time
	SettledAt *time.Time
	Version   int64
	UpdatedAt time.Time
}

// Condition guards an Update. The stored row must carry exactly Version
// and, when State is set, that state.
type Condition struct {
	Version int64
	State   *State
}

// Apply writes m onto t. Stores use it so every backend mutates rows the
// same way.
func (m Mutation) Apply(t *Transaction) {
	if m.State != nil {
		t.State = *m.State
	}
	if m.Metadata != nil {
		t.Metadata = m.Metadata
	}
	if m.ExpiresAt != nil {
		t.ExpiresAt = *m.ExpiresAt
	}
	if m.SettledAt != nil {
		at := *m.SettledAt
		t.SettledAt = &at
	}
	t.Version = m.Version
	t.UpdatedAt = m.UpdatedAt
}

// Matches reports whether t satisfies c.
func (c Condition) Matches(t *Transaction) bool {
	if t.Version != c.Version {
		return false
	}
	if c.State != nil && t.State != *c.State {
		return false
	}
	return true
}

// StatePtr returns a pointer to s.
func StatePtr(s State) *State { return &s }
