// Package sqlmodel holds the grove row models shared by the SQL backends.
package sqlmodel

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

// Transaction is the row model of the live transactions table. Metadata is
// stored as text so a malformed payload survives a round trip unchanged.
type Transaction struct {
	grove.BaseModel `grove:"table:tokenledger_transactions"`

	ID             string     `grove:"id,pk"`
	UserID         string     `grove:"user_id"`
	BeneficiaryID  string     `grove:"beneficiary_id"`
	Type           string     `grove:"type"`
	Amount         int64      `grove:"amount"`
	Purpose        string     `grove:"purpose"`
	RefID          string     `grove:"ref_id"`
	IdempotencyKey string     `grove:"idempotency_key"`
	Metadata       string     `grove:"metadata"`
	ExpiresAt      time.Time  `grove:"expires_at"`
	State          string     `grove:"state"`
	Version        int64      `grove:"version"`
	SettledAt      *time.Time `grove:"settled_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

// ArchivedTransaction is the row model of the archive table.
type ArchivedTransaction struct {
	grove.BaseModel `grove:"table:tokenledger_transactions_archive"`

	ID             string     `grove:"id,pk"`
	UserID         string     `grove:"user_id"`
	BeneficiaryID  string     `grove:"beneficiary_id"`
	Type           string     `grove:"type"`
	Amount         int64      `grove:"amount"`
	Purpose        string     `grove:"purpose"`
	RefID          string     `grove:"ref_id"`
	IdempotencyKey string     `grove:"idempotency_key"`
	Metadata       string     `grove:"metadata"`
	ExpiresAt      time.Time  `grove:"expires_at"`
	State          string     `grove:"state"`
	Version        int64      `grove:"version"`
	SettledAt      *time.Time `grove:"settled_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
	ArchivedAt     time.Time  `grove:"archived_at"`
}

// FromTransaction converts a domain row to its model.
func FromTransaction(t *txn.Transaction) *Transaction {
	return &Transaction{
		ID:             t.ID.String(),
		UserID:         t.UserID,
		BeneficiaryID:  t.BeneficiaryID,
		Type:           string(t.Type),
		Amount:         t.Amount,
		Purpose:        t.Purpose,
		RefID:          t.RefID,
		IdempotencyKey: t.IdempotencyKey,
		Metadata:       string(t.Metadata),
		ExpiresAt:      t.ExpiresAt.UTC(),
		State:          string(t.State),
		Version:        t.Version,
		SettledAt:      t.SettledAt,
		CreatedAt:      t.CreatedAt.UTC(),
		UpdatedAt:      t.UpdatedAt.UTC(),
	}
}

// ToTransaction converts a model back to a domain row.
func (m *Transaction) ToTransaction() (*txn.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}

	t := &txn.Transaction{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             txID,
		UserID:         m.UserID,
		BeneficiaryID:  m.BeneficiaryID,
		Type:           txn.Type(m.Type),
		Amount:         m.Amount,
		Purpose:        m.Purpose,
		RefID:          m.RefID,
		IdempotencyKey: m.IdempotencyKey,
		ExpiresAt:      m.ExpiresAt.UTC(),
		State:          txn.State(m.State),
		Version:        m.Version,
		SettledAt:      m.SettledAt,
	}
	if m.Metadata != "" {
		t.Metadata = types.Metadata(m.Metadata)
	}
	return t, nil
}

// Archive converts a domain row to an archive model stamped with at.
func Archive(t *txn.Transaction, at time.Time) *ArchivedTransaction {
	m := FromTransaction(t)
	return &ArchivedTransaction{
		ID:             m.ID,
		UserID:         m.UserID,
		BeneficiaryID:  m.BeneficiaryID,
		Type:           m.Type,
		Amount:         m.Amount,
		Purpose:        m.Purpose,
		RefID:          m.RefID,
		IdempotencyKey: m.IdempotencyKey,
		Metadata:       m.Metadata,
		ExpiresAt:      m.ExpiresAt,
		State:          m.State,
		Version:        m.Version,
		SettledAt:      m.SettledAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		ArchivedAt:     at.UTC(),
	}
}

// ToTransactions converts a page of models.
func ToTransactions(models []Transaction) ([]*txn.Transaction, error) {
	result := make([]*txn.Transaction, len(models))
	for i := range models {
		t, err := models[i].ToTransaction()
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports whether err is a unique constraint failure
// from PostgreSQL (SQLSTATE 23505) or SQLite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
