package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/grove"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

type transactionModel struct {
	grove.BaseModel `grove:"table:tokenledger_transactions"`

	ID             string     `grove:"id,pk"           bson:"_id"`
	UserID         string     `grove:"user_id"         bson:"user_id"`
	BeneficiaryID  string     `grove:"beneficiary_id"  bson:"beneficiary_id"`
	Type           string     `grove:"type"            bson:"type"`
	Amount         int64      `grove:"amount"          bson:"amount"`
	Purpose        string     `grove:"purpose"         bson:"purpose"`
	RefID          string     `grove:"ref_id"          bson:"ref_id"`
	IdempotencyKey string     `grove:"idempotency_key" bson:"idempotency_key"`
	Metadata       string     `grove:"metadata"        bson:"metadata"`
	ExpiresAt      time.Time  `grove:"expires_at"      bson:"expires_at"`
	State          string     `grove:"state"           bson:"state"`
	Version        int64      `grove:"version"         bson:"version"`
	SettledAt      *time.Time `grove:"settled_at"      bson:"settled_at,omitempty"`
	CreatedAt      time.Time  `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"      bson:"updated_at"`
}

// archivedModel only names the archive collection; archive writes are
// upserts built from archiveDocument.
type archivedModel struct {
	grove.BaseModel `grove:"table:tokenledger_transactions_archive"`

	ID string `grove:"id,pk" bson:"_id"`
}

func toTransactionModel(t *txn.Transaction) *transactionModel {
	return &transactionModel{
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

func fromTransactionModel(m *transactionModel) (*txn.Transaction, error) {
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
	}
	if m.SettledAt != nil {
		at := m.SettledAt.UTC()
		t.SettledAt = &at
	}
	if m.Metadata != "" {
		t.Metadata = types.Metadata(m.Metadata)
	}
	return t, nil
}

func fromTransactionModels(models []transactionModel) ([]*txn.Transaction, error) {
	result := make([]*txn.Transaction, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func archiveDocument(m *transactionModel, archivedAt time.Time) bson.M {
	doc := bson.M{
		txn.AttrUserID:         m.UserID,
		txn.AttrBeneficiaryID:  m.BeneficiaryID,
		txn.AttrType:           m.Type,
		txn.AttrAmount:         m.Amount,
		txn.AttrPurpose:        m.Purpose,
		txn.AttrRefID:          m.RefID,
		txn.AttrIdempotencyKey: m.IdempotencyKey,
		txn.AttrMetadata:       m.Metadata,
		txn.AttrExpiresAt:      m.ExpiresAt,
		txn.AttrState:          m.State,
		txn.AttrVersion:        m.Version,
		txn.AttrCreatedAt:      m.CreatedAt,
		txn.AttrUpdatedAt:      m.UpdatedAt,
		txn.AttrArchivedAt:     archivedAt.UTC(),
	}
	if m.SettledAt != nil {
		doc[txn.AttrSettledAt] = *m.SettledAt
	}
	return doc
}
