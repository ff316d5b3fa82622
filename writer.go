package tokenledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

// AddTransactionInput describes one ledger row to write.
type AddTransactionInput struct {
	UserID        string   `json:"user_id" validate:"required,notblank,max=256"`
	BeneficiaryID string   `json:"beneficiary_id" validate:"required,notblank,max=256"`
	Type          txn.Type `json:"type" validate:"required,txntype"`
	Amount        int64    `json:"amount" validate:"tokenamount"`
	Purpose       string   `json:"purpose" validate:"max=512"`

	// RefID correlates rows of one business operation. When empty the
	// ledger generates a no_ref_ value and the write is not retry-safe.
	RefID string `json:"ref_id" validate:"omitempty,notblank,max=256"`

	// IdempotencyKey makes the write retry-safe: a repeated call with the
	// same key and fields returns the first row instead of writing again.
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,notblank,max=256"`

	Metadata  types.Metadata `json:"metadata" validate:"-"`
	ExpiresAt time.Time      `json:"expires_at" validate:"-"`

	// State is only meaningful for HOLD rows, which always start OPEN.
	State txn.State `json:"state" validate:"-"`

	// AlreadyValidated skips validation for callers that validated the
	// input themselves.
	AlreadyValidated bool `json:"-" validate:"-"`
}

func (l *Ledger) validateAddInput(in *AddTransactionInput) error {
	if err := l.structErr(in); err != nil {
		return err
	}

	if err := in.Metadata.Validate(l.maxMetadataBytes); err != nil {
		return &ValidationError{Field: "metadata", Message: err.Error(), Err: err}
	}

	switch {
	case in.Type == txn.TypeHold:
		if in.State != txn.StateNone && in.State != txn.StateOpen {
			return invalid("state", "holds are written in state OPEN")
		}
		if !in.ExpiresAt.IsZero() && !in.ExpiresAt.After(l.now()) {
			return invalid("expires_at", "must be in the future")
		}
	case in.State != txn.StateNone:
		return invalid("state", "only holds carry a state")
	}

	return nil
}

// AddTransaction validates and persists exactly one ledger row with
// version 1. Store failures leave nothing written.
func (l *Ledger) AddTransaction(ctx context.Context, in AddTransactionInput) (t *txn.Transaction, err error) {
	ctx, span := l.startSpan(ctx, "AddTransaction",
		attribute.String("tokenledger.type", string(in.Type)),
		attribute.String("tokenledger.ref_id", in.RefID),
	)
	defer func() { endSpan(span, err) }()

	if !in.AlreadyValidated {
		if err := l.validateAddInput(&in); err != nil {
			return nil, err
		}
	}

	return l.write(ctx, &in)
}

func (l *Ledger) write(ctx context.Context, in *AddTransactionInput) (*txn.Transaction, error) {
	if in.IdempotencyKey != "" {
		existing, err := l.store.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		switch {
		case err == nil:
			return l.replay(existing, in)
		case !errors.Is(err, ErrNotFound):
			return nil, &QueryError{Op: "lookup idempotency key", Err: err}
		}
	}

	row := l.newRow(in)

	if err := l.store.Create(ctx, row); err != nil {
		if in.IdempotencyKey != "" && errors.Is(err, ErrAlreadyExists) {
			existing, getErr := l.store.GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if getErr == nil {
				return l.replay(existing, in)
			}
		}
		return nil, &StoreError{Op: "create transaction", Err: err}
	}

	l.logger.Debug("transaction recorded",
		"transaction_id", row.ID.String(),
		"type", string(row.Type),
		"user_id", row.UserID,
		"beneficiary_id", row.BeneficiaryID,
		"amount", row.Amount,
		"ref_id", row.RefID,
	)

	l.plugins.EmitTransactionRecorded(ctx, row)
	return row, nil
}

func (l *Ledger) newRow(in *AddTransactionInput) *txn.Transaction {
	now := l.now()

	row := &txn.Transaction{
		Entity:         types.NewEntityAt(now),
		ID:             id.NewTransactionID(),
		UserID:         in.UserID,
		BeneficiaryID:  in.BeneficiaryID,
		Type:           in.Type,
		Amount:         in.Amount,
		Purpose:        in.Purpose,
		RefID:          in.RefID,
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       in.Metadata,
		ExpiresAt:      in.ExpiresAt.UTC(),
		State:          in.State,
		Version:        1,
	}

	if row.RefID == "" {
		row.RefID = GenerateRefID()
	}

	if row.Type == txn.TypeHold {
		row.State = txn.StateOpen
		if in.ExpiresAt.IsZero() {
			row.ExpiresAt = now.Add(l.defaultHoldTTL).UTC()
		}
	} else if in.ExpiresAt.IsZero() {
		row.ExpiresAt = txn.NeverExpires
	}

	return row
}

// replay returns an existing row for a repeated idempotent write, or a
// validation error when the key was reused for a different write. Only
// immutable fields are compared; metadata changes when holds settle.
func (l *Ledger) replay(existing *txn.Transaction, in *AddTransactionInput) (*txn.Transaction, error) {
	same := existing.UserID == in.UserID &&
		existing.BeneficiaryID == in.BeneficiaryID &&
		existing.Type == in.Type &&
		existing.Amount == in.Amount &&
		existing.Purpose == in.Purpose &&
		(in.RefID == "" || existing.RefID == in.RefID)

	if !same {
		return nil, &ValidationError{
			Field:   "idempotency_key",
			Message: "already used for transaction " + existing.ID.String(),
			Err:     ErrIdempotencyMismatch,
		}
	}

	l.logger.Debug("idempotent replay",
		"transaction_id", existing.ID.String(),
		"idempotency_key", in.IdempotencyKey,
	)

	return existing, nil
}

// GenerateRefID returns a fresh no_ref_ correlation value.
func GenerateRefID() string {
	return txn.RefPrefixGenerated + uuid.NewString()
}
