package tokenledger

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

// TransferInput moves paid tokens from one user to another.
type TransferInput struct {
	FromUserID string         `json:"from_user_id" validate:"required,notblank,max=256"`
	ToUserID   string         `json:"to_user_id" validate:"required,notblank,max=256,nefield=FromUserID"`
	Amount     int64          `json:"amount" validate:"tokenamount"`
	Purpose    string         `json:"purpose" validate:"max=512"`
	RefID      string         `json:"ref_id" validate:"omitempty,notblank,max=256"`
	Metadata   types.Metadata `json:"metadata" validate:"-"`
}

// TransferResult holds both legs of a completed transfer.
type TransferResult struct {
	RefID  string           `json:"ref_id"`
	Debit  *txn.Transaction `json:"debit"`
	Credit *txn.Transaction `json:"credit"`
}

// TransferTokens writes a DEBIT against the sender and a CREDIT_PAID for
// the recipient under one ref. The legs are separate writes: when the
// credit fails after the debit landed, a PartialTransferError carries the
// debit row. When the caller supplied RefID, each leg is keyed by it, so
// calling again with the same input writes only the missing leg.
func (l *Ledger) TransferTokens(ctx context.Context, in TransferInput) (res *TransferResult, err error) {
	ctx, span := l.startSpan(ctx, "TransferTokens",
		attribute.String("tokenledger.ref_id", in.RefID),
		attribute.Int64("tokenledger.amount", in.Amount),
	)
	defer func() { endSpan(span, err) }()

	if err := l.structErr(in); err != nil {
		return nil, err
	}
	if err := in.Metadata.Validate(l.maxMetadataBytes); err != nil {
		return nil, &ValidationError{Field: "metadata", Message: err.Error(), Err: err}
	}

	refID, debitKey, creditKey := in.RefID, "", ""
	if refID == "" {
		refID = GenerateRefID()
	} else {
		debitKey, creditKey = refID+":"+string(LegDebit), refID+":"+string(LegCredit)
	}

	res = &TransferResult{RefID: refID}

	res.Debit, err = l.write(ctx, &AddTransactionInput{
		UserID:           in.FromUserID,
		BeneficiaryID:    in.ToUserID,
		Type:             txn.TypeDebit,
		Amount:           in.Amount,
		Purpose:          in.Purpose,
		RefID:            refID,
		IdempotencyKey:   debitKey,
		Metadata:         in.Metadata,
		AlreadyValidated: true,
	})
	if err != nil {
		l.plugins.EmitTransferFailed(ctx, refID, string(LegDebit), err)
		return nil, err
	}

	res.Credit, err = l.write(ctx, &AddTransactionInput{
		UserID:           in.ToUserID,
		BeneficiaryID:    in.FromUserID,
		Type:             txn.TypeCreditPaid,
		Amount:           in.Amount,
		Purpose:          in.Purpose,
		RefID:            refID,
		IdempotencyKey:   creditKey,
		Metadata:         in.Metadata,
		AlreadyValidated: true,
	})
	if err != nil {
		l.logger.Error("transfer credit leg failed after debit",
			"ref_id", refID,
			"debit_id", res.Debit.ID.String(),
			"from_user_id", in.FromUserID,
			"to_user_id", in.ToUserID,
			"amount", in.Amount,
			"error", err,
		)
		l.plugins.EmitTransferFailed(ctx, refID, string(LegCredit), err)
		return nil, &PartialTransferError{RefID: refID, FailedLeg: LegCredit, Debit: res.Debit, Err: err}
	}

	l.plugins.EmitTransferCompleted(ctx, res.Debit, res.Credit)
	return res, nil
}
