package tokenledger

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

// HoldInput describes a token reservation. RefID is the business key the
// hold is later captured or reversed by.
type HoldInput struct {
	UserID         string         `json:"user_id" validate:"required,notblank,max=256"`
	BeneficiaryID  string         `json:"beneficiary_id" validate:"required,notblank,max=256"`
	Amount         int64          `json:"amount" validate:"tokenamount"`
	Purpose        string         `json:"purpose" validate:"max=512"`
	RefID          string         `json:"ref_id" validate:"required,notblank,max=256"`
	IdempotencyKey string         `json:"idempotency_key" validate:"omitempty,notblank,max=256"`
	Metadata       types.Metadata `json:"metadata" validate:"-"`

	// ExpiresAt defaults to now plus the ledger's default hold TTL.
	ExpiresAt time.Time `json:"expires_at" validate:"-"`
}

func (in HoldInput) transaction() AddTransactionInput {
	return AddTransactionInput{
		UserID:         in.UserID,
		BeneficiaryID:  in.BeneficiaryID,
		Type:           txn.TypeHold,
		Amount:         in.Amount,
		Purpose:        in.Purpose,
		RefID:          in.RefID,
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       in.Metadata,
		ExpiresAt:      in.ExpiresAt,
		State:          txn.StateOpen,
	}
}

// HoldTokens reserves tokens by writing a HOLD row in state OPEN. It fails
// with a DuplicateHoldError when an OPEN hold already exists for the ref.
// The check is a read before the write, so two concurrent calls can still
// both succeed; the hold lifecycle reports such pairs as integrity
// violations when it meets them.
func (l *Ledger) HoldTokens(ctx context.Context, in HoldInput) (t *txn.Transaction, err error) {
	ctx, span := l.startSpan(ctx, "HoldTokens",
		attribute.String("tokenledger.ref_id", in.RefID),
		attribute.Int64("tokenledger.amount", in.Amount),
	)
	defer func() { endSpan(span, err) }()

	if err := l.structErr(in); err != nil {
		return nil, err
	}
	add := in.transaction()
	if err := l.validateAddInput(&add); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		existing, err := l.store.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		switch {
		case err == nil:
			return l.replay(existing, &add)
		case !errors.Is(err, ErrNotFound):
			return nil, &QueryError{Op: "lookup idempotency key", Err: err}
		}
	}

	open, err := l.openHolds(ctx, in.RefID)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		dup := &DuplicateHoldError{RefID: in.RefID}
		for _, row := range open {
			dup.ConflictingIDs = append(dup.ConflictingIDs, row.ID)
		}
		return nil, dup
	}

	add.AlreadyValidated = true
	t, err = l.write(ctx, &add)
	if err != nil {
		return nil, err
	}

	l.logger.Info("hold opened",
		"transaction_id", t.ID.String(),
		"ref_id", t.RefID,
		"user_id", t.UserID,
		"amount", t.Amount,
		"expires_at", t.ExpiresAt,
	)
	l.plugins.EmitHoldOpened(ctx, t)

	return t, nil
}

// openHolds finds OPEN holds for a ref through the ref+state index, or
// through the ref+type index filtered here when the former is unavailable.
func (l *Ledger) openHolds(ctx context.Context, refID string) ([]*txn.Transaction, error) {
	rows, err := l.store.ListByRefAndState(ctx, refID, txn.StateOpen)
	if err == nil {
		return holdsOnly(rows), nil
	}
	if !errors.Is(err, ErrIndexUnavailable) {
		return nil, &QueryError{Op: "query ref state index", Err: err}
	}

	l.logger.Debug("ref state index unavailable; falling back to ref type index", "ref_id", refID)

	rows, err = l.store.ListByRefAndType(ctx, refID, txn.TypeHold)
	if err != nil {
		return nil, &QueryError{Op: "query ref type index", Err: err}
	}

	open := rows[:0:0]
	for _, row := range rows {
		if row.State == txn.StateOpen {
			open = append(open, row)
		}
	}
	return open, nil
}

func holdsOnly(rows []*txn.Transaction) []*txn.Transaction {
	out := rows[:0:0]
	for _, row := range rows {
		if row.IsHold() {
			out = append(out, row)
		}
	}
	return out
}

// CaptureHeldTokens moves OPEN holds to CAPTURED. Holds without a state
// are skipped and reported as corrupted; each row succeeds or fails on its
// own. The error is nil when at least one row was captured.
func (l *Ledger) CaptureHeldTokens(ctx context.Context, target HoldTarget, opts ...SettleOption) (*SettlementReport, error) {
	return l.settle(ctx, operationCapture, target, txn.StateCaptured, opts)
}

// ReverseHeldTokens moves OPEN holds to REVERSED, releasing the reserved
// tokens back to the payer's balance.
func (l *Ledger) ReverseHeldTokens(ctx context.Context, target HoldTarget, opts ...SettleOption) (*SettlementReport, error) {
	return l.settle(ctx, operationReverse, target, txn.StateReversed, opts)
}

func (l *Ledger) settle(ctx context.Context, op string, target HoldTarget, to txn.State, opts []SettleOption) (report *SettlementReport, err error) {
	ctx, span := l.startSpan(ctx, "Settle",
		attribute.String("tokenledger.operation", op),
		attribute.String("tokenledger.target", target.String()),
	)
	defer func() { endSpan(span, err) }()

	cfg := settleConfig{reason: ReversalReasonManual}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := target.validate(); err != nil {
		return nil, err
	}

	rows, err := l.locateHolds(ctx, target)
	if err != nil {
		return nil, err
	}

	report = &SettlementReport{Operation: op, Target: target.String()}
	for _, row := range l.eligibleHolds(ctx, rows, report) {
		l.settleRow(ctx, row, to, cfg, report)
	}

	return report, report.err()
}

// settleRow transitions one already-read row and records the outcome.
func (l *Ledger) settleRow(ctx context.Context, row *txn.Transaction, to txn.State, cfg settleConfig, report *SettlementReport) {
	updated, err := l.transition(ctx, row, to, cfg)
	if err != nil {
		l.logger.Warn("hold transition failed",
			"transaction_id", row.ID.String(),
			"ref_id", row.RefID,
			"to", string(to),
			"error", err,
		)
		report.fail(row.ID, err)
		return
	}

	report.Succeeded = append(report.Succeeded, updated)

	if to == txn.StateCaptured {
		l.logger.Info("hold captured", "transaction_id", updated.ID.String(), "ref_id", updated.RefID)
		l.plugins.EmitHoldCaptured(ctx, updated)
		return
	}
	l.logger.Info("hold reversed", "transaction_id", updated.ID.String(), "ref_id", updated.RefID, "reason", cfg.reason)
	l.plugins.EmitHoldReversed(ctx, updated, cfg.reason)
}

// ExtendExpiry moves the expiry of OPEN holds to newExpiresAt. A version
// bump by a concurrent extension is retried against a fresh read; a hold
// that has since settled is reported as a conflict.
func (l *Ledger) ExtendExpiry(ctx context.Context, target HoldTarget, newExpiresAt time.Time) (report *SettlementReport, err error) {
	ctx, span := l.startSpan(ctx, "ExtendExpiry",
		attribute.String("tokenledger.target", target.String()),
	)
	defer func() { endSpan(span, err) }()

	if err := target.validate(); err != nil {
		return nil, err
	}
	if !newExpiresAt.After(l.now()) {
		return nil, invalid("expires_at", "must be in the future")
	}

	rows, err := l.locateHolds(ctx, target)
	if err != nil {
		return nil, err
	}

	report = &SettlementReport{Operation: operationExtendExpiry, Target: target.String()}
	for _, row := range l.eligibleHolds(ctx, rows, report) {
		updated, previous, err := l.extendRow(ctx, row, newExpiresAt.UTC())
		if err != nil {
			report.fail(row.ID, err)
			continue
		}
		report.Succeeded = append(report.Succeeded, updated)
		l.logger.Info("hold expiry extended",
			"transaction_id", updated.ID.String(),
			"previous_expires_at", previous,
			"expires_at", updated.ExpiresAt,
		)
		l.plugins.EmitHoldExtended(ctx, updated, previous)
	}

	return report, report.err()
}

func (l *Ledger) extendRow(ctx context.Context, row *txn.Transaction, expiresAt time.Time) (*txn.Transaction, time.Time, error) {
	current := row
	var updated *txn.Transaction

	err := RetryOnConflict(ctx, l.conflictRetries, func(ctx context.Context) error {
		if current == nil {
			fresh, err := l.store.Get(ctx, row.ID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return &NotFoundError{Resource: "hold", Key: row.ID.String()}
				}
				return &QueryError{Op: "get hold", Err: err}
			}
			current = fresh
		}

		var err error
		updated, err = l.conditionalUpdate(ctx, current, txn.StateOpen, txn.Mutation{ExpiresAt: &expiresAt})
		if err != nil {
			current = nil
		}
		return err
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	previous := row.ExpiresAt
	if current != nil {
		previous = current.ExpiresAt
	}
	return updated, previous, nil
}

// GetTransaction returns one ledger row.
func (l *Ledger) GetTransaction(ctx context.Context, txID id.TransactionID) (*txn.Transaction, error) {
	t, err := l.store.Get(ctx, txID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, &NotFoundError{Resource: "transaction", Key: txID.String()}
	case err != nil:
		return nil, &QueryError{Op: "get transaction", Err: err}
	}
	return t, nil
}
