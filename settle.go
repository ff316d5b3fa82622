package tokenledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

// unparsedMetadataKey holds stored metadata that could not be decoded when
// a settlement record had to be merged into it.
const unparsedMetadataKey = "_unparsed_metadata"

// Integrity violation kinds reported to plugins.
const (
	ViolationMissingState = "hold_missing_state"
	ViolationMultipleOpen = "multiple_open_holds"
	ViolationBadMetadata  = "unparseable_metadata"
)

// Reversal reasons recorded in hold metadata.
const (
	ReversalReasonManual  = "manual"
	ReversalReasonExpired = "expired"
)

const (
	operationCapture      = "capture"
	operationReverse      = "reverse"
	operationExtendExpiry = "extend_expiry"
)

// HoldTarget selects the hold(s) an operation applies to: one row by ID or
// every HOLD row sharing a RefID. Exactly one field must be set.
type HoldTarget struct {
	TransactionID id.TransactionID
	RefID         string
}

// HoldByID targets a single hold row.
func HoldByID(txID id.TransactionID) HoldTarget {
	return HoldTarget{TransactionID: txID}
}

// HoldByRef targets the hold rows carrying refID.
func HoldByRef(refID string) HoldTarget {
	return HoldTarget{RefID: refID}
}

func (t HoldTarget) validate() error {
	switch {
	case t.TransactionID.IsNil() && t.RefID == "":
		return invalid("target", "transaction id or ref id is required")
	case !t.TransactionID.IsNil() && t.RefID != "":
		return invalid("target", "set either transaction id or ref id, not both")
	}
	return nil
}

func (t HoldTarget) String() string {
	if !t.TransactionID.IsNil() {
		return t.TransactionID.String()
	}
	return "ref:" + t.RefID
}

// RowFailure records why one row of a batch was not processed.
type RowFailure struct {
	TransactionID id.TransactionID `json:"transaction_id"`
	Err           error            `json:"-"`
}

// SettlementReport summarizes a hold operation over one or more rows.
type SettlementReport struct {
	Operation string             `json:"operation"`
	Target    string             `json:"target"`
	Succeeded []*txn.Transaction `json:"succeeded"`
	Failed    []RowFailure       `json:"failed"`
}

// First returns the first updated row, or nil.
func (r *SettlementReport) First() *txn.Transaction {
	if len(r.Succeeded) == 0 {
		return nil
	}
	return r.Succeeded[0]
}

func (r *SettlementReport) fail(txID id.TransactionID, err error) {
	r.Failed = append(r.Failed, RowFailure{TransactionID: txID, Err: err})
}

// err is nil when any row succeeded. Otherwise it is the single failure,
// or a MultiError over all of them.
func (r *SettlementReport) err() error {
	if len(r.Succeeded) > 0 || len(r.Failed) == 0 {
		return nil
	}
	if len(r.Failed) == 1 {
		return r.Failed[0].Err
	}
	var me MultiError
	for _, f := range r.Failed {
		me.Add(f.Err)
	}
	return me
}

// SettleOption configures capture and reversal.
type SettleOption func(*settleConfig)

type settleConfig struct {
	note   string
	reason string
}

// WithNote attaches a free-text note to the settlement record.
func WithNote(note string) SettleOption {
	return func(c *settleConfig) { c.note = note }
}

// WithReason sets the reversal reason. Defaults to "manual".
func WithReason(reason string) SettleOption {
	return func(c *settleConfig) { c.reason = reason }
}

// locateHolds resolves a target to HOLD rows.
func (l *Ledger) locateHolds(ctx context.Context, target HoldTarget) ([]*txn.Transaction, error) {
	if !target.TransactionID.IsNil() {
		row, err := l.store.Get(ctx, target.TransactionID)
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, &NotFoundError{Resource: "hold", Key: target.String()}
		case err != nil:
			return nil, &QueryError{Op: "get hold", Err: err}
		case !row.IsHold():
			return nil, &ValidationError{Field: "target", Message: target.String() + " is a " + string(row.Type), Err: ErrNotAHold}
		}
		return []*txn.Transaction{row}, nil
	}

	rows, err := l.store.ListByRefAndType(ctx, target.RefID, txn.TypeHold)
	if err != nil {
		return nil, &QueryError{Op: "query ref index", Err: err}
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Resource: "hold", Key: target.String()}
	}
	return rows, nil
}

// eligibleHolds keeps rows in explicit OPEN state. Rows without a state
// are recorded as corrupted. Terminal rows are recorded as conflicts only
// when nothing is eligible, since a ref may legitimately carry settled
// history next to its live hold.
func (l *Ledger) eligibleHolds(ctx context.Context, rows []*txn.Transaction, report *SettlementReport) []*txn.Transaction {
	var open, terminal []*txn.Transaction

	for _, row := range rows {
		switch {
		case row.State == txn.StateOpen:
			open = append(open, row)
		case row.State == txn.StateNone:
			l.reportCorrupted(ctx, row, report)
		default:
			terminal = append(terminal, row)
		}
	}

	if len(open) > 1 {
		l.logger.Warn("multiple open holds share a ref",
			"ref_id", open[0].RefID,
			"count", len(open),
		)
		for _, row := range open {
			l.plugins.EmitIntegrityViolation(ctx, row.ID.String(), ViolationMultipleOpen, "ref "+row.RefID)
		}
	}

	if len(open) == 0 {
		for _, row := range terminal {
			report.fail(row.ID, &VersionConflictError{
				TransactionID:   row.ID,
				ExpectedVersion: row.Version,
				ExpectedState:   txn.StateOpen,
				ActualVersion:   row.Version,
				ActualState:     row.State,
			})
		}
	}

	return open
}

func (l *Ledger) reportCorrupted(ctx context.Context, row *txn.Transaction, report *SettlementReport) {
	l.logger.Error("hold has no state; skipping",
		"transaction_id", row.ID.String(),
		"ref_id", row.RefID,
		"version", row.Version,
	)
	l.plugins.EmitIntegrityViolation(ctx, row.ID.String(), ViolationMissingState, "ref "+row.RefID)
	report.fail(row.ID, fmt.Errorf("%w: %s", ErrCorruptedHold, row.ID))
}

// transition moves an OPEN hold to a terminal state with a conditional
// update, appending a settlement record to its metadata.
func (l *Ledger) transition(ctx context.Context, row *txn.Transaction, to txn.State, cfg settleConfig) (*txn.Transaction, error) {
	now := l.now().UTC()

	record := map[string]any{"at": now.Format(time.RFC3339Nano)}
	if cfg.note != "" {
		record["note"] = cfg.note
	}
	key := "capture"
	if to == txn.StateReversed {
		key = "reversal"
		record["reason"] = cfg.reason
	}

	return l.conditionalUpdate(ctx, row, txn.StateOpen, txn.Mutation{
		State:     txn.StatePtr(to),
		Metadata:  l.mergeMetadata(ctx, row, key, record),
		SettledAt: &now,
	})
}

// mergeMetadata appends key to the row's metadata. Metadata that cannot be
// decoded is kept verbatim under unparsedMetadataKey.
func (l *Ledger) mergeMetadata(ctx context.Context, row *txn.Transaction, key string, value any) types.Metadata {
	merged, err := row.Metadata.With(key, value)
	if err == nil {
		return merged
	}

	l.logger.Error("unparseable transaction metadata; preserving raw payload",
		"transaction_id", row.ID.String(),
		"raw_metadata", string(row.Metadata),
		"error", err,
	)
	l.plugins.EmitIntegrityViolation(ctx, row.ID.String(), ViolationBadMetadata, err.Error())

	return types.MustMetadata(map[string]any{
		unparsedMetadataKey: string(row.Metadata),
		key:                 value,
	})
}

// conditionalUpdate applies m only if the row is still at the version and
// state it was read at. Version and UpdatedAt are filled in here.
func (l *Ledger) conditionalUpdate(ctx context.Context, row *txn.Transaction, expected txn.State, m txn.Mutation) (*txn.Transaction, error) {
	m.Version = row.Version + 1
	m.UpdatedAt = l.now().UTC()

	updated, err := l.store.Update(ctx, row.ID, m, txn.Condition{
		Version: row.Version,
		State:   txn.StatePtr(expected),
	})
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, ErrConditionFailed):
		return nil, l.conflict(ctx, row, expected)
	case errors.Is(err, ErrNotFound):
		return nil, &NotFoundError{Resource: "transaction", Key: row.ID.String()}
	default:
		return nil, &StoreError{Op: "update hold", Err: err}
	}
}

// conflict re-reads the row so the caller sees what it lost to.
func (l *Ledger) conflict(ctx context.Context, row *txn.Transaction, expected txn.State) error {
	ce := &VersionConflictError{
		TransactionID:   row.ID,
		ExpectedVersion: row.Version,
		ExpectedState:   expected,
	}

	current, err := l.store.Get(ctx, row.ID)
	switch {
	case err == nil:
		ce.ActualVersion = current.Version
		ce.ActualState = current.State
	case errors.Is(err, ErrNotFound):
		return &NotFoundError{Resource: "transaction", Key: row.ID.String()}
	default:
		l.logger.Warn("re-read after version conflict failed",
			"transaction_id", row.ID.String(),
			"error", err,
		)
	}

	return ce
}
