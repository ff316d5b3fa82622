// Package audithook bridges token ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit system. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

//go:generate mockgen -destination=mocks/mock_recorder.go -source=extension.go Recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/txn"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnTransactionRecorded   = (*Extension)(nil)
	_ plugin.OnHoldOpened            = (*Extension)(nil)
	_ plugin.OnHoldCaptured          = (*Extension)(nil)
	_ plugin.OnHoldReversed          = (*Extension)(nil)
	_ plugin.OnHoldExtended          = (*Extension)(nil)
	_ plugin.OnExpiredHoldsProcessed = (*Extension)(nil)
	_ plugin.OnTransferCompleted     = (*Extension)(nil)
	_ plugin.OnTransferFailed        = (*Extension)(nil)
	_ plugin.OnNegativeBalance       = (*Extension)(nil)
	_ plugin.OnIntegrityViolation    = (*Extension)(nil)
	_ plugin.OnPurgeCompleted        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges ledger events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Write hooks
// ──────────────────────────────────────────────────

// OnTransactionRecorded implements plugin.OnTransactionRecorded.
func (e *Extension) OnTransactionRecorded(ctx context.Context, t *txn.Transaction) error {
	return e.record(ctx, ActionTransactionRecorded, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, t.ID.String(), CategoryLedger, nil,
		rowFields(t)...,
	)
}

// ──────────────────────────────────────────────────
// Hold lifecycle hooks
// ──────────────────────────────────────────────────

// OnHoldOpened implements plugin.OnHoldOpened.
func (e *Extension) OnHoldOpened(ctx context.Context, t *txn.Transaction) error {
	return e.record(ctx, ActionHoldOpened, SeverityInfo, OutcomeSuccess,
		ResourceHold, t.ID.String(), CategoryHold, nil,
		append(rowFields(t), "expires_at", t.ExpiresAt)...,
	)
}

// OnHoldCaptured implements plugin.OnHoldCaptured.
func (e *Extension) OnHoldCaptured(ctx context.Context, t *txn.Transaction) error {
	return e.record(ctx, ActionHoldCaptured, SeverityInfo, OutcomeSuccess,
		ResourceHold, t.ID.String(), CategoryHold, nil,
		"ref_id", t.RefID,
		"version", t.Version,
	)
}

// OnHoldReversed implements plugin.OnHoldReversed.
func (e *Extension) OnHoldReversed(ctx context.Context, t *txn.Transaction, reason string) error {
	return e.record(ctx, ActionHoldReversed, SeverityInfo, OutcomeSuccess,
		ResourceHold, t.ID.String(), CategoryHold, nil,
		"ref_id", t.RefID,
		"version", t.Version,
		"reversal_reason", reason,
	)
}

// OnHoldExtended implements plugin.OnHoldExtended.
func (e *Extension) OnHoldExtended(ctx context.Context, t *txn.Transaction, previous time.Time) error {
	return e.record(ctx, ActionHoldExtended, SeverityInfo, OutcomeSuccess,
		ResourceHold, t.ID.String(), CategoryHold, nil,
		"ref_id", t.RefID,
		"previous_expires_at", previous,
		"expires_at", t.ExpiresAt,
	)
}

// OnExpiredHoldsProcessed implements plugin.OnExpiredHoldsProcessed. Empty
// batches are not audited.
func (e *Extension) OnExpiredHoldsProcessed(ctx context.Context, reversed, failed int, elapsed time.Duration) error {
	if reversed == 0 && failed == 0 {
		return nil
	}
	severity, outcome := SeverityInfo, OutcomeSuccess
	if failed > 0 {
		severity, outcome = SeverityWarning, OutcomePartial
	}
	return e.record(ctx, ActionHoldsExpired, severity, outcome,
		ResourceHold, "", CategoryHold, nil,
		"reversed", reversed,
		"failed", failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnTransferCompleted implements plugin.OnTransferCompleted.
func (e *Extension) OnTransferCompleted(ctx context.Context, debit, credit *txn.Transaction) error {
	return e.record(ctx, ActionTransferCompleted, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, debit.RefID, CategoryTransfer, nil,
		"from_user_id", debit.UserID,
		"to_user_id", credit.UserID,
		"amount", debit.Amount,
		"debit_id", debit.ID.String(),
		"credit_id", credit.ID.String(),
	)
}

// OnTransferFailed implements plugin.OnTransferFailed. A failed credit leg
// leaves a debit behind and is recorded as critical.
func (e *Extension) OnTransferFailed(ctx context.Context, refID string, leg string, err error) error {
	severity, outcome := SeverityError, OutcomeFailure
	if leg == "credit" {
		severity, outcome = SeverityCritical, OutcomePartial
	}
	return e.record(ctx, ActionTransferFailed, severity, outcome,
		ResourceTransfer, refID, CategoryTransfer, err,
		"failed_leg", leg,
	)
}

// ──────────────────────────────────────────────────
// Integrity hooks
// ──────────────────────────────────────────────────

// OnNegativeBalance implements plugin.OnNegativeBalance.
func (e *Extension) OnNegativeBalance(ctx context.Context, userID string, paid, total int64) error {
	return e.record(ctx, ActionBalanceNegative, SeverityWarning, OutcomeFailure,
		ResourceBalance, userID, CategoryIntegrity, nil,
		"paid_tokens", paid,
		"total_tokens", total,
	)
}

// OnIntegrityViolation implements plugin.OnIntegrityViolation.
func (e *Extension) OnIntegrityViolation(ctx context.Context, txID string, kind string, detail string) error {
	return e.record(ctx, ActionIntegrityViolation, SeverityCritical, OutcomeFailure,
		ResourceTransaction, txID, CategoryIntegrity, nil,
		"kind", kind,
		"detail", detail,
	)
}

// ──────────────────────────────────────────────────
// Retention hooks
// ──────────────────────────────────────────────────

// OnPurgeCompleted implements plugin.OnPurgeCompleted. Dry runs change
// nothing and are not audited.
func (e *Extension) OnPurgeCompleted(ctx context.Context, scanned, deleted, failed int, dryRun bool) error {
	if dryRun {
		return nil
	}
	outcome := OutcomeSuccess
	if failed > 0 {
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionRecordsPurged, SeverityWarning, outcome,
		ResourceRegistry, "", CategoryRetention, nil,
		"scanned", scanned,
		"deleted", deleted,
		"failed", failed,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func rowFields(t *txn.Transaction) []any {
	return []any{
		"type", string(t.Type),
		"user_id", t.UserID,
		"beneficiary_id", t.BeneficiaryID,
		"amount", t.Amount,
		"ref_id", t.RefID,
	}
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
