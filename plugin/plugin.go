// Package plugin provides the hook system the ledger engine dispatches to.
// Plugins implement Plugin plus any subset of the hook interfaces below;
// the registry discovers hooks at registration time.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/tokenledger/txn"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Write hooks
// ──────────────────────────────────────────────────

// OnTransactionRecorded is called after any row is written, holds and
// transfer legs included. Idempotent replays do not fire it.
type OnTransactionRecorded interface {
	Plugin
	OnTransactionRecorded(ctx context.Context, t *txn.Transaction) error
}

// ──────────────────────────────────────────────────
// Hold lifecycle hooks
// ──────────────────────────────────────────────────

// OnHoldOpened is called after a hold is written in state OPEN.
type OnHoldOpened interface {
	Plugin
	OnHoldOpened(ctx context.Context, t *txn.Transaction) error
}

// OnHoldCaptured is called after a hold moves to CAPTURED.
type OnHoldCaptured interface {
	Plugin
	OnHoldCaptured(ctx context.Context, t *txn.Transaction) error
}

// OnHoldReversed is called after a hold moves to REVERSED.
type OnHoldReversed interface {
	Plugin
	OnHoldReversed(ctx context.Context, t *txn.Transaction, reason string) error
}

// OnHoldExtended is called after an OPEN hold's expiry is moved.
type OnHoldExtended interface {
	Plugin
	OnHoldExtended(ctx context.Context, t *txn.Transaction, previous time.Time) error
}

// OnExpiredHoldsProcessed is called after each expiry batch.
type OnExpiredHoldsProcessed interface {
	Plugin
	OnExpiredHoldsProcessed(ctx context.Context, reversed, failed int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnTransferCompleted is called when both legs of a transfer are written.
type OnTransferCompleted interface {
	Plugin
	OnTransferCompleted(ctx context.Context, debit, credit *txn.Transaction) error
}

// OnTransferFailed is called when a transfer leg fails. A failed credit
// leg means the debit leg is already written.
type OnTransferFailed interface {
	Plugin
	OnTransferFailed(ctx context.Context, refID string, leg string, err error) error
}

// ──────────────────────────────────────────────────
// Balance and integrity hooks
// ──────────────────────────────────────────────────

// OnNegativeBalance is called when a derived balance has a negative bucket.
type OnNegativeBalance interface {
	Plugin
	OnNegativeBalance(ctx context.Context, userID string, paid, total int64) error
}

// OnIntegrityViolation is called when stored rows break a ledger
// invariant, e.g. a hold without state or two OPEN holds on one ref.
type OnIntegrityViolation interface {
	Plugin
	OnIntegrityViolation(ctx context.Context, txID string, kind string, detail string) error
}

// ──────────────────────────────────────────────────
// Retention hooks
// ──────────────────────────────────────────────────

// OnPurgeCompleted is called after a purge run, dry runs included.
type OnPurgeCompleted interface {
	Plugin
	OnPurgeCompleted(ctx context.Context, scanned, deleted, failed int, dryRun bool) error
}
