// Package tokenledger is an append-mostly ledger of token movements for Go
// applications.
//
// Every credit, debit, tip, transfer and hold is a row in one store. Rows
// are never rewritten except for holds, which move once from OPEN to
// CAPTURED or REVERSED under an optimistic version check. Balances are
// derived from the rows on every read; nothing caches them.
//
// The ledger is a library, not a service. It provides:
//
//   - Validated, optionally idempotent writes of single rows
//   - Derived balances split into paid, free, earned and held buckets
//   - Holds with capture, reversal, expiry extension and an expiry sweeper
//   - Two-leg transfers that can be retried after a partial failure
//   - A dry-run-first purge of old rows with optional archiving
//   - Plugin hooks for audit, metrics and event publishing
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/tokenledger"
//	    "github.com/xraph/tokenledger/store/postgres"
//	)
//
//	l := tokenledger.New(postgres.New(db),
//	    tokenledger.WithLogger(slog.Default()),
//	    tokenledger.WithExpirySweep(time.Minute, 0, 25),
//	)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Holds
//
// A hold reserves paid tokens for a business operation identified by a
// RefID. At most one OPEN hold may exist per ref:
//
//	h, err := l.HoldTokens(ctx, tokenledger.HoldInput{
//	    UserID:        "payer",
//	    BeneficiaryID: "creator",
//	    Amount:        40,
//	    RefID:         "booking-1",
//	})
//
//	report, err := l.CaptureHeldTokens(ctx, tokenledger.HoldByRef("booking-1"))
//
// Two processes settling the same hold race on its version; exactly one
// wins and the other gets a *VersionConflictError.
//
// # Stores
//
// Stores live under store/: memory for tests, and postgres, sqlite and
// mongo on top of grove. store/breaker wraps any of them in a circuit
// breaker.
package tokenledger
