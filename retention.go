package tokenledger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
)

// PurgeOutcome describes what a purge run did, or would do, with one row.
type PurgeOutcome string

const (
	PurgeWouldDelete     PurgeOutcome = "would_delete"
	PurgeDeleted         PurgeOutcome = "deleted"
	PurgeArchived        PurgeOutcome = "archived"
	PurgeSkippedOpenHold PurgeOutcome = "skipped_open_hold"
	PurgeFailed          PurgeOutcome = "failed"
)

// PurgeItem is the per-row entry of a PurgeReport.
type PurgeItem struct {
	TransactionID id.TransactionID `json:"transaction_id"`
	Outcome       PurgeOutcome     `json:"outcome"`
	Err           error            `json:"-"`
}

// PurgeReport lists every row a purge run considered.
type PurgeReport struct {
	DryRun  bool        `json:"dry_run"`
	Archive bool        `json:"archive"`
	Cutoff  time.Time   `json:"cutoff"`
	Items   []PurgeItem `json:"items"`
}

// Count returns how many rows ended with outcome o.
func (r *PurgeReport) Count(o PurgeOutcome) int {
	n := 0
	for _, it := range r.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// PurgeOption configures PurgeOldRegistryRecords.
type PurgeOption func(*purgeConfig)

type purgeConfig struct {
	dryRun  bool
	archive bool
}

// WithPurgeExecute turns a purge from a dry run into real deletes.
func WithPurgeExecute() PurgeOption {
	return func(c *purgeConfig) { c.dryRun = false }
}

// WithPurgeArchive copies each row to the archive table before deleting
// it. A row whose archive write fails is left in place.
func WithPurgeArchive() PurgeOption {
	return func(c *purgeConfig) { c.archive = true }
}

// PurgeOldRegistryRecords deletes up to limit rows written before
// olderThan. It is a dry run unless WithPurgeExecute is given. OPEN holds
// are never purged, and a hold with no state is kept and reported as failed. Row failures are reported and do not stop the run.
func (l *Ledger) PurgeOldRegistryRecords(ctx context.Context, olderThan time.Time, limit int, opts ...PurgeOption) (report *PurgeReport, err error) {
	cfg := purgeConfig{dryRun: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := l.startSpan(ctx, "PurgeOldRegistryRecords",
		attribute.Bool("tokenledger.dry_run", cfg.dryRun),
		attribute.Bool("tokenledger.archive", cfg.archive),
		attribute.Int("tokenledger.limit", limit),
	)
	defer func() { endSpan(span, err) }()

	if olderThan.IsZero() {
		return nil, invalid("older_than", "is required")
	}
	if limit <= 0 {
		limit = DefaultPurgeLimit
	}

	rows, err := l.store.ListCreatedBefore(ctx, olderThan.UTC(), limit)
	if err != nil {
		return nil, &QueryError{Op: "scan old records", Err: err}
	}

	report = &PurgeReport{DryRun: cfg.dryRun, Archive: cfg.archive, Cutoff: olderThan.UTC()}
	for _, row := range rows {
		report.Items = append(report.Items, l.purgeRow(ctx, row, cfg))
	}

	deleted := report.Count(PurgeDeleted) + report.Count(PurgeArchived)
	failed := report.Count(PurgeFailed)

	l.logger.Info("purge completed",
		"dry_run", cfg.dryRun,
		"archive", cfg.archive,
		"cutoff", report.Cutoff,
		"scanned", len(rows),
		"deleted", deleted,
		"would_delete", report.Count(PurgeWouldDelete),
		"failed", failed,
	)
	l.plugins.EmitPurgeCompleted(ctx, len(rows), deleted, failed, cfg.dryRun)

	return report, nil
}

func (l *Ledger) purgeRow(ctx context.Context, row *txn.Transaction, cfg purgeConfig) PurgeItem {
	item := PurgeItem{TransactionID: row.ID}

	switch {
	case row.IsHold() && row.State == txn.StateOpen:
		item.Outcome = PurgeSkippedOpenHold
		return item
	case row.IsHold() && row.State == txn.StateNone:
		return l.purgeCorrupted(ctx, item, row)
	case cfg.dryRun:
		item.Outcome = PurgeWouldDelete
		return item
	}

	if cfg.archive {
		if err := l.store.Archive(ctx, row); err != nil {
			return l.purgeFailed(item, &StoreError{Op: "archive transaction", Err: err})
		}
	}

	if err := l.store.Delete(ctx, row.ID); err != nil {
		return l.purgeFailed(item, &StoreError{Op: "delete transaction", Err: err})
	}

	item.Outcome = PurgeDeleted
	if cfg.archive {
		item.Outcome = PurgeArchived
	}
	return item
}

// purgeCorrupted keeps a stateless hold: its tokens may still be reserved,
// so it is reported instead of deleted, in dry runs too.
func (l *Ledger) purgeCorrupted(ctx context.Context, item PurgeItem, row *txn.Transaction) PurgeItem {
	l.logger.Error("hold has no state; not purging",
		"transaction_id", row.ID.String(),
		"ref_id", row.RefID,
		"version", row.Version,
	)
	l.plugins.EmitIntegrityViolation(ctx, row.ID.String(), ViolationMissingState, "ref "+row.RefID)
	item.Outcome = PurgeFailed
	item.Err = fmt.Errorf("%w: %s", ErrCorruptedHold, row.ID)
	return item
}

func (l *Ledger) purgeFailed(item PurgeItem, err error) PurgeItem {
	l.logger.Warn("purge row failed",
		"transaction_id", item.TransactionID.String(),
		"error", err,
	)
	item.Outcome = PurgeFailed
	item.Err = err
	return item
}
