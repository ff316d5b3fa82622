package tokenledger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
)

// ExpiryReport summarizes one expiry batch.
type ExpiryReport struct {
	Scanned  int           `json:"scanned"`
	Reversed []id.ID       `json:"reversed"`
	Failed   []RowFailure  `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
	Cutoff   time.Time     `json:"cutoff"`
}

func clampBatch(batchSize int) int {
	switch {
	case batchSize <= 0:
		return DefaultExpiryBatchSize
	case batchSize > MaxExpiryBatchSize:
		return MaxExpiryBatchSize
	}
	return batchSize
}

// FindExpiredHolds returns up to batchSize OPEN holds whose expiry is
// strictly before now minus grace.
func (l *Ledger) FindExpiredHolds(ctx context.Context, grace time.Duration, batchSize int) (rows []*txn.Transaction, err error) {
	ctx, span := l.startSpan(ctx, "FindExpiredHolds", attribute.Int("tokenledger.batch_size", batchSize))
	defer func() { endSpan(span, err) }()

	if grace < 0 {
		return nil, invalid("grace", "must not be negative")
	}
	return l.findExpired(ctx, l.now().Add(-grace), clampBatch(batchSize))
}

func (l *Ledger) findExpired(ctx context.Context, cutoff time.Time, limit int) ([]*txn.Transaction, error) {
	rows, err := l.store.ListExpiredHolds(ctx, cutoff.UTC(), limit)
	if err != nil {
		return nil, &QueryError{Op: "query expired holds", Err: err}
	}
	return rows, nil
}

// ProcessExpiredHolds reverses one batch of expired holds. Rows are
// reversed as fetched and fail independently; only a failure of the batch
// query itself is returned as an error.
func (l *Ledger) ProcessExpiredHolds(ctx context.Context, grace time.Duration, batchSize int) (report *ExpiryReport, err error) {
	ctx, span := l.startSpan(ctx, "ProcessExpiredHolds", attribute.Int("tokenledger.batch_size", batchSize))
	defer func() { endSpan(span, err) }()

	if grace < 0 {
		return nil, invalid("grace", "must not be negative")
	}

	start := l.now()
	report = &ExpiryReport{Cutoff: start.Add(-grace).UTC()}

	rows, err := l.findExpired(ctx, report.Cutoff, clampBatch(batchSize))
	if err != nil {
		return nil, err
	}
	report.Scanned = len(rows)

	settled := &SettlementReport{Operation: operationReverse}
	cfg := settleConfig{reason: ReversalReasonExpired}
	for _, row := range rows {
		if row.State != txn.StateOpen {
			l.reportCorrupted(ctx, row, settled)
			continue
		}
		l.settleRow(ctx, row, txn.StateReversed, cfg, settled)
	}

	for _, t := range settled.Succeeded {
		report.Reversed = append(report.Reversed, t.ID)
	}
	report.Failed = settled.Failed
	report.Elapsed = l.now().Sub(start)

	if report.Scanned > 0 {
		l.logger.Info("expired holds processed",
			"scanned", report.Scanned,
			"reversed", len(report.Reversed),
			"failed", len(report.Failed),
			"elapsed", report.Elapsed,
		)
	}
	l.plugins.EmitExpiredHoldsProcessed(ctx, len(report.Reversed), len(report.Failed), report.Elapsed)

	return report, nil
}

// SweepExpiredHolds runs expiry batches with the sweeper's configuration
// until a batch comes back short. With a sweep locker configured it first
// takes the sweep lock and fails with ErrLockHeld if another process has it.
func (l *Ledger) SweepExpiredHolds(ctx context.Context) (*ExpiryReport, error) {
	if l.sweepLocker != nil {
		release, err := l.sweepLocker.Acquire(ctx, sweepLockKey, l.sweepLockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(ctx); err != nil {
				l.logger.Warn("release sweep lock failed", "error", err)
			}
		}()
	}

	total := &ExpiryReport{}
	batch := clampBatch(l.sweepBatchSize)

	for i := 0; i < maxSweepBatches; i++ {
		report, err := l.ProcessExpiredHolds(ctx, l.sweepGrace, batch)
		if err != nil {
			return total, err
		}
		total.Scanned += report.Scanned
		total.Reversed = append(total.Reversed, report.Reversed...)
		total.Failed = append(total.Failed, report.Failed...)
		total.Elapsed += report.Elapsed
		total.Cutoff = report.Cutoff

		// Failed rows stay OPEN and would be refetched forever.
		if report.Scanned < batch || len(report.Reversed) == 0 {
			break
		}
	}

	return total, nil
}
