// Package observability provides a metrics extension for the token ledger
// that records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/txn"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnTransactionRecorded   = (*MetricsExtension)(nil)
	_ plugin.OnHoldOpened            = (*MetricsExtension)(nil)
	_ plugin.OnHoldCaptured          = (*MetricsExtension)(nil)
	_ plugin.OnHoldReversed          = (*MetricsExtension)(nil)
	_ plugin.OnHoldExtended          = (*MetricsExtension)(nil)
	_ plugin.OnExpiredHoldsProcessed = (*MetricsExtension)(nil)
	_ plugin.OnTransferCompleted     = (*MetricsExtension)(nil)
	_ plugin.OnTransferFailed        = (*MetricsExtension)(nil)
	_ plugin.OnNegativeBalance       = (*MetricsExtension)(nil)
	_ plugin.OnIntegrityViolation    = (*MetricsExtension)(nil)
	_ plugin.OnPurgeCompleted        = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records ledger-wide lifecycle metrics.
// Register it as a ledger plugin to track token flows.
type MetricsExtension struct {
	factory MetricFactory

	// Write metrics
	TransactionsRecorded Counter
	TokensCredited       Counter
	TokensDebited        Counter
	TransactionAmount    Histogram

	// Hold metrics
	HoldsOpened    Counter
	HoldsCaptured  Counter
	HoldsReversed  Counter
	HoldsExpired   Counter
	HoldsExtended  Counter
	HoldAmount     Histogram
	ExpiryFailures Counter
	ExpiryLatency  Histogram

	// Transfer metrics
	TransfersCompleted Counter
	TransfersFailed    Counter
	PartialTransfers   Counter

	// Integrity metrics
	NegativeBalances    Counter
	IntegrityViolations Counter

	// Retention metrics
	RecordsPurged Counter
	PurgeFailures Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Write metrics
		TransactionsRecorded: factory.Counter("tokenledger.transactions.recorded"),
		TokensCredited:       factory.Counter("tokenledger.tokens.credited"),
		TokensDebited:        factory.Counter("tokenledger.tokens.debited"),
		TransactionAmount:    factory.Histogram("tokenledger.transaction.amount"),

		// Hold metrics
		HoldsOpened:    factory.Counter("tokenledger.holds.opened"),
		HoldsCaptured:  factory.Counter("tokenledger.holds.captured"),
		HoldsReversed:  factory.Counter("tokenledger.holds.reversed"),
		HoldsExpired:   factory.Counter("tokenledger.holds.expired"),
		HoldsExtended:  factory.Counter("tokenledger.holds.extended"),
		HoldAmount:     factory.Histogram("tokenledger.hold.amount"),
		ExpiryFailures: factory.Counter("tokenledger.expiry.failures"),
		ExpiryLatency:  factory.Histogram("tokenledger.expiry.latency_ms"),

		// Transfer metrics
		TransfersCompleted: factory.Counter("tokenledger.transfers.completed"),
		TransfersFailed:    factory.Counter("tokenledger.transfers.failed"),
		PartialTransfers:   factory.Counter("tokenledger.transfers.partial"),

		// Integrity metrics
		NegativeBalances:    factory.Counter("tokenledger.balance.negative"),
		IntegrityViolations: factory.Counter("tokenledger.integrity.violations"),

		// Retention metrics
		RecordsPurged: factory.Counter("tokenledger.records.purged"),
		PurgeFailures: factory.Counter("tokenledger.purge.failures"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Write hooks
// ──────────────────────────────────────────────────

// OnTransactionRecorded implements plugin.OnTransactionRecorded.
func (m *MetricsExtension) OnTransactionRecorded(_ context.Context, t *txn.Transaction) error {
	m.TransactionsRecorded.Inc()
	m.TransactionAmount.Observe(float64(t.Amount))

	switch t.Type {
	case txn.TypeCreditPaid, txn.TypeCreditFree:
		m.TokensCredited.Add(float64(t.Amount))
	case txn.TypeDebit, txn.TypeTip:
		m.TokensDebited.Add(float64(t.Amount))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Hold lifecycle hooks
// ──────────────────────────────────────────────────

// OnHoldOpened implements plugin.OnHoldOpened.
func (m *MetricsExtension) OnHoldOpened(_ context.Context, t *txn.Transaction) error {
	m.HoldsOpened.Inc()
	m.HoldAmount.Observe(float64(t.Amount))
	return nil
}

// OnHoldCaptured implements plugin.OnHoldCaptured.
func (m *MetricsExtension) OnHoldCaptured(_ context.Context, _ *txn.Transaction) error {
	m.HoldsCaptured.Inc()
	return nil
}

// OnHoldReversed implements plugin.OnHoldReversed.
func (m *MetricsExtension) OnHoldReversed(_ context.Context, _ *txn.Transaction, reason string) error {
	m.HoldsReversed.Inc()
	if reason == tokenledger.ReversalReasonExpired {
		m.HoldsExpired.Inc()
	}
	return nil
}

// OnHoldExtended implements plugin.OnHoldExtended.
func (m *MetricsExtension) OnHoldExtended(_ context.Context, _ *txn.Transaction, _ time.Time) error {
	m.HoldsExtended.Inc()
	return nil
}

// OnExpiredHoldsProcessed implements plugin.OnExpiredHoldsProcessed.
func (m *MetricsExtension) OnExpiredHoldsProcessed(_ context.Context, _, failed int, elapsed time.Duration) error {
	m.ExpiryFailures.Add(float64(failed))
	m.ExpiryLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnTransferCompleted implements plugin.OnTransferCompleted.
func (m *MetricsExtension) OnTransferCompleted(_ context.Context, _, _ *txn.Transaction) error {
	m.TransfersCompleted.Inc()
	return nil
}

// OnTransferFailed implements plugin.OnTransferFailed.
func (m *MetricsExtension) OnTransferFailed(_ context.Context, _ string, leg string, _ error) error {
	m.TransfersFailed.Inc()
	if leg == string(tokenledger.LegCredit) {
		m.PartialTransfers.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Integrity hooks
// ──────────────────────────────────────────────────

// OnNegativeBalance implements plugin.OnNegativeBalance.
func (m *MetricsExtension) OnNegativeBalance(_ context.Context, _ string, _, _ int64) error {
	m.NegativeBalances.Inc()
	return nil
}

// OnIntegrityViolation implements plugin.OnIntegrityViolation.
func (m *MetricsExtension) OnIntegrityViolation(_ context.Context, _, _, _ string) error {
	m.IntegrityViolations.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Retention hooks
// ──────────────────────────────────────────────────

// OnPurgeCompleted implements plugin.OnPurgeCompleted.
func (m *MetricsExtension) OnPurgeCompleted(_ context.Context, _, deleted, failed int, dryRun bool) error {
	if dryRun {
		return nil
	}
	m.RecordsPurged.Add(float64(deleted))
	m.PurgeFailures.Add(float64(failed))
	return nil
}
