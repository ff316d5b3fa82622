package tokenledger

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/tokenledger/plugin"
)

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithTracer sets the OpenTelemetry tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Ledger) {
		l.tracer = tracer
	}
}

// WithClock replaces the wall clock. Tests use it to pin time.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithDefaultHoldTTL sets the expiry applied to holds opened without one.
func WithDefaultHoldTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.defaultHoldTTL = ttl
		}
	}
}

// WithMaxMetadataBytes bounds the encoded metadata of a written row.
func WithMaxMetadataBytes(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxMetadataBytes = n
		}
	}
}

// WithBalancePageSize sets the page size of balance index queries.
func WithBalancePageSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.balancePageSize = n
		}
	}
}

// WithConflictRetries sets how many attempts ExtendExpiry makes when a
// concurrent writer bumps the hold's version.
func WithConflictRetries(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.conflictRetries = n
		}
	}
}

// WithoutMigrate skips store migration in Start.
func WithoutMigrate() Option {
	return func(l *Ledger) {
		l.migrateOnStart = false
	}
}

// WithExpirySweep makes Start launch a worker that reverses holds expired
// for longer than grace, batchSize rows per batch, every interval.
func WithExpirySweep(interval, grace time.Duration, batchSize int) Option {
	return func(l *Ledger) {
		l.sweepEnabled = true
		if interval > 0 {
			l.sweepInterval = interval
		}
		if grace >= 0 {
			l.sweepGrace = grace
		}
		if batchSize > 0 {
			l.sweepBatchSize = batchSize
		}
	}
}

// WithSweepLocker makes each sweep acquire a distributed lock first so
// only one process sweeps at a time. ttl <= 0 uses twice the interval.
func WithSweepLocker(locker Locker, ttl time.Duration) Option {
	return func(l *Ledger) {
		l.sweepLocker = locker
		l.sweepLockTTL = ttl
	}
}
