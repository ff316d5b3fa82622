package extension

import (
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/store"
)

// Option configures the token ledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a tokenledger.Option through to the underlying engine.
func WithLedgerOption(opt tokenledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, tokenledger.WithPlugin(p))
	}
}

// WithSweepLocker makes the expiry sweeper take a distributed lock, so
// only one replica sweeps at a time.
func WithSweepLocker(locker tokenledger.Locker) Option {
	return func(e *Extension) { e.locker = locker }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithDefaultHoldTTL sets the expiry of holds opened without one.
func WithDefaultHoldTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.DefaultHoldTTL = d }
}

// WithDisableExpirySweep stops the background expiry sweeper.
func WithDisableExpirySweep() Option {
	return func(e *Extension) { e.config.DisableExpirySweep = true }
}

// WithExpirySweep sets the sweeper interval, grace period and batch size.
func WithExpirySweep(interval, grace time.Duration, batchSize int) Option {
	return func(e *Extension) {
		e.config.ExpirySweepInterval = interval
		e.config.ExpiryGracePeriod = grace
		e.config.ExpiryBatchSize = batchSize
	}
}

// WithCircuitBreaker wraps the store in a circuit breaker.
func WithCircuitBreaker() Option {
	return func(e *Extension) { e.config.CircuitBreaker = true }
}
