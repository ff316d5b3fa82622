package extension

import "time"

// Config holds the token ledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tokenledger" or "tokenledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DefaultHoldTTL is the expiry given to holds opened without one
	// (default: 15m).
	DefaultHoldTTL time.Duration `json:"default_hold_ttl" mapstructure:"default_hold_ttl" yaml:"default_hold_ttl"`

	// MaxMetadataBytes bounds the encoded metadata of a row (default: 8KiB).
	MaxMetadataBytes int `json:"max_metadata_bytes" mapstructure:"max_metadata_bytes" yaml:"max_metadata_bytes"`

	// BalancePageSize is the page size of balance index queries (default: 500).
	BalancePageSize int `json:"balance_page_size" mapstructure:"balance_page_size" yaml:"balance_page_size"`

	// ConflictRetries bounds retries of expiry extensions that lose a
	// version race (default: 3).
	ConflictRetries int `json:"conflict_retries" mapstructure:"conflict_retries" yaml:"conflict_retries"`

	// DisableExpirySweep stops the background worker that reverses
	// expired holds.
	DisableExpirySweep bool `json:"disable_expiry_sweep" mapstructure:"disable_expiry_sweep" yaml:"disable_expiry_sweep"`

	// ExpirySweepInterval is how often the sweeper runs (default: 1m).
	ExpirySweepInterval time.Duration `json:"expiry_sweep_interval" mapstructure:"expiry_sweep_interval" yaml:"expiry_sweep_interval"`

	// ExpiryGracePeriod is how long past expiry a hold may stay OPEN
	// before the sweeper reverses it (default: 0).
	ExpiryGracePeriod time.Duration `json:"expiry_grace_period" mapstructure:"expiry_grace_period" yaml:"expiry_grace_period"`

	// ExpiryBatchSize is the number of holds reversed per batch (default: 25).
	ExpiryBatchSize int `json:"expiry_batch_size" mapstructure:"expiry_batch_size" yaml:"expiry_batch_size"`

	// CircuitBreaker wraps the store in a circuit breaker.
	CircuitBreaker bool `json:"circuit_breaker" mapstructure:"circuit_breaker" yaml:"circuit_breaker"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultHoldTTL:      15 * time.Minute,
		MaxMetadataBytes:    8 << 10,
		BalancePageSize:     500,
		ConflictRetries:     3,
		ExpirySweepInterval: time.Minute,
		ExpiryBatchSize:     25,
	}
}
