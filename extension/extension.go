// Package extension provides the Forge extension adapter for the token ledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tokenledger" or
// "tokenledger" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/store/breaker"
	"github.com/xraph/tokenledger/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tokenledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Append-mostly token ledger with holds and transfers"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the token ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *tokenledger.Ledger
	store      store.Store
	locker     tokenledger.Locker
	ledgerOpts []tokenledger.Option
}

// New creates a new token ledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *tokenledger.Ledger { return e.engine }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}
	if e.config.CircuitBreaker {
		e.store = breaker.New(e.store)
	}

	e.engine = tokenledger.New(e.store, e.buildLedgerOpts()...)

	return vessel.Provide(fapp.Container(), func() (*tokenledger.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("tokenledger: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tokenledger: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs tokenledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []tokenledger.Option {
	opts := make([]tokenledger.Option, 0, len(e.ledgerOpts)+8)

	opts = append(opts,
		tokenledger.WithDefaultHoldTTL(e.config.DefaultHoldTTL),
		tokenledger.WithMaxMetadataBytes(e.config.MaxMetadataBytes),
		tokenledger.WithBalancePageSize(e.config.BalancePageSize),
		tokenledger.WithConflictRetries(e.config.ConflictRetries),
	)

	if e.config.DisableMigrate {
		opts = append(opts, tokenledger.WithoutMigrate())
	}

	if !e.config.DisableExpirySweep {
		opts = append(opts, tokenledger.WithExpirySweep(
			e.config.ExpirySweepInterval,
			e.config.ExpiryGracePeriod,
			e.config.ExpiryBatchSize,
		))
		if e.locker != nil {
			opts = append(opts, tokenledger.WithSweepLocker(e.locker, 0))
		}
	}

	// Append any pass-through ledger options.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tokenledger: configuration is required but not found in config files; " +
				"ensure 'extensions.tokenledger' or 'tokenledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tokenledger: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("default_hold_ttl", e.config.DefaultHoldTTL),
		forge.F("max_metadata_bytes", e.config.MaxMetadataBytes),
		forge.F("disable_expiry_sweep", e.config.DisableExpirySweep),
		forge.F("expiry_sweep_interval", e.config.ExpirySweepInterval),
		forge.F("expiry_batch_size", e.config.ExpiryBatchSize),
		forge.F("circuit_breaker", e.config.CircuitBreaker),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.tokenledger" first (namespaced pattern).
	if cm.IsSet("extensions.tokenledger") {
		if err := cm.Bind("extensions.tokenledger", &cfg); err == nil {
			e.Logger().Debug("tokenledger: loaded config from file",
				forge.F("key", "extensions.tokenledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("tokenledger: failed to bind extensions.tokenledger config",
			forge.F("error", "bind failed"),
		)
	}

	// Try top-level "tokenledger" key.
	if cm.IsSet("tokenledger") {
		if err := cm.Bind("tokenledger", &cfg); err == nil {
			e.Logger().Debug("tokenledger: loaded config from file",
				forge.F("key", "tokenledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("tokenledger: failed to bind tokenledger config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.DefaultHoldTTL == 0 {
		cfg.DefaultHoldTTL = defaults.DefaultHoldTTL
	}
	if cfg.MaxMetadataBytes == 0 {
		cfg.MaxMetadataBytes = defaults.MaxMetadataBytes
	}
	if cfg.BalancePageSize == 0 {
		cfg.BalancePageSize = defaults.BalancePageSize
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = defaults.ConflictRetries
	}
	if cfg.ExpirySweepInterval == 0 {
		cfg.ExpirySweepInterval = defaults.ExpirySweepInterval
	}
	if cfg.ExpiryBatchSize == 0 {
		cfg.ExpiryBatchSize = defaults.ExpiryBatchSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableExpirySweep {
		yamlConfig.DisableExpirySweep = true
	}
	if programmaticConfig.CircuitBreaker {
		yamlConfig.CircuitBreaker = true
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.DefaultHoldTTL == 0 {
		yamlConfig.DefaultHoldTTL = programmaticConfig.DefaultHoldTTL
	}
	if yamlConfig.MaxMetadataBytes == 0 {
		yamlConfig.MaxMetadataBytes = programmaticConfig.MaxMetadataBytes
	}
	if yamlConfig.BalancePageSize == 0 {
		yamlConfig.BalancePageSize = programmaticConfig.BalancePageSize
	}
	if yamlConfig.ConflictRetries == 0 {
		yamlConfig.ConflictRetries = programmaticConfig.ConflictRetries
	}
	if yamlConfig.ExpirySweepInterval == 0 {
		yamlConfig.ExpirySweepInterval = programmaticConfig.ExpirySweepInterval
	}
	if yamlConfig.ExpiryGracePeriod == 0 {
		yamlConfig.ExpiryGracePeriod = programmaticConfig.ExpiryGracePeriod
	}
	if yamlConfig.ExpiryBatchSize == 0 {
		yamlConfig.ExpiryBatchSize = programmaticConfig.ExpiryBatchSize
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
