package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{DefaultHoldTTL: time.Minute})

	assert.Equal(t, time.Minute, cfg.DefaultHoldTTL)
	assert.Equal(t, DefaultConfig().ExpiryBatchSize, cfg.ExpiryBatchSize)
	assert.Equal(t, DefaultConfig().ExpirySweepInterval, cfg.ExpirySweepInterval)
	assert.Equal(t, DefaultConfig().MaxMetadataBytes, cfg.MaxMetadataBytes)
}

func TestMergeConfigurationsPrefersYAML(t *testing.T) {
	yaml := Config{ExpiryBatchSize: 50}
	programmatic := Config{
		ExpiryBatchSize:   10,
		ExpiryGracePeriod: time.Minute,
		DisableMigrate:    true,
		CircuitBreaker:    true,
	}

	cfg := mergeConfigurations(yaml, programmatic)

	assert.Equal(t, 50, cfg.ExpiryBatchSize)
	assert.Equal(t, time.Minute, cfg.ExpiryGracePeriod)
	assert.True(t, cfg.DisableMigrate)
	assert.True(t, cfg.CircuitBreaker)
	assert.Equal(t, DefaultConfig().DefaultHoldTTL, cfg.DefaultHoldTTL)
}

func TestBuildLedgerOpts(t *testing.T) {
	e := New(WithDisableExpirySweep(), WithDisableMigrate())
	e.config = mergeWithDefaults(e.config)
	withSweep := New()
	withSweep.config = mergeWithDefaults(withSweep.config)

	// Four tuning options always, plus WithoutMigrate.
	assert.Len(t, e.buildLedgerOpts(), 5)
	// Four tuning options plus the sweeper.
	assert.Len(t, withSweep.buildLedgerOpts(), 5)
}
