package tokenledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/types"
)

// Defaults applied by New.
const (
	DefaultHoldTTL         = 15 * time.Minute
	DefaultBalancePageSize = 500
	DefaultConflictRetries = 3
	DefaultExpiryBatchSize = 25
	MaxExpiryBatchSize     = 500
	DefaultPurgeLimit      = 100
	DefaultSweepInterval   = time.Minute

	// maxSweepBatches bounds one sweep so a backlog cannot pin the worker.
	maxSweepBatches = 100

	sweepLockKey = "tokenledger:expiry-sweep"
	tracerName   = "github.com/xraph/tokenledger"
)

// Ledger is the token ledger engine. It holds no ledger state of its own;
// every read and write goes through the injected store, whose conditional
// updates are the only concurrency control.
type Ledger struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	validate *validator.Validate
	now      func() time.Time

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	defaultHoldTTL   time.Duration
	maxMetadataBytes int
	balancePageSize  int
	conflictRetries  int
	migrateOnStart   bool

	sweepEnabled   bool
	sweepInterval  time.Duration
	sweepGrace     time.Duration
	sweepBatchSize int
	sweepLocker    Locker
	sweepLockTTL   time.Duration
}

// New creates a new Ledger over the given store.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:            s,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		tracer:           otel.Tracer(tracerName),
		validate:         newValidator(),
		now:              time.Now,
		stopChan:         make(chan struct{}),
		defaultHoldTTL:   DefaultHoldTTL,
		maxMetadataBytes: types.DefaultMaxMetadataBytes,
		balancePageSize:  DefaultBalancePageSize,
		conflictRetries:  DefaultConflictRetries,
		migrateOnStart:   true,
		sweepInterval:    DefaultSweepInterval,
		sweepBatchSize:   DefaultExpiryBatchSize,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.sweepLockTTL <= 0 {
		l.sweepLockTTL = 2 * l.sweepInterval
	}

	return l
}

// Store returns the store the ledger was built with.
func (l *Ledger) Store() store.Store {
	return l.store
}

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry {
	return l.plugins
}

// Start migrates the store, initializes plugins and launches the expiry
// sweeper when one is configured.
func (l *Ledger) Start(ctx context.Context) error {
	if l.migrateOnStart {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	l.plugins.EmitInit(ctx, l)

	if l.sweepEnabled {
		l.wg.Add(1)
		go l.expirySweepWorker(context.WithoutCancel(ctx))
	}

	l.logger.Info("tokenledger started",
		"expiry_sweep", l.sweepEnabled,
		"sweep_interval", l.sweepInterval,
		"sweep_grace", l.sweepGrace,
		"sweep_batch_size", l.sweepBatchSize,
		"default_hold_ttl", l.defaultHoldTTL,
	)

	return nil
}

// Stop shuts down background workers, notifies plugins and closes the store.
func (l *Ledger) Stop() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// expirySweepWorker reverses expired holds on every tick until Stop.
func (l *Ledger) expirySweepWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			if _, err := l.SweepExpiredHolds(ctx); err != nil && !isLockHeld(err) {
				l.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}
