package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/tokenledger/txn"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are cached per interface at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                  []OnInit
	onShutdown              []OnShutdown
	onTransactionRecorded   []OnTransactionRecorded
	onHoldOpened            []OnHoldOpened
	onHoldCaptured          []OnHoldCaptured
	onHoldReversed          []OnHoldReversed
	onHoldExtended          []OnHoldExtended
	onExpiredHoldsProcessed []OnExpiredHoldsProcessed
	onTransferCompleted     []OnTransferCompleted
	onTransferFailed        []OnTransferFailed
	onNegativeBalance       []OnNegativeBalance
	onIntegrityViolation    []OnIntegrityViolation
	onPurgeCompleted        []OnPurgeCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnTransactionRecorded); ok {
		r.onTransactionRecorded = append(r.onTransactionRecorded, v)
	}
	if v, ok := p.(OnHoldOpened); ok {
		r.onHoldOpened = append(r.onHoldOpened, v)
	}
	if v, ok := p.(OnHoldCaptured); ok {
		r.onHoldCaptured = append(r.onHoldCaptured, v)
	}
	if v, ok := p.(OnHoldReversed); ok {
		r.onHoldReversed = append(r.onHoldReversed, v)
	}
	if v, ok := p.(OnHoldExtended); ok {
		r.onHoldExtended = append(r.onHoldExtended, v)
	}
	if v, ok := p.(OnExpiredHoldsProcessed); ok {
		r.onExpiredHoldsProcessed = append(r.onExpiredHoldsProcessed, v)
	}
	if v, ok := p.(OnTransferCompleted); ok {
		r.onTransferCompleted = append(r.onTransferCompleted, v)
	}
	if v, ok := p.(OnTransferFailed); ok {
		r.onTransferFailed = append(r.onTransferFailed, v)
	}
	if v, ok := p.(OnNegativeBalance); ok {
		r.onNegativeBalance = append(r.onNegativeBalance, v)
	}
	if v, ok := p.(OnIntegrityViolation); ok {
		r.onIntegrityViolation = append(r.onIntegrityViolation, v)
	}
	if v, ok := p.(OnPurgeCompleted); ok {
		r.onPurgeCompleted = append(r.onPurgeCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name  string
	iface reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnTransactionRecorded", reflect.TypeOf((*OnTransactionRecorded)(nil)).Elem()},
	{"OnHoldOpened", reflect.TypeOf((*OnHoldOpened)(nil)).Elem()},
	{"OnHoldCaptured", reflect.TypeOf((*OnHoldCaptured)(nil)).Elem()},
	{"OnHoldReversed", reflect.TypeOf((*OnHoldReversed)(nil)).Elem()},
	{"OnHoldExtended", reflect.TypeOf((*OnHoldExtended)(nil)).Elem()},
	{"OnExpiredHoldsProcessed", reflect.TypeOf((*OnExpiredHoldsProcessed)(nil)).Elem()},
	{"OnTransferCompleted", reflect.TypeOf((*OnTransferCompleted)(nil)).Elem()},
	{"OnTransferFailed", reflect.TypeOf((*OnTransferFailed)(nil)).Elem()},
	{"OnNegativeBalance", reflect.TypeOf((*OnNegativeBalance)(nil)).Elem()},
	{"OnIntegrityViolation", reflect.TypeOf((*OnIntegrityViolation)(nil)).Elem()},
	{"OnPurgeCompleted", reflect.TypeOf((*OnPurgeCompleted)(nil)).Elem()},
}

func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.iface) {
			interfaces = append(interfaces, h.name)
		}
	}
	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every hook in list. Hook failures are logged and never
// propagate to the ledger operation that fired them.
func emit[T Plugin](r *Registry, ctx context.Context, hook string, list []T, fn func(T) error) {
	for _, p := range list {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	emit(r, ctx, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, ledger)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, ctx, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitTransactionRecorded emits a row written event.
func (r *Registry) EmitTransactionRecorded(ctx context.Context, t *txn.Transaction) {
	emit(r, ctx, "OnTransactionRecorded", snapshot(r, &r.onTransactionRecorded), func(p OnTransactionRecorded) error {
		return p.OnTransactionRecorded(ctx, t)
	})
}

// EmitHoldOpened emits a hold opened event.
func (r *Registry) EmitHoldOpened(ctx context.Context, t *txn.Transaction) {
	emit(r, ctx, "OnHoldOpened", snapshot(r, &r.onHoldOpened), func(p OnHoldOpened) error {
		return p.OnHoldOpened(ctx, t)
	})
}

// EmitHoldCaptured emits a hold captured event.
func (r *Registry) EmitHoldCaptured(ctx context.Context, t *txn.Transaction) {
	emit(r, ctx, "OnHoldCaptured", snapshot(r, &r.onHoldCaptured), func(p OnHoldCaptured) error {
		return p.OnHoldCaptured(ctx, t)
	})
}

// EmitHoldReversed emits a hold reversed event.
func (r *Registry) EmitHoldReversed(ctx context.Context, t *txn.Transaction, reason string) {
	emit(r, ctx, "OnHoldReversed", snapshot(r, &r.onHoldReversed), func(p OnHoldReversed) error {
		return p.OnHoldReversed(ctx, t, reason)
	})
}

// EmitHoldExtended emits a hold expiry extended event.
func (r *Registry) EmitHoldExtended(ctx context.Context, t *txn.Transaction, previous time.Time) {
	emit(r, ctx, "OnHoldExtended", snapshot(r, &r.onHoldExtended), func(p OnHoldExtended) error {
		return p.OnHoldExtended(ctx, t, previous)
	})
}

// EmitExpiredHoldsProcessed emits an expiry batch event.
func (r *Registry) EmitExpiredHoldsProcessed(ctx context.Context, reversed, failed int, elapsed time.Duration) {
	emit(r, ctx, "OnExpiredHoldsProcessed", snapshot(r, &r.onExpiredHoldsProcessed), func(p OnExpiredHoldsProcessed) error {
		return p.OnExpiredHoldsProcessed(ctx, reversed, failed, elapsed)
	})
}

// EmitTransferCompleted emits a completed transfer event.
func (r *Registry) EmitTransferCompleted(ctx context.Context, debit, credit *txn.Transaction) {
	emit(r, ctx, "OnTransferCompleted", snapshot(r, &r.onTransferCompleted), func(p OnTransferCompleted) error {
		return p.OnTransferCompleted(ctx, debit, credit)
	})
}

// EmitTransferFailed emits a failed transfer leg event.
func (r *Registry) EmitTransferFailed(ctx context.Context, refID, leg string, cause error) {
	emit(r, ctx, "OnTransferFailed", snapshot(r, &r.onTransferFailed), func(p OnTransferFailed) error {
		return p.OnTransferFailed(ctx, refID, leg, cause)
	})
}

// EmitNegativeBalance emits a negative balance event.
func (r *Registry) EmitNegativeBalance(ctx context.Context, userID string, paid, total int64) {
	emit(r, ctx, "OnNegativeBalance", snapshot(r, &r.onNegativeBalance), func(p OnNegativeBalance) error {
		return p.OnNegativeBalance(ctx, userID, paid, total)
	})
}

// EmitIntegrityViolation emits an integrity violation event.
func (r *Registry) EmitIntegrityViolation(ctx context.Context, txID, kind, detail string) {
	emit(r, ctx, "OnIntegrityViolation", snapshot(r, &r.onIntegrityViolation), func(p OnIntegrityViolation) error {
		return p.OnIntegrityViolation(ctx, txID, kind, detail)
	})
}

// EmitPurgeCompleted emits a purge run event.
func (r *Registry) EmitPurgeCompleted(ctx context.Context, scanned, deleted, failed int, dryRun bool) {
	emit(r, ctx, "OnPurgeCompleted", snapshot(r, &r.onPurgeCompleted), func(p OnPurgeCompleted) error {
		return p.OnPurgeCompleted(ctx, scanned, deleted, failed, dryRun)
	})
}

// callWithTimeout executes a function with a timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
