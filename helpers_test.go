package tokenledger_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

var epoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// events records the hooks the engine fires.
type events struct {
	mu         sync.Mutex
	inits      int
	shutdowns  int
	captured   []string
	reversed   map[string]string
	violations map[string][]string
	negative   []string
	failedLegs []string
}

func newEvents() *events {
	return &events{reversed: map[string]string{}, violations: map[string][]string{}}
}

func (e *events) Name() string { return "test-events" }

func (e *events) OnInit(context.Context, interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	return nil
}

func (e *events) OnShutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdowns++
	return nil
}

func (e *events) OnHoldCaptured(_ context.Context, t *txn.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.captured = append(e.captured, t.ID.String())
	return nil
}

func (e *events) OnHoldReversed(_ context.Context, t *txn.Transaction, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reversed[t.ID.String()] = reason
	return nil
}

func (e *events) OnIntegrityViolation(_ context.Context, txID, kind, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.violations[kind] = append(e.violations[kind], txID)
	return nil
}

func (e *events) OnNegativeBalance(_ context.Context, userID string, _, _ int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.negative = append(e.negative, userID)
	return nil
}

func (e *events) OnTransferFailed(_ context.Context, _ string, leg string, _ error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedLegs = append(e.failedLegs, leg)
	return nil
}

func (e *events) Violations(kind string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.violations[kind]...)
}

type harness struct {
	ledger *tokenledger.Ledger
	store  *memory.Store
	clock  *fakeClock
	events *events
}

func newHarness(t *testing.T, opts ...tokenledger.Option) *harness {
	t.Helper()

	h := &harness{
		store:  memory.New(),
		clock:  &fakeClock{now: epoch},
		events: newEvents(),
	}

	base := []tokenledger.Option{
		tokenledger.WithLogger(slog.New(slog.DiscardHandler)),
		tokenledger.WithClock(h.clock.Now),
		tokenledger.WithPlugin(h.events),
	}
	h.ledger = tokenledger.New(h.store, append(base, opts...)...)
	return h
}

func (h *harness) credit(t *testing.T, userID string, amount int64) *txn.Transaction {
	t.Helper()
	row, err := h.ledger.AddTransaction(context.Background(), tokenledger.AddTransactionInput{
		UserID:        userID,
		BeneficiaryID: txn.SystemBeneficiary,
		Type:          txn.TypeCreditPaid,
		Amount:        amount,
		Purpose:       "purchase",
	})
	require.NoError(t, err)
	return row
}

func (h *harness) hold(t *testing.T, userID, beneficiaryID, refID string, amount int64) *txn.Transaction {
	t.Helper()
	row, err := h.ledger.HoldTokens(context.Background(), tokenledger.HoldInput{
		UserID:        userID,
		BeneficiaryID: beneficiaryID,
		Amount:        amount,
		Purpose:       "booking",
		RefID:         refID,
	})
	require.NoError(t, err)
	return row
}

func (h *harness) get(t *testing.T, txID id.TransactionID) *txn.Transaction {
	t.Helper()
	row, err := h.store.Get(context.Background(), txID)
	require.NoError(t, err)
	return row
}

// seedHold plants a hold row directly, bypassing the engine.
func seedHold(refID string, state txn.State, amount int64) *txn.Transaction {
	return &txn.Transaction{
		Entity:        types.NewEntityAt(epoch),
		ID:            id.NewTransactionID(),
		UserID:        "alice",
		BeneficiaryID: "bob",
		Type:          txn.TypeHold,
		Amount:        amount,
		RefID:         refID,
		ExpiresAt:     epoch.Add(time.Hour),
		State:         state,
		Version:       1,
	}
}

func metadataOf(t *testing.T, row *txn.Transaction) map[string]any {
	t.Helper()
	m, err := row.Metadata.Decode()
	require.NoError(t, err)
	return m
}
