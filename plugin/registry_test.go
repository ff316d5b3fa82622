package plugin_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/txn"
)

type recorder struct {
	name string

	mu     sync.Mutex
	events []string
	err    error
	delay  time.Duration
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) add(e string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) OnHoldOpened(_ context.Context, t *txn.Transaction) error {
	return r.add("opened:" + t.RefID)
}

func (r *recorder) OnHoldReversed(_ context.Context, t *txn.Transaction, reason string) error {
	return r.add("reversed:" + t.RefID + ":" + reason)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type nameOnly struct{}

func (nameOnly) Name() string { return "name-only" }

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()

	require.NoError(t, r.Register(&recorder{name: "a"}))
	require.Error(t, r.Register(&recorder{name: "a"}))
	require.NoError(t, r.Register(nameOnly{}))

	assert.Equal(t, 2, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("missing"))
	assert.Len(t, r.List(), 2)
}

func TestEmitDispatchesOnlyImplementedHooks(t *testing.T) {
	r := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))
	require.NoError(t, r.Register(nameOnly{}))

	ctx := context.Background()
	h := &txn.Transaction{RefID: "booking-1"}

	r.EmitHoldOpened(ctx, h)
	r.EmitHoldCaptured(ctx, h)
	r.EmitHoldReversed(ctx, h, "expired")

	assert.Equal(t, []string{"opened:booking-1", "reversed:booking-1:expired"}, rec.Events())
}

func TestHookErrorsDoNotStopDispatch(t *testing.T) {
	r := plugin.NewRegistry().WithLogger(slog.New(slog.DiscardHandler))
	failing := &recorder{name: "failing", err: errors.New("boom")}
	ok := &recorder{name: "ok"}
	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(ok))

	r.EmitHoldOpened(context.Background(), &txn.Transaction{RefID: "r"})

	assert.Len(t, failing.Events(), 1)
	assert.Len(t, ok.Events(), 1)
}

func TestSlowHookTimesOut(t *testing.T) {
	r := plugin.NewRegistry().
		WithLogger(slog.New(slog.DiscardHandler)).
		WithTimeout(10 * time.Millisecond)
	slow := &recorder{name: "slow", delay: 200 * time.Millisecond}
	require.NoError(t, r.Register(slow))

	start := time.Now()
	r.EmitHoldOpened(context.Background(), &txn.Transaction{RefID: "r"})

	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
