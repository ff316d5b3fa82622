package tokenledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/txn"
)

func TestStartAndStop(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ledger.Start(context.Background()))
	assert.Equal(t, 1, h.events.inits)
	assert.Equal(t, 1, h.ledger.Plugins().Count())

	require.NoError(t, h.ledger.Stop())
	assert.Equal(t, 1, h.events.shutdowns)
	assert.ErrorIs(t, h.store.Ping(context.Background()), tokenledger.ErrStoreClosed)

	_, err := h.ledger.AddTransaction(context.Background(), tokenledger.AddTransactionInput{
		UserID:        "alice",
		BeneficiaryID: txn.SystemBeneficiary,
		Type:          txn.TypeCreditPaid,
		Amount:        1,
	})
	assert.ErrorIs(t, err, tokenledger.ErrStore)
}

func TestStopIsIdempotentForWorkers(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ledger.Start(context.Background()))
	require.NoError(t, h.ledger.Stop())
	assert.NotPanics(t, func() { _ = h.ledger.Stop() })
}

func TestOperationsAreTraced(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness(t, tokenledger.WithTracer(tp.Tracer("test")))
	h.hold(t, "alice", "bob", "booking-1", 40)

	_, err := h.ledger.AddTransaction(context.Background(), tokenledger.AddTransactionInput{UserID: "alice"})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "tokenledger.HoldTokens", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "tokenledger.AddTransaction", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.NotEmpty(t, spans[1].Events())
}
