package audithook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audithook "github.com/xraph/tokenledger/audit_hook"
	mock_audithook "github.com/xraph/tokenledger/audit_hook/mocks"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
)

func hold() *txn.Transaction {
	return &txn.Transaction{
		ID:            id.NewTransactionID(),
		UserID:        "payer",
		BeneficiaryID: "creator",
		Type:          txn.TypeHold,
		Amount:        40,
		RefID:         "booking-1",
		State:         txn.StateOpen,
		Version:       1,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
}

func capture(events *[]*audithook.AuditEvent) func(context.Context, *audithook.AuditEvent) error {
	return func(_ context.Context, evt *audithook.AuditEvent) error {
		*events = append(*events, evt)
		return nil
	}
}

func TestHoldLifecycleIsAudited(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mock_audithook.NewMockRecorder(ctrl)

	var events []*audithook.AuditEvent
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(capture(&events)).Times(3)

	ext := audithook.New(rec)
	ctx := context.Background()
	h := hold()

	require.NoError(t, ext.OnHoldOpened(ctx, h))
	require.NoError(t, ext.OnHoldReversed(ctx, h, "expired"))
	require.NoError(t, ext.OnIntegrityViolation(ctx, h.ID.String(), "hold_missing_state", "ref booking-1"))

	require.Len(t, events, 3)
	assert.Equal(t, audithook.ActionHoldOpened, events[0].Action)
	assert.Equal(t, h.ID.String(), events[0].ResourceID)
	assert.Equal(t, int64(40), events[0].Metadata["amount"])

	assert.Equal(t, audithook.ActionHoldReversed, events[1].Action)
	assert.Equal(t, "expired", events[1].Metadata["reversal_reason"])

	assert.Equal(t, audithook.ActionIntegrityViolation, events[2].Action)
	assert.Equal(t, audithook.SeverityCritical, events[2].Severity)
}

func TestFailedCreditLegIsCritical(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mock_audithook.NewMockRecorder(ctrl)

	var events []*audithook.AuditEvent
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(capture(&events))

	ext := audithook.New(rec)
	require.NoError(t, ext.OnTransferFailed(context.Background(), "tip-1", "credit", errors.New("store down")))

	require.Len(t, events, 1)
	assert.Equal(t, audithook.SeverityCritical, events[0].Severity)
	assert.Equal(t, audithook.OutcomePartial, events[0].Outcome)
	assert.Equal(t, "store down", events[0].Reason)
}

func TestQuietEventsAreSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mock_audithook.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).Times(0)

	ext := audithook.New(rec)
	ctx := context.Background()

	require.NoError(t, ext.OnExpiredHoldsProcessed(ctx, 0, 0, time.Millisecond))
	require.NoError(t, ext.OnPurgeCompleted(ctx, 10, 0, 0, true))
}

func TestEnabledActionsFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mock_audithook.NewMockRecorder(ctrl)

	var events []*audithook.AuditEvent
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(capture(&events)).Times(1)

	ext := audithook.New(rec, audithook.WithDisabledActions(audithook.ActionTransactionRecorded))
	ctx := context.Background()
	h := hold()

	require.NoError(t, ext.OnTransactionRecorded(ctx, h))
	require.NoError(t, ext.OnHoldCaptured(ctx, h))

	require.Len(t, events, 1)
	assert.Equal(t, audithook.ActionHoldCaptured, events[0].Action)
}

func TestRecorderErrorsAreSwallowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mock_audithook.NewMockRecorder(ctrl)
	rec.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("audit backend down"))

	ext := audithook.New(rec)
	assert.NoError(t, ext.OnNegativeBalance(context.Background(), "u1", -5, -5))
}
