package tokenledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/txn"
	"github.com/xraph/tokenledger/types"
)

func TestHoldTokensOpensHold(t *testing.T) {
	h := newHarness(t)

	row := h.hold(t, "alice", "bob", "booking-1", 40)

	assert.Equal(t, txn.TypeHold, row.Type)
	assert.Equal(t, txn.StateOpen, row.State)
	assert.Equal(t, int64(1), row.Version)
	assert.Equal(t, epoch.Add(tokenledger.DefaultHoldTTL), row.ExpiresAt)
}

func TestHoldTokensRejectsSecondOpenHold(t *testing.T) {
	h := newHarness(t)
	first := h.hold(t, "alice", "bob", "booking-1", 40)

	_, err := h.ledger.HoldTokens(context.Background(), tokenledger.HoldInput{
		UserID:        "alice",
		BeneficiaryID: "bob",
		Amount:        40,
		RefID:         "booking-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenledger.ErrDuplicateHold)

	var dup *tokenledger.DuplicateHoldError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []id.TransactionID{first.ID}, dup.ConflictingIDs)
	assert.Equal(t, 1, h.store.Len())
}

func TestHoldTokensAllowsNewHoldAfterSettlement(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "alice", "bob", "booking-1", 40)

	_, err := h.ledger.ReverseHeldTokens(context.Background(), tokenledger.HoldByRef("booking-1"))
	require.NoError(t, err)

	h.hold(t, "alice", "bob", "booking-1", 40)
	assert.Equal(t, 2, h.store.Len())
}

func TestHoldTokensFallsBackWhenRefStateIndexIsMissing(t *testing.T) {
	h := newHarness(t)
	h.store.DisableIndex(txn.IndexRefState)

	h.hold(t, "alice", "bob", "booking-1", 40)

	_, err := h.ledger.HoldTokens(context.Background(), tokenledger.HoldInput{
		UserID:        "alice",
		BeneficiaryID: "bob",
		Amount:        40,
		RefID:         "booking-1",
	})
	assert.ErrorIs(t, err, tokenledger.ErrDuplicateHold)
}

func TestHoldTokensIdempotentReplay(t *testing.T) {
	h := newHarness(t)
	in := tokenledger.HoldInput{
		UserID:         "alice",
		BeneficiaryID:  "bob",
		Amount:         40,
		RefID:          "booking-1",
		IdempotencyKey: "hold-booking-1",
	}

	first, err := h.ledger.HoldTokens(context.Background(), in)
	require.NoError(t, err)
	second, err := h.ledger.HoldTokens(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.store.Len())
}

func TestHoldTokensIdempotencyLookupFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("read timeout")
	h.store.SetFault(func(op string, _ *txn.Transaction) error {
		if op == memory.OpGetByIdempotency {
			return boom
		}
		return nil
	})

	_, err := h.ledger.HoldTokens(context.Background(), tokenledger.HoldInput{
		UserID:         "alice",
		BeneficiaryID:  "bob",
		Amount:         40,
		RefID:          "booking-1",
		IdempotencyKey: "hold-booking-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenledger.ErrQuery)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, h.store.Len())
}

func TestCaptureByRefRecordsSettlement(t *testing.T) {
	h := newHarness(t)
	opened := h.hold(t, "alice", "bob", "booking-1", 40)
	h.clock.Advance(time.Minute)

	report, err := h.ledger.CaptureHeldTokens(context.Background(),
		tokenledger.HoldByRef("booking-1"), tokenledger.WithNote("session completed"))
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	assert.Empty(t, report.Failed)

	captured := report.First()
	assert.Equal(t, opened.ID, captured.ID)
	assert.Equal(t, txn.StateCaptured, captured.State)
	assert.Equal(t, int64(2), captured.Version)
	require.NotNil(t, captured.SettledAt)
	assert.Equal(t, epoch.Add(time.Minute), *captured.SettledAt)

	record, ok := metadataOf(t, captured)["capture"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "session completed", record["note"])

	assert.Equal(t, []string{opened.ID.String()}, h.events.captured)
}

func TestReverseByIDKeepsExistingMetadata(t *testing.T) {
	h := newHarness(t)
	opened, err := h.ledger.HoldTokens(context.Background(), tokenledger.HoldInput{
		UserID:        "alice",
		BeneficiaryID: "bob",
		Amount:        25,
		RefID:         "booking-2",
		Metadata:      types.MustMetadata(map[string]any{"room": "blue"}),
	})
	require.NoError(t, err)

	report, err := h.ledger.ReverseHeldTokens(context.Background(),
		tokenledger.HoldByID(opened.ID), tokenledger.WithReason("cancelled"))
	require.NoError(t, err)

	reversed := report.First()
	assert.Equal(t, txn.StateReversed, reversed.State)

	meta := metadataOf(t, reversed)
	assert.Equal(t, "blue", meta["room"])
	record, ok := meta["reversal"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cancelled", record["reason"])
	assert.Equal(t, "cancelled", h.events.reversed[opened.ID.String()])
}

func TestSettleTargetValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.CaptureHeldTokens(ctx, tokenledger.HoldTarget{})
	assert.True(t, tokenledger.IsValidation(err))

	_, err = h.ledger.CaptureHeldTokens(ctx, tokenledger.HoldTarget{TransactionID: id.NewTransactionID(), RefID: "r"})
	assert.True(t, tokenledger.IsValidation(err))

	_, err = h.ledger.CaptureHeldTokens(ctx, tokenledger.HoldByRef("nothing-here"))
	assert.True(t, tokenledger.IsNotFound(err))

	credit := h.credit(t, "alice", 10)
	_, err = h.ledger.CaptureHeldTokens(ctx, tokenledger.HoldByID(credit.ID))
	assert.ErrorIs(t, err, tokenledger.ErrNotAHold)
}

func TestSettlingTwiceIsAConflict(t *testing.T) {
	h := newHarness(t)
	opened := h.hold(t, "alice", "bob", "booking-1", 40)

	_, err := h.ledger.CaptureHeldTokens(context.Background(), tokenledger.HoldByID(opened.ID))
	require.NoError(t, err)

	report, err := h.ledger.ReverseHeldTokens(context.Background(), tokenledger.HoldByID(opened.ID))
	require.Error(t, err)
	assert.Empty(t, report.Succeeded)

	var conflict *tokenledger.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, txn.StateCaptured, conflict.ActualState)
	assert.True(t, conflict.StateChanged())
	assert.Equal(t, txn.StateCaptured, h.get(t, opened.ID).State)
}

func TestConcurrentCaptureHasOneWinner(t *testing.T) {
	h := newHarness(t)
	opened := h.hold(t, "alice", "bob", "booking-1", 40)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.CaptureHeldTokens(context.Background(), tokenledger.HoldByID(opened.ID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, tokenledger.ErrVersionConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)

	row := h.get(t, opened.ID)
	assert.Equal(t, txn.StateCaptured, row.State)
	assert.Equal(t, int64(2), row.Version)
}

func TestCorruptedHoldIsSkipped(t *testing.T) {
	h := newHarness(t)
	corrupted := seedHold("booking-9", txn.StateNone, 30)
	h.store.Seed(corrupted)

	report, err := h.ledger.CaptureHeldTokens(context.Background(), tokenledger.HoldByRef("booking-9"))
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenledger.ErrCorruptedHold)
	assert.True(t, tokenledger.IsIntegrityError(err))
	require.Len(t, report.Failed, 1)
	assert.Equal(t, corrupted.ID, report.Failed[0].TransactionID)

	assert.Equal(t, []string{corrupted.ID.String()}, h.events.Violations(tokenledger.ViolationMissingState))
	assert.Equal(t, txn.StateNone, h.get(t, corrupted.ID).State)
}

func TestCorruptedHoldDoesNotBlockLiveHold(t *testing.T) {
	h := newHarness(t)
	corrupted := seedHold("booking-9", txn.StateNone, 30)
	live := seedHold("booking-9", txn.StateOpen, 30)
	h.store.Seed(corrupted, live)

	report, err := h.ledger.CaptureHeldTokens(context.Background(), tokenledger.HoldByRef("booking-9"))
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	assert.Equal(t, live.ID, report.First().ID)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, corrupted.ID, report.Failed[0].TransactionID)
}

func TestMultipleOpenHoldsAreSettledAndReported(t *testing.T) {
	h := newHarness(t)
	a := seedHold("booking-5", txn.StateOpen, 10)
	b := seedHold("booking-5", txn.StateOpen, 10)
	h.store.Seed(a, b)

	report, err := h.ledger.ReverseHeldTokens(context.Background(), tokenledger.HoldByRef("booking-5"))
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 2)
	assert.ElementsMatch(t,
		[]string{a.ID.String(), b.ID.String()},
		h.events.Violations(tokenledger.ViolationMultipleOpen))
}

func TestUnparseableMetadataIsPreserved(t *testing.T) {
	h := newHarness(t)
	row := seedHold("booking-7", txn.StateOpen, 10)
	row.Metadata = types.Metadata(`{"broken":`)
	h.store.Seed(row)

	report, err := h.ledger.CaptureHeldTokens(context.Background(), tokenledger.HoldByID(row.ID))
	require.NoError(t, err)

	meta := metadataOf(t, report.First())
	assert.Equal(t, `{"broken":`, meta["_unparsed_metadata"])
	assert.Contains(t, meta, "capture")
	assert.Len(t, h.events.Violations(tokenledger.ViolationBadMetadata), 1)
}

func TestSettleStoreFailureIsReported(t *testing.T) {
	h := newHarness(t)
	opened := h.hold(t, "alice", "bob", "booking-1", 40)
	h.store.SetFault(func(op string, _ *txn.Transaction) error {
		if op == memory.OpUpdate {
			return errors.New("write timeout")
		}
		return nil
	})

	report, err := h.ledger.CaptureHeldTokens(context.Background(), tokenledger.HoldByID(opened.ID))
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenledger.ErrStore)
	assert.Len(t, report.Failed, 1)

	h.store.SetFault(nil)
	assert.Equal(t, txn.StateOpen, h.get(t, opened.ID).State)
}

func TestExtendExpiry(t *testing.T) {
	h := newHarness(t)
	opened := h.hold(t, "alice", "bob", "booking-1", 40)
	later := epoch.Add(2 * time.Hour)

	report, err := h.ledger.ExtendExpiry(context.Background(), tokenledger.HoldByRef("booking-1"), later)
	require.NoError(t, err)

	extended := report.First()
	assert.Equal(t, opened.ID, extended.ID)
	assert.Equal(t, later, extended.ExpiresAt)
	assert.Equal(t, txn.StateOpen, extended.State)
	assert.Equal(t, int64(2), extended.Version)
}

func TestExtendExpiryRejectsPastTime(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "alice", "bob", "booking-1", 40)

	_, err := h.ledger.ExtendExpiry(context.Background(), tokenledger.HoldByRef("booking-1"), epoch)
	assert.True(t, tokenledger.IsValidation(err))
}

func TestExtendExpiryOfSettledHoldConflicts(t *testing.T) {
	h := newHarness(t)
	opened := h.hold(t, "alice", "bob", "booking-1", 40)
	_, err := h.ledger.ReverseHeldTokens(context.Background(), tokenledger.HoldByID(opened.ID))
	require.NoError(t, err)

	_, err = h.ledger.ExtendExpiry(context.Background(), tokenledger.HoldByID(opened.ID), epoch.Add(time.Hour))
	assert.ErrorIs(t, err, tokenledger.ErrVersionConflict)
}

// bumpingStore bumps a row's version once, just before the first
// conditional update, as a concurrent writer would.
type bumpingStore struct {
	*memory.Store
	once sync.Once
}

func (s *bumpingStore) Update(ctx context.Context, txID id.TransactionID, m txn.Mutation, c txn.Condition) (*txn.Transaction, error) {
	s.once.Do(func() {
		_, _ = s.Store.Update(ctx, txID, txn.Mutation{Version: c.Version + 1, UpdatedAt: m.UpdatedAt}, c)
	})
	return s.Store.Update(ctx, txID, m, c)
}

func TestExtendExpiryRetriesVersionBump(t *testing.T) {
	clock := &fakeClock{now: epoch}
	s := &bumpingStore{Store: memory.New()}
	l := tokenledger.New(s, tokenledger.WithClock(clock.Now))

	opened, err := l.HoldTokens(context.Background(), tokenledger.HoldInput{
		UserID:        "alice",
		BeneficiaryID: "bob",
		Amount:        40,
		RefID:         "booking-1",
	})
	require.NoError(t, err)

	later := epoch.Add(time.Hour)
	report, err := l.ExtendExpiry(context.Background(), tokenledger.HoldByID(opened.ID), later)
	require.NoError(t, err)

	extended := report.First()
	assert.Equal(t, int64(3), extended.Version)
	assert.Equal(t, later, extended.ExpiresAt)
}
