package commission_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offerlink/commission-engine/commission"
	"github.com/offerlink/commission-engine/ledger"
	"github.com/offerlink/commission-engine/store/memory"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// scriptedExecutor returns a programmable settlement outcome and records
// every request it sees.
type scriptedExecutor struct {
	mu    sync.Mutex
	err   error
	calls []commission.SettlementRequest
}

func (e *scriptedExecutor) Settle(ctx context.Context, req commission.SettlementRequest) (commission.SettlementResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, req)
	if e.err != nil {
		return commission.SettlementResult{}, e.err
	}
	return commission.SettlementResult{ExternalRef: "ref-" + req.PayoutID}, nil
}

func (e *scriptedExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *scriptedExecutor) script(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// newPayoutFixture seeds earnings and returns a wired manager.
func newPayoutFixture(t *testing.T, earnedCents int64) (*commission.PayoutManager, *scriptedExecutor, *memory.Store) {
	t.Helper()
	store := memory.New()
	if earnedCents > 0 {
		_, err := ledger.New(store).Append(context.Background(), ledger.Entry{
			ID:           "seed-earning",
			InfluencerID: "inf-1",
			Type:         ledger.EntryEarning,
			AmountCents:  ledger.Cents(earnedCents),
			Description:  "seed",
		})
		require.NoError(t, err)
	}
	executor := &scriptedExecutor{}
	return commission.NewPayoutManager(store, executor), executor, store
}

func availableCents(t *testing.T, store *memory.Store, inf string) ledger.Cents {
	t.Helper()
	calc := &ledger.Calculator{Store: store, Reservations: store}
	b, err := calc.Compute(context.Background(), ledger.InfluencerID(inf))
	require.NoError(t, err)
	return b.AvailableCents
}

// =============================================================================
// CREATE - optimistic reservation
// =============================================================================

func TestPayout_Create_ReservesFullAmount(t *testing.T) {
	// GIVEN: An influencer with a 5000 cent balance
	// WHEN: Requesting a 5000 cent payout
	// THEN: The payout is pending and the available balance is zero

	manager, _, store := newPayoutFixture(t, 5000)
	ctx := context.Background()

	payout, err := manager.Create(ctx, "inf-1", 5000, "", "admin-1")
	require.NoError(t, err)

	assert.Equal(t, commission.PayoutPending, payout.Status)
	assert.NotEmpty(t, payout.ReservationEntryID)
	assert.Equal(t, ledger.Cents(0), availableCents(t, store, "inf-1"))

	calc := &ledger.Calculator{Store: store, Reservations: store}
	b, err := calc.Compute(ctx, "inf-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(5000), b.PendingCents)

	// A second request finds nothing left.
	_, err = manager.Create(ctx, "inf-1", 1, "", "admin-1")
	require.Error(t, err)
	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, ledger.Cents(0), insufficient.Available)
	assert.Equal(t, ledger.Cents(1), insufficient.Requested)
}

func TestPayout_Create_RejectsBadInput(t *testing.T) {
	manager, _, _ := newPayoutFixture(t, 5000)
	ctx := context.Background()

	_, err := manager.Create(ctx, "", 100, "", "admin-1")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = manager.Create(ctx, "inf-1", 0, "", "admin-1")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = manager.Create(ctx, "inf-1", -100, "", "admin-1")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestPayout_RejectRestoresBalance(t *testing.T) {
	// GIVEN: Balance 5000, then a 5000 payout request (balance 0)
	// WHEN: An admin rejects the request
	// THEN: The payout is cancelled, the balance is 5000 again, and the
	//       history shows earning, reservation, and reversal

	manager, _, store := newPayoutFixture(t, 5000)
	ctx := context.Background()

	payout, err := manager.Create(ctx, "inf-1", 5000, "", "admin-1")
	require.NoError(t, err)
	require.Equal(t, ledger.Cents(0), availableCents(t, store, "inf-1"))

	rejected, err := manager.Reject(ctx, payout.ID, "admin-2", "bank details unverified")
	require.NoError(t, err)

	assert.Equal(t, commission.PayoutCancelled, rejected.Status)
	require.NotNil(t, rejected.CancelledAt)
	assert.Contains(t, rejected.Notes, "bank details unverified")
	assert.Equal(t, ledger.Cents(5000), availableCents(t, store, "inf-1"))

	entries, err := store.Entries(ctx, "inf-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.EntryEarning, entries[0].Type)
	assert.Equal(t, ledger.EntryPayout, entries[1].Type)
	assert.Equal(t, ledger.EntryReversal, entries[2].Type)
	assert.Equal(t, payout.ID, entries[2].RelatedPayoutID)

	// Conservation: reservation and reversal cancel exactly.
	assert.Equal(t, ledger.Cents(0), entries[1].AmountCents+entries[2].AmountCents)
}

// =============================================================================
// APPROVE - settlement outcomes
// =============================================================================

func TestPayout_Approve_PositiveConfirmation_Paid(t *testing.T) {
	// GIVEN: A pending 3000 cent payout and a healthy provider
	// WHEN: Approving it
	// THEN: The payout is paid with the provider reference; the
	//       reservation stays spent

	manager, executor, store := newPayoutFixture(t, 5000)
	ctx := context.Background()

	payout, err := manager.Create(ctx, "inf-1", 3000, "", "admin-1")
	require.NoError(t, err)

	paid, err := manager.Approve(ctx, payout.ID, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, commission.PayoutPaid, paid.Status)
	assert.Equal(t, "ref-"+payout.ID, paid.ExternalRef)
	require.NotNil(t, paid.ApprovedAt)
	require.NotNil(t, paid.ProcessedAt)
	assert.False(t, paid.NeedsReconciliation)
	assert.Equal(t, 1, executor.callCount())

	// Paid funds do not come back.
	assert.Equal(t, ledger.Cents(2000), availableCents(t, store, "inf-1"))
}

func TestPayout_Approve_DefiniteFailure_CancelledAndCompensated(t *testing.T) {
	// GIVEN: A provider that definitively declines the transfer
	// WHEN: Approving a payout
	// THEN: The payout ends cancelled, the reservation is reversed, and
	//       the caller sees the settlement failure

	manager, executor, store := newPayoutFixture(t, 5000)
	executor.script(&commission.SettlementFailedError{PayoutID: "any", Reason: "account closed"})
	ctx := context.Background()

	payout, err := manager.Create(ctx, "inf-1", 3000, "", "admin-1")
	require.NoError(t, err)

	_, err = manager.Approve(ctx, payout.ID, "admin-1")
	require.ErrorIs(t, err, ledger.ErrSettlementFailure)

	stored, err := manager.Get(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.PayoutCancelled, stored.Status)
	assert.Contains(t, stored.Notes, "settlement failed")
	assert.Equal(t, ledger.Cents(5000), availableCents(t, store, "inf-1"))
}

func TestPayout_Approve_UnknownOutcome_StaysProcessing(t *testing.T) {
	// GIVEN: A provider whose response is ambiguous (timeout)
	// WHEN: Approving a payout
	// THEN: The payout stays processing, flagged for reconciliation,
	//       and is never marked paid off the ambiguous response

	manager, executor, store := newPayoutFixture(t, 5000)
	executor.script(errors.New("connection reset"))
	ctx := context.Background()

	payout, err := manager.Create(ctx, "inf-1", 3000, "", "admin-1")
	require.NoError(t, err)

	returned, err := manager.Approve(ctx, payout.ID, "admin-1")
	require.ErrorIs(t, err, ledger.ErrSettlementUnknown)
	require.NotNil(t, returned)
	assert.Equal(t, commission.PayoutProcessing, returned.Status)
	assert.True(t, returned.NeedsReconciliation)

	stored, err := manager.Get(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.PayoutProcessing, stored.Status)
	assert.True(t, stored.NeedsReconciliation)

	// Funds remain reserved while the outcome is unknown.
	assert.Equal(t, ledger.Cents(2000), availableCents(t, store, "inf-1"))
}

func TestPayout_ResolveSettlement_RetriesStuckPayout(t *testing.T) {
	// GIVEN: A payout stuck processing after an ambiguous outcome
	// WHEN: The provider recovers and settlement is re-driven
	// THEN: The payout is paid via the idempotent executor

	manager, executor, _ := newPayoutFixture(t, 5000)
	executor.script(errors.New("provider outage"))
	ctx := context.Background()

	payout, err := manager.Create(ctx, "inf-1", 3000, "", "admin-1")
	require.NoError(t, err)
	_, err = manager.Approve(ctx, payout.ID, "admin-1")
	require.ErrorIs(t, err, ledger.ErrSettlementUnknown)

	executor.script(nil)
	resolved, err := manager.ResolveSettlement(ctx, payout.ID, "reconciler")
	require.NoError(t, err)

	assert.Equal(t, commission.PayoutPaid, resolved.Status)
	assert.False(t, resolved.NeedsReconciliation)
	assert.Equal(t, 2, executor.callCount())
}

// =============================================================================
// STATE MACHINE GUARDS
// =============================================================================

func TestPayout_TerminalStatesAreImmutable(t *testing.T) {
	manager, _, _ := newPayoutFixture(t, 10000)
	ctx := context.Background()

	// Paid payout: nothing further is allowed.
	paidReq, err := manager.Create(ctx, "inf-1", 2000, "", "admin-1")
	require.NoError(t, err)
	_, err = manager.Approve(ctx, paidReq.ID, "admin-1")
	require.NoError(t, err)

	for _, attempt := range []func() error{
		func() error { _, err := manager.Approve(ctx, paidReq.ID, "admin-1"); return err },
		func() error { _, err := manager.Reject(ctx, paidReq.ID, "admin-1", ""); return err },
		func() error { _, err := manager.Cancel(ctx, paidReq.ID, "admin-1", ""); return err },
	} {
		err := attempt()
		require.Error(t, err)
		var stateErr *commission.InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, "paid", stateErr.Status)
	}

	// Cancelled payout: same story.
	cancelledReq, err := manager.Create(ctx, "inf-1", 2000, "", "admin-1")
	require.NoError(t, err)
	_, err = manager.Cancel(ctx, cancelledReq.ID, "admin-1", "changed mind")
	require.NoError(t, err)

	_, err = manager.Approve(ctx, cancelledReq.ID, "admin-1")
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
	_, err = manager.Cancel(ctx, cancelledReq.ID, "admin-1", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestPayout_RejectIsPendingOnly_CancelCoversProcessing(t *testing.T) {
	// GIVEN: A payout stuck in processing
	// WHEN: Rejecting vs cancelling
	// THEN: Reject is refused; cancel succeeds and restores the balance

	manager, executor, store := newPayoutFixture(t, 5000)
	executor.script(errors.New("ambiguous"))
	ctx := context.Background()

	payout, err := manager.Create(ctx, "inf-1", 5000, "", "admin-1")
	require.NoError(t, err)
	_, err = manager.Approve(ctx, payout.ID, "admin-1")
	require.ErrorIs(t, err, ledger.ErrSettlementUnknown)

	_, err = manager.Reject(ctx, payout.ID, "admin-1", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	cancelled, err := manager.Cancel(ctx, payout.ID, "admin-1", "provider unreachable")
	require.NoError(t, err)
	assert.Equal(t, commission.PayoutCancelled, cancelled.Status)
	assert.Equal(t, ledger.Cents(5000), availableCents(t, store, "inf-1"))
}

func TestPayout_UnknownID_NotFound(t *testing.T) {
	manager, _, _ := newPayoutFixture(t, 0)
	ctx := context.Background()

	_, err := manager.Get(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = manager.Approve(ctx, "missing", "admin-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = manager.Cancel(ctx, "missing", "admin-1", "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// CONCURRENCY - no over-commit
// =============================================================================

func TestPayout_ConcurrentCreates_NeverOverCommit(t *testing.T) {
	// GIVEN: A 5000 cent balance and ten concurrent 1000 cent requests
	// WHEN: All race through creation
	// THEN: Exactly five win; the sum of reservations never exceeds the
	//       earned total and the balance never goes negative

	manager, _, store := newPayoutFixture(t, 5000)
	ctx := context.Background()

	const attempts = 10
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = manager.Create(ctx, "inf-1", 1000, "", "admin-1")
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 5, wins)
	assert.Equal(t, ledger.Cents(0), availableCents(t, store, "inf-1"))

	pending, err := manager.ListByStatus(ctx, commission.PayoutPending)
	require.NoError(t, err)
	assert.Len(t, pending, 5)
}

// =============================================================================
// RECONCILER
// =============================================================================

func TestReconciler_Sweep_ResolvesFlaggedPayouts(t *testing.T) {
	// GIVEN: A payout flagged for reconciliation after an ambiguous
	//        settlement, with the provider now healthy
	// WHEN: The reconciler sweeps
	// THEN: The payout is re-driven to paid

	manager, executor, store := newPayoutFixture(t, 5000)
	executor.script(errors.New("timeout"))
	ctx := context.Background()

	payout, err := manager.Create(ctx, "inf-1", 3000, "", "admin-1")
	require.NoError(t, err)
	_, err = manager.Approve(ctx, payout.ID, "admin-1")
	require.ErrorIs(t, err, ledger.ErrSettlementUnknown)

	executor.script(nil)
	reconciler := commission.NewSettlementReconciler(store, manager)
	reconciler.Sweep(ctx)

	stored, err := manager.Get(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.PayoutPaid, stored.Status)
}

func TestReconciler_Sweep_LeavesFreshUnflaggedPayoutsAlone(t *testing.T) {
	// GIVEN: A payout that just moved to processing without any flag
	// WHEN: The reconciler sweeps inside the grace window
	// THEN: The payout is not touched

	manager, executor, store := newPayoutFixture(t, 5000)
	ctx := context.Background()

	payout, err := manager.Create(ctx, "inf-1", 3000, "", "admin-1")
	require.NoError(t, err)

	// Move it to processing by hand, simulating an operator mid-flight.
	stored, err := store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	stored.Status = commission.PayoutProcessing
	require.NoError(t, store.UpdatePayout(ctx, stored, commission.PayoutPending))

	reconciler := commission.NewSettlementReconciler(store, manager)
	reconciler.Sweep(ctx)

	after, err := store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, commission.PayoutProcessing, after.Status)
	assert.Equal(t, 0, executor.callCount())
}
