package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offerlink/commission-engine/ledger"
	"github.com/offerlink/commission-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() (*ledger.Ledger, *memory.Store) {
	store := memory.New()
	return ledger.New(store), store
}

func earning(inf string, cents int64, key string) ledger.Entry {
	return ledger.Entry{
		ID:             ledger.EntryID("e-" + key),
		InfluencerID:   ledger.InfluencerID(inf),
		Type:           ledger.EntryEarning,
		AmountCents:    ledger.Cents(cents),
		IdempotencyKey: key,
	}
}

func payout(inf string, cents int64, key string) ledger.Entry {
	return ledger.Entry{
		ID:             ledger.EntryID("e-" + key),
		InfluencerID:   ledger.InfluencerID(inf),
		Type:           ledger.EntryPayout,
		AmountCents:    ledger.Cents(-cents),
		IdempotencyKey: key,
	}
}

func reversal(inf string, cents int64, key string) ledger.Entry {
	return ledger.Entry{
		ID:             ledger.EntryID("e-" + key),
		InfluencerID:   ledger.InfluencerID(inf),
		Type:           ledger.EntryReversal,
		AmountCents:    ledger.Cents(cents),
		IdempotencyKey: key,
	}
}

// =============================================================================
// FOLD INVARIANT
// =============================================================================

func TestBalance_EmptyLedger_IsZeroNotError(t *testing.T) {
	// GIVEN: An influencer with no ledger history
	// WHEN: Computing their balance
	// THEN: All components are zero; unknown influencer is not an error

	_, store := newTestLedger()
	calc := &ledger.Calculator{Store: store, Reservations: store}

	b, err := calc.Compute(context.Background(), "inf-unknown")
	require.NoError(t, err)

	assert.Equal(t, ledger.Cents(0), b.AvailableCents)
	assert.Equal(t, ledger.Cents(0), b.PendingCents)
	assert.Equal(t, ledger.Cents(0), b.LifetimeEarnedCents)
	assert.Equal(t, 0, b.EntryCount)
}

func TestBalance_AvailableIsFoldOfAllEntries(t *testing.T) {
	// GIVEN: Earnings, a payout reservation, its reversal, and an adjustment
	// WHEN: Computing the balance
	// THEN: Available equals the signed sum of every entry

	l, store := newTestLedger()
	ctx := context.Background()

	_, err := l.Append(ctx, earning("inf-1", 5000, "k1"))
	require.NoError(t, err)
	_, err = l.Append(ctx, earning("inf-1", 2500, "k2"))
	require.NoError(t, err)
	_, err = l.Append(ctx, payout("inf-1", 3000, "k3"))
	require.NoError(t, err)
	_, err = l.Append(ctx, reversal("inf-1", 3000, "k4"))
	require.NoError(t, err)
	_, err = l.Append(ctx, ledger.Entry{
		ID:           "e-adj",
		InfluencerID: "inf-1",
		Type:         ledger.EntryAdjustment,
		AmountCents:  -500,
	})
	require.NoError(t, err)

	calc := &ledger.Calculator{Store: store}
	b, err := calc.Compute(ctx, "inf-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.Cents(5000+2500-3000+3000-500), b.AvailableCents)
	assert.Equal(t, ledger.Cents(7500), b.LifetimeEarnedCents)
	// Reversal nets the reserved payout back out of lifetime paid.
	assert.Equal(t, ledger.Cents(0), b.LifetimePaidOutCents)
	assert.Equal(t, 5, b.EntryCount)
}

func TestBalance_RunningBalanceMatchesFold(t *testing.T) {
	// GIVEN: A sequence of appends
	// WHEN: Reading the stored entries back
	// THEN: Each cached running balance equals the fold up to that entry,
	//       and the audit reports no drift

	l, store := newTestLedger()
	ctx := context.Background()

	amounts := []int64{1200, 800, -500, 300}
	types := []ledger.EntryType{ledger.EntryEarning, ledger.EntryEarning, ledger.EntryPayout, ledger.EntryEarning}
	for i := range amounts {
		_, err := l.Append(ctx, ledger.Entry{
			ID:           ledger.EntryID(fmt.Sprintf("e-%d", i)),
			InfluencerID: "inf-1",
			Type:         types[i],
			AmountCents:  ledger.Cents(amounts[i]),
		})
		require.NoError(t, err)
	}

	entries, err := store.Entries(ctx, "inf-1")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	var running ledger.Cents
	for i, e := range entries {
		running += e.AmountCents
		assert.Equal(t, running, e.RunningBalanceCents, "entry %d cached balance", i)
		assert.Equal(t, int64(i+1), e.Seq, "entry %d sequence", i)
	}

	calc := &ledger.Calculator{Store: store}
	drifts, err := calc.Audit(ctx, "inf-1")
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestBalance_InfluencersAreIsolated(t *testing.T) {
	// GIVEN: Entries for two influencers
	// WHEN: Computing each balance
	// THEN: Neither sees the other's entries

	l, store := newTestLedger()
	ctx := context.Background()

	_, err := l.Append(ctx, earning("inf-1", 1000, "a1"))
	require.NoError(t, err)
	_, err = l.Append(ctx, earning("inf-2", 7777, "a2"))
	require.NoError(t, err)

	calc := &ledger.Calculator{Store: store}
	b1, err := calc.Compute(ctx, "inf-1")
	require.NoError(t, err)
	b2, err := calc.Compute(ctx, "inf-2")
	require.NoError(t, err)

	assert.Equal(t, ledger.Cents(1000), b1.AvailableCents)
	assert.Equal(t, ledger.Cents(7777), b2.AvailableCents)
}

// =============================================================================
// WRITE-TIME VALIDATION
// =============================================================================

func TestAppend_RejectsCorruptEntries(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	cases := []struct {
		name  string
		entry ledger.Entry
	}{
		{"zero amount", ledger.Entry{ID: "e1", InfluencerID: "inf-1", Type: ledger.EntryEarning, AmountCents: 0}},
		{"negative earning", ledger.Entry{ID: "e2", InfluencerID: "inf-1", Type: ledger.EntryEarning, AmountCents: -100}},
		{"positive payout", ledger.Entry{ID: "e3", InfluencerID: "inf-1", Type: ledger.EntryPayout, AmountCents: 100}},
		{"negative reversal", ledger.Entry{ID: "e4", InfluencerID: "inf-1", Type: ledger.EntryReversal, AmountCents: -100}},
		{"missing influencer", ledger.Entry{ID: "e5", Type: ledger.EntryEarning, AmountCents: 100}},
		{"unknown type", ledger.Entry{ID: "e6", InfluencerID: "inf-1", Type: "bonus", AmountCents: 100}},
		{"foreign currency", ledger.Entry{ID: "e7", InfluencerID: "inf-1", Type: ledger.EntryEarning, AmountCents: 100, Currency: "EUR"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Append(ctx, tc.entry)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestAppend_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	// GIVEN: An entry written with an idempotency key
	// WHEN: Appending a second entry with the same key
	// THEN: The write is rejected and the ledger is unchanged

	l, store := newTestLedger()
	ctx := context.Background()

	_, err := l.Append(ctx, earning("inf-1", 500, "once"))
	require.NoError(t, err)

	_, err = l.Append(ctx, earning("inf-1", 500, "once"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	entries, err := store.Entries(ctx, "inf-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppend_DefaultsCurrencyAndTimestamps(t *testing.T) {
	l, _ := newTestLedger()

	stored, err := l.Append(context.Background(), earning("inf-1", 100, "d1"))
	require.NoError(t, err)

	assert.Equal(t, ledger.CurrencyUSD, stored.Currency)
	assert.False(t, stored.TransactionDate.IsZero())
	assert.False(t, stored.CreatedAt.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), stored.CreatedAt, 5*time.Second)
}
