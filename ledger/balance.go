/*
balance.go - Balance derivation by folding ledger history

PURPOSE:
  Computes an influencer's balance from entries. This is the central
  calculation that answers "how much can this influencer withdraw?"

KEY INSIGHT:
  Payout reservations are recorded as negative entries at request time,
  not at settlement. The plain fold over all entries therefore already
  excludes requested funds: it IS the spendable-now balance. Pending
  reports the in-flight reservation total separately so callers can show
  "requested but not yet settled" next to "available now".

BALANCE COMPONENTS:
  AvailableCents:  fold of all entry amounts (authoritative)
  PendingCents:    sum of reservations for pending/processing payouts
  LifetimeEarned:  sum of earning entries (display only)
  LifetimePaidOut: payout entries net of reversals (display only)

EDGE CASES:
  Unknown influencer = empty ledger = zero balances. Not an error.
  Corrupt entries cannot appear here: they are rejected at write time.

SEE ALSO:
  - ledger.go: Write path
  - commission/manager.go: Uses Available for payout-amount validation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// BALANCE - Snapshot derived from entry history
// =============================================================================

type Balance struct {
	InfluencerID InfluencerID

	// AvailableCents is the fold of all entry amounts. Reservation
	// entries are included, so this is spendable-now.
	AvailableCents Cents

	// PendingCents is the total reserved by in-flight payout requests.
	PendingCents Cents

	// Lifetime aggregates for display.
	LifetimeEarnedCents  Cents
	LifetimePaidOutCents Cents

	EntryCount int
	AsOf       time.Time
}

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// Calculator derives balances from the ledger. Reservations may be nil,
// in which case PendingCents is always zero.
type Calculator struct {
	Store        Store
	Reservations ReservationSource
}

// Compute folds the influencer's full entry history.
func (c *Calculator) Compute(ctx context.Context, id InfluencerID) (Balance, error) {
	entries, err := c.Store.Entries(ctx, id)
	if err != nil {
		return Balance{}, err
	}

	b := Balance{InfluencerID: id, AsOf: time.Now().UTC(), EntryCount: len(entries)}
	for _, e := range entries {
		b.AvailableCents += e.AmountCents
		switch e.Type {
		case EntryEarning:
			b.LifetimeEarnedCents += e.AmountCents
		case EntryPayout:
			b.LifetimePaidOutCents += -e.AmountCents
		case EntryReversal:
			b.LifetimePaidOutCents -= e.AmountCents
		}
	}

	if c.Reservations != nil {
		reserved, err := c.Reservations.ReservedCents(ctx, id)
		if err != nil {
			return Balance{}, err
		}
		b.PendingCents = reserved
	}
	return b, nil
}

// =============================================================================
// AUDIT - Cached running balances vs. recomputed truth
// =============================================================================

// Drift reports an entry whose cached running balance disagrees with the
// value recomputed from history.
type Drift struct {
	EntryID  EntryID
	Seq      int64
	Cached   Cents
	Computed Cents
}

// Audit replays the influencer's history in (TransactionDate, Seq) order
// and returns every entry whose cached RunningBalanceCents does not match
// the recomputed value. An empty result means the cache is consistent.
func (c *Calculator) Audit(ctx context.Context, id InfluencerID) ([]Drift, error) {
	entries, err := c.Store.Entries(ctx, id)
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	var running Cents
	for _, e := range entries {
		running += e.AmountCents
		if e.RunningBalanceCents != running {
			drifts = append(drifts, Drift{
				EntryID:  e.ID,
				Seq:      e.Seq,
				Cached:   e.RunningBalanceCents,
				Computed: running,
			})
		}
	}
	return drifts, nil
}
