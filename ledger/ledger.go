/*
ledger.go - Append-only ledger over a Store

PURPOSE:
  The Ledger is the immutable source of truth for every money-moving
  event: redemption earnings, payout reservations, adjustments,
  reversals. Balance is always computed by folding entries - there is
  no separately-mutated balance counter that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. VALIDATED AT WRITE: A corrupt entry (zero amount, unknown type,
     wrong currency) is rejected here, never tolerated at read time.
  3. IDEMPOTENT: Same idempotency key = same entry, duplicates rejected.

CORRECTIONS:
  Mistakes are never edited. A reversal entry with the opposite sign is
  appended; both remain in history and the net effect is the correction.

EXAMPLE FLOW:
  1. Redemption earns $25.00:        earning  +2500
  2. Influencer requests $25 payout: payout   -2500  (reservation)
  3. Payout rejected:                reversal +2500
  Balance: [+2500, -2500, +2500] = 2500

SEE ALSO:
  - store.go: Persistence contract
  - commission/recorder.go, commission/manager.go: The two writers
*/
package ledger

import (
	"context"
	"time"
)

// Ledger wraps a Store with write-time validation and idempotency checks.
type Ledger struct {
	Store Store
}

func New(store Store) *Ledger {
	return &Ledger{Store: store}
}

// Append validates and persists an entry, returning the stored entry with
// its assigned sequence and running balance.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	if e.Currency == "" {
		e.Currency = CurrencyUSD
	}
	if e.TransactionDate.IsZero() {
		e.TransactionDate = time.Now().UTC()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.IdempotencyKey != "" {
		exists, err := l.Store.HasIdempotencyKey(ctx, e.IdempotencyKey)
		if err != nil {
			return Entry{}, err
		}
		if exists {
			return Entry{}, ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendEntry(ctx, e)
}

// Entries returns the full history for an influencer, oldest first.
func (l *Ledger) Entries(ctx context.Context, id InfluencerID) ([]Entry, error) {
	return l.Store.Entries(ctx, id)
}
