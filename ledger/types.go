/*
Package ledger provides the core commission ledger engine.

PURPOSE:
  This package contains the money-movement primitives for the platform:
  immutable ledger entries, the append-only store contract, and the
  balance calculator that derives an influencer's balance by folding
  entry history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Cents: A signed amount of money in integer cents
  - Entry: An immutable ledger record of a single balance-affecting event
  - InfluencerID: Type-safe identifier for the entry owner

DESIGN PRINCIPLES:
  1. Immutability: Entries are never edited or deleted, only offset
  2. Integer money: Ledger amounts are int64 cents, no floating point
  3. Derivability: Balance is always recomputable from entry history;
     the cached running balance on each entry is never authoritative
  4. Auditability: Every entry carries description, actor, back-references

USAGE:
  entry := ledger.Entry{
      InfluencerID: "inf-123",
      Type:         ledger.EntryEarning,
      AmountCents:  2500,
      Description:  "commission for order #981",
  }

SEE ALSO:
  - store.go: Append-only persistence contract
  - balance.go: Balance calculation from entries
  - errors.go: Error taxonomy
*/
package ledger

import "time"

// =============================================================================
// MONEY - Integer cents, signed
// =============================================================================

// Cents is a signed amount of money in integer cents.
// Positive amounts increase an influencer's balance, negative decrease it.
type Cents int64

// CurrencyUSD is the only currency handled by this ledger.
const CurrencyUSD = "USD"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InfluencerID string
type EntryID string

// =============================================================================
// ENTRY - Immutable record of a balance-affecting event
// =============================================================================

type EntryType string

const (
	// EntryEarning credits commission from a redemption. Always positive.
	EntryEarning EntryType = "earning"
	// EntryPayout reserves funds for a payout request. Always negative,
	// recorded at request creation time, not at settlement.
	EntryPayout EntryType = "payout"
	// EntryAdjustment is a manual admin correction, either sign.
	EntryAdjustment EntryType = "adjustment"
	// EntryReversal offsets a prior entry (rejected/cancelled payout).
	// Always positive in this system.
	EntryReversal EntryType = "reversal"
)

// ValidEntryType reports whether t is one of the known entry types.
func ValidEntryType(t EntryType) bool {
	switch t {
	case EntryEarning, EntryPayout, EntryAdjustment, EntryReversal:
		return true
	}
	return false
}

// Entry is a single immutable ledger record.
//
// RelatedPayoutID and RelatedRedemptionID are back-references for audit,
// never ownership. RunningBalanceCents and Seq are assigned by the store
// at append time: Seq is a per-influencer monotonic write sequence, and
// RunningBalanceCents is the balance immediately after this entry applies.
// Both are cached conveniences; the authoritative balance is always the
// fold over all entries.
type Entry struct {
	ID           EntryID
	InfluencerID InfluencerID
	Type         EntryType
	AmountCents  Cents
	Currency     string
	Description  string

	RelatedPayoutID     string
	RelatedRedemptionID string

	// Assigned by the store on append.
	Seq                 int64
	RunningBalanceCents Cents

	TransactionDate time.Time
	CreatedAt       time.Time
	CreatedBy       string

	// Optional. Duplicate keys are rejected at write time.
	IdempotencyKey string
}

// Validate rejects corrupt entries at write time. The balance calculator
// never tolerates a bad entry at read time; this is the gate.
func (e Entry) Validate() error {
	if e.InfluencerID == "" {
		return &ValidationFieldError{Field: "influencerId", Reason: "required"}
	}
	if !ValidEntryType(e.Type) {
		return &ValidationFieldError{Field: "type", Reason: "unknown entry type " + string(e.Type)}
	}
	if e.AmountCents == 0 {
		return &ValidationFieldError{Field: "amountCents", Reason: "must be non-zero"}
	}
	if e.Currency != "" && e.Currency != CurrencyUSD {
		return &ValidationFieldError{Field: "currency", Reason: "only USD is supported"}
	}
	switch e.Type {
	case EntryEarning, EntryReversal:
		if e.AmountCents < 0 {
			return &ValidationFieldError{Field: "amountCents", Reason: string(e.Type) + " entries must be positive"}
		}
	case EntryPayout:
		if e.AmountCents > 0 {
			return &ValidationFieldError{Field: "amountCents", Reason: "payout entries must be negative"}
		}
	}
	return nil
}
