/*
payout.go - Payout request entity and state machine

STATES:
  pending ──approve──▶ processing ──settle ok──▶ paid
     │                     │
     │ reject/cancel       │ cancel, or definite settlement failure
     ▼                     ▼
  cancelled            cancelled

  paid and cancelled are terminal. Any action attempted from a terminal
  state fails with InvalidStateError naming the status and the action.

RESERVATION INVARIANT:
  A payout in a non-terminal state always has a corresponding negative
  payout ledger entry already recorded - the balance is reserved
  optimistically at request creation, not at settlement. Cancellation
  and rejection restore it with a reversal entry of the same magnitude.
*/
package commission

import (
	"time"

	"github.com/offerlink/commission-engine/ledger"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutCancelled  PayoutStatus = "cancelled"
)

// Terminal reports whether no further action is allowed.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutPaid || s == PayoutCancelled
}

// payoutActions maps an action to the statuses it is allowed from.
var payoutActions = map[string][]PayoutStatus{
	"approve": {PayoutPending},
	"reject":  {PayoutPending},
	"cancel":  {PayoutPending, PayoutProcessing},
}

func actionAllowed(action string, from PayoutStatus) bool {
	for _, s := range payoutActions[action] {
		if s == from {
			return true
		}
	}
	return false
}

// PayoutRequest is an influencer's request to withdraw available balance.
type PayoutRequest struct {
	ID           string
	InfluencerID ledger.InfluencerID
	AmountCents  ledger.Cents
	Status       PayoutStatus
	Notes        string

	// ReservationEntryID is the negative payout entry written at
	// creation time.
	ReservationEntryID ledger.EntryID

	// ExternalRef is the settlement provider's reference, set when paid.
	ExternalRef string

	// NeedsReconciliation flags a processing payout whose settlement
	// outcome could not be confirmed. Operator-visible; cleared when the
	// reconciler resolves the payout.
	NeedsReconciliation bool

	CreatedAt   time.Time
	ApprovedAt  *time.Time
	ProcessedAt *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
	CreatedBy   string
}
