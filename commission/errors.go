/*
errors.go - Domain errors wrapping the engine taxonomy

PURPOSE:
  Structured errors carrying the detail a caller needs to act: which
  document is missing, what state was found, which action was refused.
  All unwrap to the ledger package sentinels so callers can classify
  with errors.Is without depending on concrete types.
*/
package commission

import (
	"fmt"

	"github.com/offerlink/commission-engine/ledger"
)

// NotFoundError names the missing document.
type NotFoundError struct {
	Kind string // "coupon", "offer", "payout", "redemption"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ledger.ErrNotFound }

// InvalidStateError reports a state-machine guard violation: the current
// status and the action that was refused. Never a silent no-op.
type InvalidStateError struct {
	Kind   string // "coupon", "payout"
	ID     string
	Status string
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: status is %s", e.Action, e.Kind, e.ID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ledger.ErrInvalidState }

// SettlementFailedError is a definite failure reported by the executor.
// Distinct from ledger.ErrSettlementUnknown, which means the outcome
// could not be confirmed.
type SettlementFailedError struct {
	PayoutID string
	Reason   string
}

func (e *SettlementFailedError) Error() string {
	return fmt.Sprintf("settlement failed for payout %s: %s", e.PayoutID, e.Reason)
}

func (e *SettlementFailedError) Unwrap() error { return ledger.ErrSettlementFailure }
