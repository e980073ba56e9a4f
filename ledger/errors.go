/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain code wraps these sentinels with structured errors carrying
  enough context for the caller to act (current state, offending field).

ERROR CATEGORIES:
  1. Guard violations   - InvalidState, InsufficientBalance (never retried)
  2. Input errors       - Validation (never retried)
  3. Transient errors   - ConcurrencyConflict (retried internally, bounded)
  4. Settlement errors  - definite failure vs. unknown outcome

USAGE:
  if errors.Is(err, ledger.ErrInvalidState) {
      // surface current state to the caller, do not retry
  }

SEE ALSO:
  - commission/errors.go: Domain wrappers (NotFoundError, InvalidStateError)
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned on a state-machine guard violation:
	// redeeming a consumed coupon, acting on a terminal payout.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientBalance is returned when a payout request exceeds
	// the available balance computed inside the creating transaction.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrValidation is returned for malformed input (non-positive cents,
	// unknown entry type, wrong currency).
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrencyConflict is returned when a transaction lost a race
	// and must be retried. Retried internally a bounded number of times.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrSettlementFailure is returned when the settlement executor
	// reported a definite failure for a payout.
	ErrSettlementFailure = errors.New("settlement failed")

	// ErrSettlementUnknown is returned when a settlement outcome could
	// not be confirmed (timeout, ambiguous provider response). The payout
	// stays processing and is resolved by idempotent retry, never
	// promoted to paid without positive confirmation.
	ErrSettlementUnknown = errors.New("settlement outcome unknown")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports how far a request exceeded the balance.
type InsufficientBalanceError struct {
	InfluencerID InfluencerID
	Available    Cents
	Requested    Cents
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d",
		e.InfluencerID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ValidationFieldError names the offending field of a malformed input.
type ValidationFieldError struct {
	Field  string
	Reason string
}

func (e *ValidationFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationFieldError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input
// or a guard violation, and must be surfaced, never retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
