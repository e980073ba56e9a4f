/*
settlement.go - External settlement executor contract

PURPOSE:
  Settlement is the act of actually transferring reserved funds to the
  influencer via an external payment provider. The provider is a
  collaborator outside this repo; this file pins down the only two
  things the core requires of it:

    1. IDEMPOTENCE per payout ID: retrying Settle for the same payout
       must not double-pay.
    2. DISTINGUISHABLE failure: a definite failure (returned as a
       *SettlementFailedError) is final and triggers a compensating
       reversal; an unknown outcome (ErrSettlementUnknown, timeouts)
       leaves the payout processing for idempotent retry by the
       reconciler. The manager never guesses between the two.
*/
package commission

import (
	"context"
	"errors"
	"log"

	"github.com/offerlink/commission-engine/ledger"
)

// SettlementRequest identifies the transfer to perform.
type SettlementRequest struct {
	PayoutID     string
	InfluencerID ledger.InfluencerID
	AmountCents  ledger.Cents
}

// SettlementResult is a positive confirmation from the provider.
type SettlementResult struct {
	ExternalRef string
}

// SettlementExecutor performs the external transfer for a payout.
//
// Settle MUST be idempotent per PayoutID. Errors are classified with
// errors.As/Is: *SettlementFailedError means definitely not paid;
// ledger.ErrSettlementUnknown (or a context deadline) means the outcome
// is unconfirmed and the call may be retried.
type SettlementExecutor interface {
	Settle(ctx context.Context, req SettlementRequest) (SettlementResult, error)
}

// =============================================================================
// SANDBOX EXECUTOR - Deterministic in-process provider for dev/demo
// =============================================================================

// SandboxExecutor settles every payout immediately with a synthetic
// reference. Used by cmd/server when no real provider is configured.
type SandboxExecutor struct{}

func (SandboxExecutor) Settle(ctx context.Context, req SettlementRequest) (SettlementResult, error) {
	if err := ctx.Err(); err != nil {
		return SettlementResult{}, errors.Join(ledger.ErrSettlementUnknown, err)
	}
	log.Printf("[sandbox-settlement] payout=%s influencer=%s amount=%d", req.PayoutID, req.InfluencerID, req.AmountCents)
	return SettlementResult{ExternalRef: "sandbox-" + req.PayoutID}, nil
}
