/*
manager.go - Payout request lifecycle

PURPOSE:
  Drives payout requests through the state machine while keeping the
  ledger and the payout record mutually consistent under concurrency.

CREATE (optimistic reservation):
  Inside one transaction the balance is recomputed from the ledger and
  the request is written as pending together with a negative payout
  entry. The reservation at creation time is the concurrency strategy:
  the balance always reflects the sum of recorded intents, so two
  concurrent requests that individually fit the balance cannot both
  commit - the second re-reads a ledger that already carries the first
  reservation.

APPROVE (three phases):
  1. Transaction: pending -> processing (guarded).
  2. Settlement call, bounded by SettleTimeout. No store transaction is
     held across the external call.
  3. Transaction: paid on positive confirmation; cancelled + reversal on
     definite failure; on an unknown outcome the payout STAYS processing
     with NeedsReconciliation set - never paid off a client-side timeout.

REJECT / CANCEL:
  One transaction: guard, reversal entry restoring the reserved
  magnitude, terminal cancelled status. Reject is pending-only; cancel
  also covers processing. They differ only in actor intent and notes.
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/offerlink/commission-engine/ledger"
)

// DefaultSettleTimeout bounds a single settlement attempt.
const DefaultSettleTimeout = 30 * time.Second

// PayoutManager owns the payout request state machine.
type PayoutManager struct {
	Store         Store
	Executor      SettlementExecutor
	SettleTimeout time.Duration

	sleep sleeper // test hook for retry backoff
}

func NewPayoutManager(store Store, executor SettlementExecutor) *PayoutManager {
	return &PayoutManager{
		Store:         store,
		Executor:      executor,
		SettleTimeout: DefaultSettleTimeout,
	}
}

// =============================================================================
// CREATE - pending + reservation entry, atomically
// =============================================================================

func (m *PayoutManager) Create(ctx context.Context, infID ledger.InfluencerID, amountCents ledger.Cents, notes, actor string) (*PayoutRequest, error) {
	if infID == "" {
		return nil, &ledger.ValidationFieldError{Field: "influencerId", Reason: "required"}
	}
	if amountCents <= 0 {
		return nil, &ledger.ValidationFieldError{Field: "amountCents", Reason: "must be positive"}
	}

	var out *PayoutRequest
	err := runInTx(ctx, m.Store, m.sleep, func(tx Store) error {
		// Balance must come from inside the transaction.
		calc := ledger.Calculator{Store: tx}
		balance, err := calc.Compute(ctx, infID)
		if err != nil {
			return err
		}
		if amountCents > balance.AvailableCents {
			return &ledger.InsufficientBalanceError{
				InfluencerID: infID,
				Available:    balance.AvailableCents,
				Requested:    amountCents,
			}
		}

		now := time.Now().UTC()
		payout := &PayoutRequest{
			ID:           uuid.NewString(),
			InfluencerID: infID,
			AmountCents:  amountCents,
			Status:       PayoutPending,
			Notes:        notes,
			CreatedAt:    now,
			UpdatedAt:    now,
			CreatedBy:    actor,
		}

		entry, err := ledger.New(tx).Append(ctx, ledger.Entry{
			ID:              ledger.EntryID(uuid.NewString()),
			InfluencerID:    infID,
			Type:            ledger.EntryPayout,
			AmountCents:     -amountCents,
			Description:     fmt.Sprintf("payout request %s", payout.ID),
			RelatedPayoutID: payout.ID,
			TransactionDate: now,
			CreatedBy:       actor,
			IdempotencyKey:  "reserve-" + payout.ID,
		})
		if err != nil {
			return err
		}
		payout.ReservationEntryID = entry.ID

		if err := tx.PutPayout(ctx, payout); err != nil {
			return err
		}
		out = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// APPROVE - pending -> processing -> settlement -> paid
// =============================================================================

func (m *PayoutManager) Approve(ctx context.Context, payoutID, actor string) (*PayoutRequest, error) {
	var payout *PayoutRequest
	err := runInTx(ctx, m.Store, m.sleep, func(tx Store) error {
		p, err := tx.GetPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if !actionAllowed("approve", p.Status) {
			return &InvalidStateError{Kind: "payout", ID: p.ID, Status: string(p.Status), Action: "approve"}
		}
		now := time.Now().UTC()
		p.Status = PayoutProcessing
		p.ApprovedAt = &now
		p.UpdatedAt = now
		if err := tx.UpdatePayout(ctx, p, PayoutPending); err != nil {
			return err
		}
		payout = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return m.settle(ctx, payout, actor)
}

// ResolveSettlement retries settlement for a payout stuck in processing.
// Safe to call repeatedly: the executor is idempotent per payout ID.
func (m *PayoutManager) ResolveSettlement(ctx context.Context, payoutID, actor string) (*PayoutRequest, error) {
	payout, err := m.Store.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != PayoutProcessing {
		return nil, &InvalidStateError{Kind: "payout", ID: payout.ID, Status: string(payout.Status), Action: "resolve settlement"}
	}
	return m.settle(ctx, payout, actor)
}

// settle runs the external transfer and finalizes the payout from the
// outcome. payout must be in processing.
func (m *PayoutManager) settle(ctx context.Context, payout *PayoutRequest, actor string) (*PayoutRequest, error) {
	timeout := m.SettleTimeout
	if timeout <= 0 {
		timeout = DefaultSettleTimeout
	}
	settleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, settleErr := m.Executor.Settle(settleCtx, SettlementRequest{
		PayoutID:     payout.ID,
		InfluencerID: payout.InfluencerID,
		AmountCents:  payout.AmountCents,
	})

	switch {
	case settleErr == nil:
		// Positive confirmation: finalize as paid.
		err := runInTx(ctx, m.Store, m.sleep, func(tx Store) error {
			p, err := tx.GetPayout(ctx, payout.ID)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			p.Status = PayoutPaid
			p.ProcessedAt = &now
			p.UpdatedAt = now
			p.ExternalRef = result.ExternalRef
			p.NeedsReconciliation = false
			if err := tx.UpdatePayout(ctx, p, PayoutProcessing); err != nil {
				return err
			}
			payout = p
			return nil
		})
		if err != nil {
			return nil, err
		}
		return payout, nil

	case errors.Is(settleErr, ledger.ErrSettlementFailure):
		// Definite failure: compensate and surface.
		cancelled, err := m.terminate(ctx, payout.ID, "cancel", actor,
			fmt.Sprintf("settlement failed: %v", settleErr))
		if err != nil {
			return nil, err
		}
		return cancelled, settleErr

	default:
		// Unknown outcome (timeout, ambiguous provider response). The
		// payout stays processing, flagged for the reconciler. Never
		// paid without positive confirmation.
		flagErr := runInTx(ctx, m.Store, m.sleep, func(tx Store) error {
			p, err := tx.GetPayout(ctx, payout.ID)
			if err != nil {
				return err
			}
			p.NeedsReconciliation = true
			p.UpdatedAt = time.Now().UTC()
			if err := tx.UpdatePayout(ctx, p, PayoutProcessing); err != nil {
				return err
			}
			payout = p
			return nil
		})
		if flagErr != nil {
			return nil, flagErr
		}
		return payout, errors.Join(ledger.ErrSettlementUnknown, settleErr)
	}
}

// =============================================================================
// REJECT / CANCEL - terminal cancelled + compensating reversal
// =============================================================================

func (m *PayoutManager) Reject(ctx context.Context, payoutID, actor, notes string) (*PayoutRequest, error) {
	return m.terminate(ctx, payoutID, "reject", actor, notes)
}

func (m *PayoutManager) Cancel(ctx context.Context, payoutID, actor, notes string) (*PayoutRequest, error) {
	return m.terminate(ctx, payoutID, "cancel", actor, notes)
}

func (m *PayoutManager) terminate(ctx context.Context, payoutID, action, actor, notes string) (*PayoutRequest, error) {
	var out *PayoutRequest
	err := runInTx(ctx, m.Store, m.sleep, func(tx Store) error {
		p, err := tx.GetPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if !actionAllowed(action, p.Status) {
			return &InvalidStateError{Kind: "payout", ID: p.ID, Status: string(p.Status), Action: action}
		}
		from := p.Status

		// Restore the reserved balance.
		if _, err := ledger.New(tx).Append(ctx, ledger.Entry{
			ID:              ledger.EntryID(uuid.NewString()),
			InfluencerID:    p.InfluencerID,
			Type:            ledger.EntryReversal,
			AmountCents:     p.AmountCents,
			Description:     fmt.Sprintf("reversal of payout request %s (%s)", p.ID, action),
			RelatedPayoutID: p.ID,
			TransactionDate: time.Now().UTC(),
			CreatedBy:       actor,
			IdempotencyKey:  "reversal-" + p.ID,
		}); err != nil {
			return err
		}

		now := time.Now().UTC()
		p.Status = PayoutCancelled
		p.CancelledAt = &now
		p.UpdatedAt = now
		p.NeedsReconciliation = false
		if notes != "" {
			if p.Notes != "" {
				p.Notes += "; "
			}
			p.Notes += notes
		}
		if err := tx.UpdatePayout(ctx, p, from); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

func (m *PayoutManager) Get(ctx context.Context, payoutID string) (*PayoutRequest, error) {
	return m.Store.GetPayout(ctx, payoutID)
}

func (m *PayoutManager) ListByStatus(ctx context.Context, status PayoutStatus) ([]*PayoutRequest, error) {
	return m.Store.ListPayoutsByStatus(ctx, status)
}

func (m *PayoutManager) ListByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*PayoutRequest, error) {
	return m.Store.ListPayoutsByInfluencer(ctx, id)
}
