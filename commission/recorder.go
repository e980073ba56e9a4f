/*
recorder.go - Redemption recording with atomic ledger crediting

PURPOSE:
  Turns a redemption event (coupon + order amount) into exactly one
  redemption record and exactly one earning ledger entry, consuming the
  coupon, all inside a single store transaction.

TRANSACTION SHAPE:
  Within one WithTx, re-reading everything inside the transaction:
    1. Coupon lookup by code            -> NotFoundError
    2. Terminal-status guard            -> InvalidStateError
    3. Offer load, split resolution     -> NotFoundError / default split
    4. Earnings = ComputeEarnings(order, pct)
    5. Writes: redemption record, earning entry, coupon -> used,
       affiliate-link conversion increment (if linked)
  All four writes succeed or none do. No external calls inside the
  transaction - earnings accrue here, they are not paid out.

CONCURRENCY:
  Two concurrent redemptions of the same coupon both enter WithTx; the
  store serializes them and the loser re-reads a consumed coupon (or
  gets a guarded-write conflict, retried into the same re-read), so
  exactly one earning entry ever exists per coupon.
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/offerlink/commission-engine/ledger"
)

// RedemptionInput is what the caller supplies. Timestamps default to now.
type RedemptionInput struct {
	CouponCode       string
	OrderAmountCents ledger.Cents
	At               time.Time
	Notes            string
	Source           RedemptionSource
	Actor            string
}

func (in RedemptionInput) validate() error {
	if in.CouponCode == "" {
		return &ledger.ValidationFieldError{Field: "couponCode", Reason: "required"}
	}
	if in.OrderAmountCents <= 0 {
		return &ledger.ValidationFieldError{Field: "orderAmountCents", Reason: "must be positive"}
	}
	return nil
}

// Recorder records redemptions.
type Recorder struct {
	Store  Store
	Splits SplitPolicy

	sleep sleeper // test hook for retry backoff
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{Store: store}
}

// RecordRedemption computes the commission split and appends the
// redemption, its earning entry, and the coupon/link updates atomically.
func (r *Recorder) RecordRedemption(ctx context.Context, in RedemptionInput) (*Redemption, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.At.IsZero() {
		in.At = time.Now().UTC()
	}
	if in.Source == "" {
		in.Source = SourceAutomated
	}

	var out *Redemption
	err := runInTx(ctx, r.Store, r.sleep, func(tx Store) error {
		coupon, err := tx.GetCouponByCode(ctx, in.CouponCode)
		if err != nil {
			return err
		}
		if !coupon.Status.Redeemable() {
			return &InvalidStateError{
				Kind:   "coupon",
				ID:     coupon.Code,
				Status: string(coupon.Status),
				Action: "redeem",
			}
		}

		offer, err := tx.GetOffer(ctx, coupon.OfferID)
		if err != nil {
			return err
		}

		pct := r.Splits.Resolve(offer)
		earnings := ComputeEarnings(in.OrderAmountCents, pct)

		redemption := &Redemption{
			ID:               uuid.NewString(),
			CouponID:         coupon.ID,
			CouponCode:       coupon.Code,
			BizID:            coupon.BizID,
			InfID:            coupon.InfID,
			OfferID:          coupon.OfferID,
			LinkID:           coupon.LinkID,
			OrderAmountCents: in.OrderAmountCents,
			InfEarningsCents: earnings,
			SplitPct:         pct,
			Source:           in.Source,
			Notes:            in.Notes,
			RedeemedAt:       in.At,
			CreatedAt:        time.Now().UTC(),
			CreatedBy:        in.Actor,
		}

		entry, err := ledger.New(tx).Append(ctx, ledger.Entry{
			ID:                  ledger.EntryID(uuid.NewString()),
			InfluencerID:        coupon.InfID,
			Type:                ledger.EntryEarning,
			AmountCents:         earnings,
			Description:         fmt.Sprintf("commission for coupon %s (%s%% of %d)", coupon.Code, pct.String(), in.OrderAmountCents),
			RelatedRedemptionID: redemption.ID,
			TransactionDate:     in.At,
			CreatedBy:           in.Actor,
			IdempotencyKey:      "redeem-" + coupon.ID,
		})
		if err != nil {
			return err
		}
		redemption.LedgerEntryID = entry.ID

		if err := tx.PutRedemption(ctx, redemption); err != nil {
			return err
		}
		if err := tx.ConsumeCoupon(ctx, coupon.ID, coupon.Status, in.At); err != nil {
			return err
		}
		if coupon.LinkID != "" {
			if err := tx.IncrementLinkConversions(ctx, coupon.LinkID); err != nil {
				return err
			}
		}

		out = redemption
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
