/*
store.go - Domain persistence contract

PURPOSE:
  Defines what the redemption recorder and payout manager need from the
  document store: typed access to coupons, offers, redemptions, payouts
  and affiliate links, plus atomic multi-document transactions.

TRANSACTIONS:
  WithTx executes fn against a transactional view of the store. All
  writes inside fn commit together or not at all. Code inside fn MUST
  re-read the documents it depends on (coupon status, balance) through
  the view rather than trusting values read earlier - that re-read is
  the engine's defense against two concurrent redemptions of one coupon
  or two payout requests that individually pass the balance check.

GUARDED WRITES:
  ConsumeCoupon and UpdatePayout are compare-and-set on status. If the
  expected status no longer holds, they return ErrConcurrencyConflict
  and the enclosing transaction is rolled back and retried (bounded).

SEE ALSO:
  - ledger/store.go: Embedded append-only entry contract
  - store/memory, store/sqlite: Implementations
*/
package commission

import (
	"context"
	"time"

	"github.com/offerlink/commission-engine/ledger"
)

// Store is the full persistence surface for the commission domain.
// The embedded ledger.Store keeps the entries collection append-only;
// ReservedCents (ledger.ReservationSource) sums in-flight payout
// reservations for the balance calculator.
type Store interface {
	ledger.Store
	ledger.ReservationSource

	// Coupons
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)
	PutCoupon(ctx context.Context, c *Coupon) error
	// ConsumeCoupon transitions the coupon to its consumed terminal
	// status iff its current status equals from.
	ConsumeCoupon(ctx context.Context, couponID string, from CouponStatus, at time.Time) error

	// Offers
	GetOffer(ctx context.Context, offerID string) (*Offer, error)
	PutOffer(ctx context.Context, o *Offer) error

	// Redemptions (insert-only; note fields are the only mutable part
	// and are out of scope for the engine)
	PutRedemption(ctx context.Context, r *Redemption) error
	GetRedemption(ctx context.Context, id string) (*Redemption, error)
	ListRedemptionsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*Redemption, error)

	// Affiliate links
	GetLink(ctx context.Context, linkID string) (*AffiliateLink, error)
	PutLink(ctx context.Context, l *AffiliateLink) error
	IncrementLinkConversions(ctx context.Context, linkID string) error

	// Payout requests
	PutPayout(ctx context.Context, p *PayoutRequest) error
	GetPayout(ctx context.Context, id string) (*PayoutRequest, error)
	// UpdatePayout persists p iff the stored status equals expect.
	UpdatePayout(ctx context.Context, p *PayoutRequest, expect PayoutStatus) error
	ListPayoutsByStatus(ctx context.Context, status PayoutStatus) ([]*PayoutRequest, error)
	ListPayoutsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*PayoutRequest, error)

	// WithTx executes fn atomically against a transactional view.
	WithTx(ctx context.Context, fn func(Store) error) error
}
