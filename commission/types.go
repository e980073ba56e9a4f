// Package commission implements the coupon redemption and payout
// settlement domain on top of the generic ledger engine.
package commission

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/offerlink/commission-engine/ledger"
)

// =============================================================================
// COUPON - Collaborator entity, referenced not owned by the ledger
// =============================================================================

type CouponStatus string

const (
	CouponIssued   CouponStatus = "issued"
	CouponActive   CouponStatus = "active"
	CouponUsed     CouponStatus = "used"
	CouponRedeemed CouponStatus = "redeemed"
	CouponExpired  CouponStatus = "expired"
	CouponRevoked  CouponStatus = "revoked"
)

// Redeemable reports whether a coupon in this status may still be redeemed.
func (s CouponStatus) Redeemable() bool {
	return s == CouponIssued || s == CouponActive
}

// Consumed reports whether the single-use coupon has already been spent.
func (s CouponStatus) Consumed() bool {
	return s == CouponUsed || s == CouponRedeemed
}

type Coupon struct {
	ID     string
	Code   string // unique lookup key
	BizID  string
	InfID  ledger.InfluencerID
	OfferID string
	LinkID string // affiliate link, empty if none
	Status CouponStatus

	IssuedAt   time.Time
	RedeemedAt *time.Time
	CreatedAt  time.Time
}

// =============================================================================
// OFFER - Supplies the revenue split
// =============================================================================

type Offer struct {
	ID    string
	BizID string
	Title string

	// SplitPct is the influencer's share of order value, as a percentage.
	// Nil means the offer never specified one; SplitPolicy.DefaultPct
	// applies and the substitution is recorded on the redemption.
	SplitPct *decimal.Decimal

	CreatedAt time.Time
}

// =============================================================================
// AFFILIATE LINK - Conversion counter bumped on redemption
// =============================================================================

type AffiliateLink struct {
	ID          string
	InfID       ledger.InfluencerID
	OfferID     string
	Conversions int64
	CreatedAt   time.Time
}

// =============================================================================
// REDEMPTION - One per consumed coupon, immutable after creation
// =============================================================================

type RedemptionSource string

const (
	SourceManualAdmin RedemptionSource = "manual_admin"
	SourceAutomated   RedemptionSource = "automated"
)

// Redemption records a coupon being spent. Exactly one earning ledger
// entry exists per redemption, and InfEarningsCents equals that entry's
// amount. Immutable after creation except for admin note fields.
type Redemption struct {
	ID         string
	CouponID   string
	CouponCode string
	BizID      string
	InfID      ledger.InfluencerID
	OfferID    string
	LinkID     string

	OrderAmountCents ledger.Cents
	InfEarningsCents ledger.Cents
	SplitPct         decimal.Decimal // rate actually applied
	Source           RedemptionSource

	LedgerEntryID ledger.EntryID

	Notes      string
	RedeemedAt time.Time
	CreatedAt  time.Time
	CreatedBy  string
}
