/*
split.go - Revenue split computation

PURPOSE:
  The single place where influencer earnings are computed from an order
  amount and a split percentage. The split appears at every redemption
  call site (manual admin, automated) and must agree bit-for-bit, so
  nothing else in the repo is allowed to do this arithmetic.

ROUNDING:
  Half-up (round half away from zero), via decimal.Round(0):
    10000 * 25% = 2500
      100 * 33% =   33
       50 * 33% = 16.5 -> 17

DEFAULT SPLIT:
  When an offer carries no split percentage, DefaultSplitPct (20) is
  substituted. This is an explicit, configurable business default - the
  rate actually applied is stamped on the redemption so the substitution
  is always auditable.
*/
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/offerlink/commission-engine/ledger"
)

// DefaultSplitPct is the platform-wide split applied when an offer does
// not specify one.
var DefaultSplitPct = decimal.NewFromInt(20)

var hundred = decimal.NewFromInt(100)

// SplitPolicy resolves the split percentage for an offer.
type SplitPolicy struct {
	// DefaultPct substitutes for offers without a split. Zero value
	// falls back to DefaultSplitPct.
	DefaultPct decimal.Decimal
}

// Resolve returns the split percentage to apply for the offer.
func (p SplitPolicy) Resolve(offer *Offer) decimal.Decimal {
	if offer != nil && offer.SplitPct != nil {
		return *offer.SplitPct
	}
	if p.DefaultPct.IsZero() {
		return DefaultSplitPct
	}
	return p.DefaultPct
}

// ComputeEarnings returns the influencer's commission in cents for an
// order, rounding half away from zero.
func ComputeEarnings(orderAmountCents ledger.Cents, splitPct decimal.Decimal) ledger.Cents {
	earnings := decimal.NewFromInt(int64(orderAmountCents)).
		Mul(splitPct).
		Div(hundred).
		Round(0)
	return ledger.Cents(earnings.IntPart())
}
