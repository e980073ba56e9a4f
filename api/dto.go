/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model (ledger entries, payouts, redemptions) from
  the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All amounts cross the wire as integer cents. Split percentages are
  decimal strings ("25", "7.5") so clients never see float drift.

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  them through a shared validator instance before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go, commission/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/offerlink/commission-engine/commission"
	"github.com/offerlink/commission-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RecordRedemptionRequest is the manual redemption submitted by a
// business admin.
type RecordRedemptionRequest struct {
	CouponCode       string `json:"coupon_code" validate:"required"`
	OrderAmountCents int64  `json:"order_amount_cents" validate:"required,gt=0"`
	Notes            string `json:"notes,omitempty"`
	Actor            string `json:"actor,omitempty"`
}

// CreatePayoutRequest asks for funds to be paid out.
type CreatePayoutRequest struct {
	InfluencerID string `json:"influencer_id" validate:"required"`
	AmountCents  int64  `json:"amount_cents" validate:"required,gt=0"`
	Notes        string `json:"notes,omitempty"`
	Actor        string `json:"actor,omitempty"`
}

// PayoutActionRequest accompanies approve/reject/cancel.
type PayoutActionRequest struct {
	Actor string `json:"actor,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// CreateAdjustmentRequest is a manual ledger correction. Amount may be
// negative; a claw-back of a prior earning should use type "reversal"
// with a positive amount plus a separate negative adjustment only when
// the original entry is unknown.
type CreateAdjustmentRequest struct {
	InfluencerID string `json:"influencer_id" validate:"required"`
	AmountCents  int64  `json:"amount_cents" validate:"required"`
	Description  string `json:"description" validate:"required"`
	Actor        string `json:"actor,omitempty"`
}

// CreateCouponRequest seeds a coupon (dev/admin surface).
type CreateCouponRequest struct {
	ID           string `json:"id,omitempty"`
	Code         string `json:"code" validate:"required"`
	BizID        string `json:"biz_id" validate:"required"`
	InfluencerID string `json:"influencer_id" validate:"required"`
	OfferID      string `json:"offer_id" validate:"required"`
	LinkID       string `json:"link_id,omitempty"`
	Status       string `json:"status,omitempty" validate:"omitempty,oneof=issued active used redeemed expired revoked"`
}

// CreateOfferRequest seeds an offer (dev/admin surface).
type CreateOfferRequest struct {
	ID       string  `json:"id,omitempty"`
	BizID    string  `json:"biz_id" validate:"required"`
	Title    string  `json:"title,omitempty"`
	SplitPct *string `json:"split_pct,omitempty"` // decimal string; nil = platform default
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// EntryDTO represents one ledger entry.
type EntryDTO struct {
	ID                  string `json:"id"`
	InfluencerID        string `json:"influencer_id"`
	Type                string `json:"type"`
	AmountCents         int64  `json:"amount_cents"`
	Currency            string `json:"currency"`
	Description         string `json:"description,omitempty"`
	RelatedPayoutID     string `json:"related_payout_id,omitempty"`
	RelatedRedemptionID string `json:"related_redemption_id,omitempty"`
	Seq                 int64  `json:"seq"`
	RunningBalanceCents int64  `json:"running_balance_cents"`
	TransactionDate     string `json:"transaction_date"`
	CreatedAt           string `json:"created_at"`
	CreatedBy           string `json:"created_by,omitempty"`
}

// BalanceDTO is the derived balance snapshot for an influencer.
type BalanceDTO struct {
	InfluencerID         string `json:"influencer_id"`
	AvailableCents       int64  `json:"available_cents"`
	PendingCents         int64  `json:"pending_cents"`
	LifetimeEarnedCents  int64  `json:"lifetime_earned_cents"`
	LifetimePaidOutCents int64  `json:"lifetime_paid_out_cents"`
	EntryCount           int    `json:"entry_count"`
	AsOf                 string `json:"as_of"`
}

// RedemptionDTO represents a recorded redemption.
type RedemptionDTO struct {
	ID               string `json:"id"`
	CouponID         string `json:"coupon_id"`
	CouponCode       string `json:"coupon_code"`
	BizID            string `json:"biz_id"`
	InfluencerID     string `json:"influencer_id"`
	OfferID          string `json:"offer_id"`
	LinkID           string `json:"link_id,omitempty"`
	OrderAmountCents int64  `json:"order_amount_cents"`
	EarningsCents    int64  `json:"earnings_cents"`
	SplitPct         string `json:"split_pct"`
	Source           string `json:"source"`
	LedgerEntryID    string `json:"ledger_entry_id"`
	Notes            string `json:"notes,omitempty"`
	RedeemedAt       string `json:"redeemed_at"`
}

// PayoutDTO represents a payout request and its settlement state.
type PayoutDTO struct {
	ID                  string  `json:"id"`
	InfluencerID        string  `json:"influencer_id"`
	AmountCents         int64   `json:"amount_cents"`
	Status              string  `json:"status"`
	Notes               string  `json:"notes,omitempty"`
	ExternalRef         string  `json:"external_ref,omitempty"`
	NeedsReconciliation bool    `json:"needs_reconciliation,omitempty"`
	CreatedAt           string  `json:"created_at"`
	ApprovedAt          *string `json:"approved_at,omitempty"`
	ProcessedAt         *string `json:"processed_at,omitempty"`
	CancelledAt         *string `json:"cancelled_at,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:                  string(e.ID),
		InfluencerID:        string(e.InfluencerID),
		Type:                string(e.Type),
		AmountCents:         int64(e.AmountCents),
		Currency:            e.Currency,
		Description:         e.Description,
		RelatedPayoutID:     e.RelatedPayoutID,
		RelatedRedemptionID: e.RelatedRedemptionID,
		Seq:                 e.Seq,
		RunningBalanceCents: int64(e.RunningBalanceCents),
		TransactionDate:     e.TransactionDate.Format(time.RFC3339),
		CreatedAt:           e.CreatedAt.Format(time.RFC3339),
		CreatedBy:           e.CreatedBy,
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		InfluencerID:         string(b.InfluencerID),
		AvailableCents:       int64(b.AvailableCents),
		PendingCents:         int64(b.PendingCents),
		LifetimeEarnedCents:  int64(b.LifetimeEarnedCents),
		LifetimePaidOutCents: int64(b.LifetimePaidOutCents),
		EntryCount:           b.EntryCount,
		AsOf:                 b.AsOf.Format(time.RFC3339),
	}
}

func toRedemptionDTO(r *commission.Redemption) RedemptionDTO {
	return RedemptionDTO{
		ID:               r.ID,
		CouponID:         r.CouponID,
		CouponCode:       r.CouponCode,
		BizID:            r.BizID,
		InfluencerID:     string(r.InfID),
		OfferID:          r.OfferID,
		LinkID:           r.LinkID,
		OrderAmountCents: int64(r.OrderAmountCents),
		EarningsCents:    int64(r.InfEarningsCents),
		SplitPct:         r.SplitPct.String(),
		Source:           string(r.Source),
		LedgerEntryID:    string(r.LedgerEntryID),
		Notes:            r.Notes,
		RedeemedAt:       r.RedeemedAt.Format(time.RFC3339),
	}
}

func toPayoutDTO(p *commission.PayoutRequest) PayoutDTO {
	return PayoutDTO{
		ID:                  p.ID,
		InfluencerID:        string(p.InfluencerID),
		AmountCents:         int64(p.AmountCents),
		Status:              string(p.Status),
		Notes:               p.Notes,
		ExternalRef:         p.ExternalRef,
		NeedsReconciliation: p.NeedsReconciliation,
		CreatedAt:           p.CreatedAt.Format(time.RFC3339),
		ApprovedAt:          timePtr(p.ApprovedAt),
		ProcessedAt:         timePtr(p.ProcessedAt),
		CancelledAt:         timePtr(p.CancelledAt),
	}
}

func toPayoutDTOs(payouts []*commission.PayoutRequest) []PayoutDTO {
	dtos := make([]PayoutDTO, len(payouts))
	for i, p := range payouts {
		dtos[i] = toPayoutDTO(p)
	}
	return dtos
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
