/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission ledger and payout engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic. Handlers are thin: every balance-affecting rule lives in the
  commission and ledger packages, never here.

ENDPOINTS:
  Redemptions:
    POST   /api/redemptions                 Record a manual redemption

  Influencers:
    GET    /api/influencers/{id}/balance    Derived balance snapshot
    GET    /api/influencers/{id}/ledger     Full entry history
    GET    /api/influencers/{id}/redemptions Redemption history

  Payouts:
    POST   /api/payouts                     Create payout request (reserves funds)
    GET    /api/payouts?status=...          List by status or influencer
    GET    /api/payouts/{id}                Fetch one
    POST   /api/payouts/{id}/approve        Approve and settle
    POST   /api/payouts/{id}/reject         Reject (releases reservation)
    POST   /api/payouts/{id}/cancel         Cancel (releases reservation)

  Admin:
    POST   /api/admin/adjustments           Manual ledger adjustment
    POST   /api/admin/coupons               Seed a coupon (dev/admin)
    POST   /api/admin/offers                Seed an offer (dev/admin)

ERROR HANDLING:
  Domain errors map to HTTP status via writeDomainError:
  - 400: Validation errors, invalid input
  - 404: Coupon/offer/payout/redemption not found
  - 409: State-machine guard violations, concurrency conflicts
  - 422: Insufficient available balance
  - 502: Definite settlement failure (payout already compensated)
  - 202: Settlement outcome unknown; payout stays processing

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  The Actor field on requests is caller-asserted and audit-only.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - commission/: Domain logic these handlers delegate to
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/offerlink/commission-engine/commission"
	"github.com/offerlink/commission-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    commission.Store
	Recorder *commission.Recorder
	Payouts  *commission.PayoutManager

	validate *validator.Validate
}

// NewHandler wires a handler around the given store and payout manager.
func NewHandler(store commission.Store, recorder *commission.Recorder, payouts *commission.PayoutManager) *Handler {
	return &Handler{
		Store:    store,
		Recorder: recorder,
		Payouts:  payouts,
		validate: validator.New(),
	}
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// RecordRedemption records a manual coupon redemption.
// POST /api/redemptions
func (h *Handler) RecordRedemption(w http.ResponseWriter, r *http.Request) {
	var req RecordRedemptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	redemption, err := h.Recorder.RecordRedemption(r.Context(), commission.RedemptionInput{
		CouponCode:       req.CouponCode,
		OrderAmountCents: ledger.Cents(req.OrderAmountCents),
		Notes:            req.Notes,
		Source:           commission.SourceManualAdmin,
		Actor:            actorOr(req.Actor, "api"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRedemptionDTO(redemption))
}

// =============================================================================
// BALANCE / LEDGER HANDLERS
// =============================================================================

// GetBalance returns the derived balance for an influencer.
// GET /api/influencers/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.InfluencerID(chi.URLParam(r, "id"))

	calc := &ledger.Calculator{Store: h.Store, Reservations: h.Store}
	balance, err := calc.Compute(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// GetLedger returns the full entry history for an influencer, oldest
// first. An influencer with no entries gets an empty list, not a 404.
// GET /api/influencers/{id}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := ledger.InfluencerID(chi.URLParam(r, "id"))

	entries, err := h.Store.Entries(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetRedemptions returns an influencer's redemption history, oldest
// first.
// GET /api/influencers/{id}/redemptions
func (h *Handler) GetRedemptions(w http.ResponseWriter, r *http.Request) {
	id := ledger.InfluencerID(chi.URLParam(r, "id"))

	redemptions, err := h.Store.ListRedemptionsByInfluencer(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]RedemptionDTO, len(redemptions))
	for i, redemption := range redemptions {
		dtos[i] = toRedemptionDTO(redemption)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// CreatePayout creates a payout request and reserves the funds.
// POST /api/payouts
func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req CreatePayoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	payout, err := h.Payouts.Create(r.Context(),
		ledger.InfluencerID(req.InfluencerID),
		ledger.Cents(req.AmountCents),
		req.Notes,
		actorOr(req.Actor, "api"),
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPayoutDTO(payout))
}

// ListPayouts lists payouts by status or by influencer.
// GET /api/payouts?status=pending | ?influencer_id=inf-1
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if infID := r.URL.Query().Get("influencer_id"); infID != "" {
		payouts, err := h.Payouts.ListByInfluencer(ctx, ledger.InfluencerID(infID))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPayoutDTOs(payouts))
		return
	}

	status := commission.PayoutStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = commission.PayoutPending
	}
	switch status {
	case commission.PayoutPending, commission.PayoutProcessing, commission.PayoutPaid, commission.PayoutCancelled:
	default:
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	payouts, err := h.Payouts.ListByStatus(ctx, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTOs(payouts))
}

// GetPayout fetches a single payout request.
// GET /api/payouts/{id}
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.Payouts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(payout))
}

// ApprovePayout approves a pending payout and runs settlement.
// POST /api/payouts/{id}/approve
func (h *Handler) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	var req PayoutActionRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	payout, err := h.Payouts.Approve(r.Context(), chi.URLParam(r, "id"), actorOr(req.Actor, "api"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toPayoutDTO(payout))
	case errors.Is(err, ledger.ErrSettlementUnknown) && payout != nil:
		// Outcome unknown: the payout stays processing and the
		// reconciler will re-drive it. Tell the caller that honestly.
		writeJSON(w, http.StatusAccepted, toPayoutDTO(payout))
	case errors.Is(err, ledger.ErrSettlementFailure):
		resp := ErrorResponse{Error: "Settlement failed; payout cancelled and funds released", Code: "settlement_failed", Details: err.Error()}
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		writeDomainError(w, err)
	}
}

// RejectPayout rejects a pending payout and releases the reservation.
// POST /api/payouts/{id}/reject
func (h *Handler) RejectPayout(w http.ResponseWriter, r *http.Request) {
	h.terminatePayout(w, r, "reject")
}

// CancelPayout cancels a pending or processing payout.
// POST /api/payouts/{id}/cancel
func (h *Handler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	h.terminatePayout(w, r, "cancel")
}

func (h *Handler) terminatePayout(w http.ResponseWriter, r *http.Request, action string) {
	var req PayoutActionRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	actor := actorOr(req.Actor, "api")

	var payout *commission.PayoutRequest
	var err error
	if action == "reject" {
		payout, err = h.Payouts.Reject(r.Context(), id, actor, req.Notes)
	} else {
		payout, err = h.Payouts.Cancel(r.Context(), id, actor, req.Notes)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(payout))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment appends a manual adjustment entry. Corrections to
// past mistakes are new entries; history is never edited.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req CreateAdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := ledger.New(h.Store).Append(r.Context(), ledger.Entry{
		ID:           ledger.EntryID(uuid.NewString()),
		InfluencerID: ledger.InfluencerID(req.InfluencerID),
		Type:         ledger.EntryAdjustment,
		AmountCents:  ledger.Cents(req.AmountCents),
		Description:  req.Description,
		CreatedBy:    actorOr(req.Actor, "api"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// CreateCoupon seeds a coupon document.
// POST /api/admin/coupons
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req CreateCouponRequest
	if !h.decode(w, r, &req) {
		return
	}

	status := commission.CouponStatus(req.Status)
	if req.Status == "" {
		status = commission.CouponActive
	}
	coupon := &commission.Coupon{
		ID:       idOr(req.ID),
		Code:     strings.ToUpper(strings.TrimSpace(req.Code)),
		BizID:    req.BizID,
		InfID:    ledger.InfluencerID(req.InfluencerID),
		OfferID:  req.OfferID,
		LinkID:   req.LinkID,
		Status:   status,
		IssuedAt: time.Now().UTC(),
	}

	if err := h.Store.PutCoupon(r.Context(), coupon); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": coupon.ID, "code": coupon.Code})
}

// CreateOffer seeds an offer document.
// POST /api/admin/offers
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if !h.decode(w, r, &req) {
		return
	}

	offer := &commission.Offer{
		ID:    idOr(req.ID),
		BizID: req.BizID,
		Title: req.Title,
	}
	if req.SplitPct != nil {
		pct, err := decimal.NewFromString(*req.SplitPct)
		if err != nil || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			writeError(w, http.StatusBadRequest, "split_pct must be a decimal between 0 and 100", err)
			return
		}
		offer.SplitPct = &pct
	}

	if err := h.Store.PutOffer(r.Context(), offer); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": offer.ID})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode parses and validates a required JSON body. Returns false after
// writing the error response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// decodeOptional tolerates an empty body (action endpoints).
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func actorOr(actor, fallback string) string {
	if actor != "" {
		return actor
	}
	return fallback
}

func idOr(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var invalidState *commission.InvalidStateError
	var notFound *commission.NotFoundError
	var insufficient *ledger.InsufficientBalanceError

	switch {
	case errors.As(err, &invalidState):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: invalidState.Error(),
			Code:  "invalid_state",
			Details: map[string]string{
				"kind":   invalidState.Kind,
				"id":     invalidState.ID,
				"status": invalidState.Status,
				"action": invalidState.Action,
			},
		})
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "Conflicting concurrent update, retry the request",
			Code:  "conflict",
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: notFound.Error(),
			Code:  "not_found",
		})
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: insufficient.Error(),
			Code:  "insufficient_balance",
			Details: map[string]int64{
				"available_cents": int64(insufficient.Available),
				"requested_cents": int64(insufficient.Requested),
			},
		})
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
