package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offerlink/commission-engine/api"
	"github.com/offerlink/commission-engine/commission"
	"github.com/offerlink/commission-engine/ledger"
	"github.com/offerlink/commission-engine/store/memory"
)

// =============================================================================
// TEST SERVER
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	recorder := commission.NewRecorder(store)
	payouts := commission.NewPayoutManager(store, commission.SandboxExecutor{})

	server := httptest.NewServer(api.NewRouter(api.NewHandler(store, recorder, payouts)))
	t.Cleanup(server.Close)
	return server, store
}

func seedRedeemableCoupon(t *testing.T, server *httptest.Server) {
	t.Helper()
	split := "25"
	postJSON(t, server, "/api/admin/offers", api.CreateOfferRequest{
		ID: "offer-1", BizID: "biz-1", Title: "Spring promo", SplitPct: &split,
	}, http.StatusCreated)
	postJSON(t, server, "/api/admin/coupons", api.CreateCouponRequest{
		ID: "coupon-1", Code: "SPRING25", BizID: "biz-1",
		InfluencerID: "inf-1", OfferID: "offer-1",
	}, http.StatusCreated)
}

func postJSON(t *testing.T, server *httptest.Server, path string, body any, wantStatus int) map[string]any {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode, "POST %s", path)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func getJSON(t *testing.T, server *httptest.Server, path string, wantStatus int) *http.Response {
	t.Helper()
	resp, err := http.Get(server.URL + path)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "GET %s", path)
	return resp
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

func TestAPI_RecordRedemption(t *testing.T) {
	server, _ := newTestServer(t)
	seedRedeemableCoupon(t, server)

	body := postJSON(t, server, "/api/redemptions", api.RecordRedemptionRequest{
		CouponCode: "SPRING25", OrderAmountCents: 10000, Actor: "admin-1",
	}, http.StatusCreated)

	assert.Equal(t, float64(2500), body["earnings_cents"])
	assert.Equal(t, "inf-1", body["influencer_id"])
	assert.Equal(t, "manual_admin", body["source"])
	assert.NotEmpty(t, body["ledger_entry_id"])
}

func TestAPI_RecordRedemption_Twice_Conflict(t *testing.T) {
	server, _ := newTestServer(t)
	seedRedeemableCoupon(t, server)

	postJSON(t, server, "/api/redemptions", api.RecordRedemptionRequest{
		CouponCode: "SPRING25", OrderAmountCents: 10000,
	}, http.StatusCreated)

	body := postJSON(t, server, "/api/redemptions", api.RecordRedemptionRequest{
		CouponCode: "SPRING25", OrderAmountCents: 10000,
	}, http.StatusConflict)
	assert.Equal(t, "invalid_state", body["code"])
}

func TestAPI_RecordRedemption_UnknownCoupon_404(t *testing.T) {
	server, _ := newTestServer(t)

	postJSON(t, server, "/api/redemptions", api.RecordRedemptionRequest{
		CouponCode: "NOPE", OrderAmountCents: 100,
	}, http.StatusNotFound)
}

func TestAPI_RecordRedemption_BadBody_400(t *testing.T) {
	server, _ := newTestServer(t)

	// Missing coupon code fails struct validation.
	postJSON(t, server, "/api/redemptions", api.RecordRedemptionRequest{
		OrderAmountCents: 100,
	}, http.StatusBadRequest)

	// Non-positive amount fails struct validation.
	postJSON(t, server, "/api/redemptions", api.RecordRedemptionRequest{
		CouponCode: "X", OrderAmountCents: -5,
	}, http.StatusBadRequest)

	// Garbage body.
	resp, err := http.Post(server.URL+"/api/redemptions", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// BALANCE / LEDGER VIEWS
// =============================================================================

func TestAPI_BalanceAndLedger(t *testing.T) {
	server, _ := newTestServer(t)
	seedRedeemableCoupon(t, server)
	postJSON(t, server, "/api/redemptions", api.RecordRedemptionRequest{
		CouponCode: "SPRING25", OrderAmountCents: 10000,
	}, http.StatusCreated)

	resp := getJSON(t, server, "/api/influencers/inf-1/balance", http.StatusOK)
	defer resp.Body.Close()
	var balance api.BalanceDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&balance))
	assert.Equal(t, int64(2500), balance.AvailableCents)
	assert.Equal(t, int64(2500), balance.LifetimeEarnedCents)
	assert.Equal(t, 1, balance.EntryCount)

	ledgerResp := getJSON(t, server, "/api/influencers/inf-1/ledger", http.StatusOK)
	defer ledgerResp.Body.Close()
	var entries []api.EntryDTO
	require.NoError(t, json.NewDecoder(ledgerResp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "earning", entries[0].Type)
	assert.Equal(t, int64(2500), entries[0].AmountCents)
	assert.Equal(t, int64(1), entries[0].Seq)
}

func TestAPI_Balance_UnknownInfluencer_ZeroNot404(t *testing.T) {
	server, _ := newTestServer(t)

	resp := getJSON(t, server, "/api/influencers/ghost/balance", http.StatusOK)
	defer resp.Body.Close()
	var balance api.BalanceDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&balance))
	assert.Equal(t, int64(0), balance.AvailableCents)
}

func TestAPI_RedemptionHistory(t *testing.T) {
	server, _ := newTestServer(t)
	seedRedeemableCoupon(t, server)
	postJSON(t, server, "/api/redemptions", api.RecordRedemptionRequest{
		CouponCode: "SPRING25", OrderAmountCents: 10000,
	}, http.StatusCreated)

	resp := getJSON(t, server, "/api/influencers/inf-1/redemptions", http.StatusOK)
	defer resp.Body.Close()
	var redemptions []api.RedemptionDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&redemptions))
	require.Len(t, redemptions, 1)
	assert.Equal(t, "SPRING25", redemptions[0].CouponCode)
	assert.Equal(t, int64(10000), redemptions[0].OrderAmountCents)
	assert.Equal(t, int64(2500), redemptions[0].EarningsCents)
	assert.NotEmpty(t, redemptions[0].LedgerEntryID)

	empty := getJSON(t, server, "/api/influencers/ghost/redemptions", http.StatusOK)
	defer empty.Body.Close()
	var none []api.RedemptionDTO
	require.NoError(t, json.NewDecoder(empty.Body).Decode(&none))
	assert.Empty(t, none)
}

// =============================================================================
// PAYOUT LIFECYCLE
// =============================================================================

func seedBalance(t *testing.T, server *httptest.Server, cents int64) {
	t.Helper()
	postJSON(t, server, "/api/admin/adjustments", api.CreateAdjustmentRequest{
		InfluencerID: "inf-1", AmountCents: cents, Description: "seed", Actor: "test",
	}, http.StatusCreated)
}

func TestAPI_PayoutLifecycle_ApprovePaid(t *testing.T) {
	server, _ := newTestServer(t)
	seedBalance(t, server, 5000)

	created := postJSON(t, server, "/api/payouts", api.CreatePayoutRequest{
		InfluencerID: "inf-1", AmountCents: 3000,
	}, http.StatusCreated)
	payoutID := created["id"].(string)
	assert.Equal(t, "pending", created["status"])

	approved := postJSON(t, server, fmt.Sprintf("/api/payouts/%s/approve", payoutID),
		api.PayoutActionRequest{Actor: "admin-1"}, http.StatusOK)
	assert.Equal(t, "paid", approved["status"])
	assert.Equal(t, "sandbox-"+payoutID, approved["external_ref"])

	resp := getJSON(t, server, "/api/payouts/"+payoutID, http.StatusOK)
	defer resp.Body.Close()
	var fetched api.PayoutDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))
	assert.Equal(t, "paid", fetched.Status)
	require.NotNil(t, fetched.ProcessedAt)
}

func TestAPI_Payout_InsufficientBalance_422(t *testing.T) {
	server, _ := newTestServer(t)
	seedBalance(t, server, 1000)

	body := postJSON(t, server, "/api/payouts", api.CreatePayoutRequest{
		InfluencerID: "inf-1", AmountCents: 5000,
	}, http.StatusUnprocessableEntity)
	assert.Equal(t, "insufficient_balance", body["code"])
}

func TestAPI_Payout_RejectRestoresBalance(t *testing.T) {
	server, _ := newTestServer(t)
	seedBalance(t, server, 5000)

	created := postJSON(t, server, "/api/payouts", api.CreatePayoutRequest{
		InfluencerID: "inf-1", AmountCents: 5000,
	}, http.StatusCreated)
	payoutID := created["id"].(string)

	rejected := postJSON(t, server, fmt.Sprintf("/api/payouts/%s/reject", payoutID),
		api.PayoutActionRequest{Notes: "unverified"}, http.StatusOK)
	assert.Equal(t, "cancelled", rejected["status"])

	resp := getJSON(t, server, "/api/influencers/inf-1/balance", http.StatusOK)
	defer resp.Body.Close()
	var balance api.BalanceDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&balance))
	assert.Equal(t, int64(5000), balance.AvailableCents)
	assert.Equal(t, int64(0), balance.PendingCents)
}

func TestAPI_Payout_ActionOnTerminal_409(t *testing.T) {
	server, _ := newTestServer(t)
	seedBalance(t, server, 5000)

	created := postJSON(t, server, "/api/payouts", api.CreatePayoutRequest{
		InfluencerID: "inf-1", AmountCents: 1000,
	}, http.StatusCreated)
	payoutID := created["id"].(string)

	postJSON(t, server, fmt.Sprintf("/api/payouts/%s/cancel", payoutID),
		api.PayoutActionRequest{}, http.StatusOK)

	body := postJSON(t, server, fmt.Sprintf("/api/payouts/%s/approve", payoutID),
		api.PayoutActionRequest{}, http.StatusConflict)
	assert.Equal(t, "invalid_state", body["code"])
}

func TestAPI_ListPayouts(t *testing.T) {
	server, _ := newTestServer(t)
	seedBalance(t, server, 5000)
	postJSON(t, server, "/api/payouts", api.CreatePayoutRequest{
		InfluencerID: "inf-1", AmountCents: 1000,
	}, http.StatusCreated)
	postJSON(t, server, "/api/payouts", api.CreatePayoutRequest{
		InfluencerID: "inf-1", AmountCents: 2000,
	}, http.StatusCreated)

	resp := getJSON(t, server, "/api/payouts?status=pending", http.StatusOK)
	defer resp.Body.Close()
	var listed []api.PayoutDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Len(t, listed, 2)

	byInf := getJSON(t, server, "/api/payouts?influencer_id=inf-1", http.StatusOK)
	defer byInf.Body.Close()
	require.NoError(t, json.NewDecoder(byInf.Body).Decode(&listed))
	assert.Len(t, listed, 2)

	getJSON(t, server, "/api/payouts?status=bogus", http.StatusBadRequest).Body.Close()
	getJSON(t, server, "/api/payouts/missing", http.StatusNotFound).Body.Close()
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_Adjustment_WritesLedgerEntry(t *testing.T) {
	server, store := newTestServer(t)

	body := postJSON(t, server, "/api/admin/adjustments", api.CreateAdjustmentRequest{
		InfluencerID: "inf-1", AmountCents: -250, Description: "chargeback claw-back", Actor: "finance",
	}, http.StatusCreated)
	assert.Equal(t, "adjustment", body["type"])
	assert.Equal(t, float64(-250), body["amount_cents"])

	entries, err := store.Entries(context.Background(), ledger.InfluencerID("inf-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "finance", entries[0].CreatedBy)
}

func TestAPI_CreateOffer_RejectsBadSplit(t *testing.T) {
	server, store := newTestServer(t)

	bad := "150"
	postJSON(t, server, "/api/admin/offers", api.CreateOfferRequest{
		BizID: "biz-1", SplitPct: &bad,
	}, http.StatusBadRequest)

	good := "12.5"
	body := postJSON(t, server, "/api/admin/offers", api.CreateOfferRequest{
		BizID: "biz-1", SplitPct: &good,
	}, http.StatusCreated)

	offer, err := store.GetOffer(context.Background(), body["id"].(string))
	require.NoError(t, err)
	require.NotNil(t, offer.SplitPct)
	assert.True(t, offer.SplitPct.Equal(decimal.RequireFromString("12.5")))
}
