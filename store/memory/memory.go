// Package memory provides an in-memory commission.Store for tests/dev.
//
// A single mutex serializes every transaction, which gives WithTx the
// serializable semantics the engine requires: a transaction sees all
// prior commits and nothing concurrent. Rollback is snapshot-based,
// the same approach as restoring a document database to a checkpoint.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/offerlink/commission-engine/commission"
	"github.com/offerlink/commission-engine/ledger"
)

type Store struct {
	mu sync.Mutex

	entries     map[ledger.InfluencerID][]ledger.Entry
	idempotency map[string]bool

	coupons       map[string]commission.Coupon // by ID
	couponsByCode map[string]string            // code -> ID
	offers        map[string]commission.Offer
	redemptions   map[string]commission.Redemption
	links         map[string]commission.AffiliateLink
	payouts       map[string]commission.PayoutRequest
}

var _ commission.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		entries:       make(map[ledger.InfluencerID][]ledger.Entry),
		idempotency:   make(map[string]bool),
		coupons:       make(map[string]commission.Coupon),
		couponsByCode: make(map[string]string),
		offers:        make(map[string]commission.Offer),
		redemptions:   make(map[string]commission.Redemption),
		links:         make(map[string]commission.AffiliateLink),
		payouts:       make(map[string]commission.PayoutRequest),
	}
}

// =============================================================================
// TRANSACTIONS - snapshot + rollback under the store mutex
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&txView{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	entries     map[ledger.InfluencerID][]ledger.Entry
	idempotency map[string]bool
	coupons     map[string]commission.Coupon
	byCode      map[string]string
	offers      map[string]commission.Offer
	redemptions map[string]commission.Redemption
	links       map[string]commission.AffiliateLink
	payouts     map[string]commission.PayoutRequest
}

func (s *Store) snapshot() snapshotState {
	snap := snapshotState{
		entries:     make(map[ledger.InfluencerID][]ledger.Entry, len(s.entries)),
		idempotency: make(map[string]bool, len(s.idempotency)),
		coupons:     make(map[string]commission.Coupon, len(s.coupons)),
		byCode:      make(map[string]string, len(s.couponsByCode)),
		offers:      make(map[string]commission.Offer, len(s.offers)),
		redemptions: make(map[string]commission.Redemption, len(s.redemptions)),
		links:       make(map[string]commission.AffiliateLink, len(s.links)),
		payouts:     make(map[string]commission.PayoutRequest, len(s.payouts)),
	}
	for k, v := range s.entries {
		snap.entries[k] = append([]ledger.Entry(nil), v...)
	}
	for k, v := range s.idempotency {
		snap.idempotency[k] = v
	}
	for k, v := range s.coupons {
		snap.coupons[k] = v
	}
	for k, v := range s.couponsByCode {
		snap.byCode[k] = v
	}
	for k, v := range s.offers {
		snap.offers[k] = v
	}
	for k, v := range s.redemptions {
		snap.redemptions[k] = v
	}
	for k, v := range s.links {
		snap.links[k] = v
	}
	for k, v := range s.payouts {
		snap.payouts[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshotState) {
	s.entries = snap.entries
	s.idempotency = snap.idempotency
	s.coupons = snap.coupons
	s.couponsByCode = snap.byCode
	s.offers = snap.offers
	s.redemptions = snap.redemptions
	s.links = snap.links
	s.payouts = snap.payouts
}

// txView exposes the store inside an already-locked transaction.
type txView struct{ s *Store }

var _ commission.Store = (*txView)(nil)

// Already inside a transaction: run directly.
func (v *txView) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	return fn(v)
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntryLocked(e)
}

func (v *txView) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	return v.s.appendEntryLocked(e)
}

func (s *Store) appendEntryLocked(e ledger.Entry) (ledger.Entry, error) {
	if e.IdempotencyKey != "" && s.idempotency[e.IdempotencyKey] {
		return ledger.Entry{}, ledger.ErrDuplicateIdempotencyKey
	}

	existing := s.entries[e.InfluencerID]
	if n := len(existing); n > 0 {
		last := existing[n-1]
		e.Seq = last.Seq + 1
		e.RunningBalanceCents = last.RunningBalanceCents + e.AmountCents
	} else {
		e.Seq = 1
		e.RunningBalanceCents = e.AmountCents
	}

	s.entries[e.InfluencerID] = append(existing, e)
	if e.IdempotencyKey != "" {
		s.idempotency[e.IdempotencyKey] = true
	}
	return e, nil
}

func (s *Store) Entries(ctx context.Context, id ledger.InfluencerID) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked(id)
}

func (v *txView) Entries(ctx context.Context, id ledger.InfluencerID) ([]ledger.Entry, error) {
	return v.s.entriesLocked(id)
}

func (s *Store) entriesLocked(id ledger.InfluencerID) ([]ledger.Entry, error) {
	out := append([]ledger.Entry(nil), s.entries[id]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idempotency[key], nil
}

func (v *txView) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return v.s.idempotency[key], nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (s *Store) ReservedCents(ctx context.Context, id ledger.InfluencerID) (ledger.Cents, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservedLocked(id), nil
}

func (v *txView) ReservedCents(ctx context.Context, id ledger.InfluencerID) (ledger.Cents, error) {
	return v.s.reservedLocked(id), nil
}

func (s *Store) reservedLocked(id ledger.InfluencerID) ledger.Cents {
	var total ledger.Cents
	for _, p := range s.payouts {
		if p.InfluencerID == id && (p.Status == commission.PayoutPending || p.Status == commission.PayoutProcessing) {
			total += p.AmountCents
		}
	}
	return total
}

// =============================================================================
// COUPONS
// =============================================================================

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*commission.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCouponByCodeLocked(code)
}

func (v *txView) GetCouponByCode(ctx context.Context, code string) (*commission.Coupon, error) {
	return v.s.getCouponByCodeLocked(code)
}

func (s *Store) getCouponByCodeLocked(code string) (*commission.Coupon, error) {
	id, ok := s.couponsByCode[code]
	if !ok {
		return nil, &commission.NotFoundError{Kind: "coupon", Key: code}
	}
	c := s.coupons[id]
	return &c, nil
}

func (s *Store) PutCoupon(ctx context.Context, c *commission.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCouponLocked(c)
}

func (v *txView) PutCoupon(ctx context.Context, c *commission.Coupon) error {
	return v.s.putCouponLocked(c)
}

func (s *Store) putCouponLocked(c *commission.Coupon) error {
	s.coupons[c.ID] = *c
	s.couponsByCode[c.Code] = c.ID
	return nil
}

func (s *Store) ConsumeCoupon(ctx context.Context, couponID string, from commission.CouponStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumeCouponLocked(couponID, from, at)
}

func (v *txView) ConsumeCoupon(ctx context.Context, couponID string, from commission.CouponStatus, at time.Time) error {
	return v.s.consumeCouponLocked(couponID, from, at)
}

func (s *Store) consumeCouponLocked(couponID string, from commission.CouponStatus, at time.Time) error {
	c, ok := s.coupons[couponID]
	if !ok {
		return &commission.NotFoundError{Kind: "coupon", Key: couponID}
	}
	if c.Status != from {
		return ledger.ErrConcurrencyConflict
	}
	c.Status = commission.CouponUsed
	c.RedeemedAt = &at
	s.coupons[couponID] = c
	return nil
}

// =============================================================================
// OFFERS
// =============================================================================

func (s *Store) GetOffer(ctx context.Context, offerID string) (*commission.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOfferLocked(offerID)
}

func (v *txView) GetOffer(ctx context.Context, offerID string) (*commission.Offer, error) {
	return v.s.getOfferLocked(offerID)
}

func (s *Store) getOfferLocked(offerID string) (*commission.Offer, error) {
	o, ok := s.offers[offerID]
	if !ok {
		return nil, &commission.NotFoundError{Kind: "offer", Key: offerID}
	}
	return &o, nil
}

func (s *Store) PutOffer(ctx context.Context, o *commission.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ID] = *o
	return nil
}

func (v *txView) PutOffer(ctx context.Context, o *commission.Offer) error {
	v.s.offers[o.ID] = *o
	return nil
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

func (s *Store) PutRedemption(ctx context.Context, r *commission.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redemptions[r.ID] = *r
	return nil
}

func (v *txView) PutRedemption(ctx context.Context, r *commission.Redemption) error {
	v.s.redemptions[r.ID] = *r
	return nil
}

func (s *Store) GetRedemption(ctx context.Context, id string) (*commission.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRedemptionLocked(id)
}

func (v *txView) GetRedemption(ctx context.Context, id string) (*commission.Redemption, error) {
	return v.s.getRedemptionLocked(id)
}

func (s *Store) getRedemptionLocked(id string) (*commission.Redemption, error) {
	r, ok := s.redemptions[id]
	if !ok {
		return nil, &commission.NotFoundError{Kind: "redemption", Key: id}
	}
	return &r, nil
}

func (s *Store) ListRedemptionsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*commission.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listRedemptionsLocked(id), nil
}

func (v *txView) ListRedemptionsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*commission.Redemption, error) {
	return v.s.listRedemptionsLocked(id), nil
}

func (s *Store) listRedemptionsLocked(id ledger.InfluencerID) []*commission.Redemption {
	var out []*commission.Redemption
	for _, r := range s.redemptions {
		if r.InfID == id {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RedeemedAt.Equal(out[j].RedeemedAt) {
			return out[i].RedeemedAt.Before(out[j].RedeemedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// AFFILIATE LINKS
// =============================================================================

func (s *Store) GetLink(ctx context.Context, linkID string) (*commission.AffiliateLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLinkLocked(linkID)
}

func (v *txView) GetLink(ctx context.Context, linkID string) (*commission.AffiliateLink, error) {
	return v.s.getLinkLocked(linkID)
}

func (s *Store) getLinkLocked(linkID string) (*commission.AffiliateLink, error) {
	l, ok := s.links[linkID]
	if !ok {
		return nil, &commission.NotFoundError{Kind: "affiliate link", Key: linkID}
	}
	return &l, nil
}

func (s *Store) PutLink(ctx context.Context, l *commission.AffiliateLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l.ID] = *l
	return nil
}

func (v *txView) PutLink(ctx context.Context, l *commission.AffiliateLink) error {
	v.s.links[l.ID] = *l
	return nil
}

func (s *Store) IncrementLinkConversions(ctx context.Context, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLinkLocked(linkID)
}

func (v *txView) IncrementLinkConversions(ctx context.Context, linkID string) error {
	return v.s.incrementLinkLocked(linkID)
}

func (s *Store) incrementLinkLocked(linkID string) error {
	l, ok := s.links[linkID]
	if !ok {
		return &commission.NotFoundError{Kind: "affiliate link", Key: linkID}
	}
	l.Conversions++
	s.links[linkID] = l
	return nil
}

// =============================================================================
// PAYOUTS
// =============================================================================

func (s *Store) PutPayout(ctx context.Context, p *commission.PayoutRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts[p.ID] = *p
	return nil
}

func (v *txView) PutPayout(ctx context.Context, p *commission.PayoutRequest) error {
	v.s.payouts[p.ID] = *p
	return nil
}

func (s *Store) GetPayout(ctx context.Context, id string) (*commission.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPayoutLocked(id)
}

func (v *txView) GetPayout(ctx context.Context, id string) (*commission.PayoutRequest, error) {
	return v.s.getPayoutLocked(id)
}

func (s *Store) getPayoutLocked(id string) (*commission.PayoutRequest, error) {
	p, ok := s.payouts[id]
	if !ok {
		return nil, &commission.NotFoundError{Kind: "payout", Key: id}
	}
	return &p, nil
}

func (s *Store) UpdatePayout(ctx context.Context, p *commission.PayoutRequest, expect commission.PayoutStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatePayoutLocked(p, expect)
}

func (v *txView) UpdatePayout(ctx context.Context, p *commission.PayoutRequest, expect commission.PayoutStatus) error {
	return v.s.updatePayoutLocked(p, expect)
}

func (s *Store) updatePayoutLocked(p *commission.PayoutRequest, expect commission.PayoutStatus) error {
	cur, ok := s.payouts[p.ID]
	if !ok {
		return &commission.NotFoundError{Kind: "payout", Key: p.ID}
	}
	if cur.Status != expect {
		return ledger.ErrConcurrencyConflict
	}
	s.payouts[p.ID] = *p
	return nil
}

func (s *Store) ListPayoutsByStatus(ctx context.Context, status commission.PayoutStatus) ([]*commission.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPayoutsLocked(func(p commission.PayoutRequest) bool { return p.Status == status }), nil
}

func (v *txView) ListPayoutsByStatus(ctx context.Context, status commission.PayoutStatus) ([]*commission.PayoutRequest, error) {
	return v.s.listPayoutsLocked(func(p commission.PayoutRequest) bool { return p.Status == status }), nil
}

func (s *Store) ListPayoutsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*commission.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPayoutsLocked(func(p commission.PayoutRequest) bool { return p.InfluencerID == id }), nil
}

func (v *txView) ListPayoutsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*commission.PayoutRequest, error) {
	return v.s.listPayoutsLocked(func(p commission.PayoutRequest) bool { return p.InfluencerID == id }), nil
}

func (s *Store) listPayoutsLocked(match func(commission.PayoutRequest) bool) []*commission.PayoutRequest {
	var out []*commission.PayoutRequest
	for _, p := range s.payouts {
		if match(p) {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
