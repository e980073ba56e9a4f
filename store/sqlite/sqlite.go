/*
Package sqlite provides the SQLite-backed commission.Store.

PURPOSE:
  Implements the full domain store (ledger entries, coupons, offers,
  redemptions, affiliate links, payouts) on SQLite. The same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  There are no UPDATE or DELETE statements against ledger_entries.
  Corrections happen via reversal entries only.

ORDERING:
  Each append reads the influencer's last (seq, running_balance) and
  inserts seq+1 inside the same transaction, under the store mutex.
  UNIQUE(influencer_id, seq) backstops any cross-process writer: a
  violated constraint surfaces as ErrConcurrencyConflict and the
  enclosing domain transaction retries.

GUARDED WRITES:
  Coupon consumption and payout status updates are compare-and-set on
  the current status ("... WHERE id=? AND status=?"); zero rows affected
  means the precondition no longer holds -> ErrConcurrencyConflict.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/commission.db")
  // Use ":memory:" for an in-memory database.

SEE ALSO:
  - commission/store.go: Interface definition
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/offerlink/commission-engine/commission"
	"github.com/offerlink/commission-engine/ledger"
)

// Store implements commission.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var _ commission.Store = (*Store)(nil)

// New opens (and migrates) a SQLite store at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY between this process's own connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only; no UPDATE or DELETE, ever)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		influencer_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		description TEXT,
		related_payout_id TEXT,
		related_redemption_id TEXT,
		seq INTEGER NOT NULL,
		running_balance_cents INTEGER NOT NULL,
		transaction_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		created_by TEXT,
		idempotency_key TEXT UNIQUE,
		UNIQUE(influencer_id, seq)
	);

	-- Balance fold (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_influencer_date
		ON ledger_entries(influencer_id, transaction_date, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_payout
		ON ledger_entries(related_payout_id) WHERE related_payout_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS coupons (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		biz_id TEXT NOT NULL,
		inf_id TEXT NOT NULL,
		offer_id TEXT NOT NULL,
		link_id TEXT,
		status TEXT NOT NULL,
		issued_at TEXT,
		redeemed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		biz_id TEXT NOT NULL,
		title TEXT,
		split_pct TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		coupon_id TEXT NOT NULL UNIQUE,
		coupon_code TEXT NOT NULL,
		biz_id TEXT NOT NULL,
		inf_id TEXT NOT NULL,
		offer_id TEXT NOT NULL,
		link_id TEXT,
		order_amount_cents INTEGER NOT NULL,
		inf_earnings_cents INTEGER NOT NULL,
		split_pct TEXT NOT NULL,
		source TEXT NOT NULL,
		ledger_entry_id TEXT NOT NULL,
		notes TEXT,
		redeemed_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		created_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_influencer
		ON redemptions(inf_id, redeemed_at);

	CREATE TABLE IF NOT EXISTS affiliate_links (
		id TEXT PRIMARY KEY,
		inf_id TEXT NOT NULL,
		offer_id TEXT NOT NULL,
		conversions INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		influencer_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		reservation_entry_id TEXT,
		external_ref TEXT,
		needs_reconciliation INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		approved_at TEXT,
		processed_at TEXT,
		cancelled_at TEXT,
		updated_at TEXT NOT NULL,
		created_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_influencer
		ON payouts(influencer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_payouts_status
		ON payouts(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn inside a SQL transaction under the store mutex.
func (s *Store) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{queries{sqlTx}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txView exposes the store inside an open transaction.
type txView struct{ q queries }

var _ commission.Store = (*txView)(nil)

func (v *txView) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	return fn(v) // already inside a transaction
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.appendEntry(ctx, e)
}

func (v *txView) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	return v.q.appendEntry(ctx, e)
}

func (s *Store) Entries(ctx context.Context, id ledger.InfluencerID) ([]ledger.Entry, error) {
	return queries{s.db}.entries(ctx, id)
}

func (v *txView) Entries(ctx context.Context, id ledger.InfluencerID) ([]ledger.Entry, error) {
	return v.q.entries(ctx, id)
}

func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return queries{s.db}.hasIdempotencyKey(ctx, key)
}

func (v *txView) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return v.q.hasIdempotencyKey(ctx, key)
}

func (s *Store) ReservedCents(ctx context.Context, id ledger.InfluencerID) (ledger.Cents, error) {
	return queries{s.db}.reservedCents(ctx, id)
}

func (v *txView) ReservedCents(ctx context.Context, id ledger.InfluencerID) (ledger.Cents, error) {
	return v.q.reservedCents(ctx, id)
}

// =============================================================================
// DOMAIN DOCUMENTS - delegation to shared queries
// =============================================================================

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*commission.Coupon, error) {
	return queries{s.db}.getCouponByCode(ctx, code)
}
func (v *txView) GetCouponByCode(ctx context.Context, code string) (*commission.Coupon, error) {
	return v.q.getCouponByCode(ctx, code)
}

func (s *Store) PutCoupon(ctx context.Context, c *commission.Coupon) error {
	return queries{s.db}.putCoupon(ctx, c)
}
func (v *txView) PutCoupon(ctx context.Context, c *commission.Coupon) error {
	return v.q.putCoupon(ctx, c)
}

func (s *Store) ConsumeCoupon(ctx context.Context, couponID string, from commission.CouponStatus, at time.Time) error {
	return queries{s.db}.consumeCoupon(ctx, couponID, from, at)
}
func (v *txView) ConsumeCoupon(ctx context.Context, couponID string, from commission.CouponStatus, at time.Time) error {
	return v.q.consumeCoupon(ctx, couponID, from, at)
}

func (s *Store) GetOffer(ctx context.Context, offerID string) (*commission.Offer, error) {
	return queries{s.db}.getOffer(ctx, offerID)
}
func (v *txView) GetOffer(ctx context.Context, offerID string) (*commission.Offer, error) {
	return v.q.getOffer(ctx, offerID)
}

func (s *Store) PutOffer(ctx context.Context, o *commission.Offer) error {
	return queries{s.db}.putOffer(ctx, o)
}
func (v *txView) PutOffer(ctx context.Context, o *commission.Offer) error {
	return v.q.putOffer(ctx, o)
}

func (s *Store) PutRedemption(ctx context.Context, r *commission.Redemption) error {
	return queries{s.db}.putRedemption(ctx, r)
}
func (v *txView) PutRedemption(ctx context.Context, r *commission.Redemption) error {
	return v.q.putRedemption(ctx, r)
}

func (s *Store) GetRedemption(ctx context.Context, id string) (*commission.Redemption, error) {
	return queries{s.db}.getRedemption(ctx, id)
}
func (v *txView) GetRedemption(ctx context.Context, id string) (*commission.Redemption, error) {
	return v.q.getRedemption(ctx, id)
}

func (s *Store) ListRedemptionsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*commission.Redemption, error) {
	return queries{s.db}.listRedemptions(ctx, id)
}
func (v *txView) ListRedemptionsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*commission.Redemption, error) {
	return v.q.listRedemptions(ctx, id)
}

func (s *Store) GetLink(ctx context.Context, linkID string) (*commission.AffiliateLink, error) {
	return queries{s.db}.getLink(ctx, linkID)
}
func (v *txView) GetLink(ctx context.Context, linkID string) (*commission.AffiliateLink, error) {
	return v.q.getLink(ctx, linkID)
}

func (s *Store) PutLink(ctx context.Context, l *commission.AffiliateLink) error {
	return queries{s.db}.putLink(ctx, l)
}
func (v *txView) PutLink(ctx context.Context, l *commission.AffiliateLink) error {
	return v.q.putLink(ctx, l)
}

func (s *Store) IncrementLinkConversions(ctx context.Context, linkID string) error {
	return queries{s.db}.incrementLink(ctx, linkID)
}
func (v *txView) IncrementLinkConversions(ctx context.Context, linkID string) error {
	return v.q.incrementLink(ctx, linkID)
}

func (s *Store) PutPayout(ctx context.Context, p *commission.PayoutRequest) error {
	return queries{s.db}.putPayout(ctx, p)
}
func (v *txView) PutPayout(ctx context.Context, p *commission.PayoutRequest) error {
	return v.q.putPayout(ctx, p)
}

func (s *Store) GetPayout(ctx context.Context, id string) (*commission.PayoutRequest, error) {
	return queries{s.db}.getPayout(ctx, id)
}
func (v *txView) GetPayout(ctx context.Context, id string) (*commission.PayoutRequest, error) {
	return v.q.getPayout(ctx, id)
}

func (s *Store) UpdatePayout(ctx context.Context, p *commission.PayoutRequest, expect commission.PayoutStatus) error {
	return queries{s.db}.updatePayout(ctx, p, expect)
}
func (v *txView) UpdatePayout(ctx context.Context, p *commission.PayoutRequest, expect commission.PayoutStatus) error {
	return v.q.updatePayout(ctx, p, expect)
}

func (s *Store) ListPayoutsByStatus(ctx context.Context, status commission.PayoutStatus) ([]*commission.PayoutRequest, error) {
	return queries{s.db}.listPayouts(ctx, "status = ?", string(status))
}
func (v *txView) ListPayoutsByStatus(ctx context.Context, status commission.PayoutStatus) ([]*commission.PayoutRequest, error) {
	return v.q.listPayouts(ctx, "status = ?", string(status))
}

func (s *Store) ListPayoutsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*commission.PayoutRequest, error) {
	return queries{s.db}.listPayouts(ctx, "influencer_id = ?", string(id))
}
func (v *txView) ListPayoutsByInfluencer(ctx context.Context, id ledger.InfluencerID) ([]*commission.PayoutRequest, error) {
	return v.q.listPayouts(ctx, "influencer_id = ?", string(id))
}

// =============================================================================
// QUERIES - real implementations, shared by Store and txView
// =============================================================================

type queries struct{ db dbtx }

func (q queries) appendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	var lastSeq, lastBalance int64
	err := q.db.QueryRowContext(ctx, `
		SELECT seq, running_balance_cents FROM ledger_entries
		WHERE influencer_id = ? ORDER BY seq DESC LIMIT 1
	`, e.InfluencerID).Scan(&lastSeq, &lastBalance)
	if err != nil && err != sql.ErrNoRows {
		return ledger.Entry{}, classify(err)
	}

	e.Seq = lastSeq + 1
	e.RunningBalanceCents = ledger.Cents(lastBalance) + e.AmountCents

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, influencer_id, type, amount_cents, currency, description,
		 related_payout_id, related_redemption_id, seq, running_balance_cents,
		 transaction_date, created_at, created_by, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.InfluencerID, e.Type, int64(e.AmountCents), e.Currency, e.Description,
		nullString(e.RelatedPayoutID), nullString(e.RelatedRedemptionID),
		e.Seq, int64(e.RunningBalanceCents),
		timeString(e.TransactionDate), timeString(orNow(e.CreatedAt)),
		e.CreatedBy, nullString(e.IdempotencyKey),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "idempotency_key") {
				return ledger.Entry{}, ledger.ErrDuplicateIdempotencyKey
			}
			// (influencer_id, seq) collided with a concurrent writer.
			return ledger.Entry{}, ledger.ErrConcurrencyConflict
		}
		return ledger.Entry{}, classify(err)
	}
	return e, nil
}

func (q queries) entries(ctx context.Context, id ledger.InfluencerID) ([]ledger.Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, influencer_id, type, amount_cents, currency, description,
		       related_payout_id, related_redemption_id, seq, running_balance_cents,
		       transaction_date, created_at, created_by, idempotency_key
		FROM ledger_entries
		WHERE influencer_id = ?
		ORDER BY transaction_date ASC, seq ASC
	`, id)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var amount, running int64
		var relPayout, relRedemption, idemKey, createdBy sql.NullString
		var txDate, createdAt string
		if err := rows.Scan(&e.ID, &e.InfluencerID, &e.Type, &amount, &e.Currency, &e.Description,
			&relPayout, &relRedemption, &e.Seq, &running,
			&txDate, &createdAt, &createdBy, &idemKey); err != nil {
			return nil, err
		}
		e.AmountCents = ledger.Cents(amount)
		e.RunningBalanceCents = ledger.Cents(running)
		e.RelatedPayoutID = relPayout.String
		e.RelatedRedemptionID = relRedemption.String
		e.CreatedBy = createdBy.String
		e.IdempotencyKey = idemKey.String
		e.TransactionDate, _ = time.Parse(time.RFC3339Nano, txDate)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q queries) hasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, classify(err)
}

func (q queries) reservedCents(ctx context.Context, id ledger.InfluencerID) (ledger.Cents, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM payouts
		WHERE influencer_id = ? AND status IN ('pending', 'processing')
	`, id).Scan(&total)
	return ledger.Cents(total), classify(err)
}

func (q queries) getCouponByCode(ctx context.Context, code string) (*commission.Coupon, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, code, biz_id, inf_id, offer_id, link_id, status, issued_at, redeemed_at, created_at
		FROM coupons WHERE code = ?
	`, code)

	var c commission.Coupon
	var linkID, issuedAt, redeemedAt sql.NullString
	var createdAt string
	if err := row.Scan(&c.ID, &c.Code, &c.BizID, &c.InfID, &c.OfferID, &linkID, &c.Status, &issuedAt, &redeemedAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &commission.NotFoundError{Kind: "coupon", Key: code}
		}
		return nil, classify(err)
	}
	c.LinkID = linkID.String
	if issuedAt.Valid {
		c.IssuedAt, _ = time.Parse(time.RFC3339Nano, issuedAt.String)
	}
	c.RedeemedAt = parseNullTime(redeemedAt)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

func (q queries) putCoupon(ctx context.Context, c *commission.Coupon) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO coupons (id, code, biz_id, inf_id, offer_id, link_id, status, issued_at, redeemed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, redeemed_at = excluded.redeemed_at
	`,
		c.ID, c.Code, c.BizID, c.InfID, c.OfferID, nullString(c.LinkID), c.Status,
		timeString(orNow(c.IssuedAt)), nullTime(c.RedeemedAt), timeString(orNow(c.CreatedAt)),
	)
	return classify(err)
}

func (q queries) consumeCoupon(ctx context.Context, couponID string, from commission.CouponStatus, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE coupons SET status = ?, redeemed_at = ? WHERE id = ? AND status = ?
	`, commission.CouponUsed, timeString(at), couponID, from)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either missing or the status moved underneath us.
		var count int
		if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM coupons WHERE id = ?", couponID).Scan(&count); err != nil {
			return classify(err)
		}
		if count == 0 {
			return &commission.NotFoundError{Kind: "coupon", Key: couponID}
		}
		return ledger.ErrConcurrencyConflict
	}
	return nil
}

func (q queries) getOffer(ctx context.Context, offerID string) (*commission.Offer, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, biz_id, title, split_pct, created_at FROM offers WHERE id = ?
	`, offerID)

	var o commission.Offer
	var title, split sql.NullString
	var createdAt string
	if err := row.Scan(&o.ID, &o.BizID, &title, &split, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &commission.NotFoundError{Kind: "offer", Key: offerID}
		}
		return nil, classify(err)
	}
	o.Title = title.String
	if split.Valid {
		d, err := decimal.NewFromString(split.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt split_pct for offer %s: %w", offerID, err)
		}
		o.SplitPct = &d
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &o, nil
}

func (q queries) putOffer(ctx context.Context, o *commission.Offer) error {
	var split sql.NullString
	if o.SplitPct != nil {
		split = sql.NullString{String: o.SplitPct.String(), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO offers (id, biz_id, title, split_pct, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, split_pct = excluded.split_pct
	`, o.ID, o.BizID, o.Title, split, timeString(orNow(o.CreatedAt)))
	return classify(err)
}

func (q queries) putRedemption(ctx context.Context, r *commission.Redemption) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO redemptions
		(id, coupon_id, coupon_code, biz_id, inf_id, offer_id, link_id,
		 order_amount_cents, inf_earnings_cents, split_pct, source,
		 ledger_entry_id, notes, redeemed_at, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.CouponID, r.CouponCode, r.BizID, r.InfID, r.OfferID, nullString(r.LinkID),
		int64(r.OrderAmountCents), int64(r.InfEarningsCents), r.SplitPct.String(), r.Source,
		r.LedgerEntryID, r.Notes, timeString(r.RedeemedAt), timeString(orNow(r.CreatedAt)), r.CreatedBy,
	)
	if err != nil && isUniqueConstraintError(err) {
		// One redemption per coupon, ever.
		return ledger.ErrConcurrencyConflict
	}
	return classify(err)
}

func (q queries) getRedemption(ctx context.Context, id string) (*commission.Redemption, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, coupon_id, coupon_code, biz_id, inf_id, offer_id, link_id,
		       order_amount_cents, inf_earnings_cents, split_pct, source,
		       ledger_entry_id, notes, redeemed_at, created_at, created_by
		FROM redemptions WHERE id = ?
	`, id)
	r, err := scanRedemption(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &commission.NotFoundError{Kind: "redemption", Key: id}
	}
	if err != nil {
		return nil, classify(err)
	}
	return r, nil
}

func (q queries) listRedemptions(ctx context.Context, infID ledger.InfluencerID) ([]*commission.Redemption, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, coupon_id, coupon_code, biz_id, inf_id, offer_id, link_id,
		       order_amount_cents, inf_earnings_cents, split_pct, source,
		       ledger_entry_id, notes, redeemed_at, created_at, created_by
		FROM redemptions WHERE inf_id = ? ORDER BY redeemed_at ASC, id ASC
	`, infID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*commission.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRedemption(scan func(...any) error) (*commission.Redemption, error) {
	var r commission.Redemption
	var linkID, notes, createdBy sql.NullString
	var order, earnings int64
	var split, redeemedAt, createdAt string
	if err := scan(&r.ID, &r.CouponID, &r.CouponCode, &r.BizID, &r.InfID, &r.OfferID, &linkID,
		&order, &earnings, &split, &r.Source, &r.LedgerEntryID, &notes,
		&redeemedAt, &createdAt, &createdBy); err != nil {
		return nil, err
	}
	r.LinkID = linkID.String
	r.Notes = notes.String
	r.CreatedBy = createdBy.String
	r.OrderAmountCents = ledger.Cents(order)
	r.InfEarningsCents = ledger.Cents(earnings)
	r.SplitPct, _ = decimal.NewFromString(split)
	r.RedeemedAt, _ = time.Parse(time.RFC3339Nano, redeemedAt)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &r, nil
}

func (q queries) getLink(ctx context.Context, linkID string) (*commission.AffiliateLink, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, inf_id, offer_id, conversions, created_at FROM affiliate_links WHERE id = ?
	`, linkID)

	var l commission.AffiliateLink
	var createdAt string
	if err := row.Scan(&l.ID, &l.InfID, &l.OfferID, &l.Conversions, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &commission.NotFoundError{Kind: "affiliate link", Key: linkID}
		}
		return nil, classify(err)
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &l, nil
}

func (q queries) putLink(ctx context.Context, l *commission.AffiliateLink) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO affiliate_links (id, inf_id, offer_id, conversions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET conversions = excluded.conversions
	`, l.ID, l.InfID, l.OfferID, l.Conversions, timeString(orNow(l.CreatedAt)))
	return classify(err)
}

func (q queries) incrementLink(ctx context.Context, linkID string) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE affiliate_links SET conversions = conversions + 1 WHERE id = ?", linkID)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &commission.NotFoundError{Kind: "affiliate link", Key: linkID}
	}
	return nil
}

func (q queries) putPayout(ctx context.Context, p *commission.PayoutRequest) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payouts
		(id, influencer_id, amount_cents, status, notes, reservation_entry_id,
		 external_ref, needs_reconciliation, created_at, approved_at, processed_at,
		 cancelled_at, updated_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.InfluencerID, int64(p.AmountCents), p.Status, p.Notes,
		nullString(string(p.ReservationEntryID)), nullString(p.ExternalRef),
		boolInt(p.NeedsReconciliation), timeString(orNow(p.CreatedAt)),
		nullTime(p.ApprovedAt), nullTime(p.ProcessedAt), nullTime(p.CancelledAt),
		timeString(orNow(p.UpdatedAt)), p.CreatedBy,
	)
	return classify(err)
}

func (q queries) getPayout(ctx context.Context, id string) (*commission.PayoutRequest, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, influencer_id, amount_cents, status, notes, reservation_entry_id,
		       external_ref, needs_reconciliation, created_at, approved_at, processed_at,
		       cancelled_at, updated_at, created_by
		FROM payouts WHERE id = ?
	`, id)
	p, err := scanPayout(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &commission.NotFoundError{Kind: "payout", Key: id}
	}
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

func (q queries) updatePayout(ctx context.Context, p *commission.PayoutRequest, expect commission.PayoutStatus) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payouts SET status = ?, notes = ?, external_ref = ?, needs_reconciliation = ?,
		       approved_at = ?, processed_at = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		p.Status, p.Notes, nullString(p.ExternalRef), boolInt(p.NeedsReconciliation),
		nullTime(p.ApprovedAt), nullTime(p.ProcessedAt), nullTime(p.CancelledAt),
		timeString(orNow(p.UpdatedAt)), p.ID, expect,
	)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var count int
		if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payouts WHERE id = ?", p.ID).Scan(&count); err != nil {
			return classify(err)
		}
		if count == 0 {
			return &commission.NotFoundError{Kind: "payout", Key: p.ID}
		}
		return ledger.ErrConcurrencyConflict
	}
	return nil
}

func (q queries) listPayouts(ctx context.Context, where string, arg any) ([]*commission.PayoutRequest, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, influencer_id, amount_cents, status, notes, reservation_entry_id,
		       external_ref, needs_reconciliation, created_at, approved_at, processed_at,
		       cancelled_at, updated_at, created_by
		FROM payouts WHERE `+where+` ORDER BY created_at ASC
	`, arg)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*commission.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayout(scan func(...any) error) (*commission.PayoutRequest, error) {
	var p commission.PayoutRequest
	var amount int64
	var reconcile int
	var notes, createdBy, resEntry, externalRef, approvedAt, processedAt, cancelledAt sql.NullString
	var createdAt, updatedAt string
	if err := scan(&p.ID, &p.InfluencerID, &amount, &p.Status, &notes, &resEntry,
		&externalRef, &reconcile, &createdAt, &approvedAt, &processedAt,
		&cancelledAt, &updatedAt, &createdBy); err != nil {
		return nil, err
	}
	p.AmountCents = ledger.Cents(amount)
	p.Notes = notes.String
	p.CreatedBy = createdBy.String
	p.ReservationEntryID = ledger.EntryID(resEntry.String)
	p.ExternalRef = externalRef.String
	p.NeedsReconciliation = reconcile != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	p.ApprovedAt = parseNullTime(approvedAt)
	p.ProcessedAt = parseNullTime(processedAt)
	p.CancelledAt = parseNullTime(cancelledAt)
	return &p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func timeString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// classify maps SQLite busy/locked errors to the engine's transient
// conflict so callers retry instead of failing hard.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrencyConflict, err)
	}
	return err
}
