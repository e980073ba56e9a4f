/*
reconciler.go - Background sweep for stuck settlements

PURPOSE:
  A payout can be left in processing when a settlement attempt timed out
  or returned an ambiguous outcome. The reconciler periodically re-runs
  the idempotent settlement call for those payouts so they converge to
  paid or cancelled instead of holding a reserved balance indefinitely.

SELECTION:
  Processing payouts that are either flagged NeedsReconciliation or have
  sat in processing longer than the grace window (covers a crash between
  the processing transition and the settlement call).

SCHEDULING:
  robfig/cron with an @every schedule. Each sweep logs what it resolved;
  a payout that stays unresolved keeps its operator-visible flag.
*/
package commission

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// SettlementReconciler re-drives settlement for stuck payouts.
type SettlementReconciler struct {
	Store   Store
	Manager *PayoutManager

	// Interval between sweeps. Default 5m.
	Interval time.Duration
	// Grace is how long a payout may sit in processing before the
	// sweep picks it up even without the reconciliation flag. Default 10m.
	Grace time.Duration

	cron *cron.Cron
}

func NewSettlementReconciler(store Store, manager *PayoutManager) *SettlementReconciler {
	return &SettlementReconciler{
		Store:    store,
		Manager:  manager,
		Interval: 5 * time.Minute,
		Grace:    10 * time.Minute,
	}
}

// Start schedules the sweep. Returns after registering; sweeps run on
// the cron's goroutine until Stop.
func (r *SettlementReconciler) Start() error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc("@every "+r.Interval.String(), func() {
		r.Sweep(context.Background())
	}); err != nil {
		return err
	}
	r.cron.Start()
	log.Printf("[reconciler] started, interval %v, grace %v", r.Interval, r.Grace)
	return nil
}

func (r *SettlementReconciler) Stop() {
	if r.cron != nil {
		r.cron.Stop()
		log.Println("[reconciler] stopped")
	}
}

// Sweep resolves every eligible processing payout once. Exposed for the
// admin surface and tests; Start calls it on the schedule.
func (r *SettlementReconciler) Sweep(ctx context.Context) {
	processing, err := r.Store.ListPayoutsByStatus(ctx, PayoutProcessing)
	if err != nil {
		log.Printf("[reconciler] list failed: %v", err)
		return
	}

	cutoff := time.Now().UTC().Add(-r.Grace)
	for _, p := range processing {
		if !p.NeedsReconciliation && p.UpdatedAt.After(cutoff) {
			continue
		}
		resolved, err := r.Manager.ResolveSettlement(ctx, p.ID, "reconciler")
		if err != nil {
			log.Printf("[reconciler] payout %s unresolved: %v", p.ID, err)
			continue
		}
		log.Printf("[reconciler] payout %s -> %s", p.ID, resolved.Status)
	}
}
