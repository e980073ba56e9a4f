package commission

import (
	"context"
	"time"

	"github.com/offerlink/commission-engine/ledger"
)

// Bounded retry for transactions that lose an optimistic-concurrency
// race. Guard violations and validation errors are never retried; they
// surface to the caller unchanged.
const (
	txMaxAttempts   = 3
	txRetryBaseWait = 25 * time.Millisecond
)

// Sleeper is swapped in tests to avoid real waits.
type sleeper func(time.Duration)

func runInTx(ctx context.Context, store Store, sleep sleeper, fn func(tx Store) error) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	var err error
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		if attempt > 0 {
			sleep(txRetryBaseWait << (attempt - 1))
		}
		err = store.WithTx(ctx, fn)
		if err == nil || !ledger.IsRetryable(err) {
			return err
		}
	}
	return err
}
