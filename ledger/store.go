/*
store.go - Append-only persistence contract for ledger entries

PURPOSE:
  Defines the interface between the ledger and the database. Different
  implementations use SQLite or in-memory storage; in all of them the
  entries collection is append-only.

APPEND-ONLY CONTRACT:
  - AppendEntry() is the ONLY write operation
  - No Update() or Delete() methods exist, ever
  - Corrections are made by appending an offsetting entry

ORDERING:
  The store assigns each entry a per-influencer monotonic sequence number
  and the resulting running balance, under whatever serialization the
  implementation provides (global mutex for memory, transaction + mutex
  for SQLite). Two concurrent appends for the same influencer can never
  claim the same running-balance position.

IMPLEMENTATIONS:
  - store/memory: In-memory, for tests and dev
  - store/sqlite: Production SQLite (WAL)

SEE ALSO:
  - ledger.go: Higher-level wrapper adding validation + idempotency
  - balance.go: Reads entries through this interface
*/
package ledger

import "context"

// Store persists ledger entries. APPEND-ONLY: no update, no delete.
type Store interface {
	// AppendEntry persists an entry, assigning Seq and RunningBalanceCents,
	// and returns the stored entry. Appends for one influencer are
	// serialized by the implementation.
	AppendEntry(ctx context.Context, e Entry) (Entry, error)

	// Entries returns all entries for an influencer ordered by
	// (TransactionDate, Seq) ascending. Read-only.
	Entries(ctx context.Context, id InfluencerID) ([]Entry, error)

	// HasIdempotencyKey checks whether an entry with this key exists.
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
}

// ReservationSource reports the total amount currently reserved by
// in-flight (pending or processing) payout requests for an influencer.
// Implemented by the payout side of the store so the balance calculator
// can expose "requested but not yet settled" without knowing payouts.
type ReservationSource interface {
	ReservedCents(ctx context.Context, id InfluencerID) (Cents, error)
}
