package ledger

import "railledger/internal/money"

// RailID is a globally unique, monotonically assigned rail identifier.
type RailID uint64

// RateChangeEntry records the rate that was in force up to and including
// until_epoch, per the rate-change queue (component A).
type RateChangeEntry struct {
	Rate       money.Amount
	UntilEpoch uint64
}

// RateChangeQueue is a per-rail FIFO of historical rate segments. Entries'
// UntilEpoch values are weakly monotonically increasing in insertion order;
// callers are responsible for preserving that invariant.
type RateChangeQueue struct {
	entries []RateChangeEntry
	head    int
}

// Enqueue appends a new historical segment.
func (q *RateChangeQueue) Enqueue(rate money.Amount, untilEpoch uint64) {
	q.entries = append(q.entries, RateChangeEntry{Rate: rate, UntilEpoch: untilEpoch})
}

// Dequeue removes and discards the head entry. No-op if empty.
func (q *RateChangeQueue) Dequeue() {
	if q.IsEmpty() {
		return
	}
	q.head++
	// Reclaim the backing array once the queue drains, so a long-lived
	// rail's queue doesn't hold onto settled history forever.
	if q.head == len(q.entries) {
		q.entries = q.entries[:0]
		q.head = 0
	}
}

// Peek returns the head entry and whether one exists.
func (q *RateChangeQueue) Peek() (RateChangeEntry, bool) {
	if q.IsEmpty() {
		return RateChangeEntry{}, false
	}
	return q.entries[q.head], true
}

// IsEmpty reports whether the queue has no pending entries.
func (q *RateChangeQueue) IsEmpty() bool { return q.head >= len(q.entries) }

// Pending returns the still-unsettled segments, head first, for snapshotting.
func (q *RateChangeQueue) Pending() []RateChangeEntry {
	return append([]RateChangeEntry(nil), q.entries[q.head:]...)
}

// RestorePending reloads a queue's pending segments from a snapshot.
func (q *RateChangeQueue) RestorePending(entries []RateChangeEntry) {
	q.entries = append([]RateChangeEntry(nil), entries...)
	q.head = 0
}

// Rail is a unidirectional continuous payment commitment from a payer to
// a payee account at a fixed rate, managed by an operator.
type Rail struct {
	ID RailID

	IsActive bool
	Token    string
	From     string // payer owner
	To       string // payee owner
	Operator string
	Arbiter  string // empty means no arbiter

	PaymentRate  money.Amount
	LockupPeriod uint64
	LockupFixed  money.Amount

	SettledUpTo       uint64
	TerminationEpoch  uint64 // 0 means active (not terminating)
	RateChangeQueue   RateChangeQueue

	// IsLocked is the per-rail modification-in-progress flag (§5).
	IsLocked bool
}

// InDebt reports whether the rail cannot even guarantee its own historical
// commitments as of currentEpoch, per the glossary's definition of debt.
func (r *Rail) InDebt(payerLockupLastSettledAt, currentEpoch uint64) bool {
	return currentEpoch >= payerLockupLastSettledAt+r.LockupPeriod
}

// MaxTerminationEpoch returns termination_epoch + lockup_period. Only
// meaningful when the rail is terminating (TerminationEpoch > 0).
func (r *Rail) MaxTerminationEpoch() uint64 {
	return r.TerminationEpoch + r.LockupPeriod
}
