package ledger

import (
	"fmt"

	"railledger/internal/money"
)

// BalanceTracker maintains in-memory account balances, independent of the
// Account entities (lockup/rate bookkeeping lives on Account; this tracks
// the raw funds ledger that journals move).
type BalanceTracker struct {
	balances map[AccountKey]money.Amount
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]money.Amount),
	}
}

// ApplyJournal applies a single journal entry to balances.
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	// Debit side is the transfer out, not a checked subtraction here —
	// the caller (rail lifecycle / settlement) has already verified the
	// payer can afford the amount before building the journal.
	bt.balances[j.DebitAccount] = bt.balances[j.DebitAccount].SatSub(j.Amount)
	bt.balances[j.CreditAccount] = bt.balances[j.CreditAccount].Add(j.Amount)
}

// ApplyBatch applies all journals in a batch.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}
	return nil
}

// GetBalance returns the current tracked balance for an account.
func (bt *BalanceTracker) GetBalance(key AccountKey) money.Amount {
	return bt.balances[key]
}

// ComputeGlobalBalance sums all account balances per token. Balances never
// go below zero (debits saturate), so the totals do not net to zero.
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]money.Amount {
	totals := make(map[string]money.Amount)
	for key, balance := range bt.balances {
		totals[key.Token] = totals[key.Token].Add(balance)
	}
	return totals
}

// Snapshot returns a copy of all balances, for state hashing / persistence.
func (bt *BalanceTracker) Snapshot() map[AccountKey]money.Amount {
	snapshot := make(map[AccountKey]money.Amount, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
