package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"railledger/internal/money"
)

// JournalType represents the purpose of a journal entry.
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeRailSettlement
	JournalTypeOneTimePayment
	JournalTypeAdjustment
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeRailSettlement:
		return "rail_settlement"
	case JournalTypeOneTimePayment:
		return "one_time_payment"
	case JournalTypeAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// Journal is a single double-entry journal entry: a positive Amount moves
// from DebitAccount to CreditAccount.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string // idempotency key of the source command
	Sequence      int64  // global command sequence
	DebitAccount  AccountKey
	CreditAccount AccountKey
	Amount        money.Amount
	JournalType   JournalType
	Epoch         uint64
}

// Batch is a balanced set of journal entries produced by a single command.
type Batch struct {
	BatchID  uuid.UUID
	EventRef string
	Sequence int64
	Epoch    uint64
	Journals []Journal
}

// Validate ensures the batch is well-formed. Each journal entry is a
// balanced transfer by construction (one positive amount, debit -> credit),
// so Σdebits == Σcredits holds per entry; multi-leg commands (e.g. a rate
// change with a one-time payment) simply carry multiple entries under one
// BatchID, each individually balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount.IsZero() {
			return fmt.Errorf("journal %s has a zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
