package ledger

import "railledger/internal/money"

// ApprovalKey identifies an operator's approval to act on a payer's behalf
// for one token.
type ApprovalKey struct {
	Token    string
	Payer    string
	Operator string
}

func (k ApprovalKey) String() string { return k.Token + ":" + k.Payer + ":" + k.Operator }

// OperatorApproval tracks how much of a payer's rate/lockup headroom an
// operator is allowed to commit, and how much it has committed so far.
type OperatorApproval struct {
	Key ApprovalKey

	IsApproved bool

	RateAllowance   money.Amount
	LockupAllowance money.Amount
	RateUsage       money.Amount
	LockupUsage     money.Amount
}

// NewOperatorApproval returns a zeroed, unapproved approval record.
func NewOperatorApproval(key ApprovalKey) *OperatorApproval {
	return &OperatorApproval{
		Key:             key,
		RateAllowance:   money.Zero(),
		LockupAllowance: money.Zero(),
		RateUsage:       money.Zero(),
		LockupUsage:     money.Zero(),
	}
}
