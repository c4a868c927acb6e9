package projection

// AccountProjection is a read-model row for projections.accounts, built by
// the dispatcher from the touched account's post-command state. Amounts
// are decimal strings — money.Amount is an arbitrary-precision big.Int.
type AccountProjection struct {
	Token               string
	Owner               string
	Funds               string
	LockupCurrent       string
	LockupRate          string
	LockupLastSettledAt uint64
}

// RailProjection is a read-model row for projections.rails.
type RailProjection struct {
	ID               uint64
	IsActive         bool
	Token            string
	From             string
	To               string
	Operator         string
	Arbiter          string
	PaymentRate      string
	LockupPeriod     uint64
	LockupFixed      string
	SettledUpTo      uint64
	TerminationEpoch uint64
}

// ApprovalProjection is a read-model row for projections.approvals.
type ApprovalProjection struct {
	Token           string
	Payer           string
	Operator        string
	IsApproved      bool
	RateAllowance   string
	LockupAllowance string
	RateUsage       string
	LockupUsage     string
}
