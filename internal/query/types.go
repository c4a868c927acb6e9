package query

// RailResponse represents a rail for API queries.
type RailResponse struct {
	ID       uint64 `json:"id"`
	IsActive bool   `json:"is_active"`
	Token    string `json:"token"`
	From     string `json:"from"`
	To       string `json:"to"`
	Operator string `json:"operator"`
	Arbiter  string `json:"arbiter"`

	PaymentRate      string `json:"payment_rate"`
	LockupPeriod     uint64 `json:"lockup_period"`
	LockupFixed      string `json:"lockup_fixed"`
	SettledUpTo      uint64 `json:"settled_up_to"`
	TerminationEpoch uint64 `json:"termination_epoch"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// ApprovalResponse represents an operator approval for API queries.
type ApprovalResponse struct {
	Token      string `json:"token"`
	Payer      string `json:"payer"`
	Operator   string `json:"operator"`
	IsApproved bool   `json:"is_approved"`

	RateAllowance   string `json:"rate_allowance"`
	LockupAllowance string `json:"lockup_allowance"`
	RateUsage       string `json:"rate_usage"`
	LockupUsage     string `json:"lockup_usage"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool              `json:"is_healthy"`
	HashChainBreaks []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken represents a token whose account-funds total doesn't
// match net deposits minus withdrawals (I4: conservation).
type UnbalancedToken struct {
	Token     string `json:"token"`
	Imbalance string `json:"imbalance"`
}
