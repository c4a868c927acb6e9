package query

// AccountResponse represents an account's funds and lockup state for API
// queries (§16: ledger queries are served as read-only projections, not
// against the live dispatcher store).
type AccountResponse struct {
	Token string `json:"token"`
	Owner string `json:"owner"`

	Funds               string `json:"funds"`
	LockupCurrent       string `json:"lockup_current"`
	LockupRate          string `json:"lockup_rate"`
	LockupLastSettledAt uint64 `json:"lockup_last_settled_at"`

	// AvailableFunds = funds - lockup_current, the amount the owner could
	// withdraw right now. Derived at query time, not a projection column.
	AvailableFunds string `json:"available_funds"`

	AsOfSequence int64 `json:"as_of_sequence"`
}
