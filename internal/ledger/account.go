package ledger

import "railledger/internal/money"

// AccountKey identifies an account by the asset it holds and its owner.
// Mirrors the teacher's AccountKey, trimmed to the two dimensions this
// domain actually needs: accounts here are never scoped to system/external
// buckets, only to a (token, owner) pair.
type AccountKey struct {
	Token string
	Owner string
}

func (k AccountKey) String() string { return k.Token + ":" + k.Owner }

// Account is a payer/payee's prepaid balance for one token.
type Account struct {
	Key AccountKey

	Funds         money.Amount
	LockupCurrent money.Amount
	LockupRate    money.Amount
	// LockupLastSettledAt is the epoch through which rate-driven lockup
	// has been folded into LockupCurrent by the account lockup settler.
	LockupLastSettledAt uint64
}

// NewAccount creates a freshly lazily-created account as of the given epoch.
func NewAccount(key AccountKey, createdAtEpoch uint64) *Account {
	return &Account{
		Key:                 key,
		Funds:               money.Zero(),
		LockupCurrent:       money.Zero(),
		LockupRate:          money.Zero(),
		LockupLastSettledAt: createdAtEpoch,
	}
}

// AvailableFunds returns funds not already locked. Callers must have
// settled lockup (internal/settle.AccountLockup) before relying on
// this for a withdrawal decision.
func (a *Account) AvailableFunds() money.Amount {
	avail, err := a.Funds.Sub(a.LockupCurrent)
	if err != nil {
		// LockupCurrent > Funds would violate I1; unreachable once the
		// lockup settler has run.
		return money.Zero()
	}
	return avail
}
