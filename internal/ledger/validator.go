package ledger

import (
	"fmt"

	"railledger/internal/money"
)

// InvariantValidator checks the ledger's quantified invariants (I1-I3)
// against a Store snapshot. Intended to run periodically, the way the
// teacher's equivalent validator runs a global sweep every N sequences
// rather than after every command.
type InvariantValidator struct {
	store *Store
}

func NewInvariantValidator(store *Store) *InvariantValidator {
	return &InvariantValidator{store: store}
}

// ValidateLockupWithinFunds checks I1 for every account: lockup_current <= funds.
func (v *InvariantValidator) ValidateLockupWithinFunds() error {
	for key, acct := range v.store.accounts {
		if acct.LockupCurrent.GreaterThan(acct.Funds) {
			return fmt.Errorf("account %s: lockup_current %s exceeds funds %s",
				key, acct.LockupCurrent, acct.Funds)
		}
	}
	return nil
}

// ValidateLockupRateMatchesRails checks I2: an account's lockup_rate equals
// the sum of payment_rate over its active, non-terminated outgoing rails.
func (v *InvariantValidator) ValidateLockupRateMatchesRails() error {
	expected := make(map[AccountKey]money.Amount)
	for _, rail := range v.store.rails {
		if !rail.IsActive || rail.TerminationEpoch != 0 {
			continue
		}
		k := AccountKey{Token: rail.Token, Owner: rail.From}
		expected[k] = expected[k].Add(rail.PaymentRate)
	}

	for k, acct := range v.store.accounts {
		if acct.LockupRate.Cmp(expected[k]) != 0 {
			return fmt.Errorf("account %s: lockup_rate %s does not match sum of active rail rates %s",
				k, acct.LockupRate, expected[k])
		}
	}
	return nil
}

// ValidateRailSettlementBounds checks I3: settled_up_to never exceeds
// current_epoch, and never exceeds the terminated-rail cap once terminating.
func (v *InvariantValidator) ValidateRailSettlementBounds(currentEpoch uint64) error {
	for id, rail := range v.store.rails {
		if rail.SettledUpTo > currentEpoch {
			return fmt.Errorf("rail %d: settled_up_to %d exceeds current epoch %d", id, rail.SettledUpTo, currentEpoch)
		}
		if rail.TerminationEpoch != 0 && rail.SettledUpTo > rail.MaxTerminationEpoch() {
			return fmt.Errorf("rail %d: settled_up_to %d exceeds termination cap %d", id, rail.SettledUpTo, rail.MaxTerminationEpoch())
		}
	}
	return nil
}

// ValidateAll runs every periodic invariant check.
func (v *InvariantValidator) ValidateAll(currentEpoch uint64) error {
	if err := v.ValidateLockupWithinFunds(); err != nil {
		return err
	}
	if err := v.ValidateLockupRateMatchesRails(); err != nil {
		return err
	}
	return v.ValidateRailSettlementBounds(currentEpoch)
}
