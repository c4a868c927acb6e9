// Package settle implements the account lockup settler (component B) and
// the rail settlement engine (component D). Both are pure functions of an
// Account/Rail plus the current epoch — no I/O, no locking — so the
// command dispatcher (internal/core) can call them directly and propagate
// their errors as part of a single command's transaction.
package settle

import (
	"railledger/internal/ledger"
	"railledger/internal/money"
)

// LockupResult mirrors settle_account_lockup's return value: whether the
// account is now fully settled to the requested epoch, and the epoch it
// actually reached.
type LockupResult struct {
	FullySettled bool
	SettledUpTo  uint64
}

// LockupDelta is the would-be effect of advancing an account's lockup to
// currentEpoch, computed without mutating the account. Callers whose
// command has further preconditions to check after the lockup advance
// should use PreviewAccountLockup and only commit via ApplyLockupDelta
// once every such precondition has passed, so a later rejection doesn't
// leave this mutation committed on its own.
type LockupDelta struct {
	LockupCurrent       money.Amount
	LockupLastSettledAt uint64
	Result              LockupResult
}

// PreviewAccountLockup computes what AccountLockup would do to account,
// per §4.B, without mutating it.
func PreviewAccountLockup(account *ledger.Account, currentEpoch uint64) LockupDelta {
	if currentEpoch <= account.LockupLastSettledAt {
		return LockupDelta{
			LockupCurrent:       account.LockupCurrent,
			LockupLastSettledAt: account.LockupLastSettledAt,
			Result:              LockupResult{FullySettled: true, SettledUpTo: account.LockupLastSettledAt},
		}
	}
	elapsed := currentEpoch - account.LockupLastSettledAt

	if account.LockupRate.IsZero() {
		return LockupDelta{
			LockupCurrent:       account.LockupCurrent,
			LockupLastSettledAt: currentEpoch,
			Result:              LockupResult{FullySettled: true, SettledUpTo: currentEpoch},
		}
	}

	additional := account.LockupRate.MulUint64(elapsed)
	required := account.LockupCurrent.Add(additional)
	if !account.Funds.LessThan(required) {
		return LockupDelta{
			LockupCurrent:       required,
			LockupLastSettledAt: currentEpoch,
			Result:              LockupResult{FullySettled: true, SettledUpTo: currentEpoch},
		}
	}

	// Insufficient funds to cover the full elapsed range: settle as many
	// whole epochs as funds allow, truncating down. Truncation is
	// conservative — the caller can never over-settle.
	available := account.Funds.SatSub(account.LockupCurrent)
	if available.IsZero() {
		return LockupDelta{
			LockupCurrent:       account.LockupCurrent,
			LockupLastSettledAt: account.LockupLastSettledAt,
			Result:              LockupResult{FullySettled: false, SettledUpTo: account.LockupLastSettledAt},
		}
	}

	k := available.DivFloor(account.LockupRate)
	if k == 0 {
		return LockupDelta{
			LockupCurrent:       account.LockupCurrent,
			LockupLastSettledAt: account.LockupLastSettledAt,
			Result:              LockupResult{FullySettled: false, SettledUpTo: account.LockupLastSettledAt},
		}
	}

	return LockupDelta{
		LockupCurrent:       account.LockupCurrent.Add(account.LockupRate.MulUint64(k)),
		LockupLastSettledAt: account.LockupLastSettledAt + k,
		Result:              LockupResult{FullySettled: false, SettledUpTo: account.LockupLastSettledAt + k},
	}
}

// ApplyLockupDelta commits a previously computed LockupDelta to account.
func ApplyLockupDelta(account *ledger.Account, delta LockupDelta) {
	account.LockupCurrent = delta.LockupCurrent
	account.LockupLastSettledAt = delta.LockupLastSettledAt
}

// AccountLockup advances account.LockupLastSettledAt, converting elapsed
// epochs x lockup_rate into lockup_current, per §4.B. It is idempotent
// when currentEpoch is unchanged: a second call with the same epoch is a
// no-op (elapsed == 0).
//
// Callers whose surrounding command still has preconditions left to check
// after the advance must use PreviewAccountLockup/ApplyLockupDelta instead
// of calling this directly, so a later rejection in the same command
// cannot leave this mutation committed by itself.
func AccountLockup(account *ledger.Account, currentEpoch uint64) LockupResult {
	delta := PreviewAccountLockup(account, currentEpoch)
	ApplyLockupDelta(account, delta)
	return delta.Result
}
