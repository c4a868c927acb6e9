package ledger

import (
	"railledger/internal/ledgererr"
	"railledger/internal/money"
)

// RateChangeRequest is the delta a rail modification proposes, as consumed
// by the operator approval accountant (component C, §4.C).
type RateChangeRequest struct {
	OldRate        money.Amount
	NewRate        money.Amount
	LockupPeriod   uint64
	OldLockupFixed money.Amount
	NewLockupFixed money.Amount
	OneTimePayment money.Amount
}

// ValidateAndModifyRateChange admits or rejects a proposed rate/lockup
// change against an operator's allowances, and mutates approval.RateUsage /
// approval.LockupUsage in place on success. On a rejected change the
// approval is left untouched — callers must not call this until every
// other precondition for the surrounding command has already passed.
func ValidateAndModifyRateChange(approval *OperatorApproval, req RateChangeRequest) error {
	if req.OneTimePayment.GreaterThan(req.OldLockupFixed) {
		return ledgererr.New(ledgererr.KindInsufficientLockup,
			"one_time_payment %s exceeds rail lockup_fixed %s", req.OneTimePayment, req.OldLockupFixed)
	}

	oldTotal := req.OldRate.MulUint64(req.LockupPeriod).Add(req.OldLockupFixed)
	newTotal := req.NewRate.MulUint64(req.LockupPeriod).Add(req.NewLockupFixed)

	// Compute both deltas against both allowances before mutating either
	// usage field — a rejection on the second check must leave the first
	// field's usage exactly as it was.
	newLockupUsage, err := checkDelta(approval.LockupUsage, approval.LockupAllowance, oldTotal, newTotal)
	if err != nil {
		return err
	}
	newRateUsage, err := checkDelta(approval.RateUsage, approval.RateAllowance, req.OldRate, req.NewRate)
	if err != nil {
		return err
	}

	approval.LockupUsage = newLockupUsage
	approval.RateUsage = newRateUsage
	return nil
}

// ValidateAndModifyLockupDelta admits or rejects a lockup-only change
// (modify_rail_lockup, where period or fixed changes but the payment rate
// does not) against lockup_allowance, per §4.C's closing note that such
// changes "follow the same delta logic against lockup_allowance".
func ValidateAndModifyLockupDelta(approval *OperatorApproval, oldTotal, newTotal money.Amount) error {
	newUsage, err := checkDelta(approval.LockupUsage, approval.LockupAllowance, oldTotal, newTotal)
	if err != nil {
		return err
	}
	approval.LockupUsage = newUsage
	return nil
}

// checkDelta implements the shared increase/decrease rule from §4.C:
// increases require headroom against the allowance; decreases saturate-
// subtract from usage even if usage is already above a since-reduced
// allowance, because the commitment being released was honored under the
// old allowance. It returns the would-be new usage without mutating
// anything, so callers can validate every delta a command touches before
// committing any of them.
func checkDelta(usage, allowance, oldVal, newVal money.Amount) (money.Amount, error) {
	switch newVal.Cmp(oldVal) {
	case 1: // increase
		delta, err := newVal.Sub(oldVal)
		if err != nil {
			return usage, ledgererr.Wrap(ledgererr.KindArithmetic, err, "compute allowance delta")
		}
		projected := usage.Add(delta)
		if projected.GreaterThan(allowance) {
			return usage, ledgererr.New(ledgererr.KindAllowanceExceeded,
				"usage %s + delta %s exceeds allowance %s", usage, delta, allowance)
		}
		return projected, nil
	case -1: // decrease
		delta := oldVal.SatSub(newVal)
		return usage.SatSub(delta), nil
	}
	return usage, nil
}
