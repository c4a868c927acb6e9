// Package railctl implements the rail lifecycle controller (component E):
// the operations that create, reconfigure, and tear down rails and
// operator approvals, plus deposit/withdraw. Every exported method is a
// single command's worth of work and leaves the store either fully
// committed or untouched — never half-applied — so the command dispatcher
// (internal/core) can treat a returned error as a clean rejection.
package railctl

import (
	"railledger/internal/arbiter"
	"railledger/internal/ledger"
	"railledger/internal/ledgererr"
	"railledger/internal/money"
	"railledger/internal/settle"
)

// Controller wires the rail lifecycle operations to a store and an
// arbiter registry keyed by the name recorded on each rail.
type Controller struct {
	store    *ledger.Store
	arbiters map[string]arbiter.Arbiter
}

// New returns a Controller. arbiters may be nil; any rail whose Arbiter
// name is absent from the map (including the empty name) is treated as
// having no arbiter.
func New(store *ledger.Store, arbiters map[string]arbiter.Arbiter) *Controller {
	return &Controller{store: store, arbiters: arbiters}
}

func (c *Controller) resolveArbiter(name string) arbiter.Arbiter {
	if name == "" {
		return arbiter.NoOp{}
	}
	if a, ok := c.arbiters[name]; ok {
		return a
	}
	return arbiter.NoOp{}
}

// ResolveArbiter exposes arbiter resolution to the dispatcher, which needs
// it to settle a rail without duplicating the registry lookup.
func (c *Controller) ResolveArbiter(name string) arbiter.Arbiter {
	return c.resolveArbiter(name)
}

// ApproveOperator implements approve_operator / set_operator_approval: the
// payer grants (or revises) an operator's rate/lockup allowances.
func (c *Controller) ApproveOperator(token, payer, operator string, approved bool, rateAllowance, lockupAllowance money.Amount) {
	approval := c.store.GetOrCreateApproval(ledger.ApprovalKey{Token: token, Payer: payer, Operator: operator})
	approval.IsApproved = approved
	approval.RateAllowance = rateAllowance
	approval.LockupAllowance = lockupAllowance
}

// CreateRail implements create_rail (§4.E). currentEpoch is the epoch the
// surrounding command carries (§5: every command carries an epoch).
func (c *Controller) CreateRail(token, from, to, operator, arbiterName string, currentEpoch uint64) (ledger.RailID, error) {
	approval := c.store.GetApproval(ledger.ApprovalKey{Token: token, Payer: from, Operator: operator})
	if approval == nil || !approval.IsApproved {
		return 0, ledgererr.New(ledgererr.KindOperatorNotApproved,
			"operator %s not approved for payer %s token %s", operator, from, token)
	}

	rail := &ledger.Rail{
		Token:        token,
		From:         from,
		To:           to,
		Operator:     operator,
		Arbiter:      arbiterName,
		IsActive:     true,
		PaymentRate:  money.Zero(),
		LockupFixed:  money.Zero(),
		LockupPeriod: 0,
		SettledUpTo:  currentEpoch,
	}
	return c.store.CreateRail(rail), nil
}

// ModifyRailLockup implements modify_rail_lockup (§4.E).
func (c *Controller) ModifyRailLockup(railID ledger.RailID, caller string, period uint64, fixed money.Amount, currentEpoch uint64) error {
	rail := c.store.GetRail(railID)
	if rail == nil {
		return ledgererr.New(ledgererr.KindEntityMissing, "rail %d not found", railID)
	}
	if caller != rail.Operator {
		return ledgererr.New(ledgererr.KindAuthorizationDenied, "caller %s is not rail %d's operator", caller, railID)
	}

	payer := c.store.GetAccount(ledger.AccountKey{Token: rail.Token, Owner: rail.From})
	if payer == nil {
		return ledgererr.New(ledgererr.KindEntityMissing, "payer account %s:%s not found", rail.Token, rail.From)
	}

	// Preview, don't commit yet: every check below can still reject the
	// command, and a rejection must leave payer's lockup state untouched.
	lockupDelta := settle.PreviewAccountLockup(payer, currentEpoch)
	if !lockupDelta.Result.FullySettled {
		return ledgererr.New(ledgererr.KindLockupNotSettled, "client underfunded: rail %d payer not fully settled", railID)
	}

	if rail.TerminationEpoch != 0 {
		if period != rail.LockupPeriod {
			return ledgererr.New(ledgererr.KindTerminatedRailRestriction, "rail %d is terminated: lockup_period cannot change", railID)
		}
		if fixed.GreaterThan(rail.LockupFixed) {
			return ledgererr.New(ledgererr.KindTerminatedRailRestriction, "rail %d is terminated: lockup_fixed cannot increase", railID)
		}
	}

	oldTotal := rail.PaymentRate.MulUint64(rail.LockupPeriod).Add(rail.LockupFixed)
	newTotal := rail.PaymentRate.MulUint64(period).Add(fixed)

	newLockupCurrent := lockupDelta.LockupCurrent
	switch newTotal.Cmp(oldTotal) {
	case 1:
		delta, err := newTotal.Sub(oldTotal)
		if err != nil {
			return ledgererr.Wrap(ledgererr.KindArithmetic, err, "compute lockup delta")
		}
		newLockupCurrent = lockupDelta.LockupCurrent.Add(delta)
	case -1:
		delta := oldTotal.SatSub(newTotal)
		newLockupCurrent = lockupDelta.LockupCurrent.SatSub(delta)
	}
	if newLockupCurrent.GreaterThan(payer.Funds) {
		return ledgererr.New(ledgererr.KindInsufficientFunds,
			"rail %d: lockup_current %s would exceed funds %s", railID, newLockupCurrent, payer.Funds)
	}

	approval := c.store.GetOrCreateApproval(ledger.ApprovalKey{Token: rail.Token, Payer: rail.From, Operator: rail.Operator})
	if err := ledger.ValidateAndModifyLockupDelta(approval, oldTotal, newTotal); err != nil {
		return err
	}

	payer.LockupLastSettledAt = lockupDelta.LockupLastSettledAt
	payer.LockupCurrent = newLockupCurrent
	rail.LockupPeriod = period
	rail.LockupFixed = fixed
	return nil
}

// ModifyRailPayment implements modify_rail_payment (§4.E), the most
// involved command in the lifecycle controller.
func (c *Controller) ModifyRailPayment(railID ledger.RailID, caller string, newRate, oneTimePayment money.Amount, currentEpoch uint64) error {
	rail := c.store.GetRail(railID)
	if rail == nil {
		return ledgererr.New(ledgererr.KindEntityMissing, "rail %d not found", railID)
	}
	if caller != rail.Operator {
		return ledgererr.New(ledgererr.KindAuthorizationDenied, "caller %s is not rail %d's operator", caller, railID)
	}

	payerKey := ledger.AccountKey{Token: rail.Token, Owner: rail.From}
	payer := c.store.GetAccount(payerKey)
	if payer == nil {
		return ledgererr.New(ledgererr.KindEntityMissing, "payer account %s not found", payerKey)
	}
	payeeKey := ledger.AccountKey{Token: rail.Token, Owner: rail.To}
	livePayee := c.store.GetAccount(payeeKey)

	// Everything below operates on scratch copies of the rail, both
	// accounts and the operator approval. Any of the checks that follow can still reject this
	// command, so nothing is written back to the store until the end,
	// once every one of them has passed.
	scratchRail := *rail
	scratchPayer := *payer
	var scratchPayee ledger.Account
	if livePayee != nil {
		scratchPayee = *livePayee
	} else {
		scratchPayee = *ledger.NewAccount(payeeKey, currentEpoch)
	}

	oldRate := scratchRail.PaymentRate
	lockupRes := settle.AccountLockup(&scratchPayer, currentEpoch)

	if scratchRail.TerminationEpoch != 0 {
		if newRate.GreaterThan(oldRate) {
			return ledgererr.New(ledgererr.KindTerminatedRailRestriction, "rail %d is terminated: rate cannot increase", railID)
		}
		if oneTimePayment.GreaterThan(scratchRail.LockupFixed) {
			return ledgererr.New(ledgererr.KindTerminatedRailRestriction, "rail %d is terminated: one_time_payment exceeds lockup_fixed", railID)
		}
	}

	rateIncreasing := newRate.GreaterThan(oldRate)
	rateChanging := newRate.Cmp(oldRate) != 0

	if rateIncreasing && !(lockupRes.FullySettled && lockupRes.SettledUpTo == currentEpoch) {
		return ledgererr.New(ledgererr.KindLockupNotSettled, "rail %d: payer not fully settled to current epoch", railID)
	}
	if rateChanging && scratchRail.LockupPeriod > 0 && currentEpoch >= scratchPayer.LockupLastSettledAt+scratchRail.LockupPeriod {
		return ledgererr.New(ledgererr.KindDebtBlocked, "rail %d is in debt, rate cannot change", railID)
	}

	newLockupFixed := scratchRail.LockupFixed.SatSub(oneTimePayment)
	req := ledger.RateChangeRequest{
		OldRate:        oldRate,
		NewRate:        newRate,
		LockupPeriod:   scratchRail.LockupPeriod,
		OldLockupFixed: scratchRail.LockupFixed,
		NewLockupFixed: newLockupFixed,
		OneTimePayment: oneTimePayment,
	}
	approval := c.store.GetOrCreateApproval(ledger.ApprovalKey{Token: rail.Token, Payer: rail.From, Operator: rail.Operator})
	scratchApproval := *approval
	if err := ledger.ValidateAndModifyRateChange(&scratchApproval, req); err != nil {
		return err
	}

	if rateChanging {
		if scratchRail.Arbiter == "" {
			arb := c.resolveArbiter(scratchRail.Arbiter)
			res, err := settle.Rail(&scratchRail, &scratchPayer, &scratchPayee, currentEpoch, currentEpoch, false, arb)
			if err != nil {
				return err
			}
			if res.FinalEpoch != currentEpoch {
				return ledgererr.New(ledgererr.KindLockupNotSettled,
					"rail %d: settlement did not reach current epoch before rate change", railID)
			}
		} else {
			if head, ok := scratchRail.RateChangeQueue.Peek(); !ok || head.UntilEpoch != currentEpoch {
				scratchRail.RateChangeQueue.Enqueue(oldRate, currentEpoch)
			}
		}
	}

	var effectivePeriod uint64
	if elapsed := currentEpoch - scratchPayer.LockupLastSettledAt; scratchRail.LockupPeriod > elapsed {
		effectivePeriod = scratchRail.LockupPeriod - elapsed
	}

	required := oldRate.MulUint64(effectivePeriod).Add(oneTimePayment)
	if scratchPayer.LockupCurrent.LessThan(required) {
		return ledgererr.New(ledgererr.KindInsufficientLockup,
			"rail %d: lockup_current %s below required %s", railID, scratchPayer.LockupCurrent, required)
	}
	if scratchRail.LockupFixed.LessThan(oneTimePayment) {
		return ledgererr.New(ledgererr.KindInsufficientLockup,
			"rail %d: lockup_fixed %s below one_time_payment %s", railID, scratchRail.LockupFixed, oneTimePayment)
	}

	scratchRail.LockupFixed = newLockupFixed
	scratchRail.PaymentRate = newRate
	if scratchRail.TerminationEpoch == 0 {
		reduced, err := scratchPayer.LockupRate.Sub(oldRate)
		if err != nil {
			return ledgererr.Wrap(ledgererr.KindArithmetic, err, "rail %d: payer lockup_rate underflow", railID)
		}
		scratchPayer.LockupRate = reduced.Add(newRate)
	}

	var posAdj, negAdj money.Amount
	if newRate.GreaterThan(oldRate) {
		diff, _ := newRate.Sub(oldRate)
		posAdj = diff.MulUint64(effectivePeriod)
	} else if oldRate.GreaterThan(newRate) {
		diff, _ := oldRate.Sub(newRate)
		negAdj = diff.MulUint64(effectivePeriod)
	}
	negAdj = negAdj.Add(oneTimePayment)

	if posAdj.Cmp(negAdj) >= 0 {
		diff, err := posAdj.Sub(negAdj)
		if err != nil {
			return ledgererr.Wrap(ledgererr.KindArithmetic, err, "rail %d: lockup_current adjustment", railID)
		}
		scratchPayer.LockupCurrent = scratchPayer.LockupCurrent.Add(diff)
	} else {
		diff, err := negAdj.Sub(posAdj)
		if err != nil {
			return ledgererr.Wrap(ledgererr.KindArithmetic, err, "rail %d: lockup_current adjustment", railID)
		}
		reduced, err := scratchPayer.LockupCurrent.Sub(diff)
		if err != nil {
			return ledgererr.Wrap(ledgererr.KindInsufficientLockup, err, "rail %d: lockup_current underflow on adjustment", railID)
		}
		scratchPayer.LockupCurrent = reduced
	}

	reducedFunds, err := scratchPayer.Funds.Sub(oneTimePayment)
	if err != nil {
		return ledgererr.Wrap(ledgererr.KindInsufficientFunds, err, "rail %d: one_time_payment exceeds payer funds", railID)
	}
	scratchPayer.Funds = reducedFunds
	scratchPayee.Funds = scratchPayee.Funds.Add(oneTimePayment)

	if scratchPayer.LockupCurrent.GreaterThan(scratchPayer.Funds) {
		return ledgererr.New(ledgererr.KindInvariantBroken, "rail %d: lockup_current exceeds funds after modify_rail_payment", railID)
	}

	if newRate.LessThan(oldRate) {
		again := settle.AccountLockup(&scratchPayer, currentEpoch)
		if !again.FullySettled {
			return ledgererr.New(ledgererr.KindLockupNotSettled, "rail %d: payer not fully settled after rate decrease", railID)
		}
	}

	// Every precondition passed: commit the scratch copies back.
	*rail = scratchRail
	*payer = scratchPayer
	*approval = scratchApproval
	if livePayee == nil {
		livePayee = c.store.GetOrCreateAccount(payeeKey, currentEpoch)
	}
	*livePayee = scratchPayee
	return nil
}

// TerminateRail implements terminate_rail (§4.E).
func (c *Controller) TerminateRail(railID ledger.RailID, caller string, currentEpoch uint64) error {
	rail := c.store.GetRail(railID)
	if rail == nil {
		return ledgererr.New(ledgererr.KindEntityMissing, "rail %d not found", railID)
	}
	if caller != rail.From && caller != rail.Operator && caller != rail.To {
		return ledgererr.New(ledgererr.KindAuthorizationDenied, "caller %s may not terminate rail %d", caller, railID)
	}
	if rail.TerminationEpoch != 0 {
		return ledgererr.New(ledgererr.KindTerminatedRailRestriction, "rail %d is already terminating", railID)
	}

	payer := c.store.GetAccount(ledger.AccountKey{Token: rail.Token, Owner: rail.From})
	if payer == nil {
		if !rail.PaymentRate.IsZero() {
			return ledgererr.New(ledgererr.KindEntityMissing, "payer account for rail %d not found", railID)
		}
		// No account means no lockup_rate to reduce for a zero-rate rail.
		rail.TerminationEpoch = currentEpoch
		return nil
	}

	reduced, err := payer.LockupRate.Sub(rail.PaymentRate)
	if err != nil {
		return ledgererr.Wrap(ledgererr.KindArithmetic, err, "rail %d: payer lockup_rate underflow on termination", railID)
	}
	payer.LockupRate = reduced
	rail.TerminationEpoch = currentEpoch
	return nil
}

// TerminateOperator implements terminate_operator (§4.E).
func (c *Controller) TerminateOperator(token, payer, operator string) {
	approval := c.store.GetOrCreateApproval(ledger.ApprovalKey{Token: token, Payer: payer, Operator: operator})
	approval.RateAllowance = money.Zero()
	approval.LockupAllowance = money.Zero()
	approval.IsApproved = false
}

// Deposit implements deposit (§4.E): credits funds, then folds any
// deferred lockup into lockup_current so the account's invariants hold
// immediately after.
func (c *Controller) Deposit(token, to string, amount money.Amount, currentEpoch uint64) {
	account := c.store.GetOrCreateAccount(ledger.AccountKey{Token: token, Owner: to}, currentEpoch)
	account.Funds = account.Funds.Add(amount)
	settle.AccountLockup(account, currentEpoch)
}

// Withdraw implements withdraw (§4.E).
func (c *Controller) Withdraw(token, owner string, amount money.Amount, currentEpoch uint64) error {
	key := ledger.AccountKey{Token: token, Owner: owner}
	account := c.store.GetAccount(key)
	if account == nil {
		return ledgererr.New(ledgererr.KindEntityMissing, "account %s not found", key)
	}

	lockupDelta := settle.PreviewAccountLockup(account, currentEpoch)
	if !lockupDelta.Result.FullySettled {
		return ledgererr.New(ledgererr.KindLockupNotSettled, "account %s not fully settled", key)
	}

	available, err := account.Funds.Sub(lockupDelta.LockupCurrent)
	if err != nil {
		// LockupCurrent > Funds would violate I1; unreachable once the
		// lockup settler has run.
		available = money.Zero()
	}
	if available.LessThan(amount) {
		return ledgererr.New(ledgererr.KindInsufficientFunds, "account %s: available %s below withdrawal %s", key, available, amount)
	}

	reduced, err := account.Funds.Sub(amount)
	if err != nil {
		return ledgererr.Wrap(ledgererr.KindArithmetic, err, "account %s: funds underflow on withdraw", key)
	}

	settle.ApplyLockupDelta(account, lockupDelta)
	account.Funds = reduced
	return nil
}
