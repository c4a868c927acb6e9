package settle

import (
	"railledger/internal/arbiter"
	"railledger/internal/ledger"
	"railledger/internal/ledgererr"
	"railledger/internal/money"
)

// RailResult mirrors settle_rail's return value (§4.D).
type RailResult struct {
	TotalSettled money.Amount
	FinalEpoch   uint64
	Note         string
}

// Rail advances rail.SettledUpTo through zero or more historical rate
// segments, transferring funds from payer to payee and reducing payer's
// lockup, consulting arb when the rail has one and skipArbitration is
// false. payer and payee must be the accounts keyed by rail.From/rail.To
// respectively; the caller (rail lifecycle controller) is responsible for
// having looked them up and for holding the per-rail modification lock.
func Rail(rail *ledger.Rail, payer, payee *ledger.Account, untilEpoch, currentEpoch uint64, skipArbitration bool, arb arbiter.Arbiter) (RailResult, error) {
	if untilEpoch > currentEpoch {
		return RailResult{}, ledgererr.New(ledgererr.KindInvariantBroken,
			"settle_rail: until_epoch %d exceeds current_epoch %d", untilEpoch, currentEpoch)
	}
	if !rail.IsActive {
		return RailResult{TotalSettled: money.Zero(), FinalEpoch: rail.SettledUpTo, Note: "inactive"}, nil
	}

	// Everything below operates on scratch copies of rail/payer/payee —
	// a per-segment arbiter or funds error must leave the live entities
	// exactly as they were, even if earlier segments in this same call
	// already made progress.
	scratchRail := *rail
	scratchPayer := *payer
	scratchPayee := *payee

	isTerminating := scratchRail.TerminationEpoch > 0
	maxTerm := scratchRail.MaxTerminationEpoch()

	if isTerminating && scratchRail.SettledUpTo >= maxTerm {
		finalized, err := finalizeRail(&scratchRail, &scratchPayer)
		if err != nil {
			return RailResult{}, err
		}
		*rail = scratchRail
		*payer = scratchPayer
		return finalized, nil
	}
	if isTerminating && untilEpoch > maxTerm {
		untilEpoch = maxTerm
	}

	AccountLockup(&scratchPayer, currentEpoch)

	target := untilEpoch
	if cap := scratchPayer.LockupLastSettledAt + scratchRail.LockupPeriod; cap < target {
		target = cap
	}
	if isTerminating && maxTerm < target {
		target = maxTerm
	}

	if scratchRail.SettledUpTo >= target {
		*payer = scratchPayer
		return RailResult{TotalSettled: money.Zero(), FinalEpoch: scratchRail.SettledUpTo, Note: "already settled"}, nil
	}

	if scratchRail.PaymentRate.IsZero() && scratchRail.RateChangeQueue.IsEmpty() {
		scratchRail.SettledUpTo = target
		*rail = scratchRail
		*payer = scratchPayer
		return RailResult{TotalSettled: money.Zero(), FinalEpoch: target, Note: "zero-rate"}, nil
	}

	result, err := settleSegments(&scratchRail, &scratchPayer, &scratchPayee, target, skipArbitration, arb)
	if err != nil {
		return RailResult{}, err
	}
	*rail = scratchRail
	*payer = scratchPayer
	*payee = scratchPayee
	return result, nil
}

func finalizeRail(rail *ledger.Rail, payer *ledger.Account) (RailResult, error) {
	remaining, err := payer.LockupCurrent.Sub(rail.LockupFixed)
	if err != nil {
		return RailResult{}, ledgererr.Wrap(ledgererr.KindInsufficientLockup, err,
			"finalize rail %d: lockup_current below lockup_fixed", rail.ID)
	}
	payer.LockupCurrent = remaining
	rail.LockupFixed = money.Zero()
	rail.PaymentRate = money.Zero()
	rail.IsActive = false
	return RailResult{TotalSettled: money.Zero(), FinalEpoch: rail.SettledUpTo, Note: "finalized"}, nil
}

func settleSegments(rail *ledger.Rail, payer, payee *ledger.Account, target uint64, skipArbitration bool, arb arbiter.Arbiter) (RailResult, error) {
	processed := rail.SettledUpTo
	total := money.Zero()

	for processed < target {
		var segmentEnd uint64
		var segmentRate money.Amount
		fromQueue := false

		if next, ok := rail.RateChangeQueue.Peek(); ok {
			if next.UntilEpoch < processed {
				return RailResult{}, ledgererr.New(ledgererr.KindInvariantBroken,
					"rail %d: rate-change queue head until_epoch %d precedes processed %d", rail.ID, next.UntilEpoch, processed)
			}
			segmentEnd = min64(target, next.UntilEpoch)
			segmentRate = next.Rate
			fromQueue = true
		} else {
			segmentEnd = target
			segmentRate = rail.PaymentRate
			if segmentRate.IsZero() {
				rail.SettledUpTo = target
				return RailResult{TotalSettled: total, FinalEpoch: target, Note: "zero-rate"}, nil
			}
		}

		settled, settleUpTo, err := settleSegment(rail, payer, payee, processed, segmentEnd, segmentRate, skipArbitration, arb)
		if err != nil {
			return RailResult{}, err
		}
		total = total.Add(settled)
		rail.SettledUpTo = settleUpTo

		if settleUpTo == processed {
			return RailResult{TotalSettled: total, FinalEpoch: rail.SettledUpTo, Note: "arbiter-no-progress"}, nil
		}
		if settleUpTo < segmentEnd {
			return RailResult{TotalSettled: total, FinalEpoch: rail.SettledUpTo, Note: "partial"}, nil
		}
		if fromQueue {
			rail.RateChangeQueue.Dequeue()
		}
		processed = settleUpTo
	}

	return RailResult{TotalSettled: total, FinalEpoch: rail.SettledUpTo, Note: "settled"}, nil
}

// settleSegment implements §4.D step 3: compute the proposed amount for
// one historical segment, optionally arbitrate it, validate the verdict's
// bounds, and move funds.
func settleSegment(rail *ledger.Rail, payer, payee *ledger.Account, fromEpoch, toEpoch uint64, rate money.Amount, skipArbitration bool, arb arbiter.Arbiter) (money.Amount, uint64, error) {
	proposed := rate.MulUint64(toEpoch - fromEpoch)
	settleUpTo := toEpoch
	modified := proposed

	if rail.Arbiter != "" && !skipArbitration {
		verdict, err := arb.Arbitrate(uint64(rail.ID), proposed, fromEpoch, toEpoch)
		if err != nil {
			return money.Amount{}, 0, ledgererr.Wrap(ledgererr.KindArbiterContractViolation, err, "rail %d: arbiter call failed", rail.ID)
		}
		if verdict.SettleUpTo < fromEpoch || verdict.SettleUpTo > toEpoch {
			return money.Amount{}, 0, ledgererr.New(ledgererr.KindArbiterContractViolation,
				"rail %d: arbiter settle_upto %d out of range [%d,%d]", rail.ID, verdict.SettleUpTo, fromEpoch, toEpoch)
		}
		maxAllowed := rate.MulUint64(verdict.SettleUpTo - fromEpoch)
		if verdict.ModifiedAmount.GreaterThan(maxAllowed) {
			return money.Amount{}, 0, ledgererr.New(ledgererr.KindArbiterContractViolation,
				"rail %d: arbiter modified_amount %s exceeds max allowed %s", rail.ID, verdict.ModifiedAmount, maxAllowed)
		}
		settleUpTo = verdict.SettleUpTo
		modified = verdict.ModifiedAmount
	}

	if payer.Funds.LessThan(modified) {
		return money.Amount{}, 0, ledgererr.New(ledgererr.KindInsufficientFunds,
			"rail %d: payer funds %s below settlement amount %s", rail.ID, payer.Funds, modified)
	}
	if payer.LockupCurrent.LessThan(modified) {
		return money.Amount{}, 0, ledgererr.New(ledgererr.KindInsufficientLockup,
			"rail %d: payer lockup_current %s below settlement amount %s", rail.ID, payer.LockupCurrent, modified)
	}

	remainingFunds, err := payer.Funds.Sub(modified)
	if err != nil {
		return money.Amount{}, 0, ledgererr.Wrap(ledgererr.KindArithmetic, err, "rail %d: funds underflow", rail.ID)
	}
	remainingLockup, err := payer.LockupCurrent.Sub(modified)
	if err != nil {
		return money.Amount{}, 0, ledgererr.Wrap(ledgererr.KindArithmetic, err, "rail %d: lockup underflow", rail.ID)
	}

	payer.Funds = remainingFunds
	payer.LockupCurrent = remainingLockup
	payee.Funds = payee.Funds.Add(modified)

	return modified, settleUpTo, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
