// Package arbiter defines the pluggable settlement-adjudication contract
// consulted by the rail settlement engine, plus two reference
// implementations. Modeled as a narrow interface with several small
// implementers, the same shape as the teacher's event.Event contract.
package arbiter

import "railledger/internal/money"

// Verdict is an arbiter's response to a proposed settlement of a single
// historical rate segment.
type Verdict struct {
	ModifiedAmount money.Amount
	SettleUpTo     uint64
	Note           string
}

// Arbiter is consulted during rail settlement to potentially reduce the
// amount or range being settled. Implementations must be treated as
// untrusted: the settlement engine validates every bound on the returned
// Verdict (§4.D, §5) before acting on it, and an arbiter must never
// re-enter the rail it is arbitrating.
type Arbiter interface {
	Arbitrate(railID uint64, proposedAmount money.Amount, fromEpoch, toEpoch uint64) (Verdict, error)
}

// NoOp always settles the full proposed amount over the full requested
// range. It is the default arbiter used whenever a rail has none
// configured, and the baseline every other arbiter is compared against.
type NoOp struct{}

func (NoOp) Arbitrate(_ uint64, proposedAmount money.Amount, _, toEpoch uint64) (Verdict, error) {
	return Verdict{ModifiedAmount: proposedAmount, SettleUpTo: toEpoch}, nil
}

// FixedFraction settles Numerator/Denominator of the proposed amount over
// the full requested range, unconditionally. Used in tests to exercise the
// arbiter-contract-validation path (§8 scenario 3) and as a worked
// example of a third-party-pluggable arbiter.
type FixedFraction struct {
	Numerator   uint64
	Denominator uint64
}

func (f FixedFraction) Arbitrate(_ uint64, proposedAmount money.Amount, _, toEpoch uint64) (Verdict, error) {
	if f.Denominator == 0 {
		return Verdict{}, nil
	}
	modified := proposedAmount.MulUint64(f.Numerator).DivUint64(f.Denominator)
	return Verdict{ModifiedAmount: modified, SettleUpTo: toEpoch, Note: "fixed-fraction"}, nil
}
