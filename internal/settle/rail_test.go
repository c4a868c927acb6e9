package settle_test

import (
	"testing"

	"railledger/internal/arbiter"
	"railledger/internal/ledger"
	"railledger/internal/ledgererr"
	"railledger/internal/money"
	"railledger/internal/settle"
)

func newFundedPair(funds, lockup uint64) (*ledger.Account, *ledger.Account) {
	payer := ledger.NewAccount(ledger.AccountKey{Token: "USDC", Owner: "alice"}, 0)
	payer.Funds = money.FromUint64(funds)
	payer.LockupCurrent = money.FromUint64(lockup)
	payee := ledger.NewAccount(ledger.AccountKey{Token: "USDC", Owner: "bob"}, 0)
	return payer, payee
}

func TestRail_UntilEpochAfterCurrentIsRejected(t *testing.T) {
	rail := &ledger.Rail{IsActive: true, PaymentRate: money.FromUint64(1), LockupPeriod: 1000}
	payer, payee := newFundedPair(1000, 1000)

	_, err := settle.Rail(rail, payer, payee, 20, 10, false, arbiter.NoOp{})
	if !ledgererr.Is(err, ledgererr.KindInvariantBroken) {
		t.Fatalf("expected KindInvariantBroken, got %v", err)
	}
}

func TestRail_InactiveRailIsNoop(t *testing.T) {
	rail := &ledger.Rail{IsActive: false, SettledUpTo: 5}
	payer, payee := newFundedPair(1000, 1000)

	result, err := settle.Rail(rail, payer, payee, 10, 10, false, arbiter.NoOp{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TotalSettled.IsZero() || result.FinalEpoch != 5 {
		t.Errorf("got %+v, want no-op at epoch 5", result)
	}
}

func TestRail_SettlesFullSegmentAtFixedRate(t *testing.T) {
	rail := &ledger.Rail{IsActive: true, PaymentRate: money.FromUint64(10), LockupPeriod: 1000}
	payer, payee := newFundedPair(1000, 1000)

	result, err := settle.Rail(rail, payer, payee, 10, 10, false, arbiter.NoOp{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalSettled.Cmp(money.FromUint64(100)) != 0 {
		t.Errorf("total settled = %s, want 100", result.TotalSettled)
	}
	if result.FinalEpoch != 10 {
		t.Errorf("final epoch = %d, want 10", result.FinalEpoch)
	}
	if payer.Funds.Cmp(money.FromUint64(900)) != 0 {
		t.Errorf("payer funds = %s, want 900", payer.Funds)
	}
	if payee.Funds.Cmp(money.FromUint64(100)) != 0 {
		t.Errorf("payee funds = %s, want 100", payee.Funds)
	}
}

func TestRail_ArbiterReducesSettlementWithinBounds(t *testing.T) {
	rail := &ledger.Rail{
		IsActive:     true,
		Arbiter:      "half",
		PaymentRate:  money.FromUint64(10),
		LockupPeriod: 1000,
	}
	payer, payee := newFundedPair(1000, 1000)

	result, err := settle.Rail(rail, payer, payee, 10, 10, false, arbiter.FixedFraction{Numerator: 1, Denominator: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalSettled.Cmp(money.FromUint64(50)) != 0 {
		t.Errorf("total settled = %s, want 50 (half of 100)", result.TotalSettled)
	}
}

func TestRail_ArbiterIsSkippedWhenRequested(t *testing.T) {
	rail := &ledger.Rail{
		IsActive:     true,
		Arbiter:      "half",
		PaymentRate:  money.FromUint64(10),
		LockupPeriod: 1000,
	}
	payer, payee := newFundedPair(1000, 1000)

	result, err := settle.Rail(rail, payer, payee, 10, 10, true, arbiter.FixedFraction{Numerator: 1, Denominator: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalSettled.Cmp(money.FromUint64(100)) != 0 {
		t.Errorf("total settled = %s, want 100 (arbitration skipped)", result.TotalSettled)
	}
}

func TestRail_InsufficientFundsIsRejected(t *testing.T) {
	rail := &ledger.Rail{IsActive: true, PaymentRate: money.FromUint64(10), LockupPeriod: 1000}
	payer, payee := newFundedPair(5, 5)

	_, err := settle.Rail(rail, payer, payee, 10, 10, false, arbiter.NoOp{})
	if !ledgererr.Is(err, ledgererr.KindInsufficientFunds) {
		t.Fatalf("expected KindInsufficientFunds, got %v", err)
	}
}

func TestRail_FinalizesOnceTerminationCapReached(t *testing.T) {
	rail := &ledger.Rail{
		IsActive:         true,
		TerminationEpoch: 5,
		LockupPeriod:     3,
		SettledUpTo:      8, // == MaxTerminationEpoch()
		LockupFixed:      money.FromUint64(20),
	}
	payer, payee := newFundedPair(1000, 50)

	result, err := settle.Rail(rail, payer, payee, 8, 8, false, arbiter.NoOp{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Note != "finalized" {
		t.Errorf("note = %q, want finalized", result.Note)
	}
	if rail.IsActive {
		t.Error("rail should be inactive after finalization")
	}
	if payer.LockupCurrent.Cmp(money.FromUint64(30)) != 0 {
		t.Errorf("payer lockup_current = %s, want 30 (50 - 20 lockup_fixed)", payer.LockupCurrent)
	}
}

func TestRail_RateChangeQueueSegmentsSettleInOrder(t *testing.T) {
	rail := &ledger.Rail{IsActive: true, PaymentRate: money.FromUint64(99), LockupPeriod: 1000}
	rail.RateChangeQueue.Enqueue(money.FromUint64(5), 10)

	payer, payee := newFundedPair(1000, 1000)

	result, err := settle.Rail(rail, payer, payee, 15, 15, false, arbiter.NoOp{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// First 10 epochs at rate 5 (queued), then 5 more at the current rate 99.
	want := money.FromUint64(5*10 + 99*5)
	if result.TotalSettled.Cmp(want) != 0 {
		t.Errorf("total settled = %s, want %s", result.TotalSettled, want)
	}
	if !rail.RateChangeQueue.IsEmpty() {
		t.Error("rate change queue should be drained after settling past its until_epoch")
	}
}
