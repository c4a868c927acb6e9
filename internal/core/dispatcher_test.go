package core_test

import (
	"testing"

	"railledger/internal/arbiter"
	"railledger/internal/command"
	"railledger/internal/core"
	"railledger/internal/ledger"
	"railledger/internal/ledgererr"
	"railledger/internal/money"
)

func newTestDispatcher() (*core.Dispatcher, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 16)
	projectionChan := make(chan core.CoreOutput, 16)
	d := core.NewDispatcher(0, map[string]arbiter.Arbiter{}, persistChan, projectionChan, nil, nil, 1000)
	return d, persistChan, projectionChan
}

func TestDispatch_DepositAndWithdraw(t *testing.T) {
	d, persistChan, projectionChan := newTestDispatcher()

	_, err := d.Dispatch(&command.Deposit{
		Key: "dep-1", Seq: 0, EpochVal: 1,
		Token: "USDC", To: "alice", Amount: money.FromUint64(1000),
	})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	select {
	case out := <-persistChan:
		if out.Cmd.CommandType() != command.TypeDeposit {
			t.Errorf("persisted command type = %v, want Deposit", out.Cmd.CommandType())
		}
	default:
		t.Fatal("expected a persist-channel output for the deposit")
	}
	<-projectionChan

	_, err = d.Dispatch(&command.Withdraw{
		Key: "wd-1", Seq: 1, EpochVal: 1,
		Token: "USDC", Owner: "alice", Amount: money.FromUint64(400),
	})
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	acct := d.Store().GetAccount(ledger.AccountKey{Token: "USDC", Owner: "alice"})
	if acct.Funds.Cmp(money.FromUint64(600)) != 0 {
		t.Errorf("funds after deposit+withdraw = %s, want 600", acct.Funds)
	}
}

func TestDispatch_DuplicateIsSilentlyDropped(t *testing.T) {
	d, persistChan, projectionChan := newTestDispatcher()

	cmd := &command.Deposit{Key: "dep-dup", Seq: 0, EpochVal: 1, Token: "USDC", To: "alice", Amount: money.FromUint64(100)}
	if _, err := d.Dispatch(cmd); err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}
	<-persistChan
	<-projectionChan

	result, err := d.Dispatch(&command.Deposit{Key: "dep-dup", Seq: 1, EpochVal: 1, Token: "USDC", To: "alice", Amount: money.FromUint64(100)})
	if err != nil {
		t.Fatalf("duplicate dispatch should not error, got %v", err)
	}
	if result.RailID != 0 {
		t.Errorf("expected zero-value result for a dropped duplicate, got %+v", result)
	}

	select {
	case <-persistChan:
		t.Fatal("duplicate command should not be persisted")
	default:
	}

	acct := d.Store().GetAccount(ledger.AccountKey{Token: "USDC", Owner: "alice"})
	if acct.Funds.Cmp(money.FromUint64(100)) != 0 {
		t.Errorf("funds = %s, want 100 (duplicate must not double-apply)", acct.Funds)
	}
}

func TestDispatch_OutOfOrderSequenceIsRejected(t *testing.T) {
	d, _, _ := newTestDispatcher()

	_, err := d.Dispatch(&command.Deposit{Key: "dep-1", Seq: 5, EpochVal: 1, Token: "USDC", To: "alice", Amount: money.FromUint64(1)})
	if err == nil {
		t.Fatal("expected a sequence-gap rejection jumping straight to source sequence 5")
	}
}

func TestDispatch_CreateRailRequiresApproval(t *testing.T) {
	d, _, _ := newTestDispatcher()

	_, err := d.Dispatch(&command.CreateRail{
		Key: "rail-1", Seq: 0, EpochVal: 0,
		Token: "USDC", From: "alice", To: "bob", Operator: "op",
	})
	if !ledgererr.Is(err, ledgererr.KindOperatorNotApproved) {
		t.Fatalf("expected KindOperatorNotApproved, got %v", err)
	}
}

func TestDispatch_FullRailLifecycle(t *testing.T) {
	d, persistChan, projectionChan := newTestDispatcher()
	drain := func() { <-persistChan; <-projectionChan }

	if _, err := d.Dispatch(&command.ApproveOperator{
		Key: "appr-1", Seq: 0, EpochVal: 0,
		Token: "USDC", Payer: "alice", Operator: "op", Approved: true,
		RateAllowance: money.FromUint64(100), LockupAllowance: money.FromUint64(10000),
	}); err != nil {
		t.Fatalf("approve operator failed: %v", err)
	}
	drain()

	if _, err := d.Dispatch(&command.Deposit{
		Key: "dep-1", Seq: 0, EpochVal: 0, Token: "USDC", To: "alice", Amount: money.FromUint64(10000),
	}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drain()

	result, err := d.Dispatch(&command.CreateRail{
		Key: "rail-1", Seq: 1, EpochVal: 0,
		Token: "USDC", From: "alice", To: "bob", Operator: "op",
	})
	if err != nil {
		t.Fatalf("create rail failed: %v", err)
	}
	drain()
	railID := result.RailID

	if _, err := d.Dispatch(&command.ModifyRailPayment{
		Key: "mod-1", Seq: 0, EpochVal: 0,
		RailID: uint64(railID), Caller: "op", NewRate: money.FromUint64(10),
		OneTimePayment: money.Zero(),
	}); err != nil {
		t.Fatalf("modify rail payment failed: %v", err)
	}
	drain()

	settleResult, err := d.Dispatch(&command.SettleRail{
		Key: "settle-1", Seq: 1, EpochVal: 10, RailID: uint64(railID), UntilEpoch: 10,
	})
	if err != nil {
		t.Fatalf("settle rail failed: %v", err)
	}
	drain()

	if settleResult.Settlement.TotalSettled.Cmp(money.FromUint64(100)) != 0 {
		t.Errorf("total settled = %s, want 100 (rate 10 over 10 epochs)", settleResult.Settlement.TotalSettled)
	}

	payee := d.Store().GetAccount(ledger.AccountKey{Token: "USDC", Owner: "bob"})
	if payee.Funds.Cmp(money.FromUint64(100)) != 0 {
		t.Errorf("payee funds = %s, want 100", payee.Funds)
	}
}

func TestDispatch_StateHashChainsAcrossCommands(t *testing.T) {
	d, persistChan, projectionChan := newTestDispatcher()
	initial := d.GetStateHash()

	if _, err := d.Dispatch(&command.Deposit{Key: "dep-1", Seq: 0, EpochVal: 1, Token: "USDC", To: "alice", Amount: money.FromUint64(1)}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	<-persistChan
	<-projectionChan

	if d.GetStateHash() == initial {
		t.Error("state hash should advance after an applied command")
	}
}
