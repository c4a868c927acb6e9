package settle_test

import (
	"testing"

	"railledger/internal/ledger"
	"railledger/internal/money"
	"railledger/internal/settle"
)

func TestAccountLockup_NoElapsedEpochsIsNoop(t *testing.T) {
	acct := ledger.NewAccount(ledger.AccountKey{Token: "USDC", Owner: "alice"}, 10)
	acct.Funds = money.FromUint64(1000)
	acct.LockupRate = money.FromUint64(5)

	result := settle.AccountLockup(acct, 10)
	if !result.FullySettled || result.SettledUpTo != 10 {
		t.Errorf("got %+v, want fully settled at epoch 10", result)
	}
}

func TestAccountLockup_ZeroRateAdvancesWithoutAccrual(t *testing.T) {
	acct := ledger.NewAccount(ledger.AccountKey{Token: "USDC", Owner: "alice"}, 0)
	acct.Funds = money.FromUint64(1000)

	result := settle.AccountLockup(acct, 50)
	if !result.FullySettled || result.SettledUpTo != 50 {
		t.Errorf("got %+v, want fully settled at epoch 50", result)
	}
	if !acct.LockupCurrent.IsZero() {
		t.Errorf("lockup_current = %s, want 0", acct.LockupCurrent)
	}
}

func TestAccountLockup_SufficientFundsFullySettles(t *testing.T) {
	acct := ledger.NewAccount(ledger.AccountKey{Token: "USDC", Owner: "alice"}, 0)
	acct.Funds = money.FromUint64(1000)
	acct.LockupRate = money.FromUint64(10)

	result := settle.AccountLockup(acct, 20)
	if !result.FullySettled || result.SettledUpTo != 20 {
		t.Fatalf("got %+v, want fully settled at epoch 20", result)
	}
	if acct.LockupCurrent.Cmp(money.FromUint64(200)) != 0 {
		t.Errorf("lockup_current = %s, want 200", acct.LockupCurrent)
	}
}

func TestAccountLockup_InsufficientFundsTruncatesPartial(t *testing.T) {
	acct := ledger.NewAccount(ledger.AccountKey{Token: "USDC", Owner: "alice"}, 0)
	acct.Funds = money.FromUint64(35)
	acct.LockupRate = money.FromUint64(10)

	// Would require 200 over 20 epochs, only 35 available -> 3 whole epochs.
	result := settle.AccountLockup(acct, 20)
	if result.FullySettled {
		t.Fatal("expected partial settlement")
	}
	if result.SettledUpTo != 3 {
		t.Errorf("settled_up_to = %d, want 3", result.SettledUpTo)
	}
	if acct.LockupCurrent.Cmp(money.FromUint64(30)) != 0 {
		t.Errorf("lockup_current = %s, want 30", acct.LockupCurrent)
	}
}

func TestAccountLockup_ZeroAvailableMakesNoProgress(t *testing.T) {
	acct := ledger.NewAccount(ledger.AccountKey{Token: "USDC", Owner: "alice"}, 0)
	acct.Funds = money.FromUint64(10)
	acct.LockupCurrent = money.FromUint64(10)
	acct.LockupRate = money.FromUint64(5)

	result := settle.AccountLockup(acct, 10)
	if result.FullySettled {
		t.Fatal("expected no progress")
	}
	if result.SettledUpTo != 0 {
		t.Errorf("settled_up_to = %d, want 0 (unchanged)", result.SettledUpTo)
	}
}
