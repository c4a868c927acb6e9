package core_test

import (
	"testing"

	"railledger/internal/core"
)

func TestSequenceValidator_AdvancesOnExpected(t *testing.T) {
	sv := core.NewSequenceValidator()

	if err := sv.ValidateSequence("rail:1", 0, "k0", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sv.GetExpectedSequence("rail:1"); got != 1 {
		t.Errorf("expected sequence = %d, want 1", got)
	}
}

func TestSequenceValidator_RejectsGap(t *testing.T) {
	sv := core.NewSequenceValidator()
	if err := sv.ValidateSequence("rail:1", 5, "k5", false); err == nil {
		t.Fatal("expected gap error jumping straight to sequence 5")
	}
}

func TestSequenceValidator_RejectsOutOfOrderNewCommand(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.SetExpectedSequence("rail:1", 3)

	if err := sv.ValidateSequence("rail:1", 1, "k1", false); err == nil {
		t.Fatal("expected out-of-order error for a new command below expected")
	}
}

func TestSequenceValidator_AllowsStaleDuplicate(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.SetExpectedSequence("rail:1", 3)

	if err := sv.ValidateSequence("rail:1", 1, "k1", true); err != nil {
		t.Fatalf("a duplicate below the expected sequence should not error, got %v", err)
	}
	if got := sv.GetExpectedSequence("rail:1"); got != 3 {
		t.Errorf("expected sequence should not advance for a stale duplicate, got %d", got)
	}
}

func TestSequenceValidator_PartitionsAreIndependent(t *testing.T) {
	sv := core.NewSequenceValidator()
	if err := sv.ValidateSequence("rail:1", 0, "a", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sv.ValidateSequence("rail:2", 0, "b", false); err != nil {
		t.Fatalf("partition rail:2 should start fresh at 0: %v", err)
	}
}

func TestSequenceValidator_SnapshotAndRestoreRoundTrip(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.SetExpectedSequence("rail:1", 7)
	sv.SetExpectedSequence("rail:2", 12)

	snap := sv.SnapshotState()

	restored := core.NewSequenceValidator()
	restored.RestoreState(snap)

	if got := restored.GetExpectedSequence("rail:1"); got != 7 {
		t.Errorf("rail:1 expected sequence = %d, want 7", got)
	}
	if got := restored.GetExpectedSequence("rail:2"); got != 12 {
		t.Errorf("rail:2 expected sequence = %d, want 12", got)
	}
}
